package shredder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Primitive destroys one local file beyond recovery.
type Primitive interface {
	Shred(ctx context.Context, path string) error
}

// CommandPrimitive shells out to shred(1). The flags force permission
// changes if needed, overwrite for the configured pass count, add a final
// zero pass to hide the shredding, and unlink the file afterwards.
type CommandPrimitive struct {
	Passes int
}

func (p *CommandPrimitive) Shred(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "shred", "-f", "-n", strconv.Itoa(p.Passes), "-u", "-z", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shred of %s failed: %w: %s", path, err, bytes.TrimSpace(out))
	}
	return nil
}
