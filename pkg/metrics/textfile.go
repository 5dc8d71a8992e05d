package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/common/expfmt"
)

// WriteTextfile exports the registry in text exposition format to
// {dir}/blockshred-{mode}.prom, the layout node_exporter's textfile
// collector expects. Agents call it once at the end of an invocation; an
// empty dir disables the export. Write + rename keeps the collector from
// scraping a half-written file.
func WriteTextfile(dir, mode string) error {
	if dir == "" {
		return nil
	}

	mfs, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	final := filepath.Join(dir, fmt.Sprintf("blockshred-%s.prom", mode))
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create metrics textfile: %w", err)
	}

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, final)
}
