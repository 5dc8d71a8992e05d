package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/log"
	"github.com/blockshred/blockshred/pkg/metrics"
	"github.com/blockshred/blockshred/pkg/types"
)

// preservePass hardlinks this node's block replicas out of the DFS's
// lifecycle for every job in the copy stage.
func (a *Agent) preservePass(ctx context.Context) error {
	jobs, err := a.store.JobsByStatus(types.Stage2CopyBlocks)
	if err != nil {
		return err
	}
	for _, jobID := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.runPreserve(jobID); err != nil {
			a.logger.Error().Err(err).Str("job_id", jobID).Msg("preserve pass failed")
		}
	}
	return nil
}

func (a *Agent) runPreserve(jobID string) error {
	jobLog := log.WithJobID(a.logger, jobID)

	wl, err := a.store.ReadWorklist(jobID, a.id)
	if errors.Is(err, jobstore.ErrNotFound) {
		// This data node holds no replicas for the job.
		jobLog.Debug().Msg("no worklist for this node")
		return nil
	}
	if err != nil {
		return err
	}

	changed := false
	for _, block := range wl.Blocks() {
		state := wl[block]
		if state != types.BlockNew && state != types.BlockFinding && state != types.BlockLinking {
			continue
		}

		next, err := a.preserveBlock(jobLog, block, state)
		if err != nil {
			// Per-block failure: record whatever progress was made and move
			// on. The next pass retries from the recorded state.
			jobLog.Error().Err(err).Str("block_id", block).Msg("block not preserved")
		}
		if next != state {
			wl[block] = next
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return a.store.WriteWorklist(jobID, a.id, wl)
}

// preserveBlock advances one block as far as it can in this pass:
// new → finding → linking → linked. It returns the state the block ended in.
func (a *Agent) preserveBlock(jobLog zerolog.Logger, block string, state types.BlockState) (types.BlockState, error) {
	if state == types.BlockNew {
		state = types.BlockFinding
	}

	// Both finding and a linking state recovered from a crashed pass need
	// the block file's local path, so the search runs for either.
	matches, err := findBlockFiles(a.cfg.BlockSearchRoot, a.cfg.LocalShredSubdir, block)
	if err != nil {
		return state, fmt.Errorf("failed to search for block %s: %w", block, err)
	}
	switch len(matches) {
	case 1:
	case 0:
		metrics.BlockSearchFailuresTotal.WithLabelValues("none").Inc()
		return state, fmt.Errorf("block %s not found under %s", block, a.cfg.BlockSearchRoot)
	default:
		// Shredding the wrong file is the one unrecoverable mistake this
		// system can make; ambiguity stops the block until an operator looks.
		metrics.BlockSearchFailuresTotal.WithLabelValues("multiple").Inc()
		return state, fmt.Errorf("block %s matched %d local files, refusing to guess", block, len(matches))
	}
	src := matches[0]
	state = types.BlockLinking

	mount, err := a.mountOf(src)
	if err != nil {
		return state, fmt.Errorf("failed to resolve mount point of %s: %w", src, err)
	}
	shredDir := filepath.Join(mount, a.cfg.LocalShredSubdir)
	if err := os.MkdirAll(shredDir, 0700); err != nil {
		return state, fmt.Errorf("failed to create %s: %w", shredDir, err)
	}

	linkPath := filepath.Join(shredDir, block)
	if err := os.Link(src, linkPath); err != nil {
		if !os.IsExist(err) {
			return state, fmt.Errorf("failed to hardlink %s: %w", src, err)
		}
		same, sameErr := sameInode(src, linkPath)
		if sameErr != nil {
			return state, sameErr
		}
		if !same {
			return state, fmt.Errorf("%s exists but is not a link to %s", linkPath, src)
		}
		// Already preserved by an earlier pass.
	} else {
		metrics.BlocksPreservedTotal.Inc()
	}

	jobLog.Debug().Str("block_id", block).Str("link", linkPath).Msg("block preserved")
	return types.BlockLinked, nil
}

// findBlockFiles walks the local search root for files named exactly like
// the block. Directories named like the shred subdir are skipped so our own
// preserved hardlinks never count as matches; unreadable subtrees are
// skipped rather than failing the whole search.
func findBlockFiles(root, shredSubdir, block string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return fs.SkipDir
		}
		if d.IsDir() {
			if d.Name() == shredSubdir {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() == block && d.Type().IsRegular() {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func sameInode(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}

// MountPoint walks up from p until the parent directory lives on a
// different device, yielding the filesystem boundary inside which hardlinks
// to p's inode are valid.
func MountPoint(p string) (string, error) {
	p, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		p = filepath.Dir(p)
		if fi, err = os.Stat(p); err != nil {
			return "", err
		}
	}

	dev := devOf(fi)
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return p, nil
		}
		pfi, err := os.Stat(parent)
		if err != nil {
			return "", err
		}
		if devOf(pfi) != dev {
			return p, nil
		}
		p = parent
	}
}

func devOf(fi os.FileInfo) uint64 {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(st.Dev)
}
