package shredder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blockshred/blockshred/pkg/config"
	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/log"
	"github.com/blockshred/blockshred/pkg/metrics"
	"github.com/blockshred/blockshred/pkg/types"
)

// Agent destroys the preserved block replicas on one data node. It needs no
// lease: every node shreds only its own worklist, and the files it touches
// live in shred directories nothing else writes to.
type Agent struct {
	cfg     *config.Config
	store   *jobstore.Store
	journal *Journal
	prim    Primitive
	id      string
	logger  zerolog.Logger

	// Seam for tests; production enumerates /proc/self/mounts.
	mounts func() ([]string, error)
}

// New builds a shredder agent. workerID must match the identity the worker
// agent wrote this node's worklists under.
func New(cfg *config.Config, store *jobstore.Store, journal *Journal, prim Primitive, workerID string) *Agent {
	return &Agent{
		cfg:     cfg,
		store:   store,
		journal: journal,
		prim:    prim,
		id:      workerID,
		logger:  log.WithWorkerID(log.WithComponent("shredder"), workerID),
		mounts:  listMounts,
	}
}

// Run executes one shredder invocation over every job handed off by the
// workers. Per-job failures are logged and retried on the next invocation.
func (a *Agent) Run(ctx context.Context) error {
	jobs, err := a.store.JobsByStatus(types.Stage3Shredding)
	if err != nil {
		return err
	}
	for _, jobID := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.runShred(ctx, jobID); err != nil {
			a.logger.Error().Err(err).Str("job_id", jobID).Msg("shred pass failed")
		}
	}
	return nil
}

func (a *Agent) runShred(ctx context.Context, jobID string) error {
	jobLog := log.WithJobID(a.logger, jobID)

	wl, err := a.store.ReadWorklist(jobID, a.id)
	if errors.Is(err, jobstore.ErrNotFound) {
		// This data node held no replicas for the job.
		return nil
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, block := range wl.Blocks() {
		state := wl[block]
		if state != types.BlockLinked && state != types.BlockShredding {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// The shredding marker must be on the DFS before the primitive runs.
		// The primitive unlinks the file, so a crash mid-shred is only
		// distinguishable from "never started" by this record.
		if state == types.BlockLinked {
			wl[block] = types.BlockShredding
			if err := a.store.WriteWorklist(jobID, a.id, wl); err != nil {
				return err
			}
			state = types.BlockShredding
		}

		if err := a.shredBlock(ctx, jobID, block); err != nil {
			failed++
			metrics.ShredFailuresTotal.Inc()
			jobLog.Error().Err(err).Str("block_id", block).Msg("block not shredded")
			continue
		}

		wl[block] = types.BlockShredded
		if err := a.store.WriteWorklist(jobID, a.id, wl); err != nil {
			return err
		}
		jobLog.Debug().Str("block_id", block).Msg("block shredded")
	}

	if failed > 0 || !wl.All(types.BlockShredded) {
		return nil
	}

	if err := a.store.SetStatus(jobID, a.id, types.Stage3Complete); err != nil {
		return err
	}
	if err := a.journal.DropJob(jobID); err != nil {
		jobLog.Warn().Err(err).Msg("failed to prune journal")
	}
	jobLog.Info().Int("blocks", len(wl)).Msg("local shredding complete")
	return nil
}

// shredBlock destroys the preserved hardlink for one block marked shredding.
func (a *Agent) shredBlock(ctx context.Context, jobID, block string) error {
	done, err := a.journal.Done(jobID, block)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	links, err := a.findLinks(block)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		// Marked shredding, journal silent, file gone. The primitive unlinks
		// only after its final pass succeeded, so the previous invocation
		// finished the overwrite and died before journaling.
		jobLog := log.WithJobID(a.logger, jobID)
		jobLog.Warn().Str("block_id", block).Msg("preserved link already gone, recording as shredded")
		return a.journal.MarkDone(jobID, block)
	}

	for _, p := range links {
		if err := a.prim.Shred(ctx, p); err != nil {
			return err
		}
	}
	if err := a.journal.MarkDone(jobID, block); err != nil {
		return err
	}
	metrics.BlocksShreddedTotal.Inc()
	return nil
}

// findLinks locates the block's preserved hardlink in the shred directory of
// every local mount.
func (a *Agent) findLinks(block string) ([]string, error) {
	mounts, err := a.mounts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate mounts: %w", err)
	}

	var links []string
	for _, m := range mounts {
		p := filepath.Join(m, a.cfg.LocalShredSubdir, block)
		fi, err := os.Lstat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if fi.Mode().IsRegular() {
			links = append(links, p)
		}
	}
	return links, nil
}

// listMounts returns the mount points of every mounted filesystem.
func listMounts() ([]string, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		mp := unescapeMount(fields[1])
		if !seen[mp] {
			seen[mp] = true
			points = append(points, mp)
		}
	}
	return points, sc.Err()
}

// unescapeMount decodes the octal escapes /proc uses for whitespace in
// mount points.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			v := (s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0')
			b.WriteByte(v)
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
