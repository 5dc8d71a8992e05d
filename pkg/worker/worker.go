package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockshred/blockshred/pkg/config"
	"github.com/blockshred/blockshred/pkg/fsck"
	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/lease"
	"github.com/blockshred/blockshred/pkg/log"
	"github.com/blockshred/blockshred/pkg/metrics"
	"github.com/blockshred/blockshred/pkg/types"
)

// Agent drives jobs through block discovery, block preservation, and
// completion on one data node. Every data node runs the same agent on a
// cron-class cadence; leadership for the per-job leader stages is decided by
// the lease store, everything else is per-node work on the node's own
// worklist.
type Agent struct {
	cfg    *config.Config
	store  *jobstore.Store
	leases *lease.Store
	oracle fsck.Runner
	id     string
	logger zerolog.Logger

	// Seams for tests; production uses the defaults from New.
	mountOf      func(string) (string, error)
	pollInterval time.Duration
	now          func() time.Time
}

// New builds a worker agent with the given handles. workerID must be the
// identity the block-location oracle uses for this node.
func New(cfg *config.Config, store *jobstore.Store, leases *lease.Store, oracle fsck.Runner, workerID string) *Agent {
	return &Agent{
		cfg:          cfg,
		store:        store,
		leases:       leases,
		oracle:       oracle,
		id:           workerID,
		logger:       log.WithWorkerID(log.WithComponent("worker"), workerID),
		mountOf:      MountPoint,
		pollInterval: 30 * time.Second,
		now:          time.Now,
	}
}

// Run executes one worker invocation: discovery, preserve, completion, and
// finalize passes, in that order. Per-job failures are logged and do not
// abort other jobs; only failures to enumerate the job store fail the
// invocation.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.discoveryPass(ctx); err != nil {
		return err
	}
	if err := a.preservePass(ctx); err != nil {
		return err
	}
	if err := a.completionPass(ctx); err != nil {
		return err
	}
	return a.finalizePass(ctx)
}

// discoveryPass leads freshly-ingested jobs through blocklist preparation.
// Jobs parked in stage2prepareBlocklist by a crashed leader are restarted
// from scratch once that leader's lease lapses; worklist and status writes
// are overwrites, so the restart is idempotent.
func (a *Agent) discoveryPass(ctx context.Context) error {
	for _, status := range []types.MasterStatus{types.Stage1Complete, types.Stage2PrepareBlocklist} {
		jobs, err := a.store.JobsByStatus(status)
		if err != nil {
			return err
		}
		for _, jobID := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := a.runDiscovery(jobID); err != nil {
				a.logger.Error().Err(err).Str("job_id", jobID).Msg("discovery failed")
			}
		}
	}
	return nil
}

func (a *Agent) runDiscovery(jobID string) error {
	jobLog := log.WithJobID(a.logger, jobID)

	err := a.leases.Acquire(jobID, a.id, a.cfg.WorkerSleep())
	if errors.Is(err, lease.ErrHeld) {
		metrics.LeaseContentionTotal.Inc()
		jobLog.Info().Msg("discovery led by another worker")
		return nil
	}
	if err != nil {
		return err
	}
	// The lease is left to expire naturally; the stage2copyblocks status
	// written below is what hands the job to the preserve pass.

	if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage2PrepareBlocklist); err != nil {
		return err
	}

	files, err := a.store.DataFiles(jobID)
	if err != nil {
		return err
	}

	report := make(fsck.Report)
	for _, f := range files {
		r, err := a.locateBlocks(f)
		if err != nil {
			return err
		}
		report.Merge(r)
	}
	if len(report) == 0 {
		return fmt.Errorf("oracle reported no block locations for job %s", jobID)
	}

	for _, node := range report.DataNodes() {
		wl := make(types.Worklist)
		for _, block := range report[node] {
			wl[block] = types.BlockNew
		}
		if err := a.store.WriteWorklist(jobID, node, wl); err != nil {
			return err
		}
		metrics.BlocksDiscoveredTotal.Add(float64(len(wl)))
		jobLog.Debug().Str("data_node", node).Int("blocks", len(wl)).Msg("worklist written")
	}

	if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage2CopyBlocks); err != nil {
		return err
	}
	jobLog.Info().Int("data_nodes", len(report)).Msg("block discovery complete")
	return nil
}

func (a *Agent) locateBlocks(target string) (fsck.Report, error) {
	stream, err := a.oracle.Run(target)
	if err != nil {
		return nil, fmt.Errorf("block-location oracle failed for %s: %w", target, err)
	}
	defer stream.Close()

	report, err := fsck.Parse(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oracle output for %s: %w", target, err)
	}
	return report, nil
}
