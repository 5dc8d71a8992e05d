package worker

import (
	"context"
	"errors"
	"time"

	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/lease"
	"github.com/blockshred/blockshred/pkg/log"
	"github.com/blockshred/blockshred/pkg/metrics"
	"github.com/blockshred/blockshred/pkg/types"
)

// completionPass elects a completion leader for jobs whose local work is
// done, waits for every participant to report linked blocks, and performs
// the DFS-level delete. Jobs parked in stage2leaderactive by a crashed
// leader are resumed once that leader's lease lapses. A cancelled context
// aborts the pass and surfaces the context error; a terminated invocation
// resumes from the recorded statuses next time.
func (a *Agent) completionPass(ctx context.Context) error {
	for _, status := range []types.MasterStatus{types.Stage2CopyBlocks, types.Stage2LeaderActive} {
		jobs, err := a.store.JobsByStatus(status)
		if err != nil {
			return err
		}
		for _, jobID := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := a.runCompletion(ctx, jobID, status); err != nil {
				a.logger.Error().Err(err).Str("job_id", jobID).Msg("completion pass failed")
			}
		}
	}
	return nil
}

func (a *Agent) runCompletion(ctx context.Context, jobID string, status types.MasterStatus) error {
	jobLog := log.WithJobID(a.logger, jobID)

	// Only a participant whose own blocks are all preserved may stand for
	// completion leadership.
	wl, err := a.store.ReadWorklist(jobID, a.id)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !wl.All(types.BlockLinked) {
		return nil
	}

	// The lease path is shared with discovery; by the time any worklist is
	// fully linked at least one worker cadence has passed, so the discovery
	// lease has lapsed. The status gate above keeps a late discovery leader
	// from colliding regardless.
	err = a.leases.Acquire(jobID, a.id, 2*a.cfg.WorkerSleep())
	if errors.Is(err, lease.ErrHeld) {
		metrics.LeaseContentionTotal.Inc()
		jobLog.Info().Msg("completion led by another worker")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := a.leases.Release(jobID, a.id); err != nil {
			jobLog.Warn().Err(err).Msg("failed to release completion lease")
		}
	}()

	if status == types.Stage2CopyBlocks {
		if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage2LeaderActive); err != nil {
			return err
		}
	}

	if err := a.awaitParticipants(ctx, jobID); err != nil {
		return err
	}

	if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage2ReadyForDelete); err != nil {
		return err
	}
	if err := a.store.RemoveData(jobID); err != nil {
		return err
	}
	if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage2FilesDeleted); err != nil {
		return err
	}
	if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage2Complete); err != nil {
		return err
	}
	if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage3Shredding); err != nil {
		return err
	}

	jobLog.Info().Msg("payload deleted, job handed to shredders")
	return nil
}

// awaitParticipants polls every participant's worklist until all blocks are
// linked. A participant that makes no progress for the stall threshold is
// flagged for operators but never fenced: waiting is both the safe and the
// correct action, since its blocks cannot be deleted out from under it.
func (a *Agent) awaitParticipants(ctx context.Context, jobID string) error {
	jobLog := log.WithJobID(a.logger, jobID)

	participants, err := a.store.Participants(jobID)
	if err != nil {
		return err
	}

	lastLinked := make(map[string]int, len(participants))
	lastProgress := make(map[string]time.Time, len(participants))
	flagged := make(map[string]bool, len(participants))
	start := a.now()
	for _, p := range participants {
		lastProgress[p] = start
		lastLinked[p] = -1
	}

	for {
		waiting := 0
		for _, p := range participants {
			pwl, err := a.store.ReadWorklist(jobID, p)
			if err != nil {
				jobLog.Warn().Err(err).Str("data_node", p).Msg("participant worklist unreadable")
				waiting++
				continue
			}

			linked := pwl.Count(types.BlockLinked)
			if linked > lastLinked[p] {
				lastLinked[p] = linked
				lastProgress[p] = a.now()
				flagged[p] = false
			}
			if pwl.All(types.BlockLinked) {
				continue
			}
			waiting++

			if !flagged[p] && a.now().Sub(lastProgress[p]) > a.cfg.StallThreshold() {
				flagged[p] = true
				metrics.StalledPeersTotal.Inc()
				jobLog.Warn().Str("data_node", p).
					Dur("stalled_for", a.now().Sub(lastProgress[p])).
					Msg("participant stalled, waiting for operator")
			}
		}

		if waiting == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
}
