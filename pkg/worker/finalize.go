package worker

import (
	"context"
	"errors"

	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/types"
)

// finalizePass promotes jobs to stage3complete once every participating
// data node's shredder has reported its local pass done, then archives the
// record. Any worker may perform the check; the promotion is idempotent.
func (a *Agent) finalizePass(ctx context.Context) error {
	jobs, err := a.store.JobsByStatus(types.Stage3Shredding)
	if err != nil {
		return err
	}
	for _, jobID := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.runFinalize(jobID); err != nil {
			a.logger.Error().Err(err).Str("job_id", jobID).Msg("finalize pass failed")
		}
	}
	return nil
}

func (a *Agent) runFinalize(jobID string) error {
	participants, err := a.store.Participants(jobID)
	if err != nil {
		return err
	}
	if len(participants) == 0 {
		return nil
	}

	for _, p := range participants {
		st, err := a.store.GetStatus(jobID, p)
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil // shredder on p has not finished
		}
		if err != nil {
			return err
		}
		if st != types.Stage3Complete {
			return nil
		}
	}

	if err := a.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage3Complete); err != nil {
		return err
	}
	if err := a.store.Archive(jobID); err != nil {
		return err
	}
	a.logger.Info().Str("job_id", jobID).Msg("job complete")
	return nil
}
