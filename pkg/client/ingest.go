package client

import (
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blockshred/blockshred/pkg/dfs"
	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/log"
	"github.com/blockshred/blockshred/pkg/metrics"
	"github.com/blockshred/blockshred/pkg/types"
)

// Ingestor takes custody of one target file per invocation and emits a job
// for the workers to pick up.
type Ingestor struct {
	store  *jobstore.Store
	dfs    dfs.Client
	logger zerolog.Logger

	newID func() string // uuid.NewString, overridable in tests
}

// New returns an Ingestor writing through the given job store.
func New(store *jobstore.Store, client dfs.Client) *Ingestor {
	return &Ingestor{
		store:  store,
		dfs:    client,
		logger: log.WithComponent("client"),
		newID:  uuid.NewString,
	}
}

// Ingest validates the target, creates the job record, and renames the
// target into the job's data directory. The rename is the capability check:
// there is no separate ACL inspection, the DFS's own permission model
// decides whether the invoking user may shred the file. On a failed rename
// the half-created job is removed so nothing is left behind.
//
// Returns the new job ID.
func (in *Ingestor) Ingest(target string) (string, error) {
	abs, err := in.validate(target)
	if err != nil {
		metrics.IngestFailuresTotal.Inc()
		return "", err
	}

	jobID := in.newID()
	jobLog := log.WithJobID(in.logger, jobID).With().Str("target", abs).Logger()

	if err := in.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage1Init); err != nil {
		return "", err
	}
	if err := in.store.SetStatus(jobID, jobstore.ComponentData, types.Stage1Init); err != nil {
		return "", err
	}
	if err := in.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage1Ingest); err != nil {
		return "", err
	}
	if err := in.store.SetStatus(jobID, jobstore.ComponentData, types.Stage1Ingest); err != nil {
		return "", err
	}

	if err := in.store.EnsureDataDir(jobID); err != nil {
		return "", fmt.Errorf("failed to create data dir for %s: %w", jobID, err)
	}

	dest := path.Join(in.store.DataDir(jobID), path.Base(abs))
	if err := in.dfs.Rename(abs, dest); err != nil {
		metrics.IngestFailuresTotal.Inc()
		jobLog.Error().Err(err).Msg("capability check failed, cleaning up job")
		if cleanupErr := in.store.RemoveJob(jobID); cleanupErr != nil {
			jobLog.Error().Err(cleanupErr).Msg("failed to clean up partial job")
		}
		return "", fmt.Errorf("failed to take custody of %s (missing permission?): %w", abs, err)
	}

	if err := in.store.SetStatus(jobID, jobstore.ComponentData, types.Stage1IngestComplete); err != nil {
		return "", err
	}
	if err := in.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage1Complete); err != nil {
		return "", err
	}

	metrics.JobsIngestedTotal.Inc()
	jobLog.Info().Msg("job created")
	return jobID, nil
}

// validate canonicalizes the target and rejects anything that is not an
// existing plain file.
func (in *Ingestor) validate(target string) (string, error) {
	if !path.IsAbs(target) {
		return "", fmt.Errorf("target %q must be an absolute DFS path", target)
	}
	abs := path.Clean(target)

	fi, err := in.dfs.Stat(abs)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("target %s: file not found", abs)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat target %s: %w", abs, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("target %s is a directory", abs)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("target %s is not a regular file", abs)
	}
	return abs, nil
}
