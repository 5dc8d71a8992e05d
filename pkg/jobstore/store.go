package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blockshred/blockshred/pkg/dfs"
	"github.com/blockshred/blockshred/pkg/log"
	"github.com/blockshred/blockshred/pkg/metrics"
	"github.com/blockshred/blockshred/pkg/types"
)

// ComponentMaster and ComponentData address the two job-level status tracks.
// Any other component string is treated as a worker ID.
const (
	ComponentMaster = "master"
	ComponentData   = "data"
)

var (
	// ErrNotFound marks a status or worklist that does not exist yet.
	ErrNotFound = errors.New("not found")

	// ErrStatusRegression marks an attempt to move a master status
	// backwards through the canonical sequence.
	ErrStatusRegression = errors.New("status regression")
)

// Store is the durable job record kept as a directory tree on the DFS.
// Every data node reads and writes it through the same layout:
//
//	{root}/jobs/{job_id}                        master status token
//	{root}/store/{job_id}/status                data status token
//	{root}/store/{job_id}/data/                 ingested payload
//	{root}/store/{job_id}/{worker_id}/worklist  block_id → state, JSON
//	{root}/store/{job_id}/{worker_id}/status    per-worker status token
//	{root}/completed/{job_id}/                  archived terminal jobs
//
// Status writes are atomic from a reader's viewpoint: temp file + rename.
type Store struct {
	dfs    dfs.Client
	root   string
	logger zerolog.Logger

	retryBase int // milliseconds; overridable in tests
}

// New returns a Store rooted at the configured DFS shred root.
func New(client dfs.Client, root string) *Store {
	return &Store{
		dfs:       client,
		root:      path.Clean(root),
		logger:    log.WithComponent("jobstore"),
		retryBase: defaultRetryBaseMillis,
	}
}

func (s *Store) masterPath(jobID string) string {
	return path.Join(s.root, "jobs", jobID)
}

// StoreDir is the per-job directory holding the payload, worklists, and
// per-worker status files.
func (s *Store) StoreDir(jobID string) string {
	return path.Join(s.root, "store", jobID)
}

// DataDir is where the ingested payload lives until the completion leader
// deletes it.
func (s *Store) DataDir(jobID string) string {
	return path.Join(s.root, "store", jobID, "data")
}

func (s *Store) statusPath(jobID, component string) string {
	switch component {
	case ComponentMaster:
		return s.masterPath(jobID)
	case ComponentData:
		return path.Join(s.StoreDir(jobID), "status")
	default:
		return path.Join(s.StoreDir(jobID), component, "status")
	}
}

func (s *Store) worklistPath(jobID, workerID string) string {
	return path.Join(s.StoreDir(jobID), workerID, "worklist")
}

// SetStatus writes a status token for the given component. Master status is
// guarded against regression: a write earlier in the canonical sequence than
// the current token fails with ErrStatusRegression. Rewriting the current
// token is allowed (idempotent restarts depend on it).
func (s *Store) SetStatus(jobID, component string, status types.MasterStatus) error {
	if !status.Valid() {
		return fmt.Errorf("refusing to write unknown status token %q", status)
	}

	if component == ComponentMaster {
		current, err := s.GetStatus(jobID, ComponentMaster)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to read current master status for %s: %w", jobID, err)
		}
		if err == nil && status.Before(current) {
			return fmt.Errorf("job %s: %s after %s: %w", jobID, status, current, ErrStatusRegression)
		}
	}

	p := s.statusPath(jobID, component)
	if err := s.withRetry(func() error {
		return s.dfs.MkdirAll(path.Dir(p), 0755)
	}); err != nil {
		return fmt.Errorf("failed to prepare status dir for %s/%s: %w", jobID, component, err)
	}
	if err := s.writeFileAtomic(p, []byte(status)); err != nil {
		return fmt.Errorf("failed to write status %s for %s/%s: %w", status, jobID, component, err)
	}

	if component == ComponentMaster {
		metrics.StageTransitionsTotal.WithLabelValues(string(status)).Inc()
	}
	s.logger.Debug().Str("job_id", jobID).Str("status_component", component).
		Str("status", string(status)).Msg("status written")
	return nil
}

// GetStatus reads and validates a component's status token. A missing status
// file reports ErrNotFound.
func (s *Store) GetStatus(jobID, component string) (types.MasterStatus, error) {
	var data []byte
	err := s.withRetry(func() error {
		var err error
		data, err = s.dfs.ReadFile(s.statusPath(jobID, component))
		return err
	})
	if os.IsNotExist(err) {
		return "", fmt.Errorf("status for %s/%s: %w", jobID, component, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status for %s/%s: %w", jobID, component, err)
	}
	return types.ParseMasterStatus(strings.TrimSpace(string(data)))
}

// JobsByStatus enumerates the jobs directory and returns the IDs whose
// master status equals target. A job store that does not exist yet is empty,
// not an error. Records that vanish mid-scan (concurrent archival) are
// skipped; records with unparseable tokens are logged and skipped so one
// corrupt job cannot block the rest of the pass.
func (s *Store) JobsByStatus(target types.MasterStatus) ([]string, error) {
	var entries []os.FileInfo
	err := s.withRetry(func() error {
		var err error
		entries, err = s.dfs.ReadDir(path.Join(s.root, "jobs"))
		return err
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var jobs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		status, err := s.GetStatus(jobID, ComponentMaster)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("skipping job with unreadable status")
			continue
		}
		if status == target {
			jobs = append(jobs, jobID)
		}
	}
	return jobs, nil
}

// ReadWorklist loads the worklist a worker owns for a job. Absence means the
// data node holds no replicas for the job and reports ErrNotFound.
func (s *Store) ReadWorklist(jobID, workerID string) (types.Worklist, error) {
	var data []byte
	err := s.withRetry(func() error {
		var err error
		data, err = s.dfs.ReadFile(s.worklistPath(jobID, workerID))
		return err
	})
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("worklist for %s/%s: %w", jobID, workerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read worklist for %s/%s: %w", jobID, workerID, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse worklist for %s/%s: %w", jobID, workerID, err)
	}
	wl := make(types.Worklist, len(raw))
	for block, state := range raw {
		st, err := types.ParseBlockState(state)
		if err != nil {
			return nil, fmt.Errorf("worklist for %s/%s, block %s: %w", jobID, workerID, block, err)
		}
		wl[block] = st
	}
	return wl, nil
}

// WriteWorklist replaces a worker's worklist. Only the worker whose ID names
// the file may call this; the completion leader just reads.
func (s *Store) WriteWorklist(jobID, workerID string, wl types.Worklist) error {
	data, err := json.Marshal(wl)
	if err != nil {
		return fmt.Errorf("failed to encode worklist for %s/%s: %w", jobID, workerID, err)
	}

	p := s.worklistPath(jobID, workerID)
	if err := s.withRetry(func() error {
		return s.dfs.MkdirAll(path.Dir(p), 0755)
	}); err != nil {
		return fmt.Errorf("failed to prepare worker dir for %s/%s: %w", jobID, workerID, err)
	}
	if err := s.writeFileAtomic(p, data); err != nil {
		return fmt.Errorf("failed to write worklist for %s/%s: %w", jobID, workerID, err)
	}
	return nil
}

// Participants lists the worker IDs that own a worklist for the job, i.e.
// the data nodes holding at least one replica of one of its blocks.
func (s *Store) Participants(jobID string) ([]string, error) {
	var entries []os.FileInfo
	err := s.withRetry(func() error {
		var err error
		entries, err = s.dfs.ReadDir(s.StoreDir(jobID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants for %s: %w", jobID, err)
	}

	var workers []string
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() != "data" {
			workers = append(workers, entry.Name())
		}
	}
	return workers, nil
}

// DataFiles lists the DFS paths of the job's ingested payload files.
func (s *Store) DataFiles(jobID string) ([]string, error) {
	var entries []os.FileInfo
	err := s.withRetry(func() error {
		var err error
		entries, err = s.dfs.ReadDir(s.DataDir(jobID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payload for %s: %w", jobID, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, path.Join(s.DataDir(jobID), entry.Name()))
		}
	}
	return files, nil
}

// EnsureDataDir creates the per-job payload directory for ingest.
func (s *Store) EnsureDataDir(jobID string) error {
	return s.withRetry(func() error {
		return s.dfs.MkdirAll(s.DataDir(jobID), 0700)
	})
}

// RemoveData deletes the ingested payload, bypassing the trash. After this
// the preserved hardlinks are the only remaining references to the blocks.
func (s *Store) RemoveData(jobID string) error {
	err := s.withRetry(func() error {
		return s.dfs.Remove(s.DataDir(jobID))
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete payload for %s: %w", jobID, err)
	}
	return nil
}

// RemoveJob deletes every trace of a job. Used by ingest to clean up after a
// failed capability check so no half-created job is left behind.
func (s *Store) RemoveJob(jobID string) error {
	if err := s.dfs.Remove(s.StoreDir(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove store dir for %s: %w", jobID, err)
	}
	if err := s.dfs.Remove(s.masterPath(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove master record for %s: %w", jobID, err)
	}
	return nil
}

// Archive moves a terminal job's record under completed/. The master token
// file becomes {completed}/{job}/master so the audit trail survives.
func (s *Store) Archive(jobID string) error {
	dest := path.Join(s.root, "completed", jobID)
	if err := s.withRetry(func() error {
		return s.dfs.MkdirAll(path.Join(s.root, "completed"), 0755)
	}); err != nil {
		return fmt.Errorf("failed to prepare completed dir: %w", err)
	}
	if err := s.withRetry(func() error {
		return s.dfs.Rename(s.StoreDir(jobID), dest)
	}); err != nil {
		return fmt.Errorf("failed to archive store dir for %s: %w", jobID, err)
	}
	if err := s.withRetry(func() error {
		return s.dfs.Rename(s.masterPath(jobID), path.Join(dest, "master"))
	}); err != nil {
		return fmt.Errorf("failed to archive master record for %s: %w", jobID, err)
	}
	s.logger.Info().Str("job_id", jobID).Msg("job archived")
	return nil
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// a partial token.
func (s *Store) writeFileAtomic(p string, data []byte) error {
	tmp := p + ".tmp"
	if err := s.withRetry(func() error {
		return s.dfs.CreateFile(tmp, data)
	}); err != nil {
		return err
	}
	return s.withRetry(func() error {
		return s.dfs.Rename(tmp, p)
	})
}
