package shredder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Journal records which blocks this node has already destroyed. The shred
// primitive unlinks the file it overwrites, so after a crash the journal is
// the only local evidence that a missing link means "done" and not "never
// preserved". One bucket per job, one key per block.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// Done reports whether the block was already shredded for the job.
func (j *Journal) Done(jobID, blockID string) (bool, error) {
	var done bool
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(jobID))
		if b == nil {
			return nil
		}
		done = b.Get([]byte(blockID)) != nil
		return nil
	})
	return done, err
}

// MarkDone durably records that the block was shredded for the job.
func (j *Journal) MarkDone(jobID, blockID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(jobID))
		if err != nil {
			return err
		}
		return b.Put([]byte(blockID), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

// DropJob removes every record for the job after its completion is reported
// to the job store.
func (j *Journal) DropJob(jobID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(jobID)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(jobID))
	})
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
