package lease

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"

	"github.com/blockshred/blockshred/pkg/log"
)

// ErrHeld means another worker currently holds the lease. Expected under
// contention; callers skip the job for this invocation.
var ErrHeld = errors.New("lease held by another worker")

// Conn is the slice of the ZooKeeper client the lease store uses. *zk.Conn
// satisfies it; tests provide an in-memory fake.
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Delete(path string, version int32) error
	Close()
}

// Store hands out time-bounded, exclusive, per-job leases. The lease znode
// carries only an ownership token (holder identity plus expiry), never
// durable job data; everything durable lives in the job store.
type Store struct {
	conn   Conn
	root   string
	logger zerolog.Logger
	now    func() time.Time
}

// record is the JSON payload of a lease znode.
type record struct {
	Holder  string    `json:"holder"`
	Expires time.Time `json:"expires"`
}

// Dial connects to the ZooKeeper ensemble and ensures the lease root exists.
func Dial(hosts []string, root string) (*Store, error) {
	conn, _, err := zk.Connect(hosts, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lease store: %w", err)
	}

	s := NewWithConn(conn, root)
	if err := s.ensureRoot(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewWithConn wraps an existing connection. The caller keeps ownership of
// root creation when using this constructor directly.
func NewWithConn(conn Conn, root string) *Store {
	return &Store{
		conn:   conn,
		root:   path.Clean(root),
		logger: log.WithComponent("lease"),
		now:    time.Now,
	}
}

func (s *Store) ensureRoot() error {
	parts := strings.Split(strings.Trim(s.root, "/"), "/")
	p := ""
	for _, part := range parts {
		p += "/" + part
		_, err := s.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create lease root %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) leasePath(jobID string) string {
	return path.Join(s.root, jobID)
}

// Acquire takes the job's lease for ttl, non-blocking. It succeeds when no
// lease exists, the existing lease has expired, or the caller already holds
// it (re-acquisition extends the expiry). Any live lease held by someone
// else reports ErrHeld immediately.
func (s *Store) Acquire(jobID, holder string, ttl time.Duration) error {
	data, err := json.Marshal(record{Holder: holder, Expires: s.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("failed to encode lease record: %w", err)
	}
	p := s.leasePath(jobID)

	// Two rounds: one to observe, one for the case where the znode vanished
	// (a Release) between observation and write. Losing both races means
	// live contention.
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.conn.Create(p, data, 0, zk.WorldACL(zk.PermAll))
		if err == nil {
			s.logger.Debug().Str("job_id", jobID).Str("holder", holder).Msg("lease acquired")
			return nil
		}
		if !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create lease for %s: %w", jobID, err)
		}

		current, stat, err := s.conn.Get(p)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read lease for %s: %w", jobID, err)
		}

		var rec record
		if err := json.Unmarshal(current, &rec); err != nil {
			return fmt.Errorf("corrupt lease record for %s: %w", jobID, err)
		}

		if rec.Holder != holder && rec.Expires.After(s.now()) {
			return ErrHeld
		}

		// Our own lease, or an expired one: take it over in place under the
		// znode version guard. Overwriting instead of delete+create keeps
		// the version history continuous, so two workers racing for the
		// same expired lease resolve to exactly one winner.
		if _, err := s.conn.Set(p, data, stat.Version); err != nil {
			if errors.Is(err, zk.ErrBadVersion) {
				return ErrHeld
			}
			if errors.Is(err, zk.ErrNoNode) {
				continue
			}
			return fmt.Errorf("failed to take over lease for %s: %w", jobID, err)
		}
		s.logger.Debug().Str("job_id", jobID).Str("holder", holder).Msg("lease acquired")
		return nil
	}
	return ErrHeld
}

// Release drops the lease if the caller still holds it. Best effort: a lease
// that already expired or changed hands is left alone, matching the design
// where leases are usually allowed to lapse naturally.
func (s *Store) Release(jobID, holder string) error {
	p := s.leasePath(jobID)

	current, stat, err := s.conn.Get(p)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lease for %s: %w", jobID, err)
	}

	var rec record
	if err := json.Unmarshal(current, &rec); err != nil {
		return fmt.Errorf("corrupt lease record for %s: %w", jobID, err)
	}
	if rec.Holder != holder {
		return nil
	}

	err = s.conn.Delete(p, stat.Version)
	if err != nil && !errors.Is(err, zk.ErrNoNode) && !errors.Is(err, zk.ErrBadVersion) {
		return fmt.Errorf("failed to release lease for %s: %w", jobID, err)
	}
	return nil
}

// Close shuts down the underlying connection.
func (s *Store) Close() {
	s.conn.Close()
}
