package lease

import (
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory znode table with ZooKeeper's create/set/delete
// version semantics.
type fakeConn struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode
}

type fakeNode struct {
	data    []byte
	version int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{nodes: make(map[string]*fakeNode)}
}

func (f *fakeConn) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[path] = &fakeNode{data: append([]byte(nil), data...)}
	return path, nil
}

func (f *fakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return append([]byte(nil), n.data...), &zk.Stat{Version: n.version}, nil
}

func (f *fakeConn) Set(path string, data []byte, version int32) (*zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[path]
	if !ok {
		return nil, zk.ErrNoNode
	}
	if n.version != version {
		return nil, zk.ErrBadVersion
	}
	n.data = append([]byte(nil), data...)
	n.version++
	return &zk.Stat{Version: n.version}, nil
}

func (f *fakeConn) Delete(path string, version int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[path]
	if !ok {
		return zk.ErrNoNode
	}
	if version >= 0 && n.version != version {
		return zk.ErrBadVersion
	}
	delete(f.nodes, path)
	return nil
}

func (f *fakeConn) Close() {}

func newTestStore(t *testing.T) (*Store, *fakeConn, *time.Time) {
	t.Helper()
	conn := newFakeConn()
	s := NewWithConn(conn, "/blockshred/leases")
	require.NoError(t, s.ensureRoot())

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, conn, &now
}

func TestAcquireFree(t *testing.T) {
	s, _, _ := newTestStore(t)

	assert.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))
}

func TestAcquireContention(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))
	assert.ErrorIs(t, s.Acquire("job-1", "10.0.0.2", 5*time.Minute), ErrHeld)
}

func TestAcquireIndependentJobs(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))
	assert.NoError(t, s.Acquire("job-2", "10.0.0.2", 5*time.Minute))
}

func TestReacquireBySameHolderExtends(t *testing.T) {
	s, _, now := newTestStore(t)

	require.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))

	// Same holder may re-acquire (idempotent leader restart within the TTL).
	*now = now.Add(2 * time.Minute)
	require.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))

	// The extension pushed the expiry past the original TTL.
	*now = now.Add(4 * time.Minute)
	assert.ErrorIs(t, s.Acquire("job-1", "10.0.0.2", 5*time.Minute), ErrHeld)
}

func TestAcquireAfterExpiry(t *testing.T) {
	s, _, now := newTestStore(t)

	require.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))

	*now = now.Add(6 * time.Minute)
	assert.NoError(t, s.Acquire("job-1", "10.0.0.2", 5*time.Minute))

	// The original holder lost it.
	assert.ErrorIs(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute), ErrHeld)
}

func TestRelease(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))
	require.NoError(t, s.Release("job-1", "10.0.0.1"))

	assert.NoError(t, s.Acquire("job-1", "10.0.0.2", 5*time.Minute))
}

func TestReleaseNotHolder(t *testing.T) {
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Acquire("job-1", "10.0.0.1", 5*time.Minute))

	// Releasing someone else's lease is a no-op, not an error.
	require.NoError(t, s.Release("job-1", "10.0.0.2"))
	assert.ErrorIs(t, s.Acquire("job-1", "10.0.0.3", 5*time.Minute), ErrHeld)
}

func TestReleaseMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.NoError(t, s.Release("job-1", "10.0.0.1"))
}

func TestAtMostOneWinner(t *testing.T) {
	s, _, now := newTestStore(t)

	// Seed an expired lease, then let many holders race for the takeover.
	require.NoError(t, s.Acquire("job-1", "old-holder", time.Minute))
	*now = now.Add(2 * time.Minute)

	var wg sync.WaitGroup
	wins := make(chan string, 8)
	for i := 0; i < 8; i++ {
		holder := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire("job-1", holder, 5*time.Minute); err == nil {
				wins <- holder
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	assert.Len(t, winners, 1)
}
