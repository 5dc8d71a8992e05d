package worker

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockshred/blockshred/pkg/config"
	"github.com/blockshred/blockshred/pkg/dfs/dfstest"
	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/lease"
	"github.com/blockshred/blockshred/pkg/types"
)

const oracleReport = `FSCK started by hdfs from /10.0.0.10 for path /x at Tue Aug 25 10:14:13 UTC 2026
0. BP-1-10.0.0.10-1:blk_100_11 len=1060 repl=3 [DatanodeInfoWithStorage[10.0.0.1:1019,DS-a,DISK], DatanodeInfoWithStorage[10.0.0.2:1019,DS-b,DISK], DatanodeInfoWithStorage[10.0.0.3:1019,DS-c,DISK]]
Status: HEALTHY
`

// fakeOracle replays a canned fsck report and records invocations.
type fakeOracle struct {
	report  string
	targets []string
}

func (f *fakeOracle) Run(target string) (io.ReadCloser, error) {
	f.targets = append(f.targets, target)
	return io.NopCloser(strings.NewReader(f.report)), nil
}

// fakeZK is a minimal in-memory lease.Conn.
type fakeZK struct {
	mu    sync.Mutex
	nodes map[string][]byte
	vers  map[string]int32
}

func newFakeZK() *fakeZK {
	return &fakeZK{nodes: map[string][]byte{}, vers: map[string]int32{}}
}

func (f *fakeZK) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[path] = data
	f.vers[path] = 0
	return path, nil
}

func (f *fakeZK) Get(path string) ([]byte, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return data, &zk.Stat{Version: f.vers[path]}, nil
}

func (f *fakeZK) Set(path string, data []byte, version int32) (*zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; !ok {
		return nil, zk.ErrNoNode
	}
	if f.vers[path] != version {
		return nil, zk.ErrBadVersion
	}
	f.nodes[path] = data
	f.vers[path]++
	return &zk.Stat{Version: f.vers[path]}, nil
}

func (f *fakeZK) Delete(path string, version int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; !ok {
		return zk.ErrNoNode
	}
	if version >= 0 && f.vers[path] != version {
		return zk.ErrBadVersion
	}
	delete(f.nodes, path)
	delete(f.vers, path)
	return nil
}

func (f *fakeZK) Close() {}

type testHarness struct {
	mem    *dfstest.MemClient
	store  *jobstore.Store
	leases *lease.Store
	oracle *fakeOracle
	cfg    *config.Config
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	mem := dfstest.New()
	cfg := config.Default()
	cfg.BlockSearchRoot = t.TempDir()
	return &testHarness{
		mem:    mem,
		store:  jobstore.New(mem, "/.shred"),
		leases: lease.NewWithConn(newFakeZK(), "/leases"),
		oracle: &fakeOracle{report: oracleReport},
		cfg:    cfg,
	}
}

func (h *testHarness) agent(t *testing.T, id string) *Agent {
	t.Helper()
	a := New(h.cfg, h.store, h.leases, h.oracle, id)
	a.pollInterval = time.Millisecond
	a.mountOf = func(string) (string, error) { return h.cfg.BlockSearchRoot, nil }
	return a
}

// seedIngestedJob creates a job the way the client agent leaves it.
func (h *testHarness) seedIngestedJob(t *testing.T, jobID string) {
	t.Helper()
	require.NoError(t, h.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage1Init))
	require.NoError(t, h.store.EnsureDataDir(jobID))
	h.mem.AddFile("/.shred/store/"+jobID+"/data/x", []byte("payload"))
	require.NoError(t, h.store.SetStatus(jobID, jobstore.ComponentData, types.Stage1IngestComplete))
	require.NoError(t, h.store.SetStatus(jobID, jobstore.ComponentMaster, types.Stage1Complete))
}

func TestDiscoveryWritesWorklists(t *testing.T) {
	h := newHarness(t)
	h.seedIngestedJob(t, "job-1")
	a := h.agent(t, "10.0.0.1")

	require.NoError(t, a.discoveryPass(context.Background()))

	master, err := h.store.GetStatus("job-1", jobstore.ComponentMaster)
	require.NoError(t, err)
	assert.Equal(t, types.Stage2CopyBlocks, master)

	// One worklist per replica holder, every block new, and nothing else.
	participants, err := h.store.Participants("job-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, participants)

	for _, p := range participants {
		wl, err := h.store.ReadWorklist("job-1", p)
		require.NoError(t, err)
		assert.Equal(t, types.Worklist{"blk_100": types.BlockNew}, wl)
	}

	assert.Equal(t, []string{"/.shred/store/job-1/data/x"}, h.oracle.targets)
}

func TestDiscoveryLeaseContention(t *testing.T) {
	h := newHarness(t)
	h.seedIngestedJob(t, "job-1")
	require.NoError(t, h.leases.Acquire("job-1", "10.0.0.9", time.Hour))

	a := h.agent(t, "10.0.0.1")
	require.NoError(t, a.discoveryPass(context.Background()))

	// The job is untouched; the other worker's leadership stands.
	master, err := h.store.GetStatus("job-1", jobstore.ComponentMaster)
	require.NoError(t, err)
	assert.Equal(t, types.Stage1Complete, master)
	assert.Empty(t, h.oracle.targets)
}

func TestDiscoveryRestartsAfterLeaderCrash(t *testing.T) {
	h := newHarness(t)
	h.seedIngestedJob(t, "job-1")

	// A previous leader advanced the status and died; its lease expired.
	require.NoError(t, h.store.SetStatus("job-1", jobstore.ComponentMaster, types.Stage2PrepareBlocklist))

	a := h.agent(t, "10.0.0.2")
	require.NoError(t, a.discoveryPass(context.Background()))

	master, err := h.store.GetStatus("job-1", jobstore.ComponentMaster)
	require.NoError(t, err)
	assert.Equal(t, types.Stage2CopyBlocks, master)

	wl, err := h.store.ReadWorklist("job-1", "10.0.0.3")
	require.NoError(t, err)
	assert.Equal(t, types.Worklist{"blk_100": types.BlockNew}, wl)
}

func TestDiscoveryMultipleJobsIndependent(t *testing.T) {
	h := newHarness(t)
	h.seedIngestedJob(t, "job-a")
	h.seedIngestedJob(t, "job-b")

	a := h.agent(t, "10.0.0.1")
	require.NoError(t, a.discoveryPass(context.Background()))

	for _, jobID := range []string{"job-a", "job-b"} {
		master, err := h.store.GetStatus(jobID, jobstore.ComponentMaster)
		require.NoError(t, err)
		assert.Equal(t, types.Stage2CopyBlocks, master, jobID)
	}
}

func TestFinalizePromotesAndArchives(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SetStatus("job-1", jobstore.ComponentMaster, types.Stage3Shredding))
	require.NoError(t, h.store.WriteWorklist("job-1", "10.0.0.1", types.Worklist{"blk_100": types.BlockShredded}))
	require.NoError(t, h.store.WriteWorklist("job-1", "10.0.0.2", types.Worklist{"blk_100": types.BlockShredded}))
	require.NoError(t, h.store.SetStatus("job-1", "10.0.0.1", types.Stage3Complete))
	require.NoError(t, h.store.SetStatus("job-1", "10.0.0.2", types.Stage3Complete))

	a := h.agent(t, "10.0.0.1")
	require.NoError(t, a.finalizePass(context.Background()))

	assert.False(t, h.mem.Exists("/.shred/jobs/job-1"))
	data, err := h.mem.ReadFile("/.shred/completed/job-1/master")
	require.NoError(t, err)
	assert.Equal(t, "stage3complete", string(data))
}

func TestFinalizeWaitsForAllShredders(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SetStatus("job-1", jobstore.ComponentMaster, types.Stage3Shredding))
	require.NoError(t, h.store.WriteWorklist("job-1", "10.0.0.1", types.Worklist{"blk_100": types.BlockShredded}))
	require.NoError(t, h.store.WriteWorklist("job-1", "10.0.0.2", types.Worklist{"blk_100": types.BlockLinked}))
	require.NoError(t, h.store.SetStatus("job-1", "10.0.0.1", types.Stage3Complete))

	a := h.agent(t, "10.0.0.1")
	require.NoError(t, a.finalizePass(context.Background()))

	master, err := h.store.GetStatus("job-1", jobstore.ComponentMaster)
	require.NoError(t, err)
	assert.Equal(t, types.Stage3Shredding, master)
}
