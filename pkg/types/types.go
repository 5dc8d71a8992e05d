package types

import (
	"fmt"
	"sort"
)

// MasterStatus is a job's global stage token, written to the job store and
// read back by every agent. The token set is closed: unknown tokens are
// rejected on read.
type MasterStatus string

const (
	Stage1Init             MasterStatus = "stage1init"
	Stage1Ingest           MasterStatus = "stage1ingest"
	Stage1IngestComplete   MasterStatus = "stage1ingestComplete"
	Stage1Complete         MasterStatus = "stage1complete"
	Stage2PrepareBlocklist MasterStatus = "stage2prepareBlocklist"
	Stage2CopyBlocks       MasterStatus = "stage2copyblocks"
	Stage2LeaderActive     MasterStatus = "stage2leaderactive"
	Stage2ReadyForDelete   MasterStatus = "stage2readyForDelete"
	Stage2FilesDeleted     MasterStatus = "stage2filesDeleted"
	Stage2Complete         MasterStatus = "stage2complete"
	Stage3Shredding        MasterStatus = "stage3shredding"
	Stage3Complete         MasterStatus = "stage3complete"
)

// statusOrder is the canonical progression. A job's master status only ever
// moves forward through this sequence.
var statusOrder = []MasterStatus{
	Stage1Init,
	Stage1Ingest,
	Stage1IngestComplete,
	Stage1Complete,
	Stage2PrepareBlocklist,
	Stage2CopyBlocks,
	Stage2LeaderActive,
	Stage2ReadyForDelete,
	Stage2FilesDeleted,
	Stage2Complete,
	Stage3Shredding,
	Stage3Complete,
}

var statusIndex = func() map[MasterStatus]int {
	m := make(map[MasterStatus]int, len(statusOrder))
	for i, s := range statusOrder {
		m[s] = i
	}
	return m
}()

// ParseMasterStatus validates a token read from the job store.
func ParseMasterStatus(s string) (MasterStatus, error) {
	st := MasterStatus(s)
	if _, ok := statusIndex[st]; !ok {
		return "", fmt.Errorf("unknown status token %q", s)
	}
	return st, nil
}

// Valid reports whether the token is part of the canonical sequence.
func (s MasterStatus) Valid() bool {
	_, ok := statusIndex[s]
	return ok
}

// Index returns the token's position in the canonical sequence, or -1 for an
// unknown token.
func (s MasterStatus) Index() int {
	i, ok := statusIndex[s]
	if !ok {
		return -1
	}
	return i
}

// Before reports whether s is an earlier stage than o. Unknown tokens compare
// before everything.
func (s MasterStatus) Before(o MasterStatus) bool {
	return s.Index() < o.Index()
}

func (s MasterStatus) String() string { return string(s) }

// BlockState tracks a single block through the preserve and shred passes on
// the data node that owns it.
type BlockState string

const (
	BlockNew       BlockState = "new"
	BlockFinding   BlockState = "finding"
	BlockLinking   BlockState = "linking"
	BlockLinked    BlockState = "linked"
	BlockShredding BlockState = "shredding"
	BlockShredded  BlockState = "shredded"
)

var blockStates = map[BlockState]bool{
	BlockNew:       true,
	BlockFinding:   true,
	BlockLinking:   true,
	BlockLinked:    true,
	BlockShredding: true,
	BlockShredded:  true,
}

// ParseBlockState validates a block state read from a worklist.
func ParseBlockState(s string) (BlockState, error) {
	st := BlockState(s)
	if !blockStates[st] {
		return "", fmt.Errorf("unknown block state %q", s)
	}
	return st, nil
}

func (s BlockState) String() string { return string(s) }

// Worklist is the per-(job, data node) mapping of block IDs to their state.
// It is serialized as a single JSON object and rewritten whole; only the
// worker whose ID names the file ever writes it.
type Worklist map[string]BlockState

// Blocks returns the block IDs in sorted order for deterministic iteration.
func (w Worklist) Blocks() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All reports whether every block in the worklist is in the given state.
// An empty worklist is vacuously true.
func (w Worklist) All(state BlockState) bool {
	for _, st := range w {
		if st != state {
			return false
		}
	}
	return true
}

// Count returns how many blocks are in the given state.
func (w Worklist) Count(state BlockState) int {
	n := 0
	for _, st := range w {
		if st == state {
			n++
		}
	}
	return n
}
