package dfs

import (
	"os"
)

// Client is the narrow slice of a DFS client the coordinator needs. The job
// store, ingest pipeline, and agents all take a Client handle explicitly;
// nothing holds a package-level connection.
//
// Semantics the implementations must provide:
//
//   - CreateFile truncates an existing file.
//   - Rename overwrites an existing destination file (atomic replace from a
//     reader's viewpoint).
//   - Remove is recursive and does not pass through any trash facility.
//   - Missing paths surface as errors satisfying os.IsNotExist.
type Client interface {
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	CreateFile(path string, data []byte) error
	ReadDir(path string) ([]os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(path string) error
	Close() error
}
