// Package dfstest provides an in-memory dfs.Client for tests.
package dfstest

import (
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blockshred/blockshred/pkg/dfs"
)

// MemClient is an in-memory DFS with the same semantics the coordinator
// relies on: parent directories must exist before a file is created, rename
// replaces an existing destination, and removes are recursive.
type MemClient struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	// Optional failure hooks for fault-injection tests.
	OnCreate func(path string) error
	OnRename func(oldpath, newpath string) error
	OnRemove func(path string) error
}

var _ dfs.Client = (*MemClient)(nil)

// New returns an empty filesystem containing only the root directory.
func New() *MemClient {
	return &MemClient{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

// AddFile creates a file and any missing parent directories. Test setup
// helper; production code goes through CreateFile.
func (m *MemClient) AddFile(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAllLocked(path.Dir(p))
	m.files[path.Clean(p)] = append([]byte(nil), content...)
}

// Exists reports whether a file or directory exists at p.
func (m *MemClient) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	_, isFile := m.files[p]
	return isFile || m.dirs[p]
}

func (m *MemClient) Stat(p string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if data, ok := m.files[p]; ok {
		return fileInfo{name: path.Base(p), size: int64(len(data))}, nil
	}
	if m.dirs[p] {
		return fileInfo{name: path.Base(p), dir: true}, nil
	}
	return nil, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
}

func (m *MemClient) ReadFile(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: p, Err: os.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemClient) CreateFile(p string, data []byte) error {
	if m.OnCreate != nil {
		if err := m.OnCreate(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if m.dirs[p] {
		return &os.PathError{Op: "create", Path: p, Err: os.ErrExist}
	}
	if !m.dirs[path.Dir(p)] {
		return &os.PathError{Op: "create", Path: p, Err: os.ErrNotExist}
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *MemClient) ReadDir(p string) ([]os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if !m.dirs[p] {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: os.ErrNotExist}
	}

	seen := make(map[string]os.FileInfo)
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	for f, data := range m.files {
		if rest, ok := strings.CutPrefix(f, prefix); ok && !strings.Contains(rest, "/") {
			seen[rest] = fileInfo{name: rest, size: int64(len(data))}
		}
	}
	for d := range m.dirs {
		if rest, ok := strings.CutPrefix(d, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			seen[rest] = fileInfo{name: rest, dir: true}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	infos := make([]os.FileInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, seen[n])
	}
	return infos, nil
}

func (m *MemClient) MkdirAll(p string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAllLocked(p)
	return nil
}

func (m *MemClient) mkdirAllLocked(p string) {
	p = path.Clean(p)
	for p != "/" && p != "." {
		m.dirs[p] = true
		p = path.Dir(p)
	}
	m.dirs["/"] = true
}

func (m *MemClient) Rename(oldpath, newpath string) error {
	if m.OnRename != nil {
		if err := m.OnRename(oldpath, newpath); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	oldpath, newpath = path.Clean(oldpath), path.Clean(newpath)

	if data, ok := m.files[oldpath]; ok {
		if !m.dirs[path.Dir(newpath)] {
			return &os.PathError{Op: "rename", Path: newpath, Err: os.ErrNotExist}
		}
		delete(m.files, oldpath)
		m.files[newpath] = data
		return nil
	}

	if m.dirs[oldpath] {
		if !m.dirs[path.Dir(newpath)] {
			return &os.PathError{Op: "rename", Path: newpath, Err: os.ErrNotExist}
		}
		m.moveTreeLocked(oldpath, newpath)
		return nil
	}

	return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrNotExist}
}

func (m *MemClient) moveTreeLocked(oldpath, newpath string) {
	for f, data := range m.files {
		if rest, ok := strings.CutPrefix(f, oldpath+"/"); ok {
			delete(m.files, f)
			m.files[newpath+"/"+rest] = data
		}
	}
	for d := range m.dirs {
		if d == oldpath {
			delete(m.dirs, d)
			m.dirs[newpath] = true
		} else if rest, ok := strings.CutPrefix(d, oldpath+"/"); ok {
			delete(m.dirs, d)
			m.dirs[newpath+"/"+rest] = true
		}
	}
}

func (m *MemClient) Remove(p string) error {
	if m.OnRemove != nil {
		if err := m.OnRemove(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)

	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if !m.dirs[p] {
		return &os.PathError{Op: "remove", Path: p, Err: os.ErrNotExist}
	}
	delete(m.dirs, p)
	for f := range m.files {
		if strings.HasPrefix(f, p+"/") {
			delete(m.files, f)
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, p+"/") {
			delete(m.dirs, d)
		}
	}
	return nil
}

func (m *MemClient) Close() error { return nil }

type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() os.FileMode  { return 0644 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() interface{}   { return nil }
