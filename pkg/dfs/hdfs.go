package dfs

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"github.com/colinmarc/hdfs/v2"
)

// HDFSClient backs the Client interface with a native HDFS connection.
type HDFSClient struct {
	c *hdfs.Client
}

var _ Client = (*HDFSClient)(nil)

// Dial connects to the namenode(s) at address (comma-separated for HA pairs)
// as the current OS user. The returned client must be closed by the caller
// at the end of the invocation.
func Dial(address string) (*HDFSClient, error) {
	u, err := currentUser()
	if err != nil {
		return nil, fmt.Errorf("failed to determine DFS user: %w", err)
	}

	c, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: strings.Split(address, ","),
		User:      u,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to namenode %s: %w", address, err)
	}
	return &HDFSClient{c: c}, nil
}

// currentUser resolves the identity presented to the namenode. The standard
// HADOOP_USER_NAME override wins, matching the stock DFS tools, so ingest can
// run as a different DFS principal than the local account.
func currentUser() (string, error) {
	if name := os.Getenv("HADOOP_USER_NAME"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

func (h *HDFSClient) Stat(path string) (os.FileInfo, error) {
	return h.c.Stat(path)
}

func (h *HDFSClient) ReadFile(path string) ([]byte, error) {
	f, err := h.c.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *HDFSClient) CreateFile(path string, data []byte) error {
	// CreateFile with default replication/block size; truncate if present.
	if err := h.c.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	w, err := h.c.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (h *HDFSClient) ReadDir(path string) ([]os.FileInfo, error) {
	return h.c.ReadDir(path)
}

func (h *HDFSClient) MkdirAll(path string, perm os.FileMode) error {
	return h.c.MkdirAll(path, perm)
}

func (h *HDFSClient) Rename(oldpath, newpath string) error {
	return h.c.Rename(oldpath, newpath)
}

// Remove deletes path recursively, bypassing the HDFS trash. The namenode
// may free the underlying blocks immediately.
func (h *HDFSClient) Remove(path string) error {
	return h.c.RemoveAll(path)
}

func (h *HDFSClient) Close() error {
	return h.c.Close()
}
