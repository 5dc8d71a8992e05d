package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the agents look for their configuration when --config
// is not given.
const DefaultPath = "/etc/blockshred/config.yaml"

// Config holds every tunable the three agent modes recognize. Values come
// from the YAML file, then BLOCKSHRED_* environment variables, in that order.
type Config struct {
	// NamenodeAddress is the host:port of the DFS namenode.
	NamenodeAddress string `yaml:"namenode_address"`

	// DFSShredRoot is the job-store root on the DFS.
	DFSShredRoot string `yaml:"dfs_shred_root"`

	// LeaseStoreHosts are the ZooKeeper ensemble members.
	LeaseStoreHosts []string `yaml:"lease_store_hosts"`

	// LeaseStoreRoot is the chroot under which per-job lease nodes live.
	LeaseStoreRoot string `yaml:"lease_store_root"`

	// LocalShredSubdir is the per-mount directory holding preserved
	// hardlinks, created inside whichever mount point backs a block file.
	LocalShredSubdir string `yaml:"local_shred_subdir"`

	// WorkerSleepMinutes is the scheduling cadence of the worker agent.
	// Lease durations and the stall threshold derive from it.
	WorkerSleepMinutes int `yaml:"worker_sleep_minutes"`

	// BlockSearchRoot is the local filesystem root under which DFS block
	// files are searched. It must cover every configured DFS data directory.
	BlockSearchRoot string `yaml:"block_search_root"`

	// ShredPasses is the overwrite pass count handed to the shred primitive.
	ShredPasses int `yaml:"shred_passes"`

	// WorkerID identifies this data node in worklists and per-worker status
	// files. It must match the identity the block-location oracle emits for
	// this node; empty means detect the primary IP at startup.
	WorkerID string `yaml:"worker_id"`

	// JournalPath is the shredder's local progress journal.
	JournalPath string `yaml:"journal_path"`

	// MetricsTextfileDir receives node_exporter textfile-collector output at
	// the end of each invocation. Empty disables the export.
	MetricsTextfileDir string `yaml:"metrics_textfile_dir"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config populated with the shipped defaults.
func Default() *Config {
	return &Config{
		NamenodeAddress:    "localhost:8020",
		DFSShredRoot:       "/.shred",
		LeaseStoreHosts:    []string{"localhost:2181"},
		LeaseStoreRoot:     "/blockshred/leases",
		LocalShredSubdir:   ".shred",
		WorkerSleepMinutes: 5,
		BlockSearchRoot:    "/",
		ShredPasses:        3,
		JournalPath:        "/var/lib/blockshred/shredder.db",
		LogLevel:           "info",
	}
}

// Load reads the YAML file at path (missing file is not an error when path is
// the default location), applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && path == DefaultPath:
		// run on defaults + environment
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BLOCKSHRED_NAMENODE_ADDRESS"); v != "" {
		c.NamenodeAddress = v
	}
	if v := os.Getenv("BLOCKSHRED_DFS_SHRED_ROOT"); v != "" {
		c.DFSShredRoot = v
	}
	if v := os.Getenv("BLOCKSHRED_LEASE_STORE_HOSTS"); v != "" {
		c.LeaseStoreHosts = strings.Split(v, ",")
	}
	if v := os.Getenv("BLOCKSHRED_LEASE_STORE_ROOT"); v != "" {
		c.LeaseStoreRoot = v
	}
	if v := os.Getenv("BLOCKSHRED_LOCAL_SHRED_SUBDIR"); v != "" {
		c.LocalShredSubdir = v
	}
	if v := os.Getenv("BLOCKSHRED_WORKER_SLEEP_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerSleepMinutes = n
		}
	}
	if v := os.Getenv("BLOCKSHRED_BLOCK_SEARCH_ROOT"); v != "" {
		c.BlockSearchRoot = v
	}
	if v := os.Getenv("BLOCKSHRED_SHRED_PASSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ShredPasses = n
		}
	}
	if v := os.Getenv("BLOCKSHRED_WORKER_ID"); v != "" {
		c.WorkerID = v
	}
	if v := os.Getenv("BLOCKSHRED_JOURNAL_PATH"); v != "" {
		c.JournalPath = v
	}
	if v := os.Getenv("BLOCKSHRED_METRICS_TEXTFILE_DIR"); v != "" {
		c.MetricsTextfileDir = v
	}
	if v := os.Getenv("BLOCKSHRED_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the invariants the agents rely on.
func (c *Config) Validate() error {
	if c.NamenodeAddress == "" {
		return fmt.Errorf("namenode_address must be set")
	}
	if !strings.HasPrefix(c.DFSShredRoot, "/") {
		return fmt.Errorf("dfs_shred_root must be an absolute DFS path, got %q", c.DFSShredRoot)
	}
	if len(c.LeaseStoreHosts) == 0 {
		return fmt.Errorf("lease_store_hosts must list at least one ZooKeeper host")
	}
	if !strings.HasPrefix(c.LeaseStoreRoot, "/") {
		return fmt.Errorf("lease_store_root must be an absolute path, got %q", c.LeaseStoreRoot)
	}
	if c.LocalShredSubdir == "" || strings.Contains(c.LocalShredSubdir, "/") {
		return fmt.Errorf("local_shred_subdir must be a single directory name, got %q", c.LocalShredSubdir)
	}
	if c.WorkerSleepMinutes <= 0 {
		return fmt.Errorf("worker_sleep_minutes must be positive, got %d", c.WorkerSleepMinutes)
	}
	if !strings.HasPrefix(c.BlockSearchRoot, "/") {
		return fmt.Errorf("block_search_root must be an absolute path, got %q", c.BlockSearchRoot)
	}
	if c.ShredPasses <= 0 {
		return fmt.Errorf("shred_passes must be positive, got %d", c.ShredPasses)
	}
	return nil
}

// WorkerSleep returns the worker cadence as a duration.
func (c *Config) WorkerSleep() time.Duration {
	return time.Duration(c.WorkerSleepMinutes) * time.Minute
}

// StallThreshold is how long the completion leader waits for a peer before
// flagging it stalled.
func (c *Config) StallThreshold() time.Duration {
	return 2 * c.WorkerSleep()
}

// ResolveWorkerID returns the configured worker identity, detecting the
// node's primary IP when none is configured. The identity must match what
// the block-location oracle reports for this node, which is the datanode's
// primary IP in stock deployments.
func (c *Config) ResolveWorkerID() (string, error) {
	if c.WorkerID != "" {
		return c.WorkerID, nil
	}
	return primaryIP()
}

// primaryIP finds the source address the kernel would use for outbound
// traffic. No packets are sent; the dial just resolves a route.
func primaryIP() (string, error) {
	conn, err := net.Dial("udp", "255.255.255.255:53")
	if err != nil {
		return "", fmt.Errorf("failed to detect primary IP: %w", err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
