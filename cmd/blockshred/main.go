package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockshred/blockshred/pkg/client"
	"github.com/blockshred/blockshred/pkg/config"
	"github.com/blockshred/blockshred/pkg/dfs"
	"github.com/blockshred/blockshred/pkg/fsck"
	"github.com/blockshred/blockshred/pkg/jobstore"
	"github.com/blockshred/blockshred/pkg/lease"
	"github.com/blockshred/blockshred/pkg/log"
	"github.com/blockshred/blockshred/pkg/metrics"
	"github.com/blockshred/blockshred/pkg/shredder"
	"github.com/blockshred/blockshred/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	debug      bool
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "blockshred",
	Short: "Blockshred - secure deletion for DFS files",
	Long: `Blockshred coordinates the secure deletion of files stored on a
distributed filesystem. Independent agents on every data node preserve the
local block replicas of an ingested file, delete the file from the DFS, and
overwrite the preserved blocks in place with shred(1).

Each subcommand is one agent, meant to run from cron on the nodes that play
that role. Agents coordinate only through the DFS and the lease store.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Blockshred version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON log lines")

	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(shredderCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Blockshred version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// setup loads configuration and initializes logging for every agent.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := log.Level(cfg.LogLevel)
	if debug {
		level = log.DebugLevel
	}
	log.Init(log.Config{
		Level:      level,
		JSONOutput: logJSON || cfg.LogJSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}

// agentContext is cancelled on SIGINT or SIGTERM so a terminated cron run
// stops between blocks instead of mid-write.
func agentContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var clientCmd = &cobra.Command{
	Use:   "client <dfs-path>",
	Short: "Submit a DFS file for secure deletion",
	Long: `Submit a DFS file for secure deletion. The file is moved into the
shred area immediately, so it disappears from its original path as soon as
the command returns. Only a user with rename rights on the file may submit
it. Prints the job ID on success.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		dc, err := dfs.Dial(cfg.NamenodeAddress)
		if err != nil {
			return fmt.Errorf("failed to connect to namenode: %v", err)
		}
		defer dc.Close()

		store := jobstore.New(dc, cfg.DFSShredRoot)
		defer writeMetrics(cfg, "client")

		jobID, err := client.New(store, dc).Ingest(args[0])
		if err != nil {
			return err
		}
		fmt.Println(jobID)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one worker pass on this data node",
	Long: `Run one worker invocation on this data node: lead block discovery
for freshly ingested jobs, hardlink this node's block replicas out of the
DFS's reach, delete completed jobs' payloads from the DFS, and archive jobs
whose shredding has finished everywhere. Meant to run from cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		workerID, err := cfg.ResolveWorkerID()
		if err != nil {
			return err
		}

		dc, err := dfs.Dial(cfg.NamenodeAddress)
		if err != nil {
			return fmt.Errorf("failed to connect to namenode: %v", err)
		}
		defer dc.Close()

		leases, err := lease.Dial(cfg.LeaseStoreHosts, cfg.LeaseStoreRoot)
		if err != nil {
			return fmt.Errorf("failed to connect to lease store: %v", err)
		}
		defer leases.Close()

		store := jobstore.New(dc, cfg.DFSShredRoot)
		defer writeMetrics(cfg, "worker")

		ctx, cancel := agentContext()
		defer cancel()
		return worker.New(cfg, store, leases, fsck.CommandRunner{}, workerID).Run(ctx)
	},
}

var shredderCmd = &cobra.Command{
	Use:   "shredder",
	Short: "Run one shredder pass on this data node",
	Long: `Run one shredder invocation on this data node: overwrite and
unlink the preserved block replicas of every job that reached the shredding
stage, then report this node done. Meant to run from cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		workerID, err := cfg.ResolveWorkerID()
		if err != nil {
			return err
		}

		dc, err := dfs.Dial(cfg.NamenodeAddress)
		if err != nil {
			return fmt.Errorf("failed to connect to namenode: %v", err)
		}
		defer dc.Close()

		journal, err := shredder.OpenJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		store := jobstore.New(dc, cfg.DFSShredRoot)
		prim := &shredder.CommandPrimitive{Passes: cfg.ShredPasses}
		defer writeMetrics(cfg, "shredder")

		ctx, cancel := agentContext()
		defer cancel()
		return shredder.New(cfg, store, journal, prim, workerID).Run(ctx)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify this node's configuration and connectivity",
	Long: `Verify that the configured namenode and lease store are reachable
and that the job-store root exists. Run after installing or changing the
configuration on a node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		dc, err := dfs.Dial(cfg.NamenodeAddress)
		if err != nil {
			return fmt.Errorf("namenode %s unreachable: %v", cfg.NamenodeAddress, err)
		}
		defer dc.Close()
		if _, err := dc.Stat(cfg.DFSShredRoot); err != nil {
			return fmt.Errorf("job-store root %s not accessible: %v", cfg.DFSShredRoot, err)
		}
		fmt.Printf("✓ Namenode %s reachable, job store at %s\n", cfg.NamenodeAddress, cfg.DFSShredRoot)

		leases, err := lease.Dial(cfg.LeaseStoreHosts, cfg.LeaseStoreRoot)
		if err != nil {
			return fmt.Errorf("lease store unreachable: %v", err)
		}
		leases.Close()
		fmt.Printf("✓ Lease store reachable at %v\n", cfg.LeaseStoreHosts)

		workerID, err := cfg.ResolveWorkerID()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Worker identity: %s\n", workerID)
		return nil
	},
}

// writeMetrics exports this invocation's counters for the node_exporter
// textfile collector. Export failures must never fail the agent.
func writeMetrics(cfg *config.Config, mode string) {
	if cfg.MetricsTextfileDir == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfileDir, mode); err != nil {
		logger := log.WithComponent(mode)
		logger.Warn().Err(err).Msg("failed to write metrics textfile")
	}
}
