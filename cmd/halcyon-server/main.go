// Command halcyon-server runs a halcyon keyspace engine as a standalone
// process: it recovers persisted state, sweeps expirations in the
// background and persists on shutdown. Configuration comes from the
// environment (optionally a .env file) with flags taking precedence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	halcyon "github.com/halcyonkv/halcyon"
)

type settings struct {
	Databases      int           `env:"HALCYON_DATABASES" envDefault:"16"`
	Shards         int           `env:"HALCYON_SHARDS" envDefault:"16"`
	SnapshotPath   string        `env:"HALCYON_SNAPSHOT_PATH" envDefault:""`
	AppendLogPath  string        `env:"HALCYON_APPEND_LOG_PATH" envDefault:""`
	ExpiryInterval time.Duration `env:"HALCYON_EXPIRY_INTERVAL" envDefault:"100ms"`
	MinReplicas    int           `env:"HALCYON_MIN_REPLICAS" envDefault:"0"`
	MaxMemory      int64         `env:"HALCYON_MAX_MEMORY" envDefault:"0"`
	ClusterNodeID  string        `env:"HALCYON_CLUSTER_NODE_ID" envDefault:""`
	ClusterAddr    string        `env:"HALCYON_CLUSTER_ADDR" envDefault:""`
	SaveOnExit     bool          `env:"HALCYON_SAVE_ON_EXIT" envDefault:"true"`
	StatsInterval  time.Duration `env:"HALCYON_STATS_INTERVAL" envDefault:"30s"`
}

func loadSettings() (settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return settings{}, err
	}
	var s settings
	if err := env.Parse(&s); err != nil {
		return settings{}, err
	}
	return s, nil
}

var rootCmd = &cobra.Command{
	Use:   "halcyon-server",
	Short: "deterministic in-memory keyspace engine",
	Long: fmt.Sprintf(`halcyon-server (v%s)

An in-memory keyspace state machine with Redis semantics, effect-based
replication, snapshot and append-log persistence, and hash-slot routing.`,
		halcyon.Version),
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of halcyon-server",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("halcyon-server v%s\n", halcyon.Version)
		for k, v := range halcyon.VersionInfo() {
			if k != "version" {
				fmt.Printf("%s: %s\n", k, v)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Flags().String("snapshot", "", "snapshot file path (overrides HALCYON_SNAPSHOT_PATH)")
	rootCmd.Flags().String("appendlog", "", "append-only log path (overrides HALCYON_APPEND_LOG_PATH)")
	rootCmd.Flags().Int("databases", 0, "number of databases (overrides HALCYON_DATABASES)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("snapshot"); v != "" {
		cfg.SnapshotPath = v
	}
	if v, _ := cmd.Flags().GetString("appendlog"); v != "" {
		cfg.AppendLogPath = v
	}
	if v, _ := cmd.Flags().GetInt("databases"); v > 0 {
		cfg.Databases = v
	}

	opts := []halcyon.Option{
		halcyon.WithDatabases(cfg.Databases),
		halcyon.WithShardCount(cfg.Shards),
		halcyon.WithExpiryInterval(cfg.ExpiryInterval),
	}
	if cfg.SnapshotPath != "" {
		opts = append(opts, halcyon.WithSnapshotPath(cfg.SnapshotPath))
	}
	if cfg.AppendLogPath != "" {
		opts = append(opts, halcyon.WithAppendLogPath(cfg.AppendLogPath))
	}
	if cfg.MinReplicas > 0 {
		opts = append(opts, halcyon.WithMinReplicasToWrite(cfg.MinReplicas))
	}
	if cfg.MaxMemory > 0 {
		opts = append(opts, halcyon.WithMaxMemory(cfg.MaxMemory))
	}
	if cfg.ClusterNodeID != "" {
		opts = append(opts, halcyon.WithClusterNode(cfg.ClusterNodeID, cfg.ClusterAddr))
	}

	srv, err := halcyon.New(opts...)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		return err
	}

	stats := srv.Stats()
	fmt.Printf("halcyon-server v%s ready: %d databases, %d keys recovered, repl id %s\n",
		halcyon.Version, stats.Databases, stats.Keys, stats.ReplicationID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s := srv.Stats()
			fmt.Printf("role=%s keys=%d offset=%d sinks=%d\n",
				s.Role, s.Keys, s.ReplicationOffset, s.ConnectedSinks)
		case sig := <-sigCh:
			fmt.Printf("received %s, shutting down\n", sig)
			if cfg.SaveOnExit && cfg.SnapshotPath != "" {
				sess := srv.Session()
				if reply := srv.Do(sess, "SAVE"); reply.IsError() {
					fmt.Fprintf(os.Stderr, "final save failed: %s\n", reply.ErrorMessage())
				}
			}
			return srv.Close()
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
