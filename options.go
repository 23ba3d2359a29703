package halcyon

import (
	"time"

	"github.com/halcyonkv/halcyon/cluster"
	"github.com/halcyonkv/halcyon/keyspace"
)

// config holds the configuration for a Server
type config struct {
	// Keyspace shape
	databases int
	shards    int
	limits    keyspace.Limits

	// Persistence
	snapshotPath  string
	appendLogPath string

	// Expiration sweep
	expiryInterval time.Duration
	expirySamples  int

	// Write admission
	minReplicas int
	maxMemory   int64

	// Replication
	backlogSize int

	// Cluster identity; empty disables slot routing
	nodeID    string
	nodeAddr  string
	transport cluster.Transport

	// Observability
	logger Logger
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		databases:      16,
		shards:         16,
		limits:         keyspace.DefaultLimits,
		expiryInterval: 100 * time.Millisecond,
		expirySamples:  20,
		backlogSize:    1 << 20,
	}
}

// Option represents a configuration option for a Server
type Option func(*config) error

// WithDatabases sets the number of independently addressed databases
//
// Example:
//
//	WithDatabases(4)
func WithDatabases(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.databases = n
		return nil
	}
}

// WithShardCount sets the number of shards per database, rounded up to
// the next power of two
//
// Example:
//
//	WithShardCount(64)
func WithShardCount(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.shards = n
		return nil
	}
}

// WithEncodingLimits overrides the compact-encoding conversion thresholds
//
// Example:
//
//	limits := keyspace.DefaultLimits
//	limits.HashMaxListpackEntries = 64
//	WithEncodingLimits(limits)
func WithEncodingLimits(l keyspace.Limits) Option {
	return func(c *config) error {
		c.limits = l
		return nil
	}
}

// WithSnapshotPath sets where SAVE/BGSAVE write the snapshot and where
// Start looks for one to load
//
// Example:
//
//	WithSnapshotPath("/var/lib/halcyon/dump.hdb")
func WithSnapshotPath(path string) Option {
	return func(c *config) error {
		c.snapshotPath = path
		return nil
	}
}

// WithAppendLogPath enables the append-only log at the given path. When
// the log exists at startup it is replayed in preference to the snapshot.
//
// Example:
//
//	WithAppendLogPath("/var/lib/halcyon/halcyon.aof")
func WithAppendLogPath(path string) Option {
	return func(c *config) error {
		c.appendLogPath = path
		return nil
	}
}

// WithExpiryInterval sets the active expiration sweep period
//
// Example:
//
//	WithExpiryInterval(250 * time.Millisecond)
func WithExpiryInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return ErrInvalidConfig
		}
		c.expiryInterval = d
		return nil
	}
}

// WithExpirySamples caps how many dead keys one sweep cycle removes per
// database
func WithExpirySamples(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.expirySamples = n
		return nil
	}
}

// WithMinReplicasToWrite rejects writes (NOREPLICAS) while fewer than n
// replica sinks are attached
//
// Example:
//
//	WithMinReplicasToWrite(1)
func WithMinReplicasToWrite(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return ErrInvalidConfig
		}
		c.minReplicas = n
		return nil
	}
}

// WithMaxMemory rejects writes (OOM) while process heap usage exceeds the
// limit in bytes. When set to 0, no limit is enforced.
//
// Example:
//
//	WithMaxMemory(1024 * 1024 * 1024) // 1GB limit
func WithMaxMemory(bytes int64) Option {
	return func(c *config) error {
		if bytes < 0 {
			return ErrInvalidConfig
		}
		c.maxMemory = bytes
		return nil
	}
}

// WithBacklogSize sets the replication backlog window in bytes; a replica
// reconnecting within the window gets a partial resync
//
// Example:
//
//	WithBacklogSize(8 << 20)
func WithBacklogSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.backlogSize = n
		return nil
	}
}

// WithClusterNode enables hash-slot routing under the given node id, with
// every slot initially assigned to this node. addr is the client-facing
// address quoted in redirects.
//
// Example:
//
//	WithClusterNode(cluster.NewNodeID(), "10.0.0.1:7000")
func WithClusterNode(id, addr string) Option {
	return func(c *config) error {
		if id == "" {
			return ErrInvalidConfig
		}
		c.nodeID = id
		c.nodeAddr = addr
		return nil
	}
}

// WithClusterTransport sets the membership-exchange transport CLUSTER
// MEET uses. Requires WithClusterNode.
func WithClusterTransport(t cluster.Transport) Option {
	return func(c *config) error {
		if t == nil {
			return ErrInvalidConfig
		}
		c.transport = t
		return nil
	}
}

// WithLogger sets a custom logger for the server
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}
