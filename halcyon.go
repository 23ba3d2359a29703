package halcyon

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/halcyonkv/halcyon/cluster"
	"github.com/halcyonkv/halcyon/engine"
	"github.com/halcyonkv/halcyon/expire"
	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/persist"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

// Server is the assembled keyspace engine: store, executor, expiration
// sweep, replication propagator and optional persistence, behind one
// handle.
type Server struct {
	config  *config
	store   *keyspace.Store
	exec    *engine.Executor
	sweeper *expire.Manager
	aof     *persist.AppendLog

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a Server with the given options
//
// The server is created but not started. Use Start() to recover persisted
// state and launch the expiration sweep.
//
// Example:
//
//	srv, err := halcyon.New(
//		halcyon.WithSnapshotPath("dump.hdb"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// The store's lazy-expiry callback must reach the executor, which does
	// not exist yet; bind it through the server handle.
	srv := &Server{config: cfg}

	srv.store = keyspace.New(
		keyspace.WithDatabaseCount(cfg.databases),
		keyspace.WithShardCount(cfg.shards),
		keyspace.WithLimits(cfg.limits),
		keyspace.WithExpireFunc(func(db int, key string) {
			if srv.exec != nil {
				srv.exec.OnExpired(db, key)
			}
		}),
	)

	srv.sweeper = expire.NewManager(srv.store,
		expire.WithInterval(cfg.expiryInterval),
		expire.WithSampleSize(cfg.expirySamples),
	)

	execOpts := []engine.ExecutorOption{
		engine.WithPropagator(repl.NewPropagator(repl.WithBacklogSize(cfg.backlogSize))),
		engine.WithSweeper(srv.sweeper),
	}
	if cfg.logger != nil {
		execOpts = append(execOpts, engine.WithLogger(cfg.logger))
	}
	if cfg.snapshotPath != "" {
		execOpts = append(execOpts, engine.WithSnapshotPath(cfg.snapshotPath))
	}
	if cfg.appendLogPath != "" {
		aof, err := persist.OpenAppendLog(cfg.appendLogPath)
		if err != nil {
			return nil, err
		}
		srv.aof = aof
		execOpts = append(execOpts, engine.WithAppendLog(aof, cfg.appendLogPath))
	}
	if cfg.minReplicas > 0 {
		execOpts = append(execOpts, engine.WithMinReplicas(cfg.minReplicas))
	}
	if cfg.maxMemory > 0 {
		execOpts = append(execOpts, engine.WithMaxMemory(cfg.maxMemory, heapUsage))
	}
	if cfg.nodeID != "" {
		slots := cluster.NewSlotTable(cfg.nodeID)
		slots.AssignRange(0, cluster.SlotCount-1, cfg.nodeID)
		if cfg.nodeAddr != "" {
			slots.SetNodeAddr(cfg.nodeID, cfg.nodeAddr)
		}
		members := cluster.NewMembership(cluster.Node{ID: cfg.nodeID, Addr: cfg.nodeAddr})
		execOpts = append(execOpts,
			engine.WithSlotTable(slots),
			engine.WithMembership(members, cfg.transport),
		)
	}

	srv.exec = engine.NewExecutor(srv.store, execOpts...)
	return srv, nil
}

// Start recovers persisted state and launches the expiration sweep. A
// corrupt snapshot or append log halts startup with a StartupError; a
// half-loaded keyspace must never serve.
//
// Example:
//
//	if err := srv.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	if err := s.recover(); err != nil {
		return err
	}

	s.sweeper.Start(ctx)
	s.started = true
	return nil
}

// recover rebuilds the keyspace from disk. The append log wins when both
// persistence forms are configured and present: it is the more recent
// record of the keyspace.
func (s *Server) recover() error {
	if s.config.appendLogPath != "" {
		if n, err := s.aof.Size(); err == nil && n > 0 {
			if err := persist.ReplayAppendLog(s.config.appendLogPath, s.exec.ApplyRecord); err != nil {
				return &StartupError{Source: "appendlog", Path: s.config.appendLogPath, Err: err}
			}
			return nil
		}
	}
	if s.config.snapshotPath != "" {
		if _, err := os.Stat(s.config.snapshotPath); err == nil {
			if err := persist.LoadSnapshot(s.config.snapshotPath, s.store); err != nil {
				return &StartupError{Source: "snapshot", Path: s.config.snapshotPath, Err: err}
			}
		}
	}
	return nil
}

// Session creates a fresh client session on database 0
func (s *Server) Session() *Session {
	return engine.NewSession()
}

// Execute runs one command for a session and returns its reply
func (s *Server) Execute(sess *Session, cmd protocol.Command) protocol.Value {
	return s.exec.Execute(sess, cmd)
}

// Do is the convenience form of Execute for string arguments
//
// Example:
//
//	reply := srv.Do(sess, "SET", "k", "v")
func (s *Server) Do(sess *Session, name string, args ...string) protocol.Value {
	return s.exec.Execute(sess, protocol.NewCommand(name, args...))
}

// Executor exposes the underlying executor for replication wiring:
// attaching sinks, applying an upstream stream, switching roles.
func (s *Server) Executor() *engine.Executor {
	return s.exec
}

// Store returns the underlying keyspace for direct access
func (s *Server) Store() *keyspace.Store {
	return s.store
}

// SetRole switches the node between primary and replica
func (s *Server) SetRole(r Role) {
	s.exec.SetRole(r)
}

// Stats returns a point-in-time view of the server
func (s *Server) Stats() ServerStats {
	role := "master"
	if s.exec.Role() == RoleReplica {
		role = "slave"
	}
	var keys int64
	for db := 0; db < s.store.NumDatabases(); db++ {
		keys += s.store.DBSize(db)
	}
	return ServerStats{
		Role:              role,
		ReplicationID:     s.exec.Propagator().ReplID(),
		ReplicationOffset: s.exec.Propagator().Offset(),
		ConnectedSinks:    s.exec.Propagator().NumSinks(),
		Databases:         s.store.NumDatabases(),
		Keys:              keys,
	}
}

// Close gracefully shuts down the server: the sweep stops, the append log
// is synced and closed. Close is idempotent.
//
// Example:
//
//	defer srv.Close()
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.started {
		s.sweeper.Stop()
	}
	if s.aof != nil {
		if err := s.aof.Close(); err != nil {
			return err
		}
	}
	return nil
}

// heapUsage is the default memory gauge for WithMaxMemory
func heapUsage() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapAlloc)
}
