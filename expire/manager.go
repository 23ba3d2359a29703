package expire

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/halcyonkv/halcyon/keyspace"
)

var activeExpiredTotal = metrics.NewCounter("halcyon_active_expired_keys_total")

// Manager drives the background expiry cycle over a store. Each cycle
// samples logically dead keys and forces their lazy expiry; the physical
// removal fires the store's ExpireFunc, which is the single path by which
// expiry-driven deletes reach propagation.
type Manager struct {
	store *keyspace.Store

	interval   time.Duration
	sampleSize int

	// active mirrors DEBUG SET-ACTIVE-EXPIRE; the cycle also idles
	// whenever the store is in replica mode
	active atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithInterval sets the cycle period
func WithInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSampleSize caps how many dead keys one cycle removes per database
func WithSampleSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.sampleSize = n
		}
	}
}

// NewManager creates a Manager sweeping the given store
func NewManager(store *keyspace.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		interval:   100 * time.Millisecond,
		sampleSize: 20,
	}
	m.active.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetActive toggles the cycle without stopping the goroutine
func (m *Manager) SetActive(enabled bool) {
	m.active.Store(enabled)
}

// Active reports whether the cycle is currently enabled
func (m *Manager) Active() bool {
	return m.active.Load()
}

// Start launches the background cycle until Stop or ctx cancellation
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cycle()
			}
		}
	}()
}

// Stop halts the background cycle and waits for it to exit
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Cycle runs one expiry pass over every database, returning how many keys
// were collected. Exposed so the executor can run passes synchronously in
// tests and during controlled shutdown.
func (m *Manager) Cycle() int {
	if !m.active.Load() || !m.store.SelfExpire() {
		return 0
	}
	removed := 0
	for db := 0; db < m.store.NumDatabases(); db++ {
		for _, key := range m.store.ExpiredKeys(db, m.sampleSize) {
			// a lookup is enough: lazy expiry removes the key and fires
			// the store's expire callback. A key whose ttl was extended
			// between sampling and here reads as live and is left alone.
			if m.store.Exists(db, key) == 0 {
				removed++
				activeExpiredTotal.Inc()
			}
		}
	}
	return removed
}
