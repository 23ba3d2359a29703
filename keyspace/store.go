package keyspace

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shard is a single lock-striped partition of a database
type shard struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

// database is one numbered keyspace, sharded for cheap concurrent reads by
// background collaborators (snapshot save, active-expiry sampling). All
// mutations funnel through the single serialized executor.
type database struct {
	shards []shard
}

// ExpireFunc is invoked when lazy expiry physically removes a key, so the
// caller can emit the corresponding deletion into propagation.
type ExpireFunc func(db int, key string)

// Store owns the per-database key-value mappings and per-key metadata.
type Store struct {
	mu        sync.RWMutex
	databases []*database

	shards    int
	shardMask uint64

	limits Limits

	// selfExpire is disabled on replicas: logically dead keys read as
	// absent but stay in place until the primary's DEL arrives.
	selfExpire   atomic.Bool
	onLazyExpire ExpireFunc

	// clock is injectable so script invocations and tests can pin "now"
	clock   func() int64
	frozen  atomic.Int64
	version atomic.Uint64
	epoch   atomic.Uint64
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithShardCount sets the number of shards per database, rounded up to the
// next power of two
func WithShardCount(count int) StoreOption {
	return func(s *Store) {
		if count > 0 {
			s.shards = nextPowerOf2(count)
			s.shardMask = uint64(s.shards - 1)
		}
	}
}

// WithDatabaseCount sets the number of independently addressed databases
func WithDatabaseCount(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.databases = make([]*database, n)
		}
	}
}

// WithLimits overrides the encoding conversion thresholds
func WithLimits(l Limits) StoreOption {
	return func(s *Store) {
		s.limits = l
	}
}

// WithExpireFunc registers the lazy-expiry deletion callback
func WithExpireFunc(fn ExpireFunc) StoreOption {
	return func(s *Store) {
		s.onLazyExpire = fn
	}
}

// New creates a Store with 16 databases and 16 shards per database
func New(opts ...StoreOption) *Store {
	s := &Store{
		databases: make([]*database, 16),
		shards:    16,
		shardMask: 15,
		limits:    DefaultLimits,
		clock: func() int64 {
			return time.Now().UnixMilli()
		},
	}
	s.selfExpire.Store(true)

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.databases {
		s.databases[i] = s.newDatabase()
	}

	return s
}

func (s *Store) newDatabase() *database {
	db := &database{shards: make([]shard, s.shards)}
	for i := 0; i < s.shards; i++ {
		db.shards[i].data = make(map[string]*Entry)
	}
	return db
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// NumDatabases returns the configured database count
func (s *Store) NumDatabases() int {
	return len(s.databases)
}

// ValidDB reports whether the database index is addressable
func (s *Store) ValidDB(db int) bool {
	return db >= 0 && db < len(s.databases)
}

func (s *Store) db(idx int) *database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.databases[idx]
}

func (s *Store) shardFor(db *database, key string) *shard {
	return &db.shards[xxhash.Sum64String(key)&s.shardMask]
}

// Now returns the store's current clock in unix milliseconds. While frozen
// (script invocations, deterministic tests) it returns the pinned instant.
func (s *Store) Now() int64 {
	if f := s.frozen.Load(); f != 0 {
		return f
	}
	return s.clock()
}

// FreezeClock pins the store clock to the given unix-millisecond instant.
// Every time-dependent decision (expiry checks, TTL computation) observes
// the pinned value until ThawClock is called.
func (s *Store) FreezeClock(nowMs int64) {
	s.frozen.Store(nowMs)
}

// ThawClock releases a pinned clock
func (s *Store) ThawClock() {
	s.frozen.Store(0)
}

// SetSelfExpire controls whether this store physically removes expired keys
// on access. Primaries expire; replicas surface dead keys as absent and wait
// for the propagated delete.
func (s *Store) SetSelfExpire(enabled bool) {
	s.selfExpire.Store(enabled)
}

// SelfExpire reports the current expiry role
func (s *Store) SelfExpire() bool {
	return s.selfExpire.Load()
}

// MutationEpoch returns a counter that advances on every effective write
func (s *Store) MutationEpoch() uint64 {
	return s.epoch.Load()
}

func (s *Store) nextVersion() uint64 {
	return s.version.Add(1)
}

func (s *Store) bumpEpoch() {
	s.epoch.Add(1)
}

// lookupRead returns the live entry for key, applying lazy expiry. The
// returned entry must only be read under the serialized executor.
func (s *Store) lookupRead(dbIdx int, key string) *Entry {
	db := s.db(dbIdx)
	sh := s.shardFor(db, key)

	sh.mu.RLock()
	e, ok := sh.data[key]
	sh.mu.RUnlock()
	if !ok {
		return nil
	}

	if e.expiredAt(s.Now()) {
		s.expireIfNeeded(dbIdx, sh, key)
		return nil
	}
	return e
}

// expireIfNeeded physically removes a logically dead key when the store is
// allowed to self-expire, notifying the expiry callback. On replicas the
// entry is left in place.
func (s *Store) expireIfNeeded(dbIdx int, sh *shard, key string) {
	if !s.selfExpire.Load() {
		return
	}

	sh.mu.Lock()
	e, ok := sh.data[key]
	if !ok || !e.expiredAt(s.Now()) {
		sh.mu.Unlock()
		return
	}
	delete(sh.data, key)
	sh.mu.Unlock()

	s.bumpEpoch()
	if s.onLazyExpire != nil {
		s.onLazyExpire(dbIdx, key)
	}
}

// lookupWrite returns the live entry for in-place mutation, applying lazy
// expiry first. Callers must bump the entry version via touched.
func (s *Store) lookupWrite(dbIdx int, key string) *Entry {
	return s.lookupRead(dbIdx, key)
}

// setEntry installs a fresh entry for key, assigning it a new version
func (s *Store) setEntry(dbIdx int, key string, e *Entry) {
	db := s.db(dbIdx)
	sh := s.shardFor(db, key)
	e.version = s.nextVersion()
	sh.mu.Lock()
	sh.data[key] = e
	sh.mu.Unlock()
	s.bumpEpoch()
}

// touched bumps the version of an entry mutated in place
func (s *Store) touched(e *Entry) {
	e.version = s.nextVersion()
	s.bumpEpoch()
}

// removeEntry deletes key if present, returning whether it existed
func (s *Store) removeEntry(dbIdx int, key string) bool {
	db := s.db(dbIdx)
	sh := s.shardFor(db, key)
	sh.mu.Lock()
	_, ok := sh.data[key]
	if ok {
		delete(sh.data, key)
	}
	sh.mu.Unlock()
	if ok {
		s.bumpEpoch()
	}
	return ok
}

// KeyVersion returns the watch version for key: the entry's version, or 0
// when the key is absent (or logically dead).
func (s *Store) KeyVersion(dbIdx int, key string) uint64 {
	db := s.db(dbIdx)
	sh := s.shardFor(db, key)
	sh.mu.RLock()
	e, ok := sh.data[key]
	sh.mu.RUnlock()
	if !ok || e.expiredAt(s.Now()) {
		return 0
	}
	return e.version
}

// Entry returns the live entry for direct inspection (persistence, OBJECT)
func (s *Store) Entry(dbIdx int, key string) (*Entry, bool) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, false
	}
	return e, true
}

// SwapDB exchanges the contents of two databases
func (s *Store) SwapDB(a, b int) error {
	if !s.ValidDB(a) || !s.ValidDB(b) {
		return fmt.Errorf("DB index is out of range")
	}
	s.mu.Lock()
	s.databases[a], s.databases[b] = s.databases[b], s.databases[a]
	s.mu.Unlock()
	s.bumpEpoch()
	return nil
}

// FlushDB removes every key in one database
func (s *Store) FlushDB(dbIdx int) {
	s.mu.Lock()
	s.databases[dbIdx] = s.newDatabase()
	s.mu.Unlock()
	s.bumpEpoch()
}

// FlushAll removes every key in every database
func (s *Store) FlushAll() {
	s.mu.Lock()
	for i := range s.databases {
		s.databases[i] = s.newDatabase()
	}
	s.mu.Unlock()
	s.bumpEpoch()
}

// ExpiredKeys samples up to limit logically dead keys in one database.
// Used by the active expiry cycle; walking stops as soon as the limit is
// reached so a large backlog is drained across several cycles.
func (s *Store) ExpiredKeys(dbIdx int, limit int) []string {
	db := s.db(dbIdx)
	now := s.Now()
	out := make([]string, 0, limit)
	for i := 0; i < s.shards && len(out) < limit; i++ {
		sh := &db.shards[i]
		sh.mu.RLock()
		for key, e := range sh.data {
			if e.expiredAt(now) {
				out = append(out, key)
				if len(out) >= limit {
					break
				}
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// DBSize returns the number of keys in a database, counting logically dead
// keys as absent
func (s *Store) DBSize(dbIdx int) int64 {
	db := s.db(dbIdx)
	now := s.Now()
	count := int64(0)
	for i := 0; i < s.shards; i++ {
		sh := &db.shards[i]
		sh.mu.RLock()
		for _, e := range sh.data {
			if !e.expiredAt(now) {
				count++
			}
		}
		sh.mu.RUnlock()
	}
	return count
}
