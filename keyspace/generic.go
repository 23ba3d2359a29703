package keyspace

import (
	randv2 "math/rand/v2"
)

// Del removes keys, returning how many existed
func (s *Store) Del(dbIdx int, keys ...string) int64 {
	deleted := int64(0)
	for _, key := range keys {
		// Lazy expiry first so an already-dead key does not count
		if s.lookupRead(dbIdx, key) == nil {
			continue
		}
		if s.removeEntry(dbIdx, key) {
			deleted++
		}
	}
	return deleted
}

// Exists counts how many of the given keys exist, with repetitions
func (s *Store) Exists(dbIdx int, keys ...string) int64 {
	count := int64(0)
	for _, key := range keys {
		if s.lookupRead(dbIdx, key) != nil {
			count++
		}
	}
	return count
}

// TypeOf returns the value type of key, TypeNone when absent
func (s *Store) TypeOf(dbIdx int, key string) ValueType {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return TypeNone
	}
	return e.Type()
}

// ObjectEncoding reports the live encoding tag of key
func (s *Store) ObjectEncoding(dbIdx int, key string) (Encoding, bool) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return "", false
	}
	return e.Encoding(), true
}

// PExpireTime returns the absolute expiry of key in unix milliseconds:
// -2 when the key does not exist, -1 when it has no expiry.
func (s *Store) PExpireTime(dbIdx int, key string) int64 {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return -2
	}
	if e.expireAt == 0 {
		return -1
	}
	return e.expireAt
}

// PTTL returns the remaining time to live in milliseconds, with the same
// -2/-1 conventions as PExpireTime
func (s *Store) PTTL(dbIdx int, key string) int64 {
	at := s.PExpireTime(dbIdx, key)
	if at < 0 {
		return at
	}
	return at - s.Now()
}

// PExpireAt sets an absolute expiry on key, returning false when absent
func (s *Store) PExpireAt(dbIdx int, key string, atMs int64) bool {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		return false
	}
	if atMs <= s.Now() {
		// Setting an already-elapsed expiry deletes immediately
		s.removeEntry(dbIdx, key)
		return true
	}
	e.expireAt = atMs
	s.touched(e)
	return true
}

// Persist clears the expiry of key, returning whether one was removed
func (s *Store) Persist(dbIdx int, key string) bool {
	e := s.lookupWrite(dbIdx, key)
	if e == nil || e.expireAt == 0 {
		return false
	}
	e.expireAt = 0
	s.touched(e)
	return true
}

// Rename moves src to dst. With nxOnly the rename fails when dst exists.
// The value, expiry and a fresh version travel with the key.
func (s *Store) Rename(dbIdx int, src, dst string, nxOnly bool) (bool, error) {
	e := s.lookupRead(dbIdx, src)
	if e == nil {
		return false, ErrNoSuchKey
	}
	if nxOnly && s.lookupRead(dbIdx, dst) != nil {
		return false, nil
	}
	s.removeEntry(dbIdx, src)
	s.setEntry(dbIdx, dst, &Entry{val: e.val, expireAt: e.expireAt})
	return true, nil
}

// Copy duplicates src into dst (possibly in another database). Without
// replace an existing destination refuses the copy.
func (s *Store) Copy(srcDB int, src string, dstDB int, dst string, replace bool) bool {
	e := s.lookupRead(srcDB, src)
	if e == nil {
		return false
	}
	if !replace && s.lookupRead(dstDB, dst) != nil {
		return false
	}
	s.setEntry(dstDB, dst, &Entry{val: e.val.clone(), expireAt: e.expireAt})
	return true
}

// Move transfers key to another database, failing when the destination
// already holds it
func (s *Store) Move(srcDB int, key string, dstDB int) bool {
	if srcDB == dstDB {
		return false
	}
	e := s.lookupRead(srcDB, key)
	if e == nil {
		return false
	}
	if s.lookupRead(dstDB, key) != nil {
		return false
	}
	s.removeEntry(srcDB, key)
	s.setEntry(dstDB, key, &Entry{val: e.val, expireAt: e.expireAt})
	return true
}

// Keys returns all live keys matching the glob pattern
func (s *Store) Keys(dbIdx int, pattern string) []string {
	db := s.db(dbIdx)
	now := s.Now()
	keys := make([]string, 0)
	all := pattern == "" || pattern == "*"
	for i := 0; i < s.shards; i++ {
		sh := &db.shards[i]
		sh.mu.RLock()
		for key, e := range sh.data {
			if e.expiredAt(now) {
				continue
			}
			if all || MatchPattern(key, pattern) {
				keys = append(keys, key)
			}
		}
		sh.mu.RUnlock()
	}
	return keys
}

// RandomKey returns a uniformly random live key, or false on an empty db
func (s *Store) RandomKey(dbIdx int, rng *randv2.Rand) (string, bool) {
	db := s.db(dbIdx)
	now := s.Now()

	// Reservoir sample of one across all shards
	var picked string
	seen := 0
	for i := 0; i < s.shards; i++ {
		sh := &db.shards[i]
		sh.mu.RLock()
		for key, e := range sh.data {
			if e.expiredAt(now) {
				continue
			}
			seen++
			if rng.IntN(seen) == 0 {
				picked = key
			}
		}
		sh.mu.RUnlock()
	}
	return picked, seen > 0
}

// RestoreEntry installs a deserialized entry (RESTORE, replica full sync),
// overwriting any current value
func (s *Store) RestoreEntry(dbIdx int, key string, m Materialized, expireAtMs int64) error {
	val, err := buildValue(m, s.limits)
	if err != nil {
		return err
	}
	s.setEntry(dbIdx, key, &Entry{val: val, expireAt: expireAtMs})
	return nil
}
