package keyspace

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Cursors name buckets, not positions. Every element hashes into one of a
// fixed number of virtual buckets, pages cover whole buckets in increasing
// bucket order, and the cursor carries the next occupied bucket. An element
// that stays present for the whole walk keeps its bucket, so it is reported
// at least once no matter how the collection mutates between pages.
const scanBuckets = 1 << 10

func scanBucket(name string) uint64 {
	return xxhash.Sum64String(name) % scanBuckets
}

// ScanOptions narrows a keyspace scan
type ScanOptions struct {
	Match string
	Count int64
	Type  ValueType // TypeNone means any
}

// scanWalk emits whole buckets starting at cursor until at least count
// elements were visited. The returned cursor is the next occupied bucket;
// zero means the walk is done (a resumption cursor is never zero because
// it is strictly greater than the last emitted bucket).
func scanWalk[T any](items []T, cursor uint64, count int64, name func(T) string, keep func(T) bool) (uint64, []T, error) {
	if count <= 0 {
		count = 10
	}
	buckets := make([]uint64, len(items))
	idx := make([]int, len(items))
	for i := range items {
		buckets[i] = scanBucket(name(items[i]))
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if buckets[ia] != buckets[ib] {
			return buckets[ia] < buckets[ib]
		}
		return name(items[ia]) < name(items[ib])
	})

	out := make([]T, 0, count)
	visited := int64(0)
	i := 0
	for i < len(idx) && buckets[idx[i]] < cursor {
		i++
	}
	for i < len(idx) {
		b := buckets[idx[i]]
		for i < len(idx) && buckets[idx[i]] == b {
			it := items[idx[i]]
			if keep(it) {
				out = append(out, it)
			}
			visited++
			i++
		}
		if visited >= count {
			break
		}
	}
	if i >= len(idx) {
		return 0, out, nil
	}
	return buckets[idx[i]], out, nil
}

// Scan walks the database shard by shard. The cursor packs the shard index
// in the high bits and the next bucket within the shard in the low bits;
// zero terminates.
func (s *Store) Scan(dbIdx int, cursor uint64, opts ScanOptions) (uint64, []string, error) {
	db := s.db(dbIdx)
	count := opts.Count
	if count <= 0 {
		count = 10
	}

	shardIdx := int(cursor >> 32)
	bucket := cursor & 0xffffffff
	now := s.Now()

	out := make([]string, 0, count)
	for shardIdx < len(db.shards) {
		sh := &db.shards[shardIdx]
		sh.mu.RLock()
		keys := make([]string, 0, len(sh.data))
		for k, e := range sh.data {
			if e.expiredAt(now) {
				continue
			}
			if opts.Type != TypeNone && e.val.typeOf() != opts.Type {
				continue
			}
			keys = append(keys, k)
		}
		sh.mu.RUnlock()

		next, page, _ := scanWalk(keys, bucket, count-int64(len(out)),
			func(k string) string { return k },
			func(k string) bool { return opts.Match == "" || MatchPattern(k, opts.Match) })
		out = append(out, page...)
		if next != 0 {
			return uint64(shardIdx)<<32 | next, out, nil
		}
		shardIdx++
		bucket = 0
		if int64(len(out)) >= count && shardIdx < len(db.shards) {
			return uint64(shardIdx) << 32, out, nil
		}
	}
	return 0, out, nil
}
