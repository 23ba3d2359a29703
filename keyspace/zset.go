package keyspace

import (
	"math"
	"sort"

	"github.com/zhangyunhao116/skipmap"
)

// ScoredMember is one sorted-set member with its score
type ScoredMember struct {
	Member string
	Score  float64
}

// zrankKey orders sorted-set members by (score, member)
type zrankKey struct {
	score  float64
	member string
}

func zrankLess(a, b zrankKey) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.member < b.member
}

// zsetValue stores a sorted set. The compact listpack encoding is a slice
// ordered by (score, member); the generic encoding pairs a member-to-score
// table with a skiplist for ordered traversal.
type zsetValue struct {
	compact []ScoredMember
	scores  map[string]float64
	ranks   *skipmap.FuncMap[zrankKey, struct{}]
	generic bool
}

func (v *zsetValue) typeOf() ValueType { return TypeZSet }

func (v *zsetValue) encoding() Encoding {
	if v.generic {
		return EncSkiplist
	}
	return EncListpack
}

func (v *zsetValue) clone() value {
	out := &zsetValue{generic: v.generic}
	if v.generic {
		out.scores = make(map[string]float64, len(v.scores))
		out.ranks = skipmap.NewFunc[zrankKey, struct{}](zrankLess)
		for m, sc := range v.scores {
			out.scores[m] = sc
			out.ranks.Store(zrankKey{score: sc, member: m}, struct{}{})
		}
	} else {
		out.compact = append([]ScoredMember(nil), v.compact...)
	}
	return out
}

func (v *zsetValue) card() int {
	if v.generic {
		return len(v.scores)
	}
	return len(v.compact)
}

func (v *zsetValue) score(member string) (float64, bool) {
	if v.generic {
		sc, ok := v.scores[member]
		return sc, ok
	}
	for _, sm := range v.compact {
		if sm.Member == member {
			return sm.Score, true
		}
	}
	return 0, false
}

// insert adds or repositions a member and reports whether it was new
func (v *zsetValue) insert(member string, score float64) bool {
	if v.generic {
		old, existed := v.scores[member]
		if existed {
			v.ranks.Delete(zrankKey{score: old, member: member})
		}
		v.scores[member] = score
		v.ranks.Store(zrankKey{score: score, member: member}, struct{}{})
		return !existed
	}

	existed := false
	for i, sm := range v.compact {
		if sm.Member == member {
			v.compact = append(v.compact[:i], v.compact[i+1:]...)
			existed = true
			break
		}
	}
	at := sort.Search(len(v.compact), func(i int) bool {
		return !zrankLess(zrankKey{v.compact[i].Score, v.compact[i].Member}, zrankKey{score, member})
	})
	v.compact = append(v.compact, ScoredMember{})
	copy(v.compact[at+1:], v.compact[at:])
	v.compact[at] = ScoredMember{Member: member, Score: score}
	return !existed
}

func (v *zsetValue) remove(member string) bool {
	if v.generic {
		sc, ok := v.scores[member]
		if !ok {
			return false
		}
		delete(v.scores, member)
		v.ranks.Delete(zrankKey{score: sc, member: member})
		return true
	}
	for i, sm := range v.compact {
		if sm.Member == member {
			v.compact = append(v.compact[:i], v.compact[i+1:]...)
			return true
		}
	}
	return false
}

// ordered returns every member in (score, member) order
func (v *zsetValue) ordered() []ScoredMember {
	if !v.generic {
		return v.compact
	}
	out := make([]ScoredMember, 0, len(v.scores))
	v.ranks.Range(func(k zrankKey, _ struct{}) bool {
		out = append(out, ScoredMember{Member: k.member, Score: k.score})
		return true
	})
	return out
}

func (v *zsetValue) convert() {
	if v.generic {
		return
	}
	v.scores = make(map[string]float64, len(v.compact))
	v.ranks = skipmap.NewFunc[zrankKey, struct{}](zrankLess)
	for _, sm := range v.compact {
		v.scores[sm.Member] = sm.Score
		v.ranks.Store(zrankKey{score: sm.Score, member: sm.Member}, struct{}{})
	}
	v.compact = nil
	v.generic = true
}

func (v *zsetValue) maybeConvert(l Limits, member string) {
	if v.generic {
		return
	}
	if len(v.compact) > l.ZSetMaxListpackEntries || len(member) > l.ZSetMaxListpackValue {
		v.convert()
	}
}

func (s *Store) zsetForRead(dbIdx int, key string) (*zsetValue, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, nil
	}
	zv, ok := e.val.(*zsetValue)
	if !ok {
		return nil, ErrWrongType
	}
	return zv, nil
}

func (s *Store) zsetForWrite(dbIdx int, key string) (*Entry, *zsetValue, error) {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		return nil, nil, nil
	}
	zv, ok := e.val.(*zsetValue)
	if !ok {
		return nil, nil, ErrWrongType
	}
	return e, zv, nil
}

// ZAddFlags carries the conditional modifiers of ZADD
type ZAddFlags struct {
	NX   bool
	XX   bool
	GT   bool
	LT   bool
	Incr bool
}

// ZAddResult reports the outcome of one member update
type ZAddResult struct {
	Added   bool
	Changed bool
	Score   float64
	Applied bool // false when a conditional flag suppressed the update
}

// ZAdd applies one scored-member update honoring the ZADD flags. With Incr
// the score is added to the current one instead of replacing it.
func (s *Store) ZAdd(dbIdx int, key string, member string, score float64, flags ZAddFlags) (ZAddResult, error) {
	e, zv, err := s.zsetForWrite(dbIdx, key)
	if err != nil {
		return ZAddResult{}, err
	}
	fresh := false
	if zv == nil {
		if flags.XX {
			return ZAddResult{}, nil
		}
		zv = &zsetValue{}
		fresh = true
	}

	cur, exists := zv.score(member)
	if exists && flags.NX {
		return ZAddResult{Score: cur}, nil
	}
	if !exists && flags.XX {
		return ZAddResult{}, nil
	}

	target := score
	if flags.Incr && exists {
		target = cur + score
	}
	if exists {
		if flags.GT && target <= cur {
			return ZAddResult{Score: cur}, nil
		}
		if flags.LT && target >= cur {
			return ZAddResult{Score: cur}, nil
		}
	}

	added := zv.insert(member, target)
	zv.maybeConvert(s.limits, member)

	if fresh {
		s.setEntry(dbIdx, key, &Entry{val: zv})
	} else {
		s.touched(e)
	}
	return ZAddResult{
		Added:   added,
		Changed: added || target != cur,
		Score:   target,
		Applied: true,
	}, nil
}

// ZIncrBy adds delta to the member's score, creating it when absent
func (s *Store) ZIncrBy(dbIdx int, key, member string, delta float64) (float64, error) {
	res, err := s.ZAdd(dbIdx, key, member, delta, ZAddFlags{Incr: true})
	if err != nil {
		return 0, err
	}
	return res.Score, nil
}

// ZRem removes members, deleting the key once empty
func (s *Store) ZRem(dbIdx int, key string, members ...string) (int64, error) {
	e, zv, err := s.zsetForWrite(dbIdx, key)
	if err != nil || zv == nil {
		return 0, err
	}
	removed := int64(0)
	for _, m := range members {
		if zv.remove(m) {
			removed++
		}
	}
	if removed > 0 {
		if zv.card() == 0 {
			s.removeEntry(dbIdx, key)
		} else {
			s.touched(e)
		}
	}
	return removed, nil
}

// ZScore returns the score of one member
func (s *Store) ZScore(dbIdx int, key, member string) (float64, bool, error) {
	zv, err := s.zsetForRead(dbIdx, key)
	if err != nil || zv == nil {
		return 0, false, err
	}
	sc, ok := zv.score(member)
	return sc, ok, nil
}

// ZCard returns the cardinality
func (s *Store) ZCard(dbIdx int, key string) (int64, error) {
	zv, err := s.zsetForRead(dbIdx, key)
	if err != nil || zv == nil {
		return 0, err
	}
	return int64(zv.card()), nil
}

// ZCount counts members with scores in [min, max]
func (s *Store) ZCount(dbIdx int, key string, min, max ScoreBound) (int64, error) {
	zv, err := s.zsetForRead(dbIdx, key)
	if err != nil || zv == nil {
		return 0, err
	}
	count := int64(0)
	for _, sm := range zv.ordered() {
		if min.accepts(sm.Score, true) && max.accepts(sm.Score, false) {
			count++
		}
	}
	return count, nil
}

// ZRange returns the members at ranks [start, stop], optionally reversed
func (s *Store) ZRange(dbIdx int, key string, start, stop int64, rev bool) ([]ScoredMember, error) {
	zv, err := s.zsetForRead(dbIdx, key)
	if err != nil || zv == nil {
		return nil, err
	}
	all := zv.ordered()
	if rev {
		all = reverseScored(all)
	}
	start, stop, empty := clampRange(start, stop, int64(len(all)))
	if empty {
		return nil, nil
	}
	return all[start : stop+1], nil
}

// ZRangeByScore returns the members with scores inside the bounds,
// optionally reversed
func (s *Store) ZRangeByScore(dbIdx int, key string, min, max ScoreBound, rev bool) ([]ScoredMember, error) {
	zv, err := s.zsetForRead(dbIdx, key)
	if err != nil || zv == nil {
		return nil, err
	}
	out := make([]ScoredMember, 0)
	for _, sm := range zv.ordered() {
		if min.accepts(sm.Score, true) && max.accepts(sm.Score, false) {
			out = append(out, sm)
		}
	}
	if rev {
		out = reverseScored(out)
	}
	return out, nil
}

// ZRank returns the rank of member, counting from the lowest score; rev
// counts from the highest
func (s *Store) ZRank(dbIdx int, key, member string, rev bool) (int64, bool, error) {
	zv, err := s.zsetForRead(dbIdx, key)
	if err != nil || zv == nil {
		return 0, false, err
	}
	all := zv.ordered()
	for i, sm := range all {
		if sm.Member == member {
			if rev {
				return int64(len(all) - 1 - i), true, nil
			}
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

// ZPop removes and returns up to count members from the low end (or the
// high end with max), reporting exactly which members went
func (s *Store) ZPop(dbIdx int, key string, count int64, max bool) ([]ScoredMember, error) {
	e, zv, err := s.zsetForWrite(dbIdx, key)
	if err != nil || zv == nil {
		return nil, err
	}
	if count > int64(zv.card()) {
		count = int64(zv.card())
	}
	if count <= 0 {
		return nil, nil
	}

	all := zv.ordered()
	if max {
		all = reverseScored(all)
	}
	popped := append([]ScoredMember(nil), all[:count]...)
	for _, sm := range popped {
		zv.remove(sm.Member)
	}

	if zv.card() == 0 {
		s.removeEntry(dbIdx, key)
	} else {
		s.touched(e)
	}
	return popped, nil
}

// ZScan iterates the sorted set with a resumable cursor
func (s *Store) ZScan(dbIdx int, key string, cursor uint64, match string, count int64) (uint64, []ScoredMember, error) {
	zv, err := s.zsetForRead(dbIdx, key)
	if err != nil || zv == nil {
		return 0, nil, err
	}
	return scanWalk(zv.ordered(), cursor, count,
		func(sm ScoredMember) string { return sm.Member },
		func(sm ScoredMember) bool { return match == "" || MatchPattern(sm.Member, match) })
}

func reverseScored(in []ScoredMember) []ScoredMember {
	out := make([]ScoredMember, len(in))
	for i, sm := range in {
		out[len(in)-1-i] = sm
	}
	return out
}

// ScoreBound is one endpoint of a score interval
type ScoreBound struct {
	Value     float64
	Exclusive bool
	Inf       int // -1 = -inf, +1 = +inf, 0 = finite
}

// accepts reports whether score satisfies this bound; isMin selects the
// comparison direction
func (b ScoreBound) accepts(score float64, isMin bool) bool {
	limit := b.Value
	switch b.Inf {
	case -1:
		limit = math.Inf(-1)
	case 1:
		limit = math.Inf(1)
	}
	if isMin {
		if b.Exclusive {
			return score > limit
		}
		return score >= limit
	}
	if b.Exclusive {
		return score < limit
	}
	return score <= limit
}
