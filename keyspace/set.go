package keyspace

import (
	randv2 "math/rand/v2"
	"sort"
	"strconv"
)

// setEncoding is the physical layout of a set value
type setEncoding int

const (
	setIntset setEncoding = iota
	setListpack
	setHashtable
)

// setValue stores a set of members. All-integer sets start as a sorted
// intset, small mixed sets as a listpack, and either converts permanently
// to a hashtable when thresholds are crossed.
type setValue struct {
	ints  []int64 // sorted, intset encoding only
	items []string
	table map[string]struct{}
	enc   setEncoding
}

func (v *setValue) typeOf() ValueType { return TypeSet }

func (v *setValue) encoding() Encoding {
	switch v.enc {
	case setIntset:
		return EncIntset
	case setListpack:
		return EncListpack
	default:
		return EncHashtable
	}
}

func (v *setValue) clone() value {
	out := &setValue{enc: v.enc}
	out.ints = append([]int64(nil), v.ints...)
	out.items = append([]string(nil), v.items...)
	if v.table != nil {
		out.table = make(map[string]struct{}, len(v.table))
		for m := range v.table {
			out.table[m] = struct{}{}
		}
	}
	return out
}

func (v *setValue) card() int {
	switch v.enc {
	case setIntset:
		return len(v.ints)
	case setListpack:
		return len(v.items)
	default:
		return len(v.table)
	}
}

func (v *setValue) contains(member string) bool {
	switch v.enc {
	case setIntset:
		n, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return false
		}
		i := sort.Search(len(v.ints), func(i int) bool { return v.ints[i] >= n })
		return i < len(v.ints) && v.ints[i] == n
	case setListpack:
		for _, m := range v.items {
			if m == member {
				return true
			}
		}
		return false
	default:
		_, ok := v.table[member]
		return ok
	}
}

// add inserts a member, converting encodings as thresholds demand, and
// reports whether the member was new
func (v *setValue) add(member string, l Limits) bool {
	if v.contains(member) {
		return false
	}

	switch v.enc {
	case setIntset:
		n, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			// non-integer member forces listpack or hashtable
			if len(v.ints)+1 > l.SetMaxListpackEntries || len(member) > l.SetMaxListpackValue {
				v.toHashtable()
				v.table[member] = struct{}{}
			} else {
				v.toListpack()
				v.items = append(v.items, member)
			}
			return true
		}
		i := sort.Search(len(v.ints), func(i int) bool { return v.ints[i] >= n })
		v.ints = append(v.ints, 0)
		copy(v.ints[i+1:], v.ints[i:])
		v.ints[i] = n
		if len(v.ints) > l.SetMaxIntsetEntries {
			v.toHashtable()
		}
		return true
	case setListpack:
		if len(v.items)+1 > l.SetMaxListpackEntries || len(member) > l.SetMaxListpackValue {
			v.toHashtable()
			v.table[member] = struct{}{}
			return true
		}
		v.items = append(v.items, member)
		return true
	default:
		v.table[member] = struct{}{}
		return true
	}
}

func (v *setValue) remove(member string) bool {
	switch v.enc {
	case setIntset:
		n, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return false
		}
		i := sort.Search(len(v.ints), func(i int) bool { return v.ints[i] >= n })
		if i >= len(v.ints) || v.ints[i] != n {
			return false
		}
		v.ints = append(v.ints[:i], v.ints[i+1:]...)
		return true
	case setListpack:
		for i, m := range v.items {
			if m == member {
				v.items = append(v.items[:i], v.items[i+1:]...)
				return true
			}
		}
		return false
	default:
		if _, ok := v.table[member]; !ok {
			return false
		}
		delete(v.table, member)
		return true
	}
}

func (v *setValue) members() []string {
	switch v.enc {
	case setIntset:
		out := make([]string, len(v.ints))
		for i, n := range v.ints {
			out[i] = strconv.FormatInt(n, 10)
		}
		return out
	case setListpack:
		return append([]string(nil), v.items...)
	default:
		out := make([]string, 0, len(v.table))
		for m := range v.table {
			out = append(out, m)
		}
		return out
	}
}

func (v *setValue) toListpack() {
	if v.enc != setIntset {
		return
	}
	v.items = make([]string, len(v.ints))
	for i, n := range v.ints {
		v.items[i] = strconv.FormatInt(n, 10)
	}
	v.ints = nil
	v.enc = setListpack
}

func (v *setValue) toHashtable() {
	if v.enc == setHashtable {
		return
	}
	v.table = make(map[string]struct{}, v.card())
	for _, m := range v.members() {
		v.table[m] = struct{}{}
	}
	v.ints = nil
	v.items = nil
	v.enc = setHashtable
}

func newSetValue() *setValue {
	return &setValue{enc: setIntset}
}

func (s *Store) setForRead(dbIdx int, key string) (*setValue, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, nil
	}
	sv, ok := e.val.(*setValue)
	if !ok {
		return nil, ErrWrongType
	}
	return sv, nil
}

func (s *Store) setForWrite(dbIdx int, key string) (*Entry, *setValue, error) {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		return nil, nil, nil
	}
	sv, ok := e.val.(*setValue)
	if !ok {
		return nil, nil, ErrWrongType
	}
	return e, sv, nil
}

// SAdd inserts members, creating the set when absent, returning how many
// were new
func (s *Store) SAdd(dbIdx int, key string, members ...string) (int64, error) {
	e, sv, err := s.setForWrite(dbIdx, key)
	if err != nil {
		return 0, err
	}
	fresh := false
	if sv == nil {
		sv = newSetValue()
		fresh = true
	}

	added := int64(0)
	for _, m := range members {
		if sv.add(m, s.limits) {
			added++
		}
	}

	if fresh {
		s.setEntry(dbIdx, key, &Entry{val: sv})
	} else if added > 0 {
		s.touched(e)
	}
	return added, nil
}

// SRem removes members, deleting the key once empty
func (s *Store) SRem(dbIdx int, key string, members ...string) (int64, error) {
	e, sv, err := s.setForWrite(dbIdx, key)
	if err != nil || sv == nil {
		return 0, err
	}
	removed := int64(0)
	for _, m := range members {
		if sv.remove(m) {
			removed++
		}
	}
	if removed > 0 {
		if sv.card() == 0 {
			s.removeEntry(dbIdx, key)
		} else {
			s.touched(e)
		}
	}
	return removed, nil
}

// SPop removes and returns up to count random members. The exact removed
// members are reported so the caller can propagate them as explicit SREMs.
func (s *Store) SPop(dbIdx int, key string, count int64, rng *randv2.Rand) ([]string, error) {
	e, sv, err := s.setForWrite(dbIdx, key)
	if err != nil || sv == nil {
		return nil, err
	}
	if count > int64(sv.card()) {
		count = int64(sv.card())
	}
	if count <= 0 {
		return nil, nil
	}

	all := sv.members()
	idx := rng.Perm(len(all))[:count]
	popped := make([]string, 0, count)
	for _, i := range idx {
		popped = append(popped, all[i])
	}
	for _, m := range popped {
		sv.remove(m)
	}

	if sv.card() == 0 {
		s.removeEntry(dbIdx, key)
	} else {
		s.touched(e)
	}
	return popped, nil
}

// SIsMember reports membership of one member
func (s *Store) SIsMember(dbIdx int, key, member string) (bool, error) {
	sv, err := s.setForRead(dbIdx, key)
	if err != nil || sv == nil {
		return false, err
	}
	return sv.contains(member), nil
}

// SMIsMember reports membership of several members at once
func (s *Store) SMIsMember(dbIdx int, key string, members ...string) ([]bool, error) {
	sv, err := s.setForRead(dbIdx, key)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(members))
	if sv == nil {
		return out, nil
	}
	for i, m := range members {
		out[i] = sv.contains(m)
	}
	return out, nil
}

// SMembers returns every member
func (s *Store) SMembers(dbIdx int, key string) ([]string, error) {
	sv, err := s.setForRead(dbIdx, key)
	if err != nil || sv == nil {
		return nil, err
	}
	return sv.members(), nil
}

// SCard returns the cardinality
func (s *Store) SCard(dbIdx int, key string) (int64, error) {
	sv, err := s.setForRead(dbIdx, key)
	if err != nil || sv == nil {
		return 0, err
	}
	return int64(sv.card()), nil
}

// SRandMember returns up to count random members without removing them.
// Negative counts allow repetitions. Never propagated.
func (s *Store) SRandMember(dbIdx int, key string, count int64, rng *randv2.Rand) ([]string, error) {
	sv, err := s.setForRead(dbIdx, key)
	if err != nil || sv == nil {
		return nil, err
	}
	all := sv.members()
	if len(all) == 0 {
		return nil, nil
	}
	if count < 0 {
		out := make([]string, -count)
		for i := range out {
			out[i] = all[rng.IntN(len(all))]
		}
		return out, nil
	}
	if count >= int64(len(all)) {
		return all, nil
	}
	idx := rng.Perm(len(all))[:count]
	out := make([]string, 0, count)
	for _, i := range idx {
		out = append(out, all[i])
	}
	return out, nil
}

// SScan iterates the set with a resumable cursor
func (s *Store) SScan(dbIdx int, key string, cursor uint64, match string, count int64) (uint64, []string, error) {
	sv, err := s.setForRead(dbIdx, key)
	if err != nil || sv == nil {
		return 0, nil, err
	}
	return scanWalk(sv.members(), cursor, count,
		func(m string) string { return m },
		func(m string) bool { return match == "" || MatchPattern(m, match) })
}
