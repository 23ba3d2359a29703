package keyspace

import (
	"math"
	randv2 "math/rand/v2"
	"strconv"
)

// FieldValue is one hash field with its value
type FieldValue struct {
	Field string
	Value []byte
}

// hashValue stores a hash either as an insertion-ordered pair list
// (listpack) or as a table (hashtable). Conversion is one-way.
type hashValue struct {
	compact []FieldValue
	table   map[string][]byte
	generic bool
}

func (v *hashValue) typeOf() ValueType { return TypeHash }

func (v *hashValue) encoding() Encoding {
	if v.generic {
		return EncHashtable
	}
	return EncListpack
}

func (v *hashValue) clone() value {
	out := &hashValue{generic: v.generic}
	if v.generic {
		out.table = make(map[string][]byte, len(v.table))
		for f, val := range v.table {
			out.table[f] = cloneBytes(val)
		}
	} else {
		out.compact = make([]FieldValue, len(v.compact))
		for i, fv := range v.compact {
			out.compact[i] = FieldValue{Field: fv.Field, Value: cloneBytes(fv.Value)}
		}
	}
	return out
}

func (v *hashValue) len() int {
	if v.generic {
		return len(v.table)
	}
	return len(v.compact)
}

func (v *hashValue) get(field string) ([]byte, bool) {
	if v.generic {
		val, ok := v.table[field]
		return val, ok
	}
	for _, fv := range v.compact {
		if fv.Field == field {
			return fv.Value, true
		}
	}
	return nil, false
}

// set stores field and reports whether it was newly created
func (v *hashValue) set(field string, val []byte) bool {
	if v.generic {
		_, existed := v.table[field]
		v.table[field] = val
		return !existed
	}
	for i, fv := range v.compact {
		if fv.Field == field {
			v.compact[i].Value = val
			return false
		}
	}
	v.compact = append(v.compact, FieldValue{Field: field, Value: val})
	return true
}

func (v *hashValue) delete(field string) bool {
	if v.generic {
		_, ok := v.table[field]
		delete(v.table, field)
		return ok
	}
	for i, fv := range v.compact {
		if fv.Field == field {
			v.compact = append(v.compact[:i], v.compact[i+1:]...)
			return true
		}
	}
	return false
}

// convert flips the listpack into a hashtable. Never reversed, even when
// the hash later shrinks to nothing.
func (v *hashValue) convert() {
	if v.generic {
		return
	}
	v.table = make(map[string][]byte, len(v.compact))
	for _, fv := range v.compact {
		v.table[fv.Field] = fv.Value
	}
	v.compact = nil
	v.generic = true
}

// maybeConvert converts when an insertion crossed a threshold
func (v *hashValue) maybeConvert(l Limits, field string, val []byte) {
	if v.generic {
		return
	}
	if v.len() > l.HashMaxListpackEntries ||
		len(field) > l.HashMaxListpackValue ||
		len(val) > l.HashMaxListpackValue {
		v.convert()
	}
}

// fields returns all field-value pairs; listpack order is insertion order
func (v *hashValue) fields() []FieldValue {
	if !v.generic {
		return v.compact
	}
	out := make([]FieldValue, 0, len(v.table))
	for f, val := range v.table {
		out = append(out, FieldValue{Field: f, Value: val})
	}
	return out
}

func (s *Store) hashForRead(dbIdx int, key string) (*hashValue, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, nil
	}
	hv, ok := e.val.(*hashValue)
	if !ok {
		return nil, ErrWrongType
	}
	return hv, nil
}

func (s *Store) hashForWrite(dbIdx int, key string) (*Entry, *hashValue, error) {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		return nil, nil, nil
	}
	hv, ok := e.val.(*hashValue)
	if !ok {
		return nil, nil, ErrWrongType
	}
	return e, hv, nil
}

// HSet writes fields into the hash at key, creating it when absent, and
// returns the number of newly created fields
func (s *Store) HSet(dbIdx int, key string, pairs ...FieldValue) (int64, error) {
	e, hv, err := s.hashForWrite(dbIdx, key)
	if err != nil {
		return 0, err
	}
	fresh := false
	if hv == nil {
		hv = &hashValue{}
		fresh = true
	}

	added := int64(0)
	for _, fv := range pairs {
		if hv.set(fv.Field, cloneBytes(fv.Value)) {
			added++
		}
		hv.maybeConvert(s.limits, fv.Field, fv.Value)
	}

	if fresh {
		s.setEntry(dbIdx, key, &Entry{val: hv})
	} else {
		s.touched(e)
	}
	return added, nil
}

// HSetNX writes a field only when it does not exist yet
func (s *Store) HSetNX(dbIdx int, key, field string, val []byte) (bool, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil {
		return false, err
	}
	if hv != nil {
		if _, exists := hv.get(field); exists {
			return false, nil
		}
	}
	_, err = s.HSet(dbIdx, key, FieldValue{Field: field, Value: val})
	return err == nil, err
}

// HGet returns the value of one hash field
func (s *Store) HGet(dbIdx int, key, field string) ([]byte, bool, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil || hv == nil {
		return nil, false, err
	}
	val, ok := hv.get(field)
	return val, ok, nil
}

// HMGet returns the values of several hash fields, nil for missing ones
func (s *Store) HMGet(dbIdx int, key string, fields ...string) ([][]byte, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(fields))
	if hv == nil {
		return out, nil
	}
	for i, f := range fields {
		if val, ok := hv.get(f); ok {
			out[i] = val
		}
	}
	return out, nil
}

// HDel removes fields, deleting the key once the hash is empty
func (s *Store) HDel(dbIdx int, key string, fields ...string) (int64, error) {
	e, hv, err := s.hashForWrite(dbIdx, key)
	if err != nil || hv == nil {
		return 0, err
	}
	removed := int64(0)
	for _, f := range fields {
		if hv.delete(f) {
			removed++
		}
	}
	if removed > 0 {
		if hv.len() == 0 {
			s.removeEntry(dbIdx, key)
		} else {
			s.touched(e)
		}
	}
	return removed, nil
}

// HLen returns the number of fields in the hash
func (s *Store) HLen(dbIdx int, key string) (int64, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil || hv == nil {
		return 0, err
	}
	return int64(hv.len()), nil
}

// HExists reports whether a field exists
func (s *Store) HExists(dbIdx int, key, field string) (bool, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil || hv == nil {
		return false, err
	}
	_, ok := hv.get(field)
	return ok, nil
}

// HGetAll returns every field-value pair
func (s *Store) HGetAll(dbIdx int, key string) ([]FieldValue, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil || hv == nil {
		return nil, err
	}
	return hv.fields(), nil
}

// HIncrBy adds delta to the integer value of a hash field
func (s *Store) HIncrBy(dbIdx int, key, field string, delta int64) (int64, error) {
	e, hv, err := s.hashForWrite(dbIdx, key)
	if err != nil {
		return 0, err
	}
	cur := int64(0)
	if hv != nil {
		if raw, ok := hv.get(field); ok {
			parsed, perr := strconv.ParseInt(string(raw), 10, 64)
			if perr != nil {
				return 0, ErrNotInteger
			}
			cur = parsed
		}
	}
	if (delta > 0 && cur > math.MaxInt64-delta) || (delta < 0 && cur < math.MinInt64-delta) {
		return 0, ErrNotInteger
	}
	next := cur + delta
	data := []byte(strconv.FormatInt(next, 10))
	if hv == nil {
		if _, err := s.HSet(dbIdx, key, FieldValue{Field: field, Value: data}); err != nil {
			return 0, err
		}
	} else {
		hv.set(field, data)
		hv.maybeConvert(s.limits, field, data)
		s.touched(e)
	}
	return next, nil
}

// HIncrByFloat adds delta to the float value of a hash field and returns
// the canonical text of the result
func (s *Store) HIncrByFloat(dbIdx int, key, field string, delta float64) (string, error) {
	e, hv, err := s.hashForWrite(dbIdx, key)
	if err != nil {
		return "", err
	}
	cur := float64(0)
	if hv != nil {
		if raw, ok := hv.get(field); ok {
			parsed, perr := strconv.ParseFloat(string(raw), 64)
			if perr != nil {
				return "", ErrNotFloat
			}
			cur = parsed
		}
	}
	next := cur + delta
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return "", ErrNanResult
	}
	out := strconv.FormatFloat(next, 'f', -1, 64)
	data := []byte(out)
	if hv == nil {
		if _, err := s.HSet(dbIdx, key, FieldValue{Field: field, Value: data}); err != nil {
			return "", err
		}
	} else {
		hv.set(field, data)
		hv.maybeConvert(s.limits, field, data)
		s.touched(e)
	}
	return out, nil
}

// HRandField returns up to count random fields. A negative count allows
// repetitions, matching reference semantics. Never propagated.
func (s *Store) HRandField(dbIdx int, key string, count int64, rng *randv2.Rand) ([]FieldValue, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil || hv == nil {
		return nil, err
	}
	all := hv.fields()
	if len(all) == 0 {
		return nil, nil
	}

	if count < 0 {
		out := make([]FieldValue, -count)
		for i := range out {
			out[i] = all[rng.IntN(len(all))]
		}
		return out, nil
	}
	if count >= int64(len(all)) {
		return all, nil
	}
	idx := rng.Perm(len(all))[:count]
	out := make([]FieldValue, 0, count)
	for _, i := range idx {
		out = append(out, all[i])
	}
	return out, nil
}

// HScan iterates the hash with a resumable cursor
func (s *Store) HScan(dbIdx int, key string, cursor uint64, match string, count int64) (uint64, []FieldValue, error) {
	hv, err := s.hashForRead(dbIdx, key)
	if err != nil || hv == nil {
		return 0, nil, err
	}
	all := hv.fields()
	return scanWalk(all, cursor, count,
		func(fv FieldValue) string { return fv.Field },
		func(fv FieldValue) bool { return match == "" || MatchPattern(fv.Field, match) })
}
