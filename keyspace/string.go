package keyspace

import (
	"math"
	"strconv"
)

// SetOptions carries the conditional and expiry modifiers of SET
type SetOptions struct {
	NX       bool  // only set when absent
	XX       bool  // only set when present
	Get      bool  // return the previous value; fails on non-string keys
	KeepTTL  bool  // preserve the existing expiry
	ExpireAt int64 // absolute ms; 0 = clear/no expiry
}

// SetResult reports the outcome of a SET-class write
type SetResult struct {
	DidSet   bool
	Previous []byte // previous string value, for the GET modifier
	HadPrev  bool
}

// Get returns the string value of key
func (s *Store) Get(dbIdx int, key string) ([]byte, bool, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, false, nil
	}
	sv, ok := e.val.(*stringValue)
	if !ok {
		return nil, false, ErrWrongType
	}
	return sv.data, true, nil
}

// Set writes a string value under key honoring the SET modifiers. The
// returned previous value is only meaningful for string-typed keys; asking
// for GET against another type fails with ErrWrongType.
func (s *Store) Set(dbIdx int, key string, val []byte, opts SetOptions) (SetResult, error) {
	var res SetResult

	e := s.lookupRead(dbIdx, key)
	if e != nil {
		sv, isStr := e.val.(*stringValue)
		if opts.Get && !isStr {
			return res, ErrWrongType
		}
		if isStr {
			res.Previous = sv.data
			res.HadPrev = true
		}
		if opts.NX {
			return res, nil
		}
		expireAt := opts.ExpireAt
		if opts.KeepTTL {
			expireAt = e.expireAt
		}
		s.setEntry(dbIdx, key, &Entry{
			val:      &stringValue{data: cloneBytes(val)},
			expireAt: expireAt,
		})
		res.DidSet = true
		return res, nil
	}

	if opts.XX {
		return res, nil
	}
	s.setEntry(dbIdx, key, &Entry{
		val:      &stringValue{data: cloneBytes(val)},
		expireAt: opts.ExpireAt,
	})
	res.DidSet = true
	return res, nil
}

// GetDel returns and removes the string value of key
func (s *Store) GetDel(dbIdx int, key string) ([]byte, bool, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, false, nil
	}
	sv, ok := e.val.(*stringValue)
	if !ok {
		return nil, false, ErrWrongType
	}
	s.removeEntry(dbIdx, key)
	return sv.data, true, nil
}

// GetEx returns the string value of key, optionally adjusting its expiry:
// persist clears it, expireAt > 0 replaces it, neither leaves it alone.
func (s *Store) GetEx(dbIdx int, key string, expireAt int64, persist bool) ([]byte, bool, error) {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		return nil, false, nil
	}
	sv, ok := e.val.(*stringValue)
	if !ok {
		return nil, false, ErrWrongType
	}
	switch {
	case persist:
		if e.expireAt != 0 {
			e.expireAt = 0
			s.touched(e)
		}
	case expireAt > 0:
		e.expireAt = expireAt
		s.touched(e)
	}
	return sv.data, true, nil
}

// Append appends to the string value of key, creating it when absent, and
// returns the resulting length. The value becomes permanently raw-encoded.
func (s *Store) Append(dbIdx int, key string, suffix []byte) (int64, error) {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		s.setEntry(dbIdx, key, &Entry{val: &stringValue{data: cloneBytes(suffix), forceRaw: true}})
		return int64(len(suffix)), nil
	}
	sv, ok := e.val.(*stringValue)
	if !ok {
		return 0, ErrWrongType
	}
	sv.data = append(sv.data, suffix...)
	sv.forceRaw = true
	s.touched(e)
	return int64(len(sv.data)), nil
}

// StrLen returns the length of the string value of key
func (s *Store) StrLen(dbIdx int, key string) (int64, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return 0, nil
	}
	sv, ok := e.val.(*stringValue)
	if !ok {
		return 0, ErrWrongType
	}
	return int64(len(sv.data)), nil
}

// SetRange overwrites part of the string value of key starting at offset,
// zero-padding any gap, and returns the resulting length
func (s *Store) SetRange(dbIdx int, key string, offset int64, chunk []byte) (int64, error) {
	e := s.lookupWrite(dbIdx, key)
	var sv *stringValue
	if e == nil {
		if len(chunk) == 0 {
			return 0, nil
		}
		sv = &stringValue{forceRaw: true}
		e = &Entry{val: sv}
		defer s.setEntry(dbIdx, key, e)
	} else {
		var ok bool
		sv, ok = e.val.(*stringValue)
		if !ok {
			return 0, ErrWrongType
		}
		defer s.touched(e)
	}

	end := offset + int64(len(chunk))
	if int64(len(sv.data)) < end {
		grown := make([]byte, end)
		copy(grown, sv.data)
		sv.data = grown
	}
	copy(sv.data[offset:], chunk)
	sv.forceRaw = true
	return int64(len(sv.data)), nil
}

// GetRange returns the substring [start, stop] with negative offsets
// counting from the end
func (s *Store) GetRange(dbIdx int, key string, start, stop int64) ([]byte, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, nil
	}
	sv, ok := e.val.(*stringValue)
	if !ok {
		return nil, ErrWrongType
	}
	n := int64(len(sv.data))
	start, stop, empty := clampRange(start, stop, n)
	if empty {
		return nil, nil
	}
	return sv.data[start : stop+1], nil
}

// IncrBy adds delta to the integer value of key, creating it at zero
func (s *Store) IncrBy(dbIdx int, key string, delta int64) (int64, error) {
	e := s.lookupWrite(dbIdx, key)
	cur := int64(0)
	if e != nil {
		sv, ok := e.val.(*stringValue)
		if !ok {
			return 0, ErrWrongType
		}
		parsed, err := strconv.ParseInt(string(sv.data), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		cur = parsed
	}

	if (delta > 0 && cur > math.MaxInt64-delta) || (delta < 0 && cur < math.MinInt64-delta) {
		return 0, ErrNotInteger
	}
	next := cur + delta

	data := []byte(strconv.FormatInt(next, 10))
	if e != nil {
		sv := e.val.(*stringValue)
		sv.data = data
		sv.forceRaw = false
		s.touched(e)
	} else {
		s.setEntry(dbIdx, key, &Entry{val: &stringValue{data: data}})
	}
	return next, nil
}

// IncrByFloat adds delta to the float value of key and returns the new
// value's canonical text form, which is also what gets propagated
func (s *Store) IncrByFloat(dbIdx int, key string, delta float64) (string, error) {
	e := s.lookupWrite(dbIdx, key)
	cur := float64(0)
	if e != nil {
		sv, ok := e.val.(*stringValue)
		if !ok {
			return "", ErrWrongType
		}
		parsed, err := strconv.ParseFloat(string(sv.data), 64)
		if err != nil {
			return "", ErrNotFloat
		}
		cur = parsed
	}

	next := cur + delta
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return "", ErrNanResult
	}

	out := strconv.FormatFloat(next, 'f', -1, 64)
	data := []byte(out)
	if e != nil {
		sv := e.val.(*stringValue)
		sv.data = data
		sv.forceRaw = false
		s.touched(e)
	} else {
		s.setEntry(dbIdx, key, &Entry{val: &stringValue{data: data}})
	}
	return out, nil
}

// clampRange normalizes negative offsets and clamps [start, stop] into
// [0, n-1]; empty reports an empty result
func clampRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
		if stop < 0 {
			return 0, 0, true
		}
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, true
	}
	return start, stop, false
}
