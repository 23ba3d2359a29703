package keyspace

import "bytes"

// listValue stores a list of byte-string elements. The compact listpack
// encoding upgrades to quicklist once size thresholds are crossed; only the
// reported tag changes, the backing layout is shared.
type listValue struct {
	elems   [][]byte
	generic bool
}

func (v *listValue) typeOf() ValueType { return TypeList }

func (v *listValue) encoding() Encoding {
	if v.generic {
		return EncQuicklist
	}
	return EncListpack
}

func (v *listValue) clone() value {
	return &listValue{elems: cloneByteSlices(v.elems), generic: v.generic}
}

func (v *listValue) maybeConvert(l Limits, inserted []byte) {
	if v.generic {
		return
	}
	if len(v.elems) > l.ListMaxListpackEntries || len(inserted) > l.ListMaxListpackValue {
		v.generic = true
	}
}

func (s *Store) listForRead(dbIdx int, key string) (*listValue, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, nil
	}
	lv, ok := e.val.(*listValue)
	if !ok {
		return nil, ErrWrongType
	}
	return lv, nil
}

func (s *Store) listForWrite(dbIdx int, key string) (*Entry, *listValue, error) {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		return nil, nil, nil
	}
	lv, ok := e.val.(*listValue)
	if !ok {
		return nil, nil, ErrWrongType
	}
	return e, lv, nil
}

// LPush prepends values, creating the list when absent unless onlyExisting
func (s *Store) LPush(dbIdx int, key string, onlyExisting bool, vals ...[]byte) (int64, error) {
	return s.listPush(dbIdx, key, true, onlyExisting, vals)
}

// RPush appends values, creating the list when absent unless onlyExisting
func (s *Store) RPush(dbIdx int, key string, onlyExisting bool, vals ...[]byte) (int64, error) {
	return s.listPush(dbIdx, key, false, onlyExisting, vals)
}

func (s *Store) listPush(dbIdx int, key string, left, onlyExisting bool, vals [][]byte) (int64, error) {
	e, lv, err := s.listForWrite(dbIdx, key)
	if err != nil {
		return 0, err
	}
	fresh := false
	if lv == nil {
		if onlyExisting {
			return 0, nil
		}
		lv = &listValue{}
		fresh = true
	}

	for _, val := range vals {
		v := cloneBytes(val)
		if left {
			lv.elems = append([][]byte{v}, lv.elems...)
		} else {
			lv.elems = append(lv.elems, v)
		}
		lv.maybeConvert(s.limits, v)
	}

	if fresh {
		s.setEntry(dbIdx, key, &Entry{val: lv})
	} else {
		s.touched(e)
	}
	return int64(len(lv.elems)), nil
}

// LPop removes and returns up to count elements from the head
func (s *Store) LPop(dbIdx int, key string, count int64) ([][]byte, error) {
	return s.listPop(dbIdx, key, true, count)
}

// RPop removes and returns up to count elements from the tail
func (s *Store) RPop(dbIdx int, key string, count int64) ([][]byte, error) {
	return s.listPop(dbIdx, key, false, count)
}

func (s *Store) listPop(dbIdx int, key string, left bool, count int64) ([][]byte, error) {
	e, lv, err := s.listForWrite(dbIdx, key)
	if err != nil || lv == nil {
		return nil, err
	}
	if count > int64(len(lv.elems)) {
		count = int64(len(lv.elems))
	}
	if count <= 0 {
		return nil, nil
	}

	out := make([][]byte, count)
	if left {
		copy(out, lv.elems[:count])
		lv.elems = lv.elems[count:]
	} else {
		n := int64(len(lv.elems))
		copy(out, lv.elems[n-count:])
		lv.elems = lv.elems[:n-count]
		// tail pops come out nearest-tail first
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	if len(lv.elems) == 0 {
		s.removeEntry(dbIdx, key)
	} else {
		s.touched(e)
	}
	return out, nil
}

// LLen returns the list length
func (s *Store) LLen(dbIdx int, key string) (int64, error) {
	lv, err := s.listForRead(dbIdx, key)
	if err != nil || lv == nil {
		return 0, err
	}
	return int64(len(lv.elems)), nil
}

// LRange returns the elements in [start, stop]
func (s *Store) LRange(dbIdx int, key string, start, stop int64) ([][]byte, error) {
	lv, err := s.listForRead(dbIdx, key)
	if err != nil || lv == nil {
		return nil, err
	}
	start, stop, empty := clampRange(start, stop, int64(len(lv.elems)))
	if empty {
		return nil, nil
	}
	return lv.elems[start : stop+1], nil
}

// LIndex returns the element at index, negative counting from the tail
func (s *Store) LIndex(dbIdx int, key string, index int64) ([]byte, bool, error) {
	lv, err := s.listForRead(dbIdx, key)
	if err != nil || lv == nil {
		return nil, false, err
	}
	n := int64(len(lv.elems))
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil, false, nil
	}
	return lv.elems[index], true, nil
}

// LSet overwrites the element at index
func (s *Store) LSet(dbIdx int, key string, index int64, val []byte) error {
	e, lv, err := s.listForWrite(dbIdx, key)
	if err != nil {
		return err
	}
	if lv == nil {
		return ErrNoSuchKey
	}
	n := int64(len(lv.elems))
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return ErrIndexOutOfRange
	}
	lv.elems[index] = cloneBytes(val)
	lv.maybeConvert(s.limits, val)
	s.touched(e)
	return nil
}

// LRem removes up to count occurrences of val: count > 0 from the head,
// count < 0 from the tail, 0 removes all
func (s *Store) LRem(dbIdx int, key string, count int64, val []byte) (int64, error) {
	e, lv, err := s.listForWrite(dbIdx, key)
	if err != nil || lv == nil {
		return 0, err
	}

	removed := int64(0)
	keep := lv.elems[:0]
	if count >= 0 {
		limit := count
		for _, el := range lv.elems {
			if (limit == 0 || removed < limit) && bytes.Equal(el, val) {
				removed++
				continue
			}
			keep = append(keep, el)
		}
	} else {
		limit := -count
		n := len(lv.elems)
		kept := make([][]byte, 0, n)
		for i := n - 1; i >= 0; i-- {
			if removed < limit && bytes.Equal(lv.elems[i], val) {
				removed++
				continue
			}
			kept = append(kept, lv.elems[i])
		}
		for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
			kept[i], kept[j] = kept[j], kept[i]
		}
		keep = kept
	}
	lv.elems = keep

	if removed > 0 {
		if len(lv.elems) == 0 {
			s.removeEntry(dbIdx, key)
		} else {
			s.touched(e)
		}
	}
	return removed, nil
}

// LTrim keeps only the elements in [start, stop]
func (s *Store) LTrim(dbIdx int, key string, start, stop int64) error {
	e, lv, err := s.listForWrite(dbIdx, key)
	if err != nil || lv == nil {
		return err
	}
	first, last, empty := clampRange(start, stop, int64(len(lv.elems)))
	if empty {
		s.removeEntry(dbIdx, key)
		return nil
	}
	lv.elems = lv.elems[first : last+1]
	s.touched(e)
	return nil
}
