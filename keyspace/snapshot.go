package keyspace

import "fmt"

// Materialized is an encoding-independent deep copy of one value. It is the
// currency of snapshot save, DUMP/RESTORE payloads and full-sync transfer:
// the physical encoding is never serialized, only the logical content, and
// rebuilding re-derives encodings from the configured thresholds.
type Materialized struct {
	Type   ValueType
	Str    []byte
	Hash   []FieldValue
	List   [][]byte
	Set    []string
	ZSet   []ScoredMember
	Stream *StreamSnapshot
}

// StreamSnapshot captures a stream with its consumer-group state
type StreamSnapshot struct {
	Entries    []StreamEntry
	LastID     StreamID
	MaxDeleted StreamID
	Added      uint64
	Groups     []GroupSnapshot
}

// GroupSnapshot captures one consumer group
type GroupSnapshot struct {
	Name          string
	LastDelivered StreamID
	Pending       []PendingEntry
	Consumers     []string
}

// KeySnapshot is one key with its value and expiry, as exported
type KeySnapshot struct {
	Key      string
	ExpireAt int64 // unix ms, 0 = no expiry
	Value    Materialized
}

// materialize deep-copies a live value into its logical form
func materialize(v value) Materialized {
	switch tv := v.(type) {
	case *stringValue:
		return Materialized{Type: TypeString, Str: cloneBytes(tv.data)}
	case *hashValue:
		pairs := tv.fields()
		out := make([]FieldValue, len(pairs))
		for i, fv := range pairs {
			out[i] = FieldValue{Field: fv.Field, Value: cloneBytes(fv.Value)}
		}
		return Materialized{Type: TypeHash, Hash: out}
	case *listValue:
		return Materialized{Type: TypeList, List: cloneByteSlices(tv.elems)}
	case *setValue:
		return Materialized{Type: TypeSet, Set: tv.members()}
	case *zsetValue:
		return Materialized{Type: TypeZSet, ZSet: append([]ScoredMember(nil), tv.ordered()...)}
	case *streamValue:
		cp := tv.clone().(*streamValue)
		snap := &StreamSnapshot{
			Entries:    cp.entries,
			LastID:     cp.lastID,
			MaxDeleted: cp.maxDelete,
			Added:      cp.added,
		}
		for name, g := range cp.groups {
			gs := GroupSnapshot{Name: name, LastDelivered: g.lastDelivered}
			for _, pe := range g.pending {
				gs.Pending = append(gs.Pending, *pe)
			}
			for c := range g.consumers {
				gs.Consumers = append(gs.Consumers, c)
			}
			snap.Groups = append(snap.Groups, gs)
		}
		return Materialized{Type: TypeStream, Stream: snap}
	}
	return Materialized{}
}

// buildValue rebuilds a live value from its logical form, re-deriving the
// physical encoding from the store limits
func buildValue(m Materialized, l Limits) (value, error) {
	switch m.Type {
	case TypeString:
		return &stringValue{data: cloneBytes(m.Str)}, nil
	case TypeHash:
		hv := &hashValue{}
		for _, fv := range m.Hash {
			hv.set(fv.Field, cloneBytes(fv.Value))
			hv.maybeConvert(l, fv.Field, fv.Value)
		}
		return hv, nil
	case TypeList:
		lv := &listValue{elems: cloneByteSlices(m.List)}
		for _, el := range m.List {
			lv.maybeConvert(l, el)
		}
		return lv, nil
	case TypeSet:
		sv := newSetValue()
		for _, member := range m.Set {
			sv.add(member, l)
		}
		return sv, nil
	case TypeZSet:
		zv := &zsetValue{}
		for _, sm := range m.ZSet {
			zv.insert(sm.Member, sm.Score)
			zv.maybeConvert(l, sm.Member)
		}
		return zv, nil
	case TypeStream:
		if m.Stream == nil {
			return nil, fmt.Errorf("stream payload missing")
		}
		xv := &streamValue{
			lastID:    m.Stream.LastID,
			maxDelete: m.Stream.MaxDeleted,
			added:     m.Stream.Added,
		}
		for _, ent := range m.Stream.Entries {
			fields := make([]FieldValue, len(ent.Fields))
			for i, fv := range ent.Fields {
				fields[i] = FieldValue{Field: fv.Field, Value: cloneBytes(fv.Value)}
			}
			xv.entries = append(xv.entries, StreamEntry{ID: ent.ID, Fields: fields})
		}
		if len(m.Stream.Groups) > 0 {
			xv.groups = make(map[string]*streamGroup, len(m.Stream.Groups))
			for _, gs := range m.Stream.Groups {
				g := &streamGroup{
					lastDelivered: gs.LastDelivered,
					pending:       make(map[StreamID]*PendingEntry, len(gs.Pending)),
					consumers:     make(map[string]struct{}, len(gs.Consumers)),
				}
				for _, pe := range gs.Pending {
					cp := pe
					g.pending[pe.ID] = &cp
				}
				for _, c := range gs.Consumers {
					g.consumers[c] = struct{}{}
				}
				xv.groups[gs.Name] = g
			}
		}
		return xv, nil
	}
	return nil, fmt.Errorf("unknown value type %d", m.Type)
}

// Materialize deep-copies the live value at key into its logical form
func (s *Store) Materialize(dbIdx int, key string) (Materialized, int64, bool) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return Materialized{}, 0, false
	}
	return materialize(e.val), e.expireAt, true
}

// SnapshotDB exports every live key of one database. Shards are walked
// under read locks so a background save never blocks the executor for the
// whole pass.
func (s *Store) SnapshotDB(dbIdx int) []KeySnapshot {
	db := s.db(dbIdx)
	now := s.Now()
	out := make([]KeySnapshot, 0)
	for i := 0; i < s.shards; i++ {
		sh := &db.shards[i]
		sh.mu.RLock()
		for key, e := range sh.data {
			if e.expiredAt(now) {
				continue
			}
			out = append(out, KeySnapshot{
				Key:      key,
				ExpireAt: e.expireAt,
				Value:    materialize(e.val),
			})
		}
		sh.mu.RUnlock()
	}
	return out
}

// RestoreSnapshot installs exported keys into a database, overwriting any
// current values. Already-elapsed expiries are skipped rather than loaded.
func (s *Store) RestoreSnapshot(dbIdx int, keys []KeySnapshot) error {
	now := s.Now()
	for _, ks := range keys {
		if ks.ExpireAt != 0 && ks.ExpireAt <= now {
			continue
		}
		if err := s.RestoreEntry(dbIdx, ks.Key, ks.Value, ks.ExpireAt); err != nil {
			return err
		}
	}
	return nil
}
