package keyspace

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// StreamID identifies one stream entry. IDs are totally ordered by
// (Ms, Seq) and every appended entry must exceed the last one.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Less reports whether id orders strictly before other
func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

func (id StreamID) next() StreamID {
	if id.Seq == math.MaxUint64 {
		return StreamID{Ms: id.Ms + 1, Seq: 0}
	}
	return StreamID{Ms: id.Ms, Seq: id.Seq + 1}
}

// ParseStreamID parses "ms-seq" or a bare "ms"; defaultSeq fills a
// missing sequence so range starts and ends resolve differently
func ParseStreamID(raw string, defaultSeq uint64) (StreamID, error) {
	ms, seq := raw, ""
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		ms, seq = raw[:i], raw[i+1:]
	}
	m, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if seq == "" {
		return StreamID{Ms: m, Seq: defaultSeq}, nil
	}
	sq, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: m, Seq: sq}, nil
}

// ParseRangeStart resolves "-" to the smallest id
func ParseRangeStart(raw string) (StreamID, error) {
	if raw == "-" {
		return StreamID{}, nil
	}
	return ParseStreamID(raw, 0)
}

// ParseRangeEnd resolves "+" to the largest id
func ParseRangeEnd(raw string) (StreamID, error) {
	if raw == "+" {
		return StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}, nil
	}
	return ParseStreamID(raw, math.MaxUint64)
}

// StreamEntry is one appended record with its field-value pairs
type StreamEntry struct {
	ID     StreamID
	Fields []FieldValue
}

// PendingEntry records one delivered-but-unacknowledged entry in a
// consumer group. Keyed by id value in the group table, never by pointer.
type PendingEntry struct {
	ID            StreamID
	Consumer      string
	DeliveryTime  int64
	DeliveryCount int64
}

type streamGroup struct {
	lastDelivered StreamID
	pending       map[StreamID]*PendingEntry
	consumers     map[string]struct{}
}

// streamValue stores an append-only log of entries plus its consumer
// groups. Entries stay sorted by id; XDEL leaves holes without renumbering.
type streamValue struct {
	entries   []StreamEntry
	lastID    StreamID
	maxDelete StreamID
	added     uint64
	groups    map[string]*streamGroup
}

func (v *streamValue) typeOf() ValueType  { return TypeStream }
func (v *streamValue) encoding() Encoding { return EncStream }

func (v *streamValue) clone() value {
	out := &streamValue{
		lastID:    v.lastID,
		maxDelete: v.maxDelete,
		added:     v.added,
	}
	out.entries = make([]StreamEntry, len(v.entries))
	for i, e := range v.entries {
		fields := make([]FieldValue, len(e.Fields))
		for j, fv := range e.Fields {
			fields[j] = FieldValue{Field: fv.Field, Value: cloneBytes(fv.Value)}
		}
		out.entries[i] = StreamEntry{ID: e.ID, Fields: fields}
	}
	if v.groups != nil {
		out.groups = make(map[string]*streamGroup, len(v.groups))
		for name, g := range v.groups {
			ng := &streamGroup{
				lastDelivered: g.lastDelivered,
				pending:       make(map[StreamID]*PendingEntry, len(g.pending)),
				consumers:     make(map[string]struct{}, len(g.consumers)),
			}
			for id, pe := range g.pending {
				cp := *pe
				ng.pending[id] = &cp
			}
			for c := range g.consumers {
				ng.consumers[c] = struct{}{}
			}
			out.groups[name] = ng
		}
	}
	return out
}

// find returns the index of the first entry with id >= target
func (v *streamValue) find(target StreamID) int {
	return sort.Search(len(v.entries), func(i int) bool {
		return !v.entries[i].ID.Less(target)
	})
}

func (v *streamValue) entryAt(id StreamID) (StreamEntry, bool) {
	i := v.find(id)
	if i < len(v.entries) && v.entries[i].ID == id {
		return v.entries[i], true
	}
	return StreamEntry{}, false
}

func (s *Store) streamForRead(dbIdx int, key string) (*streamValue, error) {
	e := s.lookupRead(dbIdx, key)
	if e == nil {
		return nil, nil
	}
	xv, ok := e.val.(*streamValue)
	if !ok {
		return nil, ErrWrongType
	}
	return xv, nil
}

func (s *Store) streamForWrite(dbIdx int, key string) (*Entry, *streamValue, error) {
	e := s.lookupWrite(dbIdx, key)
	if e == nil {
		return nil, nil, nil
	}
	xv, ok := e.val.(*streamValue)
	if !ok {
		return nil, nil, ErrWrongType
	}
	return e, xv, nil
}

// XAddID resolves the id for an append: "*" takes the clock, "ms-*" takes
// the next sequence under that millisecond. Explicit ids must exceed the
// stream's last id.
type XAddID struct {
	Auto    bool   // "*"
	AutoSeq bool   // "ms-*"
	ID      StreamID
}

// ParseXAddID parses the id argument of an append
func ParseXAddID(raw string) (XAddID, error) {
	if raw == "*" {
		return XAddID{Auto: true}, nil
	}
	if strings.HasSuffix(raw, "-*") {
		ms, err := strconv.ParseUint(raw[:len(raw)-2], 10, 64)
		if err != nil {
			return XAddID{}, ErrInvalidStreamID
		}
		return XAddID{AutoSeq: true, ID: StreamID{Ms: ms}}, nil
	}
	id, err := ParseStreamID(raw, 0)
	if err != nil {
		return XAddID{}, err
	}
	return XAddID{ID: id}, nil
}

// XAdd appends an entry, creating the stream when absent unless noMkStream.
// The resolved id is returned so auto ids can be propagated explicitly.
func (s *Store) XAdd(dbIdx int, key string, spec XAddID, fields []FieldValue, noMkStream bool) (StreamID, bool, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil {
		return StreamID{}, false, err
	}
	fresh := false
	if xv == nil {
		if noMkStream {
			return StreamID{}, false, nil
		}
		xv = &streamValue{}
		fresh = true
	}

	var id StreamID
	switch {
	case spec.Auto:
		now := uint64(s.Now())
		if now > xv.lastID.Ms {
			id = StreamID{Ms: now}
		} else {
			id = xv.lastID.next()
		}
	case spec.AutoSeq:
		if spec.ID.Ms < xv.lastID.Ms {
			return StreamID{}, false, ErrStreamIDTooSmall
		}
		if spec.ID.Ms == xv.lastID.Ms {
			id = xv.lastID.next()
		} else {
			id = StreamID{Ms: spec.ID.Ms}
		}
	default:
		id = spec.ID
		if xv.added > 0 || xv.lastID != (StreamID{}) {
			if !xv.lastID.Less(id) {
				return StreamID{}, false, ErrStreamIDTooSmall
			}
		} else if id == (StreamID{}) {
			return StreamID{}, false, fmt.Errorf("The ID specified in XADD must be greater than 0-0")
		}
	}

	cp := make([]FieldValue, len(fields))
	for i, fv := range fields {
		cp[i] = FieldValue{Field: fv.Field, Value: cloneBytes(fv.Value)}
	}
	xv.entries = append(xv.entries, StreamEntry{ID: id, Fields: cp})
	xv.lastID = id
	xv.added++

	if fresh {
		s.setEntry(dbIdx, key, &Entry{val: xv})
	} else {
		s.touched(e)
	}
	return id, true, nil
}

// XLen returns the number of live entries
func (s *Store) XLen(dbIdx int, key string) (int64, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		return 0, err
	}
	return int64(len(xv.entries)), nil
}

// XRange returns the entries with ids in [start, end], at most count when
// count > 0
func (s *Store) XRange(dbIdx int, key string, start, end StreamID, count int64) ([]StreamEntry, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		return nil, err
	}
	out := make([]StreamEntry, 0)
	for i := xv.find(start); i < len(xv.entries); i++ {
		if end.Less(xv.entries[i].ID) {
			break
		}
		out = append(out, xv.entries[i])
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// XRevRange returns the entries with ids in [start, end] from highest to
// lowest
func (s *Store) XRevRange(dbIdx int, key string, start, end StreamID, count int64) ([]StreamEntry, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		return nil, err
	}
	out := make([]StreamEntry, 0)
	for i := len(xv.entries) - 1; i >= 0; i-- {
		id := xv.entries[i].ID
		if end.Less(id) {
			continue
		}
		if id.Less(start) {
			break
		}
		out = append(out, xv.entries[i])
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// XRead returns the entries strictly after the given id
func (s *Store) XRead(dbIdx int, key string, after StreamID, count int64) ([]StreamEntry, error) {
	return s.XRange(dbIdx, key, after.next(), StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}, count)
}

// XDel removes entries by id, leaving holes in the sequence
func (s *Store) XDel(dbIdx int, key string, ids ...StreamID) (int64, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		return 0, err
	}
	removed := int64(0)
	for _, id := range ids {
		i := xv.find(id)
		if i < len(xv.entries) && xv.entries[i].ID == id {
			xv.entries = append(xv.entries[:i], xv.entries[i+1:]...)
			if xv.maxDelete.Less(id) {
				xv.maxDelete = id
			}
			removed++
		}
	}
	if removed > 0 {
		s.touched(e)
	}
	return removed, nil
}

// XTrimMaxLen evicts oldest entries until at most maxLen remain
func (s *Store) XTrimMaxLen(dbIdx int, key string, maxLen int64) (int64, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		return 0, err
	}
	if maxLen < 0 {
		maxLen = 0
	}
	excess := int64(len(xv.entries)) - maxLen
	if excess <= 0 {
		return 0, nil
	}
	for _, ent := range xv.entries[:excess] {
		if xv.maxDelete.Less(ent.ID) {
			xv.maxDelete = ent.ID
		}
	}
	xv.entries = append([]StreamEntry(nil), xv.entries[excess:]...)
	s.touched(e)
	return excess, nil
}

// XTrimMinID evicts every entry with id below minID
func (s *Store) XTrimMinID(dbIdx int, key string, minID StreamID) (int64, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		return 0, err
	}
	cut := xv.find(minID)
	if cut == 0 {
		return 0, nil
	}
	for _, ent := range xv.entries[:cut] {
		if xv.maxDelete.Less(ent.ID) {
			xv.maxDelete = ent.ID
		}
	}
	xv.entries = append([]StreamEntry(nil), xv.entries[cut:]...)
	s.touched(e)
	return int64(cut), nil
}

// XSetID forces the stream's last id, used when replaying external state
func (s *Store) XSetID(dbIdx int, key string, id StreamID) error {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil {
		return err
	}
	if xv == nil {
		return ErrNoSuchKey
	}
	if len(xv.entries) > 0 && id.Less(xv.entries[len(xv.entries)-1].ID) {
		return fmt.Errorf("The ID specified in XSETID is smaller than the target stream top item")
	}
	xv.lastID = id
	s.touched(e)
	return nil
}

// XGroupCreate registers a consumer group starting after the given id.
// "$"-style starts resolve to the stream's last id before calling.
func (s *Store) XGroupCreate(dbIdx int, key, group string, start StreamID, mkStream bool) error {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil {
		return err
	}
	if xv == nil {
		if !mkStream {
			return ErrNoSuchKey
		}
		xv = &streamValue{}
		s.setEntry(dbIdx, key, &Entry{val: xv})
		e = nil
	}
	if xv.groups == nil {
		xv.groups = make(map[string]*streamGroup)
	}
	if _, exists := xv.groups[group]; exists {
		return ErrGroupExists
	}
	xv.groups[group] = &streamGroup{
		lastDelivered: start,
		pending:       make(map[StreamID]*PendingEntry),
		consumers:     make(map[string]struct{}),
	}
	if e != nil {
		s.touched(e)
	}
	return nil
}

// XGroupSetID repositions a group's delivery cursor
func (s *Store) XGroupSetID(dbIdx int, key, group string, id StreamID) error {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil {
		return err
	}
	if xv == nil {
		return ErrNoSuchKey
	}
	g, ok := xv.groups[group]
	if !ok {
		return ErrNoGroup
	}
	g.lastDelivered = id
	s.touched(e)
	return nil
}

// XGroupDestroy removes a group with all its pending state
func (s *Store) XGroupDestroy(dbIdx int, key, group string) (bool, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		return false, err
	}
	if _, ok := xv.groups[group]; !ok {
		return false, nil
	}
	delete(xv.groups, group)
	s.touched(e)
	return true, nil
}

// XGroupDelConsumer removes a consumer, returning how many pending entries
// it abandoned
func (s *Store) XGroupDelConsumer(dbIdx int, key, group, consumer string) (int64, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		return 0, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return 0, ErrNoGroup
	}
	dropped := int64(0)
	for id, pe := range g.pending {
		if pe.Consumer == consumer {
			delete(g.pending, id)
			dropped++
		}
	}
	delete(g.consumers, consumer)
	s.touched(e)
	return dropped, nil
}

// XReadGroup delivers entries after the group cursor to the consumer,
// recording each delivery in the pending table
func (s *Store) XReadGroup(dbIdx int, key, group, consumer string, count int64, noAck bool) ([]StreamEntry, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return nil, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return nil, ErrNoGroup
	}
	g.consumers[consumer] = struct{}{}

	out := make([]StreamEntry, 0)
	now := s.Now()
	for i := xv.find(g.lastDelivered.next()); i < len(xv.entries); i++ {
		ent := xv.entries[i]
		out = append(out, ent)
		g.lastDelivered = ent.ID
		if !noAck {
			g.pending[ent.ID] = &PendingEntry{
				ID:            ent.ID,
				Consumer:      consumer,
				DeliveryTime:  now,
				DeliveryCount: 1,
			}
		}
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	if len(out) > 0 {
		s.touched(e)
	}
	return out, nil
}

// XReadGroupPending re-delivers entries from the consumer's own pending
// list with ids above after
func (s *Store) XReadGroupPending(dbIdx int, key, group, consumer string, after StreamID, count int64) ([]StreamEntry, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return nil, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return nil, ErrNoGroup
	}
	ids := make([]StreamID, 0)
	for id, pe := range g.pending {
		if pe.Consumer == consumer && after.Less(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	out := make([]StreamEntry, 0, len(ids))
	for _, id := range ids {
		if ent, ok := xv.entryAt(id); ok {
			out = append(out, ent)
		} else {
			// deleted entries still appear with nil fields
			out = append(out, StreamEntry{ID: id})
		}
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// XAck acknowledges pending entries, removing them from the group table
func (s *Store) XAck(dbIdx int, key, group string, ids ...StreamID) (int64, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		return 0, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return 0, nil
	}
	acked := int64(0)
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			acked++
		}
	}
	if acked > 0 {
		s.touched(e)
	}
	return acked, nil
}

// XClaim transfers pending entries to a new consumer when their idle time
// exceeds minIdle. Claimed ids are returned so a replica can replay the
// exact ownership change.
func (s *Store) XClaim(dbIdx int, key, group, consumer string, minIdle int64, ids []StreamID, justID, force bool) ([]StreamEntry, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return nil, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return nil, ErrNoGroup
	}
	g.consumers[consumer] = struct{}{}

	now := s.Now()
	out := make([]StreamEntry, 0, len(ids))
	for _, id := range ids {
		pe, pending := g.pending[id]
		ent, alive := xv.entryAt(id)
		if !pending {
			if !force || !alive {
				continue
			}
			pe = &PendingEntry{ID: id, DeliveryTime: now}
			g.pending[id] = pe
		}
		if now-pe.DeliveryTime < minIdle {
			continue
		}
		if !alive {
			// claiming a deleted entry drops it from the table
			delete(g.pending, id)
			continue
		}
		pe.Consumer = consumer
		pe.DeliveryTime = now
		if !justID {
			pe.DeliveryCount++
		}
		out = append(out, ent)
	}
	if len(out) > 0 {
		s.touched(e)
	}
	return out, nil
}

// XClaimExact installs exact pending-entry bookkeeping for one id: owner,
// delivery time and retry count arrive verbatim. This is the replica-side
// form of a claim record; the group cursor advances so a promoted replica
// does not redeliver the entry.
func (s *Store) XClaimExact(dbIdx int, key, group, consumer string, id StreamID, deliveryTime, deliveryCount int64) error {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return err
	}
	g, ok := xv.groups[group]
	if !ok {
		return ErrNoGroup
	}
	g.consumers[consumer] = struct{}{}
	if _, alive := xv.entryAt(id); !alive {
		delete(g.pending, id)
		s.touched(e)
		return nil
	}
	pe, ok := g.pending[id]
	if !ok {
		pe = &PendingEntry{ID: id}
		g.pending[id] = pe
	}
	pe.Consumer = consumer
	pe.DeliveryTime = deliveryTime
	pe.DeliveryCount = deliveryCount
	if g.lastDelivered.Less(id) {
		g.lastDelivered = id
	}
	s.touched(e)
	return nil
}

// XPendingEntry returns the pending-entry bookkeeping of one id
func (s *Store) XPendingEntry(dbIdx int, key, group string, id StreamID) (PendingEntry, bool, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return PendingEntry{}, false, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return PendingEntry{}, false, ErrNoGroup
	}
	pe, ok := g.pending[id]
	if !ok {
		return PendingEntry{}, false, nil
	}
	return *pe, true, nil
}

// XAutoClaim scans pending entries from start, claiming every one idle for
// at least minIdle, and returns the cursor to resume from
func (s *Store) XAutoClaim(dbIdx int, key, group, consumer string, minIdle int64, start StreamID, count int64) (StreamID, []StreamEntry, []StreamID, error) {
	e, xv, err := s.streamForWrite(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return StreamID{}, nil, nil, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return StreamID{}, nil, nil, ErrNoGroup
	}
	g.consumers[consumer] = struct{}{}

	ids := make([]StreamID, 0, len(g.pending))
	for id := range g.pending {
		if !id.Less(start) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	now := s.Now()
	claimed := make([]StreamEntry, 0)
	deleted := make([]StreamID, 0)
	cursor := StreamID{}
	for i, id := range ids {
		if count > 0 && int64(len(claimed)) >= count {
			cursor = ids[i]
			break
		}
		pe := g.pending[id]
		if now-pe.DeliveryTime < minIdle {
			continue
		}
		ent, alive := xv.entryAt(id)
		if !alive {
			delete(g.pending, id)
			deleted = append(deleted, id)
			continue
		}
		pe.Consumer = consumer
		pe.DeliveryTime = now
		pe.DeliveryCount++
		claimed = append(claimed, ent)
	}
	if len(claimed) > 0 || len(deleted) > 0 {
		s.touched(e)
	}
	return cursor, claimed, deleted, nil
}

// XPendingSummary is the short form of XPENDING
type XPendingSummary struct {
	Count     int64
	MinID     StreamID
	MaxID     StreamID
	Consumers map[string]int64
}

// XPending summarizes a group's pending entries
func (s *Store) XPending(dbIdx int, key, group string) (XPendingSummary, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return XPendingSummary{}, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return XPendingSummary{}, ErrNoGroup
	}
	sum := XPendingSummary{Consumers: make(map[string]int64)}
	first := true
	for id, pe := range g.pending {
		sum.Count++
		sum.Consumers[pe.Consumer]++
		if first || id.Less(sum.MinID) {
			sum.MinID = id
		}
		if first || sum.MaxID.Less(id) {
			sum.MaxID = id
		}
		first = false
	}
	return sum, nil
}

// XPendingRange lists pending entries with ids in [start, end], optionally
// filtered to one consumer
func (s *Store) XPendingRange(dbIdx int, key, group, consumer string, start, end StreamID, count int64) ([]PendingEntry, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		if err == nil {
			err = ErrNoGroup
		}
		return nil, err
	}
	g, ok := xv.groups[group]
	if !ok {
		return nil, ErrNoGroup
	}
	ids := make([]StreamID, 0, len(g.pending))
	for id, pe := range g.pending {
		if id.Less(start) || end.Less(id) {
			continue
		}
		if consumer != "" && pe.Consumer != consumer {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	out := make([]PendingEntry, 0, len(ids))
	for _, id := range ids {
		pe := g.pending[id]
		out = append(out, PendingEntry{
			ID:            id,
			Consumer:      pe.Consumer,
			DeliveryTime:  pe.DeliveryTime,
			DeliveryCount: pe.DeliveryCount,
		})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// LastStreamID returns the stream's high-water id for "$" resolution
func (s *Store) LastStreamID(dbIdx int, key string) (StreamID, error) {
	xv, err := s.streamForRead(dbIdx, key)
	if err != nil || xv == nil {
		return StreamID{}, err
	}
	return xv.lastID, nil
}
