package keyspace_test

import (
	"testing"

	"github.com/halcyonkv/halcyon/keyspace"
)

func xadd(t *testing.T, s *keyspace.Store, key, id string, fields ...string) keyspace.StreamID {
	t.Helper()
	spec, err := keyspace.ParseXAddID(id)
	if err != nil {
		t.Fatalf("ParseXAddID(%q) error = %v", id, err)
	}
	fvs := make([]keyspace.FieldValue, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		fvs = append(fvs, keyspace.FieldValue{Field: fields[i], Value: []byte(fields[i+1])})
	}
	got, ok, err := s.XAdd(0, key, spec, fvs, false)
	if err != nil || !ok {
		t.Fatalf("XAdd(%q) = %v, %v", id, ok, err)
	}
	return got
}

func TestXAddAutoIDs(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(1000)
	defer s.ThawClock()

	id1 := xadd(t, s, "st", "*", "f", "1")
	if id1.Ms != 1000 || id1.Seq != 0 {
		t.Fatalf("first auto id = %v, want 1000-0", id1)
	}

	// same millisecond bumps the sequence
	id2 := xadd(t, s, "st", "*", "f", "2")
	if id2.Ms != 1000 || id2.Seq != 1 {
		t.Fatalf("second auto id = %v, want 1000-1", id2)
	}

	id3 := xadd(t, s, "st", "1000-*", "f", "3")
	if id3.Ms != 1000 || id3.Seq != 2 {
		t.Fatalf("ms-* id = %v, want 1000-2", id3)
	}
}

func TestXAddRejectsNonMonotonicIDs(t *testing.T) {
	s := keyspace.New()

	xadd(t, s, "st", "5-1", "f", "v")

	spec, _ := keyspace.ParseXAddID("5-1")
	if _, _, err := s.XAdd(0, "st", spec, nil, false); err != keyspace.ErrStreamIDTooSmall {
		t.Fatalf("equal id error = %v, want ErrStreamIDTooSmall", err)
	}
	spec, _ = keyspace.ParseXAddID("4-9")
	if _, _, err := s.XAdd(0, "st", spec, nil, false); err != keyspace.ErrStreamIDTooSmall {
		t.Fatalf("smaller id error = %v, want ErrStreamIDTooSmall", err)
	}
}

func TestXRangeAndXDel(t *testing.T) {
	s := keyspace.New()
	xadd(t, s, "st", "1-1", "f", "a")
	xadd(t, s, "st", "2-1", "f", "b")
	xadd(t, s, "st", "3-1", "f", "c")

	start, _ := keyspace.ParseRangeStart("-")
	end, _ := keyspace.ParseRangeEnd("+")
	all, _ := s.XRange(0, "st", start, end, 0)
	if len(all) != 3 {
		t.Fatalf("XRange - + = %d entries, want 3", len(all))
	}

	mid, _ := keyspace.ParseRangeStart("2")
	got, _ := s.XRange(0, "st", mid, end, 0)
	if len(got) != 2 || got[0].ID.Ms != 2 {
		t.Fatalf("XRange 2 + = %v", got)
	}

	rev, _ := s.XRevRange(0, "st", start, end, 2)
	if len(rev) != 2 || rev[0].ID.Ms != 3 || rev[1].ID.Ms != 2 {
		t.Fatalf("XRevRange head = %v", rev)
	}

	n, _ := s.XDel(0, "st", keyspace.StreamID{Ms: 2, Seq: 1})
	if n != 1 {
		t.Fatalf("XDel = %d, want 1", n)
	}
	if ln, _ := s.XLen(0, "st"); ln != 2 {
		t.Fatalf("XLen after delete = %d, want 2", ln)
	}
	// last id survives deletions
	if last, _ := s.LastStreamID(0, "st"); last.Ms != 3 {
		t.Fatalf("last id = %v, want 3-1", last)
	}
}

func TestXTrim(t *testing.T) {
	s := keyspace.New()
	for i := 1; i <= 5; i++ {
		xadd(t, s, "st", keyspace.StreamID{Ms: uint64(i), Seq: 0}.String(), "f", "v")
	}

	n, _ := s.XTrimMaxLen(0, "st", 3)
	if n != 2 {
		t.Fatalf("XTrimMaxLen evicted %d, want 2", n)
	}

	n, _ = s.XTrimMinID(0, "st", keyspace.StreamID{Ms: 5})
	if n != 2 {
		t.Fatalf("XTrimMinID evicted %d, want 2", n)
	}
	if ln, _ := s.XLen(0, "st"); ln != 1 {
		t.Fatalf("XLen after trims = %d, want 1", ln)
	}
}

func TestConsumerGroupDeliveryAndAck(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(1000)
	defer s.ThawClock()

	xadd(t, s, "st", "1-1", "f", "a")
	xadd(t, s, "st", "2-1", "f", "b")

	if err := s.XGroupCreate(0, "st", "g", keyspace.StreamID{}, false); err != nil {
		t.Fatalf("XGroupCreate() error = %v", err)
	}
	if err := s.XGroupCreate(0, "st", "g", keyspace.StreamID{}, false); err != keyspace.ErrGroupExists {
		t.Fatalf("duplicate group error = %v, want ErrGroupExists", err)
	}

	got, err := s.XReadGroup(0, "st", "g", "c1", 10, false)
	if err != nil {
		t.Fatalf("XReadGroup() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("delivered %d entries, want 2", len(got))
	}

	// nothing new on a second read
	again, _ := s.XReadGroup(0, "st", "g", "c1", 10, false)
	if len(again) != 0 {
		t.Fatalf("second read delivered %d entries, want 0", len(again))
	}

	sum, _ := s.XPending(0, "st", "g")
	if sum.Count != 2 || sum.Consumers["c1"] != 2 {
		t.Fatalf("XPending summary = %+v", sum)
	}

	acked, _ := s.XAck(0, "st", "g", keyspace.StreamID{Ms: 1, Seq: 1})
	if acked != 1 {
		t.Fatalf("XAck = %d, want 1", acked)
	}
	sum, _ = s.XPending(0, "st", "g")
	if sum.Count != 1 {
		t.Fatalf("pending after ack = %d, want 1", sum.Count)
	}
}

func TestXPendingRangeKeepsDeliveryTimestamps(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(1000)
	defer s.ThawClock()

	xadd(t, s, "st", "1-1", "f", "a")
	if err := s.XGroupCreate(0, "st", "g", keyspace.StreamID{}, false); err != nil {
		t.Fatalf("XGroupCreate() error = %v", err)
	}
	if _, err := s.XReadGroup(0, "st", "g", "c1", 10, false); err != nil {
		t.Fatalf("XReadGroup() error = %v", err)
	}

	start, _ := keyspace.ParseRangeStart("-")
	end, _ := keyspace.ParseRangeEnd("+")

	s.FreezeClock(1500)
	pending, err := s.XPendingRange(0, "st", "g", "", start, end, 10)
	if err != nil {
		t.Fatalf("XPendingRange() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("XPendingRange returned %d entries, want 1", len(pending))
	}
	// the entry carries the absolute delivery time; callers derive idle
	if pending[0].DeliveryTime != 1000 {
		t.Fatalf("DeliveryTime = %d, want 1000", pending[0].DeliveryTime)
	}
	if idle := s.Now() - pending[0].DeliveryTime; idle != 500 {
		t.Fatalf("idle = %d, want 500", idle)
	}
}

func TestXClaimTransfersOwnership(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(1000)
	defer s.ThawClock()

	xadd(t, s, "st", "1-1", "f", "a")
	s.XGroupCreate(0, "st", "g", keyspace.StreamID{}, false)
	s.XReadGroup(0, "st", "g", "c1", 10, false)

	// too fresh to claim
	got, _ := s.XClaim(0, "st", "g", "c2", 500, []keyspace.StreamID{{Ms: 1, Seq: 1}}, false, false)
	if len(got) != 0 {
		t.Fatal("claim before min-idle should transfer nothing")
	}

	s.FreezeClock(2000)
	got, _ = s.XClaim(0, "st", "g", "c2", 500, []keyspace.StreamID{{Ms: 1, Seq: 1}}, false, false)
	if len(got) != 1 {
		t.Fatalf("claim after min-idle transferred %d, want 1", len(got))
	}

	sum, _ := s.XPending(0, "st", "g")
	if sum.Consumers["c2"] != 1 || sum.Consumers["c1"] != 0 {
		t.Fatalf("ownership after claim = %+v", sum.Consumers)
	}
}

func TestXAutoClaimSkipsFreshAndDropsDeleted(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(1000)
	defer s.ThawClock()

	xadd(t, s, "st", "1-1", "f", "a")
	xadd(t, s, "st", "2-1", "f", "b")
	s.XGroupCreate(0, "st", "g", keyspace.StreamID{}, false)
	s.XReadGroup(0, "st", "g", "c1", 10, false)
	s.XDel(0, "st", keyspace.StreamID{Ms: 1, Seq: 1})

	s.FreezeClock(5000)
	cursor, claimed, deleted, err := s.XAutoClaim(0, "st", "g", "c2", 1000, keyspace.StreamID{}, 0)
	if err != nil {
		t.Fatalf("XAutoClaim() error = %v", err)
	}
	if cursor != (keyspace.StreamID{}) {
		t.Fatalf("cursor = %v, want 0-0", cursor)
	}
	if len(claimed) != 1 || claimed[0].ID.Ms != 2 {
		t.Fatalf("claimed = %v, want the live entry 2-1", claimed)
	}
	if len(deleted) != 1 || deleted[0].Ms != 1 {
		t.Fatalf("deleted = %v, want [1-1]", deleted)
	}
}
