package keyspace_test

import (
	"fmt"
	"testing"

	"github.com/halcyonkv/halcyon/keyspace"
)

func TestScanReportsSurvivorsDespiteDeletions(t *testing.T) {
	s := keyspace.New()
	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		s.Set(0, k, []byte("v"), keyspace.SetOptions{})
	}

	seen := map[string]bool{}
	cursor := uint64(0)
	first := true
	for {
		next, page, err := s.Scan(0, cursor, keyspace.ScanOptions{Count: 2})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		for _, k := range page {
			seen[k] = true
		}
		// drop one already-returned key between the first two pages
		if first && len(page) > 0 {
			s.Del(0, page[0])
			first = false
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	for _, k := range keys {
		if !seen[k] {
			t.Fatalf("Scan() never returned %q, which was present for the whole walk", k)
		}
	}
}

func TestSScanCoversHashtableSet(t *testing.T) {
	s := keyspace.New()
	want := map[string]int{}
	for i := 0; i < 300; i++ {
		m := fmt.Sprintf("member-%03d", i)
		if _, err := s.SAdd(0, "big", m); err != nil {
			t.Fatalf("SAdd() error = %v", err)
		}
		want[m] = 0
	}

	cursor := uint64(0)
	for {
		next, members, err := s.SScan(0, "big", cursor, "", 10)
		if err != nil {
			t.Fatalf("SScan() error = %v", err)
		}
		for _, m := range members {
			if _, ok := want[m]; !ok {
				t.Fatalf("SScan() returned unknown member %q", m)
			}
			want[m]++
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	for m, n := range want {
		if n != 1 {
			t.Fatalf("SScan() returned %q %d times, want exactly once", m, n)
		}
	}
}

func TestHScanCoversLargeHash(t *testing.T) {
	s := keyspace.New()
	want := map[string]bool{}
	for i := 0; i < 200; i++ {
		f := fmt.Sprintf("field-%03d", i)
		if _, err := s.HSet(0, "h", keyspace.FieldValue{Field: f, Value: []byte("v")}); err != nil {
			t.Fatalf("HSet() error = %v", err)
		}
		want[f] = false
	}

	cursor := uint64(0)
	for {
		next, fields, err := s.HScan(0, "h", cursor, "", 13)
		if err != nil {
			t.Fatalf("HScan() error = %v", err)
		}
		for _, fv := range fields {
			want[fv.Field] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	for f, seen := range want {
		if !seen {
			t.Fatalf("HScan() never returned %q", f)
		}
	}
}

func TestZScanCoversLargeSortedSet(t *testing.T) {
	s := keyspace.New()
	want := map[string]bool{}
	for i := 0; i < 200; i++ {
		m := fmt.Sprintf("zm-%03d", i)
		if _, err := s.ZAdd(0, "z", m, float64(i), keyspace.ZAddFlags{}); err != nil {
			t.Fatalf("ZAdd() error = %v", err)
		}
		want[m] = false
	}

	cursor := uint64(0)
	for {
		next, members, err := s.ZScan(0, "z", cursor, "", 10)
		if err != nil {
			t.Fatalf("ZScan() error = %v", err)
		}
		for _, sm := range members {
			want[sm.Member] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	for m, seen := range want {
		if !seen {
			t.Fatalf("ZScan() never returned %q", m)
		}
	}
}
