package keyspace_test

import (
	"testing"

	"github.com/halcyonkv/halcyon/keyspace"
)

func TestSetGet(t *testing.T) {
	s := keyspace.New()

	_, err := s.Set(0, "key1", []byte("value1"), keyspace.SetOptions{})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, ok, err := s.Get(0, "key1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Expected key to exist")
	}
	if string(val) != "value1" {
		t.Errorf("Get() = %s, want value1", val)
	}

	_, ok, _ = s.Get(0, "nonexistent")
	if ok {
		t.Fatal("Expected key to not exist")
	}
}

func TestWrongTypeRejectedWithoutMutation(t *testing.T) {
	s := keyspace.New()

	if _, err := s.LPush(0, "mylist", false, []byte("a")); err != nil {
		t.Fatalf("LPush() error = %v", err)
	}

	_, _, err := s.Get(0, "mylist")
	if err != keyspace.ErrWrongType {
		t.Fatalf("Get() against list error = %v, want ErrWrongType", err)
	}
	if _, err := s.SAdd(0, "mylist", "m"); err != keyspace.ErrWrongType {
		t.Fatalf("SAdd() against list error = %v, want ErrWrongType", err)
	}

	// value untouched after the rejections
	n, err := s.LLen(0, "mylist")
	if err != nil || n != 1 {
		t.Fatalf("LLen() = %d, %v, want 1, nil", n, err)
	}
}

func TestSetWithGetRejectsNonString(t *testing.T) {
	s := keyspace.New()
	if _, err := s.LPush(0, "l", false, []byte("a")); err != nil {
		t.Fatalf("LPush() error = %v", err)
	}

	_, err := s.Set(0, "l", []byte("v"), keyspace.SetOptions{Get: true})
	if err != keyspace.ErrWrongType {
		t.Fatalf("Set(GET) against list error = %v, want ErrWrongType", err)
	}
	if n, _ := s.LLen(0, "l"); n != 1 {
		t.Fatalf("list mutated by rejected SET, LLen = %d, want 1", n)
	}

	// plain SET still overwrites any type
	if _, err := s.Set(0, "l", []byte("v"), keyspace.SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := s.Get(0, "l"); !ok {
		t.Fatal("overwrite did not take effect")
	}
}

func TestLazyExpiry(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(1000)
	defer s.ThawClock()

	s.Set(0, "dying", []byte("v"), keyspace.SetOptions{})
	if !s.PExpireAt(0, "dying", 2000) {
		t.Fatal("PExpireAt() = false, want true")
	}

	if _, ok, _ := s.Get(0, "dying"); !ok {
		t.Fatal("key should still be alive at t=1000")
	}

	s.FreezeClock(2000)
	if _, ok, _ := s.Get(0, "dying"); ok {
		t.Fatal("key should be dead at t=2000")
	}
	if s.Exists(0, "dying") != 0 {
		t.Fatal("Exists() should not count a dead key")
	}
}

func TestReplicaKeepsDeadKeysInPlace(t *testing.T) {
	expired := make([]string, 0)
	s := keyspace.New(keyspace.WithExpireFunc(func(db int, key string) {
		expired = append(expired, key)
	}))
	s.FreezeClock(1000)
	defer s.ThawClock()
	s.SetSelfExpire(false)

	s.Set(0, "held", []byte("v"), keyspace.SetOptions{})
	s.PExpireAt(0, "held", 1500)
	s.FreezeClock(2000)

	// reads surface absence but nothing is physically removed
	if _, ok, _ := s.Get(0, "held"); ok {
		t.Fatal("dead key must read as absent")
	}
	if len(expired) != 0 {
		t.Fatalf("replica must not self-expire, got callbacks for %v", expired)
	}

	// promotion re-enables physical expiry
	s.SetSelfExpire(true)
	s.Get(0, "held")
	if len(expired) != 1 || expired[0] != "held" {
		t.Fatalf("expected one expiry callback for held, got %v", expired)
	}
}

func TestPastExpiryDeletesImmediately(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(5000)
	defer s.ThawClock()

	s.Set(0, "k", []byte("v"), keyspace.SetOptions{})
	if !s.PExpireAt(0, "k", 4000) {
		t.Fatal("PExpireAt() with past time should succeed")
	}
	if s.Exists(0, "k") != 0 {
		t.Fatal("key should be gone after past-time expiry")
	}
}

func TestKeyVersionChangesOnWrite(t *testing.T) {
	s := keyspace.New()

	if v := s.KeyVersion(0, "k"); v != 0 {
		t.Fatalf("KeyVersion() of absent key = %d, want 0", v)
	}

	s.Set(0, "k", []byte("a"), keyspace.SetOptions{})
	v1 := s.KeyVersion(0, "k")
	if v1 == 0 {
		t.Fatal("live key must have nonzero version")
	}

	s.Set(0, "k", []byte("b"), keyspace.SetOptions{})
	v2 := s.KeyVersion(0, "k")
	if v2 == v1 {
		t.Fatal("overwriting a key must change its version")
	}

	s.Del(0, "k")
	if v := s.KeyVersion(0, "k"); v != 0 {
		t.Fatalf("KeyVersion() after delete = %d, want 0", v)
	}
}

func TestRenameMovesValueAndExpiry(t *testing.T) {
	s := keyspace.New()
	s.FreezeClock(1000)
	defer s.ThawClock()

	s.Set(0, "src", []byte("v"), keyspace.SetOptions{})
	s.PExpireAt(0, "src", 9000)

	ok, err := s.Rename(0, "src", "dst", false)
	if err != nil || !ok {
		t.Fatalf("Rename() = %v, %v", ok, err)
	}
	if s.Exists(0, "src") != 0 {
		t.Fatal("source should be gone")
	}
	if at := s.PExpireTime(0, "dst"); at != 9000 {
		t.Fatalf("PExpireTime(dst) = %d, want 9000", at)
	}

	if _, err := s.Rename(0, "missing", "x", false); err != keyspace.ErrNoSuchKey {
		t.Fatalf("Rename() of missing key error = %v, want ErrNoSuchKey", err)
	}
}

func TestCopyIsDeep(t *testing.T) {
	s := keyspace.New()

	s.LPush(0, "src", false, []byte("a"), []byte("b"))
	if !s.Copy(0, "src", 0, "dst", false) {
		t.Fatal("Copy() = false, want true")
	}

	s.LPush(0, "dst", false, []byte("c"))
	n, _ := s.LLen(0, "src")
	if n != 2 {
		t.Fatalf("source length changed after mutating the copy: %d", n)
	}
}

func TestSwapAndFlush(t *testing.T) {
	s := keyspace.New()

	s.Set(0, "a", []byte("1"), keyspace.SetOptions{})
	s.Set(1, "b", []byte("2"), keyspace.SetOptions{})

	if err := s.SwapDB(0, 1); err != nil {
		t.Fatalf("SwapDB() error = %v", err)
	}
	if s.Exists(0, "b") != 1 || s.Exists(1, "a") != 1 {
		t.Fatal("SwapDB() did not exchange contents")
	}

	s.FlushDB(0)
	if s.DBSize(0) != 0 {
		t.Fatal("FlushDB() left keys behind")
	}
	if s.DBSize(1) != 1 {
		t.Fatal("FlushDB() must not touch other databases")
	}
}

func TestScanVisitsEveryKeyOnce(t *testing.T) {
	s := keyspace.New()
	want := map[string]bool{}
	for _, k := range []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"} {
		s.Set(0, k, []byte("v"), keyspace.SetOptions{})
		want[k] = false
	}

	cursor := uint64(0)
	for {
		next, keys, err := s.Scan(0, cursor, keyspace.ScanOptions{Count: 2})
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		for _, k := range keys {
			if seen, ok := want[k]; !ok {
				t.Fatalf("Scan() returned unknown key %q", k)
			} else if seen {
				t.Fatalf("Scan() returned %q twice", k)
			}
			want[k] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("Scan() never returned %q", k)
		}
	}
}

func TestScanTypeFilter(t *testing.T) {
	s := keyspace.New()
	s.Set(0, "str", []byte("v"), keyspace.SetOptions{})
	s.LPush(0, "list", false, []byte("a"))

	_, keys, err := s.Scan(0, 0, keyspace.ScanOptions{Count: 100, Type: keyspace.TypeList})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "list" {
		t.Fatalf("Scan(TYPE list) = %v, want [list]", keys)
	}
}
