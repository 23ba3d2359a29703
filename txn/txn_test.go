package txn_test

import (
	"testing"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/txn"
)

func cmd(name string, args ...string) protocol.Command {
	c := protocol.Command{Name: name}
	for _, a := range args {
		c.Args = append(c.Args, []byte(a))
	}
	return c
}

func TestQueueAndExec(t *testing.T) {
	tx := txn.New()

	if err := tx.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tx.Begin(); err != txn.ErrNestedMulti {
		t.Fatalf("nested Begin() error = %v, want ErrNestedMulti", err)
	}

	tx.Enqueue(cmd("SET", "k", "1"))
	tx.Enqueue(cmd("INCR", "k"))

	cmds, ok, err := tx.Admit(func(int, string) uint64 { return 0 })
	if err != nil || !ok {
		t.Fatalf("Admit() = %v, %v", ok, err)
	}
	if len(cmds) != 2 || cmds[0].Name != "SET" || cmds[1].Name != "INCR" {
		t.Fatalf("Admit() commands = %v", cmds)
	}
	if tx.Open() {
		t.Fatal("transaction must close after EXEC")
	}
}

func TestExecWithoutMulti(t *testing.T) {
	tx := txn.New()
	if _, _, err := tx.Admit(nil); err != txn.ErrExecWithoutMulti {
		t.Fatalf("Admit() error = %v, want ErrExecWithoutMulti", err)
	}
	if err := tx.Discard(); err != txn.ErrDiscardWithoutMulti {
		t.Fatalf("Discard() error = %v, want ErrDiscardWithoutMulti", err)
	}
}

func TestPoisonedExecAborts(t *testing.T) {
	tx := txn.New()
	tx.Begin()
	tx.Enqueue(cmd("SET", "k", "1"))
	tx.Poison()

	if tx.State() != txn.Dirty {
		t.Fatalf("state after Poison() = %v, want Dirty", tx.State())
	}
	_, ok, err := tx.Admit(func(int, string) uint64 { return 0 })
	if ok || err != txn.ErrExecAborted {
		t.Fatalf("Admit() poisoned = %v, %v, want ErrExecAborted", ok, err)
	}
	if tx.Open() {
		t.Fatal("aborted transaction must close")
	}
}

func TestWatchInsideMultiForbidden(t *testing.T) {
	tx := txn.New()
	tx.Begin()
	if err := tx.Watch(0, "k", 1); err != txn.ErrWatchInMulti {
		t.Fatalf("Watch() inside MULTI error = %v, want ErrWatchInMulti", err)
	}
}

func TestWatchConflictYieldsNullBatch(t *testing.T) {
	store := keyspace.New()
	store.Set(0, "watched", []byte("v1"), keyspace.SetOptions{})

	tx := txn.New()
	tx.Watch(0, "watched", store.KeyVersion(0, "watched"))
	tx.Begin()
	tx.Enqueue(cmd("GET", "watched"))

	// a write between WATCH and EXEC invalidates the batch
	store.Set(0, "watched", []byte("v2"), keyspace.SetOptions{})

	cmds, ok, err := tx.Admit(store.KeyVersion)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if ok || cmds != nil {
		t.Fatal("changed watch must refuse the batch")
	}
}

func TestWatchOnAbsentKeyDetectsCreation(t *testing.T) {
	store := keyspace.New()

	tx := txn.New()
	tx.Watch(0, "ghost", store.KeyVersion(0, "ghost")) // version 0
	tx.Begin()

	store.Set(0, "ghost", []byte("now here"), keyspace.SetOptions{})

	_, ok, err := tx.Admit(store.KeyVersion)
	if err != nil || ok {
		t.Fatalf("Admit() = %v, %v; creation must invalidate an absent-key watch", ok, err)
	}
}

func TestUntouchedWatchesPass(t *testing.T) {
	store := keyspace.New()
	store.Set(0, "stable", []byte("v"), keyspace.SetOptions{})
	store.Set(0, "other", []byte("v"), keyspace.SetOptions{})

	tx := txn.New()
	tx.Watch(0, "stable", store.KeyVersion(0, "stable"))
	tx.Begin()

	// unrelated writes do not disturb the watch
	store.Set(0, "other", []byte("v2"), keyspace.SetOptions{})

	_, ok, err := tx.Admit(store.KeyVersion)
	if err != nil || !ok {
		t.Fatalf("Admit() = %v, %v, want clean admit", ok, err)
	}
}

func TestDiscardDropsQueueAndWatches(t *testing.T) {
	tx := txn.New()
	tx.Watch(0, "k", 5)
	tx.Begin()
	tx.Enqueue(cmd("SET", "k", "1"))

	if err := tx.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if len(tx.Queued()) != 0 || len(tx.Watches()) != 0 {
		t.Fatal("Discard() must drop queue and watches")
	}
}
