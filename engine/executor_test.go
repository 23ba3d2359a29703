package engine_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/cluster"
	"github.com/halcyonkv/halcyon/engine"
	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

func TestMultiExecBatch(t *testing.T) {
	x, s := newExec(t)
	sink := &captureSink{}
	x.Propagator().AttachSink(sink)

	assert.Equal(t, protocol.OK, do(x, s, "MULTI"))
	assert.Equal(t, protocol.SimpleString("QUEUED"), do(x, s, "SET", "a", "1"))
	assert.Equal(t, protocol.SimpleString("QUEUED"), do(x, s, "INCR", "a"))
	assert.Equal(t, protocol.SimpleString("QUEUED"), do(x, s, "GET", "a"))

	reply := do(x, s, "EXEC")
	require.Len(t, reply.Array, 3)
	assert.Equal(t, protocol.OK, reply.Array[0])
	assert.Equal(t, protocol.Int(2), reply.Array[1])
	assert.Equal(t, protocol.Bulk([]byte("2")), reply.Array[2])

	// two write effects frame as an atomic batch on the stream
	got := sink.commands(t)
	require.Len(t, got, 5)
	assert.Equal(t, []string{"SELECT", "0"}, got[0])
	assert.Equal(t, []string{"MULTI"}, got[1])
	assert.Equal(t, []string{"SET", "a", "1"}, got[2])
	assert.Equal(t, []string{"INCRBY", "a", "1"}, got[3])
	assert.Equal(t, []string{"EXEC"}, got[4])
}

func TestSingleEffectNotFramed(t *testing.T) {
	x, s := newExec(t)
	sink := &captureSink{}
	x.Propagator().AttachSink(sink)

	do(x, s, "MULTI")
	do(x, s, "SET", "a", "1")
	do(x, s, "GET", "a")
	do(x, s, "EXEC")

	got := sink.commands(t)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"SET", "a", "1"}, got[1])
}

func TestExecAbortsOnQueueError(t *testing.T) {
	x, s := newExec(t)

	do(x, s, "MULTI")
	reply := do(x, s, "NOSUCHCMD")
	assert.True(t, reply.IsError())
	do(x, s, "SET", "a", "1")

	reply = do(x, s, "EXEC")
	assert.Contains(t, reply.ErrorMessage(), "EXECABORT")
	assert.Equal(t, protocol.Null(), do(x, s, "GET", "a"))
}

func TestWatchConflictYieldsNullBatch(t *testing.T) {
	x, s := newExec(t)
	other := engine.NewSession()

	do(x, s, "SET", "k", "1")
	do(x, s, "WATCH", "k")
	do(x, s, "MULTI")
	do(x, s, "SET", "k", "tx")

	do(x, other, "SET", "k", "intruder")

	reply := do(x, s, "EXEC")
	assert.Equal(t, protocol.NullArray(), reply)
	assert.Equal(t, protocol.Bulk([]byte("intruder")), do(x, s, "GET", "k"))
}

func TestWatchSurvivesUntouchedKey(t *testing.T) {
	x, s := newExec(t)

	do(x, s, "SET", "k", "1")
	do(x, s, "WATCH", "k")
	do(x, s, "MULTI")
	do(x, s, "INCR", "k")

	reply := do(x, s, "EXEC")
	require.Len(t, reply.Array, 1)
	assert.Equal(t, protocol.Int(2), reply.Array[0])
}

func TestWatchInsideMultiRejected(t *testing.T) {
	x, s := newExec(t)
	do(x, s, "MULTI")
	reply := do(x, s, "WATCH", "k")
	assert.Contains(t, reply.ErrorMessage(), "WATCH inside MULTI")
}

func TestExecWithoutMulti(t *testing.T) {
	x, s := newExec(t)
	reply := do(x, s, "EXEC")
	assert.Contains(t, reply.ErrorMessage(), "EXEC without MULTI")
}

func TestScriptEffectsPropagatePrimitives(t *testing.T) {
	x, s := newExec(t)
	sink := &captureSink{}
	x.Propagator().AttachSink(sink)

	reply := do(x, s, "EVAL",
		"redis.call('INCR', KEYS[1]) return redis.call('INCR', KEYS[1])",
		"1", "ctr")
	assert.Equal(t, protocol.Int(2), reply)

	got := sink.commands(t)
	require.Len(t, got, 5)
	assert.Equal(t, []string{"MULTI"}, got[1])
	assert.Equal(t, []string{"INCRBY", "ctr", "1"}, got[2])
	assert.Equal(t, []string{"INCRBY", "ctr", "1"}, got[3])
	assert.Equal(t, []string{"EXEC"}, got[4])

	// the script source itself never reaches the stream
	for _, line := range got {
		assert.NotEqual(t, "EVAL", line[0])
	}
}

func TestScriptObservesFrozenClock(t *testing.T) {
	x, s := newExec(t)

	reply := do(x, s, "EVAL",
		"local a = redis.call('TIME') local b = redis.call('TIME') return {a[1], a[2], b[1], b[2]}",
		"0")
	require.Len(t, reply.Array, 4)
	assert.Equal(t, reply.Array[0], reply.Array[2])
	assert.Equal(t, reply.Array[1], reply.Array[3])
}

func TestScriptCannotNestScripts(t *testing.T) {
	x, s := newExec(t)
	reply := do(x, s, "EVAL", "return redis.call('EVAL', 'return 1', '0')", "0")
	assert.Contains(t, reply.ErrorMessage(), "not allowed from script")
}

func TestEvalSHAAfterLoad(t *testing.T) {
	x, s := newExec(t)

	sha := do(x, s, "SCRIPT", "LOAD", "return ARGV[1]")
	require.Equal(t, protocol.TypeBulkString, sha.Type)

	reply := do(x, s, "EVALSHA", string(sha.Data), "0", "hello")
	assert.Equal(t, protocol.Bulk([]byte("hello")), reply)

	reply = do(x, s, "EVALSHA", "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "0")
	assert.Contains(t, reply.ErrorMessage(), "NOSCRIPT")
}

func TestReplicaFences(t *testing.T) {
	x, s := newExec(t)
	x.SetRole(engine.RoleReplica)

	reply := do(x, s, "SET", "k", "v")
	assert.Contains(t, reply.ErrorMessage(), "READONLY")

	// reads pass while the upstream link is healthy
	assert.Equal(t, protocol.Null(), do(x, s, "GET", "k"))

	x.SetStaleLink(true)
	reply = do(x, s, "GET", "k")
	assert.Contains(t, reply.ErrorMessage(), "MASTERDOWN")

	// promotion clears the stale link and readmits writes
	assert.Equal(t, protocol.OK, do(x, s, "REPLICAOF", "NO", "ONE"))
	assert.Equal(t, protocol.OK, do(x, s, "SET", "k", "v"))
}

func TestMinReplicasFence(t *testing.T) {
	x, s := newExec(t, engine.WithMinReplicas(1))

	reply := do(x, s, "SET", "k", "v")
	assert.Contains(t, reply.ErrorMessage(), "NOREPLICAS")

	x.Propagator().AttachSink(&captureSink{})
	assert.Equal(t, protocol.OK, do(x, s, "SET", "k", "v"))
}

func TestMaxMemoryFence(t *testing.T) {
	usage := int64(0)
	x, s := newExec(t, engine.WithMaxMemory(100, func() int64 { return usage }))

	assert.Equal(t, protocol.OK, do(x, s, "SET", "k", "v"))

	usage = 200
	reply := do(x, s, "SET", "k", "v")
	assert.Contains(t, reply.ErrorMessage(), "OOM")

	// reads stay admitted over the budget
	assert.Equal(t, protocol.Bulk([]byte("v")), do(x, s, "GET", "k"))
}

func newClusterExec(t *testing.T) (*engine.Executor, *engine.Session, *cluster.SlotTable) {
	t.Helper()
	slots := cluster.NewSlotTable("node-a")
	slots.AssignRange(0, cluster.SlotCount-1, "node-a")
	slots.SetNodeAddr("node-b", "10.0.0.2:6379")
	x, s := newExec(t, engine.WithSlotTable(slots))
	return x, s, slots
}

func TestClusterMovedRedirect(t *testing.T) {
	x, s, slots := newClusterExec(t)

	assert.Equal(t, protocol.OK, do(x, s, "SET", "k", "v"))

	slot := cluster.KeySlot("k")
	slots.Assign(slot, "node-b")
	reply := do(x, s, "GET", "k")
	assert.Equal(t, "MOVED "+strconv.Itoa(int(slot))+" 10.0.0.2:6379", reply.ErrorMessage())
}

func TestClusterAskingAdmitsImport(t *testing.T) {
	x, s, slots := newClusterExec(t)

	slot := cluster.KeySlot("k")
	slots.Assign(slot, "node-b")
	slots.SetImporting(slot, "node-b")

	// without ASKING the importing node still redirects to the owner
	reply := do(x, s, "SET", "k", "v")
	assert.Contains(t, reply.ErrorMessage(), "MOVED")

	assert.Equal(t, protocol.OK, do(x, s, "ASKING"))
	assert.Equal(t, protocol.OK, do(x, s, "SET", "k", "v"))

	// the admission is good for one command only
	reply = do(x, s, "GET", "k")
	assert.Contains(t, reply.ErrorMessage(), "MOVED")
}

func TestClusterMigratingSlotAsks(t *testing.T) {
	x, s, slots := newClusterExec(t)

	do(x, s, "SET", "here", "v")
	slot := cluster.KeySlot("gone")
	require.NoError(t, slots.SetMigrating(slot, "node-b"))

	// keys still present are served; absent ones redirect with ASK
	assert.Equal(t, protocol.Bulk([]byte("v")), do(x, s, "GET", "here"))
	reply := do(x, s, "GET", "gone")
	assert.Equal(t, "ASK "+strconv.Itoa(int(slot))+" 10.0.0.2:6379", reply.ErrorMessage())
}

func TestClusterCrossSlotRejected(t *testing.T) {
	x, s, _ := newClusterExec(t)

	// hash tags force both keys into one slot
	assert.Equal(t, protocol.OK, do(x, s, "MSET", "{u}a", "1", "{u}b", "2"))

	reply := do(x, s, "MSET", "a", "1", "b", "2")
	assert.Contains(t, reply.ErrorMessage(), "CROSSSLOT")
}

// Replaying the propagated stream on a second node must converge it to
// the primary's exact state, offsets included.
func TestPrimaryReplicaConvergence(t *testing.T) {
	primary, s := newExec(t)
	primary.Store().FreezeClock(1000)
	defer primary.Store().ThawClock()

	replica, _ := newExec(t)
	replica.SetRole(engine.RoleReplica)
	replica.Store().FreezeClock(1000)
	defer replica.Store().ThawClock()
	applier := repl.NewApplier(primary.Propagator().ReplID(), 0, replica.ApplyRecord)

	sink := &captureSink{}
	primary.Propagator().AttachSink(sink)

	do(primary, s, "SET", "a", "1", "EX", "50")
	do(primary, s, "INCR", "a")
	do(primary, s, "RPUSH", "l", "x", "y", "z")
	do(primary, s, "LPOP", "l")
	do(primary, s, "SADD", "set", "m1", "m2", "m3")
	do(primary, s, "SPOP", "set")
	do(primary, s, "HSET", "h", "f", "1")
	do(primary, s, "HINCRBYFLOAT", "h", "f", "0.5")
	do(primary, s, "SELECT", "3")
	do(primary, s, "SET", "other", "db3")
	do(primary, s, "SELECT", "0")
	do(primary, s, "MULTI")
	do(primary, s, "ZADD", "z", "1", "one")
	do(primary, s, "ZADD", "z", "2", "two")
	do(primary, s, "EXEC")
	do(primary, s, "XADD", "st", "*", "f", "v")

	require.NoError(t, applier.Ingest(sink.buf.Bytes()))
	assert.Equal(t, primary.Propagator().Offset(), applier.Offset())

	rs := engine.NewSession()
	checks := [][]string{
		{"GET", "a"},
		{"PTTL", "a"},
		{"LRANGE", "l", "0", "-1"},
		{"SMEMBERS", "set"},
		{"HGET", "h", "f"},
		{"ZRANGE", "z", "0", "-1", "WITHSCORES"},
		{"XRANGE", "st", "-", "+"},
	}
	for _, c := range checks {
		want := do(primary, s, c...)
		got := do(replica, rs, c...)
		assert.Equal(t, want, got, "replica diverged on %v", c)
	}

	rs3 := engine.NewSession()
	do(replica, rs3, "SELECT", "3")
	assert.Equal(t, protocol.Bulk([]byte("db3")), do(replica, rs3, "GET", "other"))
}

func TestApplyRecordBypassesWriteFence(t *testing.T) {
	replica, _ := newExec(t)
	replica.SetRole(engine.RoleReplica)

	err := replica.ApplyRecord(0, protocol.NewCommand("SET", "k", "v"))
	require.NoError(t, err)

	s := engine.NewSession()
	assert.Equal(t, protocol.Bulk([]byte("v")), do(replica, s, "GET", "k"))
}

func TestAppliedRecordsDoNotRePropagate(t *testing.T) {
	replica, _ := newExec(t)
	replica.SetRole(engine.RoleReplica)
	sink := &captureSink{}
	replica.Propagator().AttachSink(sink)

	require.NoError(t, replica.ApplyRecord(0, protocol.NewCommand("SET", "k", "v")))
	assert.Empty(t, sink.commands(t))
}
