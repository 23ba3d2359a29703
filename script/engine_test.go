package script_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/script"
)

func noCall(args [][]byte) (protocol.Value, error) {
	return protocol.Value{}, fmt.Errorf("unexpected call %q", args)
}

func TestLoadExistsFlush(t *testing.T) {
	e := script.NewEngine()

	sha := e.Load("return 1")
	assert.Len(t, sha, 40)
	// SHA1 of "return 1"
	assert.Equal(t, "e0e1f9fabfc9d4800c877a703b823ac0578ff8db", sha)

	got := e.Exists(sha, "00000000000000000000000000000000deadbeef")
	assert.Equal(t, []bool{true, false}, got)

	e.Flush()
	assert.Equal(t, []bool{false}, e.Exists(sha))
}

func TestEvalReturnShapes(t *testing.T) {
	e := script.NewEngine()
	ctx := context.Background()

	tests := []struct {
		body string
		want protocol.Value
	}{
		{"return 1", protocol.Int(1)},
		{"return 3.7", protocol.Int(3)}, // numbers truncate to integers
		{"return 'hello'", protocol.Bulk([]byte("hello"))},
		{"return true", protocol.Int(1)},
		{"return false", protocol.Null()},
		{"return", protocol.Null()},
		{"return {1, 'two', 3}", protocol.ArrayValue(
			protocol.Int(1), protocol.Bulk([]byte("two")), protocol.Int(3))},
		{"return {1, 2, nil, 4}", protocol.ArrayValue(protocol.Int(1), protocol.Int(2))},
		{"return redis.status_reply('DONE')", protocol.SimpleString("DONE")},
		{"return redis.error_reply('my error')", protocol.Err("my error")},
	}
	for _, tc := range tests {
		got, err := e.Eval(ctx, tc.body, nil, nil, noCall)
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, got, tc.body)
	}
}

func TestEvalKeysAndArgs(t *testing.T) {
	e := script.NewEngine()

	got, err := e.Eval(context.Background(),
		"return {KEYS[1], KEYS[2], ARGV[1], #KEYS}",
		[]string{"k1", "k2"}, []string{"a1"}, noCall)
	require.NoError(t, err)
	assert.Equal(t, protocol.ArrayValue(
		protocol.Bulk([]byte("k1")),
		protocol.Bulk([]byte("k2")),
		protocol.Bulk([]byte("a1")),
		protocol.Int(2)), got)
}

func TestEvalDispatchesCalls(t *testing.T) {
	e := script.NewEngine()
	var calls [][][]byte
	call := func(args [][]byte) (protocol.Value, error) {
		calls = append(calls, args)
		return protocol.Int(int64(len(calls))), nil
	}

	got, err := e.Eval(context.Background(),
		"redis.call('INCR', KEYS[1]) return redis.call('INCR', KEYS[1])",
		[]string{"counter"}, nil, call)
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(2), got)

	require.Len(t, calls, 2)
	assert.Equal(t, "INCR", string(calls[0][0]))
	assert.Equal(t, "counter", string(calls[0][1]))
}

func TestEvalNumericArgumentsConvert(t *testing.T) {
	e := script.NewEngine()
	var seen []string
	call := func(args [][]byte) (protocol.Value, error) {
		for _, a := range args {
			seen = append(seen, string(a))
		}
		return protocol.OK, nil
	}

	_, err := e.Eval(context.Background(),
		"return redis.call('EXPIRE', KEYS[1], 10)", []string{"k"}, nil, call)
	require.NoError(t, err)
	assert.Equal(t, []string{"EXPIRE", "k", "10"}, seen)
}

func TestCallErrorAbortsScript(t *testing.T) {
	e := script.NewEngine()
	call := func([][]byte) (protocol.Value, error) {
		return protocol.Value{}, errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	}

	_, err := e.Eval(context.Background(),
		"redis.call('GET', 'k') return 'unreached'", nil, nil, call)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")
}

func TestPcallErrorStaysInScript(t *testing.T) {
	e := script.NewEngine()
	call := func([][]byte) (protocol.Value, error) {
		return protocol.Value{}, errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	}

	got, err := e.Eval(context.Background(),
		"local r = redis.pcall('GET', 'k') return r.err", nil, nil, call)
	require.NoError(t, err)
	assert.Contains(t, string(got.Data), "WRONGTYPE")
}

func TestCallRepliesConvertToLua(t *testing.T) {
	e := script.NewEngine()
	call := func(args [][]byte) (protocol.Value, error) {
		switch string(args[0]) {
		case "GET":
			return protocol.Null(), nil
		case "LRANGE":
			return protocol.ArrayValue(protocol.Bulk([]byte("a")), protocol.Bulk([]byte("b"))), nil
		case "SET":
			return protocol.OK, nil
		}
		return protocol.Value{}, errors.New("unexpected")
	}

	// null reply reads as false
	got, err := e.Eval(context.Background(),
		"if redis.call('GET', 'missing') then return 1 else return 0 end", nil, nil, call)
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(0), got)

	// array reply indexes 1-based
	got, err = e.Eval(context.Background(),
		"local l = redis.call('LRANGE', 'k', 0, -1) return l[2]", nil, nil, call)
	require.NoError(t, err)
	assert.Equal(t, protocol.Bulk([]byte("b")), got)

	// status reply carries its text in .ok
	got, err = e.Eval(context.Background(),
		"return redis.call('SET', 'k', 'v').ok", nil, nil, call)
	require.NoError(t, err)
	assert.Equal(t, protocol.Bulk([]byte("OK")), got)
}

func TestEvalSHA(t *testing.T) {
	e := script.NewEngine()
	ctx := context.Background()

	_, err := e.EvalSHA(ctx, "0000000000000000000000000000000000000000", nil, nil, noCall)
	assert.ErrorIs(t, err, script.ErrNoScript)

	sha := e.Load("return 42")
	got, err := e.EvalSHA(ctx, sha, nil, nil, noCall)
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(42), got)
}

func TestEvalCachesBody(t *testing.T) {
	e := script.NewEngine()

	_, err := e.Eval(context.Background(), "return 7", nil, nil, noCall)
	require.NoError(t, err)

	// running via EVAL makes the script available to EVALSHA
	got, err := e.EvalSHA(context.Background(),
		"59b6ab2fbe0ee4b25733de0f62e6cda4899ef8e9", nil, nil, noCall)
	if errors.Is(err, script.ErrNoScript) {
		t.Fatal("EVAL did not populate the script cache")
	}
	require.NoError(t, err)
	assert.Equal(t, protocol.Int(7), got)
}

func TestSha1Hex(t *testing.T) {
	e := script.NewEngine()

	got, err := e.Eval(context.Background(),
		"return redis.sha1hex('')", nil, nil, noCall)
	require.NoError(t, err)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", string(got.Data))
}

func TestKill(t *testing.T) {
	e := script.NewEngine()

	assert.ErrorIs(t, e.Kill(), script.ErrNotBusy)

	done := make(chan error, 1)
	go func() {
		_, err := e.Eval(context.Background(), "while true do end", nil, nil, noCall)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for !e.Busy() {
		select {
		case <-deadline:
			t.Fatal("script never started")
		case <-time.After(time.Millisecond):
		}
	}

	require.NoError(t, e.Kill())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, script.ErrKilled)
	case <-time.After(2 * time.Second):
		t.Fatal("kill did not stop the script")
	}

	assert.False(t, e.Busy())
}

func TestScriptErrorSurfaces(t *testing.T) {
	e := script.NewEngine()

	_, err := e.Eval(context.Background(), "this is not lua", nil, nil, noCall)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR Error running script")
}
