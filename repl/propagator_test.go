package repl_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonkv/halcyon/protocol"
	"github.com/halcyonkv/halcyon/repl"
)

type captureSink struct {
	data []byte
}

func (c *captureSink) Feed(p []byte) {
	c.data = append(c.data, p...)
}

func TestFeedAdvancesOffsetByEncodedBytes(t *testing.T) {
	p := repl.NewPropagator()
	sink := &captureSink{}
	p.AttachSink(sink)

	rec := protocol.NewCommand("SET", "k", "v")
	end := p.Feed(0, rec)

	// first batch carries the SELECT marker
	sel := repl.SelectRecord(0)
	want := len(protocol.EncodeCommand(sel.Argv())) +
		len(protocol.EncodeCommand(rec.Argv()))
	require.Equal(t, int64(want), end)
	require.Equal(t, end, p.Offset())
	require.Len(t, sink.data, want)

	// same database: no further SELECT
	end2 := p.Feed(0, rec)
	assert.Equal(t, end+int64(len(protocol.EncodeCommand(rec.Argv()))), end2)
}

func TestFeedEmitsSelectOnDatabaseChange(t *testing.T) {
	p := repl.NewPropagator()
	sink := &captureSink{}
	p.AttachSink(sink)

	p.Feed(0, protocol.NewCommand("SET", "a", "1"))
	p.Feed(3, protocol.NewCommand("SET", "b", "2"))

	cmds := decodeAll(t, sink.data)
	require.Len(t, cmds, 4)
	assert.Equal(t, "SELECT", cmds[0].Name)
	assert.Equal(t, "0", string(cmds[0].Args[0]))
	assert.Equal(t, "SELECT", cmds[2].Name)
	assert.Equal(t, "3", string(cmds[2].Args[0]))
}

func TestFeedWrapsMultiRecordBatches(t *testing.T) {
	p := repl.NewPropagator()
	sink := &captureSink{}
	p.AttachSink(sink)

	p.Feed(0,
		protocol.NewCommand("SET", "k", "v"),
		protocol.NewCommand("PEXPIREAT", "k", "99999"),
	)

	cmds := decodeAll(t, sink.data)
	require.Len(t, cmds, 5)
	assert.Equal(t, "SELECT", cmds[0].Name)
	assert.Equal(t, "MULTI", cmds[1].Name)
	assert.Equal(t, "SET", cmds[2].Name)
	assert.Equal(t, "PEXPIREAT", cmds[3].Name)
	assert.Equal(t, "EXEC", cmds[4].Name)
}

func TestSingleRecordTravelsBare(t *testing.T) {
	p := repl.NewPropagator()
	sink := &captureSink{}
	p.AttachSink(sink)

	p.Feed(0, protocol.NewCommand("DEL", "k"))

	cmds := decodeAll(t, sink.data)
	require.Len(t, cmds, 2)
	assert.Equal(t, "SELECT", cmds[0].Name)
	assert.Equal(t, "DEL", cmds[1].Name)
}

func TestDecideSync(t *testing.T) {
	p := repl.NewPropagator(repl.WithBacklogSize(1 << 16))
	p.Feed(0, protocol.NewCommand("SET", "k", "v"))
	mid := p.Offset()
	p.Feed(0, protocol.NewCommand("SET", "k", "w"))

	// matching id inside the window: partial with catchup bytes
	dec := p.DecideSync(p.ReplID(), mid)
	require.True(t, dec.Partial)
	assert.Equal(t, p.Offset(), dec.Offset)
	assert.Equal(t, int(p.Offset()-mid), len(dec.Catchup))

	// foreign replication id: full
	dec = p.DecideSync("someone-else", mid)
	assert.False(t, dec.Partial)

	// offset behind the retained window: full
	tiny := repl.NewPropagator(repl.WithBacklogSize(32))
	tiny.Feed(0, protocol.NewCommand("SET", "somewhat-long-key", "somewhat-long-value"))
	tiny.Feed(0, protocol.NewCommand("SET", "somewhat-long-key", "another-long-value"))
	dec = tiny.DecideSync(tiny.ReplID(), 0)
	assert.False(t, dec.Partial)
}

func TestBacklogEvictsFromTheFront(t *testing.T) {
	b := repl.NewBacklog(8)
	b.Append(0, []byte("abcdefgh"))
	b.Append(8, []byte("ijkl"))

	first, end := b.Window()
	assert.Equal(t, int64(4), first)
	assert.Equal(t, int64(12), end)

	_, err := b.ReadFrom(0)
	assert.ErrorIs(t, err, repl.ErrOffsetEvicted)

	data, err := b.ReadFrom(6)
	require.NoError(t, err)
	assert.Equal(t, "ghijkl", string(data))
}

func decodeAll(t *testing.T, data []byte) []protocol.Command {
	t.Helper()
	r := protocol.NewReader(bytes.NewReader(data))
	out := make([]protocol.Command, 0)
	for {
		cmd, err := r.ReadCommand()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, *cmd)
	}
}
