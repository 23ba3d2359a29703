package halcyon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	halcyon "github.com/halcyonkv/halcyon"
	"github.com/halcyonkv/halcyon/protocol"
)

func TestServerBasicOps(t *testing.T) {
	srv, err := halcyon.New()
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.Start(context.Background()))

	sess := srv.Session()
	assert.Equal(t, protocol.OK, srv.Do(sess, "SET", "k", "v"))
	assert.Equal(t, protocol.Bulk([]byte("v")), srv.Do(sess, "GET", "k"))

	stats := srv.Stats()
	assert.Equal(t, "master", stats.Role)
	assert.Equal(t, int64(1), stats.Keys)
	assert.Greater(t, stats.ReplicationOffset, int64(0))
}

func TestOptionValidation(t *testing.T) {
	_, err := halcyon.New(halcyon.WithDatabases(0))
	assert.ErrorIs(t, err, halcyon.ErrInvalidConfig)

	_, err = halcyon.New(halcyon.WithExpiryInterval(0))
	assert.ErrorIs(t, err, halcyon.ErrInvalidConfig)

	_, err = halcyon.New(halcyon.WithClusterNode("", ""))
	assert.ErrorIs(t, err, halcyon.ErrInvalidConfig)
}

func TestStartAfterCloseFails(t *testing.T) {
	srv, err := halcyon.New()
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Start(context.Background()), halcyon.ErrClosed)
}

func TestSnapshotRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.hdb")

	srv, err := halcyon.New(halcyon.WithSnapshotPath(path))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	sess := srv.Session()
	srv.Do(sess, "SET", "k", "v")
	srv.Do(sess, "RPUSH", "l", "a", "b")
	require.Equal(t, protocol.OK, srv.Do(sess, "SAVE"))
	require.NoError(t, srv.Close())

	restored, err := halcyon.New(halcyon.WithSnapshotPath(path))
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.Start(context.Background()))

	sess = restored.Session()
	assert.Equal(t, protocol.Bulk([]byte("v")), restored.Do(sess, "GET", "k"))
	assert.Equal(t, protocol.Int(2), restored.Do(sess, "LLEN", "l"))
}

func TestAppendLogRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "halcyon.aof")

	srv, err := halcyon.New(halcyon.WithAppendLogPath(path))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	sess := srv.Session()
	srv.Do(sess, "SET", "k", "v")
	srv.Do(sess, "INCR", "n")
	srv.Do(sess, "INCR", "n")
	require.NoError(t, srv.Close())

	restored, err := halcyon.New(halcyon.WithAppendLogPath(path))
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.Start(context.Background()))

	sess = restored.Session()
	assert.Equal(t, protocol.Bulk([]byte("v")), restored.Do(sess, "GET", "k"))
	assert.Equal(t, protocol.Bulk([]byte("2")), restored.Do(sess, "GET", "n"))
}

func TestCorruptSnapshotHaltsStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.hdb")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	srv, err := halcyon.New(halcyon.WithSnapshotPath(path))
	require.NoError(t, err)
	defer srv.Close()

	err = srv.Start(context.Background())
	require.Error(t, err)
	var serr *halcyon.StartupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "snapshot", serr.Source)
}

func TestClusterNodeServesOwnedSlots(t *testing.T) {
	srv, err := halcyon.New(halcyon.WithClusterNode("node-1", "127.0.0.1:7000"))
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.Start(context.Background()))

	sess := srv.Session()
	assert.Equal(t, protocol.OK, srv.Do(sess, "SET", "k", "v"))
	assert.Equal(t, protocol.BulkString("node-1"), srv.Do(sess, "CLUSTER", "MYID"))
}

func TestMaxMemoryOptionRejectsNegative(t *testing.T) {
	_, err := halcyon.New(halcyon.WithMaxMemory(-1))
	assert.ErrorIs(t, err, halcyon.ErrInvalidConfig)
}

func TestReplicaRoleThroughFacade(t *testing.T) {
	srv, err := halcyon.New()
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.Start(context.Background()))

	srv.SetRole(halcyon.RoleReplica)
	sess := srv.Session()
	reply := srv.Do(sess, "SET", "k", "v")
	assert.Contains(t, reply.ErrorMessage(), "READONLY")
	assert.Equal(t, "slave", srv.Stats().Role)
}
