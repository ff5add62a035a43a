package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeerID(t *testing.T) {
	ts := time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "alice_20250102_150405", NewPeerID("alice", ts))
}

func TestWorkspaceSetup_CreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sync")

	w, err := NewWorkspace(root)
	require.NoError(t, err)

	stale := filepath.Join(w.TmpDir, "pull-123")
	require.NoError(t, os.MkdirAll(w.TmpDir, 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	require.NoError(t, w.Setup())
	t.Cleanup(func() { _ = w.Unlock() })

	assert.DirExists(t, w.Root)
	assert.DirExists(t, w.TmpDir)
	assert.Equal(t, filepath.Join(w.Root, ".peersync"), w.MetadataDir)
	assert.NoFileExists(t, stale)
}

func TestWorkspaceLocking_SingleInstance(t *testing.T) {
	root := t.TempDir()

	w1, err := NewWorkspace(root)
	require.NoError(t, err)
	w2, err := NewWorkspace(root)
	require.NoError(t, err)

	require.NoError(t, w1.Lock())

	err = w2.Lock()
	require.ErrorIs(t, err, ErrWorkspaceLocked)

	lockPath := filepath.Join(root, ".peersync", "peersync.lock")
	assert.FileExists(t, lockPath)

	require.NoError(t, w1.Unlock())
	_, statErr := os.Stat(lockPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	require.NoError(t, w2.Lock())
	t.Cleanup(func() { _ = w2.Unlock() })
}

func TestIdentity_PersistedAcrossRestarts(t *testing.T) {
	root := t.TempDir()
	w, err := NewWorkspace(root)
	require.NoError(t, err)

	_, err = w.LoadIdentity()
	require.ErrorIs(t, err, ErrNoIdentity)

	first := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	id, err := w.Identity("alice", first)
	require.NoError(t, err)
	assert.Equal(t, "alice_20250101_120000", id.PeerID)

	// a later start keeps the original id
	again, err := w.Identity("alice", first.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id.PeerID, again.PeerID)

	loaded, err := w.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Name)
	assert.True(t, loaded.CreatedAt.Equal(first))
}

func TestIdentity_RenameCreatesNewID(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err = w.Identity("alice", ts)
	require.NoError(t, err)

	renamed, err := w.Identity("alicia", ts.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "alicia_20250101_120100", renamed.PeerID)
}

func TestIdentity_CorruptFileReplaced(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(w.MetadataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(w.MetadataDir, "peer.json"), []byte("{not json"), 0o644))

	_, err = w.LoadIdentity()
	require.Error(t, err)

	id, err := w.Identity("bob", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "bob_20250601_000000", id.PeerID)
}
