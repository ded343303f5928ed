package filestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/types"
)

func TestSaveSnapshotThenLoadSnapshotRoundTrips(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	snap := &types.SessionSnapshot{
		ID:             "commit-1",
		ConversationID: "conv-1",
		SessionID:      "sess-1",
		Timestamp:      time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, store.SaveSnapshot(snap))

	got, ok, err := store.LoadSnapshot("commit-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, snap.SessionID, got.SessionID)
}

func TestListSnapshotsOrdersNewestEmbeddedEpochFirst(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	require.NoError(t, store.SaveSnapshot(&types.SessionSnapshot{ID: "commit-1700000001000-aaaa"}))
	require.NoError(t, store.SaveSnapshot(&types.SessionSnapshot{ID: "commit-1700000002000-bbbb"}))

	names, err := store.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Contains(t, names[0], "1700000002000")
}

func TestLoadCommitMetadataMissingReturnsFalse(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	meta, ok, err := store.LoadCommitMetadata("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, meta)
}

func TestSaveLatestPointerThenLoad(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	require.NoError(t, store.SaveLatestPointer(&types.LatestPointer{CommitID: "commit-1"}))

	got, ok, err := store.LoadLatestPointer()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "commit-1", got.CommitID)
}

func TestLoadSummaryOnEmptyStoreReturnsZeroValueNotError(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	summary, err := store.LoadSummary()
	require.NoError(t, err)
	assert.Equal(t, &types.Summary{}, summary)
}

func TestSaveMessagesThenLoadMessagesRoundTrips(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	msgs := []types.ConversationMessage{
		{ID: "m1", Role: types.RoleUser, Content: "hello"},
		{ID: "m2", Role: types.RoleAssistant, Content: "hi"},
	}
	require.NoError(t, store.SaveMessages(msgs))

	got, err := store.LoadMessages()
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func TestListWALListsPendingEntries(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	require.NoError(t, store.WriteJSON(store.WALPath("commit-1"), map[string]string{"stage": "prepare"}))

	names, err := store.ListWAL()
	require.NoError(t, err)
	assert.Equal(t, []string{"commit-1.wal.json"}, names)
}
