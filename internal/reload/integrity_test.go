package reload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/commit"
	"github.com/antigravity/memoryengine/internal/filestore"
	"github.com/antigravity/memoryengine/internal/types"
)

func commitValidSnapshot(t *testing.T, store *filestore.Store, id string) {
	t.Helper()
	v := commit.NewValidator(commit.Lenient)
	snap := types.SessionSnapshot{
		ID:             id,
		ConversationID: "conv-1",
		SessionID:      "sess-1",
		Version:        types.CurrentVersion,
	}
	sum, err := v.SnapshotChecksum(snap)
	require.NoError(t, err)
	snap.Checksum = sum
	require.NoError(t, store.SaveSnapshot(&snap))
}

func TestCheckReturnsSnapshotWhenChecksumValid(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	commitValidSnapshot(t, store, "commit-1000-aaaa")

	checker := NewIntegrityChecker(store, zap.NewNop().Sugar())
	outcome, err := checker.Check("commit-1000-aaaa")
	require.NoError(t, err)
	assert.False(t, outcome.UsedFallback)
	require.NotNil(t, outcome.Snapshot)
	assert.Equal(t, "conv-1", outcome.Snapshot.ConversationID)
}

func TestCheckFallsBackToOlderValidSnapshotOnChecksumMismatch(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	commitValidSnapshot(t, store, "commit-1000-aaaa")

	corrupt := types.SessionSnapshot{
		ID: "commit-2000-bbbb", ConversationID: "conv-1", SessionID: "sess-1",
		Version: types.CurrentVersion, Checksum: "deadbeef",
	}
	require.NoError(t, store.SaveSnapshot(&corrupt))

	checker := NewIntegrityChecker(store, zap.NewNop().Sugar())
	outcome, err := checker.Check("commit-2000-bbbb")
	require.NoError(t, err)
	assert.True(t, outcome.UsedFallback)
	assert.Equal(t, "commit-1000-aaaa", outcome.SnapshotID)
}

func TestCheckUsesLatestPointerWhenCommitIDEmpty(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	commitValidSnapshot(t, store, "commit-1000-aaaa")
	require.NoError(t, store.SaveLatestPointer(&types.LatestPointer{CommitID: "commit-1000-aaaa"}))

	checker := NewIntegrityChecker(store, zap.NewNop().Sugar())
	outcome, err := checker.Check("")
	require.NoError(t, err)
	assert.Equal(t, "commit-1000-aaaa", outcome.SnapshotID)
}

func TestCheckReturnsErrorWhenNoValidSnapshotExists(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	corrupt := types.SessionSnapshot{ID: "commit-1", ConversationID: "conv-1", Checksum: "bad"}
	require.NoError(t, store.SaveSnapshot(&corrupt))

	checker := NewIntegrityChecker(store, zap.NewNop().Sugar())
	_, err := checker.Check("commit-1")
	assert.Error(t, err)
}
