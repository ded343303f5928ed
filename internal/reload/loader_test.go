package reload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/filestore"
	"github.com/antigravity/memoryengine/internal/types"
)

func TestLoadAppliesFullStrategyAgainstSelectedSnapshot(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	commitValidSnapshot(t, store, "commit-1000-aaaa")

	checker := NewIntegrityChecker(store, zap.NewNop().Sugar())
	loader := NewContextLoader(store, checker, NewStrategy(), zap.NewNop().Sugar())

	loaded, err := loader.Load("commit-1000-aaaa", nil, Options{Kind: KindFull})
	require.NoError(t, err)
	assert.False(t, loaded.Outcome.UsedFallback)
	assert.Equal(t, "commit-1000-aaaa", loaded.Outcome.SnapshotID)
}

func TestLoadReturnsErrorWhenIntegrityCheckFails(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	corrupt := types.SessionSnapshot{ID: "commit-1", ConversationID: "conv-1", Checksum: "bad"}
	require.NoError(t, store.SaveSnapshot(&corrupt))

	checker := NewIntegrityChecker(store, zap.NewNop().Sugar())
	loader := NewContextLoader(store, checker, NewStrategy(), zap.NewNop().Sugar())

	_, err := loader.Load("commit-1", nil, Options{Kind: KindFull})
	assert.Error(t, err)
}

func TestLoadLogsAndProceedsWhenFallbackWasUsed(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	commitValidSnapshot(t, store, "commit-1000-aaaa")

	corrupt := types.SessionSnapshot{
		ID: "commit-2000-bbbb", ConversationID: "conv-1", SessionID: "sess-1",
		Version: types.CurrentVersion, Checksum: "deadbeef",
	}
	require.NoError(t, store.SaveSnapshot(&corrupt))

	checker := NewIntegrityChecker(store, zap.NewNop().Sugar())
	loader := NewContextLoader(store, checker, NewStrategy(), zap.NewNop().Sugar())

	loaded, err := loader.Load("commit-2000-bbbb", nil, Options{Kind: KindFull})
	require.NoError(t, err)
	assert.True(t, loaded.Outcome.UsedFallback)
	assert.Equal(t, "commit-1000-aaaa", loaded.Outcome.SnapshotID)
}
