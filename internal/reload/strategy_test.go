package reload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/types"
)

func sampleSnapshot() types.SessionSnapshot {
	return types.SessionSnapshot{
		Messages: []types.ConversationMessage{{ID: "m1", Content: "hi"}},
		KeyDecisions: []types.KeyDecision{
			{ID: "d1", Title: "use postgres", Impact: types.ImpactCritical},
		},
		LearnedFacts: []types.LearnedFact{{ID: "f1", Content: "fact", Confidence: 0.7}},
		Entities:     []types.ExtractedEntity{{ID: "e1", Name: "checksum"}},
	}
}

func TestApplyFullReloadsEverythingAndDerivesDecisionImportance(t *testing.T) {
	s := NewStrategy()
	res, err := s.Apply(sampleSnapshot(), nil, Options{Kind: KindFull})
	require.NoError(t, err)
	require.Len(t, res.Reloaded, 4)

	for _, e := range res.Reloaded {
		if e.ID == "d1" {
			assert.Equal(t, 1.0, e.Importance)
		}
	}
}

func TestApplySelectiveOnlyReloadsWantedTiersAndPreservesRest(t *testing.T) {
	s := NewStrategy()
	current := []types.MemoryEntry{
		{ID: "stale-session", Tier: types.TierSession, Type: types.EntryMessage},
		{ID: "stale-summarized", Tier: types.TierSummarized, Type: types.EntryFact},
	}
	res, err := s.Apply(sampleSnapshot(), current, Options{
		Kind:  KindSelective,
		Tiers: []types.Tier{types.TierSession},
	})
	require.NoError(t, err)

	require.Len(t, res.Reloaded, 1)
	assert.Equal(t, types.TierSession, res.Reloaded[0].Tier)
	assert.Equal(t, "m1", res.Reloaded[0].ID)

	require.Len(t, res.Discarded, 1)
	assert.Equal(t, "stale-session", res.Discarded[0].ID)

	require.Len(t, res.Preserved, 1)
	assert.Equal(t, "stale-summarized", res.Preserved[0].ID)
}

// TestApplySelectiveOfSummarizedTierActuallyReloads guards against the bug
// where a selective reload scoped to a tier other than session silently
// reloaded nothing: every kind of tier must be selectable, not just session.
func TestApplySelectiveOfSummarizedTierActuallyReloads(t *testing.T) {
	s := NewStrategy()
	current := []types.MemoryEntry{{ID: "old-session", Tier: types.TierSession, Type: types.EntryMessage}}
	res, err := s.Apply(sampleSnapshot(), current, Options{
		Kind:  KindSelective,
		Tiers: []types.Tier{types.TierSummarized},
	})
	require.NoError(t, err)

	require.Len(t, res.Reloaded, 2, "decision and fact entries from the snapshot's summarized tier")
	for _, e := range res.Reloaded {
		assert.Equal(t, types.TierSummarized, e.Tier)
	}
	require.Len(t, res.Preserved, 1)
	assert.Equal(t, "old-session", res.Preserved[0].ID)
}

func TestApplyRollbackDiscardsAllCurrentEntriesRegardlessOfCutoff(t *testing.T) {
	s := NewStrategy()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := []types.MemoryEntry{
		{ID: "old", CreatedAt: cutoff.Add(-time.Hour)},
		{ID: "new", CreatedAt: cutoff.Add(time.Hour)},
	}
	res, err := s.Apply(types.SessionSnapshot{}, current, Options{Kind: KindRollback, RollbackTo: cutoff})
	require.NoError(t, err)

	require.Len(t, res.Discarded, 2, "rollback discards all current entries, not just ones after the cutoff")
	assert.Empty(t, res.Preserved)
}

func TestApplyRollbackReloadsOnlySnapshotEntriesAtOrBeforeCutoff(t *testing.T) {
	s := NewStrategy()
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := types.SessionSnapshot{
		Messages: []types.ConversationMessage{
			{ID: "m-old", Content: "before", Timestamp: cutoff.Add(-time.Hour)},
			{ID: "m-new", Content: "after", Timestamp: cutoff.Add(time.Hour)},
		},
	}
	res, err := s.Apply(snap, nil, Options{Kind: KindRollback, RollbackTo: cutoff})
	require.NoError(t, err)

	require.Len(t, res.Reloaded, 1)
	assert.Equal(t, "m-old", res.Reloaded[0].ID)
}

func TestApplyMergeKeepsHigherImportanceSide(t *testing.T) {
	s := NewStrategy()
	current := []types.MemoryEntry{{ID: "f1", Importance: 0.9}}
	res, err := s.Apply(sampleSnapshot(), current, Options{Kind: KindMerge})
	require.NoError(t, err)

	for _, e := range res.Merged {
		if e.ID == "f1" {
			assert.Equal(t, 0.9, e.Importance)
		}
	}
}

func TestApplyUnknownKindReturnsError(t *testing.T) {
	s := NewStrategy()
	_, err := s.Apply(types.SessionSnapshot{}, nil, Options{Kind: "bogus"})
	assert.Error(t, err)
}
