package reload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/types"
)

func TestScoreRanksMoreRecentAndMoreImportantEntryHigher(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	scorer := NewRelevanceScorer()

	entries := []types.MemoryEntry{
		{ID: "old", AccessedAt: now.Add(-6 * 24 * time.Hour), Importance: 0.2},
		{ID: "fresh", AccessedAt: now, Importance: 0.9},
	}
	scored := scorer.Score(entries, ScoreOptions{Now: now})
	require.Len(t, scored, 2)
	assert.Equal(t, "fresh", scored[0].Entry.ID)
}

func TestScoreAppliesThresholdFloor(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	scorer := NewRelevanceScorer()
	entries := []types.MemoryEntry{
		{ID: "weak", AccessedAt: now.Add(-10 * 24 * time.Hour), Importance: 0.0},
	}
	scored := scorer.Score(entries, ScoreOptions{Now: now, Threshold: 0.5})
	assert.Empty(t, scored)
}

func TestScoreCapsAtMaxItems(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	scorer := NewRelevanceScorer()
	entries := []types.MemoryEntry{
		{ID: "a", AccessedAt: now, Importance: 0.5},
		{ID: "b", AccessedAt: now, Importance: 0.6},
		{ID: "c", AccessedAt: now, Importance: 0.7},
	}
	scored := scorer.Score(entries, ScoreOptions{Now: now, MaxItems: 2})
	assert.Len(t, scored, 2)
}

func TestScoreQueryRelevanceBoostsMatchingContent(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	scorer := NewRelevanceScorer()
	entries := []types.MemoryEntry{
		{ID: "match", Content: "checksum validation failed", AccessedAt: now, Importance: 0.5},
		{ID: "nomatch", Content: "unrelated content here", AccessedAt: now, Importance: 0.5},
	}
	scored := scorer.Score(entries, ScoreOptions{Now: now, Query: "checksum validation"})
	require.Len(t, scored, 2)
	assert.Equal(t, "match", scored[0].Entry.ID)
}
