package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/types"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestSummarizeBelowMessageFloorReturnsMinimalSummary(t *testing.T) {
	s := &HeuristicSummarizer{MinMessagesForSummary: 10, Now: fixedNow}
	messages := []types.ConversationMessage{
		{Role: types.RoleUser, Content: "hello"},
		{Role: types.RoleAssistant, Content: "hi there"},
	}

	summary := s.Summarize(messages)
	assert.Equal(t, types.SummarySession, summary.Type)
	assert.Contains(t, summary.Content, "2 messages")
}

func TestSummarizeEmptyMessagesReturnsPlaceholder(t *testing.T) {
	s := NewHeuristicSummarizer()
	summary := s.Summarize(nil)
	assert.Equal(t, "No conversation yet.", summary.Content)
}

func TestSummarizeAboveFloorMergesMultipleChunks(t *testing.T) {
	s := &HeuristicSummarizer{MinMessagesForSummary: 2, ChunkSizeChars: 20, Now: fixedNow}
	messages := []types.ConversationMessage{
		{Role: types.RoleUser, Content: "short message one"},
		{Role: types.RoleAssistant, Content: "short reply one"},
		{Role: types.RoleUser, Content: "short message two"},
		{Role: types.RoleAssistant, Content: "short reply two"},
	}

	summary := s.Summarize(messages)
	assert.Equal(t, types.SummaryMerged, summary.Type)
	assert.True(t, strings.Contains(summary.Content, "---"))
}

func TestExtractDecisionsMatchesCueAndDerivesCriticalImpact(t *testing.T) {
	s := NewHeuristicSummarizer()
	messages := []types.ConversationMessage{
		{
			Role: types.RoleAssistant,
			Content: "We decided to use Postgres for this, a critical change.\n" +
				"Rationale: existing drivers are already in the dependency tree.",
		},
	}

	decisions := s.ExtractDecisions(messages)
	require.Len(t, decisions, 1)
	assert.Equal(t, types.ImpactCritical, decisions[0].Impact)
	assert.Contains(t, decisions[0].Rationale, "dependency tree")
}

func TestExtractDecisionsIgnoresUserMessages(t *testing.T) {
	s := NewHeuristicSummarizer()
	messages := []types.ConversationMessage{
		{Role: types.RoleUser, Content: "I decided to use sqlite instead"},
	}
	assert.Empty(t, s.ExtractDecisions(messages))
}

func TestSummarizeChunkCollectsFileMentionsAndErrors(t *testing.T) {
	s := &HeuristicSummarizer{Now: fixedNow}
	chunk := s.summarizeChunk([]types.ConversationMessage{
		{Role: types.RoleAssistant, Content: "Updated engine.go but hit a failed test run."},
	})
	assert.Contains(t, chunk.FilesModified, "engine.go")
	require.Len(t, chunk.Errors, 1)
}
