package memtier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/types"
)

func TestSessionAddMessageAssignsSequentialTurnNumbers(t *testing.T) {
	s := NewSession(SessionOptions{})
	m1 := s.AddMessage(types.ConversationMessage{Role: types.RoleUser, Content: "hi"})
	m2 := s.AddMessage(types.ConversationMessage{Role: types.RoleAssistant, Content: "hello"})

	assert.Equal(t, 1, m1.TurnNumber)
	assert.Equal(t, 2, m2.TurnNumber)
	assert.Equal(t, 3, s.NextTurnNumber())
}

func TestSessionAddToolCallMarksErrorEntryHighImportance(t *testing.T) {
	s := NewSession(SessionOptions{})
	s.AddToolCall(types.ToolCallRecord{Name: "grep", Success: false, Error: "boom"})

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.EntryError, entries[0].Type)
	assert.Equal(t, 0.9, entries[0].Importance)
}

func TestSessionEvictsOldestWhenMaxEntriesExceeded(t *testing.T) {
	s := NewSession(SessionOptions{MaxEntries: 1})
	s.AddMessage(types.ConversationMessage{Role: types.RoleUser, Content: "first"})
	s.AddMessage(types.ConversationMessage{Role: types.RoleUser, Content: "second"})

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Content)
}

func TestSessionSearchRanksFullQueryMatchAboveTermOnlyMatch(t *testing.T) {
	s := NewSession(SessionOptions{})
	s.AddMessage(types.ConversationMessage{Role: types.RoleUser, Content: "checksum validation failed"})
	s.AddMessage(types.ConversationMessage{Role: types.RoleUser, Content: "checksum looks fine"})

	results := s.Search("checksum validation", 10)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "validation failed")
}

func TestSessionSearchEmptyQueryReturnsNil(t *testing.T) {
	s := NewSession(SessionOptions{})
	s.AddMessage(types.ConversationMessage{Role: types.RoleUser, Content: "hi"})
	assert.Nil(t, s.Search("   ", 10))
}

func TestSessionRestoreMessagesResetsTurnSequenceToMax(t *testing.T) {
	s := NewSession(SessionOptions{})
	s.RestoreMessages([]types.ConversationMessage{
		{ID: "a", TurnNumber: 3},
		{ID: "b", TurnNumber: 7},
	})
	assert.Equal(t, 8, s.NextTurnNumber())
}

func TestSessionClearResetsEverything(t *testing.T) {
	s := NewSession(SessionOptions{})
	s.AddMessage(types.ConversationMessage{Role: types.RoleUser, Content: "hi"})
	s.Clear()
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.Entries())
	assert.Equal(t, 1, s.NextTurnNumber())
}
