package memtier

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity/memoryengine/internal/types"
)

// SessionOptions configures the working store for one session.
type SessionOptions struct {
	MaxEntries int // oldest-first eviction cap; 0 = unbounded
	Now        func() time.Time
}

func (o *SessionOptions) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session is the working store of messages + tool calls + derived entries
// for one session (spec §4.3).
type Session struct {
	opts SessionOptions

	mu         sync.Mutex
	messages   []types.ConversationMessage
	toolCalls  []types.ToolCallRecord
	entries    map[string]types.MemoryEntry
	entryOrder []string
	turnSeq    int
}

// NewSession creates a SessionMemory tier.
func NewSession(opts SessionOptions) *Session {
	opts.setDefaults()
	return &Session{
		opts:    opts,
		entries: make(map[string]types.MemoryEntry),
	}
}

// AddMessage assigns the next turn number, appends the message, and mirrors
// it as a message-typed MemoryEntry with importance 0.4.
func (s *Session) AddMessage(m types.ConversationMessage) types.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turnSeq++
	m.TurnNumber = s.turnSeq
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.opts.Now()
	}
	s.messages = append(s.messages, m)

	source := types.SourceUser
	switch m.Role {
	case types.RoleAssistant:
		source = types.SourceAssistant
	case types.RoleSystem:
		source = types.SourceSystem
	}

	entry := types.MemoryEntry{
		ID:      m.ID,
		Tier:    types.TierSession,
		Content: m.Content,
		Type:    types.EntryMessage,
		Metadata: types.EntryMetadata{
			TurnNumber: m.TurnNumber,
			Source:     source,
		},
		CreatedAt:  m.Timestamp,
		AccessedAt: m.Timestamp,
		Importance: 0.4,
		Tokens:     types.EstimateTokens(m.Content),
	}
	s.addEntryLocked(entry)
	return m
}

// AddToolCall appends a tool call and mirrors it as a tool_result/error
// entry with importance 0.6/0.9.
func (s *Session) AddToolCall(tc types.ToolCallRecord) types.ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tc.ID == "" {
		tc.ID = uuid.New().String()
	}
	s.toolCalls = append(s.toolCalls, tc)

	entryType := types.EntryToolResult
	importance := 0.6
	content := tc.Error
	if tc.Success {
		importance = 0.6
		if tc.Result != nil {
			content = ""
		}
	} else {
		entryType = types.EntryError
		importance = 0.9
	}

	entry := types.MemoryEntry{
		ID:         tc.ID,
		Tier:       types.TierSession,
		Content:    content,
		Type:       entryType,
		Importance: importance,
		CreatedAt:  s.opts.Now(),
		AccessedAt: s.opts.Now(),
		Tokens:     types.EstimateTokens(content),
	}
	s.addEntryLocked(entry)
	return tc
}

func (s *Session) addEntryLocked(e types.MemoryEntry) {
	if _, exists := s.entries[e.ID]; !exists {
		s.entryOrder = append(s.entryOrder, e.ID)
	}
	s.entries[e.ID] = e
	s.evictLocked()
}

// evictLocked drops the oldest entry once the count exceeds MaxEntries
// (spec §4.3: "Oldest-first eviction when entry count exceeds cap").
func (s *Session) evictLocked() {
	if s.opts.MaxEntries <= 0 {
		return
	}
	for len(s.entryOrder) > s.opts.MaxEntries {
		oldest := s.entryOrder[0]
		s.entryOrder = s.entryOrder[1:]
		delete(s.entries, oldest)
	}
}

// Search performs the lexical scoring described in spec §4.3: each
// contained term scores 1, the full query contained scores +2; only
// positive-score entries return, top-limit first.
func (s *Session) Search(query string, limit int) []types.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	terms := strings.Fields(q)

	type scored struct {
		entry types.MemoryEntry
		score int
	}
	var results []scored
	for _, id := range s.entryOrder {
		e := s.entries[id]
		content := strings.ToLower(e.Content)
		score := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				score++
			}
		}
		if strings.Contains(content, q) {
			score += 2
		}
		if score > 0 {
			results = append(results, scored{entry: e, score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]types.MemoryEntry, len(results))
	for i, r := range results {
		out[i] = r.entry
	}
	return out
}

func (s *Session) Messages() []types.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ConversationMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) ToolCalls() []types.ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ToolCallRecord, len(s.toolCalls))
	copy(out, s.toolCalls)
	return out
}

// NextTurnNumber reports the turn number the next AddMessage call will
// assign, for callers that need to pre-validate ordering.
func (s *Session) NextTurnNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnSeq + 1
}

// RestoreMessages replaces the message vector wholesale (used by reload's
// Full/Rollback/Selective strategies) and resets the turn sequence to the
// highest turn number present.
func (s *Session) RestoreMessages(msgs []types.ConversationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]types.ConversationMessage(nil), msgs...)
	max := 0
	for _, m := range msgs {
		if m.TurnNumber > max {
			max = m.TurnNumber
		}
	}
	s.turnSeq = max
}

func (s *Session) Retrieve(opts RetrieveOptions) []types.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterAndSort(s.snapshotLocked(), opts)
}

func (s *Session) Entries() []types.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []types.MemoryEntry {
	out := make([]types.MemoryEntry, 0, len(s.entryOrder))
	for _, id := range s.entryOrder {
		out = append(out, s.entries[id])
	}
	return out
}

// RestoreEntries replaces the entry map wholesale (used by reload strategies).
func (s *Session) RestoreEntries(entries []types.MemoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]types.MemoryEntry, len(entries))
	s.entryOrder = s.entryOrder[:0]
	for _, e := range entries {
		s.entries[e.ID] = e
		s.entryOrder = append(s.entryOrder, e.ID)
	}
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.toolCalls = nil
	s.entries = make(map[string]types.MemoryEntry)
	s.entryOrder = nil
	s.turnSeq = 0
}
