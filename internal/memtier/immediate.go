package memtier

import (
	"sort"
	"sync"
	"time"

	"github.com/antigravity/memoryengine/internal/types"
)

// ImmediateOptions configures capacity bounds for ImmediateMemory.
type ImmediateOptions struct {
	MaxTokens  int // default 4000
	MaxEntries int // default 20
	Now        func() time.Time
}

func (o *ImmediateOptions) setDefaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4000
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 20
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Immediate is the hot, token-capped, LRU-importance-evicted cache of
// recent entries (spec §4.3).
type Immediate struct {
	opts ImmediateOptions

	mu         sync.Mutex
	entries    map[string]types.MemoryEntry
	order      []string // insertion order, for stable iteration
	tokensUsed int
}

// NewImmediate creates an ImmediateMemory tier.
func NewImmediate(opts ImmediateOptions) *Immediate {
	opts.setDefaults()
	return &Immediate{
		opts:    opts,
		entries: make(map[string]types.MemoryEntry),
	}
}

// Add computes tokens if absent, then evicts the lowest-eviction-key
// entries until the new entry fits within MaxTokens/MaxEntries.
func (m *Immediate) Add(e types.MemoryEntry) types.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Tokens == 0 {
		e.Tokens = types.EstimateTokens(e.Content)
	}
	e.Importance = types.ClampImportance(e.Importance)
	e.Tier = types.TierImmediate
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.opts.Now()
	}
	e.AccessedAt = m.opts.Now()

	if existing, ok := m.entries[e.ID]; ok {
		m.tokensUsed -= existing.Tokens
	} else {
		m.order = append(m.order, e.ID)
	}
	m.entries[e.ID] = e
	m.tokensUsed += e.Tokens

	m.evictLocked()
	return e
}

func (m *Immediate) evictLocked() {
	now := m.opts.Now()
	for m.tokensUsed > m.opts.MaxTokens || len(m.entries) > m.opts.MaxEntries {
		if len(m.entries) == 0 {
			return
		}
		victim := m.smallestKeyLocked(now)
		if victim == "" {
			return
		}
		e := m.entries[victim]
		m.tokensUsed -= e.Tokens
		delete(m.entries, victim)
		m.removeFromOrderLocked(victim)
	}
}

func (m *Immediate) smallestKeyLocked(now time.Time) string {
	var victim string
	var victimScore float64
	first := true
	for id, e := range m.entries {
		score := evictionKey(e, now, 0.1)
		if first || score < victimScore {
			victim = id
			victimScore = score
			first = false
		}
	}
	return victim
}

func (m *Immediate) removeFromOrderLocked(id string) {
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// GetPromotionCandidates returns the bottom half of entries by eviction key
// once occupancy reaches 80% of MaxEntries (spec §4.3).
func (m *Immediate) GetPromotionCandidates() []types.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) < int(0.8*float64(m.opts.MaxEntries)) {
		return nil
	}
	now := m.opts.Now()
	all := make([]types.MemoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return evictionKey(all[i], now, 0.1) < evictionKey(all[j], now, 0.1)
	})
	half := len(all) / 2
	return all[:half]
}

// TokensUsed reports current occupancy (for the eviction-bound testable
// property in spec §8).
func (m *Immediate) TokensUsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokensUsed
}

func (m *Immediate) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Immediate) Retrieve(opts RetrieveOptions) []types.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterAndSort(m.snapshotLocked(), opts)
}

func (m *Immediate) Entries() []types.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Immediate) snapshotLocked() []types.MemoryEntry {
	out := make([]types.MemoryEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}

func (m *Immediate) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]types.MemoryEntry)
	m.order = nil
	m.tokensUsed = 0
}

func filterAndSort(all []types.MemoryEntry, opts RetrieveOptions) []types.MemoryEntry {
	out := make([]types.MemoryEntry, 0, len(all))
	for _, e := range all {
		if len(opts.Types) > 0 && !containsType(opts.Types, e.Type) {
			continue
		}
		if e.Importance < opts.MinImportance {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessedAt.After(out[j].AccessedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func containsType(types_ []types.EntryType, t types.EntryType) bool {
	for _, x := range types_ {
		if x == t {
			return true
		}
	}
	return false
}
