package memtier

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antigravity/memoryengine/internal/types"
)

// SummarizedOptions configures the capped long-term summarized tier.
type SummarizedOptions struct {
	MaxEntries int // 0 = unbounded
	Now        func() time.Time
}

func (o *SummarizedOptions) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Summarized indexes summaries, decisions and facts with importance-capped
// eviction (spec §4.3).
type Summarized struct {
	opts SummarizedOptions

	mu        sync.Mutex
	summaries map[string]types.Summary
	decisions map[string]types.KeyDecision
	facts     map[string]types.LearnedFact
	entries   map[string]types.MemoryEntry
	order     []string
}

func NewSummarized(opts SummarizedOptions) *Summarized {
	opts.setDefaults()
	return &Summarized{
		opts:      opts,
		summaries: make(map[string]types.Summary),
		decisions: make(map[string]types.KeyDecision),
		facts:     make(map[string]types.LearnedFact),
		entries:   make(map[string]types.MemoryEntry),
	}
}

func (t *Summarized) AddSummary(s types.Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaries[s.ID] = s
	t.mirrorLocked(types.MemoryEntry{
		ID: s.ID, Tier: types.TierSummarized, Content: s.Content,
		Type: types.EntrySummary, Importance: 0.7,
		CreatedAt: s.Timestamp, AccessedAt: t.opts.Now(), Tokens: s.Tokens,
	})
}

func (t *Summarized) AddDecision(d types.KeyDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decisions[d.ID] = d
	importance := decisionImportance(d.Impact)
	t.mirrorLocked(types.MemoryEntry{
		ID: d.ID, Tier: types.TierSummarized, Content: d.Title + ": " + d.Description,
		Type: types.EntryDecision, Importance: importance,
		CreatedAt: d.Timestamp, AccessedAt: t.opts.Now(),
	})
}

func (t *Summarized) AddFact(f types.LearnedFact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.facts[f.ID] = f
	t.mirrorLocked(types.MemoryEntry{
		ID: f.ID, Tier: types.TierSummarized, Content: f.Content,
		Type: types.EntryFact, Importance: f.Confidence,
		CreatedAt: f.Timestamp, AccessedAt: t.opts.Now(),
	})
}

// decisionImportance mirrors the Full reload strategy's derivation
// (spec §4.11): critical->1.0, high->0.8, else 0.5.
func decisionImportance(impact types.Impact) float64 {
	switch impact {
	case types.ImpactCritical:
		return 1.0
	case types.ImpactHigh:
		return 0.8
	default:
		return 0.5
	}
}

func (t *Summarized) mirrorLocked(e types.MemoryEntry) {
	e.Importance = types.ClampImportance(e.Importance)
	if _, exists := t.entries[e.ID]; !exists {
		t.order = append(t.order, e.ID)
	}
	t.entries[e.ID] = e
	t.evictLocked()
}

// evictLocked drops the lowest-importance entry once MaxEntries is exceeded.
func (t *Summarized) evictLocked() {
	if t.opts.MaxEntries <= 0 {
		return
	}
	for len(t.order) > t.opts.MaxEntries {
		var victim string
		var victimScore float64
		first := true
		for _, id := range t.order {
			e := t.entries[id]
			if first || e.Importance < victimScore {
				victim = id
				victimScore = e.Importance
				first = false
			}
		}
		if victim == "" {
			return
		}
		delete(t.entries, victim)
		for i, id := range t.order {
			if id == victim {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		delete(t.summaries, victim)
		delete(t.decisions, victim)
		delete(t.facts, victim)
	}
}

// MergeSummaries concatenates content, unions key fields, and preserves the
// *last* currentState/nextSteps (spec §4.3).
func (t *Summarized) MergeSummaries(ids []string) types.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var merged types.Summary
	merged.Type = types.SummaryMerged
	var contents []string
	seenPoints := map[string]bool{}
	seenFiles := map[string]bool{}
	for _, id := range ids {
		s, ok := t.summaries[id]
		if !ok {
			continue
		}
		contents = append(contents, s.Content)
		for _, kp := range s.KeyPoints {
			if !seenPoints[kp] {
				seenPoints[kp] = true
				merged.KeyPoints = append(merged.KeyPoints, kp)
			}
		}
		merged.Decisions = append(merged.Decisions, s.Decisions...)
		merged.Errors = append(merged.Errors, s.Errors...)
		for _, f := range s.FilesModified {
			if !seenFiles[f] {
				seenFiles[f] = true
				merged.FilesModified = append(merged.FilesModified, f)
			}
		}
		merged.ConversationID = s.ConversationID
		merged.CurrentState = s.CurrentState
		merged.NextSteps = s.NextSteps
		merged.SourceMessages += s.SourceMessages
	}
	merged.Content = strings.Join(contents, "\n\n")
	merged.Tokens = types.EstimateTokens(merged.Content)
	merged.Timestamp = t.opts.Now()
	return merged
}

func (t *Summarized) Summaries() []types.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Summary, 0, len(t.summaries))
	for _, s := range t.summaries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (t *Summarized) Decisions() []types.KeyDecision {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.KeyDecision, 0, len(t.decisions))
	for _, d := range t.decisions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (t *Summarized) Facts() []types.LearnedFact {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.LearnedFact, 0, len(t.facts))
	for _, f := range t.facts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Restore replaces decisions/facts and the tier's mirror entries wholesale
// (used by reload strategies); stored summaries are left as they are.
// Callers pass the concrete
// typed slices alongside the mirror entries so indices stay consistent.
func (t *Summarized) Restore(decisions []types.KeyDecision, facts []types.LearnedFact, entries []types.MemoryEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decisions = make(map[string]types.KeyDecision, len(decisions))
	for _, d := range decisions {
		t.decisions[d.ID] = d
	}
	t.facts = make(map[string]types.LearnedFact, len(facts))
	for _, f := range facts {
		t.facts[f.ID] = f
	}
	t.entries = make(map[string]types.MemoryEntry, len(entries))
	t.order = t.order[:0]
	for _, e := range entries {
		t.entries[e.ID] = e
		t.order = append(t.order, e.ID)
	}
}

func (t *Summarized) Retrieve(opts RetrieveOptions) []types.MemoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return filterAndSort(t.snapshotLocked(), opts)
}

func (t *Summarized) Entries() []types.MemoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Summarized) snapshotLocked() []types.MemoryEntry {
	out := make([]types.MemoryEntry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id])
	}
	return out
}

func (t *Summarized) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaries = make(map[string]types.Summary)
	t.decisions = make(map[string]types.KeyDecision)
	t.facts = make(map[string]types.LearnedFact)
	t.entries = make(map[string]types.MemoryEntry)
	t.order = nil
}
