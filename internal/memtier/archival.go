package memtier

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antigravity/memoryengine/internal/types"
)

var termSplitter = regexp.MustCompile(`\W+`)

// Archival holds snapshots, entities and an inverted term index for
// lexical search (spec §4.3).
type Archival struct {
	mu sync.Mutex

	entitiesByID map[string]types.ExtractedEntity
	snapshotIDs  []string
	invertedIdx  map[string]map[string]bool // term -> entryID set
	entries      map[string]types.MemoryEntry
	order        []string
	now          func() time.Time
}

func NewArchival(now func() time.Time) *Archival {
	if now == nil {
		now = time.Now
	}
	return &Archival{
		entitiesByID: make(map[string]types.ExtractedEntity),
		invertedIdx:  make(map[string]map[string]bool),
		entries:      make(map[string]types.MemoryEntry),
		now:          now,
	}
}

// IndexEntity stores an entity (replacing any with the same ID) and indexes
// its name and mention contexts.
func (a *Archival) IndexEntity(e types.ExtractedEntity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entitiesByID[e.ID] = e

	entry := types.MemoryEntry{
		ID: e.ID, Tier: types.TierArchival, Content: e.Name,
		Type: types.EntryEntity, Importance: 0.5,
		CreatedAt: e.CreatedAt, AccessedAt: a.now(),
	}
	a.addEntryLocked(entry)
	a.indexTermsLocked(e.Name, e.ID)
	for _, m := range e.Mentions {
		a.indexTermsLocked(m.Context, e.ID)
	}
}

// RecordSnapshot notes a committed snapshot id for lookups and copies its
// messages (importance 0.3) and entities in as archival-tier entries. The
// snapshot's decisions and facts are not copied.
func (a *Archival) RecordSnapshot(snap types.SessionSnapshot) {
	a.mu.Lock()
	a.snapshotIDs = append(a.snapshotIDs, snap.ID)
	a.mu.Unlock()

	for _, m := range snap.Messages {
		a.addArchivalMirror(m.ID, m.Content, types.EntryMessage, 0.3, m.Timestamp)
	}
	for _, e := range snap.Entities {
		a.IndexEntity(e)
	}
}

func (a *Archival) addArchivalMirror(id, content string, t types.EntryType, importance float64, createdAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := types.MemoryEntry{
		ID: id, Tier: types.TierArchival, Content: content, Type: t,
		Importance: importance, CreatedAt: createdAt, AccessedAt: a.now(),
		Tokens: types.EstimateTokens(content),
	}
	a.addEntryLocked(entry)
	a.indexTermsLocked(content, id)
}

func (a *Archival) addEntryLocked(e types.MemoryEntry) {
	if _, exists := a.entries[e.ID]; !exists {
		a.order = append(a.order, e.ID)
	}
	a.entries[e.ID] = e
}

// indexTerms lowercases text, splits on non-word runes, and drops tokens of
// length <= 3 (spec §4.3).
func (a *Archival) indexTermsLocked(text, entryID string) {
	for _, term := range termSplitter.Split(strings.ToLower(text), -1) {
		if len(term) <= 3 {
			continue
		}
		set, ok := a.invertedIdx[term]
		if !ok {
			set = make(map[string]bool)
			a.invertedIdx[term] = set
		}
		set[entryID] = true
	}
}

// Search unions inverted-index matches with a direct substring scan over
// entry content, ranked by match count (spec §4.3).
func (a *Archival) Search(query string, limit int) []types.MemoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	terms := termSplitter.Split(q, -1)

	scores := make(map[string]int)
	for _, term := range terms {
		if len(term) <= 3 {
			continue
		}
		for id := range a.invertedIdx[term] {
			scores[id]++
		}
	}
	for id, e := range a.entries {
		if strings.Contains(strings.ToLower(e.Content), q) {
			scores[id]++
		}
	}

	type scored struct {
		entry types.MemoryEntry
		score int
	}
	var results []scored
	for id, score := range scores {
		if e, ok := a.entries[id]; ok {
			results = append(results, scored{entry: e, score: score})
		}
	}
	if len(results) == 0 {
		return nil
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

func (a *Archival) Entities() []types.ExtractedEntity {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.ExtractedEntity, 0, len(a.entitiesByID))
	for _, e := range a.entitiesByID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

func (a *Archival) SnapshotIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.snapshotIDs))
	copy(out, a.snapshotIDs)
	return out
}

func (a *Archival) Restore(entities []types.ExtractedEntity, entries []types.MemoryEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entitiesByID = make(map[string]types.ExtractedEntity, len(entities))
	a.invertedIdx = make(map[string]map[string]bool)
	a.entries = make(map[string]types.MemoryEntry, len(entries))
	a.order = a.order[:0]
	for _, e := range entries {
		a.entries[e.ID] = e
		a.order = append(a.order, e.ID)
		a.indexTermsLocked(e.Content, e.ID)
	}
	for _, ent := range entities {
		a.entitiesByID[ent.ID] = ent
		a.indexTermsLocked(ent.Name, ent.ID)
		for _, m := range ent.Mentions {
			a.indexTermsLocked(m.Context, ent.ID)
		}
	}
}

func (a *Archival) Retrieve(opts RetrieveOptions) []types.MemoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return filterAndSort(a.snapshotLocked(), opts)
}

func (a *Archival) Entries() []types.MemoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Archival) snapshotLocked() []types.MemoryEntry {
	out := make([]types.MemoryEntry, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.entries[id])
	}
	return out
}

func (a *Archival) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entitiesByID = make(map[string]types.ExtractedEntity)
	a.invertedIdx = make(map[string]map[string]bool)
	a.entries = make(map[string]types.MemoryEntry)
	a.order = nil
	a.snapshotIDs = nil
}
