package reload

import (
	"fmt"
	"time"

	"github.com/antigravity/memoryengine/internal/types"
)

// Kind selects which reconciliation semantics Apply uses to merge a loaded
// snapshot with whatever is already resident in the tiers (spec §4.11).
type Kind string

const (
	KindFull      Kind = "full"
	KindSelective Kind = "selective"
	KindRollback  Kind = "rollback"
	KindMerge     Kind = "merge"
)

// Options parameterizes a reload. Selective uses Tiers/Since to scope what
// reloads; Rollback uses RollbackTo.
type Options struct {
	Kind       Kind
	Tiers      []types.Tier
	Since      time.Time
	RollbackTo time.Time
}

// Result reports what a strategy did to the tier state: Reloaded entries
// came from the snapshot, Preserved entries were left alone, Discarded
// entries were dropped, and Merged entries existed in both and were
// combined.
type Result struct {
	Reloaded  []types.MemoryEntry
	Discarded []types.MemoryEntry
	Preserved []types.MemoryEntry
	Merged    []types.MemoryEntry
}

// Strategy resolves one of the four reload kinds against a snapshot and
// the tiers' current entries.
type Strategy struct{}

func NewStrategy() *Strategy {
	return &Strategy{}
}

// Apply dispatches to the kind-specific reconciliation function. This is
// the engine's one entry point into the reload tagged union; every kind
// returns the same Result shape so callers do not need a type switch.
func (s *Strategy) Apply(snap types.SessionSnapshot, current []types.MemoryEntry, opts Options) (Result, error) {
	switch opts.Kind {
	case KindFull, "":
		res := s.applyFull(snap)
		res.Discarded = current
		return res, nil
	case KindSelective:
		return s.applySelective(snap, current, opts), nil
	case KindRollback:
		return s.applyRollback(snap, current, opts), nil
	case KindMerge:
		return s.applyMerge(snap, current), nil
	default:
		return Result{}, fmt.Errorf("reload: unknown strategy kind %q", opts.Kind)
	}
}

// applyFull replaces everything: every prior entry is discarded, every
// snapshot-derived entry reloads. Decision importance is re-derived by
// impact (spec §4.11: critical->1.0, high->0.8, else 0.5), matching
// memtier.decisionImportance so a full reload and a live AddDecision agree.
func (s *Strategy) applyFull(snap types.SessionSnapshot) Result {
	var res Result
	for _, m := range snap.Messages {
		res.Reloaded = append(res.Reloaded, types.MemoryEntry{
			ID: m.ID, Tier: types.TierSession, Content: m.Content,
			Type: types.EntryMessage, CreatedAt: m.Timestamp, AccessedAt: m.Timestamp,
			Importance: 0.4, Tokens: types.EstimateTokens(m.Content),
		})
	}
	for _, d := range snap.KeyDecisions {
		res.Reloaded = append(res.Reloaded, types.MemoryEntry{
			ID: d.ID, Tier: types.TierSummarized, Content: d.Title + ": " + d.Description,
			Type: types.EntryDecision, Importance: fullReloadDecisionImportance(d.Impact),
			CreatedAt: d.Timestamp, AccessedAt: d.Timestamp,
		})
	}
	for _, f := range snap.LearnedFacts {
		res.Reloaded = append(res.Reloaded, types.MemoryEntry{
			ID: f.ID, Tier: types.TierSummarized, Content: f.Content,
			Type: types.EntryFact, Importance: f.Confidence,
			CreatedAt: f.Timestamp, AccessedAt: f.Timestamp,
		})
	}
	for _, e := range snap.Entities {
		res.Reloaded = append(res.Reloaded, types.MemoryEntry{
			ID: e.ID, Tier: types.TierArchival, Content: e.Name,
			Type: types.EntryEntity, Importance: 0.5,
			CreatedAt: e.CreatedAt, AccessedAt: e.UpdatedAt,
		})
	}
	return res
}

func fullReloadDecisionImportance(impact types.Impact) float64 {
	switch impact {
	case types.ImpactCritical:
		return 1.0
	case types.ImpactHigh:
		return 0.8
	default:
		return 0.5
	}
}

// applySelective replaces only entries whose tier is in opts.Tiers with the
// snapshot's version of that tier; entries of every other tier are preserved
// verbatim, untouched by the reload (spec §4.11). An empty Tiers list is
// treated as "every tier", matching applyFull.
func (s *Strategy) applySelective(snap types.SessionSnapshot, current []types.MemoryEntry, opts Options) Result {
	full := s.applyFull(snap)
	var res Result
	for _, e := range full.Reloaded {
		if !tierWanted(e.Tier, opts.Tiers) {
			continue
		}
		if !opts.Since.IsZero() && e.CreatedAt.Before(opts.Since) {
			continue
		}
		res.Reloaded = append(res.Reloaded, e)
	}
	for _, e := range current {
		if tierWanted(e.Tier, opts.Tiers) {
			res.Discarded = append(res.Discarded, e)
			continue
		}
		res.Preserved = append(res.Preserved, e)
	}
	return res
}

// applyRollback discards every current entry, of every tier, and reloads
// only the snapshot entries at or before RollbackTo (spec §4.11): rollback
// is not a selective preserve-the-recent-stuff operation, it replaces the
// live state wholesale with an earlier point in time.
func (s *Strategy) applyRollback(snap types.SessionSnapshot, current []types.MemoryEntry, opts Options) Result {
	res := Result{Discarded: current}
	full := s.applyFull(snap)
	for _, e := range full.Reloaded {
		if !e.CreatedAt.After(opts.RollbackTo) {
			res.Reloaded = append(res.Reloaded, e)
		}
	}
	return res
}

// applyMerge reconciles snapshot entries with current ones sharing the same
// ID by keeping the one with the higher importance (ties keep current), and
// appends anything only one side has (spec §4.11).
func (s *Strategy) applyMerge(snap types.SessionSnapshot, current []types.MemoryEntry) Result {
	full := s.applyFull(snap)
	currentByID := make(map[string]types.MemoryEntry, len(current))
	for _, e := range current {
		currentByID[e.ID] = e
	}

	var res Result
	seen := make(map[string]bool)
	for _, e := range full.Reloaded {
		seen[e.ID] = true
		if cur, ok := currentByID[e.ID]; ok {
			if e.Importance > cur.Importance {
				res.Merged = append(res.Merged, e)
			} else {
				res.Merged = append(res.Merged, cur)
			}
			continue
		}
		res.Reloaded = append(res.Reloaded, e)
	}
	for _, e := range current {
		if !seen[e.ID] {
			res.Preserved = append(res.Preserved, e)
		}
	}
	return res
}

func tierWanted(t types.Tier, wanted []types.Tier) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == t {
			return true
		}
	}
	return false
}
