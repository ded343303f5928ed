// Package memtier implements the four memory tiers (spec §4.3): Immediate,
// Session, Summarized and Archival. Each shares a narrow retrieve contract
// (spec DESIGN NOTES: "Polymorphic tiers ... represent as a trait/interface
// with four implementations, not via inheritance") but the engine holds one
// concrete instance of each rather than a slice of the interface.
package memtier

import (
	"time"

	"github.com/antigravity/memoryengine/internal/types"
)

// RetrieveOptions narrows a Retrieve call.
type RetrieveOptions struct {
	Types      []types.EntryType
	Limit      int
	MinImportance float64
}

// Tier is the shared read contract every memory store implements.
type Tier interface {
	// Retrieve returns entries matching opts, most-recently-accessed first.
	Retrieve(opts RetrieveOptions) []types.MemoryEntry
	// Entries returns every entry currently held, for collection/commit.
	Entries() []types.MemoryEntry
	// Clear empties the tier.
	Clear()
}

// agePenalty implements the eviction-key age term used by Immediate's
// eviction and promotion ordering (Summarized evicts by importance alone):
// linear decay that reaches 1.0 at 24h old.
func agePenalty(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 0
	}
	days := age.Hours() / 24
	if days > 1 {
		return 1
	}
	return days
}

// evictionKey computes importance - agePenalty*weight, the shared ordering
// used by ImmediateMemory.add and getPromotionCandidates (spec §4.3).
func evictionKey(e types.MemoryEntry, now time.Time, weight float64) float64 {
	return e.Importance - agePenalty(e.CreatedAt, now)*weight
}
