package memtier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/types"
)

func TestArchivalIndexEntityThenSearchByNameMatches(t *testing.T) {
	a := NewArchival(nil)
	a.IndexEntity(types.ExtractedEntity{ID: "e1", Name: "checksum", Type: types.EntityConcept})

	results := a.Search("checksum", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "e1", results[0].ID)
}

func TestArchivalSearchIgnoresShortTerms(t *testing.T) {
	a := NewArchival(nil)
	a.IndexEntity(types.ExtractedEntity{ID: "e1", Name: "foobarlong"})

	assert.Nil(t, a.Search("the", 10))
}

func TestArchivalRecordSnapshotIndexesMessagesAndEntities(t *testing.T) {
	a := NewArchival(nil)
	a.RecordSnapshot(types.SessionSnapshot{
		ID: "commit-1",
		Messages: []types.ConversationMessage{
			{ID: "m1", Content: "discussing the database migration plan"},
		},
		Entities: []types.ExtractedEntity{
			{ID: "ent1", Name: "migration"},
		},
	})

	assert.Equal(t, []string{"commit-1"}, a.SnapshotIDs())
	results := a.Search("migration", 10)
	assert.NotEmpty(t, results)
}

func TestArchivalRestoreReplacesStateWholesale(t *testing.T) {
	a := NewArchival(nil)
	a.IndexEntity(types.ExtractedEntity{ID: "stale", Name: "stalename"})

	a.Restore(
		[]types.ExtractedEntity{{ID: "fresh", Name: "freshname"}},
		[]types.MemoryEntry{{ID: "fresh", Tier: types.TierArchival, Content: "freshname"}},
	)

	entities := a.Entities()
	require.Len(t, entities, 1)
	assert.Equal(t, "fresh", entities[0].ID)
	assert.Nil(t, a.Search("stalename", 10))
}
