package reload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/types"
)

func entryWithTokens(id string, importance float64, tokens int) types.MemoryEntry {
	content := strings.Repeat("x", tokens*4)
	return types.MemoryEntry{ID: id, Importance: importance, Content: content, Tokens: tokens}
}

func TestCompileUnderBudgetAppliesNoCompression(t *testing.T) {
	c := NewContextCompiler()
	entries := []types.MemoryEntry{entryWithTokens("a", 0.5, 10), entryWithTokens("b", 0.9, 10)}

	out := c.Compile(entries, 100)
	assert.Equal(t, CompressionNone, out.CompressionLevel)
	assert.Equal(t, 1.0, out.QualityScore)
	require.Len(t, out.Entries, 2)
}

func TestCompileLightCompressionDropsLowestImportanceFirst(t *testing.T) {
	c := NewContextCompiler()
	entries := []types.MemoryEntry{
		entryWithTokens("low", 0.1, 50),
		entryWithTokens("high", 0.9, 50),
	}

	out := c.Compile(entries, 80)
	assert.Equal(t, CompressionLight, out.CompressionLevel)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "high", out.Entries[0].ID)
}

func TestCompileModerateCompressionTruncatesSurvivorContent(t *testing.T) {
	c := NewContextCompiler()
	entries := []types.MemoryEntry{
		entryWithTokens("a", 0.9, 100),
		entryWithTokens("b", 0.8, 100),
		entryWithTokens("c", 0.2, 100),
	}

	out := c.Compile(entries, 120)
	assert.Equal(t, CompressionModerate, out.CompressionLevel)
	for _, e := range out.Entries {
		assert.Less(t, e.Tokens, 100)
	}
}

func TestCompileAggressiveCompressionKeepsOnlyHighestImportanceCore(t *testing.T) {
	c := NewContextCompiler()
	entries := []types.MemoryEntry{
		entryWithTokens("a", 0.95, 100),
		entryWithTokens("b", 0.5, 100),
		entryWithTokens("c", 0.1, 100),
	}

	out := c.Compile(entries, 30)
	assert.Equal(t, CompressionAggressive, out.CompressionLevel)
	assert.LessOrEqual(t, out.TokensUsed, 30)
	if len(out.Entries) > 0 {
		assert.Equal(t, "a", out.Entries[0].ID)
	}
}

func TestCompileZeroBudgetSkipsCompression(t *testing.T) {
	c := NewContextCompiler()
	entries := []types.MemoryEntry{entryWithTokens("a", 0.5, 10)}
	out := c.Compile(entries, 0)
	assert.Equal(t, CompressionNone, out.CompressionLevel)
}
