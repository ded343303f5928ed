package reload

import (
	"sort"

	"github.com/antigravity/memoryengine/internal/types"
)

// CompressionLevel names how aggressively ContextCompiler had to shrink the
// entry set to fit a token budget (spec §4.12).
type CompressionLevel string

const (
	CompressionNone      CompressionLevel = "none"
	CompressionLight     CompressionLevel = "light"
	CompressionModerate  CompressionLevel = "moderate"
	CompressionAggressive CompressionLevel = "aggressive"
)

// Compiled is ContextCompiler's output: the entries kept after budget
// enforcement, the compression level applied, a quality score in [0,1] and
// the resulting token count.
type Compiled struct {
	Entries          []types.MemoryEntry
	CompressionLevel CompressionLevel
	QualityScore     float64
	TokensUsed       int
}

// ContextCompiler enforces a token budget over a ranked entry set,
// escalating through light (drop lowest-importance), moderate (drop plus
// truncate survivors) and aggressive (keep only the highest-importance
// core, truncated hard) compression as needed (spec §4.12).
type ContextCompiler struct{}

func NewContextCompiler() *ContextCompiler {
	return &ContextCompiler{}
}

func (c *ContextCompiler) Compile(entries []types.MemoryEntry, budget int) Compiled {
	ranked := make([]types.MemoryEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Importance > ranked[j].Importance })

	total := sumTokens(ranked)
	if total <= budget || budget <= 0 {
		return Compiled{Entries: ranked, CompressionLevel: CompressionNone, QualityScore: 1.0, TokensUsed: total}
	}

	ratio := float64(budget) / float64(total)
	switch {
	case ratio >= 0.7:
		return c.compressLight(ranked, budget, total)
	case ratio >= 0.4:
		return c.compressModerate(ranked, budget, total)
	default:
		return c.compressAggressive(ranked, budget, total)
	}
}

// compressLight drops the lowest-importance entries, keeping survivors
// unmodified, until the budget is met.
func (c *ContextCompiler) compressLight(ranked []types.MemoryEntry, budget, total int) Compiled {
	kept := make([]types.MemoryEntry, 0, len(ranked))
	used := 0
	for _, e := range ranked {
		if used+e.Tokens > budget {
			continue
		}
		kept = append(kept, e)
		used += e.Tokens
	}
	return Compiled{
		Entries:          kept,
		CompressionLevel: CompressionLight,
		QualityScore:     qualityScore(kept, ranked, total),
		TokensUsed:        used,
	}
}

// compressModerate drops low-importance entries and truncates survivors'
// content to 60% of their original length.
func (c *ContextCompiler) compressModerate(ranked []types.MemoryEntry, budget, total int) Compiled {
	kept := make([]types.MemoryEntry, 0, len(ranked))
	used := 0
	for _, e := range ranked {
		trimmed := e
		trimmed.Content = truncateRatio(e.Content, 0.6)
		trimmed.Tokens = types.EstimateTokens(trimmed.Content)
		if used+trimmed.Tokens > budget {
			continue
		}
		kept = append(kept, trimmed)
		used += trimmed.Tokens
	}
	return Compiled{
		Entries:          kept,
		CompressionLevel: CompressionModerate,
		QualityScore:     qualityScore(kept, ranked, total),
		TokensUsed:        used,
	}
}

// compressAggressive keeps only the highest-importance core and truncates
// each survivor to 25% of its original length, stopping as soon as the
// budget is exhausted.
func (c *ContextCompiler) compressAggressive(ranked []types.MemoryEntry, budget, total int) Compiled {
	kept := make([]types.MemoryEntry, 0, len(ranked))
	used := 0
	for _, e := range ranked {
		trimmed := e
		trimmed.Content = truncateRatio(e.Content, 0.25)
		trimmed.Tokens = types.EstimateTokens(trimmed.Content)
		if used+trimmed.Tokens > budget {
			break
		}
		kept = append(kept, trimmed)
		used += trimmed.Tokens
	}
	return Compiled{
		Entries:          kept,
		CompressionLevel: CompressionAggressive,
		QualityScore:     qualityScore(kept, ranked, total),
		TokensUsed:        used,
	}
}

func sumTokens(entries []types.MemoryEntry) int {
	sum := 0
	for _, e := range entries {
		sum += e.Tokens
	}
	return sum
}

func truncateRatio(s string, ratio float64) string {
	n := int(float64(len(s)) * ratio)
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	return s[:n] + "..."
}

// qualityScore blends how much of the original token budget survived with
// the average importance of what was kept, giving a single [0,1] figure
// callers can log or threshold on.
func qualityScore(kept, original []types.MemoryEntry, totalTokens int) float64 {
	if len(original) == 0 || totalTokens == 0 {
		return 1.0
	}
	keptTokens := sumTokens(kept)
	retained := float64(keptTokens) / float64(totalTokens)

	avgImportance := func(entries []types.MemoryEntry) float64 {
		if len(entries) == 0 {
			return 0
		}
		sum := 0.0
		for _, e := range entries {
			sum += e.Importance
		}
		return sum / float64(len(entries))
	}

	keptAvg := avgImportance(kept)
	origAvg := avgImportance(original)
	importanceRatio := 1.0
	if origAvg > 0 {
		importanceRatio = keptAvg / origAvg
		if importanceRatio > 1 {
			importanceRatio = 1
		}
	}
	return (retained + importanceRatio) / 2
}
