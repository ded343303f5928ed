package reload

import (
	"sort"
	"strings"
	"time"

	"github.com/antigravity/memoryengine/internal/types"
)

// ScoreWeights controls the five-factor relevance blend (spec §4.11).
type ScoreWeights struct {
	Recency     float64
	Frequency   float64
	Importance  float64
	Relevance   float64
	Connections float64
}

// DefaultWeights matches the spec's reference weighting, summing to 1.0.
var DefaultWeights = ScoreWeights{
	Recency:     0.25,
	Frequency:   0.15,
	Importance:  0.30,
	Relevance:   0.20,
	Connections: 0.10,
}

// ScoreOptions bounds what RelevanceScorer returns.
type ScoreOptions struct {
	Query       string
	Threshold   float64 // entries scoring below this are dropped; 0 = no floor
	MaxItems    int     // 0 = unbounded
	Now         time.Time
	Weights     ScoreWeights
	Mentions    map[string]int // entryID -> number of times seen across frequency tracking
	Connections map[string]int // entryID -> count of graph edges touching it
}

// Scored pairs an entry with its computed relevance score.
type Scored struct {
	Entry types.MemoryEntry
	Score float64
}

// RelevanceScorer ranks entries by a weighted blend of recency, frequency,
// stored importance, query relevance and connectedness (spec §4.11), then
// applies a threshold floor and a maxItems cap.
type RelevanceScorer struct{}

func NewRelevanceScorer() *RelevanceScorer {
	return &RelevanceScorer{}
}

func (r *RelevanceScorer) Score(entries []types.MemoryEntry, opts ScoreOptions) []Scored {
	weights := opts.Weights
	if weights == (ScoreWeights{}) {
		weights = DefaultWeights
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	maxFreq := 1
	for _, f := range opts.Mentions {
		if f > maxFreq {
			maxFreq = f
		}
	}
	maxConn := 1
	for _, c := range opts.Connections {
		if c > maxConn {
			maxConn = c
		}
	}

	queryTerms := strings.Fields(strings.ToLower(opts.Query))

	scored := make([]Scored, 0, len(entries))
	for _, e := range entries {
		recency := recencyScore(e.AccessedAt, now)
		frequency := float64(opts.Mentions[e.ID]) / float64(maxFreq)
		importance := types.ClampImportance(e.Importance)
		relevance := queryRelevance(e.Content, queryTerms)
		connections := float64(opts.Connections[e.ID]) / float64(maxConn)

		score := weights.Recency*recency +
			weights.Frequency*frequency +
			weights.Importance*importance +
			weights.Relevance*relevance +
			weights.Connections*connections

		if score < opts.Threshold {
			continue
		}
		scored = append(scored, Scored{Entry: e, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if opts.MaxItems > 0 && len(scored) > opts.MaxItems {
		scored = scored[:opts.MaxItems]
	}
	return scored
}

// recencyScore decays linearly from 1 (accessed now) to 0.1 (accessed 24h
// or more ago), the same 24h horizon as the tier eviction age penalty
// (spec §4.3's ageing model extended to the reload scorer). An entry with
// no access time scores 0.
func recencyScore(accessedAt, now time.Time) float64 {
	if accessedAt.IsZero() {
		return 0
	}
	age := now.Sub(accessedAt)
	horizon := 24 * time.Hour
	if age <= 0 {
		return 1
	}
	if age >= horizon {
		return 0.1
	}
	return 1 - 0.9*float64(age)/float64(horizon)
}

func queryRelevance(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
