package commit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity/memoryengine/internal/types"
)

func TestGenerateHotPromptIncludesCurrentTaskAndLastDecision(t *testing.T) {
	g := NewResumableContextGenerator()
	snap := types.SessionSnapshot{
		TaskState:    types.TaskState{CurrentTask: "fix the parser", Status: "in_progress"},
		KeyDecisions: []types.KeyDecision{{Title: "use recursive descent"}},
	}

	ctx := g.Generate(snap)
	assert.Contains(t, ctx.HotPrompt, "fix the parser")
	assert.Contains(t, ctx.HotPrompt, "use recursive descent")
	assert.Greater(t, ctx.TokenEstimates["hot"], 0)
}

func TestGenerateWarmPromptIncludesFactsAndEntitiesOnTopOfHot(t *testing.T) {
	g := NewResumableContextGenerator()
	snap := types.SessionSnapshot{
		LearnedFacts: []types.LearnedFact{{Content: "the retry budget is five"}},
		Entities:     []types.ExtractedEntity{{Name: "parser", Type: types.EntityConcept}},
	}

	ctx := g.Generate(snap)
	assert.Contains(t, ctx.WarmPrompt, "retry budget")
	assert.Contains(t, ctx.WarmPrompt, "parser")
	assert.Contains(t, ctx.FullPrompt, "retry budget")
}

func TestGenerateFullPromptAddsNextStepsAndOpenIssues(t *testing.T) {
	g := NewResumableContextGenerator()
	snap := types.SessionSnapshot{
		Summary: types.Summary{
			NextSteps: []string{"write more tests"},
			Errors:    []types.SummaryError{{Description: "flaky CI run"}},
		},
	}
	ctx := g.Generate(snap)
	assert.Contains(t, ctx.FullPrompt, "write more tests")
	assert.Contains(t, ctx.FullPrompt, "flaky CI run")
}

func TestTruncateTokensCutsOnLineBoundaryWhenOverBudget(t *testing.T) {
	long := "first line\n" + strings.Repeat("word ", 5000) + "\ntrailing"
	out := truncateTokens(long, 10)
	assert.LessOrEqual(t, types.EstimateTokens(out), 50)
	assert.Equal(t, "first line", out)
}
