package commit

import (
	"fmt"
	"strings"

	"github.com/antigravity/memoryengine/internal/types"
)

// Token budgets for the hot and warm resumable-context formats (spec §4.8);
// the full format is not truncated.
const (
	HotTokenBudget  = 2000
	WarmTokenBudget = 8000
)

// ResumableContext is the three-tier, pre-rendered continuation prompt
// persisted to context/resumable.json alongside each commit so a cold start
// can resume without recompiling a snapshot from scratch.
type ResumableContext struct {
	HotPrompt      string         `json:"hotPrompt"`
	WarmPrompt     string         `json:"warmPrompt"`
	FullPrompt     string         `json:"fullPrompt"`
	TokenEstimates map[string]int `json:"tokenEstimates"`
}

// ResumableContextGenerator renders the hot/warm/full prompts from a
// snapshot (spec §4.8): hot covers the current task and status, the most
// recent decision's title and the summary's current state; warm adds the
// last 5 decisions with rationale, the last 10 facts and the first 15
// entities; full adds next steps, files touched and open issues to the warm
// prompt and has no token budget of its own.
type ResumableContextGenerator struct{}

func NewResumableContextGenerator() *ResumableContextGenerator {
	return &ResumableContextGenerator{}
}

func (g *ResumableContextGenerator) Generate(snap types.SessionSnapshot) ResumableContext {
	hot := g.renderHot(snap)
	warm := g.renderWarm(snap)
	full := g.renderFull(snap)

	return ResumableContext{
		HotPrompt:  hot,
		WarmPrompt: warm,
		FullPrompt: full,
		TokenEstimates: map[string]int{
			"hot":  types.EstimateTokens(hot),
			"warm": types.EstimateTokens(warm),
			"full": types.EstimateTokens(full),
		},
	}
}

func (g *ResumableContextGenerator) renderHot(snap types.SessionSnapshot) string {
	var b strings.Builder
	if snap.TaskState.CurrentTask != "" {
		fmt.Fprintf(&b, "Current task: %s (%s)\n", snap.TaskState.CurrentTask, snap.TaskState.Status)
	}
	if len(snap.KeyDecisions) > 0 {
		last := snap.KeyDecisions[len(snap.KeyDecisions)-1]
		fmt.Fprintf(&b, "Last decision: %s\n", last.Title)
	}
	if snap.Summary.CurrentState != "" {
		fmt.Fprintf(&b, "State: %s\n", snap.Summary.CurrentState)
	}
	return truncateTokens(b.String(), HotTokenBudget)
}

func (g *ResumableContextGenerator) renderWarm(snap types.SessionSnapshot) string {
	var b strings.Builder
	b.WriteString(g.renderHot(snap))
	b.WriteString("\n")

	if len(snap.KeyDecisions) > 0 {
		b.WriteString("Recent decisions:\n")
		start := 0
		if len(snap.KeyDecisions) > 5 {
			start = len(snap.KeyDecisions) - 5
		}
		for _, d := range snap.KeyDecisions[start:] {
			fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Rationale)
		}
	}
	if len(snap.LearnedFacts) > 0 {
		b.WriteString("Known facts:\n")
		start := 0
		if len(snap.LearnedFacts) > 10 {
			start = len(snap.LearnedFacts) - 10
		}
		for _, f := range snap.LearnedFacts[start:] {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
	}
	if len(snap.Entities) > 0 {
		b.WriteString("Active entities:\n")
		limit := len(snap.Entities)
		if limit > 15 {
			limit = 15
		}
		for _, e := range snap.Entities[:limit] {
			fmt.Fprintf(&b, "- %s (%s)\n", e.Name, e.Type)
		}
	}
	return truncateTokens(b.String(), WarmTokenBudget)
}

func (g *ResumableContextGenerator) renderFull(snap types.SessionSnapshot) string {
	var b strings.Builder
	b.WriteString(g.renderWarm(snap))
	b.WriteString("\n")

	if len(snap.Summary.NextSteps) > 0 {
		b.WriteString("Next steps:\n")
		for _, s := range snap.Summary.NextSteps {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(snap.Summary.FilesModified) > 0 {
		b.WriteString("Files touched:\n")
		for _, f := range snap.Summary.FilesModified {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(snap.Summary.Errors) > 0 {
		b.WriteString("Open issues:\n")
		for _, e := range snap.Summary.Errors {
			fmt.Fprintf(&b, "- %s\n", e.Description)
		}
	}
	return b.String()
}

// truncateTokens trims s to at most budget estimated tokens, cutting on a
// line boundary where possible.
func truncateTokens(s string, budget int) string {
	if types.EstimateTokens(s) <= budget {
		return s
	}
	maxChars := budget * 4
	if maxChars >= len(s) {
		return s
	}
	cut := s[:maxChars]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
