package reload

import (
	"fmt"
	"strings"

	"github.com/antigravity/memoryengine/internal/types"
)

// PromptBuilder renders a Compiled entry set plus the originating snapshot
// into the canonical Markdown section order the engine hands back to
// callers on reload (spec §4.13): TL;DR, Current Task, Recent Decisions,
// Active Entities, Pending Actions, Known Issues, References.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

func (b *PromptBuilder) Build(snap types.SessionSnapshot, compiled Compiled) string {
	var out strings.Builder

	b.writeTLDR(&out, snap)
	b.writeCurrentTask(&out, snap)
	b.writeRecentDecisions(&out, snap)
	b.writeActiveEntities(&out, compiled)
	b.writePendingActions(&out, snap)
	b.writeKnownIssues(&out, snap)
	b.writeReferences(&out, snap)

	return strings.TrimRight(out.String(), "\n") + "\n"
}

func (b *PromptBuilder) writeTLDR(out *strings.Builder, snap types.SessionSnapshot) {
	out.WriteString("## TL;DR\n\n")
	if snap.Summary.Content != "" {
		out.WriteString(snap.Summary.Content)
		out.WriteString("\n\n")
		return
	}
	out.WriteString("No summary available yet.\n\n")
}

func (b *PromptBuilder) writeCurrentTask(out *strings.Builder, snap types.SessionSnapshot) {
	out.WriteString("## Current Task\n\n")
	if snap.TaskState.CurrentTask == "" {
		out.WriteString("No active task recorded.\n\n")
		return
	}
	fmt.Fprintf(out, "%s (%s)\n", snap.TaskState.CurrentTask, orNone(snap.TaskState.Status))
	if snap.Summary.CurrentState != "" {
		fmt.Fprintf(out, "State: %s\n", snap.Summary.CurrentState)
	}
	out.WriteString("\n")
}

func (b *PromptBuilder) writeRecentDecisions(out *strings.Builder, snap types.SessionSnapshot) {
	out.WriteString("## Recent Decisions\n\n")
	if len(snap.KeyDecisions) == 0 {
		out.WriteString("None recorded.\n\n")
		return
	}
	start := 0
	if len(snap.KeyDecisions) > 10 {
		start = len(snap.KeyDecisions) - 10
	}
	for _, d := range snap.KeyDecisions[start:] {
		fmt.Fprintf(out, "- **%s** (%s): %s\n", d.Title, d.Impact, d.Description)
	}
	out.WriteString("\n")
}

func (b *PromptBuilder) writeActiveEntities(out *strings.Builder, compiled Compiled) {
	out.WriteString("## Active Entities\n\n")
	var names []string
	for _, e := range compiled.Entries {
		if e.Type == types.EntryEntity {
			names = append(names, e.Content)
		}
	}
	if len(names) == 0 {
		out.WriteString("None tracked.\n\n")
		return
	}
	for _, n := range names {
		fmt.Fprintf(out, "- %s\n", n)
	}
	out.WriteString("\n")
}

func (b *PromptBuilder) writePendingActions(out *strings.Builder, snap types.SessionSnapshot) {
	out.WriteString("## Pending Actions\n\n")
	actions := snap.TaskState.PendingAction
	if len(actions) == 0 && len(snap.Summary.NextSteps) > 0 {
		actions = snap.Summary.NextSteps
	}
	if len(actions) == 0 {
		out.WriteString("None recorded.\n\n")
		return
	}
	for _, a := range actions {
		fmt.Fprintf(out, "- %s\n", a)
	}
	out.WriteString("\n")
}

func (b *PromptBuilder) writeKnownIssues(out *strings.Builder, snap types.SessionSnapshot) {
	out.WriteString("## Known Issues\n\n")
	if len(snap.Summary.Errors) == 0 {
		out.WriteString("None recorded.\n\n")
		return
	}
	for _, e := range snap.Summary.Errors {
		if e.Solution != "" {
			fmt.Fprintf(out, "- %s (resolved: %s)\n", e.Description, e.Solution)
		} else {
			fmt.Fprintf(out, "- %s\n", e.Description)
		}
	}
	out.WriteString("\n")
}

func (b *PromptBuilder) writeReferences(out *strings.Builder, snap types.SessionSnapshot) {
	out.WriteString("## References\n\n")
	if len(snap.Summary.FilesModified) == 0 {
		out.WriteString("None recorded.\n")
		return
	}
	for _, f := range snap.Summary.FilesModified {
		fmt.Fprintf(out, "- %s\n", f)
	}
}

func orNone(s string) string {
	if s == "" {
		return "status unknown"
	}
	return s
}
