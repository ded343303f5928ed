// Package extract implements the Summarizer and KnowledgeExtractor
// capabilities (spec §4.4): deterministic, regex/heuristic derivation of
// summaries, decisions, entities and facts from message sequences. LLM
// invocation is explicitly out of scope (spec §1) — Summarizer is the
// neutral interface the engine calls; this package supplies the
// deterministic default implementation.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity/memoryengine/internal/types"
)

// Summarizer derives a Summary from a sequence of messages. Implementations
// may use regex/heuristics (this package's HeuristicSummarizer) or an LLM;
// the engine only depends on this interface.
type Summarizer interface {
	Summarize(messages []types.ConversationMessage) types.Summary
	ExtractDecisions(messages []types.ConversationMessage) []types.KeyDecision
}

// HeuristicSummarizer is the deterministic, dependency-free default.
type HeuristicSummarizer struct {
	MinMessagesForSummary int // default 10
	ChunkSizeChars        int // default ~200000 (50000 tokens * 4)
	Now                   func() time.Time
}

// NewHeuristicSummarizer returns a Summarizer with spec-default thresholds.
func NewHeuristicSummarizer() *HeuristicSummarizer {
	return &HeuristicSummarizer{
		MinMessagesForSummary: 10,
		ChunkSizeChars:        200000,
		Now:                   time.Now,
	}
}

func (s *HeuristicSummarizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Summarize implements spec §4.4: below the message-count floor, emit a
// one-line minimal summary; otherwise chunk by greedy char-fill, summarize
// each chunk, and merge when there is more than one.
func (s *HeuristicSummarizer) Summarize(messages []types.ConversationMessage) types.Summary {
	if len(messages) == 0 {
		return types.Summary{
			ID:        uuid.New().String(),
			Type:      types.SummarySession,
			Content:   "No conversation yet.",
			Timestamp: s.now(),
		}
	}

	minFloor := s.MinMessagesForSummary
	if minFloor <= 0 {
		minFloor = 10
	}
	if len(messages) < minFloor {
		return s.minimalSummary(messages)
	}

	chunks := s.chunkMessages(messages)
	chunkSummaries := make([]types.Summary, len(chunks))
	for i, c := range chunks {
		chunkSummaries[i] = s.summarizeChunk(c)
	}
	if len(chunkSummaries) == 1 {
		return chunkSummaries[0]
	}
	return s.mergeChunks(chunkSummaries)
}

func (s *HeuristicSummarizer) minimalSummary(messages []types.ConversationMessage) types.Summary {
	last := messages[len(messages)-1]
	content := fmt.Sprintf("Conversation with %d messages; last from %s: %s",
		len(messages), last.Role, truncate(last.Content, 160))
	return types.Summary{
		ID:             uuid.New().String(),
		Type:           types.SummarySession,
		Content:        content,
		CurrentState:   truncate(last.Content, 200),
		Timestamp:      s.now(),
		SourceMessages: len(messages),
		Tokens:         types.EstimateTokens(content),
	}
}

// chunkMessages greedily fills chunks up to ChunkSizeChars.
func (s *HeuristicSummarizer) chunkMessages(messages []types.ConversationMessage) [][]types.ConversationMessage {
	limit := s.ChunkSizeChars
	if limit <= 0 {
		limit = 200000
	}
	var chunks [][]types.ConversationMessage
	var current []types.ConversationMessage
	size := 0
	for _, m := range messages {
		mLen := len(m.Content)
		if size+mLen > limit && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, m)
		size += mLen
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (s *HeuristicSummarizer) summarizeChunk(messages []types.ConversationMessage) types.Summary {
	var keyPoints []string
	var filesModified []string
	var errs []types.SummaryError
	var userLines, assistantLines []string

	fileRe := regexp.MustCompile(`\b[\w./-]+\.\w{1,8}\b`)
	errorRe := regexp.MustCompile(`(?i)error|exception|failed|traceback`)

	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			userLines = append(userLines, m.Content)
		case types.RoleAssistant:
			assistantLines = append(assistantLines, m.Content)
			if errorRe.MatchString(m.Content) {
				errs = append(errs, types.SummaryError{Description: truncate(m.Content, 160)})
			}
		}
		for _, f := range fileRe.FindAllString(m.Content, -1) {
			filesModified = appendUnique(filesModified, f)
		}
	}

	if len(assistantLines) > 0 {
		keyPoints = append(keyPoints, truncate(firstSentence(assistantLines[0]), 160))
	}
	if len(assistantLines) > 1 {
		keyPoints = append(keyPoints, truncate(firstSentence(assistantLines[len(assistantLines)-1]), 160))
	}

	content := buildChunkNarrative(messages)
	currentState := ""
	if len(assistantLines) > 0 {
		currentState = truncate(assistantLines[len(assistantLines)-1], 200)
	}

	return types.Summary{
		ID:             uuid.New().String(),
		Type:           types.SummaryChunk,
		Content:        content,
		KeyPoints:      keyPoints,
		Errors:         errs,
		FilesModified:  filesModified,
		CurrentState:   currentState,
		Timestamp:      s.now(),
		SourceMessages: len(messages),
		Tokens:         types.EstimateTokens(content),
	}
}

func buildChunkNarrative(messages []types.ConversationMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(truncate(m.Content, 200))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// mergeChunks merges chunk summaries via union of keyPoints, decisions
// (deduped by title-prefix-30), errors and filesModified; currentState and
// nextSteps adopt the last chunk's values (spec §4.4).
func (s *HeuristicSummarizer) mergeChunks(chunks []types.Summary) types.Summary {
	var merged types.Summary
	merged.ID = uuid.New().String()
	merged.Type = types.SummaryMerged
	merged.Timestamp = s.now()

	seenPoints := map[string]bool{}
	seenDecisions := map[string]bool{}
	seenFiles := map[string]bool{}
	var contents []string

	for _, c := range chunks {
		contents = append(contents, c.Content)
		for _, kp := range c.KeyPoints {
			if !seenPoints[kp] {
				seenPoints[kp] = true
				merged.KeyPoints = append(merged.KeyPoints, kp)
			}
		}
		for _, d := range c.Decisions {
			key := titlePrefix(d.Title, 30)
			if !seenDecisions[key] {
				seenDecisions[key] = true
				merged.Decisions = append(merged.Decisions, d)
			}
		}
		merged.Errors = append(merged.Errors, c.Errors...)
		for _, f := range c.FilesModified {
			if !seenFiles[f] {
				seenFiles[f] = true
				merged.FilesModified = append(merged.FilesModified, f)
			}
		}
		merged.CurrentState = c.CurrentState
		merged.NextSteps = c.NextSteps
		merged.ConversationID = c.ConversationID
		merged.SourceMessages += c.SourceMessages
	}
	merged.Content = strings.Join(contents, "\n\n---\n\n")
	merged.Tokens = types.EstimateTokens(merged.Content)
	return merged
}

var decisionCueRe = regexp.MustCompile(`(?i)decided to|chose to|will use|going with|selected|recommendation:`)

// ExtractDecisions scans assistant messages for decision cues (spec §4.4);
// the matched line's rationale is the following line, and impact is derived
// from keywords on the matched line.
func (s *HeuristicSummarizer) ExtractDecisions(messages []types.ConversationMessage) []types.KeyDecision {
	var decisions []types.KeyDecision
	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		lines := strings.Split(m.Content, "\n")
		for i, line := range lines {
			if !decisionCueRe.MatchString(line) {
				continue
			}
			rationale := ""
			if i+1 < len(lines) {
				rationale = strings.TrimSpace(lines[i+1])
			}
			decisions = append(decisions, types.KeyDecision{
				ID:          uuid.New().String(),
				Title:       truncate(strings.TrimSpace(line), 120),
				Description: strings.TrimSpace(line),
				Rationale:   rationale,
				Timestamp:   m.Timestamp,
				TurnNumber:  m.TurnNumber,
				Impact:      deriveImpact(line),
			})
		}
	}
	return decisions
}

func deriveImpact(line string) types.Impact {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "critical") || strings.Contains(lower, "breaking"):
		return types.ImpactCritical
	case strings.Contains(lower, "important") || strings.Contains(lower, "major"):
		return types.ImpactHigh
	case strings.Contains(lower, "minor") || strings.Contains(lower, "small"):
		return types.ImpactLow
	default:
		return types.ImpactMedium
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstSentence(s string) string {
	if idx := strings.IndexByte(s, '.'); idx > 0 && idx < 200 {
		return s[:idx+1]
	}
	return truncate(s, 160)
}

func titlePrefix(s string, n int) string {
	if len(s) <= n {
		return strings.ToLower(s)
	}
	return strings.ToLower(s[:n])
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
