// Package collect implements the DataCollector: a single point that
// gathers everything a commit needs to persist from the in-memory tiers
// and the collector's own recorded side-channels (tool outputs, file
// changes), in parallel where the gather is independent (spec §4.5).
package collect

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antigravity/memoryengine/internal/extract"
	"github.com/antigravity/memoryengine/internal/memtier"
	"github.com/antigravity/memoryengine/internal/types"
)

// SessionData is everything a commit round persists. It is a superset of
// types.SessionSnapshot: ToolOutputs and FileChanges are recorded
// side-channels; ToSnapshot carries FileChanges over in full as the
// snapshot's Artifacts, while ToolOutputs have no place in the snapshot.
type SessionData struct {
	Messages      []types.ConversationMessage
	ToolCalls     []types.ToolCallRecord
	ToolOutputs   []types.ToolOutput
	FileChanges   []types.FileChange
	Entities      []types.ExtractedEntity
	Decisions     []types.KeyDecision
	Facts         []types.LearnedFact
	Summary       types.Summary
	ProjectState  types.ProjectState
	TaskState     types.TaskState
	AgentState    map[string]any
	Statistics    types.SessionStatistics
}

// ToSnapshot projects SessionData into the fields a SessionSnapshot
// carries; the caller (commit.Persister) fills in ID/ConversationID/
// SessionID/Version/Timestamp/Checksum.
func (d SessionData) ToSnapshot() types.SessionSnapshot {
	return types.SessionSnapshot{
		Messages:     d.Messages,
		ToolCalls:    d.ToolCalls,
		Artifacts:    d.FileChanges,
		ProjectState: d.ProjectState,
		TaskState:    d.TaskState,
		AgentState:   d.AgentState,
		Summary:      d.Summary,
		KeyDecisions: d.Decisions,
		LearnedFacts: d.Facts,
		Entities:     d.Entities,
		Statistics:   d.Statistics,
	}
}

// ProjectStateLoader and TaskStateLoader abstract the context-directory
// reads the collector needs; filestore.Store satisfies both via
// LoadProjectState/LoadTaskState.
type ProjectStateLoader interface {
	LoadProjectState() (*types.ProjectState, error)
}

type TaskStateLoader interface {
	LoadTaskState() (*types.TaskState, error)
}

// Collector gathers SessionData from a Session tier plus its own recorded
// side-channels. It holds no ownership over the tier; callers construct one
// Collector per Session tier (or reuse one across commits).
type Collector struct {
	session    *memtier.Session
	summarizer extract.Summarizer
	extractor  *extract.KnowledgeExtractor
	states     interface {
		ProjectStateLoader
		TaskStateLoader
	}

	mu          sync.Mutex
	toolOutputs []types.ToolOutput
	fileChanges []types.FileChange
	agentState  map[string]any
	now         func() time.Time
}

type Options struct {
	Summarizer extract.Summarizer
	Extractor  *extract.KnowledgeExtractor
	States     interface {
		ProjectStateLoader
		TaskStateLoader
	}
	Now func() time.Time
}

func New(session *memtier.Session, opts Options) *Collector {
	if opts.Summarizer == nil {
		opts.Summarizer = extract.NewHeuristicSummarizer()
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.NewKnowledgeExtractor()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Collector{
		session:    session,
		summarizer: opts.Summarizer,
		extractor:  opts.Extractor,
		states:     opts.States,
		now:        opts.Now,
	}
}

// RecordToolOutput appends a tool output to the side-channel the next
// Collect call will include.
func (c *Collector) RecordToolOutput(o types.ToolOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.Timestamp.IsZero() {
		o.Timestamp = c.now()
	}
	c.toolOutputs = append(c.toolOutputs, o)
}

// RecordFileChange appends a file change to the side-channel the next
// Collect call will include.
func (c *Collector) RecordFileChange(fc types.FileChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fc.Timestamp.IsZero() {
		fc.Timestamp = c.now()
	}
	c.fileChanges = append(c.fileChanges, fc)
}

// SetAgentState replaces the opaque agent-state blob carried in the next
// snapshot.
func (c *Collector) SetAgentState(state map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentState = state
}

// Collect gathers messages, tool calls, extracted knowledge, a generated
// summary/decisions and the recorded side-channels into one SessionData,
// running the independent parts in parallel (spec §4.5).
func (c *Collector) Collect(ctx context.Context) (SessionData, error) {
	start := c.now()

	messages := c.session.Messages()
	toolCalls := c.session.ToolCalls()

	var (
		entities     []types.ExtractedEntity
		facts        []types.LearnedFact
		summary      types.Summary
		decisions    []types.KeyDecision
		projectState types.ProjectState
		taskState    types.TaskState
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		entities = c.extractor.Extract(messages)
		return nil
	})
	g.Go(func() error {
		facts = c.extractor.ExtractFacts(messages)
		return nil
	})
	g.Go(func() error {
		summary = c.summarizer.Summarize(messages)
		return nil
	})
	g.Go(func() error {
		decisions = c.summarizer.ExtractDecisions(messages)
		return nil
	})
	if c.states != nil {
		g.Go(func() error {
			ps, err := c.states.LoadProjectState()
			if err != nil {
				return err
			}
			projectState = *ps
			return nil
		})
		g.Go(func() error {
			ts, err := c.states.LoadTaskState()
			if err != nil {
				return err
			}
			taskState = *ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SessionData{}, err
	}

	c.mu.Lock()
	toolOutputs := append([]types.ToolOutput(nil), c.toolOutputs...)
	fileChanges := append([]types.FileChange(nil), c.fileChanges...)
	agentState := c.agentState
	c.mu.Unlock()

	stats := computeStatistics(messages, toolCalls, entities, decisions, facts, fileChanges, start, c.now())

	return SessionData{
		Messages:     messages,
		ToolCalls:    toolCalls,
		ToolOutputs:  toolOutputs,
		FileChanges:  fileChanges,
		Entities:     entities,
		Decisions:    decisions,
		Facts:        facts,
		Summary:      summary,
		ProjectState: projectState,
		TaskState:    taskState,
		AgentState:   agentState,
		Statistics:   stats,
	}, nil
}

func computeStatistics(
	messages []types.ConversationMessage,
	toolCalls []types.ToolCallRecord,
	entities []types.ExtractedEntity,
	decisions []types.KeyDecision,
	facts []types.LearnedFact,
	fileChanges []types.FileChange,
	start, end time.Time,
) types.SessionStatistics {
	stats := types.SessionStatistics{
		MessageCount:         len(messages),
		ToolCallCount:        len(toolCalls),
		EntityCount:          len(entities),
		DecisionCount:        len(decisions),
		FactCount:            len(facts),
		FileChangeCount:      len(fileChanges),
		CollectionDurationMs: end.Sub(start).Milliseconds(),
	}
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			stats.UserMessageCount++
		case types.RoleAssistant:
			stats.AssistantMessageCount++
		}
		stats.TotalContentSize += len(m.Content)
	}
	for _, fc := range fileChanges {
		if fc.Op != types.FileDeleted {
			stats.ArtifactCount++
		}
	}
	return stats
}
