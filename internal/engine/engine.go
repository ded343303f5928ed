// Package engine wires the four memory tiers, the event log, the commit
// pipeline and the reload pipeline into the single object callers use:
// AddMessage, AddToolCall, Retrieve, Search, Consolidate, Commit and Reload
// (spec §2, §5).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/antigravity/memoryengine/internal/collect"
	"github.com/antigravity/memoryengine/internal/commit"
	"github.com/antigravity/memoryengine/internal/config"
	"github.com/antigravity/memoryengine/internal/eventlog"
	"github.com/antigravity/memoryengine/internal/extract"
	"github.com/antigravity/memoryengine/internal/filestore"
	"github.com/antigravity/memoryengine/internal/memtier"
	"github.com/antigravity/memoryengine/internal/reload"
	"github.com/antigravity/memoryengine/internal/types"
)

// Event type names emitted onto the event log at the points spec §5 names.
const (
	EventMessageAdded      = "message.added"
	EventToolCallAdded     = "tool_call.added"
	EventConsolidated      = "consolidate.completed"
	EventCommitPrepare     = "commit.prepare"
	EventCommitComplete    = "commit.complete"
	EventCommitSkipped     = "commit.skipped"
	EventCommitRateLimited = "commit.rate_limited"
	EventReloadStarted     = "reload.started"
	EventReloadCompleted   = "reload.completed"
	EventReloadFailed      = "reload.failed"
)

// Engine owns every piece of per-conversation state: the four tiers, the
// file store, the event log and the commit/reload collaborators.
type Engine struct {
	conversationID string
	sessionID      string

	store    *filestore.Store
	events   *eventlog.Log
	log      *zap.SugaredLogger

	immediate  *memtier.Immediate
	session    *memtier.Session
	summarized *memtier.Summarized
	archival   *memtier.Archival

	summarizer *extract.HeuristicSummarizer
	extractor  *extract.KnowledgeExtractor
	collector  *collect.Collector

	validator    *commit.Validator
	persister    *commit.Persister
	resumableGen *commit.ResumableContextGenerator
	commitLimiter *rate.Limiter

	checker       *reload.IntegrityChecker
	strategy      *reload.Strategy
	loader        *reload.ContextLoader
	compiler      *reload.ContextCompiler
	promptBuilder *reload.PromptBuilder
	scorer        *reload.RelevanceScorer

	mirror *commit.PostgresMirror

	warmTokenBudget int

	mu           sync.Mutex
	lastCommitID string
}

// New constructs an Engine for one conversation/session pair. conversationID
// must be non-empty; it is also the filestore partition key.
func New(cfg *config.Config, conversationID, sessionID string, log *zap.SugaredLogger) (*Engine, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("engine: conversationID is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	store := filestore.New(cfg.BaseDir, conversationID, filestore.Options{}, log)
	if err := store.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("engine: ensure dirs: %w", err)
	}

	events, err := eventlog.New(store, eventlog.Options{RetentionDays: cfg.EventRetentionDays}, log)
	if err != nil {
		return nil, fmt.Errorf("engine: create event log: %w", err)
	}

	immediate := memtier.NewImmediate(memtier.ImmediateOptions{
		MaxTokens:  cfg.ImmediateMaxTokens,
		MaxEntries: cfg.ImmediateMaxEntries,
	})
	session := memtier.NewSession(memtier.SessionOptions{MaxEntries: cfg.SessionMaxEntries})
	summarized := memtier.NewSummarized(memtier.SummarizedOptions{MaxEntries: cfg.SummarizedMaxEntries})
	archival := memtier.NewArchival(nil)

	summarizer := extract.NewHeuristicSummarizer()
	extractor := extract.NewKnowledgeExtractor()
	collector := collect.New(session, collect.Options{
		Summarizer: summarizer,
		Extractor:  extractor,
		States:     store,
	})

	mode := commit.Lenient
	if cfg.StrictValidation {
		mode = commit.Strict
	}
	validator := commit.NewValidator(mode)
	persister := commit.NewPersister(store, validator, log, nil)

	if _, err := persister.RecoverPending(); err != nil {
		log.Warnw("engine: wal recovery failed", "error", err)
	}

	checker := reload.NewIntegrityChecker(store, log)
	strategy := reload.NewStrategy()
	loader := reload.NewContextLoader(store, checker, strategy, log)

	interval := cfg.CommitMinInterval()
	if interval <= 0 {
		interval = time.Second
	}

	var mirror *commit.PostgresMirror
	if cfg.PostgresMirrorURL != "" {
		mirror, err = commit.NewPostgresMirror(cfg.PostgresMirrorURL, log)
		if err != nil {
			log.Warnw("engine: postgres mirror unavailable, continuing without it", "error", err)
			mirror = nil
		}
	}

	return &Engine{
		conversationID:  conversationID,
		sessionID:       sessionID,
		store:           store,
		events:          events,
		log:             log,
		immediate:       immediate,
		session:         session,
		summarized:      summarized,
		archival:        archival,
		summarizer:      summarizer,
		extractor:       extractor,
		collector:       collector,
		validator:       validator,
		persister:       persister,
		resumableGen:    commit.NewResumableContextGenerator(),
		commitLimiter:   rate.NewLimiter(rate.Every(interval), 1),
		checker:         checker,
		strategy:        strategy,
		loader:          loader,
		compiler:        reload.NewContextCompiler(),
		promptBuilder:   reload.NewPromptBuilder(),
		scorer:          reload.NewRelevanceScorer(),
		mirror:          mirror,
		warmTokenBudget: cfg.WarmTokenBudget,
	}, nil
}

// Close flushes the event log and, if present, the Postgres mirror
// connection.
func (e *Engine) Close() error {
	if e.mirror != nil {
		if err := e.mirror.Close(); err != nil {
			e.log.Warnw("engine: failed to close postgres mirror", "error", err)
		}
	}
	return e.events.Shutdown()
}

// AddMessage appends a message to the session tier and mirrors it into the
// immediate tier, then emits a message.added event.
func (e *Engine) AddMessage(m types.ConversationMessage) types.ConversationMessage {
	m = e.session.AddMessage(m)
	e.immediate.Add(types.MemoryEntry{
		ID: m.ID, Content: m.Content, Type: types.EntryMessage,
		Importance: 0.4, CreatedAt: m.Timestamp,
	})
	if _, err := e.events.Append(EventMessageAdded, e.conversationID, e.sessionID, m); err != nil {
		e.log.Warnw("engine: failed to log message event", "error", err)
	}
	return m
}

// AddToolCall appends a tool call to the session tier and emits a
// tool_call.added event.
func (e *Engine) AddToolCall(tc types.ToolCallRecord) types.ToolCallRecord {
	tc = e.session.AddToolCall(tc)
	if _, err := e.events.Append(EventToolCallAdded, e.conversationID, e.sessionID, tc); err != nil {
		e.log.Warnw("engine: failed to log tool call event", "error", err)
	}
	return tc
}

// RecordToolOutput and RecordFileChange feed the collector's side-channels
// that the next Commit will persist.
func (e *Engine) RecordToolOutput(o types.ToolOutput)  { e.collector.RecordToolOutput(o) }
func (e *Engine) RecordFileChange(fc types.FileChange) { e.collector.RecordFileChange(fc) }

// Retrieve dispatches to the named tier.
func (e *Engine) Retrieve(tier types.Tier, opts memtier.RetrieveOptions) []types.MemoryEntry {
	switch tier {
	case types.TierImmediate:
		return e.immediate.Retrieve(opts)
	case types.TierSession:
		return e.session.Retrieve(opts)
	case types.TierSummarized:
		return e.summarized.Retrieve(opts)
	case types.TierArchival:
		return e.archival.Retrieve(opts)
	default:
		return nil
	}
}

// Search runs the session tier's lexical search and the archival tier's
// inverted-index search and merges the results, session hits first (spec
// §4.3: the session tier is the fast path, archival the long-tail).
func (e *Engine) Search(query string, limit int) []types.MemoryEntry {
	results := e.session.Search(query, limit)
	if limit <= 0 || len(results) < limit {
		remaining := limit - len(results)
		results = append(results, e.archival.Search(query, remaining)...)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Consolidate derives a summary, decisions, facts and entities from the
// current session messages and folds them into the summarized and archival
// tiers (spec §4.4-§4.5's "promotion" path, run independently of a commit).
func (e *Engine) Consolidate() {
	messages := e.session.Messages()

	summary := e.summarizer.Summarize(messages)
	e.summarized.AddSummary(summary)

	for _, d := range e.summarizer.ExtractDecisions(messages) {
		e.summarized.AddDecision(d)
	}
	for _, f := range e.extractor.ExtractFacts(messages) {
		e.summarized.AddFact(f)
	}
	for _, ent := range e.extractor.Extract(messages) {
		e.archival.IndexEntity(ent)
	}

	if _, err := e.events.Append(EventConsolidated, e.conversationID, e.sessionID, summary); err != nil {
		e.log.Warnw("engine: failed to log consolidate event", "error", err)
	}
}

// Commit runs the DataCollector -> CommitValidator -> CommitPersister
// pipeline: an empty session (no messages, no tool calls) is a no-op; a
// commit attempted before CommitMinInterval has elapsed is rejected rather
// than silently delayed, so callers can decide whether to retry.
func (e *Engine) Commit(ctx context.Context) (*types.CommitMetadata, error) {
	if !e.commitLimiter.Allow() {
		if _, err := e.events.Append(EventCommitRateLimited, e.conversationID, e.sessionID, nil); err != nil {
			e.log.Warnw("engine: failed to log rate-limit event", "error", err)
		}
		return nil, fmt.Errorf("engine: commit rate limited")
	}

	if _, err := e.events.Append(EventCommitPrepare, e.conversationID, e.sessionID, nil); err != nil {
		e.log.Warnw("engine: failed to log commit.prepare event", "error", err)
	}

	data, err := e.collector.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: collect: %w", err)
	}

	if err := e.validator.Validate(commit.ValidatableData{
		ConversationID: e.conversationID,
		SessionID:      e.sessionID,
		Messages:       data.Messages,
		ToolCalls:      data.ToolCalls,
		ToolOutputs:    data.ToolOutputs,
		Entities:       data.Entities,
		Decisions:      data.Decisions,
		Statistics:     data.Statistics,
	}); err != nil {
		return nil, fmt.Errorf("engine: validate: %w", err)
	}

	e.mu.Lock()
	previous := e.lastCommitID
	e.mu.Unlock()

	meta, snap, err := e.persister.Commit(commit.Input{
		Snapshot:    data.ToSnapshot(),
		ToolOutputs: data.ToolOutputs,
		FileChanges: data.FileChanges,
	}, e.conversationID, e.sessionID, previous)
	if err != nil {
		return nil, fmt.Errorf("engine: persist: %w", err)
	}
	if meta == nil {
		if _, err := e.events.Append(EventCommitSkipped, e.conversationID, e.sessionID, nil); err != nil {
			e.log.Warnw("engine: failed to log commit.skipped event", "error", err)
		}
		return nil, nil
	}

	e.archival.RecordSnapshot(*snap)

	if e.mirror != nil {
		e.mirror.Mirror(ctx, *snap)
	}

	resumable := e.resumableGen.Generate(*snap)
	if err := e.store.SaveResumable(resumable); err != nil {
		e.log.Warnw("engine: failed to save resumable context", "error", err)
	}

	e.mu.Lock()
	e.lastCommitID = meta.CommitID
	e.mu.Unlock()

	if _, err := e.events.Append(EventCommitComplete, e.conversationID, e.sessionID, meta); err != nil {
		e.log.Warnw("engine: failed to log commit.complete event", "error", err)
	}
	return meta, nil
}

// Reload runs IntegrityChecker -> ContextLoader -> ContextCompiler ->
// PromptBuilder and applies the resulting reconciliation back onto the
// tiers, returning the rendered prompt (spec §4.10-§4.13).
func (e *Engine) Reload(ctx context.Context, commitID string, opts reload.Options) (string, error) {
	if _, err := e.events.Append(EventReloadStarted, e.conversationID, e.sessionID, commitID); err != nil {
		e.log.Warnw("engine: failed to log reload.started event", "error", err)
	}

	current := e.allEntries()
	loaded, err := e.loader.Load(commitID, current, opts)
	if err != nil {
		if _, logErr := e.events.Append(EventReloadFailed, e.conversationID, e.sessionID, err.Error()); logErr != nil {
			e.log.Warnw("engine: failed to log reload.failed event", "error", logErr)
		}
		return "", fmt.Errorf("engine: load: %w", err)
	}
	if loaded.Outcome.Snapshot == nil {
		return "", nil
	}
	snap := *loaded.Outcome.Snapshot

	e.applyResult(snap, loaded.Result)

	merged := e.allEntries()
	compiled := e.compiler.Compile(merged, e.warmTokenBudget)
	prompt := e.promptBuilder.Build(snap, compiled)

	if _, err := e.events.Append(EventReloadCompleted, e.conversationID, e.sessionID, map[string]any{
		"snapshotId":       loaded.Outcome.SnapshotID,
		"usedFallback":     loaded.Outcome.UsedFallback,
		"compressionLevel": string(compiled.CompressionLevel),
	}); err != nil {
		e.log.Warnw("engine: failed to log reload.completed event", "error", err)
	}

	e.mu.Lock()
	e.lastCommitID = snap.ID
	e.mu.Unlock()

	return prompt, nil
}

// applyResult reconciles a reload.Result onto the tiers. Every reload kind
// (full, selective, rollback, merge) resolves to the same Result shape —
// reloaded/discarded/preserved/merged MemoryEntry slices, tagged with the
// tier they belong to (spec §4.11) — so one reconciliation restores all
// four kinds uniformly: the session, summarized and archival tiers are each
// rebuilt from the Result's reloaded, merged and preserved entries for that
// tier (a tier with none is emptied), so Selective keeps the tiers it does
// not target through their Preserved entries. The immediate tier is not
// touched.
func (e *Engine) applyResult(snap types.SessionSnapshot, res reload.Result) {
	combined := make([]types.MemoryEntry, 0, len(res.Reloaded)+len(res.Merged)+len(res.Preserved))
	combined = append(combined, res.Reloaded...)
	combined = append(combined, res.Merged...)
	combined = append(combined, res.Preserved...)

	sessionEntries := filterByTier(combined, types.TierSession)
	e.session.RestoreMessages(messagesFor(sessionEntries, snap.Messages, e.session.Messages()))
	e.session.RestoreEntries(sessionEntries)

	summarizedEntries := filterByTier(combined, types.TierSummarized)
	decisions, facts := decisionsAndFactsFor(summarizedEntries, snap.KeyDecisions, snap.LearnedFacts, e.summarized.Decisions(), e.summarized.Facts())
	e.summarized.Restore(decisions, facts, summarizedEntries)

	archivalEntries := filterByTier(combined, types.TierArchival)
	e.archival.Restore(entitiesFor(archivalEntries, snap.Entities, e.archival.Entities()), archivalEntries)
}

// messagesFor resolves the typed ConversationMessage for each session-tier
// entry: from the freshly-loaded snapshot if reloaded, otherwise from
// whatever is already resident (a preserved entry's message did not come
// from this snapshot at all), and only when neither holds it, rebuilt from
// the entry itself.
func messagesFor(entries []types.MemoryEntry, snapMessages, currentMessages []types.ConversationMessage) []types.ConversationMessage {
	bySnapID := make(map[string]types.ConversationMessage, len(snapMessages))
	for _, m := range snapMessages {
		bySnapID[m.ID] = m
	}
	byCurrentID := make(map[string]types.ConversationMessage, len(currentMessages))
	for _, m := range currentMessages {
		byCurrentID[m.ID] = m
	}
	out := make([]types.ConversationMessage, 0, len(entries))
	for _, e := range entries {
		if e.Type != types.EntryMessage {
			continue
		}
		if m, ok := bySnapID[e.ID]; ok {
			out = append(out, m)
			continue
		}
		if m, ok := byCurrentID[e.ID]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, types.ConversationMessage{ID: e.ID, Content: e.Content, Timestamp: e.CreatedAt})
	}
	return out
}

func decisionsAndFactsFor(entries []types.MemoryEntry, snapDecisions []types.KeyDecision, snapFacts []types.LearnedFact, currentDecisions []types.KeyDecision, currentFacts []types.LearnedFact) ([]types.KeyDecision, []types.LearnedFact) {
	decisionsByID := make(map[string]types.KeyDecision, len(snapDecisions)+len(currentDecisions))
	for _, d := range currentDecisions {
		decisionsByID[d.ID] = d
	}
	for _, d := range snapDecisions {
		decisionsByID[d.ID] = d
	}
	factsByID := make(map[string]types.LearnedFact, len(snapFacts)+len(currentFacts))
	for _, f := range currentFacts {
		factsByID[f.ID] = f
	}
	for _, f := range snapFacts {
		factsByID[f.ID] = f
	}

	var decisions []types.KeyDecision
	var facts []types.LearnedFact
	for _, e := range entries {
		switch e.Type {
		case types.EntryDecision:
			if d, ok := decisionsByID[e.ID]; ok {
				decisions = append(decisions, d)
			}
		case types.EntryFact:
			if f, ok := factsByID[e.ID]; ok {
				facts = append(facts, f)
			}
		}
	}
	return decisions, facts
}

func entitiesFor(entries []types.MemoryEntry, snapEntities []types.ExtractedEntity, currentEntities []types.ExtractedEntity) []types.ExtractedEntity {
	byID := make(map[string]types.ExtractedEntity, len(snapEntities)+len(currentEntities))
	for _, ent := range currentEntities {
		byID[ent.ID] = ent
	}
	for _, ent := range snapEntities {
		byID[ent.ID] = ent
	}
	out := make([]types.ExtractedEntity, 0, len(entries))
	for _, e := range entries {
		if ent, ok := byID[e.ID]; ok {
			out = append(out, ent)
		}
	}
	return out
}

func filterByTier(entries []types.MemoryEntry, tier types.Tier) []types.MemoryEntry {
	var out []types.MemoryEntry
	for _, e := range entries {
		if e.Tier == tier {
			out = append(out, e)
		}
	}
	return out
}

func (e *Engine) allEntries() []types.MemoryEntry {
	var all []types.MemoryEntry
	all = append(all, e.immediate.Entries()...)
	all = append(all, e.session.Entries()...)
	all = append(all, e.summarized.Entries()...)
	all = append(all, e.archival.Entries()...)
	return all
}
