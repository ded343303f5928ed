package commit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/filestore"
	"github.com/antigravity/memoryengine/internal/types"
)

// Stage names recorded in the write-ahead log, in commit order (spec §4.7).
const (
	StagePrepare   = "prepare"
	StageSnapshot  = "snapshot"
	StageMessages  = "messages"
	StageEntities  = "entities"
	StageDecisions = "decisions"
	StageFacts     = "facts"
	StageToolData  = "tool-data"
	StageStates    = "states"
	StageContext   = "context"
	StageMetadata  = "metadata"
	StagePointer   = "pointer"
	StageComplete  = "complete"
)

// walRecord is the on-disk write-ahead log entry for one in-flight commit.
// It carries enough of the snapshot to resume or roll back after a crash.
type walRecord struct {
	CommitID         string                `json:"commitId"`
	ConversationID   string                `json:"conversationId"`
	SessionID        string                `json:"sessionId"`
	PreviousCommitID string                `json:"previousCommitId,omitempty"`
	Stage            string                `json:"stage"`
	StartedAt        time.Time             `json:"startedAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
	Snapshot         types.SessionSnapshot `json:"snapshot"`
	Checksums        types.CommitChecksums `json:"checksums"`
}

// Input is everything a Persister needs from a collected session round,
// decoupled from collect.SessionData so commit has no dependency on collect.
type Input struct {
	Snapshot    types.SessionSnapshot
	ToolOutputs []types.ToolOutput
	FileChanges []types.FileChange
}

// Persister runs the atomic multi-file write-ahead-log commit protocol
// (spec §4.7): every write advances a WAL stage marker; on crash recovery,
// RecoverPending rolls back any commit whose WAL never reached
// StageComplete.
type Persister struct {
	store     *filestore.Store
	validator *Validator
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewPersister(store *filestore.Store, validator *Validator, log *zap.SugaredLogger, now func() time.Time) *Persister {
	if now == nil {
		now = time.Now
	}
	return &Persister{store: store, validator: validator, log: log, now: now}
}

// NewCommitID generates a commit-<epoch-millis>-<8-hex> identifier, the
// format every commit directory entry and WAL file name is keyed on.
func NewCommitID(now time.Time) string {
	return fmt.Sprintf("commit-%d-%s", now.UnixMilli(), randomHex(4))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))[:n*2]
	}
	return hex.EncodeToString(b)
}

// Commit runs the prepare -> snapshot -> messages -> entities -> decisions
// -> facts -> tool-data -> states -> context -> metadata -> pointer ->
// complete pipeline. An empty snapshot (no messages, no tool calls) is
// skipped entirely and returns (nil, nil, nil) (spec §4.7 edge case).
func (p *Persister) Commit(in Input, conversationID, sessionID, previousCommitID string) (*types.CommitMetadata, *types.SessionSnapshot, error) {
	if len(in.Snapshot.Messages) == 0 && len(in.Snapshot.ToolCalls) == 0 {
		return nil, nil, nil
	}

	now := p.now()
	commitID := NewCommitID(now)

	snap := in.Snapshot
	snap.ID = commitID
	snap.ConversationID = conversationID
	snap.SessionID = sessionID
	snap.Version = types.CurrentVersion
	snap.Timestamp = now

	checksums, err := p.validator.Checksums(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("commit: compute checksums: %w", err)
	}
	// snap.Checksum is the spec §3 subset hash over {messages, toolCalls,
	// summary, keyDecisions} only, not the broader Global hash above — so
	// that recommitting an unchanged conversation (new commitId/timestamp,
	// same content) reproduces the same SessionSnapshot.Checksum.
	snapChecksum, err := p.validator.SnapshotChecksum(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("commit: compute snapshot checksum: %w", err)
	}
	snap.Checksum = snapChecksum

	rec := walRecord{
		CommitID:         commitID,
		ConversationID:   conversationID,
		SessionID:        sessionID,
		PreviousCommitID: previousCommitID,
		Stage:            StagePrepare,
		StartedAt:        now,
		UpdatedAt:        now,
		Snapshot:         snap,
		Checksums:        checksums,
	}
	if err := p.writeWAL(&rec); err != nil {
		return nil, nil, fmt.Errorf("commit: write wal: %w", err)
	}

	steps := []struct {
		stage string
		write func() error
	}{
		{StageSnapshot, func() error { return p.store.SaveSnapshot(&snap) }},
		{StageMessages, func() error { return p.store.SaveMessages(snap.Messages) }},
		{StageEntities, func() error { return p.store.SaveEntities(snap.Entities) }},
		{StageDecisions, func() error { return p.store.SaveDecisions(snap.KeyDecisions) }},
		{StageFacts, func() error { return p.store.SaveFacts(snap.LearnedFacts) }},
		{StageToolData, func() error {
			if err := p.store.SaveToolCalls(snap.ToolCalls); err != nil {
				return err
			}
			if err := p.store.SaveToolOutputs(in.ToolOutputs); err != nil {
				return err
			}
			return p.store.SaveFileChanges(in.FileChanges)
		}},
		{StageStates, func() error {
			ps := snap.ProjectState
			ts := snap.TaskState
			if err := p.store.SaveProjectState(&ps); err != nil {
				return err
			}
			return p.store.SaveTaskState(&ts)
		}},
		{StageContext, func() error { return p.store.SaveSummary(&snap.Summary) }},
	}

	for _, step := range steps {
		if err := step.write(); err != nil {
			p.rollback(&rec)
			return nil, nil, fmt.Errorf("commit: stage %s: %w", step.stage, err)
		}
		rec.Stage = step.stage
		rec.UpdatedAt = p.now()
		if err := p.writeWAL(&rec); err != nil {
			p.rollback(&rec)
			return nil, nil, fmt.Errorf("commit: advance wal to %s: %w", step.stage, err)
		}
	}

	meta := &types.CommitMetadata{
		CommitID:         commitID,
		ConversationID:   conversationID,
		SessionID:        sessionID,
		Timestamp:        now,
		Version:          types.CurrentVersion,
		PreviousCommitID: previousCommitID,
		Checksums:        checksums,
		Statistics:       snap.Statistics,
		Paths: types.CommitPaths{
			Snapshot:  p.store.Path(filestore.DirArchives, fmt.Sprintf("snapshot-%s.json", commitID)),
			Messages:  p.store.MessagesPath(),
			Entities:  p.store.EntitiesPath(),
			Decisions: p.store.DecisionsPath(),
			Facts:     p.store.FactsPath(),
			Context:   p.store.SummaryPath(),
		},
	}
	if err := p.store.SaveCommitMetadata(meta); err != nil {
		p.rollback(&rec)
		return nil, nil, fmt.Errorf("commit: stage %s: %w", StageMetadata, err)
	}
	rec.Stage = StageMetadata
	if err := p.writeWAL(&rec); err != nil {
		p.rollback(&rec)
		return nil, nil, fmt.Errorf("commit: advance wal to %s: %w", StageMetadata, err)
	}

	pointer := &types.LatestPointer{CommitID: commitID, Timestamp: now}
	if err := p.store.SaveLatestPointer(pointer); err != nil {
		p.rollback(&rec)
		return nil, nil, fmt.Errorf("commit: stage %s: %w", StagePointer, err)
	}
	rec.Stage = StagePointer
	if err := p.writeWAL(&rec); err != nil {
		p.rollback(&rec)
		return nil, nil, fmt.Errorf("commit: advance wal to %s: %w", StagePointer, err)
	}

	rec.Stage = StageComplete
	if err := p.writeWAL(&rec); err != nil {
		return nil, nil, fmt.Errorf("commit: mark wal complete: %w", err)
	}
	if err := p.store.Remove(p.store.WALPath(commitID)); err != nil {
		p.log.Warnw("commit: failed to remove completed wal entry", "commitId", commitID, "error", err)
	}

	return meta, &snap, nil
}

func (p *Persister) writeWAL(rec *walRecord) error {
	return p.store.WriteJSON(p.store.WALPath(rec.CommitID), rec)
}

// rollback removes the snapshot file and commit metadata a partially-applied
// commit may have written, then deletes the WAL entry (spec §4.7 "crash
// between snapshot and complete" scenario). The messages, entities,
// decisions, facts, tool-data, state and summary files and latest.json are
// not removed or restored.
func (p *Persister) rollback(rec *walRecord) {
	p.log.Warnw("commit: rolling back partial commit", "commitId", rec.CommitID, "stage", rec.Stage)
	snapPath := p.store.Path(filestore.DirArchives, fmt.Sprintf("snapshot-%s.json", rec.CommitID))
	if err := p.store.Remove(snapPath); err != nil {
		p.log.Warnw("commit: rollback failed to remove snapshot", "error", err)
	}
	if err := p.store.Remove(p.store.CommitMetaPath(rec.CommitID)); err != nil {
		p.log.Warnw("commit: rollback failed to remove commit metadata", "error", err)
	}
	if err := p.store.Remove(p.store.WALPath(rec.CommitID)); err != nil {
		p.log.Warnw("commit: rollback failed to remove wal entry", "error", err)
	}
}

// RecoverPending scans wal/ at startup and rolls back every incomplete
// entry found: anything short of StageComplete, StagePointer included, is
// treated as failed, while StageComplete entries are simply deleted (the
// engine reloads from the last fully-committed snapshot
// instead of attempting partial replay), matching the crash-safety
// guarantee in spec §4.7.
func (p *Persister) RecoverPending() ([]string, error) {
	names, err := p.store.ListWAL()
	if err != nil {
		return nil, fmt.Errorf("commit: list wal: %w", err)
	}
	var recovered []string
	for _, name := range names {
		path := p.store.Path(filestore.DirWAL, name)
		var rec walRecord
		ok, err := p.store.ReadJSON(path, &rec)
		if err != nil || !ok {
			continue
		}
		if rec.Stage == StageComplete {
			if rmErr := p.store.Remove(path); rmErr != nil {
				p.log.Warnw("commit: failed to remove stale completed wal entry", "error", rmErr)
			}
			continue
		}
		p.rollback(&rec)
		recovered = append(recovered, rec.CommitID)
	}
	return recovered, nil
}
