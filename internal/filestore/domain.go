package filestore

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/antigravity/memoryengine/internal/types"
)

// Per-domain convenience helpers layered over WriteJSON/ReadJSON, matching
// spec §4.1's "saveSnapshot / loadSnapshot / listSnapshots and per-domain
// helpers for messages, summaries, decisions, entities, project state, task
// state".

func (s *Store) SaveSnapshot(snap *types.SessionSnapshot) error {
	path := s.Path(DirArchives, fmt.Sprintf("snapshot-%s.json", snap.ID))
	return s.WriteJSON(path, snap)
}

func (s *Store) LoadSnapshot(commitID string) (*types.SessionSnapshot, bool, error) {
	path := s.Path(DirArchives, fmt.Sprintf("snapshot-%s.json", commitID))
	var snap types.SessionSnapshot
	ok, err := s.ReadJSON(path, &snap)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &snap, true, nil
}

// ListSnapshots returns snapshot file basenames under archives/, newest
// embedded-epoch first.
func (s *Store) ListSnapshots() ([]string, error) {
	names, err := s.ListDir(s.Path(DirArchives))
	if err != nil {
		return nil, err
	}
	sort.Slice(names, func(i, j int) bool {
		ei, _ := ParseEpochFromName(names[i])
		ej, _ := ParseEpochFromName(names[j])
		return ei > ej
	})
	return names, nil
}

func (s *Store) MessagesPath() string  { return s.Path(DirSession, "messages.json") }
func (s *Store) ToolCallsPath() string { return s.Path(DirSession, "tool-calls.json") }
func (s *Store) ToolOutputsPath() string { return s.Path(DirSession, "tool-outputs.json") }
func (s *Store) FileChangesPath() string { return s.Path(DirSession, "file-changes.json") }

func (s *Store) SummaryPath() string    { return s.Path(DirSummaries, "summary.json") }
func (s *Store) DecisionsPath() string  { return s.Path(DirSummaries, "decisions.json") }

func (s *Store) EntitiesPath() string     { return s.Path(DirKnowledge, "entities.json") }
func (s *Store) FactsPath() string        { return s.Path(DirKnowledge, "facts.json") }
func (s *Store) RelationshipsPath() string { return s.Path(DirKnowledge, "relationships.json") }

func (s *Store) ProjectStatePath() string { return s.Path(DirContext, "project-state.json") }
func (s *Store) TaskStatePath() string    { return s.Path(DirContext, "task-state.json") }
func (s *Store) ResumablePath() string    { return s.Path(DirContext, "resumable.json") }

func (s *Store) CommitMetaPath(commitID string) string {
	return s.Path(DirCommits, commitID+".json")
}
func (s *Store) LatestPointerPath() string { return s.Path(DirCommits, "latest.json") }

func (s *Store) WALPath(commitID string) string {
	return s.Path(DirWAL, commitID+".wal.json")
}

func (s *Store) SaveCommitMetadata(meta *types.CommitMetadata) error {
	return s.WriteJSON(s.CommitMetaPath(meta.CommitID), meta)
}

func (s *Store) LoadCommitMetadata(commitID string) (*types.CommitMetadata, bool, error) {
	var meta types.CommitMetadata
	ok, err := s.ReadJSON(s.CommitMetaPath(commitID), &meta)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &meta, true, nil
}

func (s *Store) SaveLatestPointer(p *types.LatestPointer) error {
	return s.WriteJSON(s.LatestPointerPath(), p)
}

func (s *Store) LoadLatestPointer() (*types.LatestPointer, bool, error) {
	var p types.LatestPointer
	ok, err := s.ReadJSON(s.LatestPointerPath(), &p)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &p, true, nil
}

func (s *Store) SaveResumable(v any) error {
	return s.WriteJSON(s.ResumablePath(), v)
}

func (s *Store) ListWAL() ([]string, error) {
	return s.ListDir(s.Path(DirWAL))
}

func (s *Store) SaveMessages(msgs []types.ConversationMessage) error {
	return s.WriteJSON(s.MessagesPath(), msgs)
}

func (s *Store) LoadMessages() ([]types.ConversationMessage, error) {
	var msgs []types.ConversationMessage
	_, err := s.ReadJSON(s.MessagesPath(), &msgs)
	return msgs, err
}

func (s *Store) SaveToolCalls(calls []types.ToolCallRecord) error {
	return s.WriteJSON(s.ToolCallsPath(), calls)
}

func (s *Store) LoadToolCalls() ([]types.ToolCallRecord, error) {
	var calls []types.ToolCallRecord
	_, err := s.ReadJSON(s.ToolCallsPath(), &calls)
	return calls, err
}

func (s *Store) SaveToolOutputs(outputs []types.ToolOutput) error {
	return s.WriteJSON(s.ToolOutputsPath(), outputs)
}

func (s *Store) LoadToolOutputs() ([]types.ToolOutput, error) {
	var outputs []types.ToolOutput
	_, err := s.ReadJSON(s.ToolOutputsPath(), &outputs)
	return outputs, err
}

func (s *Store) SaveFileChanges(changes []types.FileChange) error {
	return s.WriteJSON(s.FileChangesPath(), changes)
}

func (s *Store) LoadFileChanges() ([]types.FileChange, error) {
	var changes []types.FileChange
	_, err := s.ReadJSON(s.FileChangesPath(), &changes)
	return changes, err
}

func (s *Store) SaveDecisions(decisions []types.KeyDecision) error {
	return s.WriteJSON(s.DecisionsPath(), decisions)
}

func (s *Store) LoadDecisions() ([]types.KeyDecision, error) {
	var decisions []types.KeyDecision
	_, err := s.ReadJSON(s.DecisionsPath(), &decisions)
	return decisions, err
}

func (s *Store) SaveSummary(summary *types.Summary) error {
	return s.WriteJSON(s.SummaryPath(), summary)
}

func (s *Store) LoadSummary() (*types.Summary, error) {
	var summary types.Summary
	ok, err := s.ReadJSON(s.SummaryPath(), &summary)
	if err != nil || !ok {
		return &types.Summary{}, err
	}
	return &summary, nil
}

func (s *Store) SaveEntities(entities []types.ExtractedEntity) error {
	return s.WriteJSON(s.EntitiesPath(), entities)
}

func (s *Store) LoadEntities() ([]types.ExtractedEntity, error) {
	var entities []types.ExtractedEntity
	_, err := s.ReadJSON(s.EntitiesPath(), &entities)
	return entities, err
}

func (s *Store) SaveFacts(facts []types.LearnedFact) error {
	return s.WriteJSON(s.FactsPath(), facts)
}

func (s *Store) LoadFacts() ([]types.LearnedFact, error) {
	var facts []types.LearnedFact
	_, err := s.ReadJSON(s.FactsPath(), &facts)
	return facts, err
}

func (s *Store) SaveProjectState(ps *types.ProjectState) error {
	return s.WriteJSON(s.ProjectStatePath(), ps)
}

func (s *Store) LoadProjectState() (*types.ProjectState, error) {
	var ps types.ProjectState
	ok, err := s.ReadJSON(s.ProjectStatePath(), &ps)
	if err != nil || !ok {
		return &types.ProjectState{}, err
	}
	return &ps, nil
}

func (s *Store) SaveTaskState(ts *types.TaskState) error {
	return s.WriteJSON(s.TaskStatePath(), ts)
}

func (s *Store) LoadTaskState() (*types.TaskState, error) {
	var ts types.TaskState
	ok, err := s.ReadJSON(s.TaskStatePath(), &ts)
	if err != nil || !ok {
		return &types.TaskState{}, err
	}
	return &ts, nil
}

// EventSegmentPath returns the path for a segment identified by its first
// event's epoch-millis timestamp.
func (s *Store) EventSegmentPath(epochMs int64) string {
	return s.Path(DirEvents, fmt.Sprintf("segment-%d.json", epochMs))
}

func (s *Store) ListEventSegments() ([]string, error) {
	names, err := s.ListDir(s.Path(DirEvents))
	if err != nil {
		return nil, err
	}
	full := make([]string, len(names))
	for i, n := range names {
		full[i] = filepath.Join(s.Path(DirEvents), n)
	}
	return full, nil
}
