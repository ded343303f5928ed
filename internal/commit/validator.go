// Package commit implements the write-ahead-log commit protocol: checksum
// computation and structural validation (Validator), atomic multi-file
// persistence with crash recovery (Persister), and the resumable-context
// generator consumed on reload (spec §4.6-§4.9).
package commit

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/antigravity/memoryengine/internal/filestore"
	"github.com/antigravity/memoryengine/internal/types"
)

// Mode controls how strictly Validator treats referential-integrity
// problems: Strict returns every violation as an error, Lenient returns only
// the CRITICAL-tagged ones and ignores the rest; neither mode logs or
// removes the offending records (spec §4.6).
type Mode int

const (
	Strict Mode = iota
	Lenient
)

// Validator computes per-component and global checksums and checks
// structural/referential integrity of a SessionData before it is persisted.
type Validator struct {
	Mode Mode
}

func NewValidator(mode Mode) *Validator {
	return &Validator{Mode: mode}
}

// snapshotChecksumSubset is exactly the field set spec §3 fixes
// SessionSnapshot.Checksum to: {messages, toolCalls, summary, keyDecisions}.
// This is deliberately narrower than CommitChecksums.Global/Snapshot, which
// cover the entire snapshot including content-unstable fields (id,
// timestamp, statistics, entities, ...), so that recommitting an otherwise
// unchanged conversation reproduces the same checksum.
type snapshotChecksumSubset struct {
	Messages     []types.ConversationMessage `json:"messages"`
	ToolCalls    []types.ToolCallRecord      `json:"toolCalls"`
	Summary      types.Summary               `json:"summary"`
	KeyDecisions []types.KeyDecision         `json:"keyDecisions"`
}

// SnapshotChecksum computes the spec §3 checksum for snap.Checksum: the
// SHA-256 of the canonical JSON of {messages, toolCalls, summary,
// keyDecisions} only. It is distinct from Checksums' Global/Snapshot hash,
// which covers the full snapshot and backs the broader commit-level
// integrity record (spec §4.6), not this field.
func (v *Validator) SnapshotChecksum(snap types.SessionSnapshot) (string, error) {
	subset := snapshotChecksumSubset{
		Messages:     snap.Messages,
		ToolCalls:    snap.ToolCalls,
		Summary:      snap.Summary,
		KeyDecisions: snap.KeyDecisions,
	}
	h, err := filestore.Checksum(subset)
	if err != nil {
		return "", fmt.Errorf("commit: snapshot checksum: %w", err)
	}
	return h, nil
}

// Checksums computes the per-component content hashes plus the aggregate
// global hash over a snapshot (spec §4.9). Each component hash covers only
// that component's canonical JSON; Global covers the full snapshot's
// canonical JSON with the checksum field itself stripped, so it remains
// self-describing.
func (v *Validator) Checksums(snap types.SessionSnapshot) (types.CommitChecksums, error) {
	var errs error
	hash := func(x any) string {
		h, err := filestore.Checksum(x)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("commit: checksum: %w", err))
		}
		return h
	}

	sums := types.CommitChecksums{
		Messages:  hash(snap.Messages),
		ToolCalls: hash(snap.ToolCalls),
		Entities:  hash(snap.Entities),
		Decisions: hash(snap.KeyDecisions),
		Facts:     hash(snap.LearnedFacts),
		Summary:   hash(snap.Summary),
	}

	// Snapshot/Global hash over the canonical JSON with the checksum field
	// itself removed (not merely zeroed), so IntegrityChecker can recompute
	// it by stripping the field from the persisted bytes (spec §4.9).
	canonical, err := filestore.CanonicalJSON(snap, false)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("commit: canonical json: %w", err))
	} else {
		stripped, err := filestore.StripField(canonical, "checksum")
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("commit: strip checksum field: %w", err))
		} else {
			hashVal := filestore.ChecksumBytes(stripped)
			sums.Snapshot = hashVal
			sums.Global = hashVal
		}
	}
	if errs != nil {
		return sums, errs
	}
	return sums, nil
}

// Validate checks structural and referential integrity against every rule
// spec §4.6 enumerates: message field presence and id uniqueness,
// conversationId/sessionId presence, the statistics.messageCount
// consistency check, entity required fields and mention/turn references,
// decision turn references, and tool-call/tool-output matching. Checks
// spec §4.6 marks "(error)" fail validation even in Lenient mode (they are
// reported with a "CRITICAL" marker, per the "lenient mode: only errors
// containing CRITICAL fail" rule); everything else only fails in Strict
// mode, and items spec marks "(warning)" never fail validation at all.
func (v *Validator) Validate(data ValidatableData) error {
	var errs error

	addErr := func(critical bool, err error) {
		if v.Mode == Strict || critical {
			errs = multierr.Append(errs, err)
		}
	}
	critical := func(format string, args ...any) error {
		return fmt.Errorf("commit: CRITICAL: "+format, args...)
	}
	nonCritical := func(format string, args ...any) error {
		return fmt.Errorf("commit: "+format, args...)
	}

	// Consistency: conversationId/sessionId presence (error).
	if data.ConversationID == "" {
		addErr(true, critical("conversationId is required"))
	}
	if data.SessionID == "" {
		addErr(true, critical("sessionId is required"))
	}
	// Consistency: statistics.messageCount == messages.length (error).
	if data.Statistics.MessageCount != len(data.Messages) {
		addErr(true, critical("statistics.messageCount %d does not match %d messages",
			data.Statistics.MessageCount, len(data.Messages)))
	}

	// Messages: id/role/content presence and id uniqueness. turnNumber
	// non-decreasing is spec-listed as warning-level only, so it is not
	// checked here (it never affects whether validation passes).
	turnSeen := make(map[int]bool, len(data.Messages))
	seenMessageIDs := make(map[string]bool, len(data.Messages))
	for _, m := range data.Messages {
		if m.ID == "" {
			addErr(false, nonCritical("message missing id"))
		} else if seenMessageIDs[m.ID] {
			addErr(false, nonCritical("duplicate message id %q", m.ID))
		} else {
			seenMessageIDs[m.ID] = true
		}
		if m.Role == "" {
			addErr(false, nonCritical("message %q missing role", m.ID))
		}
		if m.Content == "" {
			addErr(false, nonCritical("message %q missing content", m.ID))
		}
		turnSeen[m.TurnNumber] = true
	}

	// Reference integrity: every tool output's toolCallId matches a recorded
	// tool call, and every successful tool call has a recorded output
	// (failed calls may have none).
	outputByCall := make(map[string]bool, len(data.ToolOutputs))
	for _, o := range data.ToolOutputs {
		outputByCall[o.ToolCallID] = true
	}
	for _, tc := range data.ToolCalls {
		if tc.Success && !outputByCall[tc.ID] {
			addErr(false, nonCritical("tool call %s has no recorded output", tc.ID))
		}
	}
	callIDs := make(map[string]bool, len(data.ToolCalls))
	for _, tc := range data.ToolCalls {
		callIDs[tc.ID] = true
	}
	for _, o := range data.ToolOutputs {
		if !callIDs[o.ToolCallID] {
			addErr(false, nonCritical("tool output references unknown tool call %q", o.ToolCallID))
		}
	}

	// Entities: required fields present (duplicate ids and zero-mentions
	// are spec-listed as warning-level only, so not checked here);
	// mention.turnNumber must exist among the messages.
	for _, e := range data.Entities {
		if e.Name == "" || e.Type == "" {
			addErr(false, nonCritical("entity %q missing required fields", e.ID))
		}
		for _, m := range e.Mentions {
			if m.TurnNumber != 0 && !turnSeen[m.TurnNumber] {
				addErr(false, nonCritical("entity %q mentions unknown turn %d", e.Name, m.TurnNumber))
			}
		}
	}

	// Reference integrity: every decision turnNumber must exist among the
	// messages.
	for _, d := range data.Decisions {
		if d.TurnNumber != 0 && !turnSeen[d.TurnNumber] {
			addErr(false, nonCritical("decision %q references unknown turn %d", d.Title, d.TurnNumber))
		}
	}

	return errs
}

// ValidatableData is the subset of SessionData the validator needs;
// defined here (rather than imported from collect) to keep commit free of
// a dependency on collect's broader surface.
type ValidatableData struct {
	ConversationID string
	SessionID      string
	Messages       []types.ConversationMessage
	ToolCalls      []types.ToolCallRecord
	ToolOutputs    []types.ToolOutput
	Entities       []types.ExtractedEntity
	Decisions      []types.KeyDecision
	Statistics     types.SessionStatistics
}
