// Package reload implements the four-stage reload pipeline: IntegrityChecker
// picks a safe snapshot to load from, ContextLoader projects it into tier
// entries, ContextCompiler enforces a token budget, and PromptBuilder
// renders the final Markdown prompt (spec §4.10-§4.13). ReloadStrategy
// (strategy.go) is the tagged-union reconciliation dispatch ContextLoader
// applies once IntegrityChecker has selected a snapshot.
package reload

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/commit"
	"github.com/antigravity/memoryengine/internal/filestore"
	"github.com/antigravity/memoryengine/internal/types"
)

// Outcome reports what IntegrityChecker decided and why.
type Outcome struct {
	SnapshotID   string
	Snapshot     *types.SessionSnapshot
	UsedFallback bool
	Issues       []string
}

// IntegrityChecker validates a candidate snapshot before reload begins
// (spec §4.10): version compatibility, checksum agreement, and basic
// structural sanity. On failure it walks the other snapshots on disk
// (newest embedded epoch first) until one passes, or reports that none do.
type IntegrityChecker struct {
	store     *filestore.Store
	log       *zap.SugaredLogger
	validator *commit.Validator
}

func NewIntegrityChecker(store *filestore.Store, log *zap.SugaredLogger) *IntegrityChecker {
	return &IntegrityChecker{store: store, log: log, validator: commit.NewValidator(commit.Lenient)}
}

// Check loads the snapshot named by commitID (or the latest pointer if
// commitID is empty), validates it, and falls back to the other snapshots,
// newest embedded epoch first, if validation fails.
func (c *IntegrityChecker) Check(commitID string) (Outcome, error) {
	if commitID == "" {
		pointer, ok, err := c.store.LoadLatestPointer()
		if err != nil {
			return Outcome{}, fmt.Errorf("integrity: load latest pointer: %w", err)
		}
		if !ok {
			return Outcome{}, nil
		}
		commitID = pointer.CommitID
	}

	names, err := c.store.ListSnapshots()
	if err != nil {
		return Outcome{}, fmt.Errorf("integrity: list snapshots: %w", err)
	}

	issues, snap, ok := c.validateOne(commitID)
	if ok {
		return Outcome{SnapshotID: commitID, Snapshot: snap, Issues: issues}, nil
	}
	c.log.Warnw("integrity: candidate snapshot failed validation, falling back", "commitId", commitID, "issues", issues)

	for _, name := range names {
		candidateID, ok := idFromSnapshotName(name)
		if !ok || candidateID == commitID {
			continue
		}
		moreIssues, candSnap, valid := c.validateOne(candidateID)
		if valid {
			return Outcome{
				SnapshotID:   candidateID,
				Snapshot:     candSnap,
				UsedFallback: true,
				Issues:       append(issues, moreIssues...),
			}, nil
		}
		issues = append(issues, moreIssues...)
	}

	return Outcome{Issues: issues}, fmt.Errorf("integrity: no valid snapshot found among %d candidates", len(names))
}

func (c *IntegrityChecker) validateOne(commitID string) ([]string, *types.SessionSnapshot, bool) {
	var issues []string

	snap, ok, err := c.store.LoadSnapshot(commitID)
	if err != nil || !ok {
		return []string{"snapshot json invalid"}, nil, false
	}

	if !versionSupported(snap.Version) {
		issues = append(issues, fmt.Sprintf("unsupported version %q", snap.Version))
	}

	// snap.Checksum is the spec §3 subset hash over {messages, toolCalls,
	// summary, keyDecisions} only (commit.Validator.SnapshotChecksum), not
	// the broader whole-snapshot hash CommitChecksums.Global covers.
	computed, err := c.validator.SnapshotChecksum(*snap)
	if err != nil {
		issues = append(issues, "checksum computation failed")
	} else if computed != snap.Checksum {
		issues = append(issues, "checksum mismatch")
	}

	if snap.ID == "" || snap.ConversationID == "" {
		issues = append(issues, "missing required identifiers")
	}

	return issues, snap, len(issues) == 0
}

func versionSupported(v string) bool {
	for _, sv := range types.SupportedVersions {
		if sv == v {
			return true
		}
	}
	return false
}

func idFromSnapshotName(name string) (string, bool) {
	const prefix, suffix = "snapshot-", ".json"
	if len(name) <= len(prefix)+len(suffix) {
		return "", false
	}
	if name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return "", false
	}
	return name[len(prefix) : len(name)-len(suffix)], true
}
