package reload

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/filestore"
	"github.com/antigravity/memoryengine/internal/types"
)

// ContextLoader runs IntegrityChecker to select a snapshot, then projects
// it into the flat entry list ContextCompiler and the reload strategies
// operate over (spec §4.12).
type ContextLoader struct {
	store    *filestore.Store
	checker  *IntegrityChecker
	strategy *Strategy
	log      *zap.SugaredLogger
}

func NewContextLoader(store *filestore.Store, checker *IntegrityChecker, strategy *Strategy, log *zap.SugaredLogger) *ContextLoader {
	return &ContextLoader{store: store, checker: checker, strategy: strategy, log: log}
}

// Loaded is the output of a load: the selected snapshot plus the
// strategy-reconciled entry set ready for compilation.
type Loaded struct {
	Outcome Outcome
	Result  Result
}

// Load picks a snapshot (falling back on integrity failure), then applies
// the requested reload strategy against the current tier entries.
func (l *ContextLoader) Load(commitID string, current []types.MemoryEntry, opts Options) (Loaded, error) {
	outcome, err := l.checker.Check(commitID)
	if err != nil {
		return Loaded{}, fmt.Errorf("reload: integrity check: %w", err)
	}
	if outcome.Snapshot == nil {
		return Loaded{Outcome: outcome}, nil
	}
	if outcome.UsedFallback {
		l.log.Warnw("reload: using fallback snapshot", "snapshotId", outcome.SnapshotID, "issues", outcome.Issues)
	}

	result, err := l.strategy.Apply(*outcome.Snapshot, current, opts)
	if err != nil {
		return Loaded{}, fmt.Errorf("reload: apply strategy: %w", err)
	}
	return Loaded{Outcome: outcome, Result: result}, nil
}
