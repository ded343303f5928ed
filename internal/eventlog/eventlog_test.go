package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity/memoryengine/internal/filestore"
)

func newTestLog(t *testing.T, opts Options) (*Log, *filestore.Store) {
	t.Helper()
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	l, err := New(store, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Shutdown() })
	return l, store
}

func TestAppendAssignsSequentialSequenceNumbers(t *testing.T) {
	l, _ := newTestLog(t, Options{FlushBufferSize: 100})

	e1, err := l.Append("msg.added", "conv-1", "sess-1", "a")
	require.NoError(t, err)
	e2, err := l.Append("msg.added", "conv-1", "sess-1", "b")
	require.NoError(t, err)

	assert.Equal(t, int64(0), e1.Sequence)
	assert.Equal(t, int64(1), e2.Sequence)
}

func TestAppendFlushesAutomaticallyOnceBufferFull(t *testing.T) {
	l, store := newTestLog(t, Options{FlushBufferSize: 2})

	_, err := l.Append("a", "conv-1", "sess-1", nil)
	require.NoError(t, err)
	_, err = l.Append("b", "conv-1", "sess-1", nil)
	require.NoError(t, err)

	paths, err := store.ListEventSegments()
	require.NoError(t, err)
	assert.NotEmpty(t, paths, "buffer should have auto-flushed to a segment file")
}

func TestGetEventsFlushesPendingBufferFirst(t *testing.T) {
	l, _ := newTestLog(t, Options{FlushBufferSize: 100})
	_, err := l.Append("message.added", "conv-1", "sess-1", "hello")
	require.NoError(t, err)

	events, err := l.GetEvents(Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "message.added", events[0].Type)
}

func TestGetEventsFiltersByType(t *testing.T) {
	l, _ := newTestLog(t, Options{FlushBufferSize: 100})
	_, err := l.Append("a.event", "conv-1", "sess-1", nil)
	require.NoError(t, err)
	_, err = l.Append("b.event", "conv-1", "sess-1", nil)
	require.NoError(t, err)

	events, err := l.GetEvents(Filter{Types: []string{"b.event"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b.event", events[0].Type)
}

func TestAppendBatchGivesConsecutiveSequencesAndFlushesTogether(t *testing.T) {
	l, _ := newTestLog(t, Options{FlushBufferSize: 100})
	events, err := l.AppendBatch("batch.event", "conv-1", "sess-1", []any{"x", "y", "z"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(0), events[0].Sequence)
	assert.Equal(t, int64(2), events[2].Sequence)

	fetched, err := l.GetEvents(Filter{})
	require.NoError(t, err)
	assert.Len(t, fetched, 3)
}

func TestStreamEventsReturnsCursorWithHasMoreWhenBatchSmallerThanTotal(t *testing.T) {
	l, _ := newTestLog(t, Options{FlushBufferSize: 100})
	for i := 0; i < 5; i++ {
		_, err := l.Append("e", "conv-1", "sess-1", i)
		require.NoError(t, err)
	}

	batch, cursor, err := l.StreamEvents(Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.True(t, cursor.HasMore)
	assert.Equal(t, int64(1), cursor.LastSequence)
}

func TestApplyRetentionRemovesSegmentsWhereEveryEventPredatesCutoff(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	l, store := newTestLog(t, Options{
		FlushBufferSize: 100,
		RetentionDays:   7,
		Now:             func() time.Time { return now },
	})

	_, err := l.Append("old.event", "conv-1", "sess-1", nil)
	require.NoError(t, err)
	require.NoError(t, l.Flush())

	now = base.AddDate(0, 0, 10)
	require.NoError(t, l.ApplyRetention())

	paths, err := store.ListEventSegments()
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestWaitForReturnsErrorOnTimeoutWhenEventNeverAppears(t *testing.T) {
	l, _ := newTestLog(t, Options{FlushBufferSize: 100})
	_, err := l.WaitFor("never.happens", 30*time.Millisecond)
	assert.Error(t, err)
}

func TestWaitForReturnsEventOnceItIsAppended(t *testing.T) {
	l, _ := newTestLog(t, Options{FlushBufferSize: 100})
	_, err := l.Append("arrived", "conv-1", "sess-1", nil)
	require.NoError(t, err)

	ev, err := l.WaitFor("arrived", time.Second)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "arrived", ev.Type)
}

func TestNewRecoversNextSequenceFromExistingSegments(t *testing.T) {
	store := filestore.New(t.TempDir(), "conv-1", filestore.Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	l1, err := New(store, Options{FlushBufferSize: 100}, nil)
	require.NoError(t, err)
	_, err = l1.Append("a", "conv-1", "sess-1", nil)
	require.NoError(t, err)
	_, err = l1.Append("b", "conv-1", "sess-1", nil)
	require.NoError(t, err)
	require.NoError(t, l1.Shutdown())

	l2, err := New(store, Options{FlushBufferSize: 100}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2.Shutdown() })

	e, err := l2.Append("c", "conv-1", "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Sequence)
}
