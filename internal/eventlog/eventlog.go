// Package eventlog implements the append-only, segmented event log
// described in spec §4.2: buffered append, batch append, filtered scan,
// cursor-based streaming and retention.
package eventlog

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antigravity/memoryengine/internal/filestore"
)

// Event is one append-only record.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	Sequence       int64     `json:"sequence"`
	ConversationID string    `json:"conversationId"`
	SessionID      string    `json:"sessionId"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	CausationID    string    `json:"causationId,omitempty"`
	Payload        any       `json:"payload,omitempty"`
}

// Filter narrows GetEvents/streamEvents results.
type Filter struct {
	Types         []string
	StartTime     *time.Time
	EndTime       *time.Time
	StartSequence *int64
	EndSequence   *int64
	CorrelationID string
	Limit         int
}

// Cursor describes the streaming position returned by StreamEvents.
type Cursor struct {
	LastSequence  int64
	LastTimestamp time.Time
	HasMore       bool
}

// Options configures a Log.
type Options struct {
	SegmentSize      int           // events per segment, default 1000
	FlushBufferSize  int           // default 100
	FlushInterval    time.Duration // default 5s
	RetentionDays    int           // default 7
	Now              func() time.Time
	IDGen            func() string
}

func (o *Options) setDefaults() {
	if o.SegmentSize <= 0 {
		o.SegmentSize = 1000
	}
	if o.FlushBufferSize <= 0 {
		o.FlushBufferSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = 7
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.IDGen == nil {
		o.IDGen = defaultIDGen
	}
}

// segment mirrors the on-disk shape of events/segment-<epoch>.json.
type segment struct {
	path   string
	epoch  int64
	Events []Event `json:"events"`
}

// Log is the append-only, segmented conversation event log.
type Log struct {
	store *filestore.Store
	opts  Options
	log   *zap.SugaredLogger

	mu        sync.Mutex
	buffer    []Event
	nextSeq   int64
	current   *segment
	flushDone chan struct{}
	stopTimer chan struct{}
	stopped   bool
}

// New opens (or initializes) an event log for a conversation store. It
// scans existing segments to recover nextSeq so a fresh process continues
// the monotonic sequence.
func New(store *filestore.Store, opts Options, logger *zap.SugaredLogger) (*Log, error) {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	l := &Log{
		store:     store,
		opts:      opts,
		log:       logger,
		stopTimer: make(chan struct{}),
	}
	if err := l.recoverSequence(); err != nil {
		return nil, err
	}
	go l.flushLoop()
	return l, nil
}

func (l *Log) recoverSequence() error {
	paths, err := l.store.ListEventSegments()
	if err != nil {
		return fmt.Errorf("eventlog: list segments: %w", err)
	}
	maxSeq := int64(-1)
	for _, p := range paths {
		var seg segment
		ok, err := l.store.ReadJSON(p, &seg)
		if err != nil {
			return fmt.Errorf("eventlog: read segment %s: %w", p, err)
		}
		if !ok {
			continue
		}
		for _, e := range seg.Events {
			if e.Sequence > maxSeq {
				maxSeq = e.Sequence
			}
		}
	}
	l.nextSeq = maxSeq + 1
	return nil
}

// Append assigns the next sequence number and buffers the event. It
// flushes synchronously when the buffer reaches FlushBufferSize.
func (l *Log) Append(eventType string, conversationID, sessionID string, payload any) (Event, error) {
	l.mu.Lock()
	ev := Event{
		ID:             l.opts.IDGen(),
		Type:           eventType,
		Timestamp:      l.opts.Now(),
		Sequence:       l.nextSeq,
		ConversationID: conversationID,
		SessionID:      sessionID,
		Payload:        payload,
	}
	l.nextSeq++
	l.buffer = append(l.buffer, ev)
	shouldFlush := len(l.buffer) >= l.opts.FlushBufferSize
	l.mu.Unlock()

	if shouldFlush {
		if err := l.Flush(); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// AppendBatch appends all events atomically: they receive consecutive
// sequence numbers and are flushed together in one segment write.
func (l *Log) AppendBatch(eventType string, conversationID, sessionID string, payloads []any) ([]Event, error) {
	l.mu.Lock()
	events := make([]Event, 0, len(payloads))
	now := l.opts.Now()
	for _, p := range payloads {
		events = append(events, Event{
			ID:             l.opts.IDGen(),
			Type:           eventType,
			Timestamp:      now,
			Sequence:       l.nextSeq,
			ConversationID: conversationID,
			SessionID:      sessionID,
			Payload:        p,
		})
		l.nextSeq++
	}
	l.buffer = append(l.buffer, events...)
	l.mu.Unlock()

	if err := l.Flush(); err != nil {
		return events, err
	}
	return events, nil
}

// Flush writes any buffered events to their segment files and clears the
// buffer. Safe to call concurrently; serialized internally.
func (l *Log) Flush() error {
	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return nil
	}
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	// Group pending events by segment (segments are bucketed by count via
	// the sequence number, segment index = seq / SegmentSize).
	bySegment := make(map[int64][]Event)
	for _, e := range pending {
		segIdx := e.Sequence / int64(l.opts.SegmentSize)
		bySegment[segIdx] = append(bySegment[segIdx], e)
	}

	segIndices := make([]int64, 0, len(bySegment))
	for idx := range bySegment {
		segIndices = append(segIndices, idx)
	}
	sort.Slice(segIndices, func(i, j int) bool { return segIndices[i] < segIndices[j] })

	for _, idx := range segIndices {
		events := bySegment[idx]
		if err := l.appendToSegment(idx, events); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) appendToSegment(segIdx int64, newEvents []Event) error {
	epoch := newEvents[0].Timestamp.UnixMilli()
	path, existing, err := l.findOrCreateSegment(segIdx, epoch)
	if err != nil {
		return err
	}
	existing.Events = append(existing.Events, newEvents...)
	if err := l.store.WriteJSON(path, existing); err != nil {
		return fmt.Errorf("eventlog: flush segment %s: %w", path, err)
	}
	return nil
}

// findOrCreateSegment locates the segment file that should hold segIdx's
// events; segment identity is by embedded epoch of its first write, so it
// scans every segment file for the one whose first event falls in segIdx.
func (l *Log) findOrCreateSegment(segIdx, epoch int64) (string, *segment, error) {
	paths, err := l.store.ListEventSegments()
	if err != nil {
		return "", nil, err
	}
	startSeq := segIdx * int64(l.opts.SegmentSize)
	for _, p := range paths {
		var seg segment
		ok, err := l.store.ReadJSON(p, &seg)
		if err != nil {
			return "", nil, err
		}
		if !ok || len(seg.Events) == 0 {
			continue
		}
		if seg.Events[0].Sequence/int64(l.opts.SegmentSize) == segIdx {
			return p, &seg, nil
		}
	}
	_ = startSeq
	path := l.store.EventSegmentPath(epoch)
	return path, &segment{path: path, epoch: epoch}, nil
}

// GetEvents scans all segments, applies filter, and returns matches sorted
// by sequence ascending.
func (l *Log) GetEvents(filter Filter) ([]Event, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}
	paths, err := l.store.ListEventSegments()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, p := range paths {
		var seg segment
		ok, err := l.store.ReadJSON(p, &seg)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, e := range seg.Events {
			if matches(e, filter) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.StartSequence != nil && e.Sequence < *f.StartSequence {
		return false
	}
	if f.EndSequence != nil && e.Sequence > *f.EndSequence {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	return true
}

// StreamEvents returns up to batchSize events matching filter plus a cursor
// for the next call (set filter.StartSequence = cursor.LastSequence+1 to
// continue).
func (l *Log) StreamEvents(filter Filter, batchSize int) ([]Event, Cursor, error) {
	filter.Limit = 0 // gather everything matching, then paginate ourselves
	all, err := l.GetEvents(filter)
	if err != nil {
		return nil, Cursor{}, err
	}
	if batchSize <= 0 || batchSize > len(all) {
		batchSize = len(all)
	}
	batch := all[:batchSize]
	cursor := Cursor{HasMore: len(all) > batchSize}
	if len(batch) > 0 {
		last := batch[len(batch)-1]
		cursor.LastSequence = last.Sequence
		cursor.LastTimestamp = last.Timestamp
	}
	return batch, cursor, nil
}

// ApplyRetention deletes any segment whose every event predates
// now-retentionDays.
func (l *Log) ApplyRetention() error {
	if err := l.Flush(); err != nil {
		return err
	}
	cutoff := l.opts.Now().AddDate(0, 0, -l.opts.RetentionDays)
	paths, err := l.store.ListEventSegments()
	if err != nil {
		return err
	}
	for _, p := range paths {
		var seg segment
		ok, err := l.store.ReadJSON(p, &seg)
		if err != nil || !ok {
			continue
		}
		allOld := len(seg.Events) > 0
		for _, e := range seg.Events {
			if !e.Timestamp.Before(cutoff) {
				allOld = false
				break
			}
		}
		if allOld {
			if err := l.store.Remove(p); err != nil {
				l.log.Warnw("eventlog: retention delete failed", "path", p, "error", err)
			}
		}
	}
	return nil
}

// WaitFor is the only timeout-bearing primitive in the engine (spec §5):
// it polls GetEvents for a matching type until one appears or timeout
// elapses.
func (l *Log) WaitFor(eventType string, timeout time.Duration) (*Event, error) {
	deadline := l.opts.Now().Add(timeout)
	pollInterval := 25 * time.Millisecond
	for {
		events, err := l.GetEvents(Filter{Types: []string{eventType}})
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return &events[len(events)-1], nil
		}
		if l.opts.Now().After(deadline) {
			return nil, fmt.Errorf("eventlog: timeout waiting for %q", eventType)
		}
		time.Sleep(pollInterval)
	}
}

// Shutdown flushes any buffered events and stops the background flush
// timer. Safe to call once.
func (l *Log) Shutdown() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()
	close(l.stopTimer)
	return l.Flush()
}

func (l *Log) flushLoop() {
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.log.Warnw("eventlog: periodic flush failed", "error", err)
			}
		case <-l.stopTimer:
			return
		}
	}
}

func defaultIDGen() string {
	return "evt-" + uuid.New().String()
}
