package eventlog

import (
	"sync"
	"time"

	"auctionwatch/internal/model"
)

// DefaultRetention bounds how long inferred sale events are kept.
const DefaultRetention = 72 * time.Hour

// Log is the append-only, time-bounded store of inferred sale events. Append
// is the sole mutator; both feed loops share one Log, so every access goes
// through the mutex. Readers get copies and never observe a half-applied
// append.
type Log struct {
	mu        sync.RWMutex
	events    []model.SalesEvent
	version   uint64
	retention time.Duration

	now func() time.Time
}

// New creates a log with the given retention horizon. Zero uses the default.
func New(retention time.Duration) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{
		retention: retention,
		now:       time.Now,
	}
}

// Append pushes a batch of events, prunes everything past the retention
// horizon, and bumps the version iff at least one event was actually added.
// Empty batches still prune but never change the version, so the stats cache
// is not invalidated by no-op diff cycles. Returns the number appended.
func (l *Log) Append(events []model.SalesEvent) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	appended := 0
	for _, ev := range events {
		if ev.Quantity <= 0 {
			continue
		}
		l.events = append(l.events, ev)
		appended++
	}

	l.prune()

	if appended > 0 {
		l.version++
	}
	return appended
}

// Restore seeds the log from persisted events at startup. Counts as one
// mutation when anything usable survives the retention filter.
func (l *Log) Restore(events []model.SalesEvent) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.retention).Unix()
	kept := 0
	for _, ev := range events {
		if ev.Quantity > 0 && ev.T >= cutoff {
			l.events = append(l.events, ev)
			kept++
		}
	}
	if kept > 0 {
		l.version++
	}
	return kept
}

// prune drops events older than the retention horizon. Caller holds the lock.
func (l *Log) prune() {
	cutoff := l.now().Add(-l.retention).Unix()

	// Events arrive in near time order, so find the first survivor from the
	// front instead of filtering the whole slice.
	idx := 0
	for idx < len(l.events) && l.events[idx].T < cutoff {
		idx++
	}
	if idx > 0 {
		l.events = append([]model.SalesEvent(nil), l.events[idx:]...)
	}
}

// Version returns the mutation counter.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Query returns a copy of all events with T >= since (epoch seconds).
func (l *Log) Query(since int64) []model.SalesEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.SalesEvent, 0, len(l.events))
	for _, ev := range l.events {
		if ev.T >= since {
			out = append(out, ev)
		}
	}
	return out
}

// Recent returns the most recent limit events, newest last.
func (l *Log) Recent(limit int) []model.SalesEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]model.SalesEvent, limit)
	copy(out, l.events[len(l.events)-limit:])
	return out
}

// Aggregate sums quantity and occurrence count per item for events inside the
// window. Safe to call concurrently with Append.
func (l *Log) Aggregate(windowHours int) map[int32]model.ItemTotals {
	cutoff := l.now().Add(-time.Duration(windowHours) * time.Hour).Unix()

	l.mu.RLock()
	defer l.mu.RUnlock()

	totals := make(map[int32]model.ItemTotals)
	for _, ev := range l.events {
		if ev.T < cutoff {
			continue
		}
		t := totals[ev.ItemID]
		t.Quantity += int64(ev.Quantity)
		t.Count++
		totals[ev.ItemID] = t
	}
	return totals
}
