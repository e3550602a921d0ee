package watcher

import "time"

// Batcher accumulates events from a Watcher until either MaxSize events
// have queued up or an event arrives at least Interval after the first
// unflushed one, then emits them together. Readiness is only evaluated in
// Add; the Batcher has no timer of its own, so pending events wait until
// the next Add or until the caller calls Flush.
type Batcher struct {
	MaxSize  int
	Interval time.Duration

	buf       []Event
	deadline  time.Time
	hasFirst  bool
}

// NewBatcher creates a Batcher with the given limits. A non-positive
// maxSize falls back to 1, so every Add reports ready; a non-positive
// interval falls back to one millisecond.
func NewBatcher(maxSize int, interval time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = 1
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Batcher{MaxSize: maxSize, Interval: interval}
}

// Add appends ev to the pending batch and reports whether the batch should
// now be flushed (either it reached MaxSize, or the interval since the
// first pending event has elapsed).
func (b *Batcher) Add(ev Event) (ready bool) {
	if !b.hasFirst {
		b.hasFirst = true
		b.deadline = ev.Timestamp.Add(b.Interval)
	}
	b.buf = append(b.buf, ev)

	if len(b.buf) >= b.MaxSize {
		return true
	}
	return ev.Timestamp.After(b.deadline) || ev.Timestamp.Equal(b.deadline)
}

// Flush returns and clears the pending batch.
func (b *Batcher) Flush() []Event {
	out := b.buf
	b.buf = nil
	b.hasFirst = false
	return out
}

// Len reports how many events are currently pending.
func (b *Batcher) Len() int { return len(b.buf) }
