package watcher

import (
	"testing"
	"time"
)

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	b := NewBatcher(2, time.Hour)
	now := time.Now()

	if ready := b.Add(Event{Path: "a", Timestamp: now}); ready {
		t.Fatal("Add() ready = true after first event, want false")
	}
	if ready := b.Add(Event{Path: "b", Timestamp: now}); !ready {
		t.Fatal("Add() ready = false at MaxSize, want true")
	}

	batch := b.Flush()
	if len(batch) != 2 {
		t.Errorf("Flush() returned %d events, want 2", len(batch))
	}
	if b.Len() != 0 {
		t.Errorf("Len() after Flush() = %d, want 0", b.Len())
	}
}

func TestBatcherFlushesAtInterval(t *testing.T) {
	b := NewBatcher(100, 10*time.Millisecond)
	start := time.Now()

	if ready := b.Add(Event{Path: "a", Timestamp: start}); ready {
		t.Fatal("Add() ready = true immediately, want false")
	}
	later := start.Add(20 * time.Millisecond)
	if ready := b.Add(Event{Path: "b", Timestamp: later}); !ready {
		t.Fatal("Add() ready = false after interval elapsed, want true")
	}
}
