package audit

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestLog_DropsWhenFull(t *testing.T) {
	w := NewWriter(nil, slog.Default())
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{Namespace: "ns", Key: "k", Operation: "SET"})
	}

	// The next log should be dropped (non-blocking), not deadlock.
	w.Log(Entry{Namespace: "ns", Key: "overflow", Operation: "SET"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLog_StampsOccurredAtWhenZero(t *testing.T) {
	w := NewWriter(nil, slog.Default())

	w.Log(Entry{Namespace: "ns", Key: "k", Operation: "DELETE"})

	entry := <-w.entries
	if entry.OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be stamped when not provided")
	}
	if entry.Operation != "DELETE" {
		t.Errorf("Operation = %q, want DELETE", entry.Operation)
	}
}

func TestLog_PreservesExplicitOccurredAt(t *testing.T) {
	w := NewWriter(nil, slog.Default())

	want, err := time.Parse(time.RFC3339, "2026-01-15T10:00:00Z")
	if err != nil {
		t.Fatalf("parsing fixture time: %v", err)
	}
	w.Log(Entry{Namespace: "ns", Key: "k", Operation: "INVALIDATE", OccurredAt: want})

	entry := <-w.entries
	if !entry.OccurredAt.Equal(want) {
		t.Errorf("OccurredAt = %v, want %v", entry.OccurredAt, want)
	}
}

func TestClose_FlushesAndReturnsWithEmptyPool(t *testing.T) {
	// With a nil pool and an empty channel, Close must not attempt a flush
	// (which would nil-deref the pool) and must return promptly.
	w := NewWriter(nil, slog.Default())
	w.Start(context.Background())
	w.Close()
}
