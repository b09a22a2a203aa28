package eventpublisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	fail    bool
}

func (s *recordingSink) Publish(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	cp := make([]Event, len(events))
	copy(cp, events)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestPublisher_FlushesOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, Config{BatchSize: 2, FlushInterval: time.Hour}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Close()

	p.Emit(CacheHit("a", "widgets"))
	p.Emit(CacheHit("b", "widgets"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected flush on reaching batch size, got %d events", sink.count())
}

func TestPublisher_FlushesOnInterval(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Close()

	p.Emit(CacheMiss("a", "widgets", MissNotFound))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected interval flush")
}

func TestPublisher_FlushesRemainingOnClose(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, Config{BatchSize: 100, FlushInterval: time.Hour}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Emit(CacheExpired("a", "widgets", ExpiryCleanup))
	p.Close()

	if sink.count() != 1 {
		t.Fatalf("expected remaining event flushed on close, got %d", sink.count())
	}
}

func TestPublisher_TracksMetrics(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, Config{BatchSize: 1, FlushInterval: time.Hour}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Close()

	p.Emit(CacheHit("a", "widgets"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.GetMetrics().TotalSucceeded == 1 {
			m := p.GetMetrics()
			if m.SuccessRate() != 1 {
				t.Errorf("SuccessRate() = %v, want 1", m.SuccessRate())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("metrics never reflected the successful flush")
}

func TestPublisher_RecordsFailures(t *testing.T) {
	sink := &recordingSink{fail: true}
	p := New(sink, Config{BatchSize: 1, FlushInterval: time.Hour}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Close()

	p.Emit(CacheInvalidated("a", "widgets", InvalidationManual))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m := p.GetMetrics()
		if m.TotalFailed == 1 {
			if m.LastError == "" {
				t.Error("expected LastError to be set")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected failure to be recorded")
}
