package eventpublisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink delivers a batch of events to some downstream (logs, a message
// broker, Slack, etc). A sink error fails the whole batch's accounting as
// failures.
type Sink interface {
	Publish(ctx context.Context, events []Event) error
}

// Config governs batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	return c
}

// Metrics is a snapshot of publisher health.
type Metrics struct {
	TotalPublished int64
	TotalSucceeded int64
	TotalFailed    int64
	CurrentBatch   int
	LastPublish    time.Time
	LastError      string
}

func (m Metrics) SuccessRate() float64 {
	if m.TotalPublished == 0 {
		return 0
	}
	return float64(m.TotalSucceeded) / float64(m.TotalPublished)
}

func (m Metrics) FailureRate() float64 {
	if m.TotalPublished == 0 {
		return 0
	}
	return float64(m.TotalFailed) / float64(m.TotalPublished)
}

// Publisher batches events and flushes them to a Sink: it holds up to
// batch_size events or until flush_interval elapses, then forwards all to
// the sink, accounting total/success/failure.
type Publisher struct {
	sink   Sink
	cfg    Config
	logger *slog.Logger

	publishedCounter prometheus.Counter
	failedCounter    prometheus.Counter

	mu             sync.Mutex
	buffer         []Event
	totalPublished int64
	totalSucceeded int64
	totalFailed    int64
	lastPublish    time.Time
	lastError      string

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// New constructs a Publisher. publishedCounter/failedCounter may be nil.
func New(sink Sink, cfg Config, publishedCounter, failedCounter prometheus.Counter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sink:             sink,
		cfg:              cfg.withDefaults(),
		logger:           logger,
		publishedCounter: publishedCounter,
		failedCounter:    failedCounter,
		flushCh:          make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Emit appends an event to the current batch, triggering an immediate
// flush if the batch reached batch_size.
func (p *Publisher) Emit(e Event) {
	p.mu.Lock()
	p.buffer = append(p.buffer, e)
	full := len(p.buffer) >= p.cfg.BatchSize
	p.mu.Unlock()

	if full {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run starts the flush loop; it blocks until ctx is cancelled or Close is
// called, flushing any remaining events before returning.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background())
			return
		case <-p.stopCh:
			p.flush(context.Background())
			return
		case <-ticker.C:
			p.flush(ctx)
		case <-p.flushCh:
			p.flush(ctx)
		}
	}
}

// Close stops the flush loop, flushing any remaining events, and joins it.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	err := p.sink.Publish(ctx, batch)

	p.mu.Lock()
	p.totalPublished += int64(len(batch))
	p.lastPublish = time.Now()
	if err != nil {
		p.totalFailed += int64(len(batch))
		p.lastError = err.Error()
	} else {
		p.totalSucceeded += int64(len(batch))
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("eventpublisher: sink flush failed", "batch_size", len(batch), "error", err)
		if p.failedCounter != nil {
			p.failedCounter.Add(float64(len(batch)))
		}
		return
	}
	if p.publishedCounter != nil {
		p.publishedCounter.Add(float64(len(batch)))
	}
}

// GetMetrics returns a point-in-time snapshot.
func (p *Publisher) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Metrics{
		TotalPublished: p.totalPublished,
		TotalSucceeded: p.totalSucceeded,
		TotalFailed:    p.totalFailed,
		CurrentBatch:   len(p.buffer),
		LastPublish:    p.lastPublish,
		LastError:      p.lastError,
	}
}
