// Package pipeline is the concurrency core: a bounded queue drained by a
// fixed worker pool that runs the rule engine and forwards alerts to the
// persistence and publishing collaborators under explicit backpressure.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lattice-siem/internal/engine"
	"lattice-siem/internal/queue"
)

// Repository persists alerts. Failures are logged, never fatal.
type Repository interface {
	Persist(ctx context.Context, alert *engine.Alert) error
}

// Publisher publishes alerts downstream. Failures are logged, never fatal.
type Publisher interface {
	Publish(ctx context.Context, alert *engine.Alert) error
}

// Archiver optionally archives alerts for cold retention.
type Archiver interface {
	Archive(ctx context.Context, alert *engine.Alert) error
}

// Config holds the pipeline configuration.
type Config struct {
	MaxParallelism      int           `yaml:"max_parallelism"`
	ChannelCapacity     int           `yaml:"channel_capacity"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallelism:      4,
		ChannelCapacity:     1000,
		DrainTimeout:        30 * time.Second,
		CollaboratorTimeout: 10 * time.Second,
	}
}

// Pipeline fans consumed events out to a worker pool that invokes the
// rule engine and hands resulting alerts to the collaborators.
type Pipeline struct {
	config   Config
	engine   *engine.Engine
	repo     Repository
	pub      Publisher
	archiver Archiver // may be nil
	tasks    *queue.RingBuffer

	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool

	// Metrics
	processed     atomic.Uint64
	alertsFired   atomic.Uint64
	persistErrors atomic.Uint64
	publishErrors atomic.Uint64
}

// New creates a pipeline. archiver may be nil when archival is disabled.
func New(cfg Config, eng *engine.Engine, repo Repository, pub Publisher, archiver Archiver) *Pipeline {
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = DefaultConfig().MaxParallelism
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultConfig().ChannelCapacity
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = DefaultConfig().CollaboratorTimeout
	}

	return &Pipeline{
		config:   cfg,
		engine:   eng,
		repo:     repo,
		pub:      pub,
		archiver: archiver,
		tasks:    queue.NewRingBuffer(cfg.ChannelCapacity),
	}
}

// Start launches the worker pool. ctx cancellation is a hard abort
// honored at suspension points; a graceful drain goes through Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.started.Swap(true) {
		return errors.New("pipeline already started")
	}

	for i := 0; i < p.config.MaxParallelism; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	slog.Info("correlation pipeline started",
		"workers", p.config.MaxParallelism,
		"capacity", p.config.ChannelCapacity)
	return nil
}

// Enqueue pushes one consumed event onto the bounded queue. When the
// queue is full the call suspends the caller until a worker frees
// capacity: this is the backpressure transmitted to the broker consumer,
// which defers its offset commit while blocked.
func (p *Pipeline) Enqueue(ctx context.Context, task *queue.Task) error {
	return p.tasks.PushWait(ctx, task)
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		task, err := p.tasks.PopBlocking()
		if err != nil {
			return // closed and drained
		}
		if ctx.Err() != nil {
			// Hard abort: remaining tasks are counted by Stop's drain log.
			return
		}

		alerts := p.engine.Evaluate(ctx, task.Event)
		p.processed.Add(1)

		for _, alert := range alerts {
			p.alertsFired.Add(1)
			p.dispatch(alert)
			slog.Info("alert fired",
				"alert_id", alert.ID,
				"rule_id", alert.RuleID,
				"severity", alert.Severity,
				"events", alert.EventCount,
				"worker_id", id)
		}
	}
}

// dispatch hands one alert to each collaborator in order. Every call is
// best-effort: a failure is logged and the next collaborator still runs.
// Calls use a fresh timeout-bounded context so an in-flight persist or
// publish is never aborted by pipeline cancellation.
func (p *Pipeline) dispatch(alert *engine.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.CollaboratorTimeout)
	defer cancel()

	if err := p.repo.Persist(ctx, alert); err != nil {
		p.persistErrors.Add(1)
		slog.Error("failed to persist alert",
			"alert_id", alert.ID,
			"rule_id", alert.RuleID,
			"error", err)
	}

	if err := p.pub.Publish(ctx, alert); err != nil {
		p.publishErrors.Add(1)
		slog.Error("failed to publish alert",
			"alert_id", alert.ID,
			"rule_id", alert.RuleID,
			"error", err)
	}

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, alert); err != nil {
			slog.Error("failed to archive alert",
				"alert_id", alert.ID,
				"rule_id", alert.RuleID,
				"error", err)
		}
	}
}

// Stop closes the queue for further writes and waits, bounded by the
// drain timeout, for the workers to process what is already queued.
// Items that cannot be drained in time are abandoned with a warning.
func (p *Pipeline) Stop() {
	if p.stopped.Swap(true) {
		return
	}

	p.tasks.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("correlation pipeline drained",
			"processed", p.processed.Load(),
			"alerts", p.alertsFired.Load())
	case <-time.After(p.config.DrainTimeout):
		slog.Warn("pipeline drain timed out, abandoning queued items",
			"abandoned", p.tasks.Len(),
			"drain_timeout", p.config.DrainTimeout)
	}
}

// Metrics returns pipeline statistics.
func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		Processed:     p.processed.Load(),
		AlertsFired:   p.alertsFired.Load(),
		PersistErrors: p.persistErrors.Load(),
		PublishErrors: p.publishErrors.Load(),
		QueueDepth:    p.tasks.Len(),
	}
}

// Metrics holds pipeline statistics.
type Metrics struct {
	Processed     uint64 `json:"processed"`
	AlertsFired   uint64 `json:"alerts_fired"`
	PersistErrors uint64 `json:"persist_errors"`
	PublishErrors uint64 `json:"publish_errors"`
	QueueDepth    int    `json:"queue_depth"`
}
