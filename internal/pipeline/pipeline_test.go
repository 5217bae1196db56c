package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"lattice-siem/internal/engine"
	"lattice-siem/internal/queue"
	"lattice-siem/internal/rules"
	"lattice-siem/internal/schema"
	"lattice-siem/internal/windows"
)

type staticRules []*rules.Rule

func (s staticRules) Rules() []*rules.Rule { return s }

// recordingSink records alerts handed to a collaborator.
type recordingSink struct {
	mu     sync.Mutex
	alerts []*engine.Alert
	err    error
}

func (r *recordingSink) record(alert *engine.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type recordingRepo struct{ recordingSink }

func (r *recordingRepo) Persist(_ context.Context, alert *engine.Alert) error {
	return r.record(alert)
}

type recordingPublisher struct{ recordingSink }

func (r *recordingPublisher) Publish(_ context.Context, alert *engine.Alert) error {
	return r.record(alert)
}

type recordingArchiver struct{ recordingSink }

func (r *recordingArchiver) Archive(_ context.Context, alert *engine.Alert) error {
	return r.record(alert)
}

func matchEverything(id string) *rules.Rule {
	return &rules.Rule{
		ID:       id,
		Name:     "Match everything",
		Enabled:  true,
		Severity: rules.SeverityLow,
		Triggers: []rules.Trigger{{}},
	}
}

func testEvent() *schema.Event {
	return &schema.Event{
		EventID:    uuid.New(),
		Timestamp:  time.Now(),
		SourceType: "test",
		EventType:  "auth.failure",
	}
}

func newTestPipeline(t *testing.T, repo Repository, pub Publisher, archiver Archiver) *Pipeline {
	t.Helper()
	store := windows.NewMemoryStore(0, 2)
	t.Cleanup(func() { store.Close() })

	eng := engine.New(staticRules{matchEverything("r1")}, store)
	return New(Config{
		MaxParallelism:      2,
		ChannelCapacity:     16,
		DrainTimeout:        2 * time.Second,
		CollaboratorTimeout: time.Second,
	}, eng, repo, pub, archiver)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipelineDispatchesAlerts(t *testing.T) {
	repo := &recordingRepo{}
	pub := &recordingPublisher{}
	arch := &recordingArchiver{}

	p := newTestPipeline(t, repo, pub, arch)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := p.Enqueue(context.Background(), &queue.Task{Event: testEvent()}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	p.Stop()

	if repo.count() != 3 {
		t.Errorf("persisted %d alerts, want 3", repo.count())
	}
	if pub.count() != 3 {
		t.Errorf("published %d alerts, want 3", pub.count())
	}
	if arch.count() != 3 {
		t.Errorf("archived %d alerts, want 3", arch.count())
	}

	m := p.Metrics()
	if m.Processed != 3 || m.AlertsFired != 3 {
		t.Errorf("metrics = %+v, want 3 processed and fired", m)
	}
}

func TestPipelinePersistFailureStillPublishes(t *testing.T) {
	repo := &recordingRepo{}
	repo.err = errors.New("clickhouse down")
	pub := &recordingPublisher{}

	p := newTestPipeline(t, repo, pub, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := p.Enqueue(context.Background(), &queue.Task{Event: testEvent()}); err != nil {
		t.Fatal(err)
	}
	p.Stop()

	if pub.count() != 1 {
		t.Errorf("published %d alerts, want 1 despite persist failure", pub.count())
	}

	m := p.Metrics()
	if m.PersistErrors != 1 {
		t.Errorf("PersistErrors = %d, want 1", m.PersistErrors)
	}
	if m.PublishErrors != 0 {
		t.Errorf("PublishErrors = %d, want 0", m.PublishErrors)
	}
}

func TestPipelinePublishFailureIsNonFatal(t *testing.T) {
	repo := &recordingRepo{}
	pub := &recordingPublisher{}
	pub.err = errors.New("broker down")

	p := newTestPipeline(t, repo, pub, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := p.Enqueue(context.Background(), &queue.Task{Event: testEvent()}); err != nil {
			t.Fatal(err)
		}
	}
	p.Stop()

	if repo.count() != 2 {
		t.Errorf("persisted %d alerts, want 2", repo.count())
	}
	if m := p.Metrics(); m.PublishErrors != 2 {
		t.Errorf("PublishErrors = %d, want 2", m.PublishErrors)
	}
}

func TestPipelineStopDrainsQueue(t *testing.T) {
	repo := &recordingRepo{}
	pub := &recordingPublisher{}

	p := newTestPipeline(t, repo, pub, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	const n = 10
	for i := 0; i < n; i++ {
		if err := p.Enqueue(context.Background(), &queue.Task{Event: testEvent()}); err != nil {
			t.Fatal(err)
		}
	}

	p.Stop()

	if got := p.Metrics().Processed; got != n {
		t.Errorf("processed %d events, want %d (queued work drained on Stop)", got, n)
	}
}

func TestPipelineEnqueueBackpressure(t *testing.T) {
	repo := &recordingRepo{}
	pub := &recordingPublisher{}

	store := windows.NewMemoryStore(0, 2)
	t.Cleanup(func() { store.Close() })
	eng := engine.New(staticRules{matchEverything("r1")}, store)

	// A single-slot queue with no workers running: the second enqueue
	// must block until a worker starts draining.
	p := New(Config{
		MaxParallelism:      1,
		ChannelCapacity:     1,
		DrainTimeout:        2 * time.Second,
		CollaboratorTimeout: time.Second,
	}, eng, repo, pub, nil)

	if err := p.Enqueue(context.Background(), &queue.Task{Event: testEvent()}); err != nil {
		t.Fatal(err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- p.Enqueue(context.Background(), &queue.Task{Event: testEvent()})
	}()

	select {
	case err := <-blocked:
		t.Fatalf("Enqueue returned %v while queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("Enqueue error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue still blocked after workers started draining")
	}

	waitFor(t, func() bool { return pub.count() == 2 }, "alerts not dispatched")
	p.Stop()
}

func TestPipelineStartTwice(t *testing.T) {
	p := newTestPipeline(t, &recordingRepo{}, &recordingPublisher{}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); err == nil {
		t.Error("second Start() did not error")
	}
}

func TestPipelineStopIdempotent(t *testing.T) {
	p := newTestPipeline(t, &recordingRepo{}, &recordingPublisher{}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Stop()
	p.Stop() // must not panic or block
}
