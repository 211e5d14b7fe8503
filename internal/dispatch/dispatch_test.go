package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/metrics"
)

// memList mimics LPUSH/BRPOP on one process-local list.
type memList struct {
	mu    sync.Mutex
	items []string
}

func (l *memList) Push(ctx context.Context, key string, values ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range values {
		var s string
		switch v := v.(type) {
		case []byte:
			s = string(v)
		case string:
			s = v
		}
		l.items = append([]string{s}, l.items...)
	}
	return nil
}

func (l *memList) Pop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	l.mu.Lock()
	if n := len(l.items); n > 0 {
		v := l.items[n-1]
		l.items = l.items[:n-1]
		l.mu.Unlock()
		return v, true, nil
	}
	l.mu.Unlock()
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-time.After(timeout):
		return "", false, nil
	}
}

type recordingProcessor struct {
	mu    sync.Mutex
	jobs  []string
	delay time.Duration
	err   error
}

func (p *recordingProcessor) ProcessJob(ctx context.Context, jobID string) (*transcript.Job, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.jobs = append(p.jobs, jobID)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &transcript.Job{JobID: jobID, Status: transcript.StatusDone}, nil
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.jobs...)
}

type memLocker struct {
	mu     sync.Mutex
	held   map[string]string
	events []string
}

func (l *memLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = owner
	l.events = append(l.events, "acquire "+key)
	return true, nil
}

func (l *memLocker) Release(ctx context.Context, key, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != owner {
		return false, nil
	}
	delete(l.held, key)
	l.events = append(l.events, "release "+key)
	return true, nil
}

func TestRedisQueueIsFIFO(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	q := NewRedisQueue(&memList{}, "jobs", 10*time.Millisecond, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var got []string
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(ctx context.Context, task Task) error {
			got = append(got, task.JobID)
			if len(got) == 3 {
				cancel()
			}
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("order = %v", got)
	}
	if v := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("enqueue", "ok")); v != 3 {
		t.Errorf("dispatch_total{enqueue,ok} = %v", v)
	}
}

func TestRedisQueueDropsMalformedTask(t *testing.T) {
	list := &memList{}
	list.Push(context.Background(), "jobs", "not json")
	q := NewRedisQueue(list, "jobs", 10*time.Millisecond, nil)
	q.Enqueue(context.Background(), "good")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []string
	q.Run(ctx, func(ctx context.Context, task Task) error {
		got = append(got, task.JobID)
		cancel()
		return nil
	})
	if len(got) != 1 || got[0] != "good" {
		t.Errorf("handled %v", got)
	}
}

func TestWorkerProcessesQueuedJobs(t *testing.T) {
	list := &memList{}
	q := NewRedisQueue(list, "jobs", 10*time.Millisecond, nil)
	for _, id := range []string{"j1", "j2", "j3", "j4"} {
		q.Enqueue(context.Background(), id)
	}
	proc := &recordingProcessor{}
	locker := &memLocker{}
	w := NewWorker(q, proc, locker, config.WorkerConfig{Concurrency: 2, LeaseTTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(proc.seen()) < 4 {
		select {
		case <-deadline:
			t.Fatalf("processed %v", proc.seen())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if len(locker.held) != 0 {
		t.Errorf("leases left held: %v", locker.held)
	}
}

func TestWorkerSkipsLeasedJob(t *testing.T) {
	proc := &recordingProcessor{}
	locker := &memLocker{held: map[string]string{leaseKeyPrefix + "busy": "other-worker"}}
	w := NewWorker(nil, proc, locker, config.WorkerConfig{LeaseTTL: time.Minute})

	if err := w.Handle(context.Background(), Task{JobID: "busy"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(proc.seen()) != 0 {
		t.Error("leased job was processed")
	}
	if locker.held[leaseKeyPrefix+"busy"] != "other-worker" {
		t.Error("foreign lease was released")
	}
}

func TestWorkerJobTimeout(t *testing.T) {
	proc := &recordingProcessor{delay: time.Second}
	w := NewWorker(nil, proc, nil, config.WorkerConfig{JobTimeout: 20 * time.Millisecond})
	err := w.Handle(context.Background(), Task{JobID: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestWorkerReleasesLeaseOnFailure(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("boom")}
	locker := &memLocker{}
	w := NewWorker(nil, proc, locker, config.WorkerConfig{LeaseTTL: time.Minute})
	if err := w.Handle(context.Background(), Task{JobID: "x"}); err == nil {
		t.Fatal("expected the processor error")
	}
	if _, ok := locker.held[leaseKeyPrefix+"x"]; ok {
		t.Error("lease not released")
	}
}

type processorFunc func(ctx context.Context, jobID string) (*transcript.Job, error)

func (f processorFunc) ProcessJob(ctx context.Context, jobID string) (*transcript.Job, error) {
	return f(ctx, jobID)
}

func TestWorkerKeepsLeaseTakenOverBySibling(t *testing.T) {
	locker := &memLocker{}
	key := leaseKeyPrefix + "x"
	var calls atomic.Int32
	finishSibling := make(chan struct{})
	siblingDone := make(chan error, 1)

	var w *Worker
	w = NewWorker(nil, processorFunc(func(ctx context.Context, jobID string) (*transcript.Job, error) {
		if calls.Add(1) > 1 {
			<-finishSibling
			return &transcript.Job{JobID: jobID}, nil
		}
		// The lease lapses and another goroutine of the same worker takes the job.
		locker.mu.Lock()
		delete(locker.held, key)
		locker.mu.Unlock()
		go func() { siblingDone <- w.Handle(context.Background(), Task{JobID: jobID}) }()
		for calls.Load() < 2 {
			time.Sleep(time.Millisecond)
		}
		return &transcript.Job{JobID: jobID}, nil
	}), locker, config.WorkerConfig{LeaseTTL: time.Minute})

	if err := w.Handle(context.Background(), Task{JobID: "x"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	locker.mu.Lock()
	_, held := locker.held[key]
	locker.mu.Unlock()
	if !held {
		t.Fatal("first call released the lease its sibling holds")
	}

	close(finishSibling)
	if err := <-siblingDone; err != nil {
		t.Fatalf("sibling Handle: %v", err)
	}
	if _, ok := locker.held[key]; ok {
		t.Error("sibling did not release its lease")
	}
}

func TestInlineRunsDetachedFromRequest(t *testing.T) {
	proc := &recordingProcessor{delay: 20 * time.Millisecond}
	d := NewInline(proc, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Enqueue(ctx, "j1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	cancel()
	d.Close()
	if got := proc.seen(); len(got) != 1 || got[0] != "j1" {
		t.Errorf("processed %v", got)
	}
}

type fakePublisher struct {
	events []kafka.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, e kafka.Event) error {
	p.events = append(p.events, e)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func TestKafkaDispatcherKeysByJob(t *testing.T) {
	pub := &fakePublisher{}
	d := NewKafkaDispatcher(pub, nil)
	if err := d.Enqueue(context.Background(), "job-7"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Key != "job-7" {
		t.Fatalf("events = %+v", pub.events)
	}
	if task := pub.events[0].Value.(Task); task.JobID != "job-7" {
		t.Errorf("task = %+v", task)
	}

	pub.err = errors.New("broker down")
	if err := d.Enqueue(context.Background(), "job-8"); err == nil {
		t.Error("expected publish error")
	}
}

func TestKafkaSourceMessageHandler(t *testing.T) {
	s := NewKafkaSource(config.KafkaConfig{}, nil)
	var got Task
	h := s.messageHandler(func(ctx context.Context, task Task) error {
		got = task
		return nil
	})

	raw, _ := json.Marshal(Task{JobID: "k1"})
	if err := h(context.Background(), []byte("k1"), raw); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.JobID != "k1" {
		t.Errorf("task = %+v", got)
	}
	if err := h(context.Background(), []byte("k2"), []byte("{")); !errors.Is(err, kafka.ErrSkip) {
		t.Errorf("malformed task: err = %v, want ErrSkip", err)
	}
}
