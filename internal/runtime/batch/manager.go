package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/policy"
	"github.com/tiger/intersection-signal-sim/internal/runtime/simulation"
)

var (
	// ErrJobIDRequired is returned when a job is missing an ID.
	ErrJobIDRequired = errors.New("job id is required")
	// ErrPolicyFactoryRequired is returned when a job cannot build its policy.
	ErrPolicyFactoryRequired = errors.New("job policy factory is required")
	// ErrClosed indicates the manager no longer accepts submissions.
	ErrClosed = errors.New("batch manager is closed")
	// ErrQueueFull indicates the submission queue is saturated.
	ErrQueueFull = errors.New("batch queue is full")
)

// PolicyFactory builds a fresh policy for one run. Policies carry state
// (cycle position, decision memory) and are never shared between runs.
type PolicyFactory func() (policy.Policy, error)

// Job is one independent scenario run.
type Job struct {
	ID        string
	Scenario  scenario.Scenario
	NewPolicy PolicyFactory
	Config    simulation.Config
}

// Outcome is the result or failure of one job.
type Outcome struct {
	JobID   string
	Result  simulation.Result
	Err     error
	Elapsed time.Duration
	seq     int64
}

// Config sizes the worker pool.
type Config struct {
	Workers       int
	QueueCapacity int
	// OnOutcome, when set, is called from the worker goroutine after each job.
	OnOutcome func(Outcome)
	Now       func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 64
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Stats reports manager counters.
type Stats struct {
	Submitted  int64
	Completed  int64
	Failed     int64
	Rejected   int64
	InFlight   int64
	QueueDepth int64
}

type queued struct {
	job Job
	seq int64
}

// Manager runs jobs on a bounded queue with a fixed worker count. Each run
// owns its simulator; workers share nothing but the outcome list.
type Manager struct {
	ctx   context.Context
	cfg   Config
	queue chan queued
	wg    sync.WaitGroup

	seq       atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	inFlight  atomic.Int64
	closed    atomic.Bool

	mu       sync.Mutex
	outcomes []Outcome
}

// NewManager starts cfg.Workers workers. Runs use ctx for policy calls.
func NewManager(ctx context.Context, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		ctx:   ctx,
		cfg:   cfg,
		queue: make(chan queued, cfg.QueueCapacity),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Submit enqueues a job or returns an error when saturated or closed.
func (m *Manager) Submit(job Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return ErrJobIDRequired
	}
	if job.NewPolicy == nil {
		return ErrPolicyFactoryRequired
	}
	if m.closed.Load() {
		m.rejected.Add(1)
		return ErrClosed
	}
	select {
	case m.queue <- queued{job: job, seq: m.seq.Add(1)}:
		m.submitted.Add(1)
		return nil
	default:
		m.rejected.Add(1)
		return fmt.Errorf("%w: job %s", ErrQueueFull, job.ID)
	}
}

// Drain waits until queued and in-flight jobs finish, then stops the workers.
func (m *Manager) Drain(ctx context.Context) error {
	for {
		if len(m.queue) == 0 && m.inFlight.Load() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	if m.closed.CompareAndSwap(false, true) {
		close(m.queue)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Outcomes returns finished jobs in submission order.
func (m *Manager) Outcomes() []Outcome {
	m.mu.Lock()
	out := make([]Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Stats returns a snapshot of manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Submitted:  m.submitted.Load(),
		Completed:  m.completed.Load(),
		Failed:     m.failed.Load(),
		Rejected:   m.rejected.Load(),
		InFlight:   m.inFlight.Load(),
		QueueDepth: int64(len(m.queue)),
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for q := range m.queue {
		m.inFlight.Add(1)
		outcome := m.execute(q)
		m.mu.Lock()
		m.outcomes = append(m.outcomes, outcome)
		m.mu.Unlock()
		if outcome.Err != nil {
			m.failed.Add(1)
		}
		m.completed.Add(1)
		if m.cfg.OnOutcome != nil {
			m.cfg.OnOutcome(outcome)
		}
		m.inFlight.Add(-1)
	}
}

func (m *Manager) execute(q queued) Outcome {
	started := m.cfg.Now()
	outcome := Outcome{JobID: q.job.ID, seq: q.seq}

	p, err := q.job.NewPolicy()
	if err != nil {
		outcome.Err = fmt.Errorf("job %s: build policy: %w", q.job.ID, err)
		outcome.Elapsed = m.cfg.Now().Sub(started)
		return outcome
	}
	cfg := q.job.Config
	if cfg.ScenarioName == "" {
		cfg.ScenarioName = q.job.ID
	}
	sim, err := simulation.New(q.job.Scenario, p, cfg)
	if err != nil {
		outcome.Err = fmt.Errorf("job %s: %w", q.job.ID, err)
		outcome.Elapsed = m.cfg.Now().Sub(started)
		return outcome
	}
	outcome.Result, outcome.Err = sim.Run(m.ctx)
	outcome.Elapsed = m.cfg.Now().Sub(started)
	return outcome
}

// RunAll runs jobs with the given worker count and returns outcomes in job
// order. The queue is sized to hold every job.
func RunAll(ctx context.Context, workers int, jobs []Job) ([]Outcome, error) {
	m := NewManager(ctx, Config{Workers: workers, QueueCapacity: len(jobs)})
	for _, job := range jobs {
		if err := m.Submit(job); err != nil {
			_ = m.Drain(ctx)
			return m.Outcomes(), err
		}
	}
	if err := m.Drain(ctx); err != nil {
		return m.Outcomes(), err
	}
	return m.Outcomes(), nil
}
