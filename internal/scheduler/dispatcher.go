package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alshifa-health/clinic-appointments/internal/observability/metrics"
	"github.com/alshifa-health/clinic-appointments/internal/timeutil"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// DefaultWorkers is the number of concurrent job slots when none is configured.
const DefaultWorkers = 4

// Handler executes one job. The payload is the raw JSON stored with the job.
type Handler func(ctx context.Context, payload []byte) error

// JobStore is the persistence surface the dispatcher runs against.
type JobStore interface {
	Arm(ctx context.Context, kind Kind, key string, fireAt time.Time, payload []byte) (int64, error)
	EnsureRecurring(ctx context.Context, kind Kind, cronExpr string, fireAt time.Time) (int64, bool, error)
	Claim(ctx context.Context, id int64, now time.Time) (*Job, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	Rearm(ctx context.Context, id int64, next time.Time, lastError string) error
	Reschedule(ctx context.Context, id int64, next time.Time) error
	FailMissed(ctx context.Context, cutoff time.Time) (int64, error)
	ListPending(ctx context.Context) ([]Job, error)
	Cancel(ctx context.Context, kind Kind, key string) error
	CancelPrefix(ctx context.Context, kind Kind, prefix string) (int64, error)
}

var _ JobStore = (*Store)(nil)

// entry is one armed timer in the in-memory heap. Entries can go stale when
// a job is cancelled or re-armed; Claim filters those out at fire time.
type entry struct {
	fireAt time.Time
	seq    uint64
	id     int64
	kind   Kind
}

// entryHeap orders by fire time, FIFO on ties.
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent job slots.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.slots = make(chan struct{}, n)
		}
	}
}

// WithMetrics attaches execution counters.
func WithMetrics(m *metrics.SchedulerMetrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher drives durable jobs to their handlers. A single goroutine owns
// the fire-time heap and hands due entries to a bounded worker pool; each
// worker claims its row with a status CAS so a job runs at most once no
// matter how many stale heap entries point at it.
type Dispatcher struct {
	store   JobStore
	clock   *timeutil.Clock
	logger  *logging.Logger
	metrics *metrics.SchedulerMetrics

	mu   sync.Mutex
	heap entryHeap
	seq  uint64

	// handlers is written by Register before Run starts and read-only after.
	handlers map[Kind]Handler

	wake  chan struct{}
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewDispatcher builds a dispatcher over the given store. Register handlers
// for every kind before calling Run.
func NewDispatcher(store JobStore, clock *timeutil.Clock, logger *logging.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		store:    store,
		clock:    clock,
		logger:   logger,
		handlers: make(map[Kind]Handler),
		wake:     make(chan struct{}, 1),
		slots:    make(chan struct{}, DefaultWorkers),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a handler to a job kind. Must be called before Run.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// ArmAt durably schedules (or re-arms) the (kind, key) job for fireAt. The
// payload is marshalled to JSON and handed back to the handler verbatim. A
// fire time already in the past dispatches on the next loop iteration.
func (d *Dispatcher) ArmAt(ctx context.Context, kind Kind, key string, fireAt time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("scheduler: marshal payload for %s %s: %w", kind, key, err)
	}
	id, err := d.store.Arm(ctx, kind, key, fireAt, data)
	if err != nil {
		return err
	}
	d.push(kind, fireAt, id)
	return nil
}

// Cancel drops the pending (kind, key) job. Best-effort: an already claimed
// job keeps running, and handlers re-check their preconditions.
func (d *Dispatcher) Cancel(ctx context.Context, kind Kind, key string) error {
	return d.store.Cancel(ctx, kind, key)
}

// CancelPrefix drops every pending job of the kind whose key starts with
// prefix. Stale heap entries are skipped at claim time.
func (d *Dispatcher) CancelPrefix(ctx context.Context, kind Kind, prefix string) (int64, error) {
	return d.store.CancelPrefix(ctx, kind, prefix)
}

// EnsureRecurringJobs inserts the singleton rows for the periodic demand
// jobs if they do not exist yet. Existing rows keep their fire time and are
// rehydrated by OnBoot.
func (d *Dispatcher) EnsureRecurringJobs(ctx context.Context) error {
	now := d.clock.Now()
	recurring := []struct {
		kind Kind
		expr string
	}{
		{KindMonthEndLearn, CronMonthEndLearn},
		{KindMonthlyRecalc, CronMonthlyRecalc},
		{KindHourlyMaintenance, CronHourlyMaintenance},
	}
	for _, rc := range recurring {
		sched, err := cron.ParseStandard(rc.expr)
		if err != nil {
			return fmt.Errorf("scheduler: parse cron %q for %s: %w", rc.expr, rc.kind, err)
		}
		fireAt := sched.Next(now)
		id, inserted, err := d.store.EnsureRecurring(ctx, rc.kind, rc.expr, fireAt)
		if err != nil {
			return err
		}
		if inserted {
			d.logger.Info("scheduler: recurring job created", "kind", rc.kind, "job_id", id)
			d.push(rc.kind, fireAt, id)
		}
	}
	return nil
}

// OnBoot rehydrates the heap from the database. Pending one-shot jobs whose
// fire time passed more than grace ago are marked failed; ones within grace
// dispatch immediately. Overdue recurring jobs are rolled forward to their
// next cron occurrence instead of replaying missed runs.
func (d *Dispatcher) OnBoot(ctx context.Context, grace time.Duration) error {
	now := d.clock.Now()

	missed, err := d.store.FailMissed(ctx, now.Add(-grace))
	if err != nil {
		return err
	}
	if missed > 0 {
		d.logger.Warn("scheduler: jobs missed their fire window", "count", missed, "grace", grace)
	}

	jobs, err := d.store.ListPending(ctx)
	if err != nil {
		return err
	}
	for i := range jobs {
		j := &jobs[i]
		fireAt := j.FireAt
		if j.Recurring() && now.Sub(j.FireAt) > grace {
			sched, perr := cron.ParseStandard(j.CronExpr)
			if perr != nil {
				d.logger.Error("scheduler: recurring job has invalid cron expression",
					"job_id", j.ID, "kind", j.Kind, "error", perr)
				continue
			}
			fireAt = sched.Next(now)
			if rerr := d.store.Reschedule(ctx, j.ID, fireAt); rerr != nil {
				d.logger.Error("scheduler: reschedule at boot failed", "job_id", j.ID, "error", rerr)
				continue
			}
		}
		d.push(j.Kind, fireAt, j.ID)
	}
	d.logger.Info("scheduler: boot replay complete", "pending", len(jobs), "failed_missed", missed)
	return nil
}

// Run dispatches until ctx is cancelled. In-flight handlers are not
// interrupted; call Stop after cancelling to wait for them.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("scheduler: dispatcher running", "workers", cap(d.slots))
	for {
		head, ok := d.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			}
			continue
		}

		now := d.clock.Now()
		if head.fireAt.After(now) {
			timer := d.clock.NewTimer(head.fireAt.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-d.wake:
				// An earlier entry may have arrived; re-check the heap.
				timer.Stop()
			case <-timer.Chan():
			}
			continue
		}

		e, ok := d.popDue(now)
		if !ok {
			continue
		}
		select {
		case d.slots <- struct{}{}:
		case <-ctx.Done():
			// Row stays pending; the next boot replays it.
			return
		}
		d.wg.Add(1)
		go func(e entry) {
			defer d.wg.Done()
			defer func() { <-d.slots }()
			d.execute(context.WithoutCancel(ctx), e)
		}(e)
	}
}

// Stop waits for in-flight handlers. Call after cancelling the Run context.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, e entry) {
	job, err := d.store.Claim(ctx, e.id, d.clock.Now())
	if err != nil {
		d.logger.Error("scheduler: claim failed", "job_id", e.id, "error", err)
		return
	}
	if job == nil {
		// Cancelled, re-armed for later, or claimed elsewhere.
		d.observe(e.kind, "skipped")
		return
	}

	handler, ok := d.handlers[job.Kind]
	if !ok {
		d.logger.Error("scheduler: no handler registered", "job_id", job.ID, "kind", job.Kind)
		if err := d.store.MarkFailed(ctx, job.ID, "no handler registered"); err != nil {
			d.logger.Error("scheduler: mark failed", "job_id", job.ID, "error", err)
		}
		d.observe(job.Kind, "failed")
		return
	}

	start := d.clock.Now()
	runErr := handler(ctx, job.Payload)
	if d.metrics != nil {
		d.metrics.ObserveJobDuration(string(job.Kind), d.clock.Since(start).Seconds())
	}
	if runErr != nil {
		d.logger.Error("scheduler: job failed", "job_id", job.ID, "kind", job.Kind, "error", runErr)
	}

	if job.Recurring() {
		d.rearm(ctx, job, runErr)
		return
	}
	if runErr != nil {
		if err := d.store.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
			d.logger.Error("scheduler: mark failed", "job_id", job.ID, "error", err)
		}
		d.observe(job.Kind, "failed")
		return
	}
	if err := d.store.MarkDone(ctx, job.ID); err != nil {
		d.logger.Error("scheduler: mark done", "job_id", job.ID, "error", err)
	}
	d.observe(job.Kind, "done")
}

// rearm puts a recurring job back to pending at its next cron occurrence,
// recording the outcome of the run that just finished.
func (d *Dispatcher) rearm(ctx context.Context, job *Job, runErr error) {
	result := "done"
	lastError := ""
	if runErr != nil {
		result = "failed"
		lastError = runErr.Error()
	}

	sched, err := cron.ParseStandard(job.CronExpr)
	if err != nil {
		d.logger.Error("scheduler: recurring job has invalid cron expression",
			"job_id", job.ID, "kind", job.Kind, "error", err)
		if merr := d.store.MarkFailed(ctx, job.ID, "invalid cron expression: "+err.Error()); merr != nil {
			d.logger.Error("scheduler: mark failed", "job_id", job.ID, "error", merr)
		}
		d.observe(job.Kind, "failed")
		return
	}

	next := sched.Next(d.clock.Now())
	if err := d.store.Rearm(ctx, job.ID, next, lastError); err != nil {
		d.logger.Error("scheduler: rearm failed", "job_id", job.ID, "error", err)
		return
	}
	d.push(job.Kind, next, job.ID)
	d.observe(job.Kind, result)
}

func (d *Dispatcher) observe(kind Kind, result string) {
	if d.metrics != nil {
		d.metrics.ObserveJob(string(kind), result)
	}
}

func (d *Dispatcher) push(kind Kind, fireAt time.Time, id int64) {
	d.mu.Lock()
	d.seq++
	heap.Push(&d.heap, entry{fireAt: fireAt, seq: d.seq, id: id, kind: kind})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) peek() (entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.heap) == 0 {
		return entry{}, false
	}
	return d.heap[0], true
}

func (d *Dispatcher) popDue(now time.Time) (entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.heap) == 0 || d.heap[0].fireAt.After(now) {
		return entry{}, false
	}
	return heap.Pop(&d.heap).(entry), true
}
