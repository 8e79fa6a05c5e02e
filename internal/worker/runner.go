// Package worker runs at most one fit at a time in the background,
// reporting progress to subscribers.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cellglm/internal/analysis"
	"github.com/banshee-data/cellglm/internal/monitoring"
	"github.com/banshee-data/cellglm/internal/timeutil"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// maxRetained is the number of finished jobs kept for lookup.
const maxRetained = 32

// subscriberBuffer is the event backlog per subscriber before events are
// dropped.
const subscriberBuffer = 32

// Func is the work a job runs. It must honour ctx and may call progress
// with percentages.
type Func func(ctx context.Context, progress func(int)) (*analysis.Output, error)

// Event is published on every progress or status change.
type Event struct {
	JobID    string `json:"job_id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// Job is one submitted computation.
type Job struct {
	ID string

	mu       sync.RWMutex
	status   Status
	progress int
	err      error
	output   *analysis.Output
	started  time.Time
	finished time.Time

	done   chan struct{}
	cancel context.CancelFunc
}

// Snapshot is a copy of a job's state.
type Snapshot struct {
	ID       string     `json:"id"`
	Status   Status     `json:"status"`
	Progress int        `json:"progress"`
	Error    string     `json:"error,omitempty"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Snapshot{
		ID:       j.ID,
		Status:   j.status,
		Progress: j.progress,
		Started:  j.started,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	if !j.finished.IsZero() {
		f := j.finished
		s.Finished = &f
	}
	return s
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Output returns the result of a successful job, or nil.
func (j *Job) Output() *analysis.Output {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.output
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (*analysis.Output, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.output, j.err
}

// Event returns the job's current state as an event.
func (j *Job) Event() Event {
	s := j.Snapshot()
	return Event{JobID: s.ID, Status: s.Status, Progress: s.Progress, Error: s.Error}
}

// Runner owns the single running job.
type Runner struct {
	clock timeutil.Clock

	mu      sync.Mutex
	current *Job
	jobs    map[string]*Job
	order   []string
	subs    map[int]chan Event
	nextSub int
}

// NewRunner creates a runner. A nil clock uses the wall clock.
func NewRunner(clock timeutil.Clock) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{
		clock: clock,
		jobs:  make(map[string]*Job),
		subs:  make(map[int]chan Event),
	}
}

// Submit cancels the running job, if any, and starts fn as a new job. The
// job's context derives from ctx, so callers serving a request should pass
// a context that outlives it.
func (r *Runner) Submit(ctx context.Context, fn Func) *Job {
	jctx, cancel := context.WithCancel(ctx)
	j := &Job{
		ID:      uuid.NewString(),
		status:  StatusRunning,
		started: r.clock.Now(),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	r.mu.Lock()
	prev := r.current
	if prev != nil {
		prev.cancel()
	}
	r.current = j
	r.retainLocked(j)
	r.mu.Unlock()

	r.publish(j.Event())
	go r.run(jctx, j, prev, fn)
	return j
}

// run waits for prev to stop before starting fn, so at most one fn is
// executing at any time.
func (r *Runner) run(ctx context.Context, j *Job, prev *Job, fn Func) {
	if prev != nil {
		<-prev.done
	}
	var (
		out *analysis.Output
		err error
	)
	if err = ctx.Err(); err == nil {
		out, err = r.call(ctx, j, fn)
	}
	r.finish(ctx, j, out, err)
}

func (r *Runner) call(ctx context.Context, j *Job, fn Func) (*analysis.Output, error) {
	return fn(ctx, func(p int) {
		j.mu.Lock()
		if j.status != StatusRunning {
			j.mu.Unlock()
			return
		}
		j.progress = p
		j.mu.Unlock()
		r.publish(j.Event())
	})
}

func (r *Runner) finish(ctx context.Context, j *Job, out *analysis.Output, err error) {
	j.mu.Lock()
	switch {
	case err == nil:
		j.status = StatusDone
		j.output = out
		j.progress = 100
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		j.status = StatusCancelled
		j.err = err
	default:
		j.status = StatusFailed
		j.err = err
	}
	j.finished = r.clock.Now()
	status := j.status
	j.mu.Unlock()
	j.cancel()
	close(j.done)

	r.mu.Lock()
	if r.current == j {
		r.current = nil
	}
	r.mu.Unlock()

	if err != nil {
		monitoring.Logf("job %s %s: %v", j.ID, status, err)
	} else {
		monitoring.Logf("job %s done in %s", j.ID, r.clock.Since(j.started))
	}
	r.publish(j.Event())
}

func (r *Runner) retainLocked(j *Job) {
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	for len(r.order) > maxRetained {
		delete(r.jobs, r.order[0])
		r.order = r.order[1:]
	}
}

// Job looks up a retained job by id.
func (r *Runner) Job(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Jobs returns the retained jobs, newest first.
func (r *Runner) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.jobs[r.order[i]])
	}
	return out
}

// Current returns the running job, or nil when idle.
func (r *Runner) Current() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stop cancels the running job.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.cancel()
	}
}

// Subscribe registers for job events. Slow subscribers miss events rather
// than block the job.
func (r *Runner) Subscribe() (int, <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan Event, subscriberBuffer)
	r.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Runner) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
}

func (r *Runner) publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			monitoring.Logf("worker: subscriber %d full, dropped %s event for job %s", id, ev.Status, ev.JobID)
		}
	}
}

// Finished reports whether the status is terminal.
func (s Status) Finished() bool { return s != StatusRunning }
