package analyze

import (
	"context"
	"sync"
)

// State is the lifecycle phase of an analysis run.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
)

// Status is a point-in-time snapshot of a run, safe to hand to callers.
type Status struct {
	State    State  `json:"state"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
	Message  string `json:"message"`
}

// Run is the handle to one analysis pass. It carries the cancellation
// signal and the mutable status behind a mutex.
type Run struct {
	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

func newRun(cancel context.CancelFunc) *Run {
	return &Run{
		status: Status{State: StateIdle},
		cancel: cancel,
	}
}

// Snapshot returns a copy of the current status.
func (r *Run) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Cancel requests a stop. Work already inside the current chunk finishes;
// no further chunks start.
func (r *Run) Cancel() {
	r.cancel()
}

func (r *Run) begin(total, progress int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = Status{State: StateLoading, Progress: progress, Total: total, Message: message}
}

func (r *Run) advance(progress int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Progress = progress
	r.status.Message = message
}

// SetMessage replaces the status line of a run in flight. The AI client
// reports through here too (quota countdowns, provider failures), so the
// dashboard sees one stream of health messages. A finished run keeps its
// summary; late messages are dropped.
func (r *Run) SetMessage(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State != StateLoading {
		return
	}
	r.status.Message = message
}

func (r *Run) finish(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = StateIdle
	r.status.Message = message
}

// Tracker remembers the most recent run so the dashboard can poll and
// cancel it. "Latest" is an explicit choice: older runs keep their own
// handles and stay queryable by whoever started them.
type Tracker struct {
	mu     sync.Mutex
	latest *Run
}

// Begin creates a run derived from ctx and records it as the latest.
func (t *Tracker) Begin(ctx context.Context) (context.Context, *Run) {
	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(cancel)

	t.mu.Lock()
	t.latest = run
	t.mu.Unlock()
	return runCtx, run
}

// Latest returns the most recently started run, or nil before the first.
func (t *Tracker) Latest() *Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// CancelLatest cancels the most recent run, if any.
func (t *Tracker) CancelLatest() {
	t.mu.Lock()
	run := t.latest
	t.mu.Unlock()
	if run != nil {
		run.Cancel()
	}
}
