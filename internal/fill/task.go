package fill

import (
	"context"
	"sync"
	"time"

	"taxpilot/internal/browser"
	"taxpilot/internal/extract"

	"github.com/google/uuid"
)

// Status is a fill task's lifecycle state. Tasks move strictly forward:
// Pending -> Locating -> Filling -> Verifying -> terminal. A session loss
// requeues the task back to Pending exactly once.
type Status string

const (
	StatusPending          Status = "pending"
	StatusLocating         Status = "locating"
	StatusFilling          Status = "filling"
	StatusVerifying        Status = "verifying"
	StatusVerifiedMatch    Status = "verified_match"
	StatusVerifiedMismatch Status = "verified_mismatch"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status ends the task.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerifiedMatch, StatusVerifiedMismatch, StatusFailed:
		return true
	}
	return false
}

// Task is one queued unit of browser work: write a single validated entry
// into the live form and verify the echo. Cancellable only while Pending;
// once the worker holds the session lock the task runs to a terminal state.
type Task struct {
	ID     string
	UserID string
	Entry  extract.SlipEntry

	ctx context.Context

	mu       sync.Mutex
	status   Status
	reason   string
	attempts int
	locator  browser.FieldLocator
	requeued bool

	enqueuedAt time.Time
	done       chan struct{}
}

func newTask(ctx context.Context, userID string, entry extract.SlipEntry) *Task {
	return &Task{
		ID:         uuid.New().String(),
		UserID:     userID,
		Entry:      entry,
		ctx:        ctx,
		status:     StatusPending,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Reason returns the terminal explanation, empty until terminal.
func (t *Task) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Attempts returns how many locate attempts the task has consumed.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *Task) addAttempt() int {
	t.mu.Lock()
	t.attempts++
	n := t.attempts
	t.mu.Unlock()
	return n
}

func (t *Task) setLocator(loc browser.FieldLocator) {
	t.mu.Lock()
	t.locator = loc
	t.mu.Unlock()
}

func (t *Task) snapshot() (Status, string, int, browser.FieldLocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.reason, t.attempts, t.locator
}

// finish records the terminal state and releases waiters. Idempotent so a
// requeue race cannot double-close done.
func (t *Task) finish(s Status, reason string) {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status = s
	t.reason = reason
	t.mu.Unlock()
	close(t.done)
}

func (t *Task) markRequeued() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.requeued {
		return false
	}
	t.requeued = true
	t.status = StatusPending
	return true
}
