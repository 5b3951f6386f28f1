// Package fill serializes browser writes. One worker owns the session: tasks
// queue FIFO, each runs under an exclusive session lock through locate, write
// and verify, and every terminal outcome lands in the append-only session
// store. The browser is never touched by two tasks at once.
package fill

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taxpilot/internal/browser"
	"taxpilot/internal/config"
	"taxpilot/internal/extract"
	"taxpilot/internal/logging"
	"taxpilot/internal/schema"
	"taxpilot/internal/store"
)

var (
	// ErrQueueFull is returned when the task queue is at capacity.
	ErrQueueFull = errors.New("fill queue full")

	// ErrStopped is returned when the orchestrator is shut down.
	ErrStopped = errors.New("fill orchestrator stopped")

	// ErrSlipNotFound is returned by removal when no slip section matches.
	ErrSlipNotFound = errors.New("slip not found")
)

// Orchestrator runs the fill pipeline for the shared browser session.
type Orchestrator struct {
	cfg config.FillConfig
	cap Capability
	reg *schema.Registry
	log *store.SessionStore

	queue chan *Task

	// sessionMu is the exclusive session lock. The worker takes it per
	// task; synchronous operations (removal, read-back) take it directly.
	sessionMu sync.Mutex

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// New builds an orchestrator. Start must be called before Enqueue.
func New(cfg config.FillConfig, capability Capability, reg *schema.Registry, log *store.SessionStore) *Orchestrator {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	return &Orchestrator{
		cfg:     cfg,
		cap:     capability,
		reg:     reg,
		log:     log,
		queue:   make(chan *Task, depth),
		stopped: make(chan struct{}),
	}
}

// Start launches the single worker. The worker exits when ctx is cancelled
// or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.worker(ctx)
	}()
}

// Stop shuts the worker down and waits for the in-flight task to finish.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopped) })
	o.wg.Wait()
}

// Enqueue adds a validated entry to the FIFO queue. The returned task's Done
// channel closes on the terminal state. The entry can be cancelled through
// ctx only while it waits in the queue; once running it completes.
func (o *Orchestrator) Enqueue(ctx context.Context, userID string, entry extract.SlipEntry) (*Task, error) {
	if _, err := o.reg.Box(entry.SlipType, entry.Box); err != nil {
		return nil, err
	}

	task := newTask(ctx, userID, entry)
	select {
	case <-o.stopped:
		return nil, ErrStopped
	case o.queue <- task:
		logging.Fill("enqueued task %s: %s = %s (year %d)", task.ID, entry.Key(), entry.Amount, entry.TaxYear)
		return task, nil
	default:
		return nil, ErrQueueFull
	}
}

// Submit enqueues and blocks until the task is terminal or ctx ends.
func (o *Orchestrator) Submit(ctx context.Context, userID string, entry extract.SlipEntry) (*Task, error) {
	task, err := o.Enqueue(ctx, userID, entry)
	if err != nil {
		return nil, err
	}
	select {
	case <-task.Done():
		return task, nil
	case <-ctx.Done():
		return task, ctx.Err()
	}
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopped:
			return
		case task := <-o.queue:
			// Pre-lock cancellation: a task cancelled while queued
			// never touches the browser and leaves no record.
			if task.ctx != nil && task.ctx.Err() != nil {
				task.finish(StatusFailed, "cancelled before start")
				continue
			}
			o.runTask(ctx, task)
		}
	}
}

func (o *Orchestrator) runTask(ctx context.Context, task *Task) {
	entry := task.Entry

	// Idempotence probe: an identical verified entry short-circuits
	// without acquiring the session lock or touching the browser.
	prev, err := o.log.LatestOutcome(task.UserID, entry.TaxYear, entry.SlipType, entry.Box)
	if err == nil && prev != nil && prev.Status == store.StatusVerifiedMatch && prev.Amount == entry.Amount {
		logging.Fill("task %s: %s already verified at %s, skipping", task.ID, entry.Key(), entry.Amount)
		task.finish(StatusVerifiedMatch, "already verified")
		return
	}

	o.sessionMu.Lock()
	status, reason, runErr := o.execute(ctx, task)

	if runErr != nil && errors.Is(runErr, browser.ErrSessionLost) {
		if task.markRequeued() {
			logging.FillWarn("task %s: session lost, reconnecting and requeueing", task.ID)
			// Recovery still owns the session: nothing else may drive
			// the page until the re-auth/re-navigate completes.
			err := o.cap.Reconnect(ctx, entry.TaxYear)
			o.sessionMu.Unlock()
			if err != nil {
				o.settle(task, StatusFailed, fmt.Sprintf("session lost and reconnect failed: %v", err))
				return
			}
			select {
			case o.queue <- task:
				return
			default:
				o.settle(task, StatusFailed, "session lost and queue full on requeue")
				return
			}
		}
		o.sessionMu.Unlock()
		o.settle(task, StatusFailed, "session lost twice")
		return
	}
	o.sessionMu.Unlock()

	o.settle(task, status, reason)
}

// settle persists the terminal outcome, then releases waiters: anyone woken
// by Done can immediately read the new row from the log. Store failures are
// logged, not fatal: the form write already happened.
func (o *Orchestrator) settle(task *Task, status Status, reason string) {
	_, _, attempts, loc := task.snapshot()

	out := store.Outcome{
		UserID:       task.UserID,
		TaxYear:      task.Entry.TaxYear,
		SlipType:     task.Entry.SlipType,
		Box:          task.Entry.Box,
		Amount:       task.Entry.Amount,
		Issuer:       task.Entry.Issuer,
		Status:       string(status),
		Reason:       reason,
		Attempts:     attempts,
		UtteranceRef: task.Entry.UtteranceRef,
	}
	if loc.Section.Title != "" {
		out.Locator = loc.String()
	}
	if err := o.log.Append(out); err != nil {
		logging.FillError("task %s: failed to record outcome: %v", task.ID, err)
	}
	task.finish(status, reason)
	logging.Fill("task %s: terminal %s (%s) after %d attempt(s)", task.ID, status, reason, attempts)
}

// execute drives one task through the live form under the session lock. A
// returned error is only ever a session loss; everything else resolves to a
// terminal status here.
func (o *Orchestrator) execute(ctx context.Context, task *Task) (Status, string, error) {
	entry := task.Entry

	def, err := o.reg.Def(entry.SlipType)
	if err != nil {
		return StatusFailed, err.Error(), nil
	}

	if err := o.cap.EnsureAuthenticated(ctx); err != nil {
		if errors.Is(err, browser.ErrSessionLost) {
			return "", "", err
		}
		return StatusFailed, fmt.Sprintf("authentication: %v", err), nil
	}
	if err := o.cap.SelectTaxYear(ctx, entry.TaxYear); err != nil {
		if errors.Is(err, browser.ErrSessionLost) {
			return "", "", err
		}
		return StatusFailed, fmt.Sprintf("select tax year %d: %v", entry.TaxYear, err), nil
	}

	for cycle := 0; ; cycle++ {
		task.setStatus(StatusLocating)
		section, err := o.cap.FindOrCreateSlipSection(ctx, def.UFile, entry.Issuer)
		if err != nil {
			if errors.Is(err, browser.ErrSessionLost) {
				return "", "", err
			}
			return StatusFailed, fmt.Sprintf("slip section: %v", err), nil
		}

		loc, err := o.locateWithRetry(ctx, task, section)
		if err != nil {
			if errors.Is(err, browser.ErrSessionLost) {
				return "", "", err
			}
			return StatusFailed, fmt.Sprintf("locate box %s: %v", entry.Box, err), nil
		}
		task.setLocator(loc)

		task.setStatus(StatusFilling)
		if err := o.cap.WriteField(ctx, loc, entry.Amount.String()); err != nil {
			if errors.Is(err, browser.ErrSessionLost) {
				return "", "", err
			}
			if cycle < o.cfg.WriteCycleCap {
				logging.FillWarn("task %s: write failed (%v), restarting cycle %d", task.ID, err, cycle+1)
				continue
			}
			return StatusFailed, fmt.Sprintf("write after %d cycles: %v", cycle+1, err), nil
		}

		task.setStatus(StatusVerifying)
		echo, err := o.cap.ReadField(ctx, loc)
		if err != nil {
			if errors.Is(err, browser.ErrSessionLost) {
				return "", "", err
			}
			if cycle < o.cfg.WriteCycleCap {
				logging.FillWarn("task %s: read-back failed (%v), restarting cycle %d", task.ID, err, cycle+1)
				continue
			}
			return StatusFailed, fmt.Sprintf("read-back after %d cycles: %v", cycle+1, err), nil
		}

		got, perr := extract.ParseAmount(echo)
		if perr != nil {
			return StatusVerifiedMismatch, fmt.Sprintf("form shows %q, expected %s", echo, entry.Amount), nil
		}
		if diff := (got - entry.Amount).Abs(); int64(diff) <= o.cfg.ToleranceCents {
			return StatusVerifiedMatch, "", nil
		}
		// A clean write that reads back a different amount is terminal.
		// Retrying would paper over a form-side recalculation; the user
		// reviews and corrects instead.
		return StatusVerifiedMismatch, fmt.Sprintf("form shows %s, expected %s", got, entry.Amount), nil
	}
}

// RemoveSlip deletes a slip sub-form from the live return and appends a
// removed record for every effective key on that slip type, dropping them
// from the latest-wins view while the log keeps the full history.
func (o *Orchestrator) RemoveSlip(ctx context.Context, userID string, slipType schema.SlipType, issuer string, taxYear int) error {
	def, err := o.reg.Def(slipType)
	if err != nil {
		return err
	}

	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	if err := o.cap.EnsureAuthenticated(ctx); err != nil {
		return err
	}
	if err := o.cap.SelectTaxYear(ctx, taxYear); err != nil {
		return err
	}

	title, err := o.findSection(ctx, def.UFile.SectionPrefix, issuer)
	if err != nil {
		return err
	}
	if err := o.cap.RemoveSlipSection(ctx, browser.SectionRef{Title: title}); err != nil {
		return err
	}

	latest, err := o.log.LatestByKey(userID, taxYear)
	if err != nil {
		return err
	}
	for _, prev := range latest {
		if prev.SlipType != slipType {
			continue
		}
		rec := store.Outcome{
			UserID:   userID,
			TaxYear:  taxYear,
			SlipType: prev.SlipType,
			Box:      prev.Box,
			Amount:   prev.Amount,
			Issuer:   issuer,
			Status:   store.StatusRemoved,
			Reason:   fmt.Sprintf("slip %q removed", title),
		}
		if err := o.log.Append(rec); err != nil {
			return err
		}
	}
	logging.Fill("removed slip %q for user %s year %d", title, userID, taxYear)
	return nil
}

// RenumberIssuers rewrites the issuer serials (#01, #02, ...) on every slip
// section of one type, returning the section count. Runs under the session
// lock like every other live-page operation.
func (o *Orchestrator) RenumberIssuers(ctx context.Context, slipType schema.SlipType, taxYear int) (int, error) {
	def, err := o.reg.Def(slipType)
	if err != nil {
		return 0, err
	}

	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	if err := o.cap.EnsureAuthenticated(ctx); err != nil {
		return 0, err
	}
	if err := o.cap.SelectTaxYear(ctx, taxYear); err != nil {
		return 0, err
	}
	return o.cap.NormalizeIssuerSerials(ctx, def.UFile)
}

// ReadSlip reads back every field of one slip sub-form, for user review.
func (o *Orchestrator) ReadSlip(ctx context.Context, slipType schema.SlipType, issuer string, taxYear int) ([]browser.SlipField, error) {
	def, err := o.reg.Def(slipType)
	if err != nil {
		return nil, err
	}

	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	if err := o.cap.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if err := o.cap.SelectTaxYear(ctx, taxYear); err != nil {
		return nil, err
	}

	title, err := o.findSection(ctx, def.UFile.SectionPrefix, issuer)
	if err != nil {
		return nil, err
	}
	return o.cap.ReadSlipFields(ctx, browser.SectionRef{Title: title})
}
