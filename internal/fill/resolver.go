package fill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxpilot/internal/browser"
	"taxpilot/internal/logging"
)

// Field resolution: mapping a validated entry to a live control. A missing
// field always propagates as an error, never a silent skip.

// locateWithRetry runs the bounded locate loop: up to LocateAttempts tries
// with doubling backoff between them. Session losses abort immediately.
func (o *Orchestrator) locateWithRetry(ctx context.Context, task *Task, section browser.SectionRef) (browser.FieldLocator, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.LocateAttempts; attempt++ {
		n := task.addAttempt()
		loc, err := o.cap.LocateBoxField(ctx, section, task.Entry.Box)
		if err == nil {
			logging.Fill("task %s: located %s on attempt %d", task.ID, loc, n)
			return loc, nil
		}
		if errors.Is(err, browser.ErrSessionLost) {
			return browser.FieldLocator{}, err
		}
		lastErr = err
		if attempt < o.cfg.LocateAttempts {
			if err := sleepCtx(ctx, o.backoff(attempt)); err != nil {
				return browser.FieldLocator{}, lastErr
			}
		}
	}
	return browser.FieldLocator{}, fmt.Errorf("%d attempts: %w", o.cfg.LocateAttempts, lastErr)
}

// findSection picks the slip section matching the issuer, or the only one
// when no issuer is given. Never creates.
func (o *Orchestrator) findSection(ctx context.Context, prefix, issuer string) (string, error) {
	titles, err := o.cap.ListSlipSections(ctx, prefix)
	if err != nil {
		return "", err
	}
	if issuer == "" {
		if len(titles) == 1 {
			return titles[0], nil
		}
		if len(titles) == 0 {
			return "", fmt.Errorf("%w: no %q sections", ErrSlipNotFound, prefix)
		}
		return "", fmt.Errorf("%w: %d %q sections, issuer required", ErrSlipNotFound, len(titles), prefix)
	}
	for _, title := range titles {
		if strings.Contains(strings.ToLower(title), strings.ToLower(issuer)) {
			return title, nil
		}
	}
	return "", fmt.Errorf("%w: no %q section matches issuer %q", ErrSlipNotFound, prefix, issuer)
}

// backoff returns min * 2^(attempt-1) capped at max.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.BackoffMin()
	ceil := o.cfg.BackoffMax()
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceil {
			return ceil
		}
	}
	if d > ceil {
		return ceil
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
