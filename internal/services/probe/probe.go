package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
)

// ErrProbeTimeout is matched by every *TimeoutError
var ErrProbeTimeout = errors.New("probe timed out")

// Spec is the fixed budget for one probe
type Spec struct {
	Name        string
	Locator     string
	MaxAttempts int
	Interval    time.Duration
}

// Diagnostic is a snapshot of what the last check saw.
// Present distinguishes "something matched the locator but failed the
// secondary predicate" from "nothing matched the locator at all".
type Diagnostic struct {
	Present           bool
	Visible           bool
	Candidates        int
	VisibleUnsuitable int
	Detail            string
}

// Check inspects the current state once. It returns matched=false for
// "not yet"; a non-nil error aborts the probe immediately.
type Check[T any] func(ctx context.Context) (value T, matched bool, diag Diagnostic, err error)

// TimeoutError is returned when a probe exhausts its attempts
type TimeoutError struct {
	Probe    string
	Locator  string
	Attempts int
	Last     Diagnostic
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: '%s' not matched after %d attempts (present on page: %t, candidates: %d, visible but unsuitable: %d)",
		e.Probe, e.Locator, e.Attempts, e.Last.Present, e.Last.Candidates, e.Last.VisibleUnsuitable)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrProbeTimeout
}

// Validate checks the budget is usable
func (s Spec) Validate() error {
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("probe %s: max_attempts must be greater than 0, got: %d", s.Name, s.MaxAttempts)
	}
	if s.Interval < 0 {
		return fmt.Errorf("probe %s: interval must not be negative, got: %s", s.Name, s.Interval)
	}
	return nil
}

// Run waits one interval and checks, up to MaxAttempts times.
// It returns the first matched value, the check's error, ctx.Err() on
// cancellation, or a *TimeoutError after exactly MaxAttempts checks.
func Run[T any](ctx context.Context, spec Spec, logger arbor.ILogger, check Check[T]) (T, error) {
	var zero T
	if err := spec.Validate(); err != nil {
		return zero, err
	}

	timer := time.NewTimer(spec.Interval)
	defer timer.Stop()

	var last Diagnostic
	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}

		value, matched, diag, err := check(ctx)
		if err != nil {
			return zero, fmt.Errorf("%s: check failed on attempt %d: %w", spec.Name, attempt, err)
		}
		if matched {
			logger.Debug().
				Str("probe", spec.Name).
				Int("attempt", attempt).
				Msg("Probe matched")
			return value, nil
		}

		last = diag
		if diag.Candidates > 0 {
			logger.Trace().
				Str("probe", spec.Name).
				Int("attempt", attempt).
				Int("candidates", diag.Candidates).
				Msg("Probe saw candidates but none matched")
		}

		if attempt < spec.MaxAttempts {
			timer.Reset(spec.Interval)
		}
	}

	timeoutErr := &TimeoutError{
		Probe:    spec.Name,
		Locator:  spec.Locator,
		Attempts: spec.MaxAttempts,
		Last:     last,
	}

	event := logger.Warn().
		Str("probe", spec.Name).
		Str("locator", spec.Locator).
		Int("attempts", spec.MaxAttempts).
		Bool("present", last.Present).
		Int("visible_unsuitable", last.VisibleUnsuitable)
	if last.Detail != "" {
		event = event.Str("detail", last.Detail)
	}
	event.Msg("Probe attempts exhausted")

	return zero, timeoutErr
}
