package pages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/interfaces"
	"github.com/ternarybob/reelfetch/internal/models"
)

// ErrReadyTimeout marks a ready wait that ran out of time. AwaitReady does
// not return it; the processor uses it when abort-on-timeout is enabled.
var ErrReadyTimeout = errors.New("execution context ready wait timed out")

// ErrTeardownFailed wraps errors raised while closing a context
var ErrTeardownFailed = errors.New("execution context teardown failed")

// ReadyOutcome is the successful result of AwaitReady
type ReadyOutcome int

const (
	// ReadyLoaded means the page signalled load-complete
	ReadyLoaded ReadyOutcome = iota
	// ReadyTimedOut means neither load nor destruction was seen in time
	ReadyTimedOut
)

func (o ReadyOutcome) String() string {
	switch o {
	case ReadyLoaded:
		return "loaded"
	case ReadyTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Lifecycle opens, waits on and tears down page execution contexts
type Lifecycle struct {
	host   interfaces.PageHost
	logger arbor.ILogger
}

// NewLifecycle creates a lifecycle backed by host
func NewLifecycle(host interfaces.PageHost, logger arbor.ILogger) *Lifecycle {
	return &Lifecycle{
		host:   host,
		logger: logger,
	}
}

// Open creates an inactive context for the work item. It does not wait.
func (l *Lifecycle) Open(ctx context.Context, item models.WorkItem) (interfaces.PageContext, error) {
	pc, err := l.host.Open(ctx, item.PageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open context for %s: %w", item.PageURL, err)
	}

	l.logger.Debug().
		Str("handle", pc.Handle()).
		Str("page_url", item.PageURL).
		Str("position", item.Position()).
		Msg("Execution context opened")

	return pc, nil
}

// AwaitReady blocks until the context loads, is destroyed, or timeout
// elapses. A timeout is not an error: it returns ReadyTimedOut so later
// probes can still give a slow page its chance. Destruction always wins
// when it has been observed. The event listener registered here is
// removed before returning on every path.
func (l *Lifecycle) AwaitReady(ctx context.Context, pc interfaces.PageContext, timeout time.Duration) (ReadyOutcome, error) {
	loaded := make(chan struct{}, 1)
	destroyed := make(chan struct{}, 1)

	unsubscribe := pc.Subscribe(func(ev models.PageEvent) {
		switch ev.Type {
		case models.PageEventLoaded:
			signal(loaded)
		case models.PageEventDestroyed:
			signal(destroyed)
		}
	})
	defer unsubscribe()

	// The load event may have fired before the listener existed
	state, err := pc.ReadyState(ctx)
	if err != nil {
		l.logger.Debug().
			Err(err).
			Str("handle", pc.Handle()).
			Msg("Could not read initial ready state, waiting for events")
	}
	switch state {
	case models.ReadyStateDestroyed:
		return l.destroyedEarly(pc)
	case models.ReadyStateReady:
		l.logger.Debug().Str("handle", pc.Handle()).Msg("Execution context already loaded")
		return ReadyLoaded, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ReadyLoaded, ctx.Err()

	case <-destroyed:
		return l.destroyedEarly(pc)

	case <-loaded:
		if observed(destroyed) {
			return l.destroyedEarly(pc)
		}
		l.logger.Debug().
			Str("handle", pc.Handle()).
			Dur("elapsed", time.Since(pc.CreatedAt())).
			Msg("Execution context loaded")
		return ReadyLoaded, nil

	case <-timer.C:
		if observed(destroyed) {
			return l.destroyedEarly(pc)
		}
		if state, err := pc.ReadyState(ctx); err == nil {
			switch state {
			case models.ReadyStateDestroyed:
				return l.destroyedEarly(pc)
			case models.ReadyStateReady:
				return ReadyLoaded, nil
			}
		}
		l.logger.Warn().
			Str("handle", pc.Handle()).
			Str("page_url", pc.URL()).
			Dur("timeout", timeout).
			Msg("Page load timed out, proceeding anyway")
		return ReadyTimedOut, nil
	}
}

// Exists reports whether the context is still alive
func (l *Lifecycle) Exists(ctx context.Context, pc interfaces.PageContext) (bool, error) {
	return pc.Exists(ctx)
}

// Close tears the context down. It is safe to call on a context that is
// already gone.
func (l *Lifecycle) Close(ctx context.Context, pc interfaces.PageContext) error {
	if err := pc.Close(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTeardownFailed, pc.Handle(), err)
	}
	l.logger.Debug().Str("handle", pc.Handle()).Msg("Execution context closed")
	return nil
}

func (l *Lifecycle) destroyedEarly(pc interfaces.PageContext) (ReadyOutcome, error) {
	l.logger.Error().
		Str("handle", pc.Handle()).
		Str("page_url", pc.URL()).
		Msg("Execution context was closed before loading completed")
	return ReadyLoaded, fmt.Errorf("context %s closed before loading completed: %w", pc.Handle(), models.ErrContextDestroyed)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func observed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
