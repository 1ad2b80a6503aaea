package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/services/interaction"
	"github.com/ternarybob/reelfetch/internal/services/probe"
)

// Phase names the step of the pipeline that failed
type Phase string

const (
	PhaseReady         Phase = "ready"
	PhaseInitialAction Phase = "initial_action"
	PhaseSettle        Phase = "settle"
	PhaseResource      Phase = "resource_resolution"
)

// Error is the envelope for every failure of a single page resolution.
// errors.Is matches Kind as well as anything in the wrapped chain.
type Error struct {
	Phase   Phase
	Kind    error
	PageURL string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s] %s: %v", e.Kind, e.Phase, e.PageURL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Attempts returns the probe attempts made before failing, or 0
func (e *Error) Attempts() int {
	var timeoutErr *probe.TimeoutError
	if errors.As(e.Err, &timeoutErr) {
		return timeoutErr.Attempts
	}
	return 0
}

// Diagnostic returns the last probe snapshot, if the failure was a timeout
func (e *Error) Diagnostic() (probe.Diagnostic, bool) {
	var timeoutErr *probe.TimeoutError
	if errors.As(e.Err, &timeoutErr) {
		return timeoutErr.Last, true
	}
	return probe.Diagnostic{}, false
}

// classify picks the error kind; a destroyed context outranks the phase
// failure it caused. The settle delay only fails on cancellation, so its
// kind is the ctx error.
func classify(phase Phase, pageURL string, err error) error {
	kind := interaction.ErrInitialActionFailed
	switch {
	case errors.Is(err, models.ErrContextDestroyed):
		kind = models.ErrContextDestroyed
	case phase == PhaseSettle:
		kind = context.Canceled
		if errors.Is(err, context.DeadlineExceeded) {
			kind = context.DeadlineExceeded
		}
	case phase == PhaseResource:
		kind = interaction.ErrResourceResolutionFailed
	}
	return &Error{
		Phase:   phase,
		Kind:    kind,
		PageURL: pageURL,
		Err:     err,
	}
}
