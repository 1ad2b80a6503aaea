package interaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/interfaces"
	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/services/probe"
)

var (
	// ErrInitialActionFailed is returned when the Phase A control could not
	// be found, matched or clicked
	ErrInitialActionFailed = errors.New("initial action failed")

	// ErrResourceResolutionFailed is returned when no suitable resource
	// link appeared after the initial action
	ErrResourceResolutionFailed = errors.New("resource resolution failed")
)

// Config holds the fixed locators and budgets for both phases
type Config struct {
	ScrollY      int
	ScrollSettle time.Duration

	ControlSelector string
	ControlLabel    string
	InitialAttempts int
	InitialInterval time.Duration

	SettleDelay time.Duration

	ResourceSelector  string
	ContainerSelector string
	MarkerSelector    string
	MarkerLabel       string
	ResourceAttempts  int
	ResourceInterval  time.Duration
}

// Script runs the scroll, click and extract steps against one page
type Script struct {
	config Config
	logger arbor.ILogger
}

// NewScript creates a script with the given configuration
func NewScript(config Config, logger arbor.ILogger) *Script {
	return &Script{
		config: config,
		logger: logger,
	}
}

// Config returns the script configuration
func (s *Script) Config() Config {
	return s.config
}

// Scroll nudges the page so lazily rendered controls mount. It never fails:
// errors are logged and ignored.
func (s *Script) Scroll(ctx context.Context, pc interfaces.PageContext) {
	if err := pc.Act(ctx, buildScroll(s.config.ScrollY), nil); err != nil {
		s.logger.Warn().
			Err(err).
			Str("handle", pc.Handle()).
			Msg("Scroll failed (continuing)")
		return
	}
	if err := sleep(ctx, s.config.ScrollSettle); err != nil {
		s.logger.Debug().Err(err).Str("handle", pc.Handle()).Msg("Scroll settle interrupted")
	}
}

// TriggerInitialAction waits for the labelled control to be present, match
// its label and be visible, then clicks it.
func (s *Script) TriggerInitialAction(ctx context.Context, pc interfaces.PageContext) (ClickResult, error) {
	spec := probe.Spec{
		Name:        "initial-action",
		Locator:     s.config.ControlSelector,
		MaxAttempts: s.config.InitialAttempts,
		Interval:    s.config.InitialInterval,
	}
	inspect := buildInspectControl(s.config.ControlSelector, s.config.ControlLabel)

	s.logger.Debug().
		Str("handle", pc.Handle()).
		Str("selector", spec.Locator).
		Msg("Waiting for initial control")

	_, err := probe.Run(ctx, spec, s.logger, func(ctx context.Context) (ControlState, bool, probe.Diagnostic, error) {
		var state ControlState
		if err := pc.Query(ctx, inspect, &state); err != nil {
			return state, false, probe.Diagnostic{}, err
		}
		return state, state.Ready(), state.Diagnostic(), nil
	})
	if err != nil {
		return ClickResult{}, fmt.Errorf("%w: %w", ErrInitialActionFailed, err)
	}

	var result ClickResult
	if err := pc.Act(ctx, buildClickControl(s.config.ControlSelector, s.config.ControlLabel), &result); err != nil {
		return result, fmt.Errorf("%w: click: %w", ErrInitialActionFailed, err)
	}
	if !result.Clicked {
		return result, fmt.Errorf("%w: control '%s' disappeared before it could be clicked", ErrInitialActionFailed, s.config.ControlSelector)
	}

	s.logger.Info().
		Str("handle", pc.Handle()).
		Bool("visible_after_click", result.VisibleAfterClick).
		Msg("Initial control clicked, waiting for resource link")

	return result, nil
}

// Settle waits the fixed delay the page needs to react to the click
func (s *Script) Settle(ctx context.Context) error {
	return sleep(ctx, s.config.SettleDelay)
}

// ResolveResource waits for a usable resource link and returns its
// absolute URL.
func (s *Script) ResolveResource(ctx context.Context, pc interfaces.PageContext) (models.ResourceReference, error) {
	spec := probe.Spec{
		Name:        "resource-link",
		Locator:     s.config.ResourceSelector,
		MaxAttempts: s.config.ResourceAttempts,
		Interval:    s.config.ResourceInterval,
	}
	scan := buildScanResources(s.config.ResourceSelector, s.config.ContainerSelector, s.config.MarkerSelector, s.config.MarkerLabel)

	type selection struct {
		candidate Candidate
		kind      models.CandidateKind
	}

	chosen, err := probe.Run(ctx, spec, s.logger, func(ctx context.Context) (selection, bool, probe.Diagnostic, error) {
		var candidates []Candidate
		if err := pc.Query(ctx, scan, &candidates); err != nil {
			return selection{}, false, probe.Diagnostic{}, err
		}
		c, kind, diag, ok := SelectCandidate(candidates)
		return selection{candidate: c, kind: kind}, ok, diag, nil
	})
	if err != nil {
		return models.ResourceReference{}, fmt.Errorf("%w: %w", ErrResourceResolutionFailed, err)
	}

	s.logger.Info().
		Str("handle", pc.Handle()).
		Str("resource_url", chosen.candidate.Href).
		Str("kind", string(chosen.kind)).
		Msg("Resource link resolved")

	return models.ResourceReference{
		URL:     chosen.candidate.Href,
		PageURL: pc.URL(),
		Kind:    chosen.kind,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
