package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/interfaces"
	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/services/interaction"
)

// Pipeline resolves one loaded page to one resource URL
type Pipeline struct {
	script *interaction.Script
	logger arbor.ILogger
}

var _ interfaces.PageResolver = (*Pipeline)(nil)

// New creates a pipeline around the interaction script
func New(script *interaction.Script, logger arbor.ILogger) *Pipeline {
	return &Pipeline{
		script: script,
		logger: logger,
	}
}

// Resolve runs scroll, initial action, settle delay and resource
// resolution in order. The first failure stops the sequence; no partial
// result is ever returned.
func (p *Pipeline) Resolve(ctx context.Context, pc interfaces.PageContext, item models.WorkItem) (models.ResourceReference, error) {
	start := time.Now()
	logger := p.logger.WithCorrelationId(item.BatchID)

	logger.Info().
		Str("handle", pc.Handle()).
		Str("page_url", item.PageURL).
		Str("position", item.Position()).
		Msg("Resolving page")

	p.script.Scroll(ctx, pc)

	if _, err := p.script.TriggerInitialAction(ctx, pc); err != nil {
		return models.ResourceReference{}, classify(PhaseInitialAction, item.PageURL, err)
	}

	if err := p.script.Settle(ctx); err != nil {
		return models.ResourceReference{}, classify(PhaseSettle, item.PageURL, fmt.Errorf("settle delay interrupted: %w", err))
	}

	ref, err := p.script.ResolveResource(ctx, pc)
	if err != nil {
		return models.ResourceReference{}, classify(PhaseResource, item.PageURL, err)
	}

	logger.Info().
		Str("handle", pc.Handle()).
		Str("resource_url", ref.URL).
		Dur("elapsed", time.Since(start)).
		Msg("Page resolved")

	return ref, nil
}
