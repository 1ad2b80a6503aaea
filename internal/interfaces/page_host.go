package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/reelfetch/internal/models"
)

// PageHost creates isolated page execution contexts (browser tabs)
type PageHost interface {
	// Open creates a new background context bound to pageURL.
	// It must not wait for the page to load.
	Open(ctx context.Context, pageURL string) (PageContext, error)
}

// PageContext is one isolated page instance.
// The core only reaches the page through Query and Act; it never holds
// references to page internals.
type PageContext interface {
	// Handle returns the unique identifier of the context
	Handle() string

	// URL returns the page URL the context was opened with
	URL() string

	// CreatedAt returns when the context was opened
	CreatedAt() time.Time

	// ReadyState reports the current load state. A context that no longer
	// exists reports ReadyStateDestroyed with a nil error.
	ReadyState(ctx context.Context) (models.ReadyState, error)

	// Subscribe registers fn for load-complete and destroyed events.
	// The returned function deregisters it and is safe to call more than once.
	Subscribe(fn func(models.PageEvent)) (unsubscribe func())

	// Query evaluates a side-effect-free expression in the page and decodes
	// its result into out (which may be nil).
	Query(ctx context.Context, expression string, out any) error

	// Act evaluates an expression that mutates the page (scroll, click)
	// and decodes its result into out (which may be nil).
	Act(ctx context.Context, expression string, out any) error

	// Exists reports whether the context is still alive
	Exists(ctx context.Context) (bool, error)

	// Close tears the context down. Closing a context that is already gone
	// succeeds.
	Close(ctx context.Context) error
}
