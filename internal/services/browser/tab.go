package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/reelfetch/internal/models"
)

const goneCheckTimeout = 5 * time.Second

// tab is one attached background target
type tab struct {
	host    *Host
	id      target.ID
	url     string
	created time.Time
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (t *tab) Handle() string       { return string(t.id) }
func (t *tab) URL() string          { return t.url }
func (t *tab) CreatedAt() time.Time { return t.created }

func (t *tab) ReadyState(ctx context.Context) (models.ReadyState, error) {
	var state string
	if err := t.evaluate(ctx, "document.readyState", &state); err != nil {
		if t.gone(ctx) {
			return models.ReadyStateDestroyed, nil
		}
		return "", err
	}
	return readyStateOf(state), nil
}

// Subscribe listens for load and destruction of this tab. The listeners
// are detached when the returned function is called. fn runs on the
// browser event loop and must not block.
func (t *tab) Subscribe(fn func(models.PageEvent)) func() {
	lctx, cancel := context.WithCancel(t.ctx)

	chromedp.ListenTarget(lctx, func(ev any) {
		switch ev.(type) {
		case *page.EventLoadEventFired:
			fn(models.PageEvent{Type: models.PageEventLoaded, Handle: t.Handle()})
		case *inspector.EventDetached, *inspector.EventTargetCrashed:
			fn(models.PageEvent{Type: models.PageEventDestroyed, Handle: t.Handle()})
		}
	})
	chromedp.ListenBrowser(lctx, func(ev any) {
		switch e := ev.(type) {
		case *target.EventTargetDestroyed:
			if e.TargetID == t.id {
				fn(models.PageEvent{Type: models.PageEventDestroyed, Handle: t.Handle()})
			}
		case *target.EventTargetCrashed:
			if e.TargetID == t.id {
				fn(models.PageEvent{Type: models.PageEventDestroyed, Handle: t.Handle()})
			}
		}
	})

	return cancel
}

func (t *tab) Query(ctx context.Context, expression string, out any) error {
	return t.run(ctx, expression, out)
}

func (t *tab) Act(ctx context.Context, expression string, out any) error {
	return t.run(ctx, expression, out)
}

func (t *tab) Exists(ctx context.Context) (bool, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false, nil
	}
	return t.host.targetExists(ctx, t.id)
}

// Close closes the target and detaches from it. A target that is already
// gone is not an error.
func (t *tab) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	defer t.host.forget(t.id)
	defer t.cancel()

	browser := chromedp.FromContext(t.ctx).Browser
	if browser == nil {
		return nil
	}
	err := target.CloseTarget(t.id).Do(cdp.WithExecutor(ctx, browser))
	if err != nil && !isTargetMissing(err) {
		return fmt.Errorf("close target %s: %w", t.id, err)
	}
	return nil
}

func (t *tab) run(ctx context.Context, expression string, out any) error {
	if err := t.evaluate(ctx, expression, out); err != nil {
		if t.gone(ctx) {
			return fmt.Errorf("evaluate in %s: %w", t.id, models.ErrContextDestroyed)
		}
		return err
	}
	return nil
}

// evaluate runs expression in the tab, bounded by both ctx and the tab
func (t *tab) evaluate(ctx context.Context, expression string, out any) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw []byte
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expression, &raw)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("evaluate: %w", err)
	}
	return decode(raw, out)
}

// gone reports whether the tab has disappeared
func (t *tab) gone(ctx context.Context) bool {
	if t.ctx.Err() != nil {
		return true
	}
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), goneCheckTimeout)
	defer cancel()
	exists, err := t.Exists(checkCtx)
	return err == nil && !exists
}

func decode(raw []byte, out any) error {
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func readyStateOf(documentState string) models.ReadyState {
	if documentState == "complete" {
		return models.ReadyStateReady
	}
	return models.ReadyStateLoading
}

func isTargetMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no target with given id") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "context canceled")
}
