// Package browsertest provides in-memory page hosts for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/reelfetch/internal/interfaces"
	"github.com/ternarybob/reelfetch/internal/models"
)

// EvalFunc answers one Query or Act call. The returned value is round
// tripped through JSON into the caller's out parameter, the same way the
// chromedp host decodes evaluation results.
type EvalFunc func(expression string) (any, error)

// Page is a scripted PageContext
type Page struct {
	mu         sync.Mutex
	handle     string
	url        string
	created    time.Time
	state      models.ReadyState
	gone       bool
	listeners  map[int]func(models.PageEvent)
	nextID     int
	closeCalls int
	queries    []string
	acts       []string

	// OnQuery and OnAct answer evaluations; nil answers with a null result
	OnQuery EvalFunc
	OnAct   EvalFunc

	// OnOpen runs once the host has registered the page, so tests can emit
	// events asynchronously (for example a load-complete after a delay)
	OnOpen func(p *Page)

	// CloseErr is returned by Close while the page still exists
	CloseErr error

	onClose func(p *Page)
}

// NewPage creates a page in the loading state
func NewPage(handle, url string) *Page {
	return &Page{
		handle:    handle,
		url:       url,
		created:   time.Now(),
		state:     models.ReadyStateLoading,
		listeners: make(map[int]func(models.PageEvent)),
	}
}

func (p *Page) Handle() string       { return p.handle }
func (p *Page) URL() string          { return p.url }
func (p *Page) CreatedAt() time.Time { return p.created }

func (p *Page) ReadyState(ctx context.Context) (models.ReadyState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
		return models.ReadyStateDestroyed, nil
	}
	return p.state, nil
}

func (p *Page) Subscribe(fn func(models.PageEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Page) Query(ctx context.Context, expression string, out any) error {
	p.mu.Lock()
	p.queries = append(p.queries, expression)
	gone := p.gone
	fn := p.OnQuery
	p.mu.Unlock()
	if gone {
		return fmt.Errorf("query %s: %w", p.handle, models.ErrContextDestroyed)
	}
	return answer(fn, expression, out)
}

func (p *Page) Act(ctx context.Context, expression string, out any) error {
	p.mu.Lock()
	p.acts = append(p.acts, expression)
	gone := p.gone
	fn := p.OnAct
	p.mu.Unlock()
	if gone {
		return fmt.Errorf("act %s: %w", p.handle, models.ErrContextDestroyed)
	}
	return answer(fn, expression, out)
}

func (p *Page) Exists(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.gone, nil
}

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closeCalls++
	if p.gone {
		p.mu.Unlock()
		return nil
	}
	if p.CloseErr != nil {
		err := p.CloseErr
		p.mu.Unlock()
		return err
	}
	p.gone = true
	p.state = models.ReadyStateDestroyed
	onClose := p.onClose
	p.mu.Unlock()

	if onClose != nil {
		onClose(p)
	}
	return nil
}

// Load marks the page ready and emits load-complete
func (p *Page) Load() {
	p.mu.Lock()
	p.state = models.ReadyStateReady
	p.mu.Unlock()
	p.emit(models.PageEvent{Type: models.PageEventLoaded, Handle: p.handle})
}

// SetReady marks the page ready without emitting an event
func (p *Page) SetReady() {
	p.mu.Lock()
	p.state = models.ReadyStateReady
	p.mu.Unlock()
}

// Destroy simulates the page closing itself
func (p *Page) Destroy() {
	p.mu.Lock()
	p.gone = true
	p.state = models.ReadyStateDestroyed
	onClose := p.onClose
	p.mu.Unlock()
	p.emit(models.PageEvent{Type: models.PageEventDestroyed, Handle: p.handle})
	if onClose != nil {
		onClose(p)
	}
}

// ActiveListeners returns the number of registered, not yet removed listeners
func (p *Page) ActiveListeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// CloseCalls returns how many times Close was invoked
func (p *Page) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Queries returns the expressions passed to Query so far
func (p *Page) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

// Acts returns the expressions passed to Act so far
func (p *Page) Acts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.acts...)
}

func (p *Page) emit(ev models.PageEvent) {
	p.mu.Lock()
	fns := make([]func(models.PageEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func answer(fn EvalFunc, expression string, out any) error {
	if fn == nil {
		return nil
	}
	value, err := fn(expression)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Host is a PageHost that builds pages with a factory and records
// how many contexts were open at the same time.
type Host struct {
	mu      sync.Mutex
	factory func(url string) *Page
	pages   []*Page
	opened  []string
	open    int
	maxOpen int

	// OpenErr fails Open for the matching page URL
	OpenErr map[string]error
}

var _ interfaces.PageHost = (*Host)(nil)

// NewHost creates a host; factory may be nil for pages that never load
func NewHost(factory func(url string) *Page) *Host {
	if factory == nil {
		factory = func(url string) *Page { return NewPage(url, url) }
	}
	return &Host{factory: factory}
}

func (h *Host) Open(ctx context.Context, pageURL string) (interfaces.PageContext, error) {
	h.mu.Lock()
	h.opened = append(h.opened, pageURL)
	if err, ok := h.OpenErr[pageURL]; ok {
		h.mu.Unlock()
		return nil, err
	}
	page := h.factory(pageURL)
	page.onClose = func(*Page) {
		h.mu.Lock()
		h.open--
		h.mu.Unlock()
	}
	h.pages = append(h.pages, page)
	h.open++
	if h.open > h.maxOpen {
		h.maxOpen = h.open
	}
	h.mu.Unlock()

	if page.OnOpen != nil {
		page.OnOpen(page)
	}
	return page, nil
}

// Pages returns every page created so far in open order
func (h *Host) Pages() []*Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Page(nil), h.pages...)
}

// Opened returns the page URLs passed to Open in call order
func (h *Host) Opened() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.opened...)
}

// MaxOpen returns the highest number of simultaneously open pages
func (h *Host) MaxOpen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxOpen
}

// OpenNow returns the number of pages currently open
func (h *Host) OpenNow() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}
