package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/interfaces"
)

// ErrNotStarted is returned by Open before Start succeeds
var ErrNotStarted = errors.New("browser host not started")

// Config holds the browser launch options
type Config struct {
	Headless        bool
	DisableGPU      bool
	NoSandbox       bool
	UserAgent       string
	ExecPath        string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Host owns one Chrome process and opens every page as its own
// background tab in it.
type Host struct {
	config Config
	logger arbor.ILogger

	mu            sync.Mutex
	started       bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[target.ID]*tab
}

var _ interfaces.PageHost = (*Host)(nil)

// NewHost creates an unstarted host
func NewHost(config Config, logger arbor.ILogger) *Host {
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	return &Host{
		config: config,
		logger: logger,
		tabs:   make(map[target.ID]*tab),
	}
}

// Start launches the browser and checks that it responds
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("browser host already started")
	}

	startTime := time.Now()
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", h.config.Headless),
		chromedp.Flag("disable-gpu", h.config.DisableGPU),
		chromedp.Flag("no-sandbox", h.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Background tabs must keep running their timers and scripts
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if h.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(h.config.UserAgent))
	}
	if h.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(h.config.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Allocate on browserCtx so the process outlives the startup test timeout
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, h.config.StartupTimeout)
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	// Needed for target destroyed and crashed events
	if err := target.SetDiscoverTargets(true).Do(cdp.WithExecutor(testCtx, chromedp.FromContext(browserCtx).Browser)); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to enable target discovery: %w", err)
	}

	h.allocCancel = allocCancel
	h.browserCtx = browserCtx
	h.browserCancel = browserCancel
	h.started = true

	h.logger.Info().
		Bool("headless", h.config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser host started")

	return nil
}

// Shutdown closes every open tab and the browser
func (h *Host) Shutdown() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		h.logger.Debug().Msg("Browser host already shut down or never started")
		return nil
	}
	tabs := make([]*tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		tabs = append(tabs, t)
	}
	browserCancel, allocCancel := h.browserCancel, h.allocCancel
	h.started = false
	h.mu.Unlock()

	startTime := time.Now()
	h.logger.Info().Int("open_tabs", len(tabs)).Msg("Shutting down browser host")

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.config.ShutdownTimeout)
		defer cancel()
		for _, t := range tabs {
			_ = t.Close(ctx)
		}
		browserCancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(h.config.ShutdownTimeout):
		h.logger.Warn().Msg("Browser host shutdown timed out, forcing cleanup")
	}
	allocCancel()

	h.logger.Info().Dur("shutdown_time", time.Since(startTime)).Msg("Browser host shut down")
	return nil
}

// Open creates a background tab navigating to pageURL and attaches to it.
// It returns without waiting for the page to load.
func (h *Host) Open(ctx context.Context, pageURL string) (interfaces.PageContext, error) {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil, ErrNotStarted
	}
	browserCtx := h.browserCtx
	h.mu.Unlock()

	exec := cdp.WithExecutor(ctx, chromedp.FromContext(browserCtx).Browser)
	id, err := target.CreateTarget(pageURL).WithBackground(true).Do(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		_ = target.CloseTarget(id).Do(exec)
		return nil, fmt.Errorf("failed to attach to target %s: %w", id, err)
	}

	t := &tab{
		host:    h,
		id:      id,
		url:     pageURL,
		created: time.Now(),
		ctx:     tabCtx,
		cancel:  cancel,
	}

	h.mu.Lock()
	h.tabs[id] = t
	h.mu.Unlock()

	h.logger.Debug().
		Str("handle", string(id)).
		Str("page_url", pageURL).
		Msg("Background tab created")

	return t, nil
}

// OpenTabs returns the number of tabs opened through the host and not yet closed
func (h *Host) OpenTabs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tabs)
}

// IsStarted reports whether the browser is running
func (h *Host) IsStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *Host) forget(id target.ID) {
	h.mu.Lock()
	delete(h.tabs, id)
	h.mu.Unlock()
}

// targetExists asks the browser whether id is still among its targets
func (h *Host) targetExists(ctx context.Context, id target.ID) (bool, error) {
	h.mu.Lock()
	browserCtx := h.browserCtx
	h.mu.Unlock()
	if browserCtx == nil || browserCtx.Err() != nil {
		return false, nil
	}

	infos, err := target.GetTargets().Do(cdp.WithExecutor(ctx, chromedp.FromContext(browserCtx).Browser))
	if err != nil {
		return false, fmt.Errorf("failed to list targets: %w", err)
	}
	for _, info := range infos {
		if info.TargetID == id {
			return true, nil
		}
	}
	return false, nil
}
