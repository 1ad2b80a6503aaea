package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/common"
	"github.com/ternarybob/reelfetch/internal/handlers"
	"github.com/ternarybob/reelfetch/internal/httpclient"
	"github.com/ternarybob/reelfetch/internal/interfaces"
	"github.com/ternarybob/reelfetch/internal/queue"
	"github.com/ternarybob/reelfetch/internal/services/browser"
	"github.com/ternarybob/reelfetch/internal/services/discovery"
	"github.com/ternarybob/reelfetch/internal/services/downloads"
	"github.com/ternarybob/reelfetch/internal/services/interaction"
	"github.com/ternarybob/reelfetch/internal/services/pages"
	"github.com/ternarybob/reelfetch/internal/services/pipeline"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Services
	Browser   *browser.Host
	PageHost  interfaces.PageHost
	Downloads *downloads.Service
	Processor *queue.Processor
	Scanner   *discovery.Scanner

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	DownloadHandler *handlers.DownloadHandler
	DiscoverHandler *handlers.DiscoverHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler

	externalHost bool
}

// Option customises New
type Option func(*App)

// WithPageHost replaces the Chrome host, which is then never started
func WithPageHost(host interfaces.PageHost) Option {
	return func(a *App) {
		a.PageHost = host
		a.externalHost = true
	}
}

// WithHTTPClient sets the client used for downloads
func WithHTTPClient(client *http.Client) Option {
	return func(a *App) {
		a.Downloads = downloads.NewService(downloadsConfig(a.Config), client, a.Logger)
	}
}

// New initializes the application with all dependencies. Nothing is
// started until Start.
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	app.Browser = browser.NewHost(browserConfig(cfg), logger)
	app.PageHost = app.Browser

	for _, opt := range opts {
		opt(app)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	logger.Debug().
		Bool("external_page_host", app.externalHost).
		Str("downloads_dir", cfg.Downloads.Dir).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initServices() error {
	if a.Downloads == nil {
		client, err := httpclient.NewClient(common.ParseDuration(a.Config.Downloads.RequestTimeout, 0), a.Config.Downloads.UserAgent)
		if err != nil {
			return err
		}
		a.Downloads = downloads.NewService(downloadsConfig(a.Config), client, a.Logger)
	}

	script := interaction.NewScript(interactionConfig(a.Config), a.Logger)
	a.Processor = queue.NewProcessor(
		queueConfig(a.Config),
		pages.NewLifecycle(a.PageHost, a.Logger),
		pipeline.New(script, a.Logger),
		a.Downloads,
		a.Logger,
	)

	discoveryClient, err := httpclient.NewClient(common.ParseDuration(a.Config.Discovery.RequestTimeout, 30*time.Second), a.Config.Browser.UserAgent)
	if err != nil {
		return err
	}
	a.Scanner = discovery.NewScanner(a.Config.Discovery.LinkSelector, discoveryClient, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.DownloadHandler = handlers.NewDownloadHandler(a.Processor, a.Logger)
	a.DiscoverHandler = handlers.NewDiscoverHandler(a.Scanner, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Processor, a.Downloads, a.Browser, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Processor, a.Config.WebSocket, a.Logger)

	// Item progress is pushed to connected sockets
	a.Processor.SetObserver(a.WSHandler.BroadcastItemState)
}

// Start launches the browser and the download workers
func (a *App) Start(ctx context.Context) error {
	if !a.externalHost {
		if err := a.Browser.Start(ctx); err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
	}
	a.Downloads.Start(ctx)
	return nil
}

// RunQueue drains submitted batches until ctx is cancelled
func (a *App) RunQueue(ctx context.Context) error {
	return a.Processor.Run(ctx)
}

// Close stops accepting work and shuts the browser down. Queued downloads
// finish, or are recorded as failed when the Start ctx is already cancelled.
func (a *App) Close() error {
	a.Processor.Close()
	a.Downloads.Stop()

	if err := a.Browser.Shutdown(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to shut down browser")
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}

func browserConfig(cfg *common.Config) browser.Config {
	return browser.Config{
		Headless:        cfg.Browser.Headless,
		DisableGPU:      cfg.Browser.DisableGPU,
		NoSandbox:       cfg.Browser.NoSandbox,
		UserAgent:       cfg.Browser.UserAgent,
		ExecPath:        cfg.Browser.ExecPath,
		StartupTimeout:  common.ParseDuration(cfg.Browser.StartupTimeout, 30*time.Second),
		ShutdownTimeout: common.ParseDuration(cfg.Browser.ShutdownTimeout, 30*time.Second),
	}
}

func interactionConfig(cfg *common.Config) interaction.Config {
	a := cfg.Automation
	return interaction.Config{
		ScrollY:           a.ScrollY,
		ScrollSettle:      common.ParseDuration(a.ScrollSettle, 500*time.Millisecond),
		ControlSelector:   a.ControlSelector,
		ControlLabel:      a.ControlLabel,
		InitialAttempts:   a.InitialAttempts,
		InitialInterval:   common.ParseDuration(a.InitialInterval, 500*time.Millisecond),
		SettleDelay:       common.ParseDuration(a.SettleDelay, 3*time.Second),
		ResourceSelector:  a.ResourceSelector,
		ContainerSelector: a.ContainerSelector,
		MarkerSelector:    a.MarkerSelector,
		MarkerLabel:       a.MarkerLabel,
		ResourceAttempts:  a.ResourceAttempts,
		ResourceInterval:  common.ParseDuration(a.ResourceInterval, 500*time.Millisecond),
	}
}

func queueConfig(cfg *common.Config) queue.Config {
	return queue.Config{
		ReadyTimeout:        common.ParseDuration(cfg.Automation.ReadyTimeout, 20*time.Second),
		AbortOnReadyTimeout: cfg.Automation.AbortOnReadyTimeout,
		GracePeriod:         common.ParseDuration(cfg.Queue.GracePeriod, 2*time.Second),
		ItemDelay:           common.ParseDuration(cfg.Queue.ItemDelay, 1500*time.Millisecond),
		TeardownTimeout:     common.ParseDuration(cfg.Queue.TeardownTimeout, 10*time.Second),
		QueueSize:           cfg.Queue.Size,
		Naming: queue.FileNamer{
			Subfolder:    cfg.Downloads.Subfolder,
			Extension:    cfg.Downloads.Extension,
			FallbackName: cfg.Downloads.FallbackName,
		},
	}
}

func downloadsConfig(cfg *common.Config) downloads.Config {
	return downloads.Config{
		Dir:           cfg.Downloads.Dir,
		Workers:       cfg.Downloads.Workers,
		QueueSize:     cfg.Downloads.QueueSize,
		RatePerSecond: cfg.Downloads.RatePerSecond,
		Burst:         cfg.Downloads.Burst,
	}
}
