package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/interfaces"
	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/services/pages"
	"github.com/ternarybob/reelfetch/internal/services/pipeline"
)

// ErrInvalidRequest is returned by Submit for malformed requests
var ErrInvalidRequest = errors.New("invalid download request")

// StatusAccepted is the ack status for a queued batch
const StatusAccepted = "accepted"

// PhaseDownload labels failures handing the resolved URL to the downloader
const PhaseDownload = "download"

// Config controls item pacing and teardown
type Config struct {
	ReadyTimeout        time.Duration
	GracePeriod         time.Duration
	ItemDelay           time.Duration
	TeardownTimeout     time.Duration
	AbortOnReadyTimeout bool
	QueueSize           int
	Naming              FileNamer
}

// DefaultConfig mirrors the timings used against the live site
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:    20 * time.Second,
		GracePeriod:     2 * time.Second,
		ItemDelay:       1500 * time.Millisecond,
		TeardownTimeout: 10 * time.Second,
		QueueSize:       64,
		Naming: FileNamer{
			Subfolder:    "pmvhaven_downloads",
			Extension:    "mp4",
			FallbackName: "download",
		},
	}
}

// StateObserver is notified of every item state transition
type StateObserver func(item models.WorkItem, state models.ItemState)

// Stats is a snapshot of processor activity
type Stats struct {
	Queued     int    `json:"queued"`
	Busy       bool   `json:"busy"`
	CurrentURL string `json:"current_url,omitempty"`
	Batches    int    `json:"batches"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
}

// Processor runs queued batches one item at a time
type Processor struct {
	config     Config
	lifecycle  *pages.Lifecycle
	resolver   interfaces.PageResolver
	downloader interfaces.Downloader
	queue      *BatchQueue
	validate   *validator.Validate
	logger     arbor.ILogger
	observer   StateObserver

	mu    sync.Mutex
	stats Stats
}

// NewProcessor creates a processor with its own batch queue
func NewProcessor(config Config, lifecycle *pages.Lifecycle, resolver interfaces.PageResolver, downloader interfaces.Downloader, logger arbor.ILogger) *Processor {
	return &Processor{
		config:     config,
		lifecycle:  lifecycle,
		resolver:   resolver,
		downloader: downloader,
		queue:      NewBatchQueue(config.QueueSize),
		validate:   validator.New(),
		logger:     logger,
	}
}

// SetObserver registers a state observer. Call before Run.
func (p *Processor) SetObserver(observer StateObserver) {
	p.observer = observer
}

// Prepare validates the request and turns it into a batch with a new ID
func (p *Processor) Prepare(req models.DownloadRequest) (*models.Batch, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return models.NewBatch(uuid.New().String(), req.URLs), nil
}

// Submit validates the request, queues it as a new batch and returns at once
func (p *Processor) Submit(req models.DownloadRequest) (models.Ack, error) {
	batch, err := p.Prepare(req)
	if err != nil {
		return models.Ack{}, err
	}
	if err := p.queue.Push(batch); err != nil {
		return models.Ack{}, fmt.Errorf("failed to queue batch: %w", err)
	}

	p.logger.Info().
		Str("batch_id", batch.ID).
		Int("items", len(batch.Items)).
		Int("queued", p.queue.Len()).
		Msg("Batch accepted")

	return models.Ack{
		Status:  StatusAccepted,
		Message: "Processing started",
		BatchID: batch.ID,
		Items:   len(batch.Items),
	}, nil
}

// Run drains the queue until ctx is cancelled or Close is called
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info().Msg("Queue processor started")
	defer p.logger.Info().Msg("Queue processor stopped")

	for {
		batch, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if batch == nil {
			return nil
		}
		p.Process(ctx, batch)
	}
}

// Close stops accepting batches; Run returns once the queue drains
func (p *Processor) Close() {
	p.queue.Close()
}

// Stats returns a snapshot of processor activity
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Queued = p.queue.Len()
	return s
}

// Process runs every item of batch in order and reports the outcomes.
// A failed item never stops the batch; only cancellation does.
func (p *Processor) Process(ctx context.Context, batch *models.Batch) models.BatchReport {
	logger := p.logger.WithCorrelationId(batch.ID)
	report := models.BatchReport{
		BatchID:   batch.ID,
		StartedAt: time.Now(),
		Outcomes:  make([]models.ItemOutcome, 0, len(batch.Items)),
	}

	logger.Info().
		Str("batch_id", batch.ID).
		Int("items", len(batch.Items)).
		Msg("Processing batch")

	for _, item := range batch.Items {
		if ctx.Err() != nil {
			break
		}

		outcome := p.processItem(ctx, logger, item)
		report.Add(outcome)
		p.record(outcome)

		if item.IsLast() {
			break
		}
		if err := sleep(ctx, p.config.ItemDelay); err != nil {
			break
		}
	}

	report.FinishedAt = time.Now()

	p.mu.Lock()
	p.stats.Batches++
	p.stats.Busy = false
	p.stats.CurrentURL = ""
	p.mu.Unlock()

	ev := logger.Info()
	if report.Processed < len(batch.Items) {
		ev = logger.Warn()
	}
	ev.Str("batch_id", batch.ID).
		Int("items", len(batch.Items)).
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Batch finished")

	return report
}

func (p *Processor) processItem(ctx context.Context, logger arbor.ILogger, item models.WorkItem) (outcome models.ItemOutcome) {
	start := time.Now()
	outcome = models.ItemOutcome{PageURL: item.PageURL, Index: item.Index}

	p.mu.Lock()
	p.stats.Busy = true
	p.stats.CurrentURL = item.PageURL
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			outcome.Succeeded = false
			outcome.Error = fmt.Sprintf("panic: %v", r)
			logger.Error().
				Str("page_url", item.PageURL).
				Str("position", item.Position()).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic while processing item")
			p.notify(item, models.ItemStateFailed)
		}
		outcome.Duration = time.Since(start)
		p.notify(item, models.ItemStateDone)
	}()

	p.notify(item, models.ItemStatePending)
	logger.Info().
		Str("page_url", item.PageURL).
		Str("position", item.Position()).
		Msg("Processing item")

	pc, err := p.lifecycle.Open(ctx, item)
	if err != nil {
		p.fail(logger, item, &outcome, "open", err)
		return outcome
	}
	// Registered before any observer runs so a panicking observer still
	// releases the context
	defer p.teardown(ctx, logger, item, pc)
	p.notify(item, models.ItemStateContextOpened)

	ready, err := p.lifecycle.AwaitReady(ctx, pc, p.config.ReadyTimeout)
	if err != nil {
		p.fail(logger, item, &outcome, string(pipeline.PhaseReady), err)
		return outcome
	}
	if ready == pages.ReadyTimedOut {
		outcome.ReadyTimedOut = true
		if p.config.AbortOnReadyTimeout {
			p.fail(logger, item, &outcome, string(pipeline.PhaseReady), pages.ErrReadyTimeout)
			return outcome
		}
	}

	ref, err := p.resolver.Resolve(ctx, pc, item)
	if err != nil {
		phase := "resolve"
		var perr *pipeline.Error
		if errors.As(err, &perr) {
			phase = string(perr.Phase)
		}
		p.fail(logger, item, &outcome, phase, err)
		return outcome
	}
	p.notify(item, models.ItemStateResolved)

	destination := p.config.Naming.Destination(item.PageURL)
	if err := p.downloader.Enqueue(ctx, ref.URL, destination); err != nil {
		p.fail(logger, item, &outcome, PhaseDownload, err)
		return outcome
	}

	outcome.Succeeded = true
	outcome.ResourceURL = ref.URL
	outcome.Destination = destination

	logger.Info().
		Str("page_url", item.PageURL).
		Str("position", item.Position()).
		Str("resource_url", ref.URL).
		Str("kind", string(ref.Kind)).
		Str("destination", destination).
		Msg("Download handed off")

	return outcome
}

// teardown waits out the grace period and closes the context. It runs on
// every exit path of an item, including panics, and survives cancellation
// of ctx so that shutdown still releases the page.
func (p *Processor) teardown(ctx context.Context, logger arbor.ILogger, item models.WorkItem, pc interfaces.PageContext) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("handle", pc.Handle()).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic during teardown")
		}
		p.notify(item, models.ItemStateTornDown)
	}()

	// A cancelled ctx skips the grace period
	_ = sleep(ctx, p.config.GracePeriod)

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.TeardownTimeout)
	defer cancel()

	exists, err := p.lifecycle.Exists(tctx, pc)
	if err != nil {
		logger.Debug().Err(err).Str("handle", pc.Handle()).Msg("Existence check failed, closing anyway")
	} else if !exists {
		logger.Debug().Str("handle", pc.Handle()).Msg("Execution context already gone")
	}

	// Close also releases host-side resources for a context that is gone
	if err := p.lifecycle.Close(tctx, pc); err != nil {
		logger.Warn().
			Err(err).
			Str("handle", pc.Handle()).
			Str("page_url", item.PageURL).
			Msg("Teardown failed")
	}
}

func (p *Processor) fail(logger arbor.ILogger, item models.WorkItem, outcome *models.ItemOutcome, phase string, err error) {
	outcome.Succeeded = false
	outcome.Phase = phase
	outcome.Error = err.Error()

	ev := logger.Error().
		Err(err).
		Str("phase", phase).
		Str("page_url", item.PageURL).
		Str("batch_id", item.BatchID).
		Str("position", item.Position())

	var perr *pipeline.Error
	if errors.As(err, &perr) {
		if attempts := perr.Attempts(); attempts > 0 {
			ev = ev.Int("attempts", attempts)
		}
		if diag, ok := perr.Diagnostic(); ok {
			ev = ev.Bool("present", diag.Present).
				Bool("visible", diag.Visible).
				Int("candidates", diag.Candidates).
				Int("visible_unsuitable", diag.VisibleUnsuitable)
		}
	}
	ev.Msg("Item failed, continuing with next")

	p.notify(item, models.ItemStateFailed)
}

func (p *Processor) record(outcome models.ItemOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Processed++
	if outcome.Succeeded {
		p.stats.Succeeded++
	} else {
		p.stats.Failed++
	}
}

func (p *Processor) notify(item models.WorkItem, state models.ItemState) {
	if p.observer != nil {
		p.observer(item, state)
	}
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
