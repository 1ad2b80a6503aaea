package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/common"
	"github.com/ternarybob/reelfetch/internal/interfaces"
	"golang.org/x/time/rate"
)

var (
	// ErrStopped is returned by Enqueue after Stop
	ErrStopped = errors.New("download service stopped")
	// ErrUnsafeDestination is returned for destinations outside the download directory
	ErrUnsafeDestination = errors.New("destination escapes download directory")
)

// Config controls where and how fast files are fetched
type Config struct {
	Dir           string
	Workers       int
	QueueSize     int
	RatePerSecond float64
	Burst         int
}

// Stats counts finished transfers
type Stats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Bytes     int64 `json:"bytes"`
}

type job struct {
	url         string
	destination string
}

// Service streams resolved resource URLs to disk on background workers.
// Enqueue only queues the transfer.
type Service struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger

	jobs    chan job
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

var _ interfaces.Downloader = (*Service)(nil)

// NewService creates a service; call Start before Enqueue
func NewService(config Config, client *http.Client, logger arbor.ILogger) *Service {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Service{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		jobs:    make(chan job, config.QueueSize),
	}
}

// Start launches the workers. They exit once Stop is called. After ctx is
// cancelled, queued jobs are recorded as failed instead of fetched.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().
		Int("workers", s.config.Workers).
		Str("dir", s.config.Dir).
		Msg("Starting download workers")

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		workerID := i
		common.SafeGo(s.logger, fmt.Sprintf("download-worker-%d", workerID), func() {
			defer s.wg.Done()
			s.worker(ctx, workerID)
		})
	}
}

// Stop stops accepting transfers and waits until every queued one has
// finished or been recorded as failed
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().
		Int64("completed", s.completed.Load()).
		Int64("failed", s.failed.Load()).
		Msg("Download workers stopped")
}

// Enqueue queues a transfer of resourceURL into destination, relative to
// the download directory. It blocks only while the queue is full.
func (s *Service) Enqueue(ctx context.Context, resourceURL, destination string) error {
	if !filepath.IsLocal(filepath.FromSlash(destination)) {
		return fmt.Errorf("%w: %s", ErrUnsafeDestination, destination)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}

	select {
	case s.jobs <- job{url: resourceURL, destination: destination}:
		s.logger.Debug().
			Str("url", resourceURL).
			Str("destination", destination).
			Msg("Download queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns transfer counters
func (s *Service) Stats() Stats {
	return Stats{
		Pending:   len(s.jobs),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Bytes:     s.bytes.Load(),
	}
}

func (s *Service) worker(ctx context.Context, workerID int) {
	// Runs until Stop closes the queue so every handed-off job gets an outcome
	for j := range s.jobs {
		if err := ctx.Err(); err != nil {
			s.failed.Add(1)
			s.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("url", j.url).
				Str("destination", j.destination).
				Msg("Download abandoned on shutdown")
			continue
		}

		start := time.Now()
		n, err := s.fetch(ctx, j)
		if err != nil {
			s.failed.Add(1)
			s.logger.Error().
				Err(err).
				Int("worker_id", workerID).
				Str("url", j.url).
				Str("destination", j.destination).
				Msg("Download failed")
			continue
		}
		s.completed.Add(1)
		s.bytes.Add(n)
		s.logger.Info().
			Int("worker_id", workerID).
			Str("destination", j.destination).
			Int64("bytes", n).
			Dur("elapsed", time.Since(start)).
			Msg("Download complete")
	}
}

// fetch streams the body to a temporary file and renames it into place
func (s *Service) fetch(ctx context.Context, j job) (int64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	target := filepath.Join(s.config.Dir, filepath.FromSlash(j.destination))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := target + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to write %s: %w", j.destination, errors.Join(copyErr, closeErr))
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("failed to move %s into place: %w", j.destination, err)
	}
	return n, nil
}
