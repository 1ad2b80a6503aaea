package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/queue"
	"github.com/ternarybob/reelfetch/internal/services/discovery"
	"github.com/ternarybob/reelfetch/internal/services/downloads"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []models.DownloadRequest
	err  error
}

func (f *fakeSubmitter) Submit(req models.DownloadRequest) (models.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Ack{}, f.err
	}
	f.reqs = append(f.reqs, req)
	return models.Ack{Status: queue.StatusAccepted, BatchID: "batch-1", Items: len(req.URLs)}, nil
}

func (f *fakeSubmitter) Requests() []models.DownloadRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DownloadRequest(nil), f.reqs...)
}

func TestDownloadHandler_Submit(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		err        error
		wantStatus int
	}{
		{
			name:       "accepted",
			method:     http.MethodPost,
			body:       `{"action":"downloadSelected","urls":["https://x/video/abc123"]}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "action implied",
			method:     http.MethodPost,
			body:       `{"urls":["https://x/video/abc123"]}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "malformed body",
			method:     http.MethodPost,
			body:       `{"urls":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			method:     http.MethodPost,
			body:       `{"urls":["https://x/video/a"],"extra":1}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid request",
			method:     http.MethodPost,
			body:       `{"urls":[]}`,
			err:        fmt.Errorf("%w: empty", queue.ErrInvalidRequest),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "queue full",
			method:     http.MethodPost,
			body:       `{"urls":["https://x/video/a"]}`,
			err:        fmt.Errorf("failed to queue batch: %w", queue.ErrQueueFull),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.err}
			h := NewDownloadHandler(sub, arbor.NewLogger())

			req := httptest.NewRequest(tt.method, "/api/downloads", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.SubmitHandler(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusAccepted {
				var ack models.Ack
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
				assert.Equal(t, "accepted", ack.Status)
				require.Len(t, sub.Requests(), 1)
				assert.Equal(t, models.ActionDownloadSelected, sub.Requests()[0].Action)
			}
		})
	}
}

type fakeScanner struct {
	links []discovery.Link
	err   error
}

func (f *fakeScanner) ScanURL(ctx context.Context, pageURL string) ([]discovery.Link, error) {
	return f.links, f.err
}

func TestDiscoverHandler(t *testing.T) {
	links := []discovery.Link{{URL: "https://x/video/abc123", Title: "First"}}

	tests := []struct {
		name       string
		query      string
		scanner    *fakeScanner
		wantStatus int
	}{
		{name: "ok", query: "?url=https://x/browse", scanner: &fakeScanner{links: links}, wantStatus: http.StatusOK},
		{name: "missing url", query: "", scanner: &fakeScanner{}, wantStatus: http.StatusBadRequest},
		{name: "relative url", query: "?url=/browse", scanner: &fakeScanner{}, wantStatus: http.StatusBadRequest},
		{name: "upstream failure", query: "?url=https://x/browse", scanner: &fakeScanner{err: errors.New("status 500")}, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDiscoverHandler(tt.scanner, arbor.NewLogger())
			rec := httptest.NewRecorder()
			h.ScanHandler(rec, httptest.NewRequest(http.MethodGet, "/api/discover"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				var body struct {
					Count int              `json:"count"`
					Links []discovery.Link `json:"links"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, 1, body.Count)
				assert.Equal(t, links, body.Links)
			}
		})
	}
}

type fakeStats struct{}

func (fakeStats) Stats() queue.Stats { return queue.Stats{Queued: 2, Busy: true, Processed: 5} }

type fakeDownloadStats struct{}

func (fakeDownloadStats) Stats() downloads.Stats { return downloads.Stats{Completed: 4} }

type fakeBrowser struct{}

func (fakeBrowser) IsStarted() bool { return true }
func (fakeBrowser) OpenTabs() int   { return 1 }

func TestStatusHandler(t *testing.T) {
	h := NewStatusHandler(fakeStats{}, fakeDownloadStats{}, fakeBrowser{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.GetStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Queue.Queued)
	assert.True(t, body.Queue.Busy)
	assert.Equal(t, int64(4), body.Downloads.Completed)
	assert.Equal(t, BrowserStatus{Started: true, OpenTabs: 1}, body.Browser)

	rec = httptest.NewRecorder()
	h.GetStatusHandler(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
