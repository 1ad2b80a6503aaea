package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/services/browser/browsertest"
	"github.com/ternarybob/reelfetch/internal/services/interaction"
	"github.com/ternarybob/reelfetch/internal/services/pages"
	"github.com/ternarybob/reelfetch/internal/services/pipeline"
)

type handoff struct {
	URL         string
	Destination string
}

type fakeDownloader struct {
	mu      sync.Mutex
	calls   []handoff
	err     error
	panicOn string
}

func (d *fakeDownloader) Enqueue(ctx context.Context, resourceURL, destination string) error {
	if d.panicOn != "" && strings.Contains(resourceURL, d.panicOn) {
		panic("downloader exploded")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, handoff{URL: resourceURL, Destination: destination})
	return d.err
}

func (d *fakeDownloader) Calls() []handoff {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]handoff(nil), d.calls...)
}

type transition struct {
	Index int
	State models.ItemState
}

// sitePage builds a page whose control appears only when control is true
// and whose resource link is resourceURL
func sitePage(pageURL string, control bool, resourceURL string) *browsertest.Page {
	page := browsertest.NewPage("tab-"+pageURL, pageURL)
	page.OnOpen = func(p *browsertest.Page) { p.Load() }
	page.OnQuery = func(expression string) (any, error) {
		switch {
		case interaction.IsScript(expression, interaction.ScriptInspectControl):
			if !control {
				return interaction.ControlState{}, nil
			}
			return interaction.ControlState{Present: true, TextMatch: true, Visible: true}, nil
		case interaction.IsScript(expression, interaction.ScriptScanResources):
			return []interaction.Candidate{{Href: resourceURL, Visible: true, Marked: true}}, nil
		}
		return nil, nil
	}
	page.OnAct = func(expression string) (any, error) {
		if interaction.IsScript(expression, interaction.ScriptClickControl) {
			return interaction.ClickResult{Clicked: true}, nil
		}
		return true, nil
	}
	return page
}

func testConfig() Config {
	return Config{
		ReadyTimeout:    50 * time.Millisecond,
		GracePeriod:     time.Millisecond,
		ItemDelay:       time.Millisecond,
		TeardownTimeout: time.Second,
		QueueSize:       8,
		Naming: FileNamer{
			Subfolder:    "subfolder",
			Extension:    "bin",
			FallbackName: "download",
		},
	}
}

func newTestProcessor(cfg Config, host *browsertest.Host, dl *fakeDownloader) *Processor {
	logger := arbor.NewLogger()
	script := interaction.NewScript(interaction.Config{
		ScrollY:           312,
		ControlSelector:   "div.mt-2.download-btn a.pa-2.download-btn",
		ControlLabel:      "Download",
		InitialAttempts:   3,
		InitialInterval:   time.Millisecond,
		SettleDelay:       time.Millisecond,
		ResourceSelector:  `a[href*="cdn.example"]`,
		ContainerSelector: "div.mt-2.download-btn",
		MarkerSelector:    "button",
		MarkerLabel:       "SOURCE",
		ResourceAttempts:  3,
		ResourceInterval:  time.Millisecond,
	}, logger)
	return NewProcessor(cfg, pages.NewLifecycle(host, logger), pipeline.New(script, logger), dl, logger)
}

func TestProcessor_EndToEnd(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		if strings.HasSuffix(url, "abc123") {
			return sitePage(url, false, "")
		}
		return sitePage(url, true, "https://cdn.example/files/def456.bin")
	})
	dl := &fakeDownloader{}
	p := newTestProcessor(testConfig(), host, dl)

	batch := models.NewBatch("batch-1", []string{"https://x/video/abc123", "https://x/video/def456"})
	report := p.Process(context.Background(), batch)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	want := []handoff{{URL: "https://cdn.example/files/def456.bin", Destination: "subfolder/def456.bin"}}
	if diff := cmp.Diff(want, dl.Calls()); diff != "" {
		t.Errorf("download hand-offs mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, host.Pages(), 2)
	for _, page := range host.Pages() {
		assert.Equal(t, 1, page.CloseCalls(), page.URL())
		assert.Zero(t, page.ActiveListeners(), page.URL())
	}
	assert.Equal(t, 1, host.MaxOpen(), "contexts must never overlap")
	assert.Zero(t, host.OpenNow())

	failed := report.Outcomes[0]
	assert.False(t, failed.Succeeded)
	assert.Equal(t, string(pipeline.PhaseInitialAction), failed.Phase)
	assert.Equal(t, "https://x/video/abc123", failed.PageURL)
	assert.Equal(t, "subfolder/def456.bin", report.Outcomes[1].Destination)
}

func TestProcessor_StateTransitions(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		return sitePage(url, strings.HasSuffix(url, "ok"), "https://cdn.example/files/ok.bin")
	})
	dl := &fakeDownloader{}
	p := newTestProcessor(testConfig(), host, dl)

	var mu sync.Mutex
	var got []transition
	p.SetObserver(func(item models.WorkItem, state models.ItemState) {
		mu.Lock()
		got = append(got, transition{Index: item.Index, State: state})
		mu.Unlock()
	})

	p.Process(context.Background(), models.NewBatch("b", []string{"https://x/video/ok", "https://x/video/bad"}))

	want := []transition{
		{0, models.ItemStatePending},
		{0, models.ItemStateContextOpened},
		{0, models.ItemStateResolved},
		{0, models.ItemStateTornDown},
		{0, models.ItemStateDone},
		{1, models.ItemStatePending},
		{1, models.ItemStateContextOpened},
		{1, models.ItemStateFailed},
		{1, models.ItemStateTornDown},
		{1, models.ItemStateDone},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessor_ReadyTimeout(t *testing.T) {
	tests := []struct {
		name          string
		abort         bool
		wantSucceeded bool
		wantDownloads int
	}{
		{name: "tolerated by default", abort: false, wantSucceeded: true, wantDownloads: 1},
		{name: "aborts when configured", abort: true, wantSucceeded: false, wantDownloads: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := browsertest.NewHost(func(url string) *browsertest.Page {
				page := sitePage(url, true, "https://cdn.example/files/slow.bin")
				page.OnOpen = nil // never loads
				return page
			})
			dl := &fakeDownloader{}
			cfg := testConfig()
			cfg.ReadyTimeout = 5 * time.Millisecond
			cfg.AbortOnReadyTimeout = tt.abort
			p := newTestProcessor(cfg, host, dl)

			report := p.Process(context.Background(), models.NewBatch("b", []string{"https://x/video/slow"}))

			require.Len(t, report.Outcomes, 1)
			assert.True(t, report.Outcomes[0].ReadyTimedOut)
			assert.Equal(t, tt.wantSucceeded, report.Outcomes[0].Succeeded)
			assert.Len(t, dl.Calls(), tt.wantDownloads)
			assert.Equal(t, 1, host.Pages()[0].CloseCalls())
		})
	}
}

func TestProcessor_ContextDestroyedBeforeLoad(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		page := sitePage(url, true, "https://cdn.example/files/"+url[strings.LastIndex(url, "/")+1:]+".bin")
		if strings.HasSuffix(url, "gone") {
			page.OnOpen = func(p *browsertest.Page) { p.Destroy() }
		}
		return page
	})
	dl := &fakeDownloader{}
	p := newTestProcessor(testConfig(), host, dl)

	report := p.Process(context.Background(), models.NewBatch("b", []string{"https://x/video/gone", "https://x/video/next"}))

	require.Len(t, report.Outcomes, 2)
	assert.False(t, report.Outcomes[0].Succeeded)
	assert.Equal(t, string(pipeline.PhaseReady), report.Outcomes[0].Phase)
	assert.True(t, report.Outcomes[1].Succeeded)
	assert.Empty(t, host.Pages()[0].Queries(), "no probes against a destroyed context")
	assert.Len(t, dl.Calls(), 1)
}

func TestProcessor_PanicIsolated(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		return sitePage(url, true, "https://cdn.example/files/"+url[strings.LastIndex(url, "/")+1:]+".bin")
	})
	dl := &fakeDownloader{panicOn: "first"}
	p := newTestProcessor(testConfig(), host, dl)

	report := p.Process(context.Background(), models.NewBatch("b", []string{"https://x/video/first", "https://x/video/second"}))

	require.Len(t, report.Outcomes, 2)
	assert.False(t, report.Outcomes[0].Succeeded)
	assert.Contains(t, report.Outcomes[0].Error, "panic")
	assert.True(t, report.Outcomes[1].Succeeded)
	for _, page := range host.Pages() {
		assert.Equal(t, 1, page.CloseCalls())
	}
	assert.Zero(t, host.OpenNow())
}

func TestProcessor_ObserverPanicAfterOpenReleasesContext(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		return sitePage(url, true, "https://cdn.example/files/"+url[strings.LastIndex(url, "/")+1:]+".bin")
	})
	dl := &fakeDownloader{}
	p := newTestProcessor(testConfig(), host, dl)
	p.SetObserver(func(item models.WorkItem, state models.ItemState) {
		if item.Index == 0 && state == models.ItemStateContextOpened {
			panic("observer exploded")
		}
	})

	report := p.Process(context.Background(), models.NewBatch("b", []string{"https://x/video/a", "https://x/video/b"}))

	require.Len(t, report.Outcomes, 2)
	assert.False(t, report.Outcomes[0].Succeeded)
	assert.Contains(t, report.Outcomes[0].Error, "observer exploded")
	assert.True(t, report.Outcomes[1].Succeeded)

	require.Len(t, host.Pages(), 2)
	for _, page := range host.Pages() {
		assert.Equal(t, 1, page.CloseCalls(), page.URL())
	}
	assert.Equal(t, 1, host.MaxOpen())
	assert.Zero(t, host.OpenNow())
}

func TestProcessor_OpenFailure(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		return sitePage(url, true, "https://cdn.example/files/ok.bin")
	})
	host.OpenErr = map[string]error{"https://x/video/broken": errors.New("target creation refused")}
	dl := &fakeDownloader{}
	p := newTestProcessor(testConfig(), host, dl)

	report := p.Process(context.Background(), models.NewBatch("b", []string{"https://x/video/broken", "https://x/video/ok"}))

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, "open", report.Outcomes[0].Phase)
	assert.True(t, report.Outcomes[1].Succeeded)
	assert.Equal(t, []string{"https://x/video/broken", "https://x/video/ok"}, host.Opened())
}

func TestProcessor_CancelStopsBatchButReleasesContext(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		return sitePage(url, true, "https://cdn.example/files/a.bin")
	})
	dl := &fakeDownloader{}
	cfg := testConfig()
	cfg.GracePeriod = time.Hour
	cfg.ItemDelay = time.Hour
	p := newTestProcessor(cfg, host, dl)

	ctx, cancel := context.WithCancel(context.Background())
	p.SetObserver(func(item models.WorkItem, state models.ItemState) {
		if state == models.ItemStateResolved {
			cancel()
		}
	})

	done := make(chan models.BatchReport, 1)
	go func() {
		done <- p.Process(ctx, models.NewBatch("b", []string{"https://x/video/a", "https://x/video/b"}))
	}()

	select {
	case report := <-done:
		assert.Equal(t, 1, report.Processed)
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not return after cancellation")
	}
	require.Len(t, host.Pages(), 1)
	assert.Equal(t, 1, host.Pages()[0].CloseCalls())
}

func TestProcessor_Submit(t *testing.T) {
	tests := []struct {
		name    string
		req     models.DownloadRequest
		wantErr bool
	}{
		{
			name: "valid",
			req:  models.DownloadRequest{Action: models.ActionDownloadSelected, URLs: []string{"https://x/video/a"}},
		},
		{
			name:    "empty list",
			req:     models.DownloadRequest{Action: models.ActionDownloadSelected},
			wantErr: true,
		},
		{
			name:    "wrong action",
			req:     models.DownloadRequest{Action: "scan", URLs: []string{"https://x/video/a"}},
			wantErr: true,
		},
		{
			name:    "not a url",
			req:     models.DownloadRequest{Action: models.ActionDownloadSelected, URLs: []string{"video/a"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(testConfig(), browsertest.NewHost(nil), &fakeDownloader{})
			ack, err := p.Submit(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRequest)
				assert.Zero(t, p.Stats().Queued)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusAccepted, ack.Status)
			assert.NotEmpty(t, ack.BatchID)
			assert.Equal(t, len(tt.req.URLs), ack.Items)
			assert.Equal(t, 1, p.Stats().Queued)
		})
	}
}

func TestProcessor_RunDrainsBatchesInOrder(t *testing.T) {
	host := browsertest.NewHost(func(url string) *browsertest.Page {
		return sitePage(url, true, "https://cdn.example/files/"+url[strings.LastIndex(url, "/")+1:]+".bin")
	})
	dl := &fakeDownloader{}
	p := newTestProcessor(testConfig(), host, dl)

	_, err := p.Submit(models.DownloadRequest{Action: models.ActionDownloadSelected, URLs: []string{"https://x/video/a", "https://x/video/b"}})
	require.NoError(t, err)
	_, err = p.Submit(models.DownloadRequest{Action: models.ActionDownloadSelected, URLs: []string{"https://x/video/c"}})
	require.NoError(t, err)
	p.Close()

	require.NoError(t, p.Run(context.Background()))

	want := []handoff{
		{URL: "https://cdn.example/files/a.bin", Destination: "subfolder/a.bin"},
		{URL: "https://cdn.example/files/b.bin", Destination: "subfolder/b.bin"},
		{URL: "https://cdn.example/files/c.bin", Destination: "subfolder/c.bin"},
	}
	if diff := cmp.Diff(want, dl.Calls()); diff != "" {
		t.Errorf("hand-offs mismatch (-want +got):\n%s", diff)
	}

	stats := p.Stats()
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 3, stats.Succeeded)
	assert.False(t, stats.Busy)
	assert.Equal(t, 1, host.MaxOpen())
}

func TestProcessor_RunStopsOnCancel(t *testing.T) {
	p := newTestProcessor(testConfig(), browsertest.NewHost(nil), &fakeDownloader{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
