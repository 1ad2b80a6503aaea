package downloads

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newService(t *testing.T, dir string) *Service {
	t.Helper()
	return NewService(Config{Dir: dir, Workers: 2, QueueSize: 4}, http.DefaultClient, arbor.NewLogger())
}

func TestService_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/def456.bin":
			_, _ = w.Write([]byte("video-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	svc := newService(t, dir)
	svc.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, svc.Enqueue(ctx, srv.URL+"/files/def456.bin", "subfolder/def456.bin"))
	require.NoError(t, svc.Enqueue(ctx, srv.URL+"/files/missing.bin", "subfolder/missing.bin"))
	svc.Stop()

	data, err := os.ReadFile(filepath.Join(dir, "subfolder", "def456.bin"))
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	_, err = os.Stat(filepath.Join(dir, "subfolder", "missing.bin"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "subfolder", "missing.bin.part"))
	assert.True(t, os.IsNotExist(err))

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(len("video-bytes")), stats.Bytes)
}

func TestService_RejectsUnsafeDestination(t *testing.T) {
	svc := newService(t, t.TempDir())

	tests := []string{"../escape.mp4", "/abs/path.mp4", ""}
	for _, dest := range tests {
		t.Run(dest, func(t *testing.T) {
			assert.ErrorIs(t, svc.Enqueue(context.Background(), "https://cdn.example/a", dest), ErrUnsafeDestination)
		})
	}
}

func TestService_EnqueueAfterStop(t *testing.T) {
	svc := newService(t, t.TempDir())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()

	assert.ErrorIs(t, svc.Enqueue(context.Background(), "https://cdn.example/a", "a.mp4"), ErrStopped)
}

func TestService_EnqueueRespectsContextWhenFull(t *testing.T) {
	svc := NewService(Config{Dir: t.TempDir(), QueueSize: 1}, http.DefaultClient, arbor.NewLogger())
	// Workers not started, so the queue stays full
	require.NoError(t, svc.Enqueue(context.Background(), "https://cdn.example/a", "a.mp4"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Enqueue(ctx, "https://cdn.example/b", "b.mp4"), context.DeadlineExceeded)
	assert.Equal(t, 1, svc.Stats().Pending)
}

func TestService_CancelAccountsForQueuedJobs(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	svc := NewService(Config{Dir: t.TempDir(), Workers: 1, QueueSize: 4}, http.DefaultClient, arbor.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	const enqueued = 3
	for i := 0; i < enqueued; i++ {
		require.NoError(t, svc.Enqueue(context.Background(), srv.URL+"/slow", "subfolder/slow.bin"))
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first transfer never reached the server")
	}
	cancel()
	svc.Stop()

	stats := svc.Stats()
	assert.Equal(t, int64(enqueued), stats.Completed+stats.Failed)
	assert.Equal(t, int64(enqueued), stats.Failed)
	assert.Zero(t, stats.Pending)
}
