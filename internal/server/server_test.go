package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/app"
	"github.com/ternarybob/reelfetch/internal/common"
	"github.com/ternarybob/reelfetch/internal/services/browser/browsertest"
)

func newTestServer(t *testing.T) *Server {
	cfg := common.NewDefaultConfig()
	cfg.Downloads.Dir = t.TempDir()

	application, err := app.New(cfg, arbor.NewLogger(), app.WithPageHost(browsertest.NewHost(nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	return New(application)
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "health", method: http.MethodGet, path: "/api/health", want: http.StatusOK},
		{name: "version", method: http.MethodGet, path: "/api/version", want: http.StatusOK},
		{name: "status", method: http.MethodGet, path: "/api/status", want: http.StatusOK},
		{name: "unknown api route", method: http.MethodGet, path: "/api/nope", want: http.StatusNotFound},
		{name: "downloads wrong method", method: http.MethodGet, path: "/api/downloads", want: http.StatusMethodNotAllowed},
		{name: "downloads empty batch", method: http.MethodPost, path: "/api/downloads", body: `{"urls":[]}`, want: http.StatusBadRequest},
		{name: "discover missing url", method: http.MethodGet, path: "/api/discover", want: http.StatusBadRequest},
		{name: "preflight", method: http.MethodOptions, path: "/api/downloads", want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := newTestServer(t)

	handler := srv.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
