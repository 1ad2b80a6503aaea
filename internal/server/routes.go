package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (link picker submits batches and receives progress)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Downloads
	mux.HandleFunc("/api/downloads", s.app.DownloadHandler.SubmitHandler) // POST - queue a batch, 202

	// API routes - Discovery
	mux.HandleFunc("/api/discover", s.app.DiscoverHandler.ScanHandler) // GET ?url=

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
