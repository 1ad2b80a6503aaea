package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/common"
	"github.com/ternarybob/reelfetch/internal/queue"
	"github.com/ternarybob/reelfetch/internal/services/downloads"
)

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Version   common.VersionInfo `json:"version"`
	Queue     queue.Stats        `json:"queue"`
	Downloads downloads.Stats    `json:"downloads"`
	Browser   BrowserStatus      `json:"browser"`
}

type BrowserStatus struct {
	Started  bool `json:"started"`
	OpenTabs int  `json:"open_tabs"`
}

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	queue     QueueStats
	downloads DownloadStats
	browser   BrowserState
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(queue QueueStats, downloads DownloadStats, browser BrowserState, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		queue:     queue,
		downloads: downloads,
		browser:   browser,
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, StatusResponse{
		Version:   common.GetVersionInfo(),
		Queue:     h.queue.Stats(),
		Downloads: h.downloads.Stats(),
		Browser: BrowserStatus{
			Started:  h.browser.IsStarted(),
			OpenTabs: h.browser.OpenTabs(),
		},
	})
}
