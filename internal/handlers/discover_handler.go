package handlers

import (
	"net/http"
	"net/url"

	"github.com/ternarybob/arbor"
)

// DiscoverHandler lists video page links found on a listing page
type DiscoverHandler struct {
	scanner LinkScanner
	logger  arbor.ILogger
}

// NewDiscoverHandler creates a new DiscoverHandler
func NewDiscoverHandler(scanner LinkScanner, logger arbor.ILogger) *DiscoverHandler {
	return &DiscoverHandler{
		scanner: scanner,
		logger:  logger,
	}
}

// ScanHandler handles GET /api/discover?url=
func (h *DiscoverHandler) ScanHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	target := r.URL.Query().Get("url")
	u, err := url.Parse(target)
	if target == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		WriteError(w, http.StatusBadRequest, "Query parameter 'url' must be an absolute http(s) URL")
		return
	}

	links, err := h.scanner.ScanURL(r.Context(), target)
	if err != nil {
		h.logger.Warn().Err(err).Str("url", target).Msg("Discovery failed")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"url":   target,
		"count": len(links),
		"links": links,
	})
}
