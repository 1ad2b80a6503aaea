package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/queue"
)

// DownloadHandler accepts batches of page URLs
type DownloadHandler struct {
	submitter BatchSubmitter
	logger    arbor.ILogger
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(submitter BatchSubmitter, logger arbor.ILogger) *DownloadHandler {
	return &DownloadHandler{
		submitter: submitter,
		logger:    logger,
	}
}

// SubmitHandler handles POST /api/downloads.
// It answers 202 as soon as the batch is queued.
func (h *DownloadHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.DownloadRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	// The action is implied by the route
	if req.Action == "" {
		req.Action = models.ActionDownloadSelected
	}

	ack, err := h.submitter.Submit(req)
	if err != nil {
		status := submitErrorStatus(err)
		h.logger.Warn().Err(err).Int("status", status).Msg("Download request rejected")
		WriteError(w, status, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, ack)
}

func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
