package handlers

import (
	"context"

	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/queue"
	"github.com/ternarybob/reelfetch/internal/services/discovery"
	"github.com/ternarybob/reelfetch/internal/services/downloads"
)

// BatchSubmitter queues download requests
type BatchSubmitter interface {
	Submit(req models.DownloadRequest) (models.Ack, error)
}

// LinkScanner lists the video pages linked from a listing page
type LinkScanner interface {
	ScanURL(ctx context.Context, pageURL string) ([]discovery.Link, error)
}

// QueueStats reports queue processor activity
type QueueStats interface {
	Stats() queue.Stats
}

// DownloadStats reports transfer counters
type DownloadStats interface {
	Stats() downloads.Stats
}

// BrowserState reports whether the browser is up
type BrowserState interface {
	IsStarted() bool
	OpenTabs() int
}
