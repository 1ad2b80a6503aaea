package interfaces

import "context"

// Downloader receives resolved resource URLs.
// Enqueue hands the transfer off and returns without waiting for it to finish.
type Downloader interface {
	Enqueue(ctx context.Context, resourceURL, destination string) error
}
