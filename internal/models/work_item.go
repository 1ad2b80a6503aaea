package models

import "fmt"

// ActionDownloadSelected is the only inbound action the queue accepts
const ActionDownloadSelected = "downloadSelected"

// DownloadRequest is the inbound message from the link picker.
// URLs are processed in the order given.
type DownloadRequest struct {
	Action string   `json:"action" yaml:"action" validate:"required,eq=downloadSelected"`
	URLs   []string `json:"urls" yaml:"urls" validate:"required,min=1,dive,required,http_url"`
}

// Ack is returned to the caller as soon as a batch has been queued
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	BatchID string `json:"batch_id,omitempty"`
	Items   int    `json:"items"`
}

// WorkItem is one page URL submitted for processing.
// It is consumed exactly once and never mutated.
type WorkItem struct {
	BatchID string
	Index   int // zero-based position within the batch
	Total   int
	PageURL string
}

// Position renders the 1-based "i/n" label used in logs
func (w WorkItem) Position() string {
	return fmt.Sprintf("%d/%d", w.Index+1, w.Total)
}

// IsLast reports whether no item follows this one in its batch
func (w WorkItem) IsLast() bool {
	return w.Index >= w.Total-1
}

// Batch is an ordered list of work items sharing one submission
type Batch struct {
	ID    string
	Items []WorkItem
}

// NewBatch builds the work items for the given page URLs, preserving order
func NewBatch(id string, pageURLs []string) *Batch {
	items := make([]WorkItem, len(pageURLs))
	for i, u := range pageURLs {
		items[i] = WorkItem{
			BatchID: id,
			Index:   i,
			Total:   len(pageURLs),
			PageURL: u,
		}
	}
	return &Batch{ID: id, Items: items}
}
