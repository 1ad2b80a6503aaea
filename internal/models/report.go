package models

import "time"

// ItemState tracks a work item through the queue processor
type ItemState string

const (
	ItemStatePending       ItemState = "pending"
	ItemStateContextOpened ItemState = "context_opened"
	ItemStateResolved      ItemState = "resolved"
	ItemStateFailed        ItemState = "failed"
	ItemStateTornDown      ItemState = "torn_down"
	ItemStateDone          ItemState = "done"
)

// ItemOutcome is the recorded result of processing one work item
type ItemOutcome struct {
	PageURL       string        `json:"page_url"`
	Index         int           `json:"index"`
	Succeeded     bool          `json:"succeeded"`
	ResourceURL   string        `json:"resource_url,omitempty"`
	Destination   string        `json:"destination,omitempty"`
	Phase         string        `json:"phase,omitempty"`
	Error         string        `json:"error,omitempty"`
	ReadyTimedOut bool          `json:"ready_timed_out,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// BatchReport summarises a processed batch
type BatchReport struct {
	BatchID    string        `json:"batch_id"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Outcomes   []ItemOutcome `json:"outcomes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Add records an outcome and updates the counters
func (r *BatchReport) Add(o ItemOutcome) {
	r.Processed++
	if o.Succeeded {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}
