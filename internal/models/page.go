package models

import "errors"

// ReadyState is the load state of an execution context
type ReadyState string

const (
	ReadyStateLoading   ReadyState = "loading"
	ReadyStateReady     ReadyState = "ready"
	ReadyStateDestroyed ReadyState = "destroyed"
)

// PageEventType identifies the lifecycle signals a page context emits
type PageEventType string

const (
	PageEventLoaded    PageEventType = "load_complete"
	PageEventDestroyed PageEventType = "destroyed"
)

// PageEvent is delivered to listeners subscribed on a page context
type PageEvent struct {
	Type   PageEventType
	Handle string
}

// ErrContextDestroyed is returned when an execution context disappears
// before or while it is being used.
var ErrContextDestroyed = errors.New("execution context destroyed")

// CandidateKind records which rule picked the resolved resource link
type CandidateKind string

const (
	CandidateMarked   CandidateKind = "marked"
	CandidateFallback CandidateKind = "fallback"
)

// ResourceReference is the absolute download URL resolved from a page
type ResourceReference struct {
	URL     string
	PageURL string
	Kind    CandidateKind
}
