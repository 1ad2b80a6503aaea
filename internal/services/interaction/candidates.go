package interaction

import (
	"strings"

	"github.com/ternarybob/reelfetch/internal/models"
	"github.com/ternarybob/reelfetch/internal/services/probe"
)

// ControlState is what inspectControl reports about the Phase A control
type ControlState struct {
	Present   bool   `json:"present"`
	TextMatch bool   `json:"text_match"`
	Visible   bool   `json:"visible"`
	OuterHTML string `json:"outer_html"`
}

// Ready reports whether the control can be clicked now
func (c ControlState) Ready() bool {
	return c.Present && c.TextMatch && c.Visible
}

// Diagnostic converts the state into a probe snapshot
func (c ControlState) Diagnostic() probe.Diagnostic {
	d := probe.Diagnostic{
		Present: c.Present,
		Visible: c.Visible,
		Detail:  c.OuterHTML,
	}
	if c.Present {
		d.Candidates = 1
		if c.Visible && !c.TextMatch {
			d.VisibleUnsuitable = 1
		}
	}
	return d
}

// ClickResult is what clickControl reports
type ClickResult struct {
	Clicked           bool `json:"clicked"`
	VisibleAfterClick bool `json:"visible_after_click"`
}

// Candidate is one anchor matching the resource locator
type Candidate struct {
	Href          string `json:"href"`
	Visible       bool   `json:"visible"`
	InsideControl bool   `json:"inside_control"`
	Marked        bool   `json:"marked"`
	OuterHTML     string `json:"outer_html"`
}

// usable reports whether a visible candidate may be resolved
func (c Candidate) usable() bool {
	return !c.InsideControl && strings.HasPrefix(c.Href, "http")
}

// SelectCandidate picks the resource link among the scanned anchors.
// Hidden anchors are ignored, as are anchors inside the Phase A control
// container and anchors without an absolute http(s) href. A marked anchor
// wins over any other usable one; otherwise the first usable anchor in
// document order is taken.
func SelectCandidate(candidates []Candidate) (Candidate, models.CandidateKind, probe.Diagnostic, bool) {
	diag := probe.Diagnostic{
		Present:    len(candidates) > 0,
		Candidates: len(candidates),
	}

	var fallback *Candidate
	for i := range candidates {
		c := candidates[i]
		if !c.Visible {
			continue
		}
		diag.Visible = true
		if !c.usable() {
			diag.VisibleUnsuitable++
			continue
		}
		if c.Marked {
			return c, models.CandidateMarked, diag, true
		}
		if fallback == nil {
			fallback = &candidates[i]
		}
	}

	if fallback != nil {
		return *fallback, models.CandidateFallback, diag, true
	}

	if len(candidates) > 0 {
		diag.Detail = candidates[0].OuterHTML
	}
	return Candidate{}, "", diag, false
}
