package hackatime

import (
	"fmt"
	"net/http"
	"strings"
)

// ProjectTotal is the lifetime tracked time for one project.
type ProjectTotal struct {
	Name         string  `json:"name"`
	TotalSeconds float64 `json:"total_seconds"`
}

// Totals is a user's per-project aggregate over the tracking window.
type Totals struct {
	Projects     []ProjectTotal
	TotalSeconds float64
}

// Find returns the project whose name matches case-insensitively.
func (t *Totals) Find(name string) (ProjectTotal, bool) {
	if t == nil {
		return ProjectTotal{}, false
	}
	for _, p := range t.Projects {
		if p.Name != "" && strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProjectTotal{}, false
}

// Span is a half-open interval of activity, in Unix seconds.
type Span struct {
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`
}

// Duration returns the span length in seconds.
func (s Span) Duration() float64 {
	return s.End - s.Start
}

// OmittedProject records a project whose spans could not be fetched.
type OmittedProject struct {
	Name   string
	Reason string
}

// SpanSet holds a user's spans keyed by project name as the API reports it.
type SpanSet struct {
	ByProject map[string][]Span
	Omitted   []OmittedProject
}

// OmittedAmong returns the names, in the order given, whose spans could not
// be fetched. Matching is case-insensitive.
func (s *SpanSet) OmittedAmong(names []string) []string {
	if s == nil || len(s.Omitted) == 0 {
		return nil
	}
	var out []string
	for _, name := range names {
		for _, o := range s.Omitted {
			if strings.EqualFold(o.Name, name) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// Spans returns the spans of a project, matching the name case-insensitively.
func (s *SpanSet) Spans(name string) []Span {
	if s == nil {
		return nil
	}
	if spans, ok := s.ByProject[name]; ok {
		return spans
	}
	for project, spans := range s.ByProject {
		if strings.EqualFold(project, name) {
			return spans
		}
	}
	return nil
}

// StatusError is returned for non-2xx activity API responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("hackatime %s: 429 rate limit exceeded", e.Endpoint)
	}
	return fmt.Sprintf("hackatime %s: API error %d: %s", e.Endpoint, e.StatusCode, e.Status)
}

// RateLimited reports whether the API asked us to back off.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type statsResponse struct {
	Data struct {
		Projects     []ProjectTotal `json:"projects"`
		TotalSeconds float64        `json:"total_seconds"`
	} `json:"data"`
}

type spansResponse struct {
	Spans []Span `json:"spans"`
}
