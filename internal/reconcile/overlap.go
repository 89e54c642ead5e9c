package reconcile

import (
	"math"
	"strings"

	"github.com/goodtune/shibasync/internal/hackatime"
)

// SpanIndex looks up a project's spans by name.
type SpanIndex interface {
	Spans(project string) []hackatime.Span
}

// OverlapSeconds sums, over every span of every named project, the length of
// its intersection with the half-open window [start, end).
func OverlapSeconds(spans SpanIndex, names []string, start, end float64) float64 {
	if spans == nil || end <= start {
		return 0
	}

	seen := make(map[string]struct{}, len(names))
	var total float64
	for _, name := range names {
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		for _, span := range spans.Spans(name) {
			overlap := math.Min(span.End, end) - math.Max(span.Start, start)
			if overlap > 0 {
				total += overlap
			}
		}
	}
	return total
}
