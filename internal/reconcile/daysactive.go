package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/shibasync/internal/hackatime"
)

// ClaimedProjects returns the lower-cased union of every project declared
// across the games.
func ClaimedProjects(games []Game) map[string]struct{} {
	names := make(map[string]struct{})
	for _, g := range games {
		for _, p := range g.Projects {
			names[strings.ToLower(p)] = struct{}{}
		}
	}
	return names
}

// DaysActive renders per-day hours for the user's declared projects as
// "M/D/YY: H.H" entries joined by ", ", oldest day first. Each span counts
// toward the day it starts on in loc, even when it crosses midnight.
func DaysActive(spans *hackatime.SpanSet, games []Game, loc *time.Location) string {
	claimed := ClaimedProjects(games)
	if len(claimed) == 0 || spans == nil {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}

	projects := make([]string, 0, len(spans.ByProject))
	for name := range spans.ByProject {
		if _, ok := claimed[strings.ToLower(name)]; ok {
			projects = append(projects, name)
		}
	}
	sort.Strings(projects)

	type day struct {
		date  time.Time
		hours float64
	}
	days := make(map[string]*day)
	for _, name := range projects {
		for _, span := range spans.ByProject[name] {
			if span.Start <= 0 || span.End <= span.Start {
				continue
			}
			start := time.Unix(0, int64(span.Start*float64(time.Second))).In(loc)
			key := fmt.Sprintf("%d/%d/%02d", int(start.Month()), start.Day(), start.Year()%100)
			d, ok := days[key]
			if !ok {
				d = &day{date: time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)}
				days[key] = d
			}
			d.hours += span.Duration() / 3600
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return days[keys[i]].date.Before(days[keys[j]].date)
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strconv.FormatFloat(days[k].hours, 'f', 1, 64))
	}
	return strings.Join(parts, ", ")
}
