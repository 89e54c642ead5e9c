package reconcile

import (
	"sort"
	"time"

	"github.com/goodtune/shibasync/internal/airtable"
	"github.com/goodtune/shibasync/internal/config"
)

// PostHours is the attribution computed for one devlog post.
type PostHours struct {
	PostID      string
	WindowStart time.Time
	WindowEnd   time.Time
	Hours       float64
}

// PostIndex groups posts by the games they link to, keeping fetch order.
type PostIndex map[string][]airtable.Record

// NewPostIndex indexes posts by the ids in their game link field.
func NewPostIndex(posts []airtable.Record, gameField string) PostIndex {
	idx := make(PostIndex)
	for _, p := range posts {
		for _, gameID := range p.LinkedIDs(gameField) {
			idx[gameID] = append(idx[gameID], p)
		}
	}
	return idx
}

// postTime returns the post's creation instant, falling back to the record
// creation time when the field is missing.
func postTime(rec airtable.Record, field string) time.Time {
	if t, ok := rec.Time(field); ok {
		return t
	}
	return rec.CreatedTime
}

func attributed(rec airtable.Record, fields []string) bool {
	for _, f := range fields {
		if rec.Has(f) {
			return true
		}
	}
	return false
}

// AttributePosts computes hours for every post of a game that has not been
// attributed yet. All linked posts are taken in creation order, attributed
// ones included, and each window runs from the previous post (or the tracking
// start) to the post itself. Only unattributed posts are returned.
func AttributePosts(posts []airtable.Record, fields config.FieldsConfig, trackingStart time.Time, spans SpanIndex, projects []string) []PostHours {
	ordered := make([]airtable.Record, len(posts))
	copy(ordered, posts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return postTime(ordered[i], fields.PostCreatedAt).Before(postTime(ordered[j], fields.PostCreatedAt))
	})

	var out []PostHours
	prev := trackingStart
	for _, p := range ordered {
		created := postTime(p, fields.PostCreatedAt)
		start := prev
		if start.Before(trackingStart) {
			start = trackingStart
		}
		prev = created

		if attributed(p, fields.PostAttributed) {
			continue
		}
		seconds := OverlapSeconds(spans, projects, unixSeconds(start), unixSeconds(created))
		out = append(out, PostHours{
			PostID:      p.ID,
			WindowStart: start,
			WindowEnd:   created,
			Hours:       seconds / 3600,
		})
	}
	return out
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
