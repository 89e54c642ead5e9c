package reconcile

import (
	"sort"
	"strings"

	"github.com/goodtune/shibasync/internal/airtable"
	"github.com/goodtune/shibasync/internal/hackatime"
)

// ParseProjectNames splits a declared-projects field into names. The field
// may be a list or a comma-separated string. Entries are trimmed, empty
// entries dropped and declared order kept.
func ParseProjectNames(v any) []string {
	var raw []string
	switch val := v.(type) {
	case string:
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	names := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ClaimSet tracks the lower-cased project names already attributed to a game
// for one user within one pass.
type ClaimSet struct {
	names map[string]struct{}
	order []string
}

// NewClaimSet returns an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{names: make(map[string]struct{})}
}

// Has reports whether the project has been claimed.
func (c *ClaimSet) Has(name string) bool {
	_, ok := c.names[strings.ToLower(name)]
	return ok
}

// Claim marks the project as claimed. It returns false if it already was.
func (c *ClaimSet) Claim(name string) bool {
	key := strings.ToLower(name)
	if _, ok := c.names[key]; ok {
		return false
	}
	c.names[key] = struct{}{}
	c.order = append(c.order, key)
	return true
}

// Len returns the number of claimed projects.
func (c *ClaimSet) Len() int {
	return len(c.names)
}

// Names returns the claimed names in claim order.
func (c *ClaimSet) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Allocate sums the totals of the declared projects not yet claimed by an
// earlier game, claiming each one it counts. Unknown names are ignored.
func Allocate(totals *hackatime.Totals, declared []string, claims *ClaimSet) float64 {
	var sum float64
	for _, name := range declared {
		if claims.Has(name) {
			continue
		}
		project, ok := totals.Find(name)
		if !ok {
			continue
		}
		sum += project.TotalSeconds
		claims.Claim(name)
	}
	return sum
}

// SortGames orders games by creation time, oldest first. Ties keep the order
// the datastore returned them in. Claim order follows this order.
func SortGames(games []airtable.Record) {
	sort.SliceStable(games, func(i, j int) bool {
		return games[i].CreatedTime.Before(games[j].CreatedTime)
	})
}
