package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/shibasync/internal/airtable"
	"github.com/goodtune/shibasync/internal/config"
	"github.com/goodtune/shibasync/internal/hackatime"
)

// ErrMissingCredentials aborts a pass before any request is made.
var ErrMissingCredentials = errors.New("missing Airtable credentials")

// RecordStore reads and writes datastore records.
type RecordStore interface {
	FetchAll(ctx context.Context, table string, q airtable.Query) ([]airtable.Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) error
}

// ActivitySource fetches per-user activity.
type ActivitySource interface {
	FetchTotals(ctx context.Context, userID string) (*hackatime.Totals, error)
	FetchSpans(ctx context.Context, userID string, projects []hackatime.ProjectTotal) (*hackatime.SpanSet, error)
}

// Game is a games-table record with its declared projects parsed.
type Game struct {
	ID        string
	Name      string
	SlackID   string
	Projects  []string
	CreatedAt time.Time
}

func newGame(rec airtable.Record, fields config.FieldsConfig) Game {
	return Game{
		ID:        rec.ID,
		Name:      rec.String(fields.GameName),
		SlackID:   rec.String(fields.GameSlackID),
		Projects:  ParseProjectNames(rec.Value(fields.GameProjects)),
		CreatedAt: rec.CreatedTime,
	}
}

// OutcomeKind distinguishes usable activity from a failed fetch.
type OutcomeKind int

const (
	// OutcomeOK means totals and spans were fetched.
	OutcomeOK OutcomeKind = iota
	// OutcomeNoActivity means the user has no tracked projects.
	OutcomeNoActivity
	// OutcomeFetchFailed means the user must be skipped for this pass.
	OutcomeFetchFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeNoActivity:
		return "no_activity"
	case OutcomeFetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of fetching one user's activity.
type Outcome struct {
	Kind   OutcomeKind
	Totals *hackatime.Totals
	Spans  *hackatime.SpanSet
	Reason string
}

// Usable reports whether the outcome carries real data, possibly empty.
func (o Outcome) Usable() bool {
	return o.Kind != OutcomeFetchFailed
}

// Skip reasons recorded in Summary.SkippedUsers.
const (
	SkipNoSlackID   = "no_slack_id"
	SkipFetchFailed = "fetch_failed"
	SkipUnchanged   = "unchanged"
)

// UserSummary counts the days-active phase.
type UserSummary struct {
	TotalUsers        int `json:"totalUsers"`
	SuccessfulUpdates int `json:"successfulUpdates"`
	Errors            int `json:"errors"`
	Skipped           int `json:"skipped"`
}

// PostSummary counts devlog attribution writes. Skipped counts games whose
// posts were left for a later pass because some spans were missing.
type PostSummary struct {
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Summary describes one completed pass.
type Summary struct {
	ID                string         `json:"id"`
	StartedAt         time.Time      `json:"startedAt"`
	FinishedAt        time.Time      `json:"finishedAt"`
	TotalGames        int            `json:"totalGames"`
	UniqueUsers       int            `json:"uniqueUsers"`
	SuccessfulUpdates int            `json:"successfulUpdates"`
	Errors            int            `json:"errors"`
	Skipped           int            `json:"skipped"`
	Users             UserSummary    `json:"userSync"`
	Posts             PostSummary    `json:"posts"`
	SkippedUsers      map[string]int `json:"skippedUsers,omitempty"`
}

// Duration returns how long the pass took.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *Summary) skipUser(reason string) {
	if s.SkippedUsers == nil {
		s.SkippedUsers = make(map[string]int)
	}
	s.SkippedUsers[reason]++
}
