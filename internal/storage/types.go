package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the trigger to lowercase.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Trigger(strings.ToLower(s))
	switch normalized {
	case TriggerScheduled, TriggerManual:
		*t = normalized
		return nil
	default:
		return fmt.Errorf("invalid trigger: %s (must be scheduled or manual)", s)
	}
}

// Run is the stored outcome of one reconciliation pass.
type Run struct {
	ID                string    `json:"id"`
	Trigger           Trigger   `json:"trigger"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	TotalGames        int       `json:"total_games"`
	UniqueUsers       int       `json:"unique_users"`
	SuccessfulUpdates int       `json:"successful_updates"`
	Errors            int       `json:"errors"`
	Skipped           int       `json:"skipped"`
	UsersTotal        int       `json:"users_total"`
	UsersUpdated      int       `json:"users_updated"`
	UserErrors        int       `json:"user_errors"`
	UsersSkipped      int       `json:"users_skipped"`
	PostsUpdated      int       `json:"posts_updated"`
	PostErrors        int       `json:"post_errors"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
