package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    Trigger
		wantErr bool
	}{
		{`"scheduled"`, TriggerScheduled, false},
		{`"MANUAL"`, TriggerManual, false},
		{`"cron"`, "", true},
		{`42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got Trigger
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	run := Run{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}

	assert.Equal(t, 90*time.Second, run.Duration())
}
