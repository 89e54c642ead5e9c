package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/goodtune/shibasync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigKeys(t *testing.T) {
	keys := configKeys(reflect.TypeOf(config.Config{}), "")

	for _, key := range []string{
		"server.admin_port",
		"airtable.api_key",
		"hackatime.bypass_token",
		"fields.post_attributed",
		"sync.activity_cache_size",
		"storage.redis.host",
		"logging.format",
	} {
		assert.True(t, keys[key], key)
	}
	assert.False(t, keys["storage.redis"])
	assert.False(t, keys["server"])
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
airtable:
  base_id: appXYZ
  bsae_url: https://example.invalid
hackatime:
  start_date: "2025-08-18"
storage:
  redis:
    hots: localhost
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"airtable.bsae_url", "storage.redis.hots"}, unknown)
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "", redactSecret(""))
	assert.Equal(t, "***REDACTED***", redactSecret("key"))
}
