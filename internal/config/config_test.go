package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 10000, cfg.MaxEventsPerGroup)
	assert.Equal(t, 72*time.Hour, cfg.MaxEventAge)
	assert.Equal(t, 72*time.Hour, cfg.SlaveActiveWindow)
	assert.Equal(t, 200, cfg.PollMaxLimit)
	assert.Empty(t, cfg.MasterKeys)
	assert.Empty(t, cfg.SlaveKeys)
}

func TestLoadKeys(t *testing.T) {
	t.Setenv("MASTER_KEYS", "G1:key-one, G2:key-two")
	t.Setenv("SLAVE_KEYS", "slave-a:sk-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"key-one": "G1", "key-two": "G2"}, cfg.MasterKeys)
	assert.Equal(t, map[string]string{"sk-1": "slave-a"}, cfg.SlaveKeys)
}

func TestLoadRejectsMalformedKeys(t *testing.T) {
	t.Setenv("MASTER_KEYS", "not-a-pair")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadBackends(t *testing.T) {
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("DATA_DIR", "/tmp/relay-data")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendFile, cfg.Backend)
	assert.Equal(t, "/tmp/relay-data", cfg.DataDir)

	t.Setenv("STORE_BACKEND", "postgres")
	_, err = Load()
	assert.Error(t, err, "postgres backend requires DB_URL")

	t.Setenv("DB_URL", "postgres://localhost/relay")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)

	t.Setenv("STORE_BACKEND", "bogus")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRetentionOverrides(t *testing.T) {
	t.Setenv("MAX_EVENTS_PER_GROUP", "500")
	t.Setenv("MAX_EVENT_AGE", "24h")
	t.Setenv("SLAVE_ACTIVE_WINDOW", "6h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.MaxEventsPerGroup)
	assert.Equal(t, 24*time.Hour, cfg.MaxEventAge)
	assert.Equal(t, 6*time.Hour, cfg.SlaveActiveWindow)

	t.Setenv("MAX_EVENT_AGE", "sometimes")
	_, err = Load()
	assert.Error(t, err)
}
