package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TERMINAL_ID", "stall-a")
	t.Setenv("OVERSELL_POLICY", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "stall-a", cfg.Server.TerminalID)
	assert.Equal(t, "stall-stall-a", cfg.Kafka.ConsumerGroup)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "clamp", cfg.Business.OversellPolicy)
	assert.Equal(t, 5*time.Second, cfg.Sync.WriteTimeout)
	assert.True(t, cfg.Sync.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "DynamoDB")
	t.Setenv("OVERSELL_POLICY", "reject")
	t.Setenv("SYNC_ENABLED", "false")
	t.Setenv("SYNC_POLL_INTERVAL_SECONDS", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, BackendDynamoDB, cfg.Store.Backend)
	assert.Equal(t, "reject", cfg.Business.OversellPolicy)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0, cfg.Redis.DB)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownChoices(t *testing.T) {
	cfg := Load()
	cfg.Business.OversellPolicy = "maybe"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Store.Backend = "firestore"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveSyncDurations(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero poll interval", "SYNC_POLL_INTERVAL_SECONDS", "0"},
		{"negative poll interval", "SYNC_POLL_INTERVAL_SECONDS", "-5"},
		{"zero write timeout", "SYNC_WRITE_TIMEOUT_SECONDS", "0"},
		{"negative write timeout", "SYNC_WRITE_TIMEOUT_SECONDS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OVERSELL_POLICY", "")
			t.Setenv(tt.key, tt.val)

			err := Load().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
