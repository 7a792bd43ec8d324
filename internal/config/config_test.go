package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.ServerAddress())
	assert.Equal(t, 15, cfg.Rules.FrequencyThreshold)
	assert.Equal(t, 10, cfg.Rules.FrequencyInterval)
	assert.Equal(t, []string{".env", "id_rsa", "aws_access_key", "password.txt"}, cfg.Rules.SensitivePatterns)
	assert.Equal(t, 8, cfg.Rules.WorkdayStartHour)
	assert.Equal(t, 18, cfg.Rules.WorkdayEndHour)
	assert.Equal(t, time.Hour, cfg.Stream.IdleTimeout)
	assert.Empty(t, cfg.GitHub.WebhookSecret, "unsigned deliveries accepted unless a secret is set")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
github:
  webhook_secret: s3cret
rules:
  frequency_threshold: 5
stream:
  idle_timeout: 30m
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.GitHub.WebhookSecret)
	assert.Equal(t, 5, cfg.Rules.FrequencyThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Stream.IdleTimeout)
}

func TestValidateRejectsInvertedHours(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Rules.WorkdayStartHour = 20
	cfg.Rules.WorkdayEndHour = 8
	assert.Error(t, cfg.Validate())
}
