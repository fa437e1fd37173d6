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

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, 8*time.Second, cfg.Advisor.Timeout)
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
	assert.Equal(t, "ward/+/vitals", cfg.Monitor.Topic)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ADVISOR_TIMEOUT", "3s")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Advisor.Timeout)
	assert.True(t, cfg.Redis.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"advisor without url", func(c *Config) { c.Advisor.URL = "" }, true},
		{"zero timeout", func(c *Config) { c.Advisor.Timeout = 0 }, true},
		{"kurrentdb sink without kurrentdb", func(c *Config) { c.Audit.KurrentDBEnabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:  ServerConfig{Port: 8080},
				Advisor: AdvisorConfig{Enabled: true, URL: "http://advisor", Timeout: time.Second},
				Audit:   AuditConfig{BufferSize: 10},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
