package model_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/CZERTAINLY/Courier/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
backend:
  host: redis.local
  port: 6380
service:
  verbose: true
  address: 10.0.0.7:9000
runtime:
  heartbeat_interval: 500ms
  parallelism: 2
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, "redis.local", cfg.Backend.Host)
	require.Equal(t, 6380, cfg.Backend.Port)
	require.Equal(t, "redis.local:6380", cfg.Backend.Addr())
	require.True(t, cfg.Service.Verbose)
	require.False(t, cfg.Service.Console)
	require.Equal(t, "10.0.0.7:9000", cfg.Service.Address)
	require.Equal(t, "500ms", cfg.Runtime.HeartbeatInterval)
	require.Equal(t, "3s", cfg.Runtime.PresenceTTL)
	require.Equal(t, 2, cfg.Runtime.Parallelism)
}

func TestDefaultConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	require.Equal(t, "127.0.0.1:6379", cfg.Backend.Addr())
	require.Equal(t, "3s", cfg.Runtime.PresenceTTL)
	require.Equal(t, "1s", cfg.Runtime.HeartbeatInterval)
	require.Equal(t, "250ms", cfg.Runtime.PollTimeout)
	require.Equal(t, "1s", cfg.Runtime.RestartDelay)
	require.Equal(t, "10ms", cfg.Runtime.TickInterval)
	require.Equal(t, 8, cfg.Runtime.Parallelism)
}

func TestLoadConfig_Fail(t *testing.T) {
	var testCases = []struct {
		scenario string
		yml      string
		path     string
	}{
		{"port out of range", "backend:\n  port: 70000\n", "backend.port"},
		{"bad duration", "runtime:\n  poll_timeout: soon\n", "runtime.poll_timeout"},
		{"unknown field", "backend:\n  hots: localhost\n", "backend.hots"},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tt.yml))
			require.Error(t, err)
			details := model.ConfigErrors(err)
			require.NotEmpty(t, details)
			require.Contains(t, strings.Join(details, "\n"), tt.path)
		})
	}
}

func TestWriteYAML(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Backend.Host = "redis.local"

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	require.Contains(t, buf.String(), "host: redis.local")

	loaded, err := model.LoadConfig(&buf)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadTOMLConfig(t *testing.T) {
	doc := `
version = 0

[backend]
host = "redis.local"
port = 6381

[runtime]
poll_timeout = "100ms"
parallelism = 3
`
	cfg, err := model.LoadTOMLConfig(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "redis.local:6381", cfg.Backend.Addr())
	require.Equal(t, "100ms", cfg.Runtime.PollTimeout)
	require.Equal(t, 3, cfg.Runtime.Parallelism)
	require.Equal(t, "1s", cfg.Runtime.RestartDelay)

	_, err = model.LoadTOMLConfig(strings.NewReader("[backend]\nport = 0\n"))
	require.Error(t, err)
	require.NotEmpty(t, model.ConfigErrors(err))

	_, err = model.LoadTOMLConfig(strings.NewReader("[backend\n"))
	require.Error(t, err)
}

func TestLoadJSONConfig(t *testing.T) {
	doc := `{
	// local development backend
	"backend": {"host": "redis.local", "port": 6382,},
	"service": {"console": true},
}`
	cfg, err := model.LoadJSONConfig(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "redis.local:6382", cfg.Backend.Addr())
	require.True(t, cfg.Service.Console)
	require.Equal(t, "3s", cfg.Runtime.PresenceTTL)

	_, err = model.LoadJSONConfig(strings.NewReader(`{"runtime": {"tick_interval": "often"}}`))
	require.Error(t, err)
}
