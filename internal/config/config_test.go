package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadServerDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 2*time.Hour, cfg.CodeTTL)
	assert.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "kart-results", cfg.ResultsChannel)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadServerFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KART_STORE", "Redis")
	t.Setenv("KART_REDIS_ADDR", "localhost:6379")
	t.Setenv("KART_REDIS_DB", "2")
	t.Setenv("KART_CODE_TTL", "30m")
	t.Setenv("KART_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("KART_LOG_DEV", "true")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 30*time.Minute, cfg.CodeTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.Log.Dev)
}

func TestLoadServerErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"KART_CODE_TTL": "soon"}},
		{"negative duration", map[string]string{"KART_CLEANUP_INTERVAL": "-1m"}},
		{"bad db", map[string]string{"KART_REDIS_DB": "x"}},
		{"unknown store", map[string]string{"KART_STORE": "mongo"}},
		{"postgres without dsn", map[string]string{"KART_STORE": "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadServer()
			assert.Error(t, err)
		})
	}
}

func TestLoadPeer(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KART_TRANSPORT", "webrtc")
	t.Setenv("KART_STUN_URLS", "stun:one:3478,stun:two:3478")
	t.Setenv("KART_NAME", "Ann")

	cfg, err := LoadPeer()
	require.NoError(t, err)
	assert.Equal(t, TransportWebRTC, cfg.Transport)
	assert.Equal(t, []string{"stun:one:3478", "stun:two:3478"}, cfg.STUNURLs)
	assert.Equal(t, "Ann", cfg.Name)
	assert.Equal(t, "json", cfg.Codec)

	t.Setenv("KART_TRANSPORT", "carrier-pigeon")
	_, err = LoadPeer()
	assert.Error(t, err)
}
