package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":3000", c.HTTPAddr)
	assert.Equal(t, "memory", c.StoreDriver)
	assert.Equal(t, time.Hour, c.JWTExpiresIn)
	assert.Empty(t, c.JWTSecret)
	assert.Equal(t, "inprocess", c.QueueDriver)
	assert.Equal(t, 1, c.QueueMaxAttempts)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5000"}, c.AllowedOrigins)
	assert.Zero(t, c.SummaryTimeout)
	assert.Empty(t, c.TrustedProxies)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	c, err := load("", envMap(map[string]string{
		"JWT_SECRET":      "s3cret",
		"JWT_EXPIRES_IN":  "30m",
		"PRODUCTION":      "true",
		"FRONTEND_URL":    "https://app.example.com/",
		"ALLOWED_ORIGINS": "https://a.com, https://b.com ,",
		"RATE_LIMIT_RPS":  "2.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", c.JWTSecret)
	assert.Equal(t, 30*time.Minute, c.JWTExpiresIn)
	assert.True(t, c.Production)
	assert.Equal(t, "https://app.example.com", c.FrontendURL)
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, c.AllowedOrigins)
	assert.Equal(t, 2.5, c.RateLimitRPS)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "STORE_DRIVER: mongo\nmongo_database: meetings\nJWT_EXPIRES_IN: 3600\nQUEUE_MAX_ATTEMPTS: 3\nHTTP_ADDR: \":8080\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := load(path, envMap(map[string]string{"HTTP_ADDR": ":9090"}))
	require.NoError(t, err)

	assert.Equal(t, "mongo", c.StoreDriver)
	assert.Equal(t, "meetings", c.MongoDatabase)
	assert.Equal(t, time.Hour, c.JWTExpiresIn)
	assert.Equal(t, 3, c.QueueMaxAttempts)
	assert.Equal(t, ":9090", c.HTTPAddr)
}

func TestLoad_Errors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	assert.Error(t, err)

	_, err = load("", envMap(map[string]string{"JWT_EXPIRES_IN": "soon"}))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("NOT_A_KEY: 1\n"), 0o600))
	_, err = load(path, envMap(nil))
	assert.Error(t, err)
}

func TestLoad_RateLimitMustBePositive(t *testing.T) {
	for _, kv := range [][2]string{
		{"RATE_LIMIT_BURST", "0"},
		{"RATE_LIMIT_BURST", "-3"},
		{"RATE_LIMIT_RPS", "0"},
		{"RATE_LIMIT_RPS", "-0.5"},
	} {
		t.Run(kv[0]+"="+kv[1], func(t *testing.T) {
			_, err := load("", envMap(map[string]string{kv[0]: kv[1]}))
			assert.ErrorIs(t, err, errNotPositive)
		})
	}

	c, err := load("", envMap(map[string]string{"RATE_LIMIT_BURST": "1", "TRUSTED_PROXIES": "10.0.0.1, 172.16.0.0/12"}))
	require.NoError(t, err)
	assert.Equal(t, 1, c.RateLimitBurst)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, c.TrustedProxies)
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"3600", time.Hour, false},
		{"1h", time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"0", 0, true},
		{"-5m", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpiry(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
