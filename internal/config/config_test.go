package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

// noDotEnv points Load at a file that does not exist so a stray .env in the
// package directory cannot leak into the test.
func noDotEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
}

func TestLoad_Defaults(t *testing.T) {
	noDotEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HealthPort)
	assert.Equal(t, 5000, cfg.Server.AdminPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "http://localhost:5001/api/analyze_image", cfg.Detection.URL)
	assert.Equal(t, 30*time.Second, cfg.Detection.Timeout)
	assert.Zero(t, cfg.Detection.MaxRPS)
	assert.Equal(t, 5, cfg.Detection.BreakerFailureThreshold)
	assert.Equal(t, 1, cfg.Detection.BreakerSuccessThreshold)
	assert.Equal(t, 30*time.Second, cfg.Detection.BreakerOpenTimeout)
	assert.Equal(t, "http://localhost:5001", cfg.Camera.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Camera.FirstFrameTimeout)
	assert.Equal(t, "settings.yaml", cfg.Settings.Path)
	assert.Equal(t, 5*time.Second, cfg.Settings.WatchInterval)
	assert.Equal(t, model.BackendStudio, cfg.Backend.Mode)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, "signal:events", cfg.Redis.Stream)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, "signal", cfg.MQTT.TopicPrefix)
	assert.Empty(t, cfg.Journal.URL)
	assert.Equal(t, 30*time.Minute, cfg.Alert.Cooldown)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Detection.ReachabilityInterval)
	assert.True(t, cfg.Admin.Enabled)
	assert.Empty(t, cfg.Admin.JWTSecret)
	assert.False(t, cfg.Admin.TrustProxy)
	assert.Equal(t, 6, cfg.Admin.RearmPerMinute)
	assert.Equal(t, 10, cfg.Admin.ModePerMinute)
	assert.Equal(t, 10, cfg.Admin.SettingsPerMinute)
	assert.Equal(t, 2.0, cfg.Admin.StreamErrorPerSecond)
	assert.Equal(t, 5.0, cfg.Admin.DefaultPerSecond)
}

func TestLoad_EnvOverride(t *testing.T) {
	noDotEnv(t)
	t.Setenv("HEALTH_PORT", "9090")
	t.Setenv("ADMIN_PORT", "9091")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DETECTION_URL", "http://detector:8000/analyze")
	t.Setenv("DETECTION_TIMEOUT", "5s")
	t.Setenv("DETECTION_MAX_RPS", "0.5")
	t.Setenv("AI_BACKEND", "none")
	t.Setenv("REDIS_URL", "redis://redis:6379")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("ADMIN_JWT_SECRET", "s3cret")
	t.Setenv("ADMIN_TRUST_PROXY", "true")
	t.Setenv("ADMIN_RATE_REARM_PER_MIN", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HealthPort)
	assert.Equal(t, 9091, cfg.Server.AdminPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://detector:8000/analyze", cfg.Detection.URL)
	assert.Equal(t, 5*time.Second, cfg.Detection.Timeout)
	assert.Equal(t, 0.5, cfg.Detection.MaxRPS)
	assert.Equal(t, model.BackendNone, cfg.Backend.Mode)
	assert.Equal(t, "redis://redis:6379", cfg.Redis.URL)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "s3cret", cfg.Admin.JWTSecret)
	assert.True(t, cfg.Admin.TrustProxy)
	assert.Equal(t, 2, cfg.Admin.RearmPerMinute)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	noDotEnv(t)
	t.Setenv("HEALTH_PORT", "not-a-number")
	t.Setenv("DETECTION_TIMEOUT", "soon")
	t.Setenv("OTEL_ENABLED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HealthPort)
	assert.Equal(t, 30*time.Second, cfg.Detection.Timeout)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad detection url", map[string]string{"DETECTION_URL": "::nope"}, "DETECTION_URL is invalid"},
		{"negative rps", map[string]string{"DETECTION_MAX_RPS": "-1"}, "DETECTION_MAX_RPS"},
		{"reachability interval", map[string]string{"DETECTION_REACHABILITY_INTERVAL": "-1s"}, "DETECTION_REACHABILITY_INTERVAL"},
		{"breaker threshold", map[string]string{"DETECTION_BREAKER_FAILURES": "0"}, "DETECTION_BREAKER_FAILURES"},
		{"mqtt qos", map[string]string{"MQTT_QOS": "3"}, "MQTT_QOS"},
		{"port clash", map[string]string{"HEALTH_PORT": "7000", "ADMIN_PORT": "7000"}, "must differ"},
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"admin rate per minute", map[string]string{"ADMIN_RATE_MODE_PER_MIN": "0"}, "ADMIN_RATE_*_PER_MIN"},
		{"admin rate rps", map[string]string{"ADMIN_RATE_DEFAULT_RPS": "-1"}, "ADMIN_RATE_*_RPS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noDotEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("AI_MODEL_NAME=from-dotenv\nSETTINGS_PATH=/tmp/dotenv.yaml\n"), 0o644))
	t.Setenv("ENV_FILE", path)
	// Already-set variables win over the file.
	t.Setenv("SETTINGS_PATH", "/etc/signal/settings.yaml")
	// Registered for restore, then unset so the file can supply it.
	t.Setenv("AI_MODEL_NAME", "")
	require.NoError(t, os.Unsetenv("AI_MODEL_NAME"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Backend.ModelName)
	assert.Equal(t, "/etc/signal/settings.yaml", cfg.Settings.Path)
}
