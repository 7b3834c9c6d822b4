package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Detection DetectionConfig
	Camera    CameraConfig
	Settings  SettingsConfig
	Backend   BackendConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	Journal   JournalConfig
	Alert     AlertConfig
	Tracing   TracingConfig
	Admin     AdminConfig
}

type ServerConfig struct {
	HealthPort int
	AdminPort  int
}

type LogConfig struct {
	Level string
}

type DetectionConfig struct {
	URL     string
	Timeout time.Duration
	// MaxRPS is a hard ceiling on detection calls; 0 disables it.
	MaxRPS                  float64
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerOpenTimeout      time.Duration
	// ReachabilityInterval paces the TCP dial behind the "network
	// reachable" analysis precondition; 0 treats the network as always up.
	ReachabilityInterval time.Duration
}

type CameraConfig struct {
	BaseURL           string
	FrameURL          string
	FirstFrameTimeout time.Duration
	ProbeInterval     time.Duration
}

type SettingsConfig struct {
	Path          string
	WatchInterval time.Duration
}

type BackendConfig struct {
	Mode      model.BackendMode
	ModelName string
}

// RedisConfig enables the renderer event stream when URL is set.
type RedisConfig struct {
	URL    string
	Stream string
	MaxLen int64
}

// MQTTConfig enables the MQTT renderer sink when Broker is set.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         int
}

// JournalConfig enables the postgres event journal when URL is set.
type JournalConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
	Retention       time.Duration
	PruneInterval   time.Duration
	PoolStatsEvery  time.Duration
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

type AdminConfig struct {
	Enabled   bool
	JWTSecret string
	// TrustProxy makes the rate limiter key clients by X-Forwarded-For /
	// X-Real-IP instead of the connection address.
	TrustProxy bool

	RearmPerMinute       int
	ModePerMinute        int
	SettingsPerMinute    int
	StreamErrorPerSecond float64
	DefaultPerSecond     float64
}

// Load reads configuration from the environment. A .env file in the working
// directory (or the file named by ENV_FILE) is applied first without
// overriding variables that are already set.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
			AdminPort:  getEnvInt("ADMIN_PORT", 5000),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Detection: DetectionConfig{
			URL:                     getEnv("DETECTION_URL", "http://localhost:5001/api/analyze_image"),
			Timeout:                 getEnvDuration("DETECTION_TIMEOUT", 30*time.Second),
			MaxRPS:                  getEnvFloat("DETECTION_MAX_RPS", 0),
			BreakerFailureThreshold: getEnvInt("DETECTION_BREAKER_FAILURES", 5),
			BreakerSuccessThreshold: getEnvInt("DETECTION_BREAKER_SUCCESSES", 1),
			BreakerOpenTimeout:      getEnvDuration("DETECTION_BREAKER_OPEN_TIMEOUT", 30*time.Second),
			ReachabilityInterval:    getEnvDuration("DETECTION_REACHABILITY_INTERVAL", 5*time.Second),
		},
		Camera: CameraConfig{
			BaseURL:           getEnv("CAMERA_URL", "http://localhost:5001"),
			FrameURL:          getEnv("CAMERA_FRAME_URL", ""),
			FirstFrameTimeout: getEnvDuration("CAMERA_FIRST_FRAME_TIMEOUT", 10*time.Second),
			ProbeInterval:     getEnvDuration("CAMERA_PROBE_INTERVAL", 250*time.Millisecond),
		},
		Settings: SettingsConfig{
			Path:          getEnv("SETTINGS_PATH", "settings.yaml"),
			WatchInterval: getEnvDuration("SETTINGS_WATCH_INTERVAL", 5*time.Second),
		},
		Backend: BackendConfig{
			Mode:      model.ParseBackendMode(getEnv("AI_BACKEND", "STUDIO")),
			ModelName: getEnv("AI_MODEL_NAME", "gemini-2.0-flash"),
		},
		Redis: RedisConfig{
			URL:    getEnv("REDIS_URL", ""),
			Stream: getEnv("REDIS_STREAM", "signal:events"),
			MaxLen: int64(getEnvInt("REDIS_STREAM_MAXLEN", 10000)),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "signal-controller"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "signal"),
			QoS:         getEnvInt("MQTT_QOS", 0),
		},
		Journal: JournalConfig{
			URL:             getEnv("JOURNAL_DB_URL", ""),
			MaxOpenConns:    getEnvInt("JOURNAL_DB_MAX_OPEN_CONNS", 5),
			MaxIdleConns:    getEnvInt("JOURNAL_DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: time.Duration(getEnvInt("JOURNAL_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			MigrationsDir:   getEnv("JOURNAL_MIGRATIONS_DIR", "internal/store/postgres/migrations"),
			Retention:       getEnvDuration("JOURNAL_RETENTION", 7*24*time.Hour),
			PruneInterval:   getEnvDuration("JOURNAL_PRUNE_INTERVAL", time.Hour),
			PoolStatsEvery:  getEnvDuration("JOURNAL_POOL_STATS_INTERVAL", 15*time.Second),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        getEnvDuration("ALERT_COOLDOWN", 30*time.Minute),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "signal-controller"),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		Admin: AdminConfig{
			Enabled:              getEnvBool("ADMIN_ENABLED", true),
			JWTSecret:            getEnv("ADMIN_JWT_SECRET", ""),
			TrustProxy:           getEnvBool("ADMIN_TRUST_PROXY", false),
			RearmPerMinute:       getEnvInt("ADMIN_RATE_REARM_PER_MIN", 6),
			ModePerMinute:        getEnvInt("ADMIN_RATE_MODE_PER_MIN", 10),
			SettingsPerMinute:    getEnvInt("ADMIN_RATE_SETTINGS_PER_MIN", 10),
			StreamErrorPerSecond: getEnvFloat("ADMIN_RATE_STREAM_ERROR_RPS", 2),
			DefaultPerSecond:     getEnvFloat("ADMIN_RATE_DEFAULT_RPS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func (c *Config) validate() error {
	if c.Detection.URL == "" {
		return fmt.Errorf("DETECTION_URL is required")
	}
	if _, err := url.ParseRequestURI(c.Detection.URL); err != nil {
		return fmt.Errorf("DETECTION_URL is invalid: %w", err)
	}
	if c.Camera.BaseURL == "" {
		return fmt.Errorf("CAMERA_URL is required")
	}
	if c.Detection.Timeout <= 0 {
		return fmt.Errorf("DETECTION_TIMEOUT must be positive")
	}
	if c.Detection.MaxRPS < 0 {
		return fmt.Errorf("DETECTION_MAX_RPS must not be negative")
	}
	if c.Detection.ReachabilityInterval < 0 {
		return fmt.Errorf("DETECTION_REACHABILITY_INTERVAL must not be negative")
	}
	if c.Detection.BreakerFailureThreshold < 1 {
		return fmt.Errorf("DETECTION_BREAKER_FAILURES must be at least 1")
	}
	if c.Settings.Path == "" {
		return fmt.Errorf("SETTINGS_PATH is required")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.Admin.RearmPerMinute < 1 || c.Admin.ModePerMinute < 1 || c.Admin.SettingsPerMinute < 1 {
		return fmt.Errorf("ADMIN_RATE_*_PER_MIN limits must be at least 1")
	}
	if c.Admin.StreamErrorPerSecond <= 0 || c.Admin.DefaultPerSecond <= 0 {
		return fmt.Errorf("ADMIN_RATE_*_RPS limits must be positive")
	}
	if c.Server.HealthPort == c.Server.AdminPort && c.Admin.Enabled {
		return fmt.Errorf("HEALTH_PORT and ADMIN_PORT must differ")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
