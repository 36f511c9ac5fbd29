// Package config holds all runtime configuration for the alert pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, resolved once at startup and
// threaded through the call chain. Nothing re-reads the environment mid-run.
type Config struct {
	Debug bool

	BlueIris  BlueIrisConfig
	Detection DetectionConfig
	Storage   StorageConfig
	Webhook   WebhookConfig
	Database  DatabaseConfig
	Alert     AlertConfig
	Media     MediaConfig
	Service   ServiceConfig
}

// BlueIrisConfig describes the DVR JSON API endpoint.
type BlueIrisConfig struct {
	Host     string // e.g. "http://127.0.0.1:8191"
	Username string
	Password string
	Timeout  time.Duration
}

// DetectionConfig describes the object-detection inference service.
type DetectionConfig struct {
	Host          string // e.g. "http://localhost:32168"
	Timeout       time.Duration
	TargetLabel   string  // object that must be present, e.g. "person"
	MinConfidence float64 // 0..1 gate threshold
}

// StorageConfig describes the MinIO object store.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// WebhookConfig describes the downstream workflow webhook.
type WebhookConfig struct {
	URL        string
	AuthHeader string
	Timeout    time.Duration
	Retries    int
}

// DatabaseConfig describes the Postgres audit store. Empty host disables
// persistence entirely.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

// DSN builds a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=10",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}

// AlertConfig holds the alert-resolution and export parameters.
type AlertConfig struct {
	// Memo filtering for the alertlist fallback. MinConfidence is the
	// integer percentage embedded in the DVR memo text.
	AIObject      string
	MinConfidence int

	// Lookback windows for the fallback search.
	Lookback      time.Duration
	DebugLookback time.Duration

	// Export behavior.
	DefaultClipMsec int
	ExportDir       string
	WaitTimeout     time.Duration
	PollInterval    time.Duration
	SettleDelay     time.Duration

	// Whether a gatekeeper-rejected run still writes an audit record.
	AuditRejected bool
}

// ExportDuration decides how many milliseconds to export for an alert whose
// recorded duration is alertMsec. Anomalous values (zero, negative, or
// longer than the default clip) fall back to the default to bound job cost.
func (c AlertConfig) ExportDuration(alertMsec int) int {
	if alertMsec > 0 && alertMsec <= c.DefaultClipMsec {
		return alertMsec
	}
	return c.DefaultClipMsec
}

// MediaConfig holds preview-rendering parameters.
type MediaConfig struct {
	WorkDir     string // rendered GIFs land here; stills under WorkDir/frames
	GIFDuration int    // seconds
	GIFFPS      int
	MaxWidth    int // downscale cap for GIF frames
	JPEGQuality int
}

// ServiceConfig holds hosted-service parameters.
type ServiceConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, with a .env file loaded
// first if one exists beside the binary.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Debug: getEnvBool("DEBUG_MODE", false),
		BlueIris: BlueIrisConfig{
			Host:     getEnv("BI_HOST", "http://127.0.0.1:8191"),
			Username: getEnv("BI_USER", ""),
			Password: getEnv("BI_PASS", ""),
			Timeout:  getEnvDuration("BI_TIMEOUT", 30*time.Second),
		},
		Detection: DetectionConfig{
			Host:          getEnv("CODEPROJECT_AI_HOST", "http://localhost:32168"),
			Timeout:       getEnvDuration("AI_TIMEOUT", 60*time.Second),
			TargetLabel:   getEnv("AI_LABEL", "person"),
			MinConfidence: getEnvFloat("AI_MIN_CONFIDENCE", 0.6),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "bialerts"),
			UseSSL:    getEnvBool("MINIO_SECURE", true),
		},
		Webhook: WebhookConfig{
			URL:        getEnv("N8N_WEBHOOK_URL", ""),
			AuthHeader: getEnv("N8N_AUTH_HEADER", ""),
			Timeout:    getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),
			Retries:    getEnvInt("WEBHOOK_RETRIES", 3),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvInt("DB_PORT", 5432),
			Database: getEnv("DB_DATABASE", "bialerts"),
			Username: getEnv("DB_USERNAME", ""),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSLMODE", "prefer"),
		},
		Alert: AlertConfig{
			AIObject:        getEnv("AI_OBJECT", "person"),
			MinConfidence:   getEnvInt("CONFIDENCE_LEVEL", 60),
			Lookback:        getEnvDuration("ALERT_SEARCH_TIME", 60*time.Second),
			DebugLookback:   getEnvDuration("DEBUG_ALERT_SEARCH_TIME", 17400*time.Second),
			DefaultClipMsec: getEnvInt("CLIP_DURATION_MS", 60000),
			ExportDir:       getEnv("EXPORT_DIR", `C:\Blue Iris\New\Clipboard`),
			WaitTimeout:     getEnvDuration("EXPORT_WAIT_TIMEOUT", 60*time.Second),
			PollInterval:    getEnvDuration("EXPORT_POLL_INTERVAL", 3*time.Second),
			SettleDelay:     getEnvDuration("EXPORT_SETTLE_DELAY", 2*time.Second),
			AuditRejected:   getEnvBool("AUDIT_REJECTED", false),
		},
		Media: MediaConfig{
			WorkDir:     getEnv("GIF_SAVE_DIR", `C:\bi_alerts`),
			GIFDuration: getEnvInt("GIF_DURATION_SECONDS", 6),
			GIFFPS:      getEnvInt("GIF_FPS", 5),
			MaxWidth:    getEnvInt("GIF_MAX_WIDTH", 720),
			JPEGQuality: getEnvInt("JPEG_QUALITY", 95),
		},
		Service: ServiceConfig{
			Addr:            getEnv("ALERT_SERVICE_ADDR", ":5051"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}
}

// EffectiveLookback returns the fallback-search window, widened in debug
// mode so old alerts remain findable while testing by hand.
func (c *Config) EffectiveLookback() time.Duration {
	if c.Debug {
		return c.Alert.DebugLookback
	}
	return c.Alert.Lookback
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts either a Go duration string ("90s") or a bare
// number of seconds, which is what the original deployment used.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
