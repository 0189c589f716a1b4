package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewSyncPolicyHolder),
)

// Config holds agent configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	// APIBaseURL overrides the tenant derived base URL. It may contain a
	// {tenant} placeholder.
	APIBaseURL   string
	APITimeout   time.Duration
	TenantHeader string

	DBType string
	DBPath string

	DiagnosticsAddr string

	ProbeURL               string
	ProbeInterval          time.Duration
	SyncInterval           time.Duration
	SyncConcurrency        int
	LocationTracking       bool
	LocationSampleInterval time.Duration
	LocationFixPath        string

	SyncPolicyPath string
}

const DefaultAPIBaseURL = "https://{tenant}/api"

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:                getenv("APP_SERVICE", "roadfuel"),
		AppVersion:             getenv("APP_VERSION", "0.1.0"),
		Environment:            getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:           getenv("OTLP_ENDPOINT", "localhost:4317"),
		APIBaseURL:             strings.TrimSpace(getenv("API_BASE_URL", DefaultAPIBaseURL)),
		APITimeout:             getenvDuration("API_TIMEOUT", 15*time.Second),
		TenantHeader:           getenv("TENANT_HEADER", "X-Tenant"),
		DBType:                 getenv("DATABASE_TYPE", "sqlite"),
		DBPath:                 getenv("DATABASE_PATH", "roadfuel.db"),
		DiagnosticsAddr:        getenv("DIAGNOSTICS_ADDR", "127.0.0.1:8787"),
		ProbeURL:               strings.TrimSpace(getenv("PROBE_URL", "")),
		ProbeInterval:          getenvDuration("PROBE_INTERVAL", 10*time.Second),
		SyncInterval:           getenvDuration("SYNC_INTERVAL", 0),
		SyncConcurrency:        int(getenvInt64("SYNC_CONCURRENCY", 4)),
		LocationTracking:       getenvBool("LOCATION_TRACKING", true),
		LocationSampleInterval: getenvDuration("LOCATION_SAMPLE_INTERVAL", time.Minute),
		LocationFixPath:        getenv("LOCATION_FIX_PATH", "gps.json"),
		SyncPolicyPath:         strings.TrimSpace(getenv("SYNC_POLICY_PATH", "")),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("30s") or plain seconds ("30").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
