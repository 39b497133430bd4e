// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the drover service.
type ServiceConfig struct {
	Port               string
	MetricsPort        string
	APIKey             string
	DBPath             string
	WorkRoot           string        // run directories are created under this root
	Backend            string        // slurm, pbs, docker, or auto
	ProfilePath        string        // optional TOML cluster profile
	PollInterval       time.Duration // delay between background tracking passes
	SweepEnabled       bool          // false leaves tracking to explicit API calls
	DefaultMaxRetries  int           // applied when a submission carries no budget
	WhitelistThreshold int           // word-set matches needed to suppress a log line
	WebhookURL         string        // lifecycle event endpoint (empty disables)
	WebhookSecret      string
	ShutdownDrainWait  time.Duration // time to wait for load balancer to drain (0 to skip)
	ShutdownTimeout    time.Duration
}

// Load assembles service configuration from DROVER_* environment
// variables. Secrets accept a *_FILE override pointing at a mounted file.
func Load() *ServiceConfig {
	return &ServiceConfig{
		Port:               GetEnv("DROVER_HTTP_PORT", "8080"),
		MetricsPort:        GetEnv("DROVER_METRICS_PORT", "9090"),
		APIKey:             secret("DROVER_API_KEY"),
		DBPath:             GetEnv("DROVER_DB_PATH", "drover.db"),
		WorkRoot:           GetEnv("DROVER_WORK_ROOT", "drover-work"),
		Backend:            GetEnv("DROVER_BACKEND", "auto"),
		ProfilePath:        GetEnv("DROVER_PROFILE", ""),
		PollInterval:       GetDurationEnv("DROVER_POLL_INTERVAL", 30*time.Second),
		SweepEnabled:       GetBoolEnv("DROVER_SWEEP_ENABLED", true),
		DefaultMaxRetries:  GetIntEnv("DROVER_DEFAULT_MAX_RETRIES", 0),
		WhitelistThreshold: GetIntEnv("DROVER_WHITELIST_THRESHOLD", 3),
		WebhookURL:         GetEnv("DROVER_WEBHOOK_URL", ""),
		WebhookSecret:      secret("DROVER_WEBHOOK_SECRET"),
		ShutdownDrainWait:  GetDurationEnv("DROVER_SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownTimeout:    GetDurationEnv("DROVER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// secret reads key directly, letting key_FILE take precedence when set.
func secret(key string) string {
	if path := GetEnv(key+"_FILE", ""); path != "" {
		return GetSecretFile(path)
	}
	return GetEnv(key, "")
}
