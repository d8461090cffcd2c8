// Package config handles file and environment loading for ports, database strings, etc.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// URL of the Control Plane (e.g., "http://localhost:6161")
	ControllerURL string

	// Shared secret protecting the controller's internal endpoints
	InternalSecret string

	// Per-client throttle of the internal endpoints, 0 = unlimited
	ControllerRateLimit float64
	ControllerRateBurst int

	// Worker-specific configuration
	WorkerID                  string
	WorkerConcurrency         int
	WorkerPollInterval        time.Duration
	WorkerMaxBackoff          time.Duration
	WorkerHeartbeatInterval   time.Duration
	WorkerVisibilityExtension time.Duration
	WorkerTags                []string
	WorkerDequeueRate         float64 // dequeue calls per second, 0 = unlimited
	WorkerJobTimeout          time.Duration
	WorkerMetricsPort         int
	FinalizeMaxRetries        int

	// Runtime selection: "exec" or "docker"
	Runtime        string
	RuntimeWorkDir string
	RuntimeImages  map[string]string // language -> container image

	// CloudHosted enables workspace-level billing for premium workspaces.
	CloudHosted bool

	// Optional Redis mirror of the pending queue. Empty address disables it.
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisQueuePrefix string

	LogLevel string
	LogJSON  bool

	OTELEndpoint string
}

var envBindings = map[string]string{
	"database_url":                "DATABASE_URL",
	"http_port":                   "PORT",
	"controller_url":              "CONTROLLER_URL",
	"internal_secret":             "INTERNAL_SECRET",
	"controller_rate_limit":       "CONTROLLER_RATE_LIMIT",
	"controller_rate_burst":       "CONTROLLER_RATE_BURST",
	"worker_id":                   "WORKER_ID",
	"worker_concurrency":          "WORKER_CONCURRENCY",
	"worker_poll_interval":        "WORKER_POLL_INTERVAL",
	"worker_max_backoff":          "WORKER_MAX_BACKOFF",
	"worker_heartbeat_interval":   "WORKER_HEARTBEAT_INTERVAL",
	"worker_visibility_extension": "WORKER_VISIBILITY_EXTENSION",
	"worker_tags":                 "WORKER_TAGS",
	"worker_dequeue_rate":         "WORKER_DEQUEUE_RATE",
	"worker_job_timeout":          "WORKER_JOB_TIMEOUT",
	"worker_metrics_port":         "WORKER_METRICS_PORT",
	"finalize_max_retries":        "FINALIZE_MAX_RETRIES",
	"runtime":                     "RUNTIME",
	"runtime_workdir":             "RUNTIME_WORKDIR",
	"cloud_hosted":                "CLOUD_HOSTED",
	"redis_addr":                  "REDIS_ADDR",
	"redis_password":              "REDIS_PASSWORD",
	"redis_db":                    "REDIS_DB",
	"redis_queue_prefix":          "REDIS_QUEUE_PREFIX",
	"log_level":                   "LOG_LEVEL",
	"log_json":                    "LOG_JSON",
	"otel_endpoint":               "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("controller_rate_limit", 10)
	v.SetDefault("controller_rate_burst", 20)
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("worker_visibility_extension", 5*time.Minute)
	v.SetDefault("worker_tags", []string{"default"})
	v.SetDefault("worker_dequeue_rate", 0)
	v.SetDefault("worker_job_timeout", 30*time.Minute)
	v.SetDefault("worker_metrics_port", 6162)
	v.SetDefault("finalize_max_retries", 5)
	v.SetDefault("runtime", "exec")
	v.SetDefault("runtime_images", map[string]string{
		"bash":    "bash:5",
		"python3": "python:3.12-slim",
		"deno":    "denoland/deno:alpine",
	})
	v.SetDefault("redis_queue_prefix", "flowplane:queue")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("otel_endpoint", "localhost:4317")
}

// Load reads configuration from an optional YAML file and environment variables.
// Environment variables override file values. When path is empty, flowplane.yaml
// in the current directory is used if present.
func Load(path string) (*Config, error) {
	// .env is optional and never overrides variables already set
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", env)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	} else {
		v.SetConfigName("flowplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "failed to read config file")
			}
		}
	}

	cfg := &Config{
		DatabaseURL:               v.GetString("database_url"),
		HTTPPort:                  v.GetInt("http_port"),
		ControllerURL:             strings.TrimSuffix(v.GetString("controller_url"), "/"),
		InternalSecret:            v.GetString("internal_secret"),
		ControllerRateLimit:       v.GetFloat64("controller_rate_limit"),
		ControllerRateBurst:       v.GetInt("controller_rate_burst"),
		WorkerID:                  v.GetString("worker_id"),
		WorkerConcurrency:         v.GetInt("worker_concurrency"),
		WorkerPollInterval:        v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:          v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval:   v.GetDuration("worker_heartbeat_interval"),
		WorkerVisibilityExtension: v.GetDuration("worker_visibility_extension"),
		WorkerTags:                splitList(v.GetStringSlice("worker_tags")),
		WorkerDequeueRate:         v.GetFloat64("worker_dequeue_rate"),
		WorkerJobTimeout:          v.GetDuration("worker_job_timeout"),
		WorkerMetricsPort:         v.GetInt("worker_metrics_port"),
		FinalizeMaxRetries:        v.GetInt("finalize_max_retries"),
		Runtime:                   v.GetString("runtime"),
		RuntimeWorkDir:            v.GetString("runtime_workdir"),
		RuntimeImages:             v.GetStringMapString("runtime_images"),
		CloudHosted:               v.GetBool("cloud_hosted"),
		RedisAddr:                 v.GetString("redis_addr"),
		RedisPassword:             v.GetString("redis_password"),
		RedisDB:                   v.GetInt("redis_db"),
		RedisQueuePrefix:          v.GetString("redis_queue_prefix"),
		LogLevel:                  v.GetString("log_level"),
		LogJSON:                   v.GetBool("log_json"),
		OTELEndpoint:              v.GetString("otel_endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	switch c.Runtime {
	case "exec", "docker":
	default:
		return errors.Newf("invalid runtime %q (expected exec or docker)", c.Runtime)
	}
	if c.WorkerConcurrency <= 0 {
		return errors.Newf("invalid worker_concurrency %d", c.WorkerConcurrency)
	}
	if c.FinalizeMaxRetries < 0 {
		return errors.Newf("invalid finalize_max_retries %d", c.FinalizeMaxRetries)
	}
	if len(c.WorkerTags) == 0 {
		c.WorkerTags = []string{"default"}
	}
	return nil
}

// splitList flattens comma separated entries so WORKER_TAGS="a,b" and a YAML list behave the same.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
