// Package config holds the CES daemon's layered configuration: built-in
// defaults, overridden by a JSON file, overridden by environment
// variables, overridden by CLI flags (the precedence cmd/ces-server
// applies when wiring cobra flags).
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds the Execution API's own listen/auth settings.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	APIKey      string `json:"api_key"`
	WorkDir     string `json:"work_dir"`
	LogLevel    string `json:"log_level"`
	MetricsAddr string `json:"metrics_addr"` // empty disables the separate listener
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text, json
}

// ObservabilityConfig groups the ambient observability sub-configs.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// GRPCConfig holds the optional gRPC health-probe server settings (A6).
type GRPCConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// VerifierConfig holds the Code Verifier policy source.
type VerifierConfig struct {
	Enabled    bool   `json:"enabled"`
	PolicyFile string `json:"policy_file"` // empty = permissive default policy
}

// StreamConfig holds the Streaming Channel (C4) backend settings.
type StreamConfig struct {
	Backend       string        `json:"backend"` // "memory" (default) or "redis"
	RedisAddr     string        `json:"redis_addr"`
	GracePeriod   time.Duration `json:"grace_period"`   // default 5s, floor 1s
	KeepaliveIdle time.Duration `json:"keepalive_idle"` // default 300s
	QueueDepth    int           `json:"queue_depth"`    // per-exec bounded queue size
}

// AuditConfig holds the optional Postgres execution-audit sink (A5).
type AuditConfig struct {
	Enabled       bool          `json:"enabled"`
	DSN           string        `json:"dsn"`
	BatchSize     int           `json:"batch_size"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	Timeout       time.Duration `json:"timeout"`
}

// CompactorConfig holds the Context Compactor (C8) tuning knobs. The
// Compactor is consumed by the agent layer, not the daemon, but ships
// here so both sides share one config shape.
type CompactorConfig struct {
	Threshold    int `json:"threshold"`     // uncompacted rounds before a pass fires
	RetainRecent int `json:"retain_recent"` // most-recent rounds never compacted
}

// Config is the root configuration struct.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Observability ObservabilityConfig `json:"observability"`
	GRPC          GRPCConfig          `json:"grpc"`
	Verifier      VerifierConfig      `json:"verifier"`
	Stream        StreamConfig        `json:"stream"`
	Audit         AuditConfig         `json:"audit"`
	Compactor     CompactorConfig     `json:"compactor"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			WorkDir:  "/tmp/ces",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "localhost:4318",
				ServiceName: "ces",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "ces",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
		GRPC: GRPCConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Verifier: VerifierConfig{
			Enabled: true,
		},
		Stream: StreamConfig{
			Backend:       "memory",
			GracePeriod:   5 * time.Second,
			KeepaliveIdle: 300 * time.Second,
			QueueDepth:    256,
		},
		Audit: AuditConfig{
			Enabled:       false,
			BatchSize:     100,
			BufferSize:    1000,
			FlushInterval: 500 * time.Millisecond,
			Timeout:       5 * time.Second,
		},
		Compactor: CompactorConfig{
			Threshold:    10,
			RetainRecent: 2,
		},
	}
}

// LoadFromFile loads a JSON config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies the §6 environment fallbacks (and a few CES
// ambient-stack extensions) over cfg in place.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("SERVER_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SERVER_WORK_DIR"); v != "" {
		cfg.Server.WorkDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("SERVER_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("SERVER_GRPC_ADDR"); v != "" {
		cfg.GRPC.Enabled = true
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("CES_VERIFIER_POLICY_FILE"); v != "" {
		cfg.Verifier.PolicyFile = v
	}
	if v := os.Getenv("CES_STREAM_BACKEND"); v != "" {
		cfg.Stream.Backend = v
	}
	if v := os.Getenv("CES_STREAM_REDIS_ADDR"); v != "" {
		cfg.Stream.RedisAddr = v
	}
	if v := os.Getenv("CES_AUDIT_DSN"); v != "" {
		cfg.Audit.Enabled = true
		cfg.Audit.DSN = v
	}
}
