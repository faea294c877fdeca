package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main mnemo configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// UserID is the memory partition used when a request names none
	UserID string `json:"user_id" mapstructure:"user_id"`

	Storage     StorageConfig     `json:"storage" mapstructure:"storage"`
	Cache       CacheConfig       `json:"cache" mapstructure:"cache"`
	Embedding   EmbeddingConfig   `json:"embedding" mapstructure:"embedding"`
	Search      SearchConfig      `json:"search" mapstructure:"search"`
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Tracing     TracingConfig     `json:"tracing" mapstructure:"tracing"`
}

// StorageConfig holds record store configuration
type StorageConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	URL           string `json:"url" mapstructure:"url"` // disabled, local, or redis://...
	EmbeddingTTL  string `json:"embedding_ttl" mapstructure:"embedding_ttl"`
	QueryTTL      string `json:"query_ttl" mapstructure:"query_ttl"`
	SchemaVersion int    `json:"schema_version" mapstructure:"schema_version"`
	LocalMaxMB    int    `json:"local_max_mb" mapstructure:"local_max_mb"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // hash, openai
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	BaseURL   string `json:"base_url,omitempty" mapstructure:"base_url"`
}

// SearchConfig holds ranking configuration
type SearchConfig struct {
	TopK         int           `json:"top_k" mapstructure:"top_k"`
	RRFK         int           `json:"rrf_k" mapstructure:"rrf_k"`
	HalfLifeDays float64       `json:"half_life_days" mapstructure:"half_life_days"`
	Weights      WeightsConfig `json:"weights" mapstructure:"weights"`
	DefaultLimit int           `json:"default_limit" mapstructure:"default_limit"`
	PreviewLimit int           `json:"preview_limit" mapstructure:"preview_limit"`
}

// WeightsConfig holds composite score weights
type WeightsConfig struct {
	Cosine     float64 `json:"cosine" mapstructure:"cosine"`
	Recency    float64 `json:"recency" mapstructure:"recency"`
	Access     float64 `json:"access" mapstructure:"access"`
	Importance float64 `json:"importance" mapstructure:"importance"`
}

// MaintenanceConfig holds background job configuration
type MaintenanceConfig struct {
	Enabled        bool           `json:"enabled" mapstructure:"enabled"`
	TTLSweep       ScheduleConfig `json:"ttl_sweep" mapstructure:"ttl_sweep"`
	DedupSweep     ScheduleConfig `json:"dedup_sweep" mapstructure:"dedup_sweep"`
	Vacuum         ScheduleConfig `json:"vacuum" mapstructure:"vacuum"`
	TTLBatch       int            `json:"ttl_batch" mapstructure:"ttl_batch"`
	DedupGroups    int            `json:"dedup_groups" mapstructure:"dedup_groups"`
	PurgeAfterDays int            `json:"purge_after_days" mapstructure:"purge_after_days"`
}

// ScheduleConfig is either an interval ("5m") or a cron expression.
type ScheduleConfig struct {
	Every string `json:"every,omitempty" mapstructure:"every"`
	Cron  string `json:"cron,omitempty" mapstructure:"cron"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	RequestTimeout string `json:"request_timeout" mapstructure:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		UserID: "default",
		Cache: CacheConfig{
			URL:           "local",
			EmbeddingTTL:  "24h",
			QueryTTL:      "1h",
			SchemaVersion: 1,
			LocalMaxMB:    64,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dimension: 384,
		},
		Search: SearchConfig{
			TopK:         50,
			RRFK:         60,
			HalfLifeDays: 14,
			Weights: WeightsConfig{
				Cosine:     0.6,
				Recency:    0.2,
				Access:     0.15,
				Importance: 0.05,
			},
			DefaultLimit: 10,
			PreviewLimit: 50,
		},
		Maintenance: MaintenanceConfig{
			Enabled:        true,
			TTLSweep:       ScheduleConfig{Every: "5m"},
			DedupSweep:     ScheduleConfig{Every: "30m"},
			Vacuum:         ScheduleConfig{Every: "24h"},
			TTLBatch:       1000,
			DedupGroups:    200,
			PurgeAfterDays: 30,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8765,
			RequestTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// EmbeddingTTLDuration returns the parsed embedding cache lifetime.
func (c CacheConfig) EmbeddingTTLDuration() time.Duration {
	return parseDurationOr(c.EmbeddingTTL, 24*time.Hour)
}

// QueryTTLDuration returns the parsed query cache lifetime.
func (c CacheConfig) QueryTTLDuration() time.Duration {
	return parseDurationOr(c.QueryTTL, time.Hour)
}

// RequestTimeoutDuration returns the parsed per-request timeout.
func (s ServerConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(s.RequestTimeout, 30*time.Second)
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate returns the first problem found by the validator.
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
