package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harun/mnemo/pkg/maintenance"
)

// Limits enforced by the validator.
const (
	MaxDimension = 4096
	MaxTopK      = 1000
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	if provider == "openai" && !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}

	return nil
}

// ValidateEmbedding validates the embedding provider settings
func (v *Validator) ValidateEmbedding(cfg EmbeddingConfig) error {
	if cfg.Dimension <= 0 || cfg.Dimension > MaxDimension {
		return fmt.Errorf("embedding dimension must be between 1 and %d, got %d", MaxDimension, cfg.Dimension)
	}

	switch cfg.Provider {
	case "hash":
		return nil
	case "openai":
		return v.ValidateAPIKey(cfg.APIKey, cfg.Provider)
	default:
		return fmt.Errorf("invalid embedding provider: %q (must be one of: hash, openai)", cfg.Provider)
	}
}

// ValidateCacheURL accepts disabled, local, or a redis URL.
func (v *Validator) ValidateCacheURL(url string) error {
	switch strings.ToLower(strings.TrimSpace(url)) {
	case "", "disabled", "none", "off", "local", "memory":
		return nil
	}
	if _, err := redis.ParseURL(url); err != nil {
		return fmt.Errorf("invalid cache url: %w", err)
	}
	return nil
}

// ValidateDuration validates a positive Go duration string; empty means default.
func (v *Validator) ValidateDuration(name, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, value)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}

// ValidateWeights requires non-negative weights with a positive sum.
func (v *Validator) ValidateWeights(w WeightsConfig) error {
	for name, val := range map[string]float64{
		"cosine": w.Cosine, "recency": w.Recency, "access": w.Access, "importance": w.Importance,
	} {
		if val < 0 {
			return fmt.Errorf("search.weights.%s must be >= 0, got %g", name, val)
		}
	}
	if w.Cosine+w.Recency+w.Access+w.Importance <= 0 {
		return fmt.Errorf("search.weights must not all be zero")
	}
	return nil
}

// ValidateSchedule validates a maintenance schedule
func (v *Validator) ValidateSchedule(name string, s ScheduleConfig) error {
	if _, err := maintenance.ParseSchedule(s.Every, s.Cron); err != nil {
		return fmt.Errorf("maintenance.%s: %w", name, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if strings.TrimSpace(cfg.UserID) == "" {
		errors = append(errors, fmt.Errorf("user_id cannot be empty"))
	}

	if err := v.ValidateEmbedding(cfg.Embedding); err != nil {
		errors = append(errors, err)
	}

	// Cache
	if err := v.ValidateCacheURL(cfg.Cache.URL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateDuration("cache.embedding_ttl", cfg.Cache.EmbeddingTTL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateDuration("cache.query_ttl", cfg.Cache.QueryTTL); err != nil {
		errors = append(errors, err)
	}
	if cfg.Cache.SchemaVersion < 0 {
		errors = append(errors, fmt.Errorf("cache.schema_version must be >= 0"))
	}

	// Search
	if cfg.Search.TopK <= 0 || cfg.Search.TopK > MaxTopK {
		errors = append(errors, fmt.Errorf("search.top_k must be between 1 and %d, got %d", MaxTopK, cfg.Search.TopK))
	}
	if cfg.Search.RRFK <= 0 {
		errors = append(errors, fmt.Errorf("search.rrf_k must be positive, got %d", cfg.Search.RRFK))
	}
	if cfg.Search.HalfLifeDays <= 0 {
		errors = append(errors, fmt.Errorf("search.half_life_days must be positive, got %g", cfg.Search.HalfLifeDays))
	}
	if err := v.ValidateWeights(cfg.Search.Weights); err != nil {
		errors = append(errors, err)
	}
	if cfg.Search.DefaultLimit <= 0 {
		errors = append(errors, fmt.Errorf("search.default_limit must be positive"))
	}
	if cfg.Search.PreviewLimit < 0 {
		errors = append(errors, fmt.Errorf("search.preview_limit must be >= 0"))
	}

	// Maintenance
	if cfg.Maintenance.Enabled {
		for name, s := range map[string]ScheduleConfig{
			"ttl_sweep":   cfg.Maintenance.TTLSweep,
			"dedup_sweep": cfg.Maintenance.DedupSweep,
			"vacuum":      cfg.Maintenance.Vacuum,
		} {
			if err := v.ValidateSchedule(name, s); err != nil {
				errors = append(errors, err)
			}
		}
	}
	if cfg.Maintenance.TTLBatch < 0 {
		errors = append(errors, fmt.Errorf("maintenance.ttl_batch must be >= 0"))
	}
	if cfg.Maintenance.DedupGroups < 0 {
		errors = append(errors, fmt.Errorf("maintenance.dedup_groups must be >= 0"))
	}
	if cfg.Maintenance.PurgeAfterDays < 0 {
		errors = append(errors, fmt.Errorf("maintenance.purge_after_days must be >= 0"))
	}

	// Server
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if err := v.ValidateDuration("server.request_timeout", cfg.Server.RequestTimeout); err != nil {
		errors = append(errors, err)
	}

	// Logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors
}
