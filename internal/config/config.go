// Package config loads and validates ingestion pipeline configuration via
// Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Application     ApplicationConfig                    `mapstructure:"application"`
	Server          ServerConfig                         `mapstructure:"server"`
	Worker          WorkerConfig                          `mapstructure:"worker"`
	Collaborator    CollaboratorConfig                    `mapstructure:"collaborator"`
	ObjectStore     ObjectStoreConfig                     `mapstructure:"object_store"`
	Enrichment      EnrichmentConfig                      `mapstructure:"enrichment"`
	Breaker         BreakerConfig                         `mapstructure:"breaker"`
	RateLimit       RateLimitConfig                       `mapstructure:"rate_limit"`
	Logging         LoggingConfig                         `mapstructure:"logging"`
	Dedup           DedupConfig                           `mapstructure:"dedup"`
	DeadLetter      DeadLetterConfig                      `mapstructure:"dead_letter"`
	StandardSources map[string]pipeline.SourceDescriptor  `mapstructure:"standard_sources"`
}

// ApplicationConfig identifies this process to tracing/logging backends.
type ApplicationConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// DeadLetterConfig points the DLQ alert tap at a Pub/Sub topic. An empty
// ProjectID disables the notifier.
type DeadLetterConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BearerToken    string        `mapstructure:"bearer_token"`
}

// WorkerConfig tunes the per-queue worker pools (§5).
type WorkerConfig struct {
	FetchConcurrency      int           `mapstructure:"fetch_concurrency"`
	NormalizeConcurrency  int           `mapstructure:"normalize_concurrency"`
	MediaConcurrency      int           `mapstructure:"media_concurrency"`
	EnrichmentConcurrency int           `mapstructure:"enrichment_concurrency"`
	ShutdownGrace         time.Duration `mapstructure:"shutdown_grace"`
	FetchJobTimeout       time.Duration `mapstructure:"fetch_job_timeout"`
	NormalizeJobTimeout   time.Duration `mapstructure:"normalize_job_timeout"`
	MediaJobTimeout       time.Duration `mapstructure:"media_job_timeout"`
	EnrichmentJobTimeout  time.Duration `mapstructure:"enrichment_job_timeout"`
}

// CollaboratorConfig points at the external services the pipeline calls
// out to (§6).
type CollaboratorConfig struct {
	CMSBaseURL           string        `mapstructure:"cms_base_url"`
	CMSServiceToken      string        `mapstructure:"cms_service_token"`
	CMSServiceName       string        `mapstructure:"cms_service_name"`
	CMSTimeout           time.Duration `mapstructure:"cms_timeout"`
	TranscriberBaseURL   string        `mapstructure:"transcriber_base_url"`
	TranscriberTimeout   time.Duration `mapstructure:"transcriber_timeout"`
	EmbeddingBaseURL     string        `mapstructure:"embedding_base_url"`
	EmbeddingModel       string        `mapstructure:"embedding_model"`
	EmbeddingAPIKey      string        `mapstructure:"embedding_api_key"`
	EmbeddingDimension   int           `mapstructure:"embedding_dimension"`
}

// ObjectStoreConfig selects and configures the media blob store backend.
type ObjectStoreConfig struct {
	Backend   string `mapstructure:"backend"` // "gcs" or "local"
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// EnrichmentConfig tunes enrichment-stage working directories and limits.
type EnrichmentConfig struct {
	WorkDir            string `mapstructure:"work_dir"`
	EmbeddingInputCap  int    `mapstructure:"embedding_input_cap"`
}

// BreakerConfig tunes the per-dependency circuit breaker defaults (§4.D).
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenDuration     time.Duration `mapstructure:"open_duration"`
	HalfOpenMax      int           `mapstructure:"half_open_max"`
}

// RateLimitConfig tunes the default sliding-window rate limiter (§4.C).
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// DedupConfig selects the dedup store backend. TTL is loaded but not
// passed to the stores: the normalize stage marks keys with ttl 0, so each
// store's own 24h default applies.
type DedupConfig struct {
	Backend string        `mapstructure:"backend"` // "memory", "badger", or "postgres"
	Dir     string        `mapstructure:"dir"`
	DSN     string        `mapstructure:"dsn"`
	Table   string        `mapstructure:"table"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, pipeline.Wrap(pipeline.KindConfigError, "validate config", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.service_name", "ingest-pipeline")
	v.SetDefault("application.version", "dev")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("worker.fetch_concurrency", 5)
	v.SetDefault("worker.normalize_concurrency", 5)
	v.SetDefault("worker.media_concurrency", 2)
	v.SetDefault("worker.enrichment_concurrency", 3)
	v.SetDefault("worker.shutdown_grace", 30*time.Second)
	v.SetDefault("worker.fetch_job_timeout", 60*time.Second)
	v.SetDefault("worker.normalize_job_timeout", 60*time.Second)
	v.SetDefault("worker.media_job_timeout", 180*time.Second)
	v.SetDefault("worker.enrichment_job_timeout", 180*time.Second)

	v.SetDefault("collaborator.cms_timeout", 15*time.Second)
	v.SetDefault("collaborator.cms_service_name", "ingest-pipeline")
	v.SetDefault("collaborator.transcriber_timeout", 120*time.Second)
	v.SetDefault("collaborator.embedding_dimension", 384)

	v.SetDefault("object_store.backend", "local")
	v.SetDefault("object_store.local_dir", "./data/objects")

	v.SetDefault("enrichment.work_dir", "./data/enrichment")
	v.SetDefault("enrichment.embedding_input_cap", 8192)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_duration", 30*time.Second)
	v.SetDefault("breaker.half_open_max", 3)

	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.max_requests", 60)

	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.ttl", 24*time.Hour)

	v.SetDefault("dead_letter.topic", "ingest-dead-letters")

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits, failing fast
// before any component is constructed.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.FetchConcurrency <= 0 || c.Worker.NormalizeConcurrency <= 0 ||
		c.Worker.MediaConcurrency <= 0 || c.Worker.EnrichmentConcurrency <= 0 {
		return fmt.Errorf("worker concurrency values must be > 0")
	}
	if c.Collaborator.CMSBaseURL == "" {
		return fmt.Errorf("collaborator.cms_base_url must be set")
	}
	if c.Collaborator.EmbeddingDimension <= 0 {
		return fmt.Errorf("collaborator.embedding_dimension must be > 0")
	}
	switch c.ObjectStore.Backend {
	case "gcs":
		if c.ObjectStore.GCSBucket == "" {
			return fmt.Errorf("object_store.gcs_bucket must be set when backend is gcs")
		}
	case "local":
		if c.ObjectStore.LocalDir == "" {
			return fmt.Errorf("object_store.local_dir must be set when backend is local")
		}
	default:
		return fmt.Errorf("object_store.backend must be \"gcs\" or \"local\"")
	}
	switch c.Dedup.Backend {
	case "memory":
	case "badger":
		if c.Dedup.Dir == "" {
			return fmt.Errorf("dedup.dir must be set when backend is badger")
		}
	case "postgres":
		if c.Dedup.DSN == "" {
			return fmt.Errorf("dedup.dsn must be set when backend is postgres")
		}
	default:
		return fmt.Errorf("dedup.backend must be \"memory\", \"badger\", or \"postgres\"")
	}
	return nil
}
