package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
worker:
  fetch_concurrency: 8
collaborator:
  cms_base_url: https://cms.internal
  cms_timeout: 5s
object_store:
  backend: gcs
  gcs_bucket: bucket
logging:
  development: false
standard_sources:
  feed-1:
    id: feed-1
    kind: FEED
    endpoint: https://example.com/feed.xml
    enabled: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Worker.FetchConcurrency != 8 {
		t.Fatalf("expected fetch concurrency override to apply")
	}
	if cfg.Collaborator.CMSBaseURL != "https://cms.internal" || cfg.Collaborator.CMSTimeout != 5*time.Second {
		t.Fatalf("expected collaborator overrides to apply: %+v", cfg.Collaborator)
	}
	src, ok := cfg.StandardSources["feed-1"]
	if !ok || src.Endpoint != "https://example.com/feed.xml" {
		t.Fatalf("expected standard source to be loaded: %+v", cfg.StandardSources)
	}
	if cfg.Worker.MediaConcurrency != 2 {
		t.Fatalf("expected default media concurrency to survive unset keys, got %d", cfg.Worker.MediaConcurrency)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:       ServerConfig{Port: 8080},
		Worker:       WorkerConfig{FetchConcurrency: 1, NormalizeConcurrency: 1, MediaConcurrency: 1, EnrichmentConcurrency: 1},
		Collaborator: CollaboratorConfig{CMSBaseURL: "https://cms.internal", EmbeddingDimension: 1536},
		ObjectStore:  ObjectStoreConfig{Backend: "local", LocalDir: "./data"},
		Dedup:        DedupConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Worker.FetchConcurrency = 0
				return c
			}(),
			want: "worker concurrency",
		},
		{
			name: "missing cms base url",
			cfg: func() Config {
				c := base
				c.Collaborator.CMSBaseURL = ""
				return c
			}(),
			want: "collaborator.cms_base_url",
		},
		{
			name: "gcs backend missing bucket",
			cfg: func() Config {
				c := base
				c.ObjectStore = ObjectStoreConfig{Backend: "gcs"}
				return c
			}(),
			want: "object_store.gcs_bucket",
		},
		{
			name: "postgres dedup missing dsn",
			cfg: func() Config {
				c := base
				c.Dedup = DedupConfig{Backend: "postgres"}
				return c
			}(),
			want: "dedup.dsn",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
