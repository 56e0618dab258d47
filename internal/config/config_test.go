package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a config that passes validation after defaults.
func validConfig() *Config {
	cfg := &Config{
		Tenant:  "state_of_the_union",
		Sources: []string{"https://example.com/speech"},
	}
	cfg.Embeddings.Provider = "hash"
	cfg.Embeddings.Dimension = 64
	applyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "empty tenant",
			mutate:  func(c *Config) { c.Tenant = "" },
			wantErr: "tenant",
		},
		{
			name:    "tenant with uppercase",
			mutate:  func(c *Config) { c.Tenant = "Acme" },
			wantErr: "tenant",
		},
		{
			name:    "tenant with hyphen",
			mutate:  func(c *Config) { c.Tenant = "state-of-union" },
			wantErr: "tenant",
		},
		{
			name:    "no sources",
			mutate:  func(c *Config) { c.Sources = nil },
			wantErr: "at least one source",
		},
		{
			name:    "non http source",
			mutate:  func(c *Config) { c.Sources = []string{"file:///etc/passwd"} },
			wantErr: "not an http(s) URL",
		},
		{
			name:    "overlap equal to max size",
			mutate:  func(c *Config) { c.Chunking.Overlap = c.Chunking.MaxSize },
			wantErr: "chunking.overlap",
		},
		{
			name:    "negative overlap",
			mutate:  func(c *Config) { c.Chunking.Overlap = -1 },
			wantErr: "chunking.overlap",
		},
		{
			name:    "unknown embeddings provider",
			mutate:  func(c *Config) { c.Embeddings.Provider = "word2vec" },
			wantErr: "embeddings.provider",
		},
		{
			name:    "hash provider without dimension",
			mutate:  func(c *Config) { c.Embeddings.Dimension = 0 },
			wantErr: "embeddings.dimension",
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.Generation.Temperature = 0.9 },
			wantErr: "temperature",
		},
		{
			name:    "unknown vectorstore",
			mutate:  func(c *Config) { c.VectorStore.Provider = "weaviate" },
			wantErr: "vectorstore.provider",
		},
		{
			name: "qdrant bad port",
			mutate: func(c *Config) {
				c.VectorStore.Provider = "qdrant"
				c.VectorStore.Qdrant.Host = "localhost"
				c.VectorStore.Qdrant.Port = 70000
			},
			wantErr: "qdrant.port",
		},
		{
			name:    "zero generation timeout",
			mutate:  func(c *Config) { c.Generation.Timeout = 0 },
			wantErr: "generation.timeout",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Ingest.Workers = 0 },
			wantErr: "ingest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.Chunking.MaxSize != 100 || cfg.Chunking.Overlap != 0 {
		t.Errorf("chunking = %+v, want max 100 overlap 0", cfg.Chunking)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Generation.Model != "gpt-3.5-turbo" {
		t.Errorf("Generation.Model = %q, want gpt-3.5-turbo", cfg.Generation.Model)
	}
	if cfg.Generation.Temperature != 0 {
		t.Errorf("Generation.Temperature = %v, want 0", cfg.Generation.Temperature)
	}
	if cfg.Generation.Timeout != 30*time.Second {
		t.Errorf("Generation.Timeout = %v, want 30s", cfg.Generation.Timeout)
	}
	if cfg.Embeddings.Model != "text-embedding-3-small" {
		t.Errorf("Embeddings.Model = %q, want text-embedding-3-small", cfg.Embeddings.Model)
	}
	if cfg.Embeddings.APIKey.Value() != "sk-from-env" {
		t.Error("Embeddings.APIKey should fall back to OPENAI_API_KEY")
	}
	if cfg.VectorStore.Provider != "chromem" {
		t.Errorf("VectorStore.Provider = %q, want chromem", cfg.VectorStore.Provider)
	}
	if cfg.VectorStore.Qdrant.Port != 0 {
		t.Error("qdrant defaults should only apply when qdrant is selected")
	}
}

func TestApplyDefaults_Qdrant(t *testing.T) {
	cfg := &Config{VectorStore: VectorStoreConfig{Provider: "qdrant"}}
	applyDefaults(cfg)

	if cfg.VectorStore.Qdrant.Host != "localhost" || cfg.VectorStore.Qdrant.Port != 6334 {
		t.Errorf("qdrant = %s:%d, want localhost:6334", cfg.VectorStore.Qdrant.Host, cfg.VectorStore.Qdrant.Port)
	}
}
