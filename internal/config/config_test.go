package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_ZeroWeightMass(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.Weights = WeightsConfig{}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero weight mass")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Ingestion.ChunkTokenBudget != 800 {
		t.Errorf("chunk_token_budget = %d, want 800", cfg.Ingestion.ChunkTokenBudget)
	}
	if cfg.Embedding.BatchSize != 50 {
		t.Errorf("batch_size = %d, want 50", cfg.Embedding.BatchSize)
	}
	if cfg.Storage.MaxBatchOps != 400 {
		t.Errorf("max_batch_ops = %d, want 400", cfg.Storage.MaxBatchOps)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BaseDelayMs != 500 {
		t.Errorf("retry defaults = %+v", cfg.Retry)
	}
	if cfg.Retrieval.Weights.Similarity != 0.45 {
		t.Errorf("similarity weight = %v, want 0.45", cfg.Retrieval.Weights.Similarity)
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("CITEDEX_TEST_VAR", "resolved")
	defer os.Unsetenv("CITEDEX_TEST_VAR")

	tests := []struct {
		in   string
		want string
	}{
		{"key: ${CITEDEX_TEST_VAR}", "key: resolved"},
		{"key: ${CITEDEX_TEST_UNSET:-fallback}", "key: fallback"},
		{"key: ${CITEDEX_TEST_VAR:-fallback}", "key: resolved"},
		{"key: plain", "key: plain"},
	}

	for _, tt := range tests {
		if got := string(expandEnvVars([]byte(tt.in))); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLocalConfig(t *testing.T) {
	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("Load(local): %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.HTTP.Port)
	}
	if len(cfg.Database.Addrs) == 0 {
		t.Error("database addrs empty")
	}
	if cfg.Ingestion.ChunkTokenBudget != 800 {
		t.Errorf("chunk_token_budget = %d, want 800", cfg.Ingestion.ChunkTokenBudget)
	}
}
