package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "LLM_PROVIDER", "LLM_TIMEOUT", "TURN_TIMEOUT", "LLM_MAX_RETRIES", "LLM_TEMPERATURE"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected openai provider by default, got %s", cfg.LLMProvider)
	}
	if cfg.LLMTimeout != 5*time.Second {
		t.Fatalf("expected 5s llm timeout, got %s", cfg.LLMTimeout)
	}
	if cfg.TurnTimeout != 8*time.Second {
		t.Fatalf("expected 8s turn timeout, got %s", cfg.TurnTimeout)
	}
	if cfg.LLMMaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.LLMMaxRetries)
	}
	if cfg.LLMTemperature != 0.7 {
		t.Fatalf("expected 0.7 temperature, got %v", cfg.LLMTemperature)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("LLM_PROVIDER", " Bedrock ")
	t.Setenv("FALLBACK_LLM_PROVIDER", "gemini")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_MAX_RETRIES", "5")
	t.Setenv("CONTEXT_SWEEP_INTERVAL", "2m")
	t.Setenv("REDIS_TLS", "true")
	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" {
		t.Fatalf("unexpected port/env: %s %s", cfg.Port, cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.LLMProvider != "bedrock" || cfg.FallbackLLMProvider != "gemini" {
		t.Fatalf("unexpected providers: %q %q", cfg.LLMProvider, cfg.FallbackLLMProvider)
	}
	if cfg.LLMTemperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLMTemperature)
	}
	if cfg.LLMMaxRetries != 5 {
		t.Fatalf("expected retries override, got %d", cfg.LLMMaxRetries)
	}
	if cfg.ContextSweepInterval != 2*time.Minute {
		t.Fatalf("expected sweep override, got %s", cfg.ContextSweepInterval)
	}
	if !cfg.RedisTLS {
		t.Fatal("expected redis tls enabled")
	}
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("LLM_MAX_TOKENS", "lots")
	t.Setenv("LLM_TIMEOUT", "soon")
	cfg := Load()
	if cfg.LLMMaxTokens != 500 {
		t.Fatalf("expected default max tokens, got %d", cfg.LLMMaxTokens)
	}
	if cfg.LLMTimeout != 5*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.LLMTimeout)
	}
}

func TestCORSOriginsList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example, ,https://b.example ")
	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %#v", cfg.CORSAllowedOrigins)
	}

	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	if got := Load().CORSAllowedOrigins; got != nil {
		t.Fatalf("expected no origins, got %#v", got)
	}
}
