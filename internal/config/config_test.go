package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LLM_PROVIDER", "LLM_MODEL", "GEMINI_API_KEY", "GOOGLE_API_KEY", "ANTHROPIC_API_KEY",
		"SEARCH_BACKEND", "BRAVE_API_KEY", "BATCH_LIMIT", "ENRICH_WORKERS", "ENABLE_LIKELY_PURCHASES",
		"LLM_MAX_RETRIES", "LLM_RETRY_BACKOFF_MS", "BIGQUERY_PROJECT", "BIGQUERY_DATASET", "LOG_LEVEL",
		"NOTION_TOKEN", "NOTION_DATABASE_ID", "NOTION_AUTO_SYNC", "UPLOAD_DIR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.LLM.Provider != ProviderGemini || cfg.Search.Backend != SearchBrave {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.Enrichment.BatchLimit != 2 || cfg.Enrichment.Workers != 2 || cfg.Enrichment.LikelyPurchases {
		t.Errorf("Unexpected enrichment defaults: %+v", cfg.Enrichment)
	}
	if cfg.LLM.MaxRetries != 3 || cfg.LLM.RetryBackoff != time.Second {
		t.Errorf("Unexpected retry defaults: %+v", cfg.LLM)
	}
	if cfg.Enrichment.MerchantPrompt != "merchant/v1" || cfg.Enrichment.CompetitorPrompt != "competitor/v1" {
		t.Errorf("Unexpected prompt versions: %+v", cfg.Enrichment)
	}
	if cfg.BigQuery.Enabled() || cfg.BigQuery.Dataset != "merchant_insights" {
		t.Errorf("Unexpected BigQuery defaults: %+v", cfg.BigQuery)
	}
	if cfg.Notion.Enabled() || cfg.Notion.AutoSync {
		t.Errorf("Notion export should be off by default: %+v", cfg.Notion)
	}
	if cfg.Storage.UploadDir != "uploads" {
		t.Errorf("UploadDir = %q, want uploads", cfg.Storage.UploadDir)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("SEARCH_BACKEND", "none")
	t.Setenv("BATCH_LIMIT", "0")
	t.Setenv("ENRICH_WORKERS", "4")
	t.Setenv("ENABLE_LIKELY_PURCHASES", "true")
	t.Setenv("COMPETITOR_PROMPT_VERSION", "competitor/v2")
	t.Setenv("BIGQUERY_PROJECT", "my-project")
	t.Setenv("LLM_TIMEOUT", "30")
	t.Setenv("UPLOAD_DIR", "/srv/statements")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.LLM.Provider != ProviderAnthropic || cfg.LLM.AnthropicAPIKey != "sk-test" || cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("Unexpected LLM config: %+v", cfg.LLM)
	}
	if cfg.Enrichment.BatchLimit != 0 || cfg.Enrichment.Workers != 4 || !cfg.Enrichment.LikelyPurchases {
		t.Errorf("Unexpected enrichment config: %+v", cfg.Enrichment)
	}
	if cfg.Enrichment.CompetitorPrompt != "competitor/v2" || !cfg.BigQuery.Enabled() {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.Storage.UploadDir != "/srv/statements" {
		t.Errorf("UploadDir = %q", cfg.Storage.UploadDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestFromEnv_GeminiKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.GeminiAPIKey != "g-key" {
		t.Errorf("GeminiAPIKey = %q, want GOOGLE_API_KEY fallback", cfg.LLM.GeminiAPIKey)
	}
}

func TestFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("BATCH_LIMIT", "two")
	t.Setenv("ENABLE_LIKELY_PURCHASES", "maybe")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("Expected error for invalid values")
	}
	for _, key := range []string{"BATCH_LIMIT", "ENABLE_LIKELY_PURCHASES"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("Error should name %s: %v", key, err)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LLM:        LLMConfig{Provider: ProviderGemini, GeminiAPIKey: "k", MaxRetries: 3},
			Search:     SearchConfig{Backend: SearchBrave, BraveAPIKey: "b"},
			Enrichment: EnrichmentConfig{Workers: 2},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing gemini key", func(c *Config) { c.LLM.GeminiAPIKey = "" }, "GEMINI_API_KEY"},
		{"missing anthropic key", func(c *Config) { c.LLM.Provider = ProviderAnthropic }, "ANTHROPIC_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "LLM_PROVIDER"},
		{"missing brave key", func(c *Config) { c.Search.BraveAPIKey = "" }, "BRAVE_API_KEY"},
		{"google needs cx", func(c *Config) { c.Search.Backend = SearchGoogle; c.Search.GoogleAPIKey = "k" }, "GOOGLE_SEARCH_CX"},
		{"no search", func(c *Config) { c.Search = SearchConfig{Backend: SearchNone} }, ""},
		{"unknown search", func(c *Config) { c.Search.Backend = "bing" }, "SEARCH_BACKEND"},
		{"no retries", func(c *Config) { c.LLM.MaxRetries = 0 }, ""},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }, "LLM_MAX_RETRIES"},
		{"zero workers", func(c *Config) { c.Enrichment.Workers = 0 }, "ENRICH_WORKERS"},
		{"notion auto sync without token", func(c *Config) { c.Notion = NotionConfig{DatabaseID: "db", AutoSync: true} }, "NOTION_AUTO_SYNC"},
		{"notion auto sync", func(c *Config) { c.Notion = NotionConfig{Token: "secret", DatabaseID: "db", AutoSync: true} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}
