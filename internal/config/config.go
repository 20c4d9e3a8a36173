package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LLM providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Search backends.
const (
	SearchBrave  = "brave"
	SearchGoogle = "google"
	SearchNone   = "none"
)

type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Search     SearchConfig
	Enrichment EnrichmentConfig
	Storage    StorageConfig
	BigQuery   BigQueryConfig
	Jobs       JobsConfig
	Notion     NotionConfig
	Logger     LoggerConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LLMConfig struct {
	Provider string
	// Model overrides the provider's default model when set.
	Model string

	GeminiAPIKey     string
	AnthropicAPIKey  string
	AnthropicBaseURL string

	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

type SearchConfig struct {
	Backend string

	BraveAPIKey  string
	BraveBaseURL string

	GoogleAPIKey string
	GoogleCX     string
}

type EnrichmentConfig struct {
	// BatchLimit caps eligible transactions per batch; 0 or less is unlimited.
	BatchLimit int
	Workers    int

	MerchantPrompt   string
	CompetitorPrompt string
	PurchasesPrompt  string

	LikelyPurchases bool
}

type StorageConfig struct {
	Bucket string
	// UploadDir confines local document references. Empty allows any path.
	UploadDir string
}

type BigQueryConfig struct {
	ProjectID string
	Dataset   string
}

// Enabled reports whether model outputs and runs are recorded.
func (c BigQueryConfig) Enabled() bool {
	return c.ProjectID != ""
}

type JobsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

type NotionConfig struct {
	Token      string
	DatabaseID string
	// AutoSync exports every successful job's results.
	AutoSync bool
}

// Enabled reports whether results can be exported to Notion.
func (c NotionConfig) Enabled() bool {
	return c.Token != "" && c.DatabaseID != ""
}

type LoggerConfig struct {
	Level string
}

// Load reads an optional .env file and then builds the Config from the
// environment.
func Load() (*Config, error) {
	// .env is optional; plain environment variables work on their own.
	for _, envFile := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}
	return FromEnv()
}

// FromEnv builds the Config from environment variables with defaults.
func FromEnv() (*Config, error) {
	p := &envParser{}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  p.seconds("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: p.seconds("SERVER_WRITE_TIMEOUT", 120),
		},
		LLM: LLMConfig{
			Provider:         strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
			Model:            getEnv("LLM_MODEL", ""),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
			Timeout:          p.seconds("LLM_TIMEOUT", 60),
			MaxRetries:       p.int("LLM_MAX_RETRIES", 3),
			RetryBackoff:     p.milliseconds("LLM_RETRY_BACKOFF_MS", 1000),
		},
		Search: SearchConfig{
			Backend:      strings.ToLower(getEnv("SEARCH_BACKEND", SearchBrave)),
			BraveAPIKey:  getEnv("BRAVE_API_KEY", ""),
			BraveBaseURL: getEnv("BRAVE_BASE_URL", ""),
			GoogleAPIKey: getEnv("GOOGLE_SEARCH_API_KEY", ""),
			GoogleCX:     getEnv("GOOGLE_SEARCH_CX", ""),
		},
		Enrichment: EnrichmentConfig{
			BatchLimit:       p.int("BATCH_LIMIT", 2),
			Workers:          p.int("ENRICH_WORKERS", 2),
			MerchantPrompt:   getEnv("MERCHANT_PROMPT_VERSION", "merchant/v1"),
			CompetitorPrompt: getEnv("COMPETITOR_PROMPT_VERSION", "competitor/v1"),
			PurchasesPrompt:  getEnv("PURCHASES_PROMPT_VERSION", "purchases/v1"),
			LikelyPurchases:  p.bool("ENABLE_LIKELY_PURCHASES", false),
		},
		Storage: StorageConfig{
			Bucket:    getEnv("GCS_BUCKET", ""),
			UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		},
		BigQuery: BigQueryConfig{
			ProjectID: getEnv("BIGQUERY_PROJECT", ""),
			Dataset:   getEnv("BIGQUERY_DATASET", "merchant_insights"),
		},
		Jobs: JobsConfig{
			Workers:    p.int("JOB_WORKERS", 2),
			BufferSize: p.int("JOB_BUFFER_SIZE", 100),
			MaxRetries: p.int("JOB_MAX_RETRIES", 3),
		},
		Notion: NotionConfig{
			Token:      getEnv("NOTION_TOKEN", ""),
			DatabaseID: getEnv("NOTION_DATABASE_ID", ""),
			AutoSync:   p.bool("NOTION_AUTO_SYNC", false),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("FromEnv: %w", err)
	}
	return cfg, nil
}

// Validate checks that the selected providers have their credentials.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	case ProviderAnthropic:
		if c.LLM.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not one of gemini, anthropic", c.LLM.Provider))
	}

	switch c.Search.Backend {
	case SearchBrave:
		if c.Search.BraveAPIKey == "" {
			errs = append(errs, errors.New("BRAVE_API_KEY is required for the brave search backend"))
		}
	case SearchGoogle:
		if c.Search.GoogleAPIKey == "" || c.Search.GoogleCX == "" {
			errs = append(errs, errors.New("GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_CX are required for the google search backend"))
		}
	case SearchNone:
	default:
		errs = append(errs, fmt.Errorf("SEARCH_BACKEND %q is not one of brave, google, none", c.Search.Backend))
	}

	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("LLM_MAX_RETRIES must not be negative"))
	}
	if c.Notion.AutoSync && !c.Notion.Enabled() {
		errs = append(errs, errors.New("NOTION_AUTO_SYNC requires NOTION_TOKEN and NOTION_DATABASE_ID"))
	}
	if c.Enrichment.Workers < 1 {
		errs = append(errs, errors.New("ENRICH_WORKERS must be at least 1"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser collects parse errors so every bad key is reported at once.
type envParser struct {
	errs []error
}

func (p *envParser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func (p *envParser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return v
}

func (p *envParser) seconds(key string, def int) time.Duration {
	return time.Duration(p.int(key, def)) * time.Second
}

func (p *envParser) milliseconds(key string, def int) time.Duration {
	return time.Duration(p.int(key, def)) * time.Millisecond
}
