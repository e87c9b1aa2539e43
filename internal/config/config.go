package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	OCR          OCRConfig          `mapstructure:"ocr"`
	AI           AIConfig           `mapstructure:"ai"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	KSeF         KSeFConfig         `mapstructure:"ksef"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// RedisConfig holds the shared counter store configuration. When Addr is
// empty the in-memory store is used, which is only correct for a single
// process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OCRConfig holds OCR stage configuration. Engine selection is explicit:
// "tesseract" runs the local engine followed by text extraction, "vision"
// performs OCR and extraction in a single model call. There is no default.
type OCRConfig struct {
	Engine      string        `mapstructure:"engine"`
	Languages   []string      `mapstructure:"languages"`
	PageSegMode int           `mapstructure:"page_seg_mode"`
	EngineMode  int           `mapstructure:"engine_mode"`
	RenderScale float64       `mapstructure:"render_scale"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AIConfig holds the model configuration for extraction and classification
type AIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	VisionModel string        `mapstructure:"vision_model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RegistryConfig holds the business registry client configuration
type RegistryConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
}

// KSeFConfig holds the e-invoicing gateway configuration
type KSeFConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	AuthToken    string        `mapstructure:"auth_token"`
	ContextNIP   string        `mapstructure:"context_nip"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	ReceiptDir   string        `mapstructure:"receipt_dir"`
}

// PipelineConfig holds stage thresholds and retry policy
type PipelineConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MaxExtractRetries   int     `mapstructure:"max_extract_retries"`
	VisionFallbackBelow float64 `mapstructure:"vision_fallback_below"`
	MinTextLength       int     `mapstructure:"min_text_length"`
}

// QuotaConfig maps tier names to monthly invoice ceilings
type QuotaConfig struct {
	Tiers       map[string]int64 `mapstructure:"tiers"`
	DefaultTier string           `mapstructure:"default_tier"`
}

// RateLimitConfig holds fixed-window request limits per endpoint class
type RateLimitConfig struct {
	Window  time.Duration `mapstructure:"window"`
	Process int           `mapstructure:"process"`
	Read    int           `mapstructure:"read"`
}

// NotificationConfig holds batch-summary dispatch configuration
type NotificationConfig struct {
	WebhookURL       string        `mapstructure:"webhook_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PerRecipientHour int           `mapstructure:"per_recipient_hour"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/invoices.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// OCR defaults: scale doubles native resolution; engine stays unset on
	// purpose, the operator must choose one.
	viper.SetDefault("ocr.languages", []string{"pol", "eng"})
	viper.SetDefault("ocr.page_seg_mode", 3)
	viper.SetDefault("ocr.engine_mode", 3)
	viper.SetDefault("ocr.render_scale", 2.0)
	viper.SetDefault("ocr.timeout", 60*time.Second)

	// AI defaults
	viper.SetDefault("ai.model", "gpt-4o-mini")
	viper.SetDefault("ai.vision_model", "gpt-4o")
	viper.SetDefault("ai.temperature", 0.1)
	viper.SetDefault("ai.max_tokens", 4000)
	viper.SetDefault("ai.timeout", 60*time.Second)

	// Registry defaults
	viper.SetDefault("registry.base_url", "https://wl-api.mf.gov.pl")
	viper.SetDefault("registry.timeout", 15*time.Second)
	viper.SetDefault("registry.batch_interval", 500*time.Millisecond)

	// KSeF defaults
	viper.SetDefault("ksef.base_url", "https://ksef-test.mf.gov.pl/api")
	viper.SetDefault("ksef.timeout", 30*time.Second)
	viper.SetDefault("ksef.poll_interval", 2*time.Second)
	viper.SetDefault("ksef.poll_timeout", 2*time.Minute)
	viper.SetDefault("ksef.receipt_dir", "data/receipts")

	// Pipeline defaults
	viper.SetDefault("pipeline.confidence_threshold", 70.0)
	viper.SetDefault("pipeline.max_extract_retries", 1)
	viper.SetDefault("pipeline.vision_fallback_below", 40.0)
	viper.SetDefault("pipeline.min_text_length", 40)

	// Quota defaults
	viper.SetDefault("quota.tiers", map[string]int64{
		"free":     10,
		"starter":  100,
		"business": 1000,
	})
	viper.SetDefault("quota.default_tier", "free")

	// Rate limit defaults
	viper.SetDefault("rate_limit.window", time.Minute)
	viper.SetDefault("rate_limit.process", 30)
	viper.SetDefault("rate_limit.read", 120)

	// Notification defaults
	viper.SetDefault("notification.timeout", 10*time.Second)
	viper.SetDefault("notification.per_recipient_hour", 4)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("ai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("ksef.auth_token", "KSEF_AUTH_TOKEN")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("notification.webhook_url", "NOTIFICATION_WEBHOOK_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.OCR.Engine {
	case "tesseract", "vision":
	case "":
		return fmt.Errorf("ocr.engine is required (tesseract or vision)")
	default:
		return fmt.Errorf("ocr.engine must be tesseract or vision, got %q", c.OCR.Engine)
	}

	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if c.KSeF.AuthToken == "" {
		return fmt.Errorf("ksef.auth_token is required")
	}
	if c.KSeF.ContextNIP == "" {
		return fmt.Errorf("ksef.context_nip is required")
	}
	if c.OCR.RenderScale <= 0 {
		return fmt.Errorf("ocr.render_scale must be positive")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 100 {
		return fmt.Errorf("pipeline.confidence_threshold must be between 0 and 100")
	}
	if len(c.Quota.Tiers) == 0 {
		return fmt.Errorf("quota.tiers must not be empty")
	}
	if _, ok := c.Quota.Tiers[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("quota.default_tier %q has no ceiling configured", c.Quota.DefaultTier)
	}

	return nil
}
