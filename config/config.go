package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Security  SecurityConfig  `mapstructure:"security"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// Secret is a plain bearer secret. SecretHash is a bcrypt hash of it.
	// JWTSecret enables HS256 bearer tokens. Any of the three turns auth on.
	Secret           string `mapstructure:"secret"`
	SecretHash       string `mapstructure:"secret_hash"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	ModelName        string `mapstructure:"model_name"`
	StreamChunkRunes int    `mapstructure:"stream_chunk_runes"`
}

// AuthEnabled reports whether requests must carry a bearer credential.
func (s ServerConfig) AuthEnabled() bool {
	return strings.TrimSpace(s.Secret) != "" || strings.TrimSpace(s.SecretHash) != "" || strings.TrimSpace(s.JWTSecret) != ""
}

// LLMConfig describes the OpenAI-compatible generation backend
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}
	return nil
}

// BreakerConfig configures a provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ResearchConfig contains the loop budget and per-step caps.
type ResearchConfig struct {
	Budget            BudgetConfig  `mapstructure:"budget"`
	Limits            LimitsConfig  `mapstructure:"limits"`
	SearchTimeout     time.Duration `mapstructure:"search_timeout"`
	VisitTimeout      time.Duration `mapstructure:"visit_timeout"`
	AllowDirectAnswer bool          `mapstructure:"allow_direct_answer"`
	StepSleep         time.Duration `mapstructure:"step_sleep"`
}

// BudgetConfig mirrors budget.Config for file/env configuration.
type BudgetConfig struct {
	TokenLimit     int64 `mapstructure:"token_limit"`
	ReserveTokens  int64 `mapstructure:"reserve_tokens"`
	MaxSteps       int   `mapstructure:"max_steps"`
	MaxBadAttempts int   `mapstructure:"max_bad_attempts"`
}

// LimitsConfig bounds a single step's fan-out.
type LimitsConfig struct {
	MaxQueriesPerStep int `mapstructure:"max_queries_per_step"`
	MaxURLsPerStep    int `mapstructure:"max_urls_per_step"`
	MaxReflectPerStep int `mapstructure:"max_reflect_per_step"`
}

// Normalize fills unset caps; zero is never a useful value for them.
func (r ResearchConfig) Normalize() ResearchConfig {
	if r.Budget.TokenLimit <= 0 {
		r.Budget.TokenLimit = 1_000_000
	}
	if r.Budget.ReserveTokens <= 0 {
		r.Budget.ReserveTokens = r.Budget.TokenLimit * 15 / 100
	}
	if r.Budget.MaxSteps <= 0 {
		r.Budget.MaxSteps = 30
	}
	if r.Limits.MaxQueriesPerStep <= 0 {
		r.Limits.MaxQueriesPerStep = 5
	}
	if r.Limits.MaxURLsPerStep <= 0 {
		r.Limits.MaxURLsPerStep = 4
	}
	if r.Limits.MaxReflectPerStep <= 0 {
		r.Limits.MaxReflectPerStep = 2
	}
	if r.SearchTimeout <= 0 {
		r.SearchTimeout = 15 * time.Second
	}
	if r.VisitTimeout <= 0 {
		r.VisitTimeout = 30 * time.Second
	}
	return r
}

func (r ResearchConfig) Validate() error {
	if r.Budget.MaxBadAttempts < 0 {
		return fmt.Errorf("research.budget.max_bad_attempts cannot be negative")
	}
	if r.Budget.ReserveTokens >= r.Budget.TokenLimit {
		return fmt.Errorf("research.budget.reserve_tokens must be below token_limit")
	}
	if r.Limits.MaxQueriesPerStep > 20 {
		return fmt.Errorf("research.limits.max_queries_per_step must be <= 20")
	}
	if r.Limits.MaxURLsPerStep > 10 {
		return fmt.Errorf("research.limits.max_urls_per_step must be <= 10")
	}
	return nil
}

// SourcesConfig contains search and read collaborator settings
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider          string        `mapstructure:"provider"`
	BraveAPIKey       string        `mapstructure:"brave_api_key"`
	SerperAPIKey      string        `mapstructure:"serper_api_key"`
	MaxResults        int           `mapstructure:"max_results"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

func (w WebSearchConfig) Validate() error {
	switch w.Provider {
	case "brave":
		if strings.TrimSpace(w.BraveAPIKey) == "" {
			return fmt.Errorf("sources.web_search.brave_api_key required for provider brave")
		}
	case "serper":
		if strings.TrimSpace(w.SerperAPIKey) == "" {
			return fmt.Errorf("sources.web_search.serper_api_key required for provider serper")
		}
	default:
		return fmt.Errorf("sources.web_search.provider %q not supported", w.Provider)
	}
	return nil
}

// WebFetchConfig selects the page reader
type WebFetchConfig struct {
	Reader   string            `mapstructure:"reader"` // http or chromedp
	Timeout  time.Duration     `mapstructure:"timeout"`
	MaxChars int               `mapstructure:"max_chars"`
	Policy   CrawlPolicyConfig `mapstructure:"policy"`
}

// SecurityConfig declares sandbox policy defaults.
type SecurityConfig struct {
	SandboxProvider string        `mapstructure:"sandbox_provider"`
	PolicyFile      string        `mapstructure:"policy_file"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	DefaultMemory   string        `mapstructure:"default_memory"`
	MaxOutputBytes  int           `mapstructure:"max_output_bytes"`
}

// SandboxEnabled reports whether the coding action can be offered.
func (s SecurityConfig) SandboxEnabled() bool {
	return strings.TrimSpace(s.SandboxProvider) != "" && s.SandboxProvider != "none"
}

func (s SecurityConfig) Validate() error {
	if !s.SandboxEnabled() {
		return nil
	}
	if s.SandboxProvider != "yaegi" {
		return fmt.Errorf("security.sandbox_provider %q not supported", s.SandboxProvider)
	}
	if s.DefaultTimeout <= 0 {
		return fmt.Errorf("security.default_timeout must be greater than zero")
	}
	return nil
}

// StorageConfig contains optional persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host          string        `mapstructure:"host"`
	Port          string        `mapstructure:"port"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SessionStream string        `mapstructure:"session_stream"`
	StreamMaxLen  int64         `mapstructure:"stream_max_len"`
}

// Enabled reports whether Redis is configured at all.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL           string        `mapstructure:"url"`
	Host          string        `mapstructure:"host"`
	Port          string        `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	DBName        string        `mapstructure:"dbname"`
	SSLMode       string        `mapstructure:"sslmode"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetentionDays int           `mapstructure:"retention_days"`
	RetentionCron string        `mapstructure:"retention_cron"`
}

// Enabled reports whether an archive database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN builds a libpq connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	if p.RetentionDays < 0 {
		return fmt.Errorf("storage.postgres.retention_days cannot be negative")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.secret_hash", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.model_name", "deepresearch-v1")
	v.SetDefault("server.stream_chunk_runes", 100)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.requests_per_second", 5)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("llm.breaker.failure_threshold", 5)
	v.SetDefault("llm.breaker.success_threshold", 1)
	v.SetDefault("llm.breaker.timeout", 30*time.Second)
	v.SetDefault("research.budget.token_limit", 1_000_000)
	v.SetDefault("research.budget.max_steps", 30)
	v.SetDefault("research.budget.max_bad_attempts", 2)
	v.SetDefault("research.limits.max_queries_per_step", 5)
	v.SetDefault("research.limits.max_urls_per_step", 4)
	v.SetDefault("research.limits.max_reflect_per_step", 2)
	v.SetDefault("research.search_timeout", 15*time.Second)
	v.SetDefault("research.visit_timeout", 30*time.Second)
	v.SetDefault("research.allow_direct_answer", false)
	v.SetDefault("sources.web_search.provider", "brave")
	v.SetDefault("sources.web_search.brave_api_key", "")
	v.SetDefault("sources.web_search.serper_api_key", "")
	v.SetDefault("sources.web_search.max_results", 10)
	v.SetDefault("sources.web_search.timeout", 10*time.Second)
	v.SetDefault("sources.web_search.requests_per_second", 2)
	v.SetDefault("sources.web_search.cache_ttl", time.Hour)
	v.SetDefault("sources.web_fetch.reader", "http")
	v.SetDefault("sources.web_fetch.timeout", 20*time.Second)
	v.SetDefault("sources.web_fetch.max_chars", 20000)
	v.SetDefault("security.sandbox_provider", "yaegi")
	v.SetDefault("security.default_timeout", 10*time.Second)
	v.SetDefault("security.default_memory", "256Mi")
	v.SetDefault("security.max_output_bytes", 64*1024)
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.session_stream", "deepresearch:sessions")
	v.SetDefault("storage.redis.stream_max_len", 10000)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.retention_days", 30)
	v.SetDefault("storage.postgres.retention_cron", "0 3 * * *")
	v.SetDefault("telemetry.service_name", "deepresearch")
}

// Load reads the config file (optional when path is empty) and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./app/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (DEEPRESEARCH_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// an explicit path must exist; discovery may come up empty and run on env + defaults
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Research = cfg.Research.Normalize()
	cfg.Sources.WebFetch.Policy = cfg.Sources.WebFetch.Policy.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	validators := []func() error{
		c.LLM.Validate,
		c.Research.Validate,
		c.Sources.WebSearch.Validate,
		c.Sources.WebFetch.Policy.Validate,
		c.Security.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Postgres.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file and panics on failure.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
