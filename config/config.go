package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Search    SearchConfig    `mapstructure:"search"`
	Rate      RateConfig      `mapstructure:"rate"`
	Research  ResearchConfig  `mapstructure:"research"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string            `mapstructure:"address"`
	AuthEnabled bool              `mapstructure:"auth_enabled"`
	JWTSecret   string            `mapstructure:"jwt_secret"`
	Users       map[string]string `mapstructure:"users"` // name -> bcrypt hash
	CORSOrigins []string          `mapstructure:"cors_origins"`
	// WriteTimeout 0 keeps responses open while a research run is in flight.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	if s.AuthEnabled && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required when auth is enabled")
	}
	return nil
}

// SearchConfig owns provider selection, fallback order and normalization limits.
type SearchConfig struct {
	DefaultProvider string          `mapstructure:"default_provider"`
	FallbackOrder   []string        `mapstructure:"fallback_order"`
	StickyFallback  bool            `mapstructure:"sticky_fallback"`
	ContentMaxChars int             `mapstructure:"content_max_chars"`
	Providers       ProvidersConfig `mapstructure:"providers"`
}

// Normalize trims provider ids and drops empties/duplicates from the fallback order.
func (s SearchConfig) Normalize() SearchConfig {
	s.DefaultProvider = strings.ToLower(strings.TrimSpace(s.DefaultProvider))
	seen := make(map[string]struct{}, len(s.FallbackOrder))
	var order []string
	for _, name := range s.FallbackOrder {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	s.FallbackOrder = order
	if s.ContentMaxChars <= 0 {
		s.ContentMaxChars = 500
	}
	return s
}

func (s SearchConfig) Validate() error {
	if strings.TrimSpace(s.DefaultProvider) == "" {
		return fmt.Errorf("search.default_provider is required")
	}
	if len(s.FallbackOrder) == 0 {
		return fmt.Errorf("search.fallback_order must list at least one provider")
	}
	return nil
}

// ProvidersConfig holds per-backend option defaults
type ProvidersConfig struct {
	Tavily     TavilyConfig     `mapstructure:"tavily"`
	Brave      BraveConfig      `mapstructure:"brave"`
	Bing       BingConfig       `mapstructure:"bing"`
	Exa        ExaConfig        `mapstructure:"exa"`
	DuckDuckGo DuckDuckGoConfig `mapstructure:"duckduckgo"`
	ArXiv      ArxivConfig      `mapstructure:"arxiv"`
}

type TavilyConfig struct {
	APIKey        string `mapstructure:"api_key"`
	SearchDepth   string `mapstructure:"search_depth"`
	MaxResults    int    `mapstructure:"max_results"`
	IncludeAnswer bool   `mapstructure:"include_answer"`
}

type BraveConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

type BingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
	Freshness  string `mapstructure:"freshness"`
}

type ExaConfig struct {
	APIKey        string `mapstructure:"api_key"`
	MaxResults    int    `mapstructure:"max_results"`
	UseHighlights bool   `mapstructure:"use_highlights"`
}

type DuckDuckGoConfig struct {
	MaxResults int    `mapstructure:"max_results"`
	Region     string `mapstructure:"region"`
	SafeSearch string `mapstructure:"safesearch"`
}

type ArxivConfig struct {
	MaxResults int `mapstructure:"max_results"`
}

// RateConfig contains fixed-window throttle settings per resource class
type RateConfig struct {
	Search     RateWindowConfig `mapstructure:"search"`
	Generation RateWindowConfig `mapstructure:"generation"`
}

// RateWindowConfig parameterizes one fixed-window limiter
type RateWindowConfig struct {
	RequestsPerMinute  int           `mapstructure:"requests_per_minute"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	ConcurrentRequests int           `mapstructure:"concurrent_requests"`
}

func (r RateWindowConfig) Validate() error {
	if r.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be > 0")
	}
	if r.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be > 0")
	}
	return nil
}

// ResearchConfig bounds the retrieval loop
type ResearchConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	SelectRetries int `mapstructure:"select_retries"`
	AnswerRetries int `mapstructure:"answer_retries"`
	SelectionSize int `mapstructure:"selection_size"`
}

// Normalize applies loop defaults for unset values.
func (r ResearchConfig) Normalize() ResearchConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	if r.SelectRetries <= 0 {
		r.SelectRetries = 3
	}
	if r.AnswerRetries <= 0 {
		r.AnswerRetries = 3
	}
	if r.SelectionSize <= 0 {
		r.SelectionSize = 2
	}
	return r
}

// LLMConfig configures the generation gateway
type LLMConfig struct {
	Backend     string        `mapstructure:"backend"` // openai, ollama, anthropic
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	TopP        float64       `mapstructure:"top_p"`
	Stop        []string      `mapstructure:"stop"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	switch l.Backend {
	case "openai", "ollama", "anthropic":
	default:
		return fmt.Errorf("llm.backend must be one of openai, ollama, anthropic (got %q)", l.Backend)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// FetchConfig controls page content retrieval
type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxChars   int           `mapstructure:"max_chars"`
	UseBrowser bool          `mapstructure:"use_browser"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// PolicyConfig configures domain-level crawl rules
type PolicyConfig struct {
	AllowedDomains    []string `mapstructure:"allowed_domains"`
	DisallowedDomains []string `mapstructure:"disallowed_domains"`
	RespectRobots     bool     `mapstructure:"respect_robots"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether any Postgres connection detail was supplied.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != "" || strings.TrimSpace(p.DBName) != ""
}

// DSN assembles a connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
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
	if !p.Configured() {
		return nil
	}
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether a Redis host was supplied.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port for the go-redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// SchedulerConfig lists recurring research topics
type SchedulerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Topics  []TopicConfig `mapstructure:"topics"`
}

// TopicConfig is one recurring question with a cron cadence
type TopicConfig struct {
	Name     string `mapstructure:"name"`
	Question string `mapstructure:"question"`
	Schedule string `mapstructure:"schedule"`
}

func (s SchedulerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	for i, t := range s.Topics {
		if strings.TrimSpace(t.Question) == "" {
			return fmt.Errorf("scheduler.topics[%d].question is required", i)
		}
		if strings.TrimSpace(t.Schedule) == "" {
			return fmt.Errorf("scheduler.topics[%d].schedule is required", i)
		}
	}
	return nil
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	MetricsPort  int    `mapstructure:"metrics_port"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name

	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config") // path to look for the config file in
		viper.AddConfigPath(".")        // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DELVER")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (DELVER_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Search = config.Search.Normalize()
	config.Research = config.Research.Normalize()
	config.Policy = config.Policy.Normalize()

	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	if err := config.Policy.Validate(); err != nil {
		panic(err)
	}
	if err := config.Rate.Search.Validate(); err != nil {
		panic(fmt.Errorf("rate.search: %w", err))
	}
	if err := config.Rate.Generation.Validate(); err != nil {
		panic(fmt.Errorf("rate.generation: %w", err))
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Scheduler.Validate(); err != nil {
		panic(err)
	}
	return &config
}

func setDefaults() {
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.auth_enabled", false)
	viper.SetDefault("server.read_timeout", "1m")
	viper.SetDefault("server.write_timeout", "0s")

	viper.SetDefault("search.default_provider", "duckduckgo")
	viper.SetDefault("search.fallback_order", []string{"exa", "bing", "brave", "tavily", "duckduckgo"})
	viper.SetDefault("search.sticky_fallback", true)
	viper.SetDefault("search.content_max_chars", 500)
	viper.SetDefault("search.providers.tavily.search_depth", "basic")
	viper.SetDefault("search.providers.tavily.max_results", 5)
	viper.SetDefault("search.providers.tavily.include_answer", true)
	viper.SetDefault("search.providers.brave.max_results", 10)
	viper.SetDefault("search.providers.bing.max_results", 10)
	viper.SetDefault("search.providers.bing.freshness", "Month")
	viper.SetDefault("search.providers.exa.max_results", 10)
	viper.SetDefault("search.providers.exa.use_highlights", true)
	viper.SetDefault("search.providers.duckduckgo.max_results", 10)
	viper.SetDefault("search.providers.duckduckgo.region", "wt-wt")
	viper.SetDefault("search.providers.duckduckgo.safesearch", "off")
	viper.SetDefault("search.providers.arxiv.max_results", 10)

	viper.SetDefault("rate.search.requests_per_minute", 10)
	viper.SetDefault("rate.search.cooldown", "60s")
	viper.SetDefault("rate.generation.requests_per_minute", 60)
	viper.SetDefault("rate.generation.cooldown", "60s")
	viper.SetDefault("rate.generation.concurrent_requests", 5)

	viper.SetDefault("research.max_attempts", 5)
	viper.SetDefault("research.select_retries", 3)
	viper.SetDefault("research.answer_retries", 3)
	viper.SetDefault("research.selection_size", 2)

	viper.SetDefault("llm.backend", "openai")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.top_p", 0.9)
	viper.SetDefault("llm.timeout", "120s")

	viper.SetDefault("fetch.timeout", "15s")
	viper.SetDefault("fetch.max_chars", 20000)
	viper.SetDefault("fetch.use_browser", false)
	viper.SetDefault("fetch.user_agent", "delver/1.0 (+https://github.com/mohammad-safakhou/delver)")

	viper.SetDefault("policy.respect_robots", true)

	viper.SetDefault("scheduler.enabled", false)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "delver")
}
