package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Search    SearchConfig    `mapstructure:"search"`
	Model     ModelConfig     `mapstructure:"model"`
	Scorer    ScorerConfig    `mapstructure:"scorer"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Session   SessionConfig   `mapstructure:"session"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig configures the optional research job archive. When
// Enabled is false the service keeps all state in memory only.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds a PostgreSQL connection string from the individual fields.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// ReportsConfig configures the optional S3-compatible object store for
// final report markdown.
type ReportsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// SearchConfig configures the external web search collaborator.
type SearchConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	MaxResults     int     `mapstructure:"max_results"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
}

// ModelConfig configures the language-model collaborator that produces
// queries, briefings and the final report.
type ModelConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// ScorerConfig configures the opaque scoring collaborator.
type ScorerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Layers  int    `mapstructure:"layers"`
	Shots   int    `mapstructure:"shots"`
}

type PipelineConfig struct {
	Workers      int           `mapstructure:"workers"`
	RetryCount   int           `mapstructure:"retry_count"`
	PhaseTimeout time.Duration `mapstructure:"phase_timeout"`
	QueriesPer   int           `mapstructure:"queries_per_category"`
}

type BatchConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
	ItemCap        int `mapstructure:"item_cap"`
}

// SessionConfig governs observer reconnection behavior.
type SessionConfig struct {
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// RetentionConfig bounds how long terminal jobs stay in the registry.
type RetentionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/prospect.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("reports.enabled", false)
	v.SetDefault("reports.endpoint", "localhost:9000")
	v.SetDefault("reports.use_ssl", false)
	v.SetDefault("reports.bucket", "prospect-reports")
	v.SetDefault("search.base_url", "https://api.tavily.com")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.score_threshold", 0.4)
	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.model", "gpt-4o-mini")
	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("scorer.enabled", true)
	v.SetDefault("scorer.base_url", "http://localhost:9400")
	v.SetDefault("scorer.layers", 3)
	v.SetDefault("scorer.shots", 1000)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.retry_count", 3)
	v.SetDefault("pipeline.phase_timeout", 3*time.Minute)
	v.SetDefault("pipeline.queries_per_category", 4)
	v.SetDefault("batch.max_concurrency", 4)
	v.SetDefault("batch.item_cap", 8)
	v.SetDefault("session.reconnect_attempts", 5)
	v.SetDefault("session.reconnect_delay", 2*time.Second)
	v.SetDefault("session.poll_interval", 3*time.Second)
	v.SetDefault("retention.window", 30*time.Minute)
	v.SetDefault("retention.sweep_interval", time.Minute)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("search.api_key", "TAVILY_API_KEY")
	v.BindEnv("search.base_url", "TAVILY_BASE_URL")
	v.BindEnv("model.api_key", "OPENAI_API_KEY")
	v.BindEnv("model.base_url", "OPENAI_BASE_URL")
	v.BindEnv("model.model", "RESEARCH_MODEL")
	v.BindEnv("scorer.api_key", "SCORER_API_KEY")
	v.BindEnv("scorer.base_url", "SCORER_BASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("reports.access_key", "REPORTS_ACCESS_KEY")
	v.BindEnv("reports.secret_key", "REPORTS_SECRET_KEY")
	v.BindEnv("reports.endpoint", "REPORTS_ENDPOINT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
