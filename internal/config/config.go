// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Cost       CostConfig       `mapstructure:"cost" yaml:"cost"`
	Repository RepositoryConfig `mapstructure:"repository" yaml:"repository"`
	Adapter    AdapterConfig    `mapstructure:"adapter" yaml:"adapter"`
	Generator  GeneratorConfig  `mapstructure:"generator" yaml:"generator"`
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator" yaml:"evaluator"`
	LLM        LLMRouterConfig  `mapstructure:"llm" yaml:"llm"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig selects and configures the durable metrics backend.
type MetricsConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"` // "file" or "postgres"
	Path     string         `mapstructure:"path" yaml:"path"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders the config as a pgx-compatible connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// CostConfig holds the budget ceilings and rate limits enforced by the cost
// controller. Percentages are fractions in (0,1]; call caps are rolling
// window counts.
type CostConfig struct {
	DailyCostLimitUSD    float64 `mapstructure:"daily_cost_limit_usd" yaml:"daily_cost_limit_usd"`
	MonthlyCostLimitUSD  float64 `mapstructure:"monthly_cost_limit_usd" yaml:"monthly_cost_limit_usd"`
	TotalCostLimitUSD    float64 `mapstructure:"total_cost_limit_usd" yaml:"total_cost_limit_usd"`
	WarningThresholdPct  float64 `mapstructure:"warning_threshold_pct" yaml:"warning_threshold_pct"`
	CriticalThresholdPct float64 `mapstructure:"critical_threshold_pct" yaml:"critical_threshold_pct"`
	CallsPerMinute       int     `mapstructure:"calls_per_minute" yaml:"calls_per_minute"`
	CallsPerHour         int     `mapstructure:"calls_per_hour" yaml:"calls_per_hour"`
	CallsPerDay          int     `mapstructure:"calls_per_day" yaml:"calls_per_day"`
}

// RepositoryConfig configures the versioned rule store.
type RepositoryConfig struct {
	RulesPath      string `mapstructure:"rules_path" yaml:"rules_path"`
	MaxRuleBackups int    `mapstructure:"max_rule_backups" yaml:"max_rule_backups"`
	ValidateRules  bool   `mapstructure:"validate_rules" yaml:"validate_rules"`
	TrackRuleUsage bool   `mapstructure:"track_rule_usage" yaml:"track_rule_usage"`
	BackupRules    bool   `mapstructure:"backup_rules" yaml:"backup_rules"`
}

// AdapterConfig configures the hybrid rule adapter.
type AdapterConfig struct {
	EnableDictCompatibility    bool `mapstructure:"enable_dict_compatibility" yaml:"enable_dict_compatibility"`
	PreferObjectRepresentation bool `mapstructure:"prefer_object_representation" yaml:"prefer_object_representation"`
}

// GeneratorConfig tunes the iterative rule generation loop.
type GeneratorConfig struct {
	MaxIterations        int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	ImprovementThreshold float64 `mapstructure:"improvement_threshold" yaml:"improvement_threshold"`
	CostLimitFraction    float64 `mapstructure:"cost_limit_fraction" yaml:"cost_limit_fraction"`
	Method               string  `mapstructure:"method" yaml:"method"`
}

// EvaluatorConfig tunes the multi-stage rule evaluator.
type EvaluatorConfig struct {
	MinAcceptableScore float64 `mapstructure:"min_acceptable_score" yaml:"min_acceptable_score"`
	CostLimitFraction  float64 `mapstructure:"cost_limit_fraction" yaml:"cost_limit_fraction"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerSecond    float64                   `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pulse")
	v.SetDefault("logger.log_file", "pulse.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Metrics --
	v.SetDefault("metrics.backend", "file")
	v.SetDefault("metrics.path", "data/metrics")
	v.SetDefault("metrics.postgres.host", "localhost")
	v.SetDefault("metrics.postgres.port", 5432)
	v.SetDefault("metrics.postgres.user", "postgres")
	v.SetDefault("metrics.postgres.password", "") // set via PULSE_METRICS_PG_PASSWORD
	v.SetDefault("metrics.postgres.dbname", "pulse_metrics")
	v.SetDefault("metrics.postgres.sslmode", "disable")

	// -- Cost governance --
	v.SetDefault("cost.daily_cost_limit_usd", 10.0)
	v.SetDefault("cost.monthly_cost_limit_usd", 100.0)
	v.SetDefault("cost.total_cost_limit_usd", 1000.0)
	v.SetDefault("cost.warning_threshold_pct", 0.7)
	v.SetDefault("cost.critical_threshold_pct", 0.9)
	v.SetDefault("cost.calls_per_minute", 10)
	v.SetDefault("cost.calls_per_hour", 100)
	v.SetDefault("cost.calls_per_day", 1000)

	// -- Repository --
	v.SetDefault("repository.rules_path", "data/rules")
	v.SetDefault("repository.max_rule_backups", 10)
	v.SetDefault("repository.validate_rules", true)
	v.SetDefault("repository.track_rule_usage", false)
	v.SetDefault("repository.backup_rules", true)

	// -- Adapter --
	v.SetDefault("adapter.enable_dict_compatibility", true)
	v.SetDefault("adapter.prefer_object_representation", false)

	// -- Generator --
	v.SetDefault("generator.max_iterations", 5)
	v.SetDefault("generator.improvement_threshold", 0.05)
	v.SetDefault("generator.cost_limit_fraction", 0.10)
	v.SetDefault("generator.method", "gpt_symbolic_loop")

	// -- Evaluator --
	v.SetDefault("evaluator.min_acceptable_score", 0.7)
	v.SetDefault("evaluator.cost_limit_fraction", 0.05)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_second", 1.0)
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("metrics.postgres.password", "PULSE_METRICS_PG_PASSWORD")
	v.BindEnv("llm.api_key", "PULSE_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// API keys never live in the config file; pull them from the environment
	// for any model entry that lacks one.
	if key := os.Getenv("PULSE_LLM_API_KEY"); key != "" {
		for name, m := range cfg.LLM.Models {
			if m.APIKey == "" {
				m.APIKey = key
				cfg.LLM.Models[name] = m
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Cost.Validate(); err != nil {
		return fmt.Errorf("cost configuration invalid: %w", err)
	}
	if err := c.Repository.Validate(); err != nil {
		return fmt.Errorf("repository configuration invalid: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator configuration invalid: %w", err)
	}
	if err := c.Evaluator.Validate(); err != nil {
		return fmt.Errorf("evaluator configuration invalid: %w", err)
	}
	switch c.Metrics.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("metrics.backend must be \"file\" or \"postgres\", got %q", c.Metrics.Backend)
	}
	return nil
}

// Validate checks the cost governance settings.
func (c *CostConfig) Validate() error {
	if c.DailyCostLimitUSD <= 0 || c.MonthlyCostLimitUSD <= 0 || c.TotalCostLimitUSD <= 0 {
		return fmt.Errorf("all cost limits must be positive")
	}
	if c.WarningThresholdPct <= 0 || c.WarningThresholdPct >= 1 {
		return fmt.Errorf("warning_threshold_pct must be in (0,1)")
	}
	if c.CriticalThresholdPct <= c.WarningThresholdPct || c.CriticalThresholdPct > 1 {
		return fmt.Errorf("critical_threshold_pct must be in (warning_threshold_pct, 1]")
	}
	if c.CallsPerMinute <= 0 || c.CallsPerHour <= 0 || c.CallsPerDay <= 0 {
		return fmt.Errorf("all call caps must be positive")
	}
	return nil
}

// Validate checks the repository settings.
func (r *RepositoryConfig) Validate() error {
	if r.RulesPath == "" {
		return fmt.Errorf("rules_path is required")
	}
	if r.MaxRuleBackups < 1 {
		return fmt.Errorf("max_rule_backups must be at least 1")
	}
	return nil
}

// Validate checks the generator settings.
func (g *GeneratorConfig) Validate() error {
	if g.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if g.ImprovementThreshold < 0 || g.ImprovementThreshold >= 1 {
		return fmt.Errorf("improvement_threshold must be in [0,1)")
	}
	if g.CostLimitFraction <= 0 || g.CostLimitFraction > 1 {
		return fmt.Errorf("cost_limit_fraction must be in (0,1]")
	}
	return nil
}

// Validate checks the evaluator settings.
func (e *EvaluatorConfig) Validate() error {
	if e.MinAcceptableScore < 0 || e.MinAcceptableScore > 1 {
		return fmt.Errorf("min_acceptable_score must be in [0,1]")
	}
	if e.CostLimitFraction <= 0 || e.CostLimitFraction > 1 {
		return fmt.Errorf("cost_limit_fraction must be in (0,1]")
	}
	return nil
}
