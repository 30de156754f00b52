// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	LLM       LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	Evolution EvolutionConfig `mapstructure:"evolution" yaml:"evolution"`
	Runner    RunnerConfig    `mapstructure:"runner" yaml:"runner"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator" yaml:"evaluator"`
	Judge     JudgeConfig     `mapstructure:"judge" yaml:"judge"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
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

// RewardSignal selects which bandit reward the archive ranks tools by.
type RewardSignal string

const (
	// RewardHelpful ranks tools by the externally judged helpfulness rate.
	// A tool can be causally helpful even on a task the agent ultimately fails.
	RewardHelpful RewardSignal = "helpful"
	// RewardResolved ranks tools by the raw task resolution rate instead.
	RewardResolved RewardSignal = "resolved"
)

// EvolutionConfig holds settings for the tool evolution engine.
type EvolutionConfig struct {
	MaxIterations     int          `mapstructure:"max_iterations" yaml:"max_iterations"`
	SubagentToolCount int          `mapstructure:"subagent_tool_count" yaml:"subagent_tool_count"`
	CodeToolCount     int          `mapstructure:"code_tool_count" yaml:"code_tool_count"`
	NewToolTheta      float64      `mapstructure:"new_tool_theta" yaml:"new_tool_theta"`
	WarmupIterations  int          `mapstructure:"warmup_iterations" yaml:"warmup_iterations"`
	WarmupConcurrency int          `mapstructure:"warmup_concurrency" yaml:"warmup_concurrency"`
	BatchSize         int          `mapstructure:"batch_size" yaml:"batch_size"`
	RewardSignal      RewardSignal `mapstructure:"reward_signal" yaml:"reward_signal"`
	Resume            bool         `mapstructure:"resume" yaml:"resume"`
	OutputDir         string       `mapstructure:"output_dir" yaml:"output_dir"`
	TemplateDir       string       `mapstructure:"template_dir" yaml:"template_dir"`
	PromptDir         string       `mapstructure:"prompt_dir" yaml:"prompt_dir"`
	InstancesFile     string       `mapstructure:"instances_file" yaml:"instances_file"`
}

// RunnerConfig configures the external coding-agent runner invocation.
type RunnerConfig struct {
	Command    string        `mapstructure:"command" yaml:"command"`
	Args       []string      `mapstructure:"args" yaml:"args"`
	NumWorkers int           `mapstructure:"num_workers" yaml:"num_workers"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EvaluatorConfig configures the external patch-evaluation harness invocation.
type EvaluatorConfig struct {
	Command    string        `mapstructure:"command" yaml:"command"`
	Args       []string      `mapstructure:"args" yaml:"args"`
	Dataset    string        `mapstructure:"dataset" yaml:"dataset"`
	Split      string        `mapstructure:"split" yaml:"split"`
	MaxWorkers int           `mapstructure:"max_workers" yaml:"max_workers"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// JudgeConfig configures the helpfulness judge.
type JudgeConfig struct {
	// RequestsPerMinute caps judge LLM calls; post-hoc analysis fans out over
	// every tool/instance pair of an iteration.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
}

// HistoryConfig configures the optional Postgres experiment-history store.
// The file-based archives remain the source of truth; this store only keeps
// an audit trail of experiment results for offline analysis.
type HistoryConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
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

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "toolforge")
	v.SetDefault("logger.log_file", "toolforge.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")

	// -- Evolution --
	v.SetDefault("evolution.max_iterations", 20)
	v.SetDefault("evolution.subagent_tool_count", 3)
	v.SetDefault("evolution.code_tool_count", 3)
	v.SetDefault("evolution.new_tool_theta", 1.0)
	v.SetDefault("evolution.warmup_iterations", 2)
	v.SetDefault("evolution.warmup_concurrency", 16)
	v.SetDefault("evolution.batch_size", 10)
	v.SetDefault("evolution.reward_signal", string(RewardHelpful))
	v.SetDefault("evolution.resume", false)
	v.SetDefault("evolution.output_dir", "generated")
	v.SetDefault("evolution.template_dir", "templates")
	v.SetDefault("evolution.prompt_dir", "prompts")

	// -- Runner --
	v.SetDefault("runner.command", "sweagent")
	v.SetDefault("runner.num_workers", 16)
	v.SetDefault("runner.timeout", "2h")

	// -- Evaluator --
	v.SetDefault("evaluator.command", "python")
	v.SetDefault("evaluator.dataset", "princeton-nlp/SWE-bench_Verified")
	v.SetDefault("evaluator.split", "test")
	v.SetDefault("evaluator.max_workers", 16)
	v.SetDefault("evaluator.timeout", "1h")

	// -- Judge --
	v.SetDefault("judge.requests_per_minute", 60.0)
	v.SetDefault("judge.temperature", 0.0)

	// -- History --
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.postgres.host", "localhost")
	v.SetDefault("history.postgres.port", 5432)
	v.SetDefault("history.postgres.user", "postgres")
	v.SetDefault("history.postgres.password", "") // Should be set via env var
	v.SetDefault("history.postgres.dbname", "toolforge_history")
	v.SetDefault("history.postgres.sslmode", "disable")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("history.postgres.password", "TOOLFORGE_HISTORY_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Evolution.Validate(); err != nil {
		return fmt.Errorf("evolution configuration invalid: %w", err)
	}
	if c.Runner.NumWorkers <= 0 {
		return fmt.Errorf("runner.num_workers must be a positive integer")
	}
	if c.Evaluator.MaxWorkers <= 0 {
		return fmt.Errorf("evaluator.max_workers must be a positive integer")
	}
	return nil
}

// Validate checks the EvolutionConfig settings.
func (e *EvolutionConfig) Validate() error {
	if e.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if e.SubagentToolCount < 0 || e.CodeToolCount < 0 {
		return fmt.Errorf("tool counts must not be negative")
	}
	if e.NewToolTheta <= 0 {
		return fmt.Errorf("new_tool_theta must be greater than 0")
	}
	if e.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be greater than 0")
	}
	if e.WarmupConcurrency <= 0 {
		return fmt.Errorf("warmup_concurrency must be greater than 0")
	}
	switch e.RewardSignal {
	case RewardHelpful, RewardResolved:
	default:
		return fmt.Errorf("reward_signal must be %q or %q", RewardHelpful, RewardResolved)
	}
	return nil
}
