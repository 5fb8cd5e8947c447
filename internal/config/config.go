package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig               `yaml:"log" mapstructure:"log"`
	Model      ModelConfig             `yaml:"model" mapstructure:"model"`
	Router     RouterConfig            `yaml:"router" mapstructure:"router"`
	Scoring    ScoringConfig           `yaml:"scoring" mapstructure:"scoring"`
	Engine     EngineConfig            `yaml:"engine" mapstructure:"engine"`
	Output     OutputConfig            `yaml:"output" mapstructure:"output"`
	Registry   RegistryConfig          `yaml:"registry" mapstructure:"registry"`
	Fetch      FetchConfig             `yaml:"fetch" mapstructure:"fetch"`
	Store      StoreConfig             `yaml:"store" mapstructure:"store"`
	Retry      RetryConfig             `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig           `yaml:"circuit" mapstructure:"circuit"`
	Monitoring MonitoringConfig        `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    map[string]ModelPricing `yaml:"pricing" mapstructure:"pricing"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ModelConfig selects the vision model backend.
type ModelConfig struct {
	Provider       string  `yaml:"provider" mapstructure:"provider"`
	AnthropicKey   string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicModel string  `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	GeminiKey      string  `yaml:"gemini_key" mapstructure:"gemini_key"`
	GeminiModel    string  `yaml:"gemini_model" mapstructure:"gemini_model"`
	OpenAIKey      string  `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIModel    string  `yaml:"openai_model" mapstructure:"openai_model"`
	OpenAIBaseURL  string  `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
	// DeviceEndpoints maps a device id to a dedicated OpenAI-compatible
	// endpoint, for one model server per GPU.
	DeviceEndpoints map[string]string `yaml:"device_endpoints" mapstructure:"device_endpoints"`
}

// APIKey returns the key for the selected provider.
func (m ModelConfig) APIKey() string {
	switch strings.ToLower(m.Provider) {
	case "gemini":
		return m.GeminiKey
	case "openai":
		return m.OpenAIKey
	default:
		return m.AnthropicKey
	}
}

// ModelName returns the model id for the selected provider.
func (m ModelConfig) ModelName() string {
	switch strings.ToLower(m.Provider) {
	case "gemini":
		return m.GeminiModel
	case "openai":
		return m.OpenAIModel
	default:
		return m.AnthropicModel
	}
}

// Timeout returns the per-call model timeout.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSecs) * time.Second
}

// RouterConfig configures the routing cascade.
type RouterConfig struct {
	Semantic    bool    `yaml:"semantic" mapstructure:"semantic"`
	Threshold   float64 `yaml:"threshold" mapstructure:"threshold"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// ScoringConfig holds the score law bounds.
type ScoringConfig struct {
	BasicMin float64 `yaml:"basic_min" mapstructure:"basic_min"`
	BasicMax float64 `yaml:"basic_max" mapstructure:"basic_max"`
	BonusMax float64 `yaml:"bonus_max" mapstructure:"bonus_max"`
}

// EngineConfig configures concurrent execution.
type EngineConfig struct {
	Mode                   string `yaml:"mode" mapstructure:"mode"`
	Workers                int    `yaml:"workers" mapstructure:"workers"`
	NumGPUs                int    `yaml:"num_gpus" mapstructure:"num_gpus"`
	MaxConcurrentPerDevice int    `yaml:"max_concurrent_per_device" mapstructure:"max_concurrent_per_device"`
	CheckpointInterval     int    `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	ProgressInterval       int    `yaml:"progress_interval" mapstructure:"progress_interval"`
	GCInterval             int    `yaml:"gc_interval" mapstructure:"gc_interval"`
	PreviewLimit           int    `yaml:"preview_limit" mapstructure:"preview_limit"`
	TaskTimeoutSecs        int    `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
}

// OutputConfig configures result files.
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
	// ErrorsFile also writes error records to the sibling .errors.json file.
	ErrorsFile bool `yaml:"errors_file" mapstructure:"errors_file"`
}

// RegistryConfig points at an optional pipeline definitions file.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// FetchConfig configures image and dataset downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RetryConfig configures model call retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterPercent    int `yaml:"jitter_percent" mapstructure:"jitter_percent"`
}

// CircuitConfig configures the model endpoint circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures metrics export and alerting.
type MonitoringConfig struct {
	MetricsAddr          string   `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	CORSOrigins          []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	Textfile             string   `yaml:"textfile" mapstructure:"textfile"`
	WebhookURL           string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64  `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64  `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CheckIntervalSecs    int      `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int      `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Engine modes.
const (
	ModeThread     = "thread"
	ModeProcess    = "process"
	ModeGPUProcess = "gpu-process"
	ModeAsync      = "async"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("model.provider", "anthropic")
	v.SetDefault("model.anthropic_key", "")
	v.SetDefault("model.anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("model.gemini_key", "")
	v.SetDefault("model.gemini_model", "gemini-2.5-flash")
	v.SetDefault("model.openai_key", "")
	v.SetDefault("model.openai_model", "gpt-4o")
	v.SetDefault("model.openai_base_url", "")
	v.SetDefault("model.temperature", 0.3)
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.timeout_secs", 120)
	v.SetDefault("model.rate_per_sec", 0)
	v.SetDefault("model.burst", 1)
	v.SetDefault("router.semantic", true)
	v.SetDefault("router.threshold", 0.6)
	v.SetDefault("router.temperature", 0.3)
	v.SetDefault("scoring.basic_min", 0.1)
	v.SetDefault("scoring.basic_max", 0.6)
	v.SetDefault("scoring.bonus_max", 0.4)
	v.SetDefault("engine.mode", ModeThread)
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.num_gpus", 1)
	v.SetDefault("engine.max_concurrent_per_device", 10)
	v.SetDefault("engine.checkpoint_interval", 100)
	v.SetDefault("engine.progress_interval", 10)
	v.SetDefault("engine.gc_interval", 50)
	v.SetDefault("engine.preview_limit", 10)
	v.SetDefault("engine.task_timeout_secs", 300)
	v.SetDefault("output.path", "")
	v.SetDefault("output.errors_file", false)
	v.SetDefault("registry.path", "")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 20)
	v.SetDefault("fetch.user_agent", "vqa-filter/1.0")
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.database_url", "")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.jitter_percent", 25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("monitoring.metrics_addr", "")
	v.SetDefault("monitoring.textfile", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "filter",
// "route", "runs" or "local" (dataset tools that never call a model).
func (c *Config) Validate(mode string) error {
	switch mode {
	case "filter", "route", "runs", "local":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string

	if c.Router.Threshold < 0 || c.Router.Threshold > 1 {
		errs = append(errs, "router: threshold must be between 0 and 1")
	}

	needsModel := mode == "filter" || (mode == "route" && c.Router.Semantic)
	if needsModel {
		switch strings.ToLower(c.Model.Provider) {
		case "anthropic", "gemini":
			if c.Model.APIKey() == "" {
				errs = append(errs, "model: api key is required for provider "+c.Model.Provider)
			}
		case "openai":
			if c.Model.OpenAIKey == "" && c.Model.OpenAIBaseURL == "" && len(c.Model.DeviceEndpoints) == 0 {
				errs = append(errs, "model: openai_key or openai_base_url is required")
			}
		default:
			errs = append(errs, "model: unknown provider "+c.Model.Provider)
		}
		if c.Model.ModelName() == "" {
			errs = append(errs, "model: model name is required")
		}
	}

	if mode == "filter" {
		switch c.Engine.Mode {
		case ModeThread, ModeProcess, ModeGPUProcess, ModeAsync:
		default:
			errs = append(errs, "engine: unknown mode "+c.Engine.Mode)
		}
		if c.Engine.Workers < 1 {
			errs = append(errs, "engine: workers must be at least 1")
		}
		if (c.Engine.Mode == ModeGPUProcess || c.Engine.Mode == ModeAsync) && c.Engine.NumGPUs < 1 {
			errs = append(errs, "engine: num_gpus must be at least 1")
		}
		if c.Scoring.BasicMin > c.Scoring.BasicMax {
			errs = append(errs, "scoring: basic_min exceeds basic_max")
		}
		if c.Scoring.BasicMax+c.Scoring.BonusMax > 1 {
			errs = append(errs, "scoring: basic_max + bonus_max exceeds 1")
		}
	}

	if mode == "filter" || mode == "runs" {
		switch c.Store.Driver {
		case "", "none":
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store: database_url is required for driver "+c.Store.Driver)
			}
		default:
			errs = append(errs, "store: unknown driver "+c.Store.Driver)
		}
	}
	if mode == "runs" && (c.Store.Driver == "" || c.Store.Driver == "none") {
		errs = append(errs, "store: a ledger driver (sqlite or postgres) is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
