package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/coverage-intel/internal/cost"
	"github.com/sells-group/coverage-intel/internal/db"
	"github.com/sells-group/coverage-intel/internal/judge"
	"github.com/sells-group/coverage-intel/internal/resilience"
	"github.com/sells-group/coverage-intel/internal/triage"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Judge      JudgeConfig      `yaml:"judge" mapstructure:"judge"`
	Triage     TriageConfig     `yaml:"triage" mapstructure:"triage"`
	Patch      PatchConfig      `yaml:"patch" mapstructure:"patch"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the discovery and proposal backend.
type StoreConfig struct {
	// Driver is one of file, sqlite or postgres.
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the data directory for the file driver and the database file
	// for sqlite.
	Path        string        `yaml:"path" mapstructure:"path"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Model             string `yaml:"model" mapstructure:"model"`
	CacheSystemPrompt bool   `yaml:"cache_system_prompt" mapstructure:"cache_system_prompt"`
}

// JudgeConfig configures retries and the circuit breaker around the
// judgment service.
type JudgeConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// TriageConfig configures batch sizes and pacing for a triage run.
type TriageConfig struct {
	VendorBatchSize int   `yaml:"vendor_batch_size" mapstructure:"vendor_batch_size"`
	PaperBatchSize  int   `yaml:"paper_batch_size" mapstructure:"paper_batch_size"`
	PayerBatchSize  int   `yaml:"payer_batch_size" mapstructure:"payer_batch_size"`
	BatchDelayMS    int   `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	MaxTokens       int64 `yaml:"max_tokens" mapstructure:"max_tokens"`
	BatchMaxTokens  int64 `yaml:"batch_max_tokens" mapstructure:"batch_max_tokens"`
	TimeoutSecs     int   `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PatchConfig configures patch generation.
type PatchConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	// DatasetPath is a canonical dataset export. Empty falls back to the
	// registry's known tests.
	DatasetPath string `yaml:"dataset_path" mapstructure:"dataset_path"`
}

// RegistryConfig points at an override registry file. Empty uses the
// embedded registry.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures run notifications. An empty WebhookURL
// disables them.
type MonitoringConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	// SendDigest posts the run digest when a run finds actionable items.
	SendDigest bool `yaml:"send_digest" mapstructure:"send_digest"`
	// FailureThreshold alerts when a run's failure count reaches it. 0 disables.
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CostThresholdUSD float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COVERAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "data")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.cache_system_prompt", true)
	v.SetDefault("judge.max_attempts", 3)
	v.SetDefault("judge.initial_backoff_ms", 500)
	v.SetDefault("judge.max_backoff_ms", 30000)
	v.SetDefault("judge.multiplier", 2.0)
	v.SetDefault("judge.jitter", 0.25)
	v.SetDefault("judge.breaker_threshold", 5)
	v.SetDefault("judge.breaker_reset_secs", 30)
	v.SetDefault("triage.vendor_batch_size", 10)
	v.SetDefault("triage.paper_batch_size", 15)
	v.SetDefault("triage.payer_batch_size", 5)
	v.SetDefault("triage.batch_delay_ms", 1000)
	v.SetDefault("triage.max_tokens", 1024)
	v.SetDefault("triage.batch_max_tokens", 4096)
	v.SetDefault("triage.timeout_secs", 900)
	v.SetDefault("patch.output_dir", "patches")
	v.SetDefault("patch.dataset_path", "")
	v.SetDefault("registry.path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.send_digest", true)
	v.SetDefault("monitoring.failure_threshold", 5)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// Validate checks the fields the given command mode needs. Problems are
// reported together in one error.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "triage":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Anthropic.Model == "" {
			problems = append(problems, "anthropic.model is required")
		}
		if c.Triage.VendorBatchSize < 1 || c.Triage.PaperBatchSize < 1 || c.Triage.PayerBatchSize < 1 {
			problems = append(problems, "triage batch sizes must be >= 1")
		}
		if c.Triage.BatchDelayMS < 0 {
			problems = append(problems, "triage.batch_delay_ms must be >= 0")
		}
		if c.Judge.MaxAttempts < 1 {
			problems = append(problems, "judge.max_attempts must be >= 1")
		}
		if c.Judge.Jitter < 0 || c.Judge.Jitter > 1 {
			problems = append(problems, "judge.jitter must be between 0 and 1")
		}
		if c.Monitoring.FailureThreshold < 0 || c.Monitoring.CostThresholdUSD < 0 {
			problems = append(problems, "monitoring thresholds must be >= 0")
		}
	case "patch":
		if c.Patch.OutputDir == "" {
			problems = append(problems, "patch.output_dir is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	problems = append(problems, c.storeProblems()...)
	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	switch c.Store.Driver {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return []string{"store.path is required"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	default:
		return []string{"store.driver must be one of file, sqlite, postgres"}
	}
	return nil
}

// JudgeServiceConfig maps the judge and anthropic sections onto the judge
// adapter. Unset knobs keep the resilience defaults.
func (c *Config) JudgeServiceConfig() judge.Config {
	breaker := resilience.FromCircuitConfig(c.Judge.BreakerThreshold, c.Judge.BreakerResetSecs)
	breaker.Name = "anthropic"
	return judge.Config{
		Model: c.Anthropic.Model,
		Retry: resilience.FromRetryConfig(
			c.Judge.MaxAttempts,
			c.Judge.InitialBackoffMS,
			c.Judge.MaxBackoffMS,
			c.Judge.Multiplier,
			c.Judge.Jitter,
		),
		Breaker:           breaker,
		CacheSystemPrompt: c.Anthropic.CacheSystemPrompt,
	}
}

// TriageRunConfig maps the triage section onto the orchestrator config.
func (c *Config) TriageRunConfig() triage.Config {
	return triage.Config{
		Model:           c.Anthropic.Model,
		VendorBatchSize: c.Triage.VendorBatchSize,
		PaperBatchSize:  c.Triage.PaperBatchSize,
		PayerBatchSize:  c.Triage.PayerBatchSize,
		BatchDelay:      time.Duration(c.Triage.BatchDelayMS) * time.Millisecond,
		MaxTokens:       c.Triage.MaxTokens,
		BatchMaxTokens:  c.Triage.BatchMaxTokens,
	}
}

// TriageTimeout bounds a whole triage run. Zero means no deadline.
func (c *Config) TriageTimeout() time.Duration {
	return time.Duration(c.Triage.TimeoutSecs) * time.Second
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
