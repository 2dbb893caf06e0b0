package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/affinity-cli/internal/batch"
	"github.com/sells-group/affinity-cli/internal/validate"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Predictor  PredictorConfig  `yaml:"predictor" mapstructure:"predictor"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"` // sqlite only
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PredictorConfig configures the affinity prediction backend.
type PredictorConfig struct {
	URL                 string  `yaml:"url" mapstructure:"url"`
	APIKey              string  `yaml:"api_key" mapstructure:"api_key"`
	Offline             bool    `yaml:"offline" mapstructure:"offline"`
	RateLimit           float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec, 0 = unlimited
	Burst               int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	HTTPTimeoutSecs     int     `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
	StubLatencyMillis   int     `yaml:"stub_latency_ms" mapstructure:"stub_latency_ms"`
}

// BatchConfig configures the batch scheduler.
type BatchConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RowTimeout     time.Duration `yaml:"row_timeout" mapstructure:"row_timeout"`
	SettleInFlight bool          `yaml:"settle_in_flight" mapstructure:"settle_in_flight"`
	MinPK          float64       `yaml:"min_pk" mapstructure:"min_pk"`
	MaxPK          float64       `yaml:"max_pk" mapstructure:"max_pk"`
}

// SchedulerOptions converts the config section into scheduler options.
func (c BatchConfig) SchedulerOptions() batch.Options {
	return batch.Options{
		MaxConcurrent:  c.MaxConcurrent,
		RowTimeout:     c.RowTimeout,
		SettleInFlight: c.SettleInFlight,
		MinPK:          c.MinPK,
		MaxPK:          c.MaxPK,
	}
}

// ValidationConfig sets the sequence length warning thresholds.
type ValidationConfig struct {
	MinSequenceLength int `yaml:"min_sequence_length" mapstructure:"min_sequence_length"`
	MaxSequenceLength int `yaml:"max_sequence_length" mapstructure:"max_sequence_length"`
}

// Options converts the config section into validator options.
func (c ValidationConfig) Options() validate.Options {
	return validate.Options{
		MinSequenceLength: c.MinSequenceLength,
		MaxSequenceLength: c.MaxSequenceLength,
	}
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("AFFINITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	def := batch.DefaultOptions()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "affinity.db")
	v.SetDefault("predictor.url", "http://localhost:8000")
	v.SetDefault("predictor.rate_limit", 5.0)
	v.SetDefault("predictor.burst", 5)
	v.SetDefault("predictor.max_attempts", 1)
	v.SetDefault("predictor.breaker_threshold", 5)
	v.SetDefault("predictor.breaker_cooldown_secs", 30)
	v.SetDefault("predictor.http_timeout_secs", 90)
	v.SetDefault("batch.max_concurrent", def.MaxConcurrent)
	v.SetDefault("batch.row_timeout", def.RowTimeout)
	v.SetDefault("batch.min_pk", def.MinPK)
	v.SetDefault("batch.max_pk", def.MaxPK)
	v.SetDefault("validation.min_sequence_length", validate.DefaultOptions().MinSequenceLength)
	v.SetDefault("validation.max_sequence_length", validate.DefaultOptions().MaxSequenceLength)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of "batch",
// "predict", "serve" or "history".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			add("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}

	switch mode {
	case "history":
	case "batch", "predict", "serve":
		if !c.Predictor.Offline && c.Predictor.URL == "" {
			add("predictor.url is required unless predictor.offline is set")
		}
		if c.Predictor.RateLimit < 0 {
			add("predictor.rate_limit must be >= 0")
		}
		if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 64 {
			add("batch.max_concurrent must be between 1 and 64")
		}
		if c.Batch.RowTimeout <= 0 {
			add("batch.row_timeout must be > 0")
		}
		if c.Batch.MaxPK <= c.Batch.MinPK {
			add("batch.max_pk must be greater than batch.min_pk")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
