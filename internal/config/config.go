package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Executor   ExecutorConfig   `yaml:"executor" mapstructure:"executor"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AIConfig holds the bootstrap model settings. Runtime overrides live in the
// settings table and win over these.
type AIConfig struct {
	AnthropicKey string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string `yaml:"model" mapstructure:"model"`
	Temperature  string `yaml:"temperature" mapstructure:"temperature"`
}

// ExecutorConfig configures failover dispatch.
type ExecutorConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	LogBuffer         int     `yaml:"log_buffer" mapstructure:"log_buffer"`
}

// PipelineConfig configures orchestration bounds.
type PipelineConfig struct {
	MaxSteps            int     `yaml:"max_steps" mapstructure:"max_steps"`
	MaxRefineIterations int     `yaml:"max_refine_iterations" mapstructure:"max_refine_iterations"`
	AcceptScore         float64 `yaml:"accept_score" mapstructure:"accept_score"`
}

// SimilarityConfig configures duplicate detection.
type SimilarityConfig struct {
	TitleThreshold   float64 `yaml:"title_threshold" mapstructure:"title_threshold"`
	ContentThreshold float64 `yaml:"content_threshold" mapstructure:"content_threshold"`
	ScanWindow       int     `yaml:"scan_window" mapstructure:"scan_window"`
}

// ScorerConfig configures accuracy scoring.
type ScorerConfig struct {
	BenchmarksPath string `yaml:"benchmarks_path" mapstructure:"benchmarks_path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REQCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "reqcore.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("executor.requests_per_second", 0)
	v.SetDefault("executor.log_buffer", 256)
	v.SetDefault("pipeline.max_steps", 50)
	v.SetDefault("pipeline.max_refine_iterations", 3)
	v.SetDefault("pipeline.accept_score", 90)
	v.SetDefault("similarity.title_threshold", 0.85)
	v.SetDefault("similarity.content_threshold", 0.80)
	v.SetDefault("similarity.scan_window", 500)

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
