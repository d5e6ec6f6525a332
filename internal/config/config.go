// Package config loads application configuration from config.yaml and
// PROSPECT_* environment variables, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prospect-sync/internal/syncengine"
)

// Config holds the full application configuration.
type Config struct {
	Tenant     TenantConfig      `yaml:"tenant" mapstructure:"tenant"`
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Sync       syncengine.Config `yaml:"sync" mapstructure:"sync"`
	Credits    CreditsConfig     `yaml:"credits" mapstructure:"credits"`
	Anthropic  AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig  `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig      `yaml:"notion" mapstructure:"notion"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
}

// TenantConfig identifies the tenant this deployment operates for.
type TenantConfig struct {
	ID string `yaml:"id" mapstructure:"id"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig configures the enrichment pipeline. WeightsFile optionally
// points at a YAML file overriding the default scoring weights and timeouts.
type PipelineConfig struct {
	WeightsFile          string `yaml:"weights_file" mapstructure:"weights_file"`
	SourceTimeoutSecs    int    `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	RunTimeoutSecs       int    `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	MaxRateLimitWaitSecs int    `yaml:"max_rate_limit_wait_secs" mapstructure:"max_rate_limit_wait_secs"`
	BatchWorkers         int    `yaml:"batch_workers" mapstructure:"batch_workers"`
}

// CreditsConfig configures per-provider credit rates.
type CreditsConfig struct {
	PerCall map[string]int `yaml:"per_call" mapstructure:"per_call"`
	Default int            `yaml:"default" mapstructure:"default"`
}

// AnthropicConfig holds Anthropic API settings for research synthesis.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds the Notion token and field-registry database ID used by
// the mappings bootstrap import.
type NotionConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	FieldDB string `yaml:"field_db" mapstructure:"field_db"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the metrics collector and alert thresholds.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ConflictBacklogLimit int     `yaml:"conflict_backlog_limit" mapstructure:"conflict_backlog_limit"`
	CreditBudget         int     `yaml:"credit_budget" mapstructure:"credit_budget"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
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
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("tenant.id", "default")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.source_timeout_secs", 30)
	v.SetDefault("pipeline.run_timeout_secs", 120)
	v.SetDefault("pipeline.max_rate_limit_wait_secs", 30)
	v.SetDefault("pipeline.batch_workers", 5)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.page_size", 200)
	v.SetDefault("credits.default", 1)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.conflict_backlog_limit", 50)

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
