package pipeline

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config is the top-level pipeline configuration.
type Config struct {
	// SourceTimeout bounds each connector call. A source exceeding it is
	// recorded as failed, never fatal.
	SourceTimeoutSecs int `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	// RunTimeout bounds total pipeline wall-clock time per entity.
	RunTimeoutSecs int `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	// MaxRateLimitWaitSecs caps how long a single rate-limit backoff may
	// sleep before the source is given up on for this run.
	MaxRateLimitWaitSecs int `yaml:"max_rate_limit_wait_secs" mapstructure:"max_rate_limit_wait_secs"`

	Weights ScoreWeights `yaml:"weights" mapstructure:"weights"`
}

// ScoreWeights holds the tunable scoring checklist weights.
type ScoreWeights struct {
	Quality    QualityWeights `yaml:"quality" mapstructure:"quality"`
	Intent     map[string]int `yaml:"intent" mapstructure:"intent"`
	StageBoost map[string]int `yaml:"stage_boost" mapstructure:"stage_boost"`
}

// QualityWeights is the fixed presence checklist for the quality score.
type QualityWeights struct {
	VerifiedEmail   int `yaml:"verified_email" mapstructure:"verified_email"`
	AnyPhone        int `yaml:"any_phone" mapstructure:"any_phone"`
	LinkedInURL     int `yaml:"linkedin_url" mapstructure:"linkedin_url"`
	Title           int `yaml:"title" mapstructure:"title"`
	Department      int `yaml:"department" mapstructure:"department"`
	Seniority       int `yaml:"seniority" mapstructure:"seniority"`
	IndustryAndSize int `yaml:"industry_and_size" mapstructure:"industry_and_size"`
	HasIntentSignal int `yaml:"has_intent_signal" mapstructure:"has_intent_signal"`
	HasNewsItem     int `yaml:"has_news_item" mapstructure:"has_news_item"`
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		SourceTimeoutSecs:    30,
		RunTimeoutSecs:       120,
		MaxRateLimitWaitSecs: 30,
		Weights:              DefaultScoreWeights(),
	}
}

// DefaultScoreWeights returns the standard scoring weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Quality: QualityWeights{
			VerifiedEmail:   15,
			AnyPhone:        10,
			LinkedInURL:     10,
			Title:           10,
			Department:      5,
			Seniority:       5,
			IndustryAndSize: 15,
			HasIntentSignal: 15,
			HasNewsItem:     15,
		},
		Intent: map[string]int{
			"funding":          25,
			"job_posting":      20,
			"content_download": 20,
			"page_visit":       15,
			"tech_stack":       10,
			"search_query":     10,
			"news_mention":     5,
		},
		StageBoost: map[string]int{
			"awareness":     0,
			"consideration": 15,
			"decision":      30,
			"purchase":      40,
		},
	}
}

// LoadConfig reads pipeline configuration from a YAML file, filling unset
// values from the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read config %s", path)
	}

	// The YAML has a top-level "pipeline" key.
	var wrapper struct {
		Pipeline Config `yaml:"pipeline"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse config")
	}

	cfg := wrapper.Pipeline
	defaults := DefaultConfig()
	if cfg.SourceTimeoutSecs <= 0 {
		cfg.SourceTimeoutSecs = defaults.SourceTimeoutSecs
	}
	if cfg.RunTimeoutSecs <= 0 {
		cfg.RunTimeoutSecs = defaults.RunTimeoutSecs
	}
	if cfg.MaxRateLimitWaitSecs <= 0 {
		cfg.MaxRateLimitWaitSecs = defaults.MaxRateLimitWaitSecs
	}
	if cfg.Weights.Quality == (QualityWeights{}) {
		cfg.Weights.Quality = defaults.Weights.Quality
	}
	if len(cfg.Weights.Intent) == 0 {
		cfg.Weights.Intent = defaults.Weights.Intent
	}
	if len(cfg.Weights.StageBoost) == 0 {
		cfg.Weights.StageBoost = defaults.Weights.StageBoost
	}
	return &cfg, nil
}

// SourceTimeout returns the per-connector deadline.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSecs) * time.Second
}

// RunTimeout returns the overall per-entity deadline.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSecs) * time.Second
}

// MaxRateLimitWait returns the cap on a single rate-limit backoff.
func (c Config) MaxRateLimitWait() time.Duration {
	return time.Duration(c.MaxRateLimitWaitSecs) * time.Second
}
