// Package config loads chainwatch configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chainwatch/chainwatch/internal/analyzer"
)

// Config is the top-level chainwatch configuration.
type Config struct {
	// LogPath is the workflow event log to supervise
	LogPath string

	// QueuePath is the intervention task queue file
	QueuePath string

	// StatePath is the supervisor state file
	StatePath string

	// ViolationDBPath is the compliance violation database
	ViolationDBPath string

	// RepoRoot is the repository checked by compliance laws
	RepoRoot string

	// PollInterval between log reads (default 10s)
	PollInterval time.Duration

	// ComplianceInterval between compliance sweeps (default 60s)
	ComplianceInterval time.Duration

	// QueueMaxSize caps the task queue (default 50)
	QueueMaxSize int

	// TaskTTL is how long a task stays usable (default 24h)
	TaskTTL time.Duration

	// DedupWindow suppresses repeat tasks with the same signature (default 30m)
	DedupWindow time.Duration

	// NotifyMinInterval is the minimum spacing between operator alerts
	NotifyMinInterval time.Duration

	// ScoringEnabled turns on AI confidence re-scoring when an API key exists
	ScoringEnabled bool

	// ScoringModel overrides the scoring model
	ScoringModel string

	// DocPaths are companion documents checked for staleness
	DocPaths []string

	// Analyzer holds detector thresholds
	Analyzer analyzer.Config
}

// fileConfig is the YAML shape of the config file. Durations are strings
// like "30s" or "10m" and get parsed with time.ParseDuration. Pointer
// fields distinguish "absent" from zero so the file only overrides what
// it names.
type fileConfig struct {
	LogPath            string        `yaml:"log_path"`
	QueuePath          string        `yaml:"queue_path"`
	StatePath          string        `yaml:"state_path"`
	ViolationDBPath    string        `yaml:"violation_db_path"`
	RepoRoot           string        `yaml:"repo_root"`
	PollInterval       string        `yaml:"poll_interval"`
	ComplianceInterval string        `yaml:"compliance_interval"`
	QueueMaxSize       *int          `yaml:"queue_max_size"`
	TaskTTL            string        `yaml:"task_ttl"`
	DedupWindow        *string       `yaml:"dedup_window"`
	NotifyMinInterval  string        `yaml:"notify_min_interval"`
	ScoringEnabled     *bool         `yaml:"scoring_enabled"`
	ScoringModel       string        `yaml:"scoring_model"`
	DocPaths           []string      `yaml:"doc_paths"`
	Analyzer           *fileAnalyzer `yaml:"analyzer"`
}

type fileAnalyzer struct {
	StuckTimeout          string              `yaml:"stuck_timeout"`
	AgentSilenceTimeout   string              `yaml:"agent_silence_timeout"`
	AbandonedAgentTimeout string              `yaml:"abandoned_agent_timeout"`
	LoopRepeatThreshold   *int                `yaml:"loop_repeat_threshold"`
	VelocityWindow        *int                `yaml:"velocity_window"`
	WarningConfidence     *float64            `yaml:"warning_confidence"`
	CriticalConfidence    *float64            `yaml:"critical_confidence"`
	ExpectedMilestones    map[string]int      `yaml:"expected_milestones"`
	RequiredOutputFields  map[string][]string `yaml:"required_output_fields"`
}

// Default returns the default configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		LogPath:            filepath.Join(dir, ".chainwatch", "events.jsonl"),
		QueuePath:          filepath.Join(dir, ".chainwatch", "queue.json"),
		StatePath:          filepath.Join(dir, ".chainwatch", "state.json"),
		ViolationDBPath:    filepath.Join(dir, ".chainwatch", "violations.db"),
		RepoRoot:           dir,
		PollInterval:       10 * time.Second,
		ComplianceInterval: 60 * time.Second,
		QueueMaxSize:       50,
		TaskTTL:            24 * time.Hour,
		DedupWindow:        30 * time.Minute,
		NotifyMinInterval:  30 * time.Second,
		ScoringEnabled:     false,
		DocPaths:           []string{"PLAN.md", "NOTES.md"},
		Analyzer:           analyzer.DefaultConfig(),
	}
}

// LoadFromFile reads the configuration at path, layered over defaults.
// A missing file is not an error: defaults are returned unchanged.
func LoadFromFile(path, dir string) (*Config, error) {
	cfg := Default(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := file.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return cfg, nil
}

// apply overlays the file's values onto cfg, parsing durations.
func (f *fileConfig) apply(cfg *Config) error {
	setString(&cfg.LogPath, f.LogPath)
	setString(&cfg.QueuePath, f.QueuePath)
	setString(&cfg.StatePath, f.StatePath)
	setString(&cfg.ViolationDBPath, f.ViolationDBPath)
	setString(&cfg.RepoRoot, f.RepoRoot)
	setString(&cfg.ScoringModel, f.ScoringModel)

	if err := setDuration(&cfg.PollInterval, "poll_interval", f.PollInterval); err != nil {
		return err
	}
	if err := setDuration(&cfg.ComplianceInterval, "compliance_interval", f.ComplianceInterval); err != nil {
		return err
	}
	if err := setDuration(&cfg.TaskTTL, "task_ttl", f.TaskTTL); err != nil {
		return err
	}
	if f.DedupWindow != nil {
		if err := setDuration(&cfg.DedupWindow, "dedup_window", *f.DedupWindow); err != nil {
			return err
		}
	}
	if err := setDuration(&cfg.NotifyMinInterval, "notify_min_interval", f.NotifyMinInterval); err != nil {
		return err
	}

	if f.QueueMaxSize != nil {
		cfg.QueueMaxSize = *f.QueueMaxSize
	}
	if f.ScoringEnabled != nil {
		cfg.ScoringEnabled = *f.ScoringEnabled
	}
	if f.DocPaths != nil {
		cfg.DocPaths = f.DocPaths
	}

	if f.Analyzer != nil {
		return f.Analyzer.apply(&cfg.Analyzer)
	}
	return nil
}

func (f *fileAnalyzer) apply(cfg *analyzer.Config) error {
	if err := setDuration(&cfg.StuckTimeout, "analyzer.stuck_timeout", f.StuckTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.AgentSilenceTimeout, "analyzer.agent_silence_timeout", f.AgentSilenceTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.AbandonedAgentTimeout, "analyzer.abandoned_agent_timeout", f.AbandonedAgentTimeout); err != nil {
		return err
	}
	if f.LoopRepeatThreshold != nil {
		cfg.LoopRepeatThreshold = *f.LoopRepeatThreshold
	}
	if f.VelocityWindow != nil {
		cfg.VelocityWindow = *f.VelocityWindow
	}
	if f.WarningConfidence != nil {
		cfg.WarningConfidence = *f.WarningConfidence
	}
	if f.CriticalConfidence != nil {
		cfg.CriticalConfidence = *f.CriticalConfidence
	}
	if f.ExpectedMilestones != nil {
		cfg.ExpectedMilestones = f.ExpectedMilestones
	}
	if f.RequiredOutputFields != nil {
		cfg.RequiredOutputFields = f.RequiredOutputFields
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.LogPath == "" {
		return fmt.Errorf("log_path is required")
	}
	if c.QueuePath == "" {
		return fmt.Errorf("queue_path is required")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s (got %v)", c.PollInterval)
	}
	if c.ComplianceInterval < time.Second {
		return fmt.Errorf("compliance_interval must be at least 1s (got %v)", c.ComplianceInterval)
	}
	if c.QueueMaxSize < 1 {
		return fmt.Errorf("queue_max_size must be positive (got %d)", c.QueueMaxSize)
	}
	if c.TaskTTL <= 0 {
		return fmt.Errorf("task_ttl must be positive (got %v)", c.TaskTTL)
	}
	if c.DedupWindow < 0 {
		return fmt.Errorf("dedup_window must not be negative (got %v)", c.DedupWindow)
	}
	return nil
}
