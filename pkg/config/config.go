// Package config defines the typed configuration object enumerated in
// the external interfaces section of the spec, and a YAML loader for it.
// Loading configuration is a thin, external concern (the spec treats it
// as a collaborator, not part of the hard core); the struct and its
// defaults are what the rest of the engine depends on.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SmartMergeConfig holds the Smart Merge (C9) tunables.
type SmartMergeConfig struct {
	Threshold    float64 `yaml:"threshold"`
	ContextLines int     `yaml:"context_lines"`
}

// Config is the full set of options enumerated in spec §6.
type Config struct {
	Roots           []string         `yaml:"roots"`
	Token           string           `yaml:"token"`
	Host            string           `yaml:"host"`
	Port            int              `yaml:"port"`
	BackupRoot      string           `yaml:"backup_root"`
	ExcludeDirs     []string         `yaml:"exclude_dirs"`
	TaskTimeoutS    int              `yaml:"task_timeout_s"`
	RetryAttempts   int              `yaml:"retry_attempts"`
	RetryDelayS     int              `yaml:"retry_delay_s"`
	SmartMerge      SmartMergeConfig `yaml:"smart_merge"`
	TokenBudget     int              `yaml:"token_budget"`
	PollIntervalS   int              `yaml:"poll_interval_s"`
	LogPath         string           `yaml:"log_path"`
	LLMProvider     string           `yaml:"llm_provider"` // "openai" or "ollama"
	LLMModel        string           `yaml:"llm_model"`
	LLMBaseURL      string           `yaml:"llm_base_url"`
}

// Default returns the configuration with every documented default
// applied, as spec §6 lists them.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          7717,
		BackupRoot:    ".taskloom/backups",
		ExcludeDirs:   []string{".git", "node_modules", "dist", "build", "vendor", ".taskloom"},
		TaskTimeoutS:  120,
		RetryAttempts: 3,
		RetryDelayS:   2,
		SmartMerge:    SmartMergeConfig{Threshold: 0.75, ContextLines: 5},
		TokenBudget:   200000,
		PollIntervalS: 1,
		LogPath:       ".taskloom/taskloom.log",
		LLMProvider:   "openai",
	}
}

// Load reads a YAML config file at path, applying Default() for anything
// left zero-valued by the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("config %s: roots is required", path)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("config %s: token is required", path)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Host == "" {
		cfg.Host = d.Host
	}
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.BackupRoot == "" {
		cfg.BackupRoot = d.BackupRoot
	}
	if len(cfg.ExcludeDirs) == 0 {
		cfg.ExcludeDirs = d.ExcludeDirs
	}
	if cfg.TaskTimeoutS == 0 {
		cfg.TaskTimeoutS = d.TaskTimeoutS
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = d.RetryAttempts
	}
	if cfg.RetryDelayS == 0 {
		cfg.RetryDelayS = d.RetryDelayS
	}
	if cfg.SmartMerge.Threshold == 0 {
		cfg.SmartMerge.Threshold = d.SmartMerge.Threshold
	}
	if cfg.SmartMerge.ContextLines == 0 {
		cfg.SmartMerge.ContextLines = d.SmartMerge.ContextLines
	}
	if cfg.TokenBudget == 0 {
		cfg.TokenBudget = d.TokenBudget
	}
	if cfg.PollIntervalS == 0 {
		cfg.PollIntervalS = d.PollIntervalS
	}
	if cfg.LogPath == "" {
		cfg.LogPath = d.LogPath
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = d.LLMProvider
	}
}
