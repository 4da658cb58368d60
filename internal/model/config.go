package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SourceConfig holds the configuration for a single message source.
type SourceConfig struct {
	// ID is the unique identifier for this source instance.
	ID string `mapstructure:"id" yaml:"id"`

	// Type identifies the source kind (e.g., "mailbox", "chatapi").
	Type string `mapstructure:"type" yaml:"type"`

	// Name is the logical label for this source (e.g., "inbox", "sent").
	Name string `mapstructure:"name" yaml:"name"`

	// BaseURL is the root URL for API sources; empty for mailbox sources.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Critical marks a source whose unavailability fails the whole
	// aggregation. The primary inbox is always critical; secondary and
	// legacy sent folders are optional.
	Critical bool `mapstructure:"critical" yaml:"critical"`

	// Config holds source-specific key-value settings
	// (e.g., imap_host, imap_port, mailbox, use_tls, page_size).
	Config map[string]string `mapstructure:"config" yaml:"config"`
}

// TranslationConfig holds settings for the translation service.
type TranslationConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Model          string `mapstructure:"model" yaml:"model"`
	MaxTokens      int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	TargetLanguage string `mapstructure:"target_language" yaml:"target_language"`
}

// StoreConfig holds settings for the local translation cache.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// FetchConfig holds timeouts for the aggregation pipeline.
type FetchConfig struct {
	// SourceTimeoutSec bounds each per-source search+fetch so a hung
	// source cannot block the others from contributing.
	SourceTimeoutSec int `mapstructure:"source_timeout_sec" yaml:"source_timeout_sec"`
}

// AppConfig is the top-level engine configuration.
type AppConfig struct {
	// OperatorAddress is the operator's own address/id; messages sent by
	// the operator are excluded from thread grouping and translation.
	OperatorAddress string `mapstructure:"operator_address" yaml:"operator_address"`

	Sources     []SourceConfig    `mapstructure:"sources" yaml:"sources"`
	Translation TranslationConfig `mapstructure:"translation" yaml:"translation"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Fetch       FetchConfig       `mapstructure:"fetch" yaml:"fetch"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inbox-engine/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inbox-engine", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Translation: TranslationConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			MaxTokens:      1024,
			TargetLanguage: "English",
		},
		Store: StoreConfig{
			Path: filepath.Join(
				filepath.Dir(DefaultConfigPath()), "cache.db",
			),
		},
		Fetch: FetchConfig{
			SourceTimeoutSec: 30,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("translation.base_url", "https://api.openai.com/v1")
	v.SetDefault("translation.model", "gpt-4o-mini")
	v.SetDefault("translation.max_tokens", 1024)
	v.SetDefault("translation.target_language", "English")
	v.SetDefault("fetch.source_timeout_sec", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// The first mailbox-type source defaults to critical when no source
	// is marked critical explicitly.
	hasCritical := false
	for _, src := range cfg.Sources {
		if src.Critical {
			hasCritical = true
			break
		}
	}
	if !hasCritical && len(cfg.Sources) > 0 {
		cfg.Sources[0].Critical = true
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("operator_address", cfg.OperatorAddress)
	v.Set("sources", cfg.Sources)
	v.Set("translation", cfg.Translation)
	v.Set("store", cfg.Store)
	v.Set("fetch", cfg.Fetch)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
