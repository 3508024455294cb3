// Package model holds the application configuration.
package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AIConfig holds settings for the generation backend.
type AIConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
	Tone      string `mapstructure:"tone" yaml:"tone"`
}

// StorageConfig holds settings for the local cache.
type StorageConfig struct {
	// DBPath is the SQLite file backing the cache. ":memory:" keeps the
	// cache for the lifetime of the process only.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	RetentionHours      int `mapstructure:"retention_hours" yaml:"retention_hours"`
	WorkspaceDebounceMs int `mapstructure:"workspace_debounce_ms" yaml:"workspace_debounce_ms"`
	HistoryLimit        int `mapstructure:"history_limit" yaml:"history_limit"`
}

// SignatureConfig configures the signature appended to inserted drafts.
type SignatureConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode"`
	Text       string `mapstructure:"text" yaml:"text"`
	HTML       string `mapstructure:"html" yaml:"html"`
	ImageURL   string `mapstructure:"image_url" yaml:"image_url"`
	ImagePath  string `mapstructure:"image_path" yaml:"image_path"`
	MaxWidthPx int    `mapstructure:"max_width_px" yaml:"max_width_px"`
}

// MailConfig holds the IMAP account used as the mail host.
type MailConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	Port          string `mapstructure:"port" yaml:"port"`
	Username      string `mapstructure:"username" yaml:"username"`
	TLS           bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox       string `mapstructure:"mailbox" yaml:"mailbox"`
	DraftsMailbox string `mapstructure:"drafts_mailbox" yaml:"drafts_mailbox"`
	SelfAddress   string `mapstructure:"self_address" yaml:"self_address"`
}

// GenerationConfig tunes the generation lifecycle.
type GenerationConfig struct {
	SummaryThrottleSec int  `mapstructure:"summary_throttle_sec" yaml:"summary_throttle_sec"`
	AutoSummaryDelayMs int  `mapstructure:"auto_summary_delay_ms" yaml:"auto_summary_delay_ms"`
	IncludeBodyEmails  bool `mapstructure:"include_body_emails" yaml:"include_body_emails"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	AI         AIConfig         `mapstructure:"ai" yaml:"ai"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Signature  SignatureConfig  `mapstructure:"signature" yaml:"signature"`
	Mail       MailConfig       `mapstructure:"mail" yaml:"mail"`
	Generation GenerationConfig `mapstructure:"generation" yaml:"generation"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// Retention returns the cache retention window.
func (c StorageConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// WorkspaceDebounce returns the workspace write debounce.
func (c StorageConfig) WorkspaceDebounce() time.Duration {
	return time.Duration(c.WorkspaceDebounceMs) * time.Millisecond
}

// SummaryThrottle returns the minimum spacing of summary attempts.
func (c GenerationConfig) SummaryThrottle() time.Duration {
	return time.Duration(c.SummaryThrottleSec) * time.Second
}

// AutoSummaryDelay returns the delay of the auto-summary fallback timer.
func (c GenerationConfig) AutoSummaryDelay() time.Duration {
	return time.Duration(c.AutoSummaryDelayMs) * time.Millisecond
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailpane/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultDBPath returns the default cache database location.
func DefaultDBPath() string {
	return filepath.Join(configDir(), "cache.db")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailpane")
}

var defaults = map[string]any{
	"ai.model":                         "claude-sonnet-4-5-20250929",
	"ai.max_tokens":                    1024,
	"ai.locale":                        "en-US",
	"ai.tone":                          "professional",
	"storage.db_path":                  "",
	"storage.retention_hours":          120,
	"storage.workspace_debounce_ms":    400,
	"storage.history_limit":            300,
	"signature.mode":                   "off",
	"signature.text":                   "",
	"signature.html":                   "",
	"signature.image_url":              "",
	"signature.image_path":             "",
	"signature.max_width_px":           320,
	"mail.host":                        "",
	"mail.port":                        "993",
	"mail.username":                    "",
	"mail.tls":                         true,
	"mail.mailbox":                     "INBOX",
	"mail.drafts_mailbox":              "Drafts",
	"mail.self_address":                "",
	"generation.summary_throttle_sec":  30,
	"generation.auto_summary_delay_ms": 1500,
	"generation.include_body_emails":   false,
	"logging.level":                    "info",
	"logging.format":                   "console",
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("MAILPANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first; MAILPANE_*
// variables override file values (MAILPANE_AI_MODEL for ai.model). If the
// file does not exist, defaults and environment apply.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = DefaultDBPath()
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

	v.Set("ai", cfg.AI)
	v.Set("storage", cfg.Storage)
	v.Set("signature", cfg.Signature)
	v.Set("mail", cfg.Mail)
	v.Set("generation", cfg.Generation)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
