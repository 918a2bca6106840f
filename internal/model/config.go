package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// CCMode selects how carbon-copy recipients from an inbound email are
// handled when the agent replies.
type CCMode string

const (
	// CCModeRespondAll replies to the sender and keeps the inbound CC
	// list on the outgoing email.
	CCModeRespondAll CCMode = "respond_all"

	// CCModeRespondSender replies to the sender only.
	CCModeRespondSender CCMode = "respond_sender"

	// CCModeSilent records the inbound message but never sends a
	// reply. Useful for audit or monitoring ingestion.
	CCModeSilent CCMode = "silent"
)

// IsValid reports whether m is a recognized CC mode.
func (m CCMode) IsValid() bool {
	switch m {
	case CCModeRespondAll, CCModeRespondSender, CCModeSilent:
		return true
	}
	return false
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Listen is the address the webhook/admin server binds to.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// ReplyConfig holds the auto-reply behavior settings.
type ReplyConfig struct {
	// AutoReply enables scheduling a reply when an inbound email is
	// resolved to a conversation.
	AutoReply bool `mapstructure:"auto_reply" yaml:"auto_reply"`

	// AutoReplyDelaySeconds is the debounce delay before the agent
	// composes a reply; a second email within the window resets it.
	AutoReplyDelaySeconds int `mapstructure:"auto_reply_delay_seconds" yaml:"auto_reply_delay_seconds"`

	// CCMode controls outbound recipient computation.
	CCMode CCMode `mapstructure:"cc_mode" yaml:"cc_mode"`

	// CCInstructions is free text passed through to the agent-reply
	// callback; the gateway does not interpret it.
	CCInstructions string `mapstructure:"cc_instructions" yaml:"cc_instructions"`
}

// OutboundConfig holds the settings for sending email.
type OutboundConfig struct {
	// Provider selects the sender adapter ("smtp" or "resend").
	Provider string `mapstructure:"provider" yaml:"provider"`

	// FromAddress is the gateway's own sending address. It is
	// excluded from CC lists so the agent never CCs itself.
	FromAddress string `mapstructure:"from_address" yaml:"from_address"`

	// FromName is the display name on outgoing email.
	FromName string `mapstructure:"from_name" yaml:"from_name"`

	// MessageIDDomain is the domain used when generating Message-IDs
	// for outgoing email. Defaults to the from-address domain.
	MessageIDDomain string `mapstructure:"message_id_domain" yaml:"message_id_domain"`

	// SignatureHTML is appended to rendered reply bodies.
	SignatureHTML string `mapstructure:"signature_html" yaml:"signature_html"`

	// SMTP configures the SMTP sender adapter.
	SMTP SMTPConfig `mapstructure:"smtp" yaml:"smtp"`

	// ResendAPIKeyName is the keyring entry holding the Resend API
	// key when Provider is "resend".
	ResendAPIKeyName string `mapstructure:"resend_api_key_name" yaml:"resend_api_key_name"`
}

// SMTPConfig holds SMTP server settings. The password is looked up in
// the system keyring under PasswordKeyName, never stored here.
type SMTPConfig struct {
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	PasswordKeyName string `mapstructure:"password_key_name" yaml:"password_key_name"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
}

// IMAPConfig holds the optional IMAP intake settings. When enabled, the
// gateway polls the mailbox and feeds unseen messages through the same
// inbound pipeline as the webhooks.
type IMAPConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	PasswordKeyName string `mapstructure:"password_key_name" yaml:"password_key_name"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// AIConfig holds settings for the agent-reply composer.
type AIConfig struct {
	Model      string `mapstructure:"model" yaml:"model"`
	MaxTokens  int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	APIKeyName string `mapstructure:"api_key_name" yaml:"api_key_name"`
}

// AppConfig is the top-level gateway configuration.
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Reply    ReplyConfig    `mapstructure:"reply" yaml:"reply"`
	Outbound OutboundConfig `mapstructure:"outbound" yaml:"outbound"`
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	AI       AIConfig       `mapstructure:"ai" yaml:"ai"`

	// DatabasePath is the SQLite database location.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// LogLevel is the logrus level name ("debug", "info", "warn", ...).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfigPath returns the default path for the configuration
// file, located at ~/.config/emailgateway/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "emailgateway", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{Listen: ":8170"},
		Reply: ReplyConfig{
			AutoReply:             true,
			AutoReplyDelaySeconds: 30,
			CCMode:                CCModeRespondAll,
		},
		Outbound: OutboundConfig{Provider: "smtp"},
		IMAP:     IMAPConfig{PollIntervalSec: 120},
		AI: AIConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 1024,
		},
		DatabasePath: defaultDatabasePath(),
		LogLevel:     "info",
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "gateway.db")
	}
	return filepath.Join(home, ".config", "emailgateway", "gateway.db")
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns a default
// configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.listen", ":8170")
	v.SetDefault("reply.auto_reply", true)
	v.SetDefault("reply.auto_reply_delay_seconds", 30)
	v.SetDefault("reply.cc_mode", string(CCModeRespondAll))
	v.SetDefault("outbound.provider", "smtp")
	v.SetDefault("imap.poll_interval_sec", 120)
	v.SetDefault("ai.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("database_path", defaultDatabasePath())
	v.SetDefault("log_level", "info")

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

	if !cfg.Reply.CCMode.IsValid() {
		return nil, fmt.Errorf(
			"config %s: unknown cc_mode %q", path, cfg.Reply.CCMode,
		)
	}
	if cfg.Reply.AutoReplyDelaySeconds < 0 {
		return nil, fmt.Errorf(
			"config %s: auto_reply_delay_seconds must not be negative",
			path,
		)
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

	v.Set("server", cfg.Server)
	v.Set("reply", cfg.Reply)
	v.Set("outbound", cfg.Outbound)
	v.Set("imap", cfg.IMAP)
	v.Set("ai", cfg.AI)
	v.Set("database_path", cfg.DatabasePath)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
