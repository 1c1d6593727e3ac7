// Package config provides Viper-based configuration loading for RetroBridge.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file values.
const EnvPrefix = "RETROBRIDGE"

// TelnetConfig holds Telnet acceptor and terminal session settings.
type TelnetConfig struct {
	// Host is the bind address for the Telnet listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the Telnet listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read timeout for Telnet connections. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout for Telnet connections. Zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Codec names the text codec used by every terminal session.
	Codec string `mapstructure:"codec"`
	// Echo makes the server echo received bytes back to the terminal.
	Echo bool `mapstructure:"echo"`
	// MaxLineBytes bounds the pending input buffer. Zero means unbounded.
	MaxLineBytes int `mapstructure:"max_line_bytes"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (t TelnetConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// BridgeConfig holds message bridge settings.
type BridgeConfig struct {
	// TickInterval is the cadence of the connection maintenance loop.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// MattermostConfig holds chat platform credentials.
type MattermostConfig struct {
	// ServerURL is the base URL of the Mattermost server.
	ServerURL string `mapstructure:"server_url"`
	// Token is the bot or personal access token. An empty token leaves the
	// chat gateway unconfigured.
	Token string `mapstructure:"token"`
	// TeamID selects the team whose channels are bridged. Empty selects the
	// first team the bot belongs to.
	TeamID string `mapstructure:"team_id"`
}

// Configured reports whether a credential is present.
func (m MattermostConfig) Configured() bool {
	return m.Token != ""
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Telnet     TelnetConfig     `mapstructure:"telnet"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Mattermost MattermostConfig `mapstructure:"mattermost"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Validate checks every configuration constraint.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateTelnet(c.Telnet); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBridge(c.Bridge); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateMattermost(c.Mattermost); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTelnet(t TelnetConfig) error {
	var errs []string
	if t.Port < 1 || t.Port > 65535 {
		errs = append(errs, fmt.Sprintf("telnet.port must be 1-65535, got %d", t.Port))
	}
	if t.ReadTimeout < 0 {
		errs = append(errs, "telnet.read_timeout must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "telnet.write_timeout must not be negative")
	}
	if t.Codec == "" {
		errs = append(errs, "telnet.codec must not be empty")
	}
	if t.MaxLineBytes < 0 {
		errs = append(errs, fmt.Sprintf("telnet.max_line_bytes must be >= 0 (got %d)", t.MaxLineBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBridge(b BridgeConfig) error {
	if b.TickInterval <= 0 {
		return fmt.Errorf("bridge.tick_interval must be positive, got %s", b.TickInterval)
	}
	return nil
}

func validateMattermost(m MattermostConfig) error {
	if m.Configured() && m.ServerURL == "" {
		return errors.New("mattermost.server_url must not be empty when mattermost.token is set")
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path skips the file and builds
// the configuration from defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with RETROBRIDGE_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("telnet.host", "0.0.0.0")
	v.SetDefault("telnet.port", 8023)
	v.SetDefault("telnet.read_timeout", "0s")
	v.SetDefault("telnet.write_timeout", "30s")
	v.SetDefault("telnet.codec", "petscii")
	v.SetDefault("telnet.echo", true)
	v.SetDefault("telnet.max_line_bytes", 4096)

	v.SetDefault("bridge.tick_interval", "1s")

	v.SetDefault("mattermost.server_url", "")
	v.SetDefault("mattermost.token", "")
	v.SetDefault("mattermost.team_id", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
