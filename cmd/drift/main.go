package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	drift "github.com/driftapp/drift-go"
)

// defaultNotifications mirrors the library defaults for a fresh config.
func defaultNotifications() drift.NotificationSettings {
	return drift.DefaultNotificationSettings()
}

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.drift/config.toml.
type Config struct {
	Default       ConfigDefault              `toml:"default"`
	Auth          ConfigAuth                 `toml:"auth"`
	Notifications drift.NotificationSettings `toml:"notifications"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	Environment string `toml:"environment"`
	BaseURL     string `toml:"base_url"`
}

// ConfigAuth holds authentication state.
type ConfigAuth struct {
	Token        string `toml:"token"`
	UserID       string `toml:"user_id"`
	Username     string `toml:"username"`
	TokenExpires string `toml:"token_expires"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.drift, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".drift")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns defaults.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Notifications: defaultNotifications()}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	cfg := Config{Notifications: defaultNotifications()}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "environment":
			cfg.Default.Environment = value
		case "base_url":
			cfg.Default.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		case "username":
			cfg.Auth.Username = value
		case "token_expires":
			cfg.Auth.TokenExpires = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "notifications":
		return setNotificationValue(&cfg.Notifications, field, value)
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, notifications)", section)
	}
	return nil
}

func setNotificationValue(n *drift.NotificationSettings, field, value string) error {
	boolVal := value == "true" || value == "1" || value == "yes"
	switch field {
	case "enabled":
		n.Enabled = boolVal
	case "sound_enabled":
		n.SoundEnabled = boolVal
	case "show_preview":
		n.ShowPreview = boolVal
	case "suppress_when_focused":
		n.SuppressWhenFocused = boolVal
	case "quiet_hours_enabled":
		n.QuietHoursEnabled = boolVal
	case "quiet_hours_start":
		n.QuietHoursStart = value
	case "quiet_hours_end":
		n.QuietHoursEnd = value
	default:
		return fmt.Errorf("unknown field %q in section [notifications]", field)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "drift",
	Short: "Drift chat CLI",
	Long:  "Command-line interface for the Drift chat service.\nManage configuration, log in, send messages, and watch conversations live.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
