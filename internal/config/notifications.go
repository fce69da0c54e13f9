// internal/config/notifications.go - Telegram notification and alert cooldown settings
package config

import (
	"fmt"
	"time"
)

// DefaultCooldown applies when the cooldown key is absent. An explicit 0
// turns the cooldown off.
const DefaultCooldown = 15 * time.Minute

// NotificationConfig controls the alert dispatcher and its outward transport
type NotificationConfig struct {
	Cooldown    time.Duration  `yaml:"cooldown" validate:"gte=0"`
	RuleResults bool           `yaml:"rule_results"` // report final automation outcome per rule
	Telegram    TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds the bot credentials used by the notifier
type TelegramConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Token          string        `yaml:"token"`
	ChatID         string        `yaml:"chat_id"`
	APIURL         string        `yaml:"api_url"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	RatePerSecond  float64       `yaml:"rate_per_second" validate:"gt=0"`
	DisablePreview bool          `yaml:"disable_preview"`
}

// Configured reports whether messages can actually be delivered
func (t *TelegramConfig) Configured() bool {
	return t.Enabled && t.Token != "" && t.ChatID != ""
}

func setNotificationDefaults(n *NotificationConfig) {
	if n.Telegram.APIURL == "" {
		n.Telegram.APIURL = "https://api.telegram.org"
	}
	if n.Telegram.Timeout == 0 {
		n.Telegram.Timeout = 10 * time.Second
	}
	if n.Telegram.RatePerSecond == 0 {
		n.Telegram.RatePerSecond = 1
	}
}

// Validate ensures the notification configuration is usable
func (n *NotificationConfig) Validate() error {
	if !n.Telegram.Enabled {
		return nil
	}

	if n.Telegram.Token == "" {
		return fmt.Errorf("notifications.telegram.token is required when telegram is enabled")
	}
	if n.Telegram.ChatID == "" {
		return fmt.Errorf("notifications.telegram.chat_id is required when telegram is enabled")
	}
	if !isValidURL(n.Telegram.APIURL) {
		return fmt.Errorf("notifications.telegram.api_url must be a valid URL")
	}

	return nil
}

// isValidURL checks if a string is a valid URL
func isValidURL(str string) bool {
	return len(str) > 7 && (str[:7] == "http://" || (len(str) > 8 && str[:8] == "https://"))
}
