// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	// Twitch
	TwitchChannels     []string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Chat
	CommandPrefix byte
	MeowToken     string

	// Database
	DBPath string

	// Membership
	JoinQueuePath    string
	JoinPollInterval time.Duration

	// Web
	WebsiteURL string
	DiscordID  string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require the chat connection. Missing optional variables disable
// features (e.g., the OAuth relay).
func Load() (*Config, error) {
	cfg := &Config{}

	if v := os.Getenv("TWITCH_CHANNELS"); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				cfg.TwitchChannels = append(cfg.TwitchChannels, c)
			}
		}
	}
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// default scopes for chat bot
		cfg.TwitchScopes = "chat:read chat:edit"
	}

	// Chat
	prefix := os.Getenv("BOT_PREFIX")
	if prefix == "" {
		prefix = "!"
	}
	if len(prefix) != 1 {
		return nil, fmt.Errorf("BOT_PREFIX must be a single character, got %q", prefix)
	}
	cfg.CommandPrefix = prefix[0]
	cfg.MeowToken = os.Getenv("MEOW_TOKEN")
	if cfg.MeowToken == "" {
		cfg.MeowToken = "meow"
	}

	// DB
	cfg.DBPath = os.Getenv("DB_PATH")
	if cfg.DBPath == "" {
		cfg.DBPath = "meow_counts.db"
	}

	// Membership
	cfg.JoinQueuePath = os.Getenv("JOIN_QUEUE_PATH")
	if cfg.JoinQueuePath == "" {
		cfg.JoinQueuePath = "channels_to_join.txt"
	}
	cfg.JoinPollInterval = 60 * time.Second
	if v := os.Getenv("JOIN_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid JOIN_POLL_INTERVAL: %q", v)
		}
		cfg.JoinPollInterval = d
	}

	// Web
	cfg.WebsiteURL = os.Getenv("WEBSITE_URL")
	if cfg.WebsiteURL == "" {
		cfg.WebsiteURL = "https://fireflydesigns.me/"
	}
	cfg.DiscordID = os.Getenv("DISCORD_ID")
	if cfg.DiscordID == "" {
		cfg.DiscordID = "fireflyxserenity"
	}

	return cfg, nil
}

// ValidateChatReady checks required fields when the chat connection is enabled.
func (c *Config) ValidateChatReady() error {
	if c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// ValidateRelayReady checks required fields for the OAuth relay endpoints.
func (c *Config) ValidateRelayReady() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}
