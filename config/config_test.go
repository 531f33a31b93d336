package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_PREFIX", "")
	t.Setenv("MEOW_TOKEN", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("JOIN_QUEUE_PATH", "")
	t.Setenv("JOIN_POLL_INTERVAL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CommandPrefix != '!' {
		t.Errorf("expected default prefix '!', got %q", cfg.CommandPrefix)
	}
	if cfg.MeowToken != "meow" {
		t.Errorf("expected default token meow, got %q", cfg.MeowToken)
	}
	if cfg.DBPath != "meow_counts.db" {
		t.Errorf("unexpected default db path: %q", cfg.DBPath)
	}
	if cfg.JoinPollInterval != 60*time.Second {
		t.Errorf("unexpected default poll interval: %v", cfg.JoinPollInterval)
	}
}

func TestLoadChannels(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "MeowCounterBot, snorlaxbuffet ,,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"meowcounterbot", "snorlaxbuffet"}
	if len(cfg.TwitchChannels) != len(want) {
		t.Fatalf("channels = %v, want %v", cfg.TwitchChannels, want)
	}
	for i := range want {
		if cfg.TwitchChannels[i] != want[i] {
			t.Errorf("channels[%d] = %q, want %q", i, cfg.TwitchChannels[i], want[i])
		}
	}
}

func TestLoadRejectsMultiCharPrefix(t *testing.T) {
	t.Setenv("BOT_PREFIX", "!!")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for multi-character prefix")
	}
}

func TestLoadRejectsBadPollInterval(t *testing.T) {
	t.Setenv("JOIN_POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for invalid JOIN_POLL_INTERVAL")
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_OAUTH_TOKEN"); err != nil {
		t.Fatalf("failed to unset TWITCH_OAUTH_TOKEN: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}
