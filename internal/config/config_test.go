package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leonletto/discordbridge/internal/config"
)

func TestLoadDefaultsWhenNoStateFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Host.ThreadCreationNotify != config.NotifySilent {
		t.Errorf("ThreadCreationNotify = %q, want %q", cfg.Host.ThreadCreationNotify, config.NotifySilent)
	}
	if cfg.Host.MessagePingMode != config.PingNever {
		t.Errorf("MessagePingMode = %q, want %q", cfg.Host.MessagePingMode, config.PingNever)
	}
	if cfg.Host.ImplicitArchiveCount != 10 {
		t.Errorf("ImplicitArchiveCount = %d, want 10", cfg.Host.ImplicitArchiveCount)
	}
	if cfg.Host.ImplicitArchiveHours != 48 {
		t.Errorf("ImplicitArchiveHours = %d, want 48", cfg.Host.ImplicitArchiveHours)
	}
	if cfg.WorkspaceName != filepath.Base(dir) {
		t.Errorf("WorkspaceName = %q, want %q", cfg.WorkspaceName, filepath.Base(dir))
	}
}

func TestLoadReadsPersistedStateFile(t *testing.T) {
	dir := t.TempDir()
	writeStateFile(t, dir, map[string]any{
		"discordBridge.projectConfig": map[string]any{
			"channelId":   "12345",
			"channelName": "agent-chat",
		},
		"discordBridge.globalConfig": map[string]any{
			"guildId":              "99",
			"threadCreationNotify": "ping",
			"messagePingMode":      "always",
			"implicitArchiveCount": 5,
			"implicitArchiveHours": 24,
		},
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Workspace.ChannelID != "12345" {
		t.Errorf("ChannelID = %q, want 12345", cfg.Workspace.ChannelID)
	}
	if cfg.Host.ThreadCreationNotify != config.NotifyPing {
		t.Errorf("ThreadCreationNotify = %q, want ping", cfg.Host.ThreadCreationNotify)
	}
	if cfg.Host.MessagePingMode != config.PingAlways {
		t.Errorf("MessagePingMode = %q, want always", cfg.Host.MessagePingMode)
	}
	if cfg.Host.ImplicitArchiveCount != 5 {
		t.Errorf("ImplicitArchiveCount = %d, want 5", cfg.Host.ImplicitArchiveCount)
	}
}

func TestLoadBotTokenFromEnvOverridesStateFile(t *testing.T) {
	dir := t.TempDir()
	writeStateFile(t, dir, map[string]any{
		"discordBridge.botToken": "stale-token",
	})
	t.Setenv("DISCORDBRIDGE_BOT_TOKEN", "fresh-token")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BotToken != "fresh-token" {
		t.Errorf("BotToken = %q, want fresh-token", cfg.BotToken)
	}
}

func TestLoadRejectsInvalidPersistedPolicy(t *testing.T) {
	dir := t.TempDir()
	writeStateFile(t, dir, map[string]any{
		"discordBridge.globalConfig": map[string]any{
			"threadCreationNotify": "not-a-real-mode",
			"implicitArchiveCount": 1,
		},
	})

	if _, err := config.Load(dir); err == nil {
		t.Fatal("expected Load() to reject an invalid threadCreationNotify value")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	cfg.Workspace.ChannelID = "555"
	cfg.Workspace.ChannelName = "bridge-test"
	cfg.Host.MessagePingMode = config.PingOnRecentUserMessage
	cfg.BotToken = "secret"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	reloaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Workspace.ChannelID != "555" {
		t.Errorf("ChannelID = %q, want 555", reloaded.Workspace.ChannelID)
	}
	if reloaded.Host.MessagePingMode != config.PingOnRecentUserMessage {
		t.Errorf("MessagePingMode = %q, want on_recent_user_message", reloaded.Host.MessagePingMode)
	}
	if reloaded.BotToken != "secret" {
		t.Errorf("BotToken = %q, want secret", reloaded.BotToken)
	}
}

func TestHostConfigValidateRejectsBadFloors(t *testing.T) {
	tests := []struct {
		name string
		host config.HostConfig
	}{
		{"zero count", config.HostConfig{ImplicitArchiveCount: 0, ImplicitArchiveHours: 1, ThreadCreationNotify: config.NotifySilent, MessagePingMode: config.PingNever}},
		{"zero hours", config.HostConfig{ImplicitArchiveCount: 1, ImplicitArchiveHours: 0, ThreadCreationNotify: config.NotifySilent, MessagePingMode: config.PingNever}},
		{"bad notify", config.HostConfig{ImplicitArchiveCount: 1, ImplicitArchiveHours: 1, ThreadCreationNotify: "loud", MessagePingMode: config.PingNever}},
		{"bad ping mode", config.HostConfig{ImplicitArchiveCount: 1, ImplicitArchiveHours: 1, ThreadCreationNotify: config.NotifySilent, MessagePingMode: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.host
			if err := h.Validate(); err == nil {
				t.Fatal("expected Validate() to reject this config")
			}
		})
	}
}

func writeStateFile(t *testing.T, workspacePath string, contents map[string]any) {
	t.Helper()
	dir := config.BridgeDir(workspacePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}
	data, err := json.Marshal(contents)
	if err != nil {
		t.Fatalf("marshal state file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state.json"), data, 0o600); err != nil {
		t.Fatalf("write state file: %v", err)
	}
}
