// Package config resolves per-workspace and per-host configuration for the
// bridge daemon, following the teacher's layered env/file/default resolution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ThreadCreationNotify controls whether a newly created thread pings anyone.
type ThreadCreationNotify string

const (
	NotifySilent ThreadCreationNotify = "silent"
	NotifyPing   ThreadCreationNotify = "ping"
)

// MessagePingMode controls the ping-prefix policy for postToThread (spec.md §4.7).
type MessagePingMode string

const (
	PingNever               MessagePingMode = "never"
	PingOnRecentUserMessage MessagePingMode = "on_recent_user_message"
	PingAlways              MessagePingMode = "always"
)

// WorkspaceConfig is the per-workspace record: which channel to post into.
type WorkspaceConfig struct {
	ChannelID   string    `json:"channelId"`
	ChannelName string    `json:"channelName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HostConfig is the per-host record: bot credential location and policy knobs.
type HostConfig struct {
	GuildID              string               `json:"guildId"`
	GuildName            string               `json:"guildName"`
	InviteUserIDs        []string             `json:"inviteUserIds"`
	ThreadCreationNotify ThreadCreationNotify `json:"threadCreationNotify"`
	MessagePingMode      MessagePingMode      `json:"messagePingMode"`
	ImplicitArchiveCount int                  `json:"implicitArchiveCount"`
	ImplicitArchiveHours int                  `json:"implicitArchiveHours"`
}

// DefaultHostConfig returns the hard defaults named in spec.md §3.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		ThreadCreationNotify: NotifySilent,
		MessagePingMode:      PingNever,
		ImplicitArchiveCount: 10,
		ImplicitArchiveHours: 48,
	}
}

// Validate checks policy knobs against their documented floors.
func (h *HostConfig) Validate() error {
	if h.ImplicitArchiveCount < 1 {
		return fmt.Errorf("implicitArchiveCount must be >= 1, got %d", h.ImplicitArchiveCount)
	}
	if h.ImplicitArchiveHours < 1 {
		return fmt.Errorf("implicitArchiveHours must be >= 1, got %d", h.ImplicitArchiveHours)
	}
	switch h.ThreadCreationNotify {
	case NotifySilent, NotifyPing:
	default:
		return fmt.Errorf("invalid threadCreationNotify: %q", h.ThreadCreationNotify)
	}
	switch h.MessagePingMode {
	case PingNever, PingOnRecentUserMessage, PingAlways:
	default:
		return fmt.Errorf("invalid messagePingMode: %q", h.MessagePingMode)
	}
	return nil
}

// Config is the fully resolved configuration for one daemon instance.
type Config struct {
	WorkspacePath string
	WorkspaceName string
	Workspace     WorkspaceConfig
	Host          HostConfig
	BotToken      string
}

// stateFile is the per-workspace persisted-state JSON document, mirroring
// the teacher's .thrum/config.json convention at .discordbridge/state.json.
type stateFile struct {
	Workspace   WorkspaceConfig `json:"discordBridge.projectConfig"`
	Host        HostConfig      `json:"discordBridge.globalConfig"`
	BotTokenRef string          `json:"discordBridge.botToken,omitempty"`
}

// BridgeDir returns the per-workspace state directory, ".discordbridge"
// under the workspace root — the analogue of the teacher's ".thrum".
func BridgeDir(workspacePath string) string {
	return filepath.Join(workspacePath, ".discordbridge")
}

func statePath(workspacePath string) string {
	return filepath.Join(BridgeDir(workspacePath), "state.json")
}

// Load resolves configuration for the given workspace path.
//
// Resolution order (highest priority first), matching the teacher's
// env > file > default layering in internal/config.Load:
//  1. DISCORDBRIDGE_BOT_TOKEN env var for the credential.
//  2. Persisted state.json for workspace/host config.
//  3. Hard defaults (DefaultHostConfig).
func Load(workspacePath string) (*Config, error) {
	absPath, err := filepath.Abs(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}

	cfg := &Config{
		WorkspacePath: absPath,
		WorkspaceName: filepath.Base(absPath),
		Host:          DefaultHostConfig(),
	}

	sf, err := readStateFile(absPath)
	if err != nil {
		return nil, err
	}
	if sf != nil {
		if sf.Workspace.ChannelID != "" {
			cfg.Workspace = sf.Workspace
		}
		if sf.Host.ThreadCreationNotify != "" || sf.Host.MessagePingMode != "" || sf.Host.ImplicitArchiveCount != 0 {
			cfg.Host = sf.Host
			if cfg.Host.ImplicitArchiveCount == 0 {
				cfg.Host.ImplicitArchiveCount = DefaultHostConfig().ImplicitArchiveCount
			}
			if cfg.Host.ImplicitArchiveHours == 0 {
				cfg.Host.ImplicitArchiveHours = DefaultHostConfig().ImplicitArchiveHours
			}
			if cfg.Host.ThreadCreationNotify == "" {
				cfg.Host.ThreadCreationNotify = NotifySilent
			}
			if cfg.Host.MessagePingMode == "" {
				cfg.Host.MessagePingMode = PingNever
			}
		}
		cfg.BotToken = sf.BotTokenRef
	}

	if tok := os.Getenv("DISCORDBRIDGE_BOT_TOKEN"); tok != "" {
		cfg.BotToken = tok
	}

	if err := cfg.Host.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host config: %w", err)
	}

	return cfg, nil
}

func readStateFile(workspacePath string) (*stateFile, error) {
	data, err := os.ReadFile(statePath(workspacePath)) //nolint:gosec // G304 - path from internal state directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &sf, nil
}

// Save atomically persists the workspace and host configuration (the bot
// token travels with it here for simplicity; a future hardening pass could
// split it into an OS keychain-backed store without changing this interface)
// using the teacher's temp-file-then-rename idiom.
func (c *Config) Save() error {
	sf := stateFile{Workspace: c.Workspace, Host: c.Host, BotTokenRef: c.BotToken}
	return writeStateFileAtomic(c.WorkspacePath, &sf)
}

func writeStateFileAtomic(workspacePath string, sf *stateFile) error {
	dir := BridgeDir(workspacePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create bridge directory: %w", err)
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	target := statePath(workspacePath)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize state file: %w", err)
	}
	return nil
}
