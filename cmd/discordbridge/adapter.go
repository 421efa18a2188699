package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// mcpServerEntry mirrors one entry of ~/.cursor/mcp.json's "mcpServers" map.
type mcpServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type mcpConfigFile struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

const mcpServerKey = "discord-bridge"

// adapterCmd manages the tool-protocol adapter's MCP configuration file
// (spec.md §6 "Configuration file"). The adapter process itself is an
// external collaborator, out of scope here — this only ensures the host's
// mcp.json points at it.
func adapterCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "adapter", Short: "Manage the external tool-protocol adapter's configuration"}
	cmd.AddCommand(adapterInstallCmd())
	return cmd
}

func adapterInstallCmd() *cobra.Command {
	var adapterPath string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write or update ~/.cursor/mcp.json to reference the bundled adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if adapterPath == "" {
				return fmt.Errorf("--adapter-path is required")
			}
			absAdapter, err := filepath.Abs(adapterPath)
			if err != nil {
				return err
			}

			path, err := mcpConfigPath()
			if err != nil {
				return err
			}

			cfg, err := readMCPConfig(path)
			if err != nil {
				return err
			}
			if cfg.MCPServers == nil {
				cfg.MCPServers = make(map[string]mcpServerEntry)
			}

			entry, exists := cfg.MCPServers[mcpServerKey]
			if exists && entry.Command == "node" && len(entry.Args) == 1 && entry.Args[0] == absAdapter {
				fmt.Println("mcp.json already up to date")
				return nil
			}

			cfg.MCPServers[mcpServerKey] = mcpServerEntry{Command: "node", Args: []string{absAdapter}}
			if err := writeMCPConfig(path, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s; reload the host to pick up the change\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&adapterPath, "adapter-path", "", "Absolute path to the bundled adapter entrypoint")
	return cmd
}

func mcpConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".cursor", "mcp.json"), nil
}

func readMCPConfig(path string) (mcpConfigFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - fixed, documented host config path
	if err != nil {
		if os.IsNotExist(err) {
			return mcpConfigFile{MCPServers: make(map[string]mcpServerEntry)}, nil
		}
		return mcpConfigFile{}, fmt.Errorf("read mcp config: %w", err)
	}
	var cfg mcpConfigFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return mcpConfigFile{}, fmt.Errorf("parse mcp config: %w", err)
	}
	return cfg, nil
}

func writeMCPConfig(path string, cfg mcpConfigFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create mcp config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mcp config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write mcp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize mcp config: %w", err)
	}
	return nil
}
