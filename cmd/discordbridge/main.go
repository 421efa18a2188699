// Command discordbridge is the bridge daemon's CLI front-end: start/stop the
// daemon, inspect its status, run first-time setup, and install the
// tool-protocol adapter's MCP configuration file (spec.md §6).
//
// Grounded on cmd/thrum/main.go's cobra root-command/persistent-flag shape
// (teacher), trimmed to this spec's much smaller command surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonletto/discordbridge/internal/config"
	"github.com/leonletto/discordbridge/internal/daemon"
	"github.com/leonletto/discordbridge/internal/logging"
)

var (
	// Version and Build are set via -ldflags at release build time.
	Version = "dev"
	Build   = "unknown"
)

var (
	flagWorkspace string
	flagVerbose   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "discordbridge",
		Short: "Bridge daemon mirroring IDE agent conversations into a chat service",
		Long: `discordbridge mirrors an IDE's AI-agent conversations into threads of a
chat-service channel: every agent conversation gets exactly one thread,
messages posted there reach the owning conversation, and the IDE's
conversation lifecycle stays in sync with the thread lifecycle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Workspace root directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug logging")
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("discordbridge v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Init(flagVerbose)
	}

	rootCmd.AddCommand(daemonCmd(), setupCmd(), configCmd(), adapterCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func workspacePath() (string, error) {
	return filepath.Abs(flagWorkspace)
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "daemon", Short: "Manage the bridge daemon process"}
	cmd.AddCommand(daemonRunCmd(), daemonStartCmd(), daemonStopCmd(), daemonStatusCmd())
	return cmd
}

// daemonRunCmd runs the daemon in the foreground; daemonStartCmd re-execs
// this same subcommand detached.
func daemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspacePath()
			if err != nil {
				return err
			}

			br, err := daemon.New(ws)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := br.Start(ctx); err != nil {
				return err
			}
			defer br.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}
}

func daemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the bridge daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspacePath()
			if err != nil {
				return err
			}
			if running, _, _ := daemon.CheckPIDFileJSON(pidFilePath(ws)); running {
				return fmt.Errorf("daemon already running for workspace %s", ws)
			}

			exe, err := os.Executable()
			if err != nil {
				return err
			}
			proc, err := os.StartProcess(exe, []string{exe, "daemon", "run", "--workspace", ws}, &os.ProcAttr{
				Files: []*os.File{nil, nil, nil},
			})
			if err != nil {
				return fmt.Errorf("spawn daemon process: %w", err)
			}

			if err := daemon.WritePIDFileJSON(pidFilePath(ws), daemon.PIDInfo{
				PID: proc.Pid, RepoPath: ws, StartedAt: time.Now(),
			}); err != nil {
				return fmt.Errorf("write pid file: %w", err)
			}

			fmt.Printf("started daemon (pid %d) for workspace %s\n", proc.Pid, ws)
			return nil
		},
	}
}

func daemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background bridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspacePath()
			if err != nil {
				return err
			}
			running, info, err := daemon.CheckPIDFileJSON(pidFilePath(ws))
			if err != nil {
				return err
			}
			if !running {
				fmt.Println("daemon is not running")
				return daemon.RemovePIDFile(pidFilePath(ws))
			}
			proc, err := os.FindProcess(info.PID)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon process: %w", err)
			}
			_ = daemon.RemovePIDFile(pidFilePath(ws))
			fmt.Printf("stopped daemon (pid %d)\n", info.PID)
			return nil
		},
	}
}

func daemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the bridge daemon is running and healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspacePath()
			if err != nil {
				return err
			}
			running, info, err := daemon.CheckPIDFileJSON(pidFilePath(ws))
			if err != nil {
				return err
			}
			if !running {
				fmt.Println("daemon is not running")
				return nil
			}
			fmt.Printf("daemon running (pid %d, started %s)\n", info.PID, info.StartedAt.Format(time.RFC3339))

			port, err := daemon.ReadPortFile(rpcPortFilePath(ws))
			if err != nil {
				fmt.Println("RPC port file not found; daemon may still be starting up")
				return nil
			}
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
			if err != nil {
				fmt.Printf("RPC surface on port %d is not responding: %v\n", port, err)
				return nil
			}
			defer resp.Body.Close()
			var health map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&health); err == nil {
				fmt.Printf("RPC surface healthy on port %d: %+v\n", port, health)
			}
			return nil
		},
	}
}

func setupCmd() *cobra.Command {
	var guildID, channelID, channelName, botToken string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure the bridge for this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspacePath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(ws)
			if err != nil {
				return err
			}
			if guildID != "" {
				cfg.Host.GuildID = guildID
			}
			if channelID != "" {
				cfg.Workspace.ChannelID = channelID
			}
			if channelName != "" {
				cfg.Workspace.ChannelName = channelName
			}
			if botToken != "" {
				cfg.BotToken = botToken
			}
			cfg.Workspace.CreatedAt = time.Now()
			if err := cfg.Host.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Printf("configuration saved for workspace %s\n", cfg.WorkspaceName)
			return nil
		},
	}

	cmd.Flags().StringVar(&guildID, "guild-id", "", "Chat service guild id")
	cmd.Flags().StringVar(&channelID, "channel-id", "", "Chat service channel id to post into")
	cmd.Flags().StringVar(&channelName, "channel-name", "", "Human-readable channel name")
	cmd.Flags().StringVar(&botToken, "bot-token", "", "Bot credential (or DISCORDBRIDGE_BOT_TOKEN env var)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect resolved configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspacePath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(ws)
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.BotToken != "" {
				redacted.BotToken = "***"
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(redacted)
		},
	})
	return cmd
}

func pidFilePath(workspacePath string) string {
	return filepath.Join(config.BridgeDir(workspacePath), "var", "daemon.pid")
}

func rpcPortFilePath(workspacePath string) string {
	return filepath.Join(config.BridgeDir(workspacePath), "var", "rpc.port")
}
