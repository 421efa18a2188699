// Bridge wires every domain package (Conversation Store, Mapping Registry,
// Chat Gateway Client, Chat Watcher, Name Sync Watcher, Interaction Manager,
// RPC Surface, Actuator) into one running process, and owns the process
// lifecycle (startup order, graceful shutdown).
//
// Grounded on the teacher's internal/daemon.{pidfile,flock_unix,portfile}.go
// singleton-instance guard, generalized from "one daemon per machine" to
// "one daemon per workspace, discoverable by the adapter process".
package daemon

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leonletto/discordbridge/internal/actuator"
	"github.com/leonletto/discordbridge/internal/bus"
	"github.com/leonletto/discordbridge/internal/config"
	"github.com/leonletto/discordbridge/internal/convstore"
	"github.com/leonletto/discordbridge/internal/gateway"
	"github.com/leonletto/discordbridge/internal/interaction"
	"github.com/leonletto/discordbridge/internal/namesync"
	"github.com/leonletto/discordbridge/internal/registry"
	"github.com/leonletto/discordbridge/internal/rpcapi"
	"github.com/leonletto/discordbridge/internal/watcher"
)

// Bridge owns every long-lived component for one workspace.
type Bridge struct {
	cfg   *config.Config
	lock  *FileLock
	bus   *bus.Bus
	store *convstore.Store
	reg   *registry.Registry
	gw    *gateway.Client
	watch *watcher.Watcher
	names *namesync.Watcher
	im    *interaction.Manager
	act   *actuator.Actuator
	rpc   *rpcapi.Server

	subID string
}

// watcherGatewayAdapter narrows gateway.Client's richer CreateThreadResult
// down to the plain registry.Mapping watcher.Gateway expects (DESIGN.md
// "Chat Watcher gateway adapter"). Every other watcher.Gateway method is
// promoted straight through via the embedded *gateway.Client.
type watcherGatewayAdapter struct {
	*gateway.Client
}

func (a watcherGatewayAdapter) CreateThread(conversationID, workspaceLabel, name string, inviteUserIDs []string, notifyPing bool) (registry.Mapping, error) {
	result, err := a.Client.CreateThread(conversationID, workspaceLabel, name, inviteUserIDs, notifyPing)
	if err != nil {
		return registry.Mapping{}, err
	}
	return result.Mapping, nil
}

// New resolves configuration, locates the IDE's state database, and
// constructs every component without starting any loop or listener yet.
func New(workspacePath string) (*Bridge, error) {
	cfg, err := config.Load(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("no bot token configured for workspace %s", cfg.WorkspaceName)
	}
	if cfg.Workspace.ChannelID == "" {
		return nil, fmt.Errorf("workspace %s has no channel configured; run setup first", cfg.WorkspaceName)
	}

	lock, err := AcquireLock(lockPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("acquire daemon singleton lock: %w", err)
	}

	home, _ := os.UserHomeDir()
	dbPath, err := convstore.LocateStateDB(convstore.PlatformBaseDir(runtime.GOOS, home, os.Getenv("APPDATA")), cfg.WorkspacePath)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("locate IDE state database: %w", err)
	}
	store := convstore.New(dbPath)

	reg, err := registry.Open(registryPath(cfg))
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open mapping registry: %w", err)
	}

	b := bus.New()
	gw := gateway.New(b)
	gw.SetPingPolicy(cfg.Host.MessagePingMode, cfg.Host.InviteUserIDs)

	if err := gw.SelectChannel(cfg.Workspace.ChannelID); err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("select configured channel: %w", err)
	}
	chatID, err := parseChatID(cfg.Workspace.ChannelID)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("invalid channel id in config: %w", err)
	}

	w := watcher.New(store, watcherGatewayAdapter{gw}, reg, chatID, cfg)
	ns := namesync.New(store, gw, reg, chatID, dbPath)
	im := interaction.New(gw)
	act := actuator.New(cfg.WorkspaceName)
	connected := func() bool { return gw.IsConnected() }
	rpc := rpcapi.New(gw, reg, cfg, im, act, chatID, b, connected)
	rpc.SetPendingResolver(w, w)

	return &Bridge{
		cfg: cfg, lock: lock, bus: b, store: store, reg: reg,
		gw: gw, watch: w, names: ns, im: im, act: act, rpc: rpc,
	}, nil
}

// Start connects the gateway, seeds the Name Sync Watcher, starts both
// reconciliation loops, subscribes the bus-driven dispatcher, and opens the
// RPC Surface listener. Returns once everything is running; does not block.
func (br *Bridge) Start(ctx context.Context) error {
	if err := br.gw.Connect(ctx, br.cfg.BotToken); err != nil {
		return fmt.Errorf("connect chat gateway: %w", err)
	}

	br.names.Seed(func(threadID string) (string, bool) {
		return "", false // Telegram forum topics don't expose a cheap name-fetch-by-id; first sync pass will reconcile from scratch.
	})

	br.watch.Start(ctx)
	br.names.Start(ctx)

	subID, events := br.bus.Subscribe(64)
	br.subID = subID
	go br.dispatch(ctx, events)

	if err := br.rpc.Start(); err != nil {
		return fmt.Errorf("start RPC surface: %w", err)
	}

	if err := WritePortFile(portFilePath(br.cfg), br.rpc.Port()); err != nil {
		log.Warn().Err(err).Msg("bridge: failed to persist RPC port file")
	}

	log.Info().Str("workspace", br.cfg.WorkspaceName).Int("port", br.rpc.Port()).Msg("bridge: running")
	return nil
}

// dispatch is the bus consumer driving the Interaction Manager's button
// routing and the plain-text actuation path (spec.md §4.1 steps 4-5).
func (br *Bridge) dispatch(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			br.handleEvent(ctx, ev)
		}
	}
}

func (br *Bridge) handleEvent(ctx context.Context, ev bus.Event) {
	switch ev.Kind {
	case bus.KindInteraction:
		p, ok := ev.Payload.(bus.InteractionPayload)
		if !ok {
			return
		}
		br.im.HandleInteraction(p.MessageID, p.CustomID, "")
	case bus.KindMessage:
		p, ok := ev.Payload.(bus.MessagePayload)
		if !ok || p.AuthorIsBot {
			return
		}
		br.handleThreadMessage(ctx, p)
	}
}

func (br *Bridge) handleThreadMessage(ctx context.Context, p bus.MessagePayload) {
	mapping, ok := br.reg.GetByThread(p.ThreadID)
	if !ok {
		return
	}

	if br.im.HasOpenQuestion(p.ThreadID) {
		br.im.ResolveWithText(p.ThreadID, p.Text)
		return
	}

	chatID, err := parseChatID(br.cfg.Workspace.ChannelID)
	if err != nil {
		return
	}

	actCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := br.act.Perform(actCtx, mapping.ConversationID, p.Text, p.ThreadID); err != nil {
		log.Error().Err(err).Str("threadId", p.ThreadID).Msg("bridge: failed to deliver message to IDE")
		_ = br.gw.PostToThread(chatID, p.ThreadID, "⚠️ delivery failed: "+err.Error())
		return
	}
	_ = br.gw.PostToThread(chatID, p.ThreadID, "✅")
}

// Stop shuts the process down: it stops the Chat Watcher, unsubscribes the
// dispatcher from the bus, closes the RPC listener, removes the port file,
// disconnects the gateway, and releases the singleton lock. The Name Sync
// Watcher is not stopped here (its poll and watchdog loops end only when the
// ctx passed to Start is canceled), and typing indicators are not cleared.
func (br *Bridge) Stop() {
	br.watch.Stop()
	if br.subID != "" {
		br.bus.Unsubscribe(br.subID)
	}
	if err := br.rpc.Stop(); err != nil {
		log.Warn().Err(err).Msg("bridge: error stopping RPC surface")
	}
	_ = RemovePortFile(portFilePath(br.cfg))
	br.gw.Disconnect()
	if err := br.lock.Release(); err != nil {
		log.Warn().Err(err).Msg("bridge: error releasing singleton lock")
	}
}

func parseChatID(id string) (int64, error) {
	var chatID int64
	if _, err := fmt.Sscanf(id, "%d", &chatID); err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", id, err)
	}
	return chatID, nil
}

func lockPath(cfg *config.Config) string {
	return config.BridgeDir(cfg.WorkspacePath) + "/var/daemon.lock"
}

func registryPath(cfg *config.Config) string {
	return config.BridgeDir(cfg.WorkspacePath) + "/var/registry.json"
}

func portFilePath(cfg *config.Config) string {
	return config.BridgeDir(cfg.WorkspacePath) + "/var/rpc.port"
}
