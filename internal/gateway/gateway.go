// Package gateway wraps a connection to a chat service exposing a
// guild/channel/thread hierarchy, backed concretely by Telegram's forum-topic
// API: a forum-enabled supergroup stands in for a "guild"; since Telegram has
// no channel substructure inside a group, "channel" resolves to that same
// supergroup (one synthetic channel per guild); a forum topic is the
// "thread" spec.md's Chat Gateway Client operates on.
//
// Grounded on the teacher's go.mod dependency on
// github.com/go-telegram-bot-api/telegram-bot-api/v5 (present but unused in
// the teacher; promoted to direct use here), with the event-loop shape
// (accept/dispatch per connection) grounded on
// internal/websocket/server.go's connection lifecycle.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
	"github.com/leonletto/discordbridge/internal/bus"
	"github.com/leonletto/discordbridge/internal/config"
)

// Guild is the top-level container — a Telegram forum-enabled supergroup.
type Guild struct {
	ID   string
	Name string
}

// Channel is the posting target within a guild. Telegram has no channel
// substructure beneath a supergroup, so exactly one synthetic Channel
// mirrors the Guild itself.
type Channel struct {
	ID       string
	Name     string
	GuildID  string
}

// Category is unsupported by the Telegram adapter; listCategories always
// returns an empty slice (see createChannel's categoryId, accepted but unused).
type Category struct {
	ID   string
	Name string
}

// Thread is a Telegram forum topic.
type Thread struct {
	ID                  string
	Name                string
	AutoArchiveDuration time.Duration
	Archived            bool
}

// PermissionReport is the result of checkPermissions.
type PermissionReport struct {
	OK      bool
	Missing []string
}

const defaultAutoArchiveDuration = 7 * 24 * time.Hour

// requiredPermissions names the capabilities CheckPermissions reports as
// missing when the bot is not an administrator, per spec.md §4.1.
var requiredPermissions = []string{
	"send_messages",
	"create_public_threads",
	"send_in_threads",
	"manage_channels",
	"view_channels",
	"read_history",
	"add_reactions",
}

// Client is the Chat Gateway Client.
type Client struct {
	bot    *tgbotapi.BotAPI
	bus    *bus.Bus
	cancel context.CancelFunc

	mu            sync.Mutex
	currentChatID int64

	pingMode      config.MessagePingMode
	inviteUserIDs []string

	activity *activityTracker
	typing   *typingTracker
	pings    *pingTracker
}

// New constructs an unconnected Client publishing events onto b.
func New(b *bus.Bus) *Client {
	return &Client{
		bus: b, activity: newActivityTracker(), typing: newTypingTracker(), pings: newPingTracker(),
		pingMode: config.PingNever,
	}
}

// SetPingPolicy configures the ping-prefix policy PostToThread applies
// (spec.md §4.7): the configured messagePingMode and the set of user ids
// eligible for an @mention.
func (c *Client) SetPingPolicy(mode config.MessagePingMode, inviteUserIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingMode = mode
	c.inviteUserIDs = inviteUserIDs
}

// Connect establishes the gateway session and starts the update loop,
// emitting ready/disconnect/error/message/thread_update/interaction events.
func (c *Client) Connect(ctx context.Context, token string) error {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.NotConnected, "connect to chat service", err)
	}
	c.bot = bot

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	c.bus.Publish(bus.Event{Kind: bus.KindReady})
	log.Info().Str("username", bot.Self.UserName).Msg("chat gateway connected")

	go c.runUpdateLoop(runCtx, updates)
	return nil
}

func (c *Client) runUpdateLoop(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			c.bus.Publish(bus.Event{Kind: bus.KindDisconnect})
			return
		case update, ok := <-updates:
			if !ok {
				c.bus.Publish(bus.Event{Kind: bus.KindDisconnect})
				return
			}
			c.handleUpdate(update)
		}
	}
}

func (c *Client) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallbackQuery(update.CallbackQuery)
	case update.Message != nil:
		c.handleIncomingMessage(update.Message)
	}
}

// Disconnect stops the update loop.
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
}

// IsConnected reports whether Connect has completed successfully. Backs the
// RPC Surface's /health discoverability check (spec.md §6).
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bot != nil
}

// ListGuilds returns the forum-enabled supergroups the bot is configured
// against. Telegram's Bot API has no "list my chats" endpoint, so this
// returns the single guild selected via SelectChannel/configuration, if any.
func (c *Client) ListGuilds() ([]Guild, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentChatID == 0 {
		return nil, nil
	}
	return []Guild{{ID: fmt.Sprintf("%d", c.currentChatID)}}, nil
}

// ListChannels returns the single synthetic channel for a guild.
func (c *Client) ListChannels(guildID string) ([]Channel, error) {
	return []Channel{{ID: guildID, GuildID: guildID}}, nil
}

// ListCategories always returns empty: Telegram has no category concept.
func (c *Client) ListCategories(_ string) ([]Category, error) {
	return nil, nil
}

// CheckPermissions reports every entry of requiredPermissions as missing
// when the bot is neither administrator nor creator of the guild's chat.
// For an administrator it checks only two rights, send messages and manage
// chat, reported as "send_messages" and "manage_channels"; the other
// entries of requiredPermissions are not checked.
func (c *Client) CheckPermissions(guildID string) (PermissionReport, error) {
	chatID, err := parseChatID(guildID)
	if err != nil {
		return PermissionReport{}, err
	}

	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: c.bot.Self.ID},
	})
	if err != nil {
		return PermissionReport{}, bridgeerr.Wrap(bridgeerr.NotConnected, "check permissions", err)
	}

	if member.Status != "administrator" && member.Status != "creator" {
		return PermissionReport{OK: false, Missing: requiredPermissions}, nil
	}

	var missing []string
	if !member.CanSendMessages {
		missing = append(missing, "send_messages")
	}
	if !member.CanManageChat {
		missing = append(missing, "manage_channels")
	}
	return PermissionReport{OK: len(missing) == 0, Missing: missing}, nil
}

// CreateChannel is a no-op adapter shim: Telegram channels are 1:1 with the
// guild chat itself, so this just normalizes and returns the synthetic name.
func (c *Client) CreateChannel(guildID, name string, _ string) (Channel, error) {
	return Channel{ID: guildID, GuildID: guildID, Name: normalizeChannelName(name)}, nil
}

func normalizeChannelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	out := collapseDashes(b.String())
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}

func collapseDashes(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		if r == '-' {
			if lastDash {
				continue
			}
			lastDash = true
		} else {
			lastDash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SelectChannel sets the current chat used for thread creation.
func (c *Client) SelectChannel(channelID string) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.currentChatID = chatID
	c.mu.Unlock()
	return nil
}

func parseChatID(id string) (int64, error) {
	var chatID int64
	if _, err := fmt.Sscanf(id, "%d", &chatID); err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.NotFound, "invalid chat id "+id, err)
	}
	return chatID, nil
}

type forumTopic struct {
	MessageThreadID int    `json:"message_thread_id"`
	Name            string `json:"name"`
}

// requestForumTopic issues an arbitrary Chattable request and decodes its
// Result as a forum-topic response.
func (c *Client) requestForumTopic(cfg tgbotapi.Chattable) (forumTopic, error) {
	resp, err := c.bot.Request(cfg)
	if err != nil {
		return forumTopic{}, err
	}
	if len(resp.Result) == 0 {
		return forumTopic{}, nil
	}
	var t forumTopic
	if err := json.Unmarshal(resp.Result, &t); err != nil {
		return forumTopic{}, fmt.Errorf("decode forum topic response: %w", err)
	}
	return t, nil
}
