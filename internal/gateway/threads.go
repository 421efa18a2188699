package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
	"github.com/leonletto/discordbridge/internal/registry"
)

const (
	maxChunkCodepoints = 2000
	maxNameCodepoints  = 100
	typingRefresh      = 8 * time.Second
	typingSafetyStop   = 5 * time.Minute
)

// CreateThreadResult is the outcome of CreateThread.
type CreateThreadResult struct {
	Thread  Thread
	Mapping registry.Mapping
}

// CreateThread creates a forum topic for conversationID under the current
// channel, persists its mapping, posts a welcome message, invites
// configured users, and optionally pings on creation.
func (c *Client) CreateThread(conversationID, workspaceLabel, name string, inviteUserIDs []string, notifyPing bool) (CreateThreadResult, error) {
	if strings.TrimSpace(name) == "" {
		return CreateThreadResult{}, bridgeerr.New(bridgeerr.MissingParameter, "createThread requires a non-empty name")
	}

	c.mu.Lock()
	chatID := c.currentChatID
	c.mu.Unlock()
	if chatID == 0 {
		return CreateThreadResult{}, bridgeerr.New(bridgeerr.NotConnected, "no channel selected")
	}

	topic, err := c.requestForumTopic(tgbotapi.CreateForumTopicConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		Name:       truncateCodepoints(name, maxNameCodepoints),
	})
	if err != nil {
		return CreateThreadResult{}, bridgeerr.Wrap(bridgeerr.NotConnected, "create thread", err)
	}
	threadID := fmt.Sprintf("%d", topic.MessageThreadID)

	mapping := registry.Mapping{
		ConversationID: conversationID,
		ThreadID:       threadID,
		WorkspaceLabel: workspaceLabel,
		CreatedAt:      timeNow(),
	}

	c.activity.touch(threadID, defaultAutoArchiveDuration)

	welcome := fmt.Sprintf("Bridged conversation for workspace **%s**.", workspaceLabel)
	if _, err := c.sendRaw(chatID, topic.MessageThreadID, welcome); err != nil {
		return CreateThreadResult{}, bridgeerr.Wrap(bridgeerr.NotConnected, "post welcome message", err)
	}

	if len(inviteUserIDs) > 0 {
		mentions := mentionAll(inviteUserIDs)
		if _, err := c.sendRaw(chatID, topic.MessageThreadID, "Inviting: "+mentions); err != nil {
			return CreateThreadResult{}, bridgeerr.Wrap(bridgeerr.NotConnected, "invite users", err)
		}
	}

	if notifyPing && len(inviteUserIDs) > 0 {
		if _, err := c.sendRaw(chatID, topic.MessageThreadID, mentionAll(inviteUserIDs)+" new thread created"); err != nil {
			return CreateThreadResult{}, bridgeerr.Wrap(bridgeerr.NotConnected, "post creation ping", err)
		}
	}

	return CreateThreadResult{
		Thread:  Thread{ID: threadID, Name: name, AutoArchiveDuration: defaultAutoArchiveDuration},
		Mapping: mapping,
	}, nil
}

func mentionAll(userIDs []string) string {
	mentions := make([]string, len(userIDs))
	for i, id := range userIDs {
		mentions[i] = "<@" + id + ">"
	}
	return strings.Join(mentions, " ")
}

func (c *Client) sendRaw(chatID int64, threadID int, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if threadID != 0 {
		msg.MessageThreadID = threadID
	}
	return c.bot.Send(msg)
}

// PostToThread splits text into ≤2000-codepoint chunks at paragraph, word,
// then character boundaries, computes the ping prefix for the configured
// messagePingMode exactly once, prefixes only the first chunk with it, and
// updates the thread's activity record.
func (c *Client) PostToThread(chatID int64, threadID string, text string) error {
	threadIDInt, err := parseThreadID(threadID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	mode, inviteUserIDs := c.pingMode, c.inviteUserIDs
	c.mu.Unlock()
	ping := ComputePingPrefix(mode, inviteUserIDs, threadID, c.pings)

	chunks := splitIntoChunks(text, maxChunkCodepoints)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	if ping != "" {
		chunks[0] = ping + " " + chunks[0]
	}

	for _, chunk := range chunks {
		if _, err := c.sendRaw(chatID, threadIDInt, chunk); err != nil {
			return bridgeerr.Wrap(bridgeerr.NotConnected, "post to thread", err)
		}
	}

	c.activity.touchKeepDuration(threadID)
	return nil
}

func parseThreadID(threadID string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(threadID, "%d", &n); err != nil {
		return 0, bridgeerr.Wrap(bridgeerr.NotFound, "invalid thread id "+threadID, err)
	}
	return n, nil
}

// splitIntoChunks splits text at paragraph, then word, then hard character
// boundaries so no chunk exceeds maxLen codepoints. Ping prefixes are
// applied by the caller and never affect this splitting.
func splitIntoChunks(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	paragraphs := strings.Split(text, "\n\n")
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		candidate := para
		if current.Len() > 0 {
			candidate = current.String() + "\n\n" + para
		}
		if utf8.RuneCountInString(candidate) <= maxLen {
			current.Reset()
			current.WriteString(candidate)
			continue
		}
		flush()
		chunks = append(chunks, splitByWords(para, maxLen)...)
	}
	flush()
	return chunks
}

func splitByWords(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	words := strings.Fields(text)
	var current strings.Builder
	for _, w := range words {
		candidate := w
		if current.Len() > 0 {
			candidate = current.String() + " " + w
		}
		if utf8.RuneCountInString(candidate) <= maxLen {
			current.Reset()
			current.WriteString(candidate)
			continue
		}
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if utf8.RuneCountInString(w) > maxLen {
			chunks = append(chunks, splitByChars(w, maxLen)...)
			continue
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func splitByChars(text string, maxLen int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		n := maxLen
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

func truncateCodepoints(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// SendFileToThread posts file bytes into threadID with an optional name
// and description caption.
func (c *Client) SendFileToThread(chatID int64, threadID string, data []byte, name, description string) error {
	threadIDInt, err := parseThreadID(threadID)
	if err != nil {
		return err
	}
	if name == "" {
		name = "file"
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = description
	doc.MessageThreadID = threadIDInt
	if _, err := c.bot.Send(doc); err != nil {
		return bridgeerr.Wrap(bridgeerr.NotConnected, "send file to thread", err)
	}
	c.activity.touchKeepDuration(threadID)
	return nil
}

// typingState tracks the refresh timer and safety stop for one thread's
// "typing" indicator.
type typingState struct {
	cancel context.CancelFunc
}

type typingTracker struct {
	mu    sync.Mutex
	byID  map[string]*typingState
}

func newTypingTracker() *typingTracker {
	return &typingTracker{byID: make(map[string]*typingState)}
}

// StartTyping begins a typing indicator on threadID, refreshed every 8s,
// with a 5-minute safety auto-stop. Idempotent: a second call on an already
// typing thread is a no-op.
func (c *Client) StartTyping(chatID int64, threadID string) error {
	threadIDInt, err := parseThreadID(threadID)
	if err != nil {
		return err
	}

	c.typing.mu.Lock()
	if _, exists := c.typing.byID[threadID]; exists {
		c.typing.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.typing.byID[threadID] = &typingState{cancel: cancel}
	c.typing.mu.Unlock()

	go c.runTypingLoop(ctx, chatID, threadIDInt, threadID)
	return nil
}

// runTypingLoop paces the typing-indicator refresh with a token-bucket
// limiter (one token per typingRefresh interval, burst 1) instead of a bare
// ticker, so the same primitive that throttles RPC ingress also governs how
// often this hammers the chat service. ctx carries the safety auto-stop.
func (c *Client) runTypingLoop(ctx context.Context, chatID int64, threadIDInt int, threadID string) {
	ctx, cancel := context.WithTimeout(ctx, typingSafetyStop)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(typingRefresh), 1)

	send := func() {
		action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		action.MessageThreadID = threadIDInt
		_, _ = c.bot.Request(action)
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			c.StopTyping(threadID)
			return
		}
		send()
	}
}

// StopTyping cancels threadID's typing indicator. Idempotent.
func (c *Client) StopTyping(threadID string) {
	c.typing.mu.Lock()
	defer c.typing.mu.Unlock()
	if st, ok := c.typing.byID[threadID]; ok {
		st.cancel()
		delete(c.typing.byID, threadID)
	}
}

// RenameThread renames the forum topic, truncating to 100 code points.
// No-op if the new name already matches.
func (c *Client) RenameThread(chatID int64, threadID, name string, currentName string) error {
	truncated := truncateCodepoints(name, maxNameCodepoints)
	if truncated == currentName {
		return nil
	}
	threadIDInt, err := parseThreadID(threadID)
	if err != nil {
		return err
	}
	_, err = c.requestForumTopic(tgbotapi.EditForumTopicConfig{
		ChatConfig:      tgbotapi.ChatConfig{ChatID: chatID},
		MessageThreadID: threadIDInt,
		Name:            truncated,
	})
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.NotFound, "rename thread", err)
	}
	return nil
}

// ArchiveThread closes the forum topic.
func (c *Client) ArchiveThread(chatID int64, threadID string) error {
	threadIDInt, err := parseThreadID(threadID)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.CloseForumTopicConfig{
		ChatConfig:      tgbotapi.ChatConfig{ChatID: chatID},
		MessageThreadID: threadIDInt,
	})
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.NotConnected, "archive thread", err)
	}
	return nil
}

// UnarchiveThread reopens the forum topic.
func (c *Client) UnarchiveThread(chatID int64, threadID string) error {
	threadIDInt, err := parseThreadID(threadID)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.ReopenForumTopicConfig{
		ChatConfig:      tgbotapi.ChatConfig{ChatID: chatID},
		MessageThreadID: threadIDInt,
	})
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.NotConnected, "unarchive thread", err)
	}
	return nil
}

// EnsureActiveThreadsOpen unarchives the thread for every conversation id
// in trulyActive whose mapping is not explicit-archived and whose thread
// is currently archived. Returns the count reopened.
func (c *Client) EnsureActiveThreadsOpen(chatID int64, trulyActive []registry.Mapping, isExplicitArchived func(threadID string) bool, isArchived func(threadID string) (bool, bool)) (int, error) {
	reopened := 0
	for _, m := range trulyActive {
		if isExplicitArchived(m.ThreadID) {
			continue
		}
		archived, known := isArchived(m.ThreadID)
		if !known || !archived {
			continue
		}
		if err := c.UnarchiveThread(chatID, m.ThreadID); err != nil {
			return reopened, err
		}
		reopened++
	}
	return reopened, nil
}

func timeNow() (t time.Time) {
	return time.Now()
}
