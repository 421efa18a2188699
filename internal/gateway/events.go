package gateway

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leonletto/discordbridge/internal/bus"
)

// handleIncomingMessage implements spec.md §4.1's "incoming message
// handling": ignore bot-authored messages and messages outside mapped
// threads here (the mapped-thread filter is the Chat Watcher/Interaction
// Manager's job once it has the Registry; this stage only strips
// bot-authored noise and republishes everything else onto the bus for
// those consumers to apply the mapped-thread and Open-Question checks).
func (c *Client) handleIncomingMessage(m *tgbotapi.Message) {
	threadID := ""
	if m.IsTopicMessage {
		threadID = fmt.Sprintf("%d", m.MessageThreadID)
	}

	// Telegram reports forum-topic archive transitions as service messages
	// within the topic itself, not as a dedicated update type; this is the
	// only signal the Chat Watcher has for isThreadArchived/HandleThreadUpdate.
	if threadID != "" {
		if m.ForumTopicClosed != nil {
			c.activity.setArchived(threadID, true)
			c.HandleThreadUpdate(threadID, false, true, c.autoArchiveDurationFor(threadID))
			return
		}
		if m.ForumTopicReopened != nil {
			c.activity.setArchived(threadID, false)
			c.HandleThreadUpdate(threadID, true, false, c.autoArchiveDurationFor(threadID))
			return
		}
	}

	if m.From != nil && m.From.IsBot {
		return
	}
	if threadID == "" {
		return
	}

	authorID := ""
	if m.From != nil {
		authorID = fmt.Sprintf("%d", m.From.ID)
		c.pings.record(threadID, authorID)
	}

	c.activity.touchKeepDuration(threadID)
	c.activity.setExplicitArchived(threadID, false)

	c.bus.Publish(bus.Event{
		Kind: bus.KindMessage,
		Payload: bus.MessagePayload{
			ThreadID:    threadID,
			MessageID:   fmt.Sprintf("%d", m.MessageID),
			AuthorID:    authorID,
			AuthorIsBot: false,
			Text:        m.Text,
		},
	})
}

// handleCallbackQuery republishes a button interaction onto the bus for
// the Interaction Manager to route (spec.md §4.6).
func (c *Client) handleCallbackQuery(q *tgbotapi.CallbackQuery) {
	userID := ""
	if q.From != nil {
		userID = fmt.Sprintf("%d", q.From.ID)
	}
	messageID := ""
	if q.Message != nil {
		messageID = fmt.Sprintf("%d", q.Message.MessageID)
	}

	c.bus.Publish(bus.Event{
		Kind: bus.KindInteraction,
		Payload: bus.InteractionPayload{
			CustomID:    q.Data,
			MessageID:   messageID,
			UserID:      userID,
			IsComponent: true,
		},
	})

	// Telegram requires callback queries to be acknowledged or the client
	// shows a perpetual loading spinner on the tapped button.
	_, _ = c.bot.Request(tgbotapi.NewCallback(q.ID, ""))
}

// HandleThreadUpdate implements spec.md §4.1's "thread update handling".
// Telegram's Bot API does not push forum-topic archive-state changes as
// update events, so handleIncomingMessage calls this when it sees a
// ForumTopicClosed/ForumTopicReopened service message in a topic, passing
// the thread's cached autoArchiveDuration (or the default when none is
// cached).
func (c *Client) HandleThreadUpdate(threadID string, archivedBefore, archivedAfter bool, autoArchiveDuration time.Duration) {
	if !archivedBefore && archivedAfter {
		manual := c.activity.classifyArchive(threadID, autoArchiveDuration)
		c.bus.Publish(bus.Event{
			Kind: bus.KindThreadUpdate,
			Payload: bus.ThreadUpdatePayload{
				ThreadID:            threadID,
				ArchivedBefore:      archivedBefore,
				ArchivedAfter:       archivedAfter,
				AutoArchiveDuration: autoArchiveDuration,
			},
		})
		_ = manual // the explicit-archive flag is set inside classifyArchive as a side effect
		return
	}
	if archivedBefore && !archivedAfter {
		c.activity.setExplicitArchived(threadID, false)
		c.bus.Publish(bus.Event{
			Kind: bus.KindThreadUpdate,
			Payload: bus.ThreadUpdatePayload{
				ThreadID:            threadID,
				ArchivedBefore:      archivedBefore,
				ArchivedAfter:       archivedAfter,
				AutoArchiveDuration: autoArchiveDuration,
			},
		})
	}
}

// IsExplicitArchived reports whether threadID is in the Explicit-Archive
// Set (closed by the user in chat, not yet superseded by a new message).
func (c *Client) IsExplicitArchived(threadID string) bool {
	return c.activity.isExplicitArchived(threadID)
}

// ClearExplicitArchive clears threadID's explicit-archive flag — called
// when a new inbound thread message arrives (spec.md §4.1 step 3).
func (c *Client) ClearExplicitArchive(threadID string) {
	c.activity.setExplicitArchived(threadID, false)
}

// IsThreadArchived reports the tri-state archive status of the thread
// threadID: known true/false once a ForumTopicClosed/Reopened service message
// has been observed for it, unknown otherwise.
func (c *Client) IsThreadArchived(threadID string) (archived bool, known bool) {
	return c.activity.archivedState(threadID)
}

func (c *Client) autoArchiveDurationFor(threadID string) time.Duration {
	if entry, ok := c.activity.lastActivity(threadID); ok {
		return entry.autoArchiveDuration
	}
	return defaultAutoArchiveDuration
}
