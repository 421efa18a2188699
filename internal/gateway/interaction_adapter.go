package gateway

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
)

// PostPlaceholder posts an empty-ish placeholder message into threadID and
// returns its message id, satisfying internal/interaction.Poster so the
// Interaction Manager can post-then-edit an Open Question in place.
func (c *Client) PostPlaceholder(threadID string) (string, error) {
	threadIDInt, err := parseThreadID(threadID)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	chatID := c.currentChatID
	c.mu.Unlock()
	if chatID == 0 {
		return "", bridgeerr.New(bridgeerr.NotConnected, "no channel selected")
	}

	sent, err := c.sendRaw(chatID, threadIDInt, "…")
	if err != nil {
		return "", bridgeerr.Wrap(bridgeerr.NotConnected, "post placeholder", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EditMessage rewrites messageID's text and, when buttons is non-empty,
// replaces its inline keyboard with one button per row (label, custom id).
func (c *Client) EditMessage(_, messageID, renderedText string, buttons [][2]string) error {
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.NotFound, "invalid message id "+messageID, err)
	}
	c.mu.Lock()
	chatID := c.currentChatID
	c.mu.Unlock()

	edit := tgbotapi.NewEditMessageText(chatID, msgID, renderedText)
	if len(buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, len(buttons))
		for i, b := range buttons {
			rows[i] = []tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardButtonData(b[0], b[1])}
		}
		markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
		edit.ReplyMarkup = &markup
	}

	if _, err := c.bot.Send(edit); err != nil {
		return bridgeerr.Wrap(bridgeerr.NotConnected, "edit message", err)
	}
	return nil
}

// ReplyEphemeral answers a callback query with a transient alert, used for
// the "this question has expired" notice.
func (c *Client) ReplyEphemeral(_, interactionID, text string) error {
	callback := tgbotapi.NewCallbackWithAlert(interactionID, text)
	if _, err := c.bot.Request(callback); err != nil {
		return bridgeerr.Wrap(bridgeerr.NotConnected, "reply ephemeral", err)
	}
	return nil
}
