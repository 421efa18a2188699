// Package actuator turns an inbound chat message into an IDE agent-turn by
// driving the host IDE window directly: focus, open-conversation command,
// clipboard paste, Enter (spec.md §4.9).
//
// Grounded on the teacher's internal/daemon.{flock_unix,flock_other}.go
// per-platform build-tag split, generalized from "file locking" to
// "window automation" — darwin/windows/linux each get their own file, with
// a fourth build-tagged fallback for anything else.
package actuator

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog/log"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
)

const stepDelay = 200 * time.Millisecond

// platform is the host-specific half of actuation: focusing the IDE window
// and injecting the open-conversation/focus-composer commands and the
// paste+Enter keystrokes. Implemented per-OS in actuator_<os>.go.
type platform interface {
	focusWindow(ctx context.Context, label string) error
	openConversation(ctx context.Context, conversationID string) error
	focusComposer(ctx context.Context) error
	pasteClipboard(ctx context.Context) error
	pressEnter(ctx context.Context) error
}

// Actuator drives the platform-specific capability interface in sequence.
type Actuator struct {
	plat          platform
	workspaceName string
	writeClipboard func(string) error
}

// New constructs an Actuator for workspaceName, the window-identifying
// label (spec.md §4.9 step 1).
func New(workspaceName string) *Actuator {
	return &Actuator{plat: newPlatform(), workspaceName: workspaceName, writeClipboard: clipboard.WriteAll}
}

// Perform executes spec.md §4.9's seven steps: focus, open conversation,
// focus composer, stage text on the clipboard, paste, press Enter. text is
// prefixed with a directive block naming threadID when threadID is set, so
// the IDE agent knows to reply via the post-to-thread path.
func (a *Actuator) Perform(ctx context.Context, conversationID, text, threadID string) error {
	if err := a.plat.focusWindow(ctx, a.workspaceName); err != nil {
		return err
	}
	delay(ctx)

	if err := a.plat.openConversation(ctx, conversationID); err != nil {
		return err
	}
	delay(ctx)

	if err := a.plat.focusComposer(ctx); err != nil {
		return err
	}
	delay(ctx)

	staged := stageText(text, threadID)
	if err := a.writeClipboard(staged); err != nil {
		return bridgeerr.Wrap(bridgeerr.AccessibilityDenied, "stage clipboard text", err)
	}
	delay(ctx)

	if err := a.plat.pasteClipboard(ctx); err != nil {
		return err
	}
	delay(ctx)

	if err := a.plat.pressEnter(ctx); err != nil {
		return err
	}

	log.Debug().Str("conversationId", conversationID).Str("threadId", threadID).Msg("actuator: turn injected")
	return nil
}

// stageText prefixes text with a directive block naming threadID, so the
// IDE agent's reply gets routed back through post_to_thread (spec.md §4.9
// step 5).
func stageText(text, threadID string) string {
	if threadID == "" {
		return text
	}
	return fmt.Sprintf("[Discord Thread: %s]\nRespond to this message using the post_to_thread tool.\n\n%s", threadID, text)
}

func delay(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(stepDelay):
	}
}
