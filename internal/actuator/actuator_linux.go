//go:build linux

package actuator

import (
	"context"
	"os/exec"
	"strings"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
)

type linuxPlatform struct{}

func newPlatform() platform { return linuxPlatform{} }

// runXdotool shells to xdotool, the x-tool-chain spec.md §4.9 names for the
// linux leg. Accessibility failures here generally mean no X display / no
// xdotool installed, reported the same way as the other two platforms'
// permission-denied class.
func runXdotool(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "xdotool", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.AccessibilityDenied, "xdotool: "+strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (linuxPlatform) focusWindow(ctx context.Context, label string) error {
	return runXdotool(ctx, "search", "--name", label, "windowactivate", "--sync")
}

func (linuxPlatform) openConversation(ctx context.Context, _ string) error {
	return runXdotool(ctx, "key", "ctrl+shift+l")
}

func (linuxPlatform) focusComposer(ctx context.Context) error {
	return runXdotool(ctx, "key", "ctrl+i")
}

func (linuxPlatform) pasteClipboard(ctx context.Context) error {
	return runXdotool(ctx, "key", "ctrl+v")
}

func (linuxPlatform) pressEnter(ctx context.Context) error {
	return runXdotool(ctx, "key", "Return")
}
