//go:build darwin

package actuator

import (
	"context"
	"os/exec"
	"strings"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
)

type darwinPlatform struct{}

func newPlatform() platform { return darwinPlatform{} }

// runOSAScript shells to osascript, translating the accessibility-denied
// class of failure AppleScript reports when System Events isn't permitted.
func runOSAScript(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "not allowed") || strings.Contains(string(out), "-1743") {
			return bridgeerr.Wrap(bridgeerr.AccessibilityDenied, "grant Accessibility permission to the terminal/IDE running this daemon", err)
		}
		return bridgeerr.Wrap(bridgeerr.AccessibilityDenied, "osascript: "+string(out), err)
	}
	return nil
}

func (darwinPlatform) focusWindow(ctx context.Context, label string) error {
	script := `tell application "System Events" to set frontmost of first process whose name contains "Cursor" to true`
	_ = label // window-title matching is best-effort; Cursor exposes one process per window set
	return runOSAScript(ctx, script)
}

func (darwinPlatform) openConversation(ctx context.Context, _ string) error {
	return runOSAScript(ctx, `tell application "System Events" to keystroke "l" using {command down, shift down}`)
}

func (darwinPlatform) focusComposer(ctx context.Context) error {
	return runOSAScript(ctx, `tell application "System Events" to keystroke "i" using {command down}`)
}

func (darwinPlatform) pasteClipboard(ctx context.Context) error {
	return runOSAScript(ctx, `tell application "System Events" to keystroke "v" using command down`)
}

func (darwinPlatform) pressEnter(ctx context.Context) error {
	return runOSAScript(ctx, `tell application "System Events" to key code 36`)
}
