//go:build windows

package actuator

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
)

type windowsPlatform struct{}

func newPlatform() platform { return windowsPlatform{} }

func runPowerShell(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.AccessibilityDenied, "powershell: "+string(out), err)
	}
	return nil
}

func (windowsPlatform) focusWindow(ctx context.Context, label string) error {
	script := fmt.Sprintf(`
$w = Get-Process | Where-Object { $_.MainWindowTitle -like "*%s*Cursor*" -or $_.MainWindowTitle -like "*Cursor*%s*" } | Select-Object -First 1
if ($w) { (New-Object -ComObject WScript.Shell).AppActivate($w.Id) | Out-Null }
`, label, label)
	return runPowerShell(ctx, script)
}

func (windowsPlatform) openConversation(ctx context.Context, _ string) error {
	return runPowerShell(ctx, `(New-Object -ComObject WScript.Shell).SendKeys("^+l")`)
}

func (windowsPlatform) focusComposer(ctx context.Context) error {
	return runPowerShell(ctx, `(New-Object -ComObject WScript.Shell).SendKeys("^i")`)
}

func (windowsPlatform) pasteClipboard(ctx context.Context) error {
	return runPowerShell(ctx, `(New-Object -ComObject WScript.Shell).SendKeys("^v")`)
}

func (windowsPlatform) pressEnter(ctx context.Context) error {
	return runPowerShell(ctx, `(New-Object -ComObject WScript.Shell).SendKeys("~")`)
}
