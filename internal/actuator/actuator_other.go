//go:build !darwin && !windows && !linux

package actuator

import (
	"context"

	"github.com/leonletto/discordbridge/internal/bridgeerr"
)

type unsupportedPlatform struct{}

func newPlatform() platform { return unsupportedPlatform{} }

func (unsupportedPlatform) unsupported() error {
	return bridgeerr.New(bridgeerr.AccessibilityDenied, "keystroke injection is not supported on this platform")
}

func (u unsupportedPlatform) focusWindow(_ context.Context, _ string) error     { return u.unsupported() }
func (u unsupportedPlatform) openConversation(_ context.Context, _ string) error { return u.unsupported() }
func (u unsupportedPlatform) focusComposer(_ context.Context) error             { return u.unsupported() }
func (u unsupportedPlatform) pasteClipboard(_ context.Context) error           { return u.unsupported() }
func (u unsupportedPlatform) pressEnter(_ context.Context) error               { return u.unsupported() }
