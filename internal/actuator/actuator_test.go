package actuator

import (
	"context"
	"testing"
)

type fakePlatform struct {
	calls      []string
	focusErr   error
	pasteErr   error
}

func (f *fakePlatform) focusWindow(_ context.Context, label string) error {
	f.calls = append(f.calls, "focusWindow:"+label)
	return f.focusErr
}

func (f *fakePlatform) openConversation(_ context.Context, conversationID string) error {
	f.calls = append(f.calls, "openConversation:"+conversationID)
	return nil
}

func (f *fakePlatform) focusComposer(_ context.Context) error {
	f.calls = append(f.calls, "focusComposer")
	return nil
}

func (f *fakePlatform) pasteClipboard(_ context.Context) error {
	f.calls = append(f.calls, "pasteClipboard")
	return f.pasteErr
}

func (f *fakePlatform) pressEnter(_ context.Context) error {
	f.calls = append(f.calls, "pressEnter")
	return nil
}

func newTestActuator(plat *fakePlatform) (*Actuator, *string) {
	var clipped string
	a := &Actuator{
		plat:          plat,
		workspaceName: "myws",
		writeClipboard: func(s string) error {
			clipped = s
			return nil
		},
	}
	return a, &clipped
}

func TestPerformRunsStepsInOrder(t *testing.T) {
	plat := &fakePlatform{}
	a, clipped := newTestActuator(plat)

	if err := a.Perform(context.Background(), "conv1", "hello", "thr1"); err != nil {
		t.Fatalf("Perform failed: %v", err)
	}

	want := []string{"focusWindow:myws", "openConversation:conv1", "focusComposer", "pasteClipboard", "pressEnter"}
	if len(plat.calls) != len(want) {
		t.Fatalf("got calls %v, want %v", plat.calls, want)
	}
	for i, c := range want {
		if plat.calls[i] != c {
			t.Fatalf("step %d: got %q, want %q", i, plat.calls[i], c)
		}
	}
	if *clipped == "" {
		t.Fatal("expected clipboard to be staged before paste")
	}
}

func TestPerformStopsOnFocusError(t *testing.T) {
	plat := &fakePlatform{focusErr: errTest("denied")}
	a, _ := newTestActuator(plat)

	err := a.Perform(context.Background(), "conv1", "hello", "")
	if err == nil {
		t.Fatal("expected an error from focusWindow to propagate")
	}
	if len(plat.calls) != 1 {
		t.Fatalf("expected to stop after focusWindow, got calls %v", plat.calls)
	}
}

func TestPerformStopsOnPasteError(t *testing.T) {
	plat := &fakePlatform{pasteErr: errTest("denied")}
	a, _ := newTestActuator(plat)

	err := a.Perform(context.Background(), "conv1", "hello", "")
	if err == nil {
		t.Fatal("expected an error from pasteClipboard to propagate")
	}
	if len(plat.calls) != 4 {
		t.Fatalf("expected to stop after pasteClipboard, got calls %v", plat.calls)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestStageTextWithThreadIDAddsDirective(t *testing.T) {
	got := stageText("hello", "thr1")
	if got == "hello" {
		t.Fatal("expected directive block to be prepended when threadID is set")
	}
}

func TestStageTextWithoutThreadIDIsUnchanged(t *testing.T) {
	got := stageText("hello", "")
	if got != "hello" {
		t.Fatalf("got %q, want unchanged text", got)
	}
}
