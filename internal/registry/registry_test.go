package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mappings.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return r
}

func TestPutAndGet(t *testing.T) {
	r := newTestRegistry(t)

	m := Mapping{ConversationID: "conv1", ThreadID: "thr1", WorkspaceLabel: "ws", CreatedAt: time.Now()}
	if err := r.Put(m); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := r.Get("conv1")
	if !ok {
		t.Fatal("Get: mapping not found")
	}
	if got.ThreadID != "thr1" {
		t.Fatalf("ThreadID = %q, want thr1", got.ThreadID)
	}
}

func TestGetByThread(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Put(Mapping{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := r.GetByThread("thr1")
	if !ok {
		t.Fatal("GetByThread: mapping not found")
	}
	if got.ConversationID != "conv1" {
		t.Fatalf("ConversationID = %q, want conv1", got.ConversationID)
	}

	if _, ok := r.GetByThread("nonexistent"); ok {
		t.Fatal("GetByThread: expected no match")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.json")
	r1, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := r1.Put(Mapping{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	r2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open failed: %v", err)
	}
	got, ok := r2.Get("conv1")
	if !ok {
		t.Fatal("re-Open: mapping not found after reload")
	}
	if got.ThreadID != "thr1" {
		t.Fatalf("ThreadID = %q, want thr1", got.ThreadID)
	}
}

func TestMarkClaimedIsIdempotentAndMonotonic(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Put(Mapping{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := r.MarkClaimed("conv1"); err != nil {
		t.Fatalf("MarkClaimed failed: %v", err)
	}
	first, _ := r.Get("conv1")
	if first.ClaimedAt == nil {
		t.Fatal("ClaimedAt should be set after MarkClaimed")
	}

	time.Sleep(2 * time.Millisecond)
	if err := r.MarkClaimed("conv1"); err != nil {
		t.Fatalf("second MarkClaimed failed: %v", err)
	}
	second, _ := r.Get("conv1")
	if !second.ClaimedAt.Equal(*first.ClaimedAt) {
		t.Fatalf("ClaimedAt changed on repeat MarkClaimed: %v -> %v", first.ClaimedAt, second.ClaimedAt)
	}
}

func TestMostRecentUnclaimedWithinPicksNewest(t *testing.T) {
	r := newTestRegistry(t)
	older := Mapping{ConversationID: "old", ThreadID: "t-old", CreatedAt: time.Now().Add(-5 * time.Second)}
	newer := Mapping{ConversationID: "new", ThreadID: "t-new", CreatedAt: time.Now()}
	if err := r.Put(older); err != nil {
		t.Fatal(err)
	}
	if err := r.Put(newer); err != nil {
		t.Fatal(err)
	}

	got, ok := r.MostRecentUnclaimedWithin(time.Minute)
	if !ok {
		t.Fatal("expected a match")
	}
	if got.ConversationID != "new" {
		t.Fatalf("got %q, want newest (new)", got.ConversationID)
	}
}

func TestMostRecentUnclaimedWithinExcludesClaimedAndStale(t *testing.T) {
	r := newTestRegistry(t)
	stale := Mapping{ConversationID: "stale", ThreadID: "t-stale", CreatedAt: time.Now().Add(-time.Hour)}
	if err := r.Put(stale); err != nil {
		t.Fatal(err)
	}
	claimed := Mapping{ConversationID: "claimed", ThreadID: "t-claimed", CreatedAt: time.Now()}
	if err := r.Put(claimed); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkClaimed("claimed"); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.MostRecentUnclaimedWithin(30 * time.Second); ok {
		t.Fatal("expected no match: only mapping within freshness window is already claimed")
	}
}

type fakePendingComposer struct {
	convID, name, label string
	ok                   bool
}

func (f fakePendingComposer) Current() (string, string, string, bool) {
	return f.convID, f.name, f.label, f.ok
}

type fakeCreator struct {
	created Mapping
	err     error
}

func (f *fakeCreator) CreateThreadForPending(_ context.Context, conversationID, name, label string) (Mapping, error) {
	if f.err != nil {
		return Mapping{}, f.err
	}
	f.created = Mapping{ConversationID: conversationID, ThreadID: "thr-" + conversationID, WorkspaceLabel: label, CreatedAt: time.Now()}
	return f.created, nil
}

func TestResolvePrefersPendingComposer(t *testing.T) {
	r := newTestRegistry(t)
	// An unclaimed mapping also exists, but the pending composer path wins.
	if err := r.Put(Mapping{ConversationID: "other", ThreadID: "t-other", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	pending := fakePendingComposer{convID: "pending1", name: "", label: "myws", ok: true}
	creator := &fakeCreator{}

	result, err := r.Resolve(context.Background(), pending, creator)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Method != MethodWaitedForNew {
		t.Fatalf("Method = %q, want %q", result.Method, MethodWaitedForNew)
	}
	if result.Mapping.ConversationID != "pending1" {
		t.Fatalf("ConversationID = %q, want pending1", result.Mapping.ConversationID)
	}

	claimed, ok := r.Get("pending1")
	if !ok || claimed.ClaimedAt == nil {
		t.Fatal("pending1 should be claimed after Resolve")
	}
}

func TestResolveFallsBackToLatestUnclaimed(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Put(Mapping{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	pending := fakePendingComposer{ok: false}
	creator := &fakeCreator{}

	result, err := r.Resolve(context.Background(), pending, creator)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Method != MethodLatestUnclaimed {
		t.Fatalf("Method = %q, want %q", result.Method, MethodLatestUnclaimed)
	}
	if result.Mapping.ConversationID != "conv1" {
		t.Fatalf("ConversationID = %q, want conv1", result.Mapping.ConversationID)
	}
}

func TestResolveErrorsWhenNothingAppears(t *testing.T) {
	r := newTestRegistry(t)
	pending := fakePendingComposer{ok: false}
	creator := &fakeCreator{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := r.Resolve(ctx, pending, creator); err == nil {
		t.Fatal("expected an error when no unclaimed mapping ever appears")
	}
}

func TestResolvePropagatesCreatorError(t *testing.T) {
	r := newTestRegistry(t)
	pending := fakePendingComposer{convID: "pending1", ok: true}
	creator := &fakeCreator{err: errors.New("chat service unavailable")}

	if _, err := r.Resolve(context.Background(), pending, creator); err == nil {
		t.Fatal("expected Resolve to propagate the creator's error")
	}
}
