package namesync

import (
	"errors"
	"testing"
	"time"

	"github.com/leonletto/discordbridge/internal/registry"
)

type fakeStore struct {
	names map[string]string
}

func (f *fakeStore) GetName(id string) (string, error) { return f.names[id], nil }

type fakeGateway struct {
	renamed map[string]string
	err     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{renamed: make(map[string]string)}
}

func (f *fakeGateway) RenameThread(_ int64, threadID, name, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.renamed[threadID] = name
	return nil
}

type fakeRegistry struct {
	mappings []registry.Mapping
}

func (f *fakeRegistry) All() []registry.Mapping { return f.mappings }

func TestSyncOneRenamesOnNameChange(t *testing.T) {
	store := &fakeStore{names: map[string]string{"conv1": "new name"}}
	gw := newFakeGateway()
	reg := &fakeRegistry{mappings: []registry.Mapping{{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}}}
	w := New(store, gw, reg, 1, "/tmp/state.vscdb")
	w.cache["conv1"] = "old name"

	w.syncOne(reg.mappings[0])

	if gw.renamed["thr1"] != "new name" {
		t.Fatalf("got %q, want rename to 'new name'", gw.renamed["thr1"])
	}
	if w.cache["conv1"] != "new name" {
		t.Fatalf("cache = %q, want 'new name'", w.cache["conv1"])
	}
}

func TestSyncOneSkipsWhenNameUnchanged(t *testing.T) {
	store := &fakeStore{names: map[string]string{"conv1": "same"}}
	gw := newFakeGateway()
	reg := &fakeRegistry{mappings: []registry.Mapping{{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}}}
	w := New(store, gw, reg, 1, "/tmp/state.vscdb")
	w.cache["conv1"] = "same"

	w.syncOne(reg.mappings[0])

	if len(gw.renamed) != 0 {
		t.Fatal("expected no rename when name is unchanged")
	}
}

func TestSyncOneRenamesPlaceholder(t *testing.T) {
	store := &fakeStore{names: map[string]string{"conv1": "real name"}}
	gw := newFakeGateway()
	reg := &fakeRegistry{mappings: []registry.Mapping{{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}}}
	w := New(store, gw, reg, 1, "/tmp/state.vscdb")
	w.cache["conv1"] = placeholderName

	w.syncOne(reg.mappings[0])

	if gw.renamed["thr1"] != "real name" {
		t.Fatal("expected placeholder name to be replaced")
	}
}

func TestSyncOneSkipsStaleEntries(t *testing.T) {
	store := &fakeStore{names: map[string]string{"conv1": "new name"}}
	gw := newFakeGateway()
	reg := &fakeRegistry{mappings: []registry.Mapping{{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}}}
	w := New(store, gw, reg, 1, "/tmp/state.vscdb")
	w.cache["conv1"] = staleSentinel + "thr1"

	w.syncOne(reg.mappings[0])

	if len(gw.renamed) != 0 {
		t.Fatal("expected stale entries to never be renamed")
	}
}

func TestSyncOneMarksStaleOnRenameFailureButUpdatesCachedName(t *testing.T) {
	store := &fakeStore{names: map[string]string{"conv1": "new name"}}
	gw := newFakeGateway()
	gw.err = errors.New("thread not found")
	reg := &fakeRegistry{mappings: []registry.Mapping{{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()}}}
	w := New(store, gw, reg, 1, "/tmp/state.vscdb")
	w.cache["conv1"] = "old name"

	w.syncOne(reg.mappings[0])

	if !isStale(w.cache["conv1"]) {
		t.Fatalf("expected cache entry to be marked stale, got %q", w.cache["conv1"])
	}
	if w.cache["conv1"] != staleSentinel+"new name" {
		t.Fatalf("expected stale cache entry to carry the new name, got %q", w.cache["conv1"])
	}
}

func TestSeedMarksUnfetchableThreadsStale(t *testing.T) {
	store := &fakeStore{}
	gw := newFakeGateway()
	reg := &fakeRegistry{mappings: []registry.Mapping{
		{ConversationID: "conv1", ThreadID: "thr1", CreatedAt: time.Now()},
		{ConversationID: "conv2", ThreadID: "thr2", CreatedAt: time.Now()},
	}}
	w := New(store, gw, reg, 1, "/tmp/state.vscdb")

	w.Seed(func(threadID string) (string, bool) {
		if threadID == "thr1" {
			return "thread one", true
		}
		return "", false
	})

	if w.cache["conv1"] != "thread one" {
		t.Fatalf("conv1 cache = %q, want 'thread one'", w.cache["conv1"])
	}
	if !isStale(w.cache["conv2"]) {
		t.Fatalf("conv2 cache = %q, want stale sentinel", w.cache["conv2"])
	}
}
