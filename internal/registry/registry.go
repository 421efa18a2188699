// Package registry persists the conversation↔thread mapping and implements
// the "which thread belongs to this caller" resolution protocol.
//
// Grounded on the teacher's internal/daemon.WritePIDFileJSON/ReadPIDFileJSON
// atomic JSON read/write idiom, generalized from a single-record file to a
// keyed collection with claim state.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leonletto/discordbridge/internal/identity"
)

// Mapping binds one IDE conversation id to one chat-service thread id.
type Mapping struct {
	ConversationID string     `json:"conversationId"`
	ThreadID       string     `json:"threadId"`
	WorkspaceLabel string     `json:"workspaceLabel"`
	CreatedAt      time.Time  `json:"createdAt"`
	ClaimedAt      *time.Time `json:"claimedAt,omitempty"`
}

// ResolveMethod names which strategy resolve() used to produce a result.
type ResolveMethod string

const (
	MethodWaitedForNew     ResolveMethod = "waited_for_new"
	MethodLatestUnclaimed  ResolveMethod = "latest_unclaimed"
)

// ResolveResult is the outcome of Resolve().
type ResolveResult struct {
	Mapping Mapping
	Method  ResolveMethod
}

// DefaultFreshness is the window mostRecentUnclaimedWithin / resolve() use
// to keep an agent from claiming a mapping orphaned by a previous session.
const DefaultFreshness = 30 * time.Second

// PendingComposerCreator is the subset of the Chat Watcher / Chat Gateway
// that resolve() needs to force-create a thread for a Pending Composer.
type PendingComposerCreator interface {
	// CreateThreadForPending creates a thread for the given conversation id
	// using name if non-empty, else the "New conversation" placeholder, and
	// returns the resulting mapping.
	CreateThreadForPending(ctx context.Context, conversationID, name, workspaceLabel string) (Mapping, error)
}

// PendingComposer identifies the single at-most-one nameless conversation
// currently awaiting a name, shared with the Chat Watcher.
type PendingComposer interface {
	// Current returns the pending conversation id and its current IDE name
	// (possibly empty), or ok=false if no composer is pending.
	Current() (conversationID, name, workspaceLabel string, ok bool)
}

// Registry is the persistent, atomically-updated mapping store.
type Registry struct {
	mu   sync.Mutex
	path string
	byID map[string]*Mapping // keyed by conversationId
}

// Open loads (or creates) the registry file at path.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, byID: make(map[string]*Mapping)}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

type fileFormat struct {
	Mappings []Mapping `json:"mappings"`
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path) //nolint:gosec // G304 - path is the daemon's own state directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry file: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("parse registry file: %w", err)
	}
	for i := range ff.Mappings {
		m := ff.Mappings[i]
		r.byID[m.ConversationID] = &m
	}
	return nil
}

// saveLocked persists the current state, atomically, under r.mu.
func (r *Registry) saveLocked() error {
	ff := fileFormat{Mappings: make([]Mapping, 0, len(r.byID))}
	for _, m := range r.byID {
		ff.Mappings = append(ff.Mappings, *m)
	}
	sort.Slice(ff.Mappings, func(i, j int) bool {
		return ff.Mappings[i].CreatedAt.Before(ff.Mappings[j].CreatedAt)
	})

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize registry file: %w", err)
	}
	return nil
}

// Get returns the mapping for conversationID, if any.
func (r *Registry) Get(conversationID string) (Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[conversationID]
	if !ok {
		return Mapping{}, false
	}
	return *m, true
}

// GetByThread returns the mapping for threadID, if any (linear scan — the
// registry is sized for at most a few hundred mappings per workspace).
func (r *Registry) GetByThread(threadID string) (Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.ThreadID == threadID {
			return *m, true
		}
	}
	return Mapping{}, false
}

// Put inserts or replaces a mapping and persists the registry.
//
// Invariant I1 (spec.md §3): at most one mapping per conversation id and
// per thread id. Put enforces the conversation-id half directly (it's the
// map key); callers creating new mappings are responsible for not reusing
// a thread id already bound elsewhere (the Chat Watcher only ever creates
// fresh threads, so this never arises in practice).
func (r *Registry) Put(m Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := m
	r.byID[m.ConversationID] = &cp
	return r.saveLocked()
}

// All returns a snapshot of every mapping currently held, in no particular
// order. Used by the Name Sync Watcher to enumerate mappings each pass.
func (r *Registry) All() []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Mapping, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, *m)
	}
	return out
}

// MostRecentUnclaimedWithin scans for unclaimed mappings created within the
// freshness window and returns the newest one.
func (r *Registry) MostRecentUnclaimedWithin(freshness time.Duration) (Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mostRecentUnclaimedWithinLocked(freshness)
}

func (r *Registry) mostRecentUnclaimedWithinLocked(freshness time.Duration) (Mapping, bool) {
	cutoff := time.Now().Add(-freshness)
	var best *Mapping
	for _, m := range r.byID {
		if m.ClaimedAt != nil {
			continue
		}
		if m.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			best = m
		}
	}
	if best == nil {
		return Mapping{}, false
	}
	return *best, true
}

// MarkClaimed idempotently sets claimedAt to now iff it was previously
// absent (invariant I2: claimed-at is monotonic, never cleared once set).
func (r *Registry) MarkClaimed(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[conversationID]
	if !ok {
		return fmt.Errorf("no mapping for conversation %s", conversationID)
	}
	if m.ClaimedAt != nil {
		return nil
	}
	now := time.Now()
	m.ClaimedAt = &now
	return r.saveLocked()
}

// WaitForUnclaimedWithin polls MostRecentUnclaimedWithin until a match
// appears or ctx/maxWait expires.
func (r *Registry) WaitForUnclaimedWithin(ctx context.Context, maxWait, poll, freshness time.Duration) (Mapping, bool) {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	if m, ok := r.MostRecentUnclaimedWithin(freshness); ok {
		return m, true
	}
	for {
		select {
		case <-ctx.Done():
			return Mapping{}, false
		case <-ticker.C:
			if m, ok := r.MostRecentUnclaimedWithin(freshness); ok {
				return m, true
			}
			if time.Now().After(deadline) {
				return Mapping{}, false
			}
		}
	}
}

// Resolve implements the three-strategy "which thread belongs to this
// caller" protocol (spec.md §4.5).
func (r *Registry) Resolve(ctx context.Context, pending PendingComposer, creator PendingComposerCreator) (ResolveResult, error) {
	if convID, name, label, ok := pending.Current(); ok {
		m, err := creator.CreateThreadForPending(ctx, convID, name, label)
		if err != nil {
			return ResolveResult{}, fmt.Errorf("force-create thread for pending composer: %w", err)
		}
		if err := r.MarkClaimed(m.ConversationID); err != nil {
			return ResolveResult{}, err
		}
		log.Debug().Str("conversationId", m.ConversationID).Msg("resolve: waited_for_new via pending composer")
		return ResolveResult{Mapping: m, Method: MethodWaitedForNew}, nil
	}

	if m, ok := r.MostRecentUnclaimedWithin(DefaultFreshness); ok {
		if err := r.MarkClaimed(m.ConversationID); err != nil {
			return ResolveResult{}, err
		}
		log.Debug().Str("conversationId", m.ConversationID).Msg("resolve: latest_unclaimed")
		return ResolveResult{Mapping: m, Method: MethodLatestUnclaimed}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if m, ok := r.WaitForUnclaimedWithin(waitCtx, 8*time.Second, 200*time.Millisecond, DefaultFreshness); ok {
		if err := r.MarkClaimed(m.ConversationID); err != nil {
			return ResolveResult{}, err
		}
		log.Debug().Str("conversationId", m.ConversationID).Msg("resolve: waited_for_new via poll")
		return ResolveResult{Mapping: m, Method: MethodWaitedForNew}, nil
	}

	return ResolveResult{}, fmt.Errorf("resolve: no unclaimed mapping appeared within wait window")
}

// NewMappingID returns a fresh, sortable mapping id for callers that want
// to key a mapping independently of its conversation id (e.g. for logging).
func NewMappingID() string {
	return identity.GenerateMappingID()
}
