// Package watcher implements the Chat Watcher: the single cooperative
// reconciliation loop ticking ~1s that detects new IDE conversations,
// creates threads for them, and mirrors archive/unarchive state both ways.
//
// Grounded on the teacher's internal/sync.SyncLoop: ticker + manual-trigger
// channel + a single in-flight run, generalized from "fetch/merge/push git"
// to "reconcile conversations against threads," and its reentrancy guard
// (here a non-blocking mutex-like semaphore instead of the teacher's
// start/stop channel pair, since the watcher needs to *skip* an overlapping
// tick rather than queue it).
package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leonletto/discordbridge/internal/config"
	"github.com/leonletto/discordbridge/internal/convstore"
	"github.com/leonletto/discordbridge/internal/registry"
)

const (
	tickInterval        = time.Second
	inactivityReopenEvery = 30 // ticks
)

// Store is the subset of convstore.Store the watcher needs.
type Store interface {
	GetAllIDs() ([]string, error)
	GetName(id string) (string, error)
	GetArchivedIDs() (map[string]bool, error)
	GetActiveRankedByRecency() ([]convstore.RankedConversation, error)
}

// Gateway is the subset of gateway.Client the watcher drives. CreateThread
// returns the resulting registry.Mapping directly rather than the
// gateway package's richer CreateThreadResult, so this package need not
// import gateway (callers adapt gateway.Client.CreateThread to this shape
// when wiring the daemon together).
type Gateway interface {
	CreateThread(conversationID, workspaceLabel, name string, inviteUserIDs []string, notifyPing bool) (registry.Mapping, error)
	ArchiveThread(chatID int64, threadID string) error
	UnarchiveThread(chatID int64, threadID string) error
	IsExplicitArchived(threadID string) bool
	ClearExplicitArchive(threadID string)
	EnsureActiveThreadsOpen(chatID int64, trulyActive []registry.Mapping, isExplicitArchived func(string) bool, isArchived func(string) (bool, bool)) (int, error)
	IsThreadArchived(threadID string) (archived, known bool)
}

// Watcher is the Chat Watcher.
type Watcher struct {
	store    Store
	gw       Gateway
	reg      *registry.Registry
	chatID   int64
	cfg      *config.Config

	running int32 // atomic reentrancy guard

	mu                sync.Mutex
	seen              map[string]bool
	processedArchived map[string]bool
	pendingConvID     string
	pendingLabel      string

	tick int

	manualTrigger chan struct{}
	stop          chan struct{}
	stopped       chan struct{}
}

// New constructs a Watcher. chatID is the currently selected channel's chat id.
func New(store Store, gw Gateway, reg *registry.Registry, chatID int64, cfg *config.Config) *Watcher {
	return &Watcher{
		store:             store,
		gw:                gw,
		reg:                reg,
		chatID:             chatID,
		cfg:                cfg,
		seen:               make(map[string]bool),
		processedArchived:  make(map[string]bool),
		manualTrigger:      make(chan struct{}, 1),
		stop:               make(chan struct{}),
		stopped:            make(chan struct{}),
	}
}

// Start begins the ~1s tick loop.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop halts the loop and waits for the in-flight tick, if any, to finish.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.stopped
}

// Trigger requests an out-of-band tick (non-blocking).
func (w *Watcher) Trigger() {
	select {
	case w.manualTrigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.runTick()
		case <-w.manualTrigger:
			w.runTick()
		}
	}
}

// runTick applies the reentrancy guard and runs one reconciliation pass.
func (w *Watcher) runTick() {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return // previous tick still in flight; skip this one entirely
	}
	defer atomic.StoreInt32(&w.running, 0)

	w.mu.Lock()
	w.tick++
	tickNum := w.tick
	w.mu.Unlock()

	if err := w.detectNewConversations(); err != nil {
		log.Error().Err(err).Msg("chat watcher: detect new conversations")
	}
	if err := w.processPendingComposer(); err != nil {
		log.Error().Err(err).Msg("chat watcher: process pending composer")
	}
	if err := w.mirrorArchiveIDEToChat(); err != nil {
		log.Error().Err(err).Msg("chat watcher: mirror archive IDE->chat")
	}
	if err := w.mirrorUnarchiveIDEToChat(); err != nil {
		log.Error().Err(err).Msg("chat watcher: mirror unarchive IDE->chat")
	}
	if tickNum%inactivityReopenEvery == 0 {
		if err := w.reopenTrulyActive(); err != nil {
			log.Error().Err(err).Msg("chat watcher: inactivity reopener")
		}
	}
}

// detectNewConversations is the slow-path detection of spec.md §4.3 step 2
// (the fast-path "currently selected conversations" hook is IDE-specific
// and has no stand-in in this adapter's scope; slow-path alone satisfies
// the invariant that every new id is eventually observed).
func (w *Watcher) detectNewConversations() error {
	ids, err := w.store.GetAllIDs()
	if err != nil {
		if err == convstore.ErrLocked {
			return nil // treat as "no data this tick"
		}
		return err
	}

	for _, id := range ids {
		w.mu.Lock()
		alreadySeen := w.seen[id]
		w.mu.Unlock()
		if alreadySeen {
			continue
		}

		w.mu.Lock()
		w.seen[id] = true
		w.mu.Unlock()

		name, err := w.store.GetName(id)
		if err != nil {
			return err
		}

		if name != "" {
			if _, err := w.createThreadFor(id, name); err != nil {
				return err
			}
			continue
		}

		w.mu.Lock()
		if w.pendingConvID != "" && w.pendingConvID != id {
			log.Info().Str("replaced", w.pendingConvID).Str("with", id).Msg("chat watcher: pending composer replaced")
		}
		w.pendingConvID = id
		w.mu.Unlock()
	}
	return nil
}

func (w *Watcher) processPendingComposer() error {
	w.mu.Lock()
	convID := w.pendingConvID
	w.mu.Unlock()
	if convID == "" {
		return nil
	}

	name, err := w.store.GetName(convID)
	if err != nil {
		if err == convstore.ErrLocked {
			return nil
		}
		return err
	}
	if name == "" {
		return nil
	}

	if _, err := w.createThreadFor(convID, name); err != nil {
		return err
	}
	w.mu.Lock()
	if w.pendingConvID == convID {
		w.pendingConvID = ""
	}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) createThreadFor(conversationID, name string) (registry.Mapping, error) {
	notify := w.cfg.Host.ThreadCreationNotify == config.NotifyPing
	m, err := w.gw.CreateThread(conversationID, w.cfg.WorkspaceName, name, w.cfg.Host.InviteUserIDs, notify)
	if err != nil {
		return registry.Mapping{}, err
	}
	if err := w.reg.Put(m); err != nil {
		return registry.Mapping{}, err
	}
	return m, nil
}

// mirrorArchiveIDEToChat implements spec.md §4.3 step 5.
func (w *Watcher) mirrorArchiveIDEToChat() error {
	archivedIDs, err := w.store.GetArchivedIDs()
	if err != nil {
		if err == convstore.ErrLocked {
			return nil
		}
		return err
	}

	for convID := range archivedIDs {
		w.mu.Lock()
		processed := w.processedArchived[convID]
		w.mu.Unlock()
		if processed {
			continue
		}

		m, ok := w.reg.Get(convID)
		if !ok {
			continue
		}
		if err := w.gw.ArchiveThread(w.chatID, m.ThreadID); err != nil {
			return err
		}
		w.mu.Lock()
		w.processedArchived[convID] = true
		w.mu.Unlock()
	}
	return nil
}

// mirrorUnarchiveIDEToChat implements spec.md §4.3 step 6.
func (w *Watcher) mirrorUnarchiveIDEToChat() error {
	archivedIDs, err := w.store.GetArchivedIDs()
	if err != nil {
		if err == convstore.ErrLocked {
			return nil
		}
		return err
	}

	w.mu.Lock()
	var noLongerArchived []string
	for convID := range w.processedArchived {
		if !archivedIDs[convID] {
			noLongerArchived = append(noLongerArchived, convID)
		}
	}
	w.mu.Unlock()

	for _, convID := range noLongerArchived {
		m, ok := w.reg.Get(convID)
		if !ok {
			continue
		}
		w.gw.ClearExplicitArchive(m.ThreadID)
		if err := w.gw.UnarchiveThread(w.chatID, m.ThreadID); err != nil {
			return err
		}
		w.mu.Lock()
		delete(w.processedArchived, convID)
		w.mu.Unlock()
	}
	return nil
}

// reopenTrulyActive implements spec.md §4.3 step 7.
func (w *Watcher) reopenTrulyActive() error {
	ranked, err := w.store.GetActiveRankedByRecency()
	if err != nil {
		if err == convstore.ErrLocked {
			return nil
		}
		return err
	}

	now := time.Now()
	hours := time.Duration(w.cfg.Host.ImplicitArchiveHours) * time.Hour
	var trulyActive []registry.Mapping
	for _, rc := range ranked {
		isTrulyActive := rc.Position < w.cfg.Host.ImplicitArchiveCount
		if !isTrulyActive && rc.LastUpdatedAt != 0 {
			lastUpdated := time.UnixMilli(rc.LastUpdatedAt)
			isTrulyActive = now.Sub(lastUpdated) < hours
		}
		if !isTrulyActive {
			continue
		}
		if m, ok := w.reg.Get(rc.ID); ok {
			trulyActive = append(trulyActive, m)
		}
	}

	_, err = w.gw.EnsureActiveThreadsOpen(w.chatID, trulyActive, w.gw.IsExplicitArchived, w.gw.IsThreadArchived)
	return err
}

// Current implements registry.PendingComposer.
func (w *Watcher) Current() (conversationID, name, workspaceLabel string, ok bool) {
	w.mu.Lock()
	convID := w.pendingConvID
	w.mu.Unlock()
	if convID == "" {
		return "", "", "", false
	}
	name, _ = w.store.GetName(convID)
	return convID, name, w.cfg.WorkspaceName, true
}

// CreateThreadForPending implements registry.PendingComposerCreator: force
// thread creation for the pending composer, using the IDE name if present,
// else the "New conversation" placeholder (the Name Sync Watcher renames it
// once the IDE assigns a real name).
func (w *Watcher) CreateThreadForPending(_ context.Context, conversationID, name, _ string) (registry.Mapping, error) {
	if name == "" {
		name = "New conversation"
	}
	m, err := w.createThreadFor(conversationID, name)
	if err != nil {
		return registry.Mapping{}, err
	}
	w.mu.Lock()
	if w.pendingConvID == conversationID {
		w.pendingConvID = ""
	}
	w.mu.Unlock()
	return m, nil
}
