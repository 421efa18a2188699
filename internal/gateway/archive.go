package gateway

import (
	"sync"
	"time"
)

// activityEntry is one Activity Record: the last observed local activity
// timestamp for a thread, plus the autoArchiveDuration that was in effect
// at that moment.
//
// Open-question decision (spec.md §9, "auto-archive-duration drift"): a
// thread's autoArchiveDuration can change mid-life, desynchronizing the
// manual-vs-inactivity threshold from what was true when activity was last
// recorded. We cache the duration alongside the timestamp and use the
// cached value for the archive classification in handleThreadUpdate,
// falling back to the thread's current duration only when no cached value
// exists yet (e.g. immediately after a daemon restart).
type activityEntry struct {
	lastActivity        time.Time
	autoArchiveDuration time.Duration
}

// activityTracker holds the Activity Record and Explicit-Archive Set.
type activityTracker struct {
	mu               sync.Mutex
	byThread         map[string]activityEntry
	explicitArchived map[string]bool
	archived         map[string]bool // observed via ForumTopicClosed/Reopened service messages
}

func newActivityTracker() *activityTracker {
	return &activityTracker{
		byThread:         make(map[string]activityEntry),
		explicitArchived: make(map[string]bool),
		archived:         make(map[string]bool),
	}
}

// setArchived records an observed archive-state transition.
func (a *activityTracker) setArchived(threadID string, archived bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived[threadID] = archived
}

// archivedState returns the last-observed archive state for threadID, or
// ok=false if it has never been observed (spec.md §4.1 tri-state).
func (a *activityTracker) archivedState(threadID string) (archived bool, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	archived, ok = a.archived[threadID]
	return archived, ok
}

// touch records activity with an explicit autoArchiveDuration (used on
// thread creation, when the duration is known authoritatively).
func (a *activityTracker) touch(threadID string, autoArchiveDuration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byThread[threadID] = activityEntry{lastActivity: time.Now(), autoArchiveDuration: autoArchiveDuration}
}

// touchKeepDuration records activity, preserving any previously cached
// autoArchiveDuration (falling back to the package default if none exists).
func (a *activityTracker) touchKeepDuration(threadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dur := defaultAutoArchiveDuration
	if prev, ok := a.byThread[threadID]; ok {
		dur = prev.autoArchiveDuration
	}
	a.byThread[threadID] = activityEntry{lastActivity: time.Now(), autoArchiveDuration: dur}
}

func (a *activityTracker) lastActivity(threadID string) (activityEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.byThread[threadID]
	return e, ok
}

func (a *activityTracker) setExplicitArchived(threadID string, v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v {
		a.explicitArchived[threadID] = true
	} else {
		delete(a.explicitArchived, threadID)
	}
}

func (a *activityTracker) isExplicitArchived(threadID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.explicitArchived[threadID]
}

// classifyArchive implements spec.md §4.1's "thread update handling":
// archived transitioned off→on in a mapped thread. Uses
// autoArchiveDuration − 5 minutes as the threshold; if time since local
// activity is less than that threshold, the archive was manual (explicit);
// otherwise it is inactivity-driven (no flag set).
func (a *activityTracker) classifyArchive(threadID string, currentAutoArchiveDuration time.Duration) (manual bool) {
	entry, ok := a.lastActivity(threadID)
	dur := currentAutoArchiveDuration
	if ok {
		dur = entry.autoArchiveDuration
	}
	threshold := dur - 5*time.Minute
	if threshold < 0 {
		threshold = 0
	}

	var sinceActivity time.Duration
	if ok {
		sinceActivity = time.Since(entry.lastActivity)
	} else {
		sinceActivity = threshold // unknown activity: treat as right at the boundary, which classifies as inactivity
	}

	manual = sinceActivity < threshold
	if manual {
		a.setExplicitArchived(threadID, true)
	}
	return manual
}
