package gateway

import (
	"strings"
	"sync"
	"time"

	"github.com/leonletto/discordbridge/internal/config"
)

// activeConversationRecord is the Active Discord Conversation entry: the
// last user id (and when) that wrote in-thread, consumed once by the next
// agent post under messagePingMode=on_recent_user_message.
type activeConversationRecord struct {
	userID string
	at     time.Time
}

type pingTracker struct {
	mu   sync.Mutex
	byThread map[string]activeConversationRecord
}

func newPingTracker() *pingTracker {
	return &pingTracker{byThread: make(map[string]activeConversationRecord)}
}

func (p *pingTracker) record(threadID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byThread[threadID] = activeConversationRecord{userID: userID, at: time.Now()}
}

// consume returns and removes the record for threadID, if present.
func (p *pingTracker) consume(threadID string) (activeConversationRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.byThread[threadID]
	if ok {
		delete(p.byThread, threadID)
	}
	return rec, ok
}

// ComputePingPrefix implements spec.md §4.7's ping-prefix policy. It must
// be called exactly once per postToThread call, before the post completes,
// because on_recent_user_message consumes the Active Discord Conversation
// record as a side effect.
func ComputePingPrefix(mode config.MessagePingMode, inviteUserIDs []string, threadID string, pings *pingTracker) string {
	switch mode {
	case config.PingAlways:
		mentions := make([]string, len(inviteUserIDs))
		for i, id := range inviteUserIDs {
			mentions[i] = "<@" + id + ">"
		}
		return strings.Join(mentions, " ")
	case config.PingOnRecentUserMessage:
		rec, ok := pings.consume(threadID)
		if !ok {
			return ""
		}
		return "<@" + rec.userID + ">"
	default:
		return ""
	}
}
