package gateway

import (
	"strings"
	"testing"
	"time"

	"github.com/leonletto/discordbridge/internal/config"
)

func TestIsConnectedFalseBeforeConnect(t *testing.T) {
	c := New(nil)
	if c.IsConnected() {
		t.Fatal("expected a freshly constructed client to report not connected")
	}
}

func TestNormalizeChannelName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "MyChannel", "mychannel"},
		{"collapses non-alnum", "my  cool!! channel", "my-cool-channel"},
		{"caps at 100", strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeChannelName(tt.in)
			if got != tt.want {
				t.Errorf("normalizeChannelName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitIntoChunksRespectsLimit(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := splitIntoChunks(text, maxChunkCodepoints)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > maxChunkCodepoints {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
	}
}

func TestSplitIntoChunksShortTextIsOneChunk(t *testing.T) {
	chunks := splitIntoChunks("hello world", maxChunkCodepoints)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("got %v, want single chunk", chunks)
	}
}

func TestSplitIntoChunksEmptyText(t *testing.T) {
	chunks := splitIntoChunks("", maxChunkCodepoints)
	if len(chunks) != 0 {
		t.Fatalf("got %v, want no chunks for empty text", chunks)
	}
}

func TestTruncateCodepoints(t *testing.T) {
	got := truncateCodepoints(strings.Repeat("x", 150), 100)
	if len([]rune(got)) != 100 {
		t.Fatalf("got length %d, want 100", len([]rune(got)))
	}
}

func TestClassifyArchiveManualWithinThreshold(t *testing.T) {
	tr := newActivityTracker()
	tr.touch("thr1", time.Hour) // threshold = 55min

	manual := tr.classifyArchive("thr1", time.Hour)
	if !manual {
		t.Fatal("expected manual archive classification for recent activity")
	}
	if !tr.isExplicitArchived("thr1") {
		t.Fatal("expected explicit-archive flag set for manual archive")
	}
}

func TestClassifyArchiveInactivityBeyondThreshold(t *testing.T) {
	tr := newActivityTracker()
	tr.mu.Lock()
	tr.byThread["thr1"] = activityEntry{lastActivity: time.Now().Add(-2 * time.Hour), autoArchiveDuration: time.Hour}
	tr.mu.Unlock()

	manual := tr.classifyArchive("thr1", time.Hour)
	if manual {
		t.Fatal("expected inactivity archive classification for stale activity")
	}
	if tr.isExplicitArchived("thr1") {
		t.Fatal("expected no explicit-archive flag for inactivity archive")
	}
}

func TestClassifyArchiveUsesCachedDurationNotCurrent(t *testing.T) {
	tr := newActivityTracker()
	// Cached duration was 24 hours when activity was last recorded 2 hours ago:
	// threshold = 23h55m, 2h < 23h55m -> manual, even though the thread's
	// *current* duration of 1 hour (threshold 55min) would say inactivity.
	tr.mu.Lock()
	tr.byThread["thr1"] = activityEntry{lastActivity: time.Now().Add(-2 * time.Hour), autoArchiveDuration: 24 * time.Hour}
	tr.mu.Unlock()

	manual := tr.classifyArchive("thr1", time.Hour)
	if !manual {
		t.Fatal("expected classifyArchive to use the cached duration, not the current one")
	}
}

func TestComputePingPrefixNever(t *testing.T) {
	pings := newPingTracker()
	got := ComputePingPrefix(config.PingNever, []string{"u1"}, "thr1", pings)
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestComputePingPrefixAlways(t *testing.T) {
	pings := newPingTracker()
	got := ComputePingPrefix(config.PingAlways, []string{"u1", "u2"}, "thr1", pings)
	want := "<@u1> <@u2>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestComputePingPrefixOnRecentUserMessageConsumesRecord(t *testing.T) {
	pings := newPingTracker()
	pings.record("thr1", "u9")

	got := ComputePingPrefix(config.PingOnRecentUserMessage, nil, "thr1", pings)
	if got != "<@u9>" {
		t.Fatalf("got %q, want <@u9>", got)
	}

	// Second call: record was consumed, nothing to ping.
	got2 := ComputePingPrefix(config.PingOnRecentUserMessage, nil, "thr1", pings)
	if got2 != "" {
		t.Fatalf("got %q, want empty after consuming the record once", got2)
	}
}
