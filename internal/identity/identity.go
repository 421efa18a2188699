// Package identity generates the sortable, prefixed ids used across the
// bridge daemon (mapping ids, open-question ids, bus event ids).
package identity

import (
	"crypto/rand"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// GenerateMappingID generates a unique conversation↔thread mapping id.
// Format: "map_" + ulid().
func GenerateMappingID() string {
	return "map_" + generateULID()
}

// GenerateQuestionID generates a unique Open Question id.
// Format: "oq_" + ulid().
func GenerateQuestionID() string {
	return "oq_" + generateULID()
}

// GenerateEventID generates a unique bus-event id, used for log correlation.
// Format: "evt_" + ulid().
func GenerateEventID() string {
	return "evt_" + generateULID()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a lexically sortable, time-prefixed ULID string.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// ParseULID parses a ULID string and returns the timestamp it encodes.
func ParseULID(s string) (time.Time, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ULID: %w", err)
	}
	ms := id.Time()
	if ms/1000 > uint64(math.MaxInt64) {
		return time.Time{}, fmt.Errorf("ULID timestamp %d exceeds int64 range", ms)
	}
	return time.Unix(int64(ms/1000), int64(ms%1000)*1e6), nil //nolint:gosec // overflow checked above
}
