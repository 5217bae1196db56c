// Package windows provides the TTL-bounded sliding-window state store
// used by aggregating correlation rules. Window membership is tracked
// per (rule, correlation-group) pair, ordered by event timestamp.
package windows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"lattice-siem/internal/schema"
)

// DefaultTTLMultiplier is the safety margin applied to window expiry:
// entries expire in the backing store after multiplier x window even
// when never accessed again.
const DefaultTTLMultiplier = 2

// Store tracks sliding-window membership for (rule, group) pairs.
// Operations on different pairs are independent. Concurrent callers on
// the same pair rely only on the backing store's per-step atomicity, so
// two instances crossing a threshold together may both observe it.
type Store interface {
	// AddEvent inserts the event into the window for (ruleID, groupKey),
	// prunes entries older than now minus window, and returns the
	// surviving entries ordered by event timestamp ascending.
	AddEvent(ctx context.Context, ruleID, groupKey string, event *schema.Event, window time.Duration) ([]*schema.Event, error)

	// ClearGroup removes the window and all stored payloads for the pair.
	ClearGroup(ctx context.Context, ruleID, groupKey string) error

	Close() error
}

// GroupKey derives the deterministic correlation key scoping a window to
// one entity: hash(sanitize(ruleID) + ":" + sanitize(groupValue)). The
// same rule and group value always map to the same key across instances.
func GroupKey(ruleID, groupValue string) string {
	h := sha256.Sum256([]byte(sanitizeKeyPart(ruleID) + ":" + sanitizeKeyPart(groupValue)))
	return hex.EncodeToString(h[:8])
}

// sanitizeKeyPart strips the key separator and control characters so
// crafted rule IDs or field values cannot collide across pairs.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ':' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// eventScore is the window ordering score: the event's own timestamp in
// unix milliseconds, falling back to arrival time when absent.
func eventScore(event *schema.Event, now time.Time) int64 {
	if event.Timestamp.IsZero() {
		return now.UnixMilli()
	}
	return event.Timestamp.UnixMilli()
}
