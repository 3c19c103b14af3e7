package session

import (
	"fmt"
	"time"
)

// DefaultCooldown is the minimum interval between generation attempts
// per chat.
const DefaultCooldown = time.Second

// Gate throttles generation attempts. The timestamp check and update are
// one atomic step under the session mutex, so two concurrent triggers
// (say a text prompt racing an album resolution) can never both pass.
type Gate struct {
	interval time.Duration
	now      func() time.Time
}

func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultCooldown
	}
	return &Gate{interval: interval, now: time.Now}
}

// Allow reports whether a generation may start now and marks the attempt
// when it may. On rejection it returns the remaining wait in whole
// seconds, at least 1.
func (g *Gate) Allow(sess *Session) (bool, int) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	now := g.now()
	if !sess.LastGenerateAt.IsZero() {
		elapsed := now.Sub(sess.LastGenerateAt)
		if elapsed < g.interval {
			remain := int((g.interval - elapsed).Seconds())
			if remain < 1 {
				remain = 1
			}
			return false, remain
		}
	}
	sess.LastGenerateAt = now
	return true, 0
}

// CooldownNotice is the user-facing rejection text of the gate.
func CooldownNotice(remain int) string {
	return fmt.Sprintf("⚠️ Please send your next request again in %d s.", remain)
}
