package chat

import (
	"sync"
	"time"
)

// Default cooldowns per action class.
const (
	CooldownSync     = 10 * time.Second
	CooldownFinalize = 5 * time.Second
	CooldownSearch   = 1 * time.Second
	CooldownNav      = 300 * time.Millisecond
	CooldownAdmin    = 3 * time.Second
)

const (
	cooldownCleanupEvery = 100
	cooldownMaxAge       = time.Minute
)

type cooldownKey struct {
	userID int64
	action string
}

// Cooldowns rate-limits repeat presses per user and action. Entries older
// than any plausible cooldown are swept every hundred checks.
type Cooldowns struct {
	mu    sync.Mutex
	seen  map[cooldownKey]time.Time
	calls int
	now   func() time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{seen: make(map[cooldownKey]time.Time), now: time.Now}
}

// Allow reports whether the action may run now and, if so, stamps it.
func (c *Cooldowns) Allow(userID int64, action string, d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.calls >= cooldownCleanupEvery {
		c.sweep()
		c.calls = 0
	}

	k := cooldownKey{userID, action}
	now := c.now()
	if last, ok := c.seen[k]; ok && now.Sub(last) < d {
		return false
	}
	c.seen[k] = now
	return true
}

// Reset clears one cooldown, letting a retry through after a failure.
func (c *Cooldowns) Reset(userID int64, action string) {
	c.mu.Lock()
	delete(c.seen, cooldownKey{userID, action})
	c.mu.Unlock()
}

func (c *Cooldowns) sweep() {
	cutoff := c.now().Add(-cooldownMaxAge)
	for k, v := range c.seen {
		if v.Before(cutoff) {
			delete(c.seen, k)
		}
	}
}
