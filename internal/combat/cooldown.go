package combat

import (
	"slices"
	"sync"
	"time"
)

// CooldownListener receives the remaining time after every change.
type CooldownListener func(remaining, max time.Duration)

// Cooldown is a per action slot countdown. The zero value is a ready timer with no maximum.
type Cooldown struct {
	mu        sync.Mutex
	remaining time.Duration
	max       time.Duration
	nextID    uint64
	listeners map[uint64]CooldownListener
}

// NewCooldown returns a ready timer whose bar fills up to max.
func NewCooldown(max time.Duration) *Cooldown {
	if max < 0 {
		max = 0
	}
	return &Cooldown{max: max}
}

// IsReady reports whether the slot may be used.
func (c *Cooldown) IsReady() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining == 0
}

// Remaining returns the time left before the slot is ready.
func (c *Cooldown) Remaining() time.Duration {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Max returns the length of the full bar.
func (c *Cooldown) Max() time.Duration {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

// SetMax changes the bar length, clamping any running countdown into the new range.
func (c *Cooldown) SetMax(max time.Duration) {
	if c == nil {
		return
	}
	if max < 0 {
		max = 0
	}
	c.mu.Lock()
	c.max = max
	changed := false
	if c.remaining > max {
		c.remaining = max
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Consume starts a countdown of the given length. It is a no-op returning false when the slot
// is not ready. A duration longer than the bar grows the bar so remaining never exceeds max.
func (c *Cooldown) Consume(duration time.Duration) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	if c.remaining > 0 {
		c.mu.Unlock()
		return false
	}
	if duration < 0 {
		duration = 0
	}
	if duration > c.max {
		c.max = duration
	}
	c.remaining = duration
	c.mu.Unlock()
	c.notify()
	return true
}

// Tick advances the countdown. Listeners hear every tick that starts with time remaining,
// which includes exactly one notification carrying zero.
func (c *Cooldown) Tick(dt time.Duration) {
	if c == nil || dt <= 0 {
		return
	}
	c.mu.Lock()
	if c.remaining == 0 {
		c.mu.Unlock()
		return
	}
	c.remaining -= dt
	if c.remaining < 0 {
		c.remaining = 0
	}
	c.mu.Unlock()
	c.notify()
}

// Reduce subtracts amount from the countdown with a floor of zero.
func (c *Cooldown) Reduce(amount time.Duration) {
	if c == nil || amount <= 0 {
		return
	}
	c.mu.Lock()
	if c.remaining == 0 {
		c.mu.Unlock()
		return
	}
	c.remaining -= amount
	if c.remaining < 0 {
		c.remaining = 0
	}
	c.mu.Unlock()
	c.notify()
}

// Reset makes the slot ready immediately.
func (c *Cooldown) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.remaining == 0 {
		c.mu.Unlock()
		return
	}
	c.remaining = 0
	c.mu.Unlock()
	c.notify()
}

// Subscribe registers a listener and returns the function that removes it.
func (c *Cooldown) Subscribe(listener CooldownListener) (unsubscribe func()) {
	if c == nil || listener == nil {
		return func() {}
	}
	c.mu.Lock()
	if c.listeners == nil {
		c.listeners = make(map[uint64]CooldownListener)
	}
	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cooldown) notify() {
	c.mu.Lock()
	remaining, max := c.remaining, c.max
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]CooldownListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()
	for _, listener := range listeners {
		listener(remaining, max)
	}
}
