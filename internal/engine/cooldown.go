package engine

import (
	"strconv"
	"sync"
	"time"
)

// Cooldown suppresses repeat alerts for the same key inside the cooldown.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(stationID string, windowSec int, cooldown time.Duration) bool {
	return c.AllowKey(stationID+"|"+strconv.Itoa(windowSec), cooldown)
}

func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]time.Time)
}
