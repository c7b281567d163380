package consensus

import "sync"

// Counters accumulates engine outcomes for the periodic report. One
// instance is constructed in main and shared with the reporter.
type Counters struct {
	mu           sync.Mutex
	alertsSent   int64
	suppressions map[string]int64
}

// NewCounters creates an empty counter set
func NewCounters() *Counters {
	return &Counters{suppressions: make(map[string]int64)}
}

// AlertSent records one dispatched alert
func (c *Counters) AlertSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alertsSent++
}

// Suppression records one cascade rejection by reason
func (c *Counters) Suppression(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressions[reason]++
}

// Snapshot returns the alert count and a copy of the suppression counts
func (c *Counters) Snapshot() (int64, map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.suppressions))
	for k, v := range c.suppressions {
		out[k] = v
	}
	return c.alertsSent, out
}
