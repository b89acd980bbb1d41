// Package highlight toggles the visual marker on page elements and owns
// the auto-expiry timers. Per selector, the newest Apply always wins:
// it supersedes any pending removal scheduled by an earlier call.
package highlight

import (
	"log"
	"sync"
	"time"
)

// Marker is the slice of the DOM driver the controller needs.
type Marker interface {
	Mark(selector string) (int, error)
	Unmark(selector string) (int, error)
	ClearMarks() error
}

// Controller applies and removes highlight markers keyed by CSS selector.
type Controller struct {
	dom Marker

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(dom Marker) *Controller {
	return &Controller{
		dom:    dom,
		timers: make(map[string]*time.Timer),
	}
}

// Apply marks all elements currently matching selector. When duration is
// positive, removal is scheduled; a pending timer for the same selector
// is cancelled first (last call wins). Elements mounted after this call
// are not retroactively marked; re-issue Apply for those.
func (c *Controller) Apply(selector string, duration time.Duration) error {
	n, err := c.dom.Mark(selector)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Printf("highlight: selector %q matched no elements", selector)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[selector]; ok {
		t.Stop()
		delete(c.timers, selector)
	}
	if duration > 0 {
		c.timers[selector] = time.AfterFunc(duration, func() {
			if err := c.Remove(selector); err != nil {
				log.Printf("highlight: auto-remove %q: %v", selector, err)
			}
		})
	}
	return nil
}

// Remove clears the marker from matching elements and cancels any
// pending auto-expiry for the selector.
func (c *Controller) Remove(selector string) error {
	c.mu.Lock()
	if t, ok := c.timers[selector]; ok {
		t.Stop()
		delete(c.timers, selector)
	}
	c.mu.Unlock()

	_, err := c.dom.Unmark(selector)
	return err
}

// ClearAll removes every applied marker and cancels all timers.
func (c *Controller) ClearAll() error {
	c.mu.Lock()
	for sel, t := range c.timers {
		t.Stop()
		delete(c.timers, sel)
	}
	c.mu.Unlock()

	return c.dom.ClearMarks()
}

// Pending reports whether selector has a scheduled auto-removal.
func (c *Controller) Pending(selector string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[selector]
	return ok
}
