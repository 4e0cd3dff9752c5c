// Package coalesce collapses bursts of triggers into one call per window.
package coalesce

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

const DefaultWindow = 250 * time.Millisecond

type window struct {
	timer *time.Timer
	gen   uint64
}

// Coalescer calls fn(key) at most once per window for each key: the first
// Trigger of a key arms a timer, later triggers inside the window are absorbed.
type Coalescer struct {
	sync.Mutex

	window  time.Duration
	fn      func(key string)
	pending map[string]*window
	gen     uint64
	stopped bool
}

func New(d time.Duration, fn func(key string)) *Coalescer {
	if d <= 0 {
		d = DefaultWindow
	}
	return &Coalescer{
		window:  d,
		fn:      fn,
		pending: make(map[string]*window),
	}
}

// Trigger reports whether it armed a new window.
func (c *Coalescer) Trigger(key string) bool {
	c.Lock()
	defer c.Unlock()
	if c.stopped {
		return false
	}
	if _, ok := c.pending[key]; ok {
		glog.V(7).Infof("Trigger(): %s coalesced", key)
		return false
	}
	c.gen++
	gen := c.gen
	c.pending[key] = &window{
		timer: time.AfterFunc(c.window, func() { c.fire(key, gen) }),
		gen:   gen,
	}
	return true
}

// Cancel drops a pending key without firing it.
func (c *Coalescer) Cancel(key string) {
	c.Lock()
	defer c.Unlock()
	if w, ok := c.pending[key]; ok {
		w.timer.Stop()
		delete(c.pending, key)
	}
}

// Stop cancels pending windows; later triggers are ignored.
func (c *Coalescer) Stop() {
	c.Lock()
	defer c.Unlock()
	c.stopped = true
	for key, w := range c.pending {
		w.timer.Stop()
		delete(c.pending, key)
	}
}

// fire only acts on the window that armed it. A timer of a cancelled window
// may still run after the key was triggered again.
func (c *Coalescer) fire(key string, gen uint64) {
	c.Lock()
	w, ok := c.pending[key]
	if !ok || w.gen != gen || c.stopped {
		c.Unlock()
		return
	}
	delete(c.pending, key)
	c.Unlock()

	c.fn(key)
}
