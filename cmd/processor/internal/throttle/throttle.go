// Package throttle gates history-sink writes so that history growth stays
// bounded: a symbol is written when it has never been written, when its
// price moved by at least epsilon, or when the time window has elapsed.
package throttle

import (
	"math"
	"sync"
	"time"
)

// State is the per-symbol baseline the gate is evaluated against.
// It advances only after a successful history append.
type State struct {
	LastPrice      float64
	LastInsertedAt time.Time
}

type Cache struct {
	epsilon float64
	window  time.Duration
	now     func() time.Time

	mu     sync.Mutex
	states map[string]State
}

func NewCache(epsilon float64, window time.Duration) *Cache {
	return &Cache{
		epsilon: epsilon,
		window:  window,
		now:     time.Now,
		states:  make(map[string]State),
	}
}

// ShouldInsert reports whether a history write should happen for this
// price. It does not advance the baseline; call MarkInserted after the
// append succeeds so a failed write leaves the window unchanged.
func (c *Cache) ShouldInsert(symbol string, price float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[symbol]
	if !ok {
		return true
	}
	if math.Abs(price-st.LastPrice) >= c.epsilon {
		return true
	}
	return c.now().Sub(st.LastInsertedAt) >= c.window
}

// MarkInserted records a successful history append for the symbol.
func (c *Cache) MarkInserted(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[symbol] = State{LastPrice: price, LastInsertedAt: c.now()}
}

// SetClock overrides the time source. Tests only.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }
