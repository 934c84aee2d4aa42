// Package button infers the pressed state of AC powered push buttons and
// manages the lifecycle of the GPIO channels they are wired to.
package button

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
)

// Channel is the per-pin state slot. Slots live as long as their Table.
//
// active is the only field shared between the lifecycle and sampling sides
// without a lock. value can be read at any time. Everything else is guarded
// by mu, which sampling holds only for a single sample.
type Channel struct {
	pin         int
	active      atomic.Bool
	value       atomic.Bool
	interrupted atomic.Bool

	mu    sync.Mutex
	count int
	line  gpio.Line
	node  Node
	sub   Subscription
}

// Pin returns the pin number of the slot.
func (c *Channel) Pin() int {
	return c.pin
}

// Active reports whether the pin is currently exported.
func (c *Channel) Active() bool {
	return c.active.Load()
}

// Pressed returns the last committed value. Only meaningful while active.
func (c *Channel) Pressed() bool {
	return c.value.Load()
}

// activate resets the debounce state, stores the handles and only then
// marks the slot active.
func (c *Channel) activate(line gpio.Line, node Node, sub Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count = 0
	c.value.Store(false)
	c.interrupted.Store(false)
	c.line = line
	c.node = node
	c.sub = sub
	return c.active.CompareAndSwap(false, true)
}

// deactivate clears the active bit if it was set and hands back the handles.
// Taking mu after the clear waits out any sample already in progress, so no
// sample for this slot reaches the debounce engine once it returns.
func (c *Channel) deactivate() (gpio.Line, Node, Subscription, bool) {
	if !c.active.CompareAndSwap(true, false) {
		return nil, nil, nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line, node, sub := c.line, c.node, c.sub
	c.line, c.node, c.sub = nil, nil, nil
	c.count = 0
	c.value.Store(false)
	c.interrupted.Store(false)
	return line, node, sub, true
}

// latch records an edge interrupt for the next poll tick.
func (c *Channel) latch() {
	if c.active.Load() {
		c.interrupted.Store(true)
	}
}

// pollSample consumes the interrupt latch. The second result is false when
// the slot is not active.
func (c *Channel) pollSample(now time.Time) (*logic.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active.Load() {
		return nil, false
	}
	return c.commit(logic.StrategyPoll, c.interrupted.Swap(false), now), true
}

// lineSample reads the raw line level; low means the contact is closed.
// Read errors drop the sample.
func (c *Channel) lineSample(now time.Time) *logic.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active.Load() || c.line == nil {
		return nil
	}
	level, err := c.line.Value()
	if err != nil {
		return nil
	}
	return c.commit(logic.StrategyZeroCrossing, level == 0, now)
}

// commit runs one debounce step. Caller holds mu.
func (c *Channel) commit(strategy logic.Strategy, candidate bool, now time.Time) *logic.Event {
	s, ev := logic.Step(strategy, logic.State{Pressed: c.value.Load(), Count: c.count}, candidate)
	c.count = s.Count
	if ev == nil {
		return nil
	}

	c.value.Store(s.Pressed)
	if c.node != nil {
		c.node.Changed(s.Pressed)
	}
	return &logic.Event{Timestamp: now, Pin: c.pin, Type: *ev}
}

// debounceCount returns the current evidence counter.
func (c *Channel) debounceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Status is a point-in-time view of one exported channel.
type Status struct {
	Pin     int  `json:"pin"`
	Pressed bool `json:"pressed"`
}

// Table is a fixed-capacity array of channel slots indexed by pin number.
// It never grows and slots are never freed.
type Table struct {
	channels []Channel
}

// NewTable allocates every slot up front.
func NewTable(capacity int) *Table {
	if capacity < 0 {
		capacity = 0
	}
	t := &Table{channels: make([]Channel, capacity)}
	for i := range t.channels {
		t.channels[i].pin = i
	}
	return t
}

// Cap returns the number of slots.
func (t *Table) Cap() int {
	return len(t.channels)
}

// Get returns the slot for pin.
func (t *Table) Get(pin int) (*Channel, error) {
	if pin < 0 || pin >= len(t.channels) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidPin, pin, len(t.channels))
	}
	return &t.channels[pin], nil
}

// Active lists the exported channels in pin order.
func (t *Table) Active() []Status {
	var out []Status
	for i := range t.channels {
		ch := &t.channels[i]
		if !ch.Active() {
			continue
		}
		pressed := ch.Pressed()
		// Skip slots unexported while we looked
		if !ch.Active() {
			continue
		}
		out = append(out, Status{Pin: ch.pin, Pressed: pressed})
	}
	return out
}

func (t *Table) each(fn func(*Channel)) {
	for i := range t.channels {
		fn(&t.channels[i])
	}
}
