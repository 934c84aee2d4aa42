package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBusy is returned by FakeChip.Request for a line that is already owned.
var ErrBusy = errors.New("gpio: line busy")

// FakeChip is a test double that hands out FakeLines and records their use.
// It is safe for concurrent use.
type FakeChip struct {
	mu    sync.Mutex
	lines int
	owned map[int]*FakeLine
	last  map[int]*FakeLine

	// RequestError, if set, is returned by Request.
	RequestError error

	// SetInputError, WatchError and ValueError are copied into every line
	// requested after they are set.
	SetInputError error
	WatchError    error
	ValueError    error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeChip creates a FakeChip with the given number of lines.
func NewFakeChip(lines int) *FakeChip {
	return &FakeChip{
		lines: lines,
		owned: make(map[int]*FakeLine),
		last:  make(map[int]*FakeLine),
	}
}

// Lines returns the number of lines on the chip.
func (c *FakeChip) Lines() int {
	return c.lines
}

// Request reserves a line, failing with ErrBusy if it is already owned.
func (c *FakeChip) Request(offset int) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.RequestError != nil {
		return nil, c.RequestError
	}
	if offset < 0 || offset >= c.lines {
		return nil, fmt.Errorf("gpio: offset %d out of range", offset)
	}
	if _, ok := c.owned[offset]; ok {
		return nil, ErrBusy
	}

	l := &FakeLine{
		chip:          c,
		offset:        offset,
		level:         1,
		setInputError: c.SetInputError,
		watchError:    c.WatchError,
		valueError:    c.ValueError,
	}
	c.owned[offset] = l
	c.last[offset] = l
	return l, nil
}

// Close marks the chip as closed.
func (c *FakeChip) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

// Line returns the most recently requested line for offset, or nil.
func (c *FakeChip) Line(offset int) *FakeLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[offset]
}

// Owned reports whether offset is currently reserved.
func (c *FakeChip) Owned(offset int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[offset]
	return ok
}

func (c *FakeChip) release(offset int) {
	c.mu.Lock()
	delete(c.owned, offset)
	c.mu.Unlock()
}

// FakeLine is a line handed out by FakeChip. Tests drive it with SetLevel and
// Fire.
type FakeLine struct {
	chip   *FakeChip
	offset int

	mu            sync.Mutex
	level         int
	bias          Bias
	input         bool
	edge          Edge
	handler       func(EdgeEvent)
	closed        bool
	restores      int
	closes        int
	setInputError error
	watchError    error
	valueError    error
}

// Offset returns the line number.
func (l *FakeLine) Offset() int {
	return l.offset
}

// SetInput records the configuration.
func (l *FakeLine) SetInput(bias Bias) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.setInputError != nil {
		return l.setInputError
	}
	l.input = true
	l.bias = bias
	return nil
}

// Restore records a reconfiguration to boot defaults.
func (l *FakeLine) Restore() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restores++
	l.input = true
	l.bias = BiasPullDown
	return nil
}

// Watch installs handler for subsequent Fire calls.
func (l *FakeLine) Watch(edge Edge, handler func(EdgeEvent)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watchError != nil {
		return l.watchError
	}
	l.edge = edge
	l.handler = handler
	return nil
}

// Unwatch removes the handler.
func (l *FakeLine) Unwatch() error {
	l.mu.Lock()
	l.handler = nil
	l.mu.Unlock()
	return nil
}

// Value returns the level set with SetLevel (initially high).
func (l *FakeLine) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.valueError != nil {
		return 0, l.valueError
	}
	return l.level, nil
}

// Close releases the line back to the chip. Closing twice is an error.
func (l *FakeLine) Close() error {
	l.mu.Lock()
	l.closes++
	if l.closed {
		l.mu.Unlock()
		return errors.New("gpio: line already closed")
	}
	l.closed = true
	l.handler = nil
	l.mu.Unlock()

	l.chip.release(l.offset)
	return nil
}

// SetLevel sets the raw level returned by Value.
func (l *FakeLine) SetLevel(level int) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Fire simulates an edge. It returns false if no handler is watching or the
// edge does not match the watched edge.
func (l *FakeLine) Fire(rising bool) bool {
	l.mu.Lock()
	h := l.handler
	edge := l.edge
	l.mu.Unlock()

	if h == nil {
		return false
	}
	if (edge == EdgeRising && !rising) || (edge == EdgeFalling && rising) {
		return false
	}
	h(EdgeEvent{Offset: l.offset, Rising: rising})
	return true
}

// Watching reports whether a handler is installed.
func (l *FakeLine) Watching() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

// Input reports whether SetInput succeeded and the bias it applied.
func (l *FakeLine) Input() (bool, Bias) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.input, l.bias
}

// Restores returns how many times Restore was called.
func (l *FakeLine) Restores() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restores
}

// Closes returns how many times Close was called.
func (l *FakeLine) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Closed reports whether the line has been released.
func (l *FakeLine) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
