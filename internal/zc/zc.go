// Package zc broadcasts mains zero-crossing phase events read from a
// zero-crossing detector wired to a GPIO line.
//
// The detector pulls its line low while the waveform is near zero, so a
// falling edge means the waveform is entering a crossing and a rising edge
// means it is leaving one. That happens twice per AC cycle.
package zc

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/ac-button/internal/gpio"
)

// Phase is the position of the waveform relative to a zero crossing.
type Phase int

const (
	Entering Phase = iota
	Leaving
)

func (p Phase) String() string {
	if p == Leaving {
		return "leaving"
	}
	return "entering"
}

// Handler is called on the event goroutine for every matching phase event.
// It must not block.
type Handler func(Phase)

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("zc: broadcaster closed")

type registration struct {
	phase Phase
	fn    Handler
}

// Broadcaster fans zero-crossing events out to registered handlers.
type Broadcaster struct {
	line gpio.Line

	mu       sync.RWMutex
	handlers map[int]registration
	nextID   int
	closed   bool
}

// New reserves the detector line on chip and starts watching both edges.
func New(chip gpio.Chip, pin int, bias gpio.Bias) (*Broadcaster, error) {
	line, err := chip.Request(pin)
	if err != nil {
		return nil, fmt.Errorf("request zero-crossing pin %d: %w", pin, err)
	}
	if err := line.SetInput(bias); err != nil {
		line.Close()
		return nil, fmt.Errorf("configure zero-crossing pin %d: %w", pin, err)
	}

	b := &Broadcaster{
		line:     line,
		handlers: make(map[int]registration),
	}
	if err := line.Watch(gpio.EdgeBoth, b.onEdge); err != nil {
		line.Restore()
		line.Close()
		return nil, fmt.Errorf("watch zero-crossing pin %d: %w", pin, err)
	}

	log.Printf("zc: watching zero-crossing detector on pin %d", pin)
	return b, nil
}

// Register adds a handler for phase and returns an id for Unregister.
func (b *Broadcaster) Register(phase Phase, fn Handler) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = registration{phase: phase, fn: fn}
	return id, nil
}

// Unregister removes a handler. Unknown ids are an error.
func (b *Broadcaster) Unregister(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[id]; !ok {
		return fmt.Errorf("zc: unknown registration %d", id)
	}
	delete(b.handlers, id)
	return nil
}

// Broadcast delivers phase to every handler registered for it.
func (b *Broadcaster) Broadcast(phase Phase) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	fns := make([]Handler, 0, len(b.handlers))
	for _, r := range b.handlers {
		if r.phase == phase {
			fns = append(fns, r.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(phase)
	}
}

// Close stops watching and releases the detector line.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[int]registration)
	b.mu.Unlock()

	var errs []error
	if err := b.line.Unwatch(); err != nil {
		errs = append(errs, err)
	}
	if err := b.line.Restore(); err != nil {
		errs = append(errs, err)
	}
	if err := b.line.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Broadcaster) onEdge(ev gpio.EdgeEvent) {
	if ev.Rising {
		b.Broadcast(Leaving)
		return
	}
	b.Broadcast(Entering)
}
