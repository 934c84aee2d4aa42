package button

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/ac-button/internal/gpio"
)

// Manager exports and unexports channels. All lifecycle operations on the
// table are serialized by a single lock; sampling never takes it.
type Manager struct {
	table    *Table
	chip     gpio.Chip
	source   Source
	registry Registry
	bias     gpio.Bias

	mu     sync.Mutex
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBias sets the pull resistor for exported lines (default pull-up, so an
// open contact reads high).
func WithBias(bias gpio.Bias) Option {
	return func(m *Manager) {
		m.bias = bias
	}
}

// NewManager creates a Manager for table.
func NewManager(table *Table, chip gpio.Chip, source Source, registry Registry, opts ...Option) *Manager {
	m := &Manager{
		table:    table,
		chip:     chip,
		source:   source,
		registry: registry,
		bias:     gpio.BiasPullUp,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Export claims pin and starts tracking its button. On failure everything
// acquired so far is released again and the slot is left inactive.
func (m *Manager) Export(pin int) error {
	ch, err := m.table.Get(pin)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if ch.Active() {
		return fmt.Errorf("export pin %d: %w", pin, ErrAlreadyActive)
	}

	var undo rollback
	defer undo.unwind()

	line, err := m.chip.Request(pin)
	if err != nil {
		return fmt.Errorf("%w: pin %d: %w", ErrPinUnavailable, pin, err)
	}
	undo.push(line.Close)

	if err := line.SetInput(m.bias); err != nil {
		return fmt.Errorf("%w: pin %d: %w", ErrConfigurationFailed, pin, err)
	}
	undo.push(line.Restore)

	sub, err := m.source.Subscribe(ch, line)
	if err != nil {
		return fmt.Errorf("%w: pin %d: %w", ErrSubscriptionFailed, pin, err)
	}
	undo.push(sub.Cancel)

	node, err := m.registry.Register(pin)
	if err != nil {
		return fmt.Errorf("%w: pin %d: %w", ErrRegistrationFailed, pin, err)
	}
	undo.push(node.Unregister)

	if !ch.activate(line, node, sub) {
		// Unreachable while mu is held.
		return fmt.Errorf("export pin %d: %w", pin, ErrAlreadyActive)
	}
	undo.release()

	m.source.Activate()
	log.Printf("exported button%d (%s)", pin, m.source.Strategy())
	return nil
}

// Unexport stops tracking pin and releases everything Export acquired.
func (m *Manager) Unexport(pin int) error {
	ch, err := m.table.Get(pin)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.unexport(ch)
}

// unexport tears down an active channel. Caller holds mu.
func (m *Manager) unexport(ch *Channel) error {
	line, node, sub, ok := ch.deactivate()
	if !ok {
		return fmt.Errorf("unexport pin %d: %w", ch.Pin(), ErrNotActive)
	}

	var errs []error
	if err := node.Unregister(); err != nil {
		errs = append(errs, fmt.Errorf("unregister node: %w", err))
	}
	if err := sub.Cancel(); err != nil {
		errs = append(errs, fmt.Errorf("cancel subscription: %w", err))
	}
	if err := line.Restore(); err != nil {
		errs = append(errs, fmt.Errorf("restore line: %w", err))
	}
	if err := line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release line: %w", err))
	}

	log.Printf("unexported button%d", ch.Pin())
	if len(errs) > 0 {
		return fmt.Errorf("unexport pin %d: %w", ch.Pin(), errors.Join(errs...))
	}
	return nil
}

// Read returns the committed value of an exported pin.
func (m *Manager) Read(pin int) (bool, error) {
	ch, err := m.table.Get(pin)
	if err != nil {
		return false, err
	}
	if !ch.Active() {
		return false, fmt.Errorf("read pin %d: %w", pin, ErrNotActive)
	}
	v := ch.Pressed()
	// An unexport may have reset the value after the first check
	if !ch.Active() {
		return false, fmt.Errorf("read pin %d: %w", pin, ErrNotActive)
	}
	return v, nil
}

// Channels lists the exported channels.
func (m *Manager) Channels() []Status {
	return m.table.Active()
}

// Close unexports every active channel, then closes the source. Export fails
// with ErrClosed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	m.table.each(func(ch *Channel) {
		if !ch.Active() {
			return
		}
		if err := m.unexport(ch); err != nil {
			errs = append(errs, err)
		}
	})
	if err := m.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close source: %w", err))
	}
	return errors.Join(errs...)
}

// rollback is an ordered list of undo actions for acquired resources.
type rollback struct {
	undo []func() error
}

func (r *rollback) push(fn func() error) {
	r.undo = append(r.undo, fn)
}

// release forgets every action once the resources have been handed over.
func (r *rollback) release() {
	r.undo = nil
}

// unwind runs the actions in reverse order of acquisition.
func (r *rollback) unwind() {
	for i := len(r.undo) - 1; i >= 0; i-- {
		if err := r.undo[i](); err != nil {
			log.Printf("rollback: %v", err)
		}
	}
	r.undo = nil
}
