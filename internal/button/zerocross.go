package button

import (
	"fmt"
	"sync"

	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
	"github.com/sweeney/ac-button/internal/zc"
	"github.com/zoobzio/clockz"
)

// Broadcaster delivers mains zero-crossing phase events.
type Broadcaster interface {
	Register(phase zc.Phase, fn zc.Handler) (int, error)
	Unregister(id int) error
}

// ZeroCrossing samples every active channel's raw line level each time the
// waveform leaves a zero crossing.
type ZeroCrossing struct {
	table  *Table
	notify Notifier
	bc     Broadcaster
	clock  clockz.Clock
	id     int

	mu     sync.Mutex
	closed bool
}

// ZeroCrossingOption configures a ZeroCrossing.
type ZeroCrossingOption func(*ZeroCrossing)

// WithSampleClock sets the clock that timestamps committed events.
func WithSampleClock(clock clockz.Clock) ZeroCrossingOption {
	return func(z *ZeroCrossing) {
		z.clock = clock
	}
}

// NewZeroCrossing registers a single leaving-phase handler with bc. The
// handler stays registered until Close.
func NewZeroCrossing(table *Table, bc Broadcaster, notify Notifier, opts ...ZeroCrossingOption) (*ZeroCrossing, error) {
	z := &ZeroCrossing{
		table:  table,
		notify: notify,
		bc:     bc,
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(z)
	}
	id, err := bc.Register(zc.Leaving, z.OnZeroCrossing)
	if err != nil {
		return nil, fmt.Errorf("register zero-crossing handler: %w", err)
	}
	z.id = id
	return z, nil
}

// Strategy returns logic.StrategyZeroCrossing.
func (z *ZeroCrossing) Strategy() logic.Strategy {
	return logic.StrategyZeroCrossing
}

// Subscribe checks the line can be sampled. Samples are driven by the shared
// broadcast handler, so there is nothing per channel to undo.
func (z *ZeroCrossing) Subscribe(ch *Channel, line gpio.Line) (Subscription, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.closed {
		return nil, ErrClosed
	}
	if _, err := line.Value(); err != nil {
		return nil, err
	}
	return SubscriptionFunc(func() error { return nil }), nil
}

// Activate is a no-op; the broadcast runs regardless of active channels.
func (z *ZeroCrossing) Activate() {}

// OnZeroCrossing samples every active channel. Only the leaving phase is
// acted on.
func (z *ZeroCrossing) OnZeroCrossing(phase zc.Phase) {
	if phase != zc.Leaving {
		return
	}
	now := z.clock.Now()
	z.table.each(func(ch *Channel) {
		if !ch.Active() {
			return
		}
		if ev := ch.lineSample(now); ev != nil && z.notify != nil {
			z.notify.Notify(*ev)
		}
	})
}

// Close unregisters the broadcast handler.
func (z *ZeroCrossing) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.closed {
		return nil
	}
	z.closed = true
	return z.bc.Unregister(z.id)
}
