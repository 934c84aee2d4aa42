package button

import (
	"sync"
	"time"

	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
	"github.com/zoobzio/clockz"
)

// DefaultPollPeriod is the poll tick interval. It is far longer than a mains
// half-cycle, so a held button raises at least one edge per tick.
const DefaultPollPeriod = 50 * time.Millisecond

// Poller samples every active channel once per tick. A rising edge interrupt
// on the channel's line between two ticks means "pressed".
//
// One timer serves all channels. It starts on the first activation and stops
// itself on a tick that finds no active channel.
type Poller struct {
	table  *Table
	notify Notifier
	clock  clockz.Clock
	period time.Duration

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithClock sets the clock driving the tick timer.
// Use this with clockz.FakeClock for deterministic timer tests.
func WithClock(clock clockz.Clock) PollerOption {
	return func(p *Poller) {
		p.clock = clock
	}
}

// WithPeriod overrides DefaultPollPeriod.
func WithPeriod(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.period = d
		}
	}
}

// NewPoller creates a Poller over table. Transitions go to notify, which may
// be nil.
func NewPoller(table *Table, notify Notifier, opts ...PollerOption) *Poller {
	p := &Poller{
		table:  table,
		notify: notify,
		clock:  clockz.RealClock,
		period: DefaultPollPeriod,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Strategy returns logic.StrategyPoll.
func (p *Poller) Strategy() logic.Strategy {
	return logic.StrategyPoll
}

// Subscribe enables the rising edge interrupt on line. Each edge latches the
// channel's interrupted flag for the next tick.
func (p *Poller) Subscribe(ch *Channel, line gpio.Line) (Subscription, error) {
	if err := line.Watch(gpio.EdgeRising, func(gpio.EdgeEvent) { ch.latch() }); err != nil {
		return nil, err
	}
	return SubscriptionFunc(line.Unwatch), nil
}

// Activate starts the tick timer unless it is already running.
func (p *Poller) Activate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.closed {
		return
	}
	p.running = true
	timer := p.clock.NewTimer(p.period)
	p.wg.Add(1)
	go p.run(timer)
}

// Running reports whether the tick timer is armed.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Tick samples every active channel and reports whether the timer should be
// rearmed, i.e. whether any channel was active.
func (p *Poller) Tick() bool {
	now := p.clock.Now()
	rearm := false
	p.table.each(func(ch *Channel) {
		ev, active := ch.pollSample(now)
		if !active {
			return
		}
		rearm = true
		if ev != nil && p.notify != nil {
			p.notify.Notify(*ev)
		}
	})
	return rearm
}

// Close cancels any pending tick and waits for the timer goroutine.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *Poller) run(timer clockz.Timer) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			timer.Stop()
			return

		case <-timer.C():
			// Holding mu across the tick closes the window where Activate
			// sees running=true while this tick is deciding to stop.
			p.mu.Lock()
			rearm := !p.closed && p.Tick()
			if !rearm {
				p.running = false
			}
			p.mu.Unlock()

			if !rearm {
				return
			}
			timer.Reset(p.period)
		}
	}
}
