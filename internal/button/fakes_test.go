package button

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
	"github.com/sweeney/ac-button/internal/zc"
	"github.com/zoobzio/clockz"
)

// fakeRegistry records registered nodes.
type fakeRegistry struct {
	mu    sync.Mutex
	nodes map[int]*fakeNode
	err   error
	count int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{nodes: make(map[int]*fakeNode)}
}

func (r *fakeRegistry) Register(pin int) (Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if _, ok := r.nodes[pin]; ok {
		return nil, fmt.Errorf("button%d already registered", pin)
	}
	n := &fakeNode{registry: r, pin: pin}
	r.nodes[pin] = n
	r.count++
	return n, nil
}

func (r *fakeRegistry) node(pin int) *fakeNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[pin]
}

type fakeNode struct {
	registry *fakeRegistry
	pin      int

	mu           sync.Mutex
	changes      []bool
	unregistered int
}

func (n *fakeNode) Changed(pressed bool) {
	n.mu.Lock()
	n.changes = append(n.changes, pressed)
	n.mu.Unlock()
}

func (n *fakeNode) Unregister() error {
	n.mu.Lock()
	n.unregistered++
	twice := n.unregistered > 1
	n.mu.Unlock()
	if twice {
		return errors.New("node unregistered twice")
	}

	n.registry.mu.Lock()
	delete(n.registry.nodes, n.pin)
	n.registry.mu.Unlock()
	return nil
}

func (n *fakeNode) Changes() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.changes...)
}

// recorder is a Notifier that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []logic.Event
}

func (r *recorder) Notify(ev logic.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Types() []logic.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]logic.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// fakeBroadcaster stands in for the zero-crossing detector.
type fakeBroadcaster struct {
	mu          sync.Mutex
	handlers    map[int]zc.Handler
	next        int
	registerErr error
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{handlers: make(map[int]zc.Handler)}
}

func (b *fakeBroadcaster) Register(phase zc.Phase, fn zc.Handler) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registerErr != nil {
		return 0, b.registerErr
	}
	id := b.next
	b.next++
	b.handlers[id] = fn
	return id, nil
}

func (b *fakeBroadcaster) Unregister(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return fmt.Errorf("unknown id %d", id)
	}
	delete(b.handlers, id)
	return nil
}

func (b *fakeBroadcaster) fire(phase zc.Phase) {
	b.mu.Lock()
	fns := make([]zc.Handler, 0, len(b.handlers))
	for _, fn := range b.handlers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(phase)
	}
}

func (b *fakeBroadcaster) registered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// fixtureEpoch is where fixture clocks start.
var fixtureEpoch = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// pollFixture wires a Manager to a Poller whose timer never fires unless the
// test drives it.
type pollFixture struct {
	chip     *gpio.FakeChip
	registry *fakeRegistry
	table    *Table
	poller   *Poller
	manager  *Manager
	events   *recorder
	clock    *clockz.FakeClock
}

func newPollFixture(t *testing.T) *pollFixture {
	t.Helper()
	f := &pollFixture{
		chip:     gpio.NewFakeChip(32),
		registry: newFakeRegistry(),
		table:    NewTable(32),
		events:   &recorder{},
		clock:    clockz.NewFakeClockAt(fixtureEpoch),
	}
	f.poller = NewPoller(f.table, f.events, WithClock(f.clock))
	f.manager = NewManager(f.table, f.chip, f.poller, f.registry)
	t.Cleanup(func() { f.manager.Close() })
	return f
}

// zcFixture wires a Manager to a ZeroCrossing source on a fake broadcaster.
type zcFixture struct {
	chip     *gpio.FakeChip
	registry *fakeRegistry
	table    *Table
	bc       *fakeBroadcaster
	source   *ZeroCrossing
	manager  *Manager
	events   *recorder
	clock    *clockz.FakeClock
}

func newZCFixture(t *testing.T) *zcFixture {
	t.Helper()
	f := &zcFixture{
		chip:     gpio.NewFakeChip(32),
		registry: newFakeRegistry(),
		table:    NewTable(32),
		bc:       newFakeBroadcaster(),
		events:   &recorder{},
		clock:    clockz.NewFakeClockAt(fixtureEpoch),
	}
	src, err := NewZeroCrossing(f.table, f.bc, f.events, WithSampleClock(f.clock))
	if err != nil {
		t.Fatalf("NewZeroCrossing: %v", err)
	}
	f.source = src
	f.manager = NewManager(f.table, f.chip, f.source, f.registry)
	t.Cleanup(func() { f.manager.Close() })
	return f
}

// assertInactive checks a slot is fully reset and its pin released.
func assertInactive(t *testing.T, table *Table, chip *gpio.FakeChip, pin int) {
	t.Helper()
	ch, err := table.Get(pin)
	if err != nil {
		t.Fatalf("Get(%d): %v", pin, err)
	}
	if ch.Active() {
		t.Error("slot should be inactive")
	}
	if ch.Pressed() {
		t.Error("value should be reset")
	}
	if n := ch.debounceCount(); n != 0 {
		t.Errorf("debounce count should be 0, got %d", n)
	}
	ch.mu.Lock()
	line, node, sub := ch.line, ch.node, ch.sub
	ch.mu.Unlock()
	if line != nil || node != nil || sub != nil {
		t.Errorf("handles should be cleared, got line=%v node=%v sub=%v", line, node, sub)
	}
	if chip.Owned(pin) {
		t.Error("pin should be released")
	}
}
