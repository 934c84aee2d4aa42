// Package status provides a thread-safe status tracker for the ac-button daemon.
// It is read by HTTP handlers and the MQTT heartbeat.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/ac-button/internal/button"
	"github.com/sweeney/ac-button/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Strategy    string
	PollMs      int64
	Chip        string
	NodeRoot    string
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
}

// Lister reports the currently exported buttons.
type Lister interface {
	Channels() []button.Status
}

// DropCounter reports how many outbound messages were discarded.
type DropCounter interface {
	Dropped() int64
}

// Button is one exported button with its event counters.
type Button struct {
	Pin     int
	Pressed bool
	Counts  logic.EventCounts
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Buttons       []Button
	Counts        logic.EventCounts
	LastEvent     *logic.Event
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTDropped   int64
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It is a
// button.Notifier: every committed transition bumps the counters.
type Tracker struct {
	lister  Lister
	dropped DropCounter

	mu        sync.RWMutex
	snap      Snapshot
	pinCounts map[int]logic.EventCounts
}

// NewTracker creates a Tracker with the given start time and config. lister
// may be nil until SetLister is called.
func NewTracker(startTime time.Time, cfg Config, lister Lister) *Tracker {
	return &Tracker{
		lister:    lister,
		pinCounts: make(map[int]logic.EventCounts),
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetLister sets the source of exported buttons.
func (t *Tracker) SetLister(l Lister) {
	t.mu.Lock()
	t.lister = l
	t.mu.Unlock()
}

// SetDropCounter sets the source of the MQTT drop count.
func (t *Tracker) SetDropCounter(d DropCounter) {
	t.mu.Lock()
	t.dropped = d
	t.mu.Unlock()
}

// Notify records a committed transition.
func (t *Tracker) Notify(ev logic.Event) {
	t.mu.Lock()
	t.snap.Counts.Add(ev.Type)
	c := t.pinCounts[ev.Pin]
	c.Add(ev.Type)
	t.pinCounts[ev.Pin] = c
	t.snap.LastEvent = &ev
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	lister, dropped := t.lister, t.dropped
	t.mu.RUnlock()

	var channels []button.Status
	if lister != nil {
		channels = lister.Channels()
	}
	var drops int64
	if dropped != nil {
		drops = dropped.Dropped()
	}

	t.mu.RLock()
	s := t.snap
	if s.LastEvent != nil {
		ev := *s.LastEvent
		s.LastEvent = &ev
	}
	s.MQTTDropped = drops
	s.Buttons = make([]Button, 0, len(channels))
	for _, ch := range channels {
		s.Buttons = append(s.Buttons, Button{Pin: ch.Pin, Pressed: ch.Pressed, Counts: t.pinCounts[ch.Pin]})
	}
	t.mu.RUnlock()

	sort.Slice(s.Buttons, func(i, j int) bool { return s.Buttons[i].Pin < s.Buttons[j].Pin })
	s.Now = time.Now()
	return s
}
