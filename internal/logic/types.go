// Package logic contains the pure debounce logic for AC button channels.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Strategy identifies which signal source produced a sample.
type Strategy string

const (
	// StrategyPoll samples once per poll tick; the candidate is whether a
	// rising edge interrupt fired since the previous tick.
	StrategyPoll Strategy = "poll"
	// StrategyZeroCrossing samples the raw line level each time the mains
	// waveform leaves a zero crossing (twice per AC cycle).
	StrategyZeroCrossing Strategy = "zerocrossing"
)

// ReleaseThreshold is the number of consecutive open-contact zero-crossing
// samples needed before a release is committed.
const ReleaseThreshold = 2

// EventType represents a committed state transition.
type EventType string

const (
	EventPressed  EventType = "PRESSED"
	EventReleased EventType = "RELEASED"
)

// State is the debounce state of a single channel.
type State struct {
	// Last committed value
	Pressed bool
	// Evidence accumulated against Pressed (zero-crossing strategy only)
	Count int
}

// Event represents a committed transition to be published.
type Event struct {
	Timestamp time.Time
	Pin       int
	Type      EventType
}

// Pressed reports whether the event leaves the button pressed.
func (e Event) Pressed() bool {
	return e.Type == EventPressed
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Pressed  int
	Released int
}

// Add counts a single event.
func (c *EventCounts) Add(t EventType) {
	switch t {
	case EventPressed:
		c.Pressed++
	case EventReleased:
		c.Released++
	}
}
