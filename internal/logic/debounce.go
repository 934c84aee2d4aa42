package logic

// Step feeds one candidate sample into a channel's debounce state and returns
// the new state together with the committed transition, if any.
//
// candidatePressed means "a rising edge was latched since the last tick" for
// StrategyPoll and "the line reads electrically low" for StrategyZeroCrossing.
func Step(strategy Strategy, s State, candidatePressed bool) (State, *EventType) {
	switch strategy {
	case StrategyZeroCrossing:
		return stepZeroCrossing(s, candidatePressed)
	default:
		return stepPoll(s, candidatePressed)
	}
}

// stepPoll commits any difference straight away. The interrupt is edge
// triggered and ticks are far apart compared to a mains half-cycle, so there
// is nothing left to debounce.
func stepPoll(s State, candidate bool) (State, *EventType) {
	s.Count = 0
	if candidate == s.Pressed {
		return s, nil
	}
	s.Pressed = candidate
	return s, eventFor(candidate)
}

// stepZeroCrossing trusts a press on the first sample but needs
// ReleaseThreshold consecutive open samples before releasing: one of the two
// crossings per cycle can read open while the contact is still closed.
func stepZeroCrossing(s State, candidate bool) (State, *EventType) {
	// Stable
	if candidate == s.Pressed {
		s.Count = 0
		return s, nil
	}

	// Idle -> pressed
	if candidate {
		s.Pressed = true
		s.Count = 0
		return s, eventFor(true)
	}

	// Pressed -> idle, wait for confirmation
	s.Count++
	if s.Count < ReleaseThreshold {
		return s, nil
	}
	s.Pressed = false
	s.Count = 0
	return s, eventFor(false)
}

func eventFor(pressed bool) *EventType {
	event := EventReleased
	if pressed {
		event = EventPressed
	}
	return &event
}
