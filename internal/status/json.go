package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/ac-button/internal/mqtt"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Strategy      string       `json:"strategy"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Buttons       []ButtonJSON `json:"buttons"`
	LastEvent     *EventJSON   `json:"last_event,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Dropped   int64  `json:"dropped"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Pressed  int `json:"pressed"`
	Released int `json:"released"`
}

// ButtonJSON is one exported button.
type ButtonJSON struct {
	Pin     int        `json:"pin"`
	State   string     `json:"state"`
	Pressed bool       `json:"pressed"`
	Counts  CountsJSON `json:"event_counts"`
}

// EventJSON is the most recent committed transition.
type EventJSON struct {
	Pin       int    `json:"pin"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Strategy    string `json:"strategy"`
	PollMs      int64  `json:"poll_ms"`
	Chip        string `json:"chip"`
	NodeRoot    string `json:"node_root"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	buttons := make([]ButtonJSON, 0, len(snap.Buttons))
	for _, b := range snap.Buttons {
		buttons = append(buttons, ButtonJSON{
			Pin:     b.Pin,
			State:   mqtt.StateString(b.Pressed),
			Pressed: b.Pressed,
			Counts:  CountsJSON{Pressed: b.Counts.Pressed, Released: b.Counts.Released},
		})
	}

	inner := StatusInner{
		Strategy:      snap.Config.Strategy,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker, Dropped: snap.MQTTDropped},
		Counts:        CountsJSON{Pressed: snap.Counts.Pressed, Released: snap.Counts.Released},
		Buttons:       buttons,
		Config: ConfigJSON{
			Strategy:    snap.Config.Strategy,
			PollMs:      snap.Config.PollMs,
			Chip:        snap.Config.Chip,
			NodeRoot:    snap.Config.NodeRoot,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
		},
	}
	if ev := snap.LastEvent; ev != nil {
		inner.LastEvent = &EventJSON{
			Pin:       ev.Pin,
			Event:     string(ev.Type),
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
