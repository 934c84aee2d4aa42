package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sweeney/ac-button/internal/logic"
)

func pressMsg(t *testing.T, pin int) bufferedMsg {
	t.Helper()
	payload, err := FormatPayload(logic.Event{Timestamp: time.Unix(0, 0), Pin: pin, Type: logic.EventPressed})
	if err != nil {
		t.Fatal(err)
	}
	return bufferedMsg{topic: Topic, payload: payload}
}

// drainPins empties rb and returns the pin of each buffered payload.
func drainPins(t *testing.T, rb *ringBuffer) []int {
	t.Helper()
	var out []int
	for _, msg := range rb.drainAll() {
		var p Payload
		if err := json.Unmarshal(msg.payload, &p); err != nil {
			t.Fatalf("buffered payload: %v", err)
		}
		out = append(out, p.Button.Pin)
	}
	return out
}

func TestRingBufferOrder(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushed   []int
		want     []int
		dropped  int
	}{
		{"empty", 4, nil, nil, 0},
		{"partial", 4, []int{1, 2, 3}, []int{1, 2, 3}, 0},
		{"exactly full", 3, []int{1, 2, 3}, []int{1, 2, 3}, 0},
		{"overflow keeps newest", 3, []int{1, 2, 3, 4, 5}, []int{3, 4, 5}, 2},
		{"wraps twice", 2, []int{1, 2, 3, 4, 5, 6, 7}, []int{6, 7}, 5},
		{"zero capacity holds one", 0, []int{8, 9}, []int{9}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := newRingBuffer(tt.capacity)
			for _, pin := range tt.pushed {
				rb.push(pressMsg(t, pin))
			}
			if rb.dropped != tt.dropped {
				t.Errorf("dropped: got %d, want %d", rb.dropped, tt.dropped)
			}
			if rb.len() != len(tt.want) {
				t.Errorf("len: got %d, want %d", rb.len(), len(tt.want))
			}

			got := drainPins(t, rb)
			if len(got) != len(tt.want) {
				t.Fatalf("drained %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("drained %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestRingBufferDrainResets(t *testing.T) {
	rb := newRingBuffer(2)
	for pin := 0; pin < 5; pin++ {
		rb.push(pressMsg(t, pin))
	}
	rb.drainAll()

	if rb.len() != 0 || rb.dropped != 0 {
		t.Errorf("after drain: len %d dropped %d", rb.len(), rb.dropped)
	}
	if got := rb.drainAll(); got != nil {
		t.Errorf("second drain: got %d items", len(got))
	}

	// The buffer is reusable after a drain
	rb.push(pressMsg(t, 17))
	if got := drainPins(t, rb); len(got) != 1 || got[0] != 17 {
		t.Errorf("reuse: got %v", got)
	}
}

func TestRingBufferKeepsDelivery(t *testing.T) {
	rb := newRingBuffer(4)
	rb.push(bufferedMsg{topic: EventTopic(27), payload: []byte("ON"), qos: 1, retained: true})
	rb.push(bufferedMsg{topic: Topic, payload: []byte("{}")})

	got := rb.drainAll()
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].topic != "ac-button/button27" || got[0].qos != 1 || !got[0].retained || string(got[0].payload) != "ON" {
		t.Errorf("state message: got %+v", got[0])
	}
	if got[1].topic != Topic || got[1].qos != 0 || got[1].retained {
		t.Errorf("event message: got %+v", got[1])
	}
}
