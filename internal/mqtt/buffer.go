package mqtt

import "log"

// bufferedMsg is a serialized message held until the broker is reachable.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the most recent messages, oldest first. Not safe for
// concurrent use; RealPublisher guards it with its mutex.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // overwritten since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	size := len(r.buf)
	if r.count == size {
		if r.dropped == 0 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", size)
		}
		r.dropped++
	} else {
		r.count++
	}
	// When full, head already points at the oldest entry
	r.buf[r.head] = msg
	r.head = (r.head + 1) % size
}

// drainAll empties the buffer and returns its contents, oldest first.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	if r.dropped > 0 {
		log.Printf("mqtt: %d buffered messages were lost while disconnected", r.dropped)
	}

	size := len(r.buf)
	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + size) % size
	for i := range out {
		out[i] = r.buf[(start+i)%size]
		r.buf[(start+i)%size] = bufferedMsg{}
	}

	r.count = 0
	r.head = 0
	r.dropped = 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
