package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sweeney/ac-button/internal/logic"
)

// DefaultBufferSize is how many messages are kept while the broker is
// unreachable.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker string
	// ClientID defaults to "ac-button-" plus a random suffix.
	ClientID   string
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed, oldest first, on (re)connect.
type RealPublisher struct {
	client paho.Client

	mu          sync.Mutex
	buf         *ringBuffer
	connectedAt time.Time
}

// NewRealPublisher starts connecting to the broker and returns immediately.
// paho keeps retrying in the background.
func NewRealPublisher(o Options) *RealPublisher {
	if o.ClientID == "" {
		o.ClientID = "ac-button-" + uuid.NewString()[:8]
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{buf: newRingBuffer(o.BufferSize)}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "MQTT_DISCONNECT"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	log.Printf("mqtt: connecting to %s as %s", o.Broker, o.ClientID)
	return p
}

func newPublisher(client paho.Client, bufferSize int) *RealPublisher {
	return &RealPublisher{client: client, buf: newRingBuffer(bufferSize)}
}

// onConnect replays buffered messages. On a reconnect it first announces
// RECONNECTED.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := !p.connectedAt.IsZero()
	p.connectedAt = time.Now()
	pending := p.buf.drainAll()
	p.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d buffered messages", len(pending))
	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(TopicSystem, 1, false, payload)
	}
	for _, msg := range pending {
		c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Publish sends a button event, then the pin's retained state.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	if err := p.publish(Topic, 0, false, payload); err != nil {
		return err
	}
	return p.publish(EventTopic(event.Pin), 1, true, []byte(StateString(event.Pressed())))
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	msg := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	if !p.client.IsConnected() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
