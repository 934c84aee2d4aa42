package button

import (
	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
)

// Source decides when channels are sampled.
type Source interface {
	// Strategy identifies the debounce rules applied to this source's samples.
	Strategy() logic.Strategy

	// Subscribe arranges for samples of ch to be taken from line. It runs
	// before ch is marked active.
	Subscribe(ch *Channel, line gpio.Line) (Subscription, error)

	// Activate is called after a channel has been marked active.
	Activate()

	// Close releases process-wide resources. Channels are unexported first.
	Close() error
}

// Subscription is a channel's hold on its source.
type Subscription interface {
	Cancel() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Cancel calls f.
func (f SubscriptionFunc) Cancel() error {
	return f()
}

// Notifier is informed of committed transitions. It is called from the
// sampling path and must not block.
type Notifier interface {
	Notify(ev logic.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(logic.Event)

// Notify calls f.
func (f NotifierFunc) Notify(ev logic.Event) {
	f(ev)
}

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

// Notify calls every notifier.
func (ns Notifiers) Notify(ev logic.Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ev)
		}
	}
}

// Registry exposes exported channels as device nodes.
type Registry interface {
	// Register creates the node for pin. It fails if one already exists.
	Register(pin int) (Node, error)
}

// Node is a registered device node.
type Node interface {
	// Changed tells readers of the node that its value is now pressed.
	// Called from the sampling path.
	Changed(pressed bool)

	// Unregister removes the node.
	Unregister() error
}
