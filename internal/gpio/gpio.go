// Package gpio provides GPIO line ownership with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// DefaultChip is the GPIO chip used on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Bias is the pull resistor applied to an input line.
type Bias string

const (
	BiasPullUp   Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
	BiasDisabled Bias = "disabled"
)

// Edge selects which transitions raise an edge event.
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeBoth
)

// EdgeEvent is delivered to a watch handler for every detected edge.
type EdgeEvent struct {
	Offset int
	Rising bool
}

// Chip hands out exclusive ownership of its lines.
type Chip interface {
	// Lines returns the number of lines on the chip.
	Lines() int

	// Request reserves a line. It fails if the line is already owned,
	// by this process or any other.
	Request(offset int) (Line, error)

	// Close releases the chip. Lines must be closed first.
	Close() error
}

// Line is a reserved GPIO line.
type Line interface {
	Offset() int

	// SetInput configures the line as an input with the given bias.
	SetInput(bias Bias) error

	// Restore puts the line back to the boot default (input, pull-down).
	Restore() error

	// Watch enables edge detection. handler runs on the event goroutine
	// and must not block.
	Watch(edge Edge, handler func(EdgeEvent)) error

	// Unwatch disables edge detection. No handler call starts after it returns.
	Unwatch() error

	// Value returns the raw electrical level (0 low, 1 high).
	Value() (int, error)

	// Close releases the reservation.
	Close() error
}
