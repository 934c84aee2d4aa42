//go:build linux

package gpio

import (
	"fmt"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

// Consumer is the label the kernel shows for lines owned by this process.
const Consumer = "ac-button"

// RealChip owns lines on an actual GPIO character device.
type RealChip struct {
	chip *gpiocdev.Chip
}

// NewRealChip opens the named chip, e.g. "gpiochip0".
func NewRealChip(name string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealChip{chip: chip}, nil
}

// Lines returns the number of lines on the chip.
func (c *RealChip) Lines() int {
	return c.chip.Lines()
}

// Request reserves the line without touching its direction. Edge events are
// routed through the line so detection can be switched on later.
func (c *RealChip) Request(offset int) (Line, error) {
	l := &RealLine{offset: offset}
	line, err := c.chip.RequestLine(offset, gpiocdev.AsIs, gpiocdev.WithEventHandler(l.onEvent))
	if err != nil {
		return nil, fmt.Errorf("request line %d: %w", offset, err)
	}
	l.line = line
	return l, nil
}

// Close releases the chip.
func (c *RealChip) Close() error {
	return c.chip.Close()
}

// RealLine is a line requested from a RealChip.
type RealLine struct {
	line    *gpiocdev.Line
	offset  int
	handler atomic.Pointer[func(EdgeEvent)]
}

// Offset returns the line number on its chip.
func (l *RealLine) Offset() int {
	return l.offset
}

// SetInput configures the line as an input with the given bias.
func (l *RealLine) SetInput(bias Bias) error {
	var biasOpt gpiocdev.LineConfigOption
	switch bias {
	case BiasPullUp:
		biasOpt = gpiocdev.WithPullUp
	case BiasPullDown:
		biasOpt = gpiocdev.WithPullDown
	default:
		biasOpt = gpiocdev.WithBiasDisabled
	}
	if err := l.line.Reconfigure(gpiocdev.AsInput, biasOpt); err != nil {
		return fmt.Errorf("configure line %d: %w", l.offset, err)
	}
	return nil
}

// Restore reconfigures the line to match Raspberry Pi boot defaults (input
// with pull-down) so external hardware sees a clean state after release.
func (l *RealLine) Restore() error {
	if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		return fmt.Errorf("restore line %d: %w", l.offset, err)
	}
	return nil
}

// Watch enables edge detection and routes events to handler.
func (l *RealLine) Watch(edge Edge, handler func(EdgeEvent)) error {
	var edgeOpt gpiocdev.LineConfigOption
	switch edge {
	case EdgeFalling:
		edgeOpt = gpiocdev.WithFallingEdge
	case EdgeBoth:
		edgeOpt = gpiocdev.WithBothEdges
	default:
		edgeOpt = gpiocdev.WithRisingEdge
	}
	l.handler.Store(&handler)
	if err := l.line.Reconfigure(edgeOpt); err != nil {
		l.handler.Store(nil)
		return fmt.Errorf("watch line %d: %w", l.offset, err)
	}
	return nil
}

// Unwatch disables edge detection.
func (l *RealLine) Unwatch() error {
	err := l.line.Reconfigure(gpiocdev.WithoutEdges)
	l.handler.Store(nil)
	if err != nil {
		return fmt.Errorf("unwatch line %d: %w", l.offset, err)
	}
	return nil
}

// Value returns the raw line level.
func (l *RealLine) Value() (int, error) {
	v, err := l.line.Value()
	if err != nil {
		return 0, fmt.Errorf("read line %d: %w", l.offset, err)
	}
	return v, nil
}

// Close releases the line.
func (l *RealLine) Close() error {
	l.handler.Store(nil)
	if err := l.line.Close(); err != nil {
		return fmt.Errorf("close line %d: %w", l.offset, err)
	}
	return nil
}

func (l *RealLine) onEvent(evt gpiocdev.LineEvent) {
	h := l.handler.Load()
	if h == nil {
		return
	}
	(*h)(EdgeEvent{
		Offset: evt.Offset,
		Rising: evt.Type == gpiocdev.LineEventRisingEdge,
	})
}
