//go:build !linux

package gpio

import "errors"

// RealChip is not available on non-Linux platforms.
type RealChip struct{}

// NewRealChip returns an error on non-Linux platforms.
func NewRealChip(name string) (*RealChip, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Lines is not implemented on non-Linux platforms.
func (c *RealChip) Lines() int {
	return 0
}

// Request is not implemented on non-Linux platforms.
func (c *RealChip) Request(offset int) (Line, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (c *RealChip) Close() error {
	return nil
}
