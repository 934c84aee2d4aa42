package button

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Lifecycle error kinds. Failures wrap one of these together with the
// underlying cause; match them with errors.Is.
var (
	ErrInvalidPin          = errors.New("invalid pin")
	ErrAlreadyActive       = errors.New("button already exported")
	ErrNotActive           = errors.New("button not exported")
	ErrPinUnavailable      = errors.New("pin unavailable")
	ErrConfigurationFailed = errors.New("pin configuration failed")
	ErrSubscriptionFailed  = errors.New("signal subscription failed")
	ErrRegistrationFailed  = errors.New("device node registration failed")
	ErrClosed              = errors.New("button manager closed")
)

// ParsePin parses a pin number the way the kernel's kstrtol does with base 0:
// decimal, 0x-prefixed hex or 0-prefixed octal, surrounding whitespace
// ignored. Range against the table is checked later.
func ParsePin(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidPin)
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid pin number", ErrInvalidPin, s)
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidPin, n)
	}
	return int(n), nil
}
