package standalone

import (
	"errors"
	"strconv"
	"strings"

	"motionfw/core"
)

var ErrInvalidPin = errors.New("invalid pin name")

// ParsePin resolves a configured pin name. "gpio12", "GP12" and "12" all
// name GPIO 12.
func ParsePin(name string) (core.GPIOPin, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "gpio")
	s = strings.TrimPrefix(s, "gp")
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || s == "" {
		return 0, ErrInvalidPin
	}
	return core.GPIOPin(n), nil
}
