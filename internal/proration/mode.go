package proration

import (
	"errors"
	"strings"
)

// Mode selects how remaining credit on the current period is applied to a
// purchase.
type Mode string

const (
	// ModeExisting converts the remaining credit into days on the target plan.
	ModeExisting Mode = "existing"
	// ModeImmediate starts a full target cycle now and discounts the credit.
	ModeImmediate Mode = "immediate"
	// ModeScheduled queues the target plan after the current period.
	ModeScheduled Mode = "scheduled"
)

var ErrInvalidMode = errors.New("invalid_mode")

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeExisting:
		return ModeExisting, nil
	case ModeImmediate:
		return ModeImmediate, nil
	case ModeScheduled:
		return ModeScheduled, nil
	default:
		return "", ErrInvalidMode
	}
}

func (m Mode) Valid() bool {
	_, err := ParseMode(string(m))
	return err == nil
}
