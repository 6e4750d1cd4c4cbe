// Package schema defines the data structures shared by the presence engine,
// its HTTP API and the SDK client.
package schema

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Status is the presence state of a resident. Only the four values below are
// ever persisted.
type Status string

const (
	StatusInside  Status = "inside"
	StatusWork    Status = "work"
	StatusDayOff  Status = "day_off"
	StatusRequest Status = "request"
)

// StatusNew is the pseudo status recorded as the old status of a registration.
const StatusNew Status = "NEW"

// Statuses lists the closed status set in display order.
var Statuses = []Status{StatusInside, StatusWork, StatusDayOff, StatusRequest}

// ParseStatus converts raw client input into a Status.
// Anything outside the closed set is a validation error.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", errors.Wrap(ErrValidation, fmt.Sprintf("unknown status %q", raw))
	}
	return s, nil
}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusInside, StatusWork, StatusDayOff, StatusRequest:
		return true
	}
	return false
}

// Label returns the operator-facing label of the status.
func (s Status) Label() string {
	switch s {
	case StatusInside:
		return "В здании"
	case StatusWork:
		return "На работе"
	case StatusDayOff:
		return "На сутки"
	case StatusRequest:
		return "По заявлению"
	}
	return string(s)
}

func (s Status) String() string { return string(s) }
