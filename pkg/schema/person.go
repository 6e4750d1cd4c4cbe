package schema

import (
	"math"
	"time"
)

// Location is a GPS reading.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Person is a registered resident as held by the record store.
type Person struct {
	ID         int64     `json:"id"`
	Token      string    `json:"token"`
	FullName   string    `json:"full_name"`
	Status     Status    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	Location   *Location `json:"location,omitempty"`
}

// HasLocation reports whether a GPS reading was ever stored for the person.
func (p Person) HasLocation() bool { return p.Location != nil }

// View renders the person the way their own client sees it.
func (p Person) View() StatusView {
	v := StatusView{
		Token:       p.Token,
		FullName:    p.FullName,
		Status:      p.Status,
		StatusLabel: p.Status.Label(),
		LastUpdate:  p.LastUpdate,
		HasLocation: p.HasLocation(),
	}
	if p.Location != nil {
		v.Latitude = &p.Location.Latitude
		v.Longitude = &p.Location.Longitude
	}
	return v
}

// Person converts the view back into a Person. The internal id is not part
// of the view and stays zero.
func (v StatusView) Person() Person {
	p := Person{
		Token:      v.Token,
		FullName:   v.FullName,
		Status:     v.Status,
		LastUpdate: v.LastUpdate,
	}
	if v.Latitude != nil && v.Longitude != nil {
		p.Location = &Location{Latitude: *v.Latitude, Longitude: *v.Longitude}
	}
	return p
}

// RosterEntry returns the operator listing shape of the person.
func (p Person) RosterEntry() RosterEntry {
	return RosterEntry{
		ID:          p.ID,
		Token:       p.Token,
		FullName:    p.FullName,
		Status:      p.Status,
		StatusLabel: p.Status.Label(),
	}
}

// Absent returns the absence listing shape of the person.
func (p Person) Absent() AbsentPerson {
	a := AbsentPerson{
		FullName:    p.FullName,
		Status:      p.Status,
		StatusLabel: p.Status.Label(),
		HasLocation: p.HasLocation(),
	}
	if p.Location != nil {
		a.Latitude = &p.Location.Latitude
		a.Longitude = &p.Location.Longitude
	}
	return a
}

// StatusView is returned by register, getStatus and transition.
type StatusView struct {
	Token       string    `json:"token"`
	FullName    string    `json:"full_name"`
	Status      Status    `json:"status"`
	StatusLabel string    `json:"status_label"`
	LastUpdate  time.Time `json:"last_update"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	HasLocation bool      `json:"has_location"`
}

// RosterEntry is one row of the operator roster and search results.
type RosterEntry struct {
	ID          int64  `json:"id"`
	Token       string `json:"token"`
	FullName    string `json:"full_name"`
	Status      Status `json:"status"`
	StatusLabel string `json:"status_label"`
}

// AbsentPerson is one row of the absence list.
type AbsentPerson struct {
	FullName    string   `json:"full_name"`
	Status      Status   `json:"status"`
	StatusLabel string   `json:"status_label"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	HasLocation bool     `json:"has_location"`
}

// TransitionRequest is the input of a status transition. The coordinates are
// optional; a location is only taken into account when both are present.
type TransitionRequest struct {
	Status    string   `json:"status"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Location returns the supplied GPS reading, or nil if either coordinate is missing.
func (r TransitionRequest) Location() *Location {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
}

// Valid reports whether the coordinates are finite and within range.
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return math.Abs(l.Latitude) <= 90 && math.Abs(l.Longitude) <= 180
}

// Counts is the per-status aggregate of the roster.
type Counts struct {
	Inside  int `json:"inside"`
	Work    int `json:"work"`
	DayOff  int `json:"day_off"`
	Request int `json:"request"`
	Total   int `json:"total"`
}

// Add increments the bucket of s by n and the total.
func (c *Counts) Add(s Status, n int) {
	switch s {
	case StatusInside:
		c.Inside += n
	case StatusWork:
		c.Work += n
	case StatusDayOff:
		c.DayOff += n
	case StatusRequest:
		c.Request += n
	default:
		return
	}
	c.Total += n
}

// Absent is the number of people not inside the building.
func (c Counts) Absent() int { return c.Work + c.DayOff + c.Request }

// ResetResult is returned by a bulk reset.
type ResetResult struct {
	Message   string `json:"message"`
	NewStatus Status `json:"new_status"`
	Affected  int    `json:"affected"`
}

// DeleteResult is returned by a person deletion.
type DeleteResult struct {
	Message   string `json:"message"`
	DeletedID int64  `json:"deleted_id"`
}
