// Package models defines data structures for calendar discovery and pricing.
package models

import "time"

// DateLayout is the calendar date format used by the upstream API.
const DateLayout = "2006-01-02"

// Status selects which days a range extraction looks at.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
)

// BookingDay is one day of a listing calendar. Date is midnight UTC.
type BookingDay struct {
	Date      time.Time `json:"date"`
	Available bool      `json:"available"`
	MinNights int       `json:"min_nights"`
	MaxNights int       `json:"max_nights"`
}

// DateRange is a maximal run of consecutive days sharing one status.
// End is exclusive.
type DateRange struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Length int       `json:"length"`
}

// StayConstraints holds the stay-length limits of a listing. Zero means unknown.
type StayConstraints struct {
	MinNights int `json:"min_nights,omitempty"`
	MaxNights int `json:"max_nights,omitempty"`
}

// Calendar is a parsed availability calendar, sorted by date.
type Calendar struct {
	Days        []BookingDay
	Constraints StayConstraints
}

// CountDays returns the number of days matching status.
func (c *Calendar) CountDays(status Status) int {
	if c == nil {
		return 0
	}
	want := status == StatusAvailable
	n := 0
	for _, day := range c.Days {
		if day.Available == want {
			n++
		}
	}
	return n
}
