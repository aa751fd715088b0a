package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aluiziolira/go-stay-rates/models"
)

// ErrMalformedCalendar marks a calendar document that cannot be interpreted.
var ErrMalformedCalendar = errors.New("malformed calendar")

type calendarDocument struct {
	Data struct {
		Merlin struct {
			PdpAvailabilityCalendar *struct {
				CalendarMonths []struct {
					Days []calendarDay `json:"days"`
				} `json:"calendarMonths"`
				Metadata struct {
					ConstantMinNights *int `json:"constantMinNights"`
					ConstantMaxNights *int `json:"constantMaxNights"`
				} `json:"metadata"`
			} `json:"pdpAvailabilityCalendar"`
		} `json:"merlin"`
	} `json:"data"`
}

type calendarDay struct {
	CalendarDate string `json:"calendarDate"`
	Available    bool   `json:"available"`
	MinNights    int    `json:"minNights"`
	MaxNights    int    `json:"maxNights"`
}

// ParseCalendar decodes an availability calendar response. Days are returned
// sorted by date; a date repeated across months keeps its last occurrence.
// Stay constraints are the mode of the available days' limits, overridden by
// the calendar metadata when present.
func ParseCalendar(raw []byte) (*models.Calendar, error) {
	var doc calendarDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedCalendar, err)
	}
	cal := doc.Data.Merlin.PdpAvailabilityCalendar
	if cal == nil {
		return nil, fmt.Errorf("%w: missing pdpAvailabilityCalendar", ErrMalformedCalendar)
	}

	byDate := make(map[time.Time]models.BookingDay)
	var minNights, maxNights []int
	for _, month := range cal.CalendarMonths {
		for _, day := range month.Days {
			date, err := ParseDate(day.CalendarDate)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedCalendar, err)
			}
			byDate[date] = models.BookingDay{
				Date:      date,
				Available: day.Available,
				MinNights: day.MinNights,
				MaxNights: day.MaxNights,
			}
			if day.Available {
				minNights = append(minNights, day.MinNights)
				maxNights = append(maxNights, day.MaxNights)
			}
		}
	}

	days := make([]models.BookingDay, 0, len(byDate))
	for _, day := range byDate {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Date.Before(days[j].Date)
	})

	constraints := models.StayConstraints{
		MinNights: mode(minNights),
		MaxNights: mode(maxNights),
	}
	if v := cal.Metadata.ConstantMinNights; v != nil {
		constraints.MinNights = *v
	}
	if v := cal.Metadata.ConstantMaxNights; v != nil {
		constraints.MaxNights = *v
	}

	return &models.Calendar{Days: days, Constraints: constraints}, nil
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// mode returns the most common value, preferring the first seen on ties.
// An empty input yields 0.
func mode(values []int) int {
	counts := make(map[int]int, len(values))
	order := make([]int, 0, len(values))
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best, bestCount := 0, 0
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}
