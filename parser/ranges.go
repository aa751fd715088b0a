package parser

import (
	"time"

	"github.com/aluiziolira/go-stay-rates/models"
)

const day = 24 * time.Hour

// ExtractRanges groups the days matching status into maximal runs of
// consecutive dates. days must already be sorted by date; unsorted input
// produces unspecified ranges.
func ExtractRanges(days []models.BookingDay, status models.Status) []models.DateRange {
	want := status == models.StatusAvailable

	ranges := make([]models.DateRange, 0)
	var (
		start, last time.Time
		open        bool
	)
	flush := func() {
		end := last.Add(day)
		ranges = append(ranges, models.DateRange{
			Start:  start,
			End:    end,
			Length: DaysBetween(start, end),
		})
	}

	for _, d := range days {
		if d.Available != want {
			continue
		}
		if open && DaysBetween(last, d.Date) == 1 {
			last = d.Date
			continue
		}
		if open {
			flush()
		}
		start, last, open = d.Date, d.Date, true
	}
	if open {
		flush()
	}
	return ranges
}

// DaysBetween returns the whole number of days from a to b. Both dates are
// expected at midnight UTC.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a) / day)
}
