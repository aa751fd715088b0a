package models

import "time"

// ListingRates is the record produced by one discovery call.
type ListingRates struct {
	ListingID     string          `json:"id"`
	DiscoveryID   string          `json:"discovery_id"`
	Constraints   StayConstraints `json:"constraints"`
	AvailableDays int             `json:"available_days"`
	BookedDays    int             `json:"booked_days"`
	Pricing       Sample          `json:"pricing"`
	ScrapedAt     time.Time       `json:"scraped_at"`
}

// RunResult holds the overall result of a discovery run.
type RunResult struct {
	StartTime      time.Time
	EndTime        time.Time
	ListingCount   int
	PricedCount    int
	RecordCount    int
	ErrorCount     int
	FailedListings []string
	ErrorsByType   map[string]int
	RetryCount     int
	RequestCount   int
}
