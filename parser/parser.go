// Package parser turns upstream calendar and pricing documents into models
// and validates the records produced from them.
package parser

import (
	"fmt"
	"math"
	"strings"

	"github.com/aluiziolira/go-stay-rates/models"
)

// ValidateListingRates ensures a discovery record is coherent enough to persist.
func ValidateListingRates(r *models.ListingRates) error {
	if r == nil {
		return fmt.Errorf("listing rates is nil")
	}
	if strings.TrimSpace(r.ListingID) == "" {
		return fmt.Errorf("listing rates missing listing id")
	}
	c := r.Constraints
	if c.MinNights > 0 && c.MaxNights > 0 && c.MinNights > c.MaxNights {
		return fmt.Errorf("listing %s: min nights %d exceeds max nights %d", r.ListingID, c.MinNights, c.MaxNights)
	}
	if r.ScrapedAt.IsZero() {
		return fmt.Errorf("listing %s missing scraped_at", r.ListingID)
	}
	if s := r.Pricing.Summary; s != nil {
		if !finite(s.PriceNightly) || s.PriceNightly < 0 {
			return fmt.Errorf("listing %s: invalid nightly price %v", r.ListingID, s.PriceNightly)
		}
	}
	for _, lq := range r.Pricing.Quotes {
		if lq.Nights <= 0 {
			return fmt.Errorf("listing %s: quote with non-positive nights", r.ListingID)
		}
		if !finite(lq.Quote.PriceNightly) || !finite(lq.Quote.TaxRate) {
			return fmt.Errorf("listing %s: non-finite quote for %d nights", r.ListingID, lq.Nights)
		}
	}
	return nil
}

// NormalizeListingID accepts a bare listing id or a ".../rooms/<id>" URL and
// returns the bare id.
func NormalizeListingID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "/rooms/"); i >= 0 {
		id = id[i+len("/rooms/"):]
	}
	if i := strings.IndexAny(id, "?#/"); i >= 0 {
		id = id[:i]
	}
	return strings.TrimSpace(id)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
