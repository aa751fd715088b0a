package parser

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aluiziolira/go-stay-rates/models"
)

// ErrMalformedPricing marks a price breakdown whose shape does not match the
// known line-item taxonomy.
var ErrMalformedPricing = errors.New("malformed pricing")

const (
	micros        = 1_000_000
	maxPriceItems = 5
)

var knownCategories = []models.PriceCategory{
	models.CategoryAccommodation,
	models.CategoryGuestFee,
	models.CategoryCleaningFee,
	models.CategoryDiscount,
	models.CategoryTaxes,
}

var (
	weeklyDiscountLabels  = []string{"Weekly discount", "Weekly stay discount"}
	monthlyDiscountLabels = []string{"Monthly discount", "Monthly stay discount"}
)

// NormalizePricing converts a raw price breakdown for a stay of nights into a
// PricingQuote. Shape violations are reported wrapping ErrMalformedPricing.
func NormalizePricing(breakdown models.PriceBreakdown, nights int) (models.PricingQuote, error) {
	if nights <= 0 {
		return models.PricingQuote{}, fmt.Errorf("nights must be positive, got %d", nights)
	}

	items := breakdown.PriceItems
	if len(items) > maxPriceItems {
		types := make([]string, 0, len(items))
		for _, item := range items {
			types = append(types, string(item.Type))
		}
		return models.PricingQuote{}, fmt.Errorf("%w: unexpected extra section types: %s", ErrMalformedPricing, strings.Join(types, ", "))
	}

	byCategory := make(map[models.PriceCategory]models.PriceItem, len(knownCategories))
	for _, category := range knownCategories {
		var found []models.PriceItem
		for _, item := range items {
			if item.Type == category {
				found = append(found, item)
			}
		}
		switch len(found) {
		case 0:
			if category == models.CategoryAccommodation {
				return models.PricingQuote{}, fmt.Errorf("%w: no %s pricing found", ErrMalformedPricing, category)
			}
		case 1:
			byCategory[category] = found[0]
		default:
			return models.PricingQuote{}, fmt.Errorf("%w: multiple %s line items", ErrMalformedPricing, category)
		}
	}

	accommodation := fromMicros(byCategory[models.CategoryAccommodation].Total)
	cleaning := amountOf(byCategory, models.CategoryCleaningFee)
	taxes := amountOf(byCategory, models.CategoryTaxes)

	quote := models.PricingQuote{
		Nights:             nights,
		PriceNightly:       accommodation / float64(nights),
		PriceAccommodation: accommodation,
		PriceCleaning:      cleaning,
		Taxes:              taxes,
		AirbnbFee:          amountOf(byCategory, models.CategoryGuestFee),
		Total:              fromMicros(breakdown.Total.Total),
	}

	taxable := accommodation + cleaning
	discountItem, hasDiscount := byCategory[models.CategoryDiscount]
	if hasDiscount {
		// Discounts arrive as negative amounts.
		discount := -fromMicros(discountItem.Total)
		taxable -= discount
		if accommodation <= 0 {
			return models.PricingQuote{}, fmt.Errorf("%w: discount on non-positive accommodation %.2f", ErrMalformedPricing, accommodation)
		}
		ratio := discount / accommodation
		switch {
		case slices.Contains(weeklyDiscountLabels, discountItem.LocalizedTitle):
			quote.DiscountWeekly = &ratio
		case slices.Contains(monthlyDiscountLabels, discountItem.LocalizedTitle):
			quote.DiscountMonthly = &ratio
		default:
			return models.PricingQuote{}, fmt.Errorf("%w: unhandled discount type %q", ErrMalformedPricing, discountItem.LocalizedTitle)
		}
		quote.Discount = &discount
	}

	if taxable <= 0 {
		return models.PricingQuote{}, fmt.Errorf("%w: non-positive taxable amount %.2f", ErrMalformedPricing, taxable)
	}
	quote.TaxRate = taxes / taxable

	return quote, nil
}

func fromMicros(m models.Money) float64 {
	return float64(m.AmountMicros) / micros
}

func amountOf(items map[models.PriceCategory]models.PriceItem, category models.PriceCategory) float64 {
	item, ok := items[category]
	if !ok {
		return 0
	}
	return fromMicros(item.Total)
}
