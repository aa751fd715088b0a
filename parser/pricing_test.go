package parser

import (
	"errors"
	"math"
	"testing"

	"github.com/aluiziolira/go-stay-rates/models"
)

func item(category models.PriceCategory, micros int64) models.PriceItem {
	return models.PriceItem{Type: category, Total: models.Money{AmountMicros: micros}}
}

func breakdown(total int64, items ...models.PriceItem) models.PriceBreakdown {
	b := models.PriceBreakdown{PriceItems: items}
	b.Total.Total.AmountMicros = total
	return b
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalizePricingBasic(t *testing.T) {
	b := breakdown(123_450_000,
		item(models.CategoryAccommodation, 100_000_000),
		item(models.CategoryTaxes, 10_000_000),
		item(models.CategoryCleaningFee, 0),
	)

	quote, err := NormalizePricing(b, 4)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !approx(quote.PriceNightly, 25) {
		t.Fatalf("price nightly = %v, want 25", quote.PriceNightly)
	}
	if !approx(quote.Taxes, 10) {
		t.Fatalf("taxes = %v, want 10", quote.Taxes)
	}
	if !approx(quote.TaxRate, 0.1) {
		t.Fatalf("tax rate = %v, want 0.1", quote.TaxRate)
	}
	if !approx(quote.Total, 123.45) {
		t.Fatalf("total = %v, want 123.45", quote.Total)
	}
	if quote.Discount != nil || quote.DiscountWeekly != nil || quote.DiscountMonthly != nil {
		t.Fatalf("expected no discount fields, got %+v", quote)
	}
	if quote.AirbnbFee != 0 {
		t.Fatalf("airbnb fee = %v, want 0", quote.AirbnbFee)
	}
}

func TestNormalizePricingDiscounts(t *testing.T) {
	tests := []struct {
		name        string
		label       string
		wantWeekly  bool
		wantMonthly bool
	}{
		{name: "weekly", label: "Weekly discount", wantWeekly: true},
		{name: "weekly stay", label: "Weekly stay discount", wantWeekly: true},
		{name: "monthly", label: "Monthly discount", wantMonthly: true},
		{name: "monthly stay", label: "Monthly stay discount", wantMonthly: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount := item(models.CategoryDiscount, -20_000_000)
			discount.LocalizedTitle = tt.label
			b := breakdown(0,
				item(models.CategoryAccommodation, 200_000_000),
				item(models.CategoryCleaningFee, 20_000_000),
				item(models.CategoryTaxes, 20_000_000),
				item(models.CategoryGuestFee, 30_000_000),
				discount,
			)

			quote, err := NormalizePricing(b, 7)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if quote.Discount == nil || !approx(*quote.Discount, 20) {
				t.Fatalf("discount = %v, want 20", quote.Discount)
			}
			// 20 / (200 + 20 - 20)
			if !approx(quote.TaxRate, 0.1) {
				t.Fatalf("tax rate = %v, want 0.1", quote.TaxRate)
			}
			if !approx(quote.AirbnbFee, 30) {
				t.Fatalf("airbnb fee = %v, want 30", quote.AirbnbFee)
			}
			if (quote.DiscountWeekly != nil) != tt.wantWeekly {
				t.Fatalf("weekly discount presence = %v, want %v", quote.DiscountWeekly != nil, tt.wantWeekly)
			}
			if (quote.DiscountMonthly != nil) != tt.wantMonthly {
				t.Fatalf("monthly discount presence = %v, want %v", quote.DiscountMonthly != nil, tt.wantMonthly)
			}
			ratio := quote.DiscountWeekly
			if ratio == nil {
				ratio = quote.DiscountMonthly
			}
			if !approx(*ratio, 0.1) {
				t.Fatalf("discount ratio = %v, want 0.1", *ratio)
			}
		})
	}
}

func TestNormalizePricingMalformed(t *testing.T) {
	unknownDiscount := item(models.CategoryDiscount, -1_000_000)
	unknownDiscount.LocalizedTitle = "Early bird discount"

	tests := []struct {
		name string
		b    models.PriceBreakdown
	}{
		{
			name: "missing accommodation",
			b:    breakdown(0, item(models.CategoryTaxes, 1_000_000)),
		},
		{
			name: "too many items",
			b: breakdown(0,
				item(models.CategoryAccommodation, 1_000_000),
				item(models.CategoryTaxes, 1_000_000),
				item(models.CategoryCleaningFee, 1_000_000),
				item(models.CategoryGuestFee, 1_000_000),
				item("LONG_STAY_FEE", 1_000_000),
				item("PET_FEE", 1_000_000),
			),
		},
		{
			name: "duplicate category",
			b: breakdown(0,
				item(models.CategoryAccommodation, 1_000_000),
				item(models.CategoryCleaningFee, 1_000_000),
				item(models.CategoryCleaningFee, 2_000_000),
			),
		},
		{
			name: "unrecognised discount label",
			b: breakdown(0,
				item(models.CategoryAccommodation, 10_000_000),
				unknownDiscount,
			),
		},
		{
			name: "zero taxable amount",
			b:    breakdown(0, item(models.CategoryAccommodation, 0)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizePricing(tt.b, 3)
			if !errors.Is(err, ErrMalformedPricing) {
				t.Fatalf("expected ErrMalformedPricing, got %v", err)
			}
		})
	}
}

func TestNormalizePricingRejectsNonPositiveNights(t *testing.T) {
	b := breakdown(0, item(models.CategoryAccommodation, 1_000_000))
	if _, err := NormalizePricing(b, 0); err == nil {
		t.Fatalf("expected error for zero nights")
	}
}
