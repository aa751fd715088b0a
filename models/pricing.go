package models

// PriceCategory is the type of a price breakdown line item.
type PriceCategory string

const (
	CategoryAccommodation PriceCategory = "ACCOMMODATION"
	CategoryGuestFee      PriceCategory = "AIRBNB_GUEST_FEE"
	CategoryCleaningFee   PriceCategory = "CLEANING_FEE"
	CategoryDiscount      PriceCategory = "DISCOUNT"
	CategoryTaxes         PriceCategory = "TAXES"
)

// Money is an upstream amount encoded in millionths of the currency unit.
type Money struct {
	AmountMicros int64  `json:"amountMicros"`
	Currency     string `json:"currency,omitempty"`
}

// PriceItem is a single line of a price breakdown.
type PriceItem struct {
	Type           PriceCategory `json:"type"`
	LocalizedTitle string        `json:"localizedTitle"`
	Total          Money         `json:"total"`
}

// PriceBreakdown is the raw price document returned by the checkout endpoint.
type PriceBreakdown struct {
	PriceItems []PriceItem `json:"priceItems"`
	Total      struct {
		Total Money `json:"total"`
	} `json:"total"`
}

// PricingQuote is a normalized price for one stay. Discount fields are nil
// when the breakdown carries no matching discount.
type PricingQuote struct {
	Nights             int      `json:"nights"`
	PriceNightly       float64  `json:"price_nightly"`
	PriceAccommodation float64  `json:"price_accommodation"`
	PriceCleaning      float64  `json:"price_cleaning"`
	Taxes              float64  `json:"taxes"`
	AirbnbFee          float64  `json:"airbnb_fee"`
	Total              float64  `json:"total"`
	TaxRate            float64  `json:"tax_rate"`
	Discount           *float64 `json:"discount,omitempty"`
	DiscountWeekly     *float64 `json:"discount_weekly,omitempty"`
	DiscountMonthly    *float64 `json:"discount_monthly,omitempty"`
}

// LengthQuote pairs a tested stay length with its quote.
type LengthQuote struct {
	Nights int          `json:"nights"`
	Quote  PricingQuote `json:"quote"`
}

// PricingSummary is the condensed view of a sample.
type PricingSummary struct {
	PriceNightly    float64  `json:"price_nightly"`
	PriceCleaning   float64  `json:"price_cleaning"`
	DiscountWeekly  *float64 `json:"discount_weekly,omitempty"`
	DiscountMonthly *float64 `json:"discount_monthly,omitempty"`
}

// Sample is the result of pricing discovery for one listing. Exactly one of
// Quotes (full data, or nothing resolved) and Summary is meaningful.
// Quotes keep the order in which lengths were resolved.
type Sample struct {
	Quotes  []LengthQuote   `json:"quotes,omitempty"`
	Summary *PricingSummary `json:"summary,omitempty"`
}

// Quote returns the quote resolved for nights, if any.
func (s Sample) Quote(nights int) (PricingQuote, bool) {
	for _, lq := range s.Quotes {
		if lq.Nights == nights {
			return lq.Quote, true
		}
	}
	return PricingQuote{}, false
}

// Empty reports whether the sample carries no pricing at all.
func (s Sample) Empty() bool {
	return s.Summary == nil && len(s.Quotes) == 0
}
