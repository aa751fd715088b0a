// Package sampler probes listing prices at a small set of representative
// stay lengths.
package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-stay-rates/models"
)

const (
	weekNights  = 7
	monthNights = 28
)

// QuoteFetcher returns a normalized quote for a stay.
type QuoteFetcher interface {
	Quote(ctx context.Context, listingID string, checkin, checkout time.Time) (models.PricingQuote, error)
}

// Hooks lets callers observe sampler decisions, e.g. for metrics.
type Hooks struct {
	OnCooldown func()
}

// Sampler searches date ranges for valid quotes.
type Sampler struct {
	fetcher  QuoteFetcher
	cooldown time.Duration
	isOutage func(error) bool
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	hooks    Hooks
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSleep replaces the cool-down sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sampler) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(s *Sampler) {
		s.hooks = h
	}
}

// New builds a sampler. isOutage decides which lookup failures indicate
// a network outage and therefore warrant the cool-down before the next
// candidate range.
func New(fetcher QuoteFetcher, cooldown time.Duration, isOutage func(error) bool, opts ...Option) *Sampler {
	s := &Sampler{
		fetcher:  fetcher,
		cooldown: cooldown,
		isOutage: isOutage,
		logger:   slog.Default(),
		sleep:    sleep,
	}
	if s.isOutage == nil {
		s.isOutage = func(error) bool { return false }
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TestLengths returns the stay lengths to probe for the given constraints,
// in probing order and without duplicates. Lengths outside
// [MinNights, MaxNights] are dropped; an unknown minimum is treated as one
// night and an unknown maximum as unbounded.
func TestLengths(c models.StayConstraints) []int {
	minNights, maxNights := c.MinNights, c.MaxNights
	if minNights <= 0 {
		minNights = 1
	}
	unbounded := maxNights <= 0

	var candidates []int
	switch {
	case minNights > monthNights:
		candidates = []int{minNights}
	case minNights >= weekNights:
		if unbounded || maxNights >= monthNights {
			candidates = []int{minNights, monthNights}
		} else {
			candidates = []int{minNights}
		}
	default:
		switch {
		case unbounded || maxNights >= monthNights:
			candidates = []int{minNights, weekNights, monthNights}
		case maxNights >= weekNights:
			candidates = []int{minNights, weekNights}
		default:
			candidates = []int{minNights}
		}
	}

	lengths := make([]int, 0, len(candidates))
	seen := make(map[int]bool, len(candidates))
	for _, n := range candidates {
		if n < minNights || (!unbounded && n > maxNights) || seen[n] {
			continue
		}
		seen[n] = true
		lengths = append(lengths, n)
	}
	return lengths
}

// Sample prices the listing at each test length, trying the candidate ranges
// from the most recent backwards. ranges must be in chronological order.
// With fullData, or when no length resolves, the raw quotes are returned;
// otherwise they are condensed into a summary. Only context cancellation is
// reported as an error.
func (s *Sampler) Sample(ctx context.Context, listingID string, ranges []models.DateRange, constraints models.StayConstraints, fullData bool) (models.Sample, error) {
	logger := s.logger.With(slog.String("listing_id", listingID))

	var quotes []models.LengthQuote
	for _, length := range TestLengths(constraints) {
		quote, ok, err := s.probe(ctx, logger, listingID, ranges, length)
		if err != nil {
			return models.Sample{}, err
		}
		if !ok {
			logger.Warn("unable to find available range", slog.Int("nights", length))
			continue
		}
		quotes = append(quotes, models.LengthQuote{Nights: length, Quote: quote})
	}

	if fullData || len(quotes) == 0 {
		return models.Sample{Quotes: quotes}, nil
	}
	return models.Sample{Summary: Condense(quotes, constraints)}, nil
}

func (s *Sampler) probe(ctx context.Context, logger *slog.Logger, listingID string, ranges []models.DateRange, length int) (models.PricingQuote, bool, error) {
	for i := len(ranges) - 1; i >= 0; i-- {
		r := ranges[i]
		if r.Length < length {
			continue
		}
		if err := ctx.Err(); err != nil {
			return models.PricingQuote{}, false, err
		}

		checkin := r.Start
		checkout := r.Start.AddDate(0, 0, length)
		quote, err := s.fetcher.Quote(ctx, listingID, checkin, checkout)
		if err == nil {
			return quote, true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.PricingQuote{}, false, ctxErr
		}

		logger.Error("could not get pricing data",
			slog.String("checkin", checkin.Format(models.DateLayout)),
			slog.Int("nights", length),
			slog.Any("error", err),
		)
		if s.isOutage(err) {
			if s.hooks.OnCooldown != nil {
				s.hooks.OnCooldown()
			}
			logger.Warn("cooling down before next range", slog.Duration("delay", s.cooldown))
			if err := s.sleep(ctx, s.cooldown); err != nil {
				return models.PricingQuote{}, false, err
			}
		}
	}
	return models.PricingQuote{}, false, nil
}

// Condense reduces resolved quotes to a summary: the most recently resolved
// quote supplies the nightly and cleaning prices, the weekly discount comes
// from the 7-night quote and the monthly discount from the quote at the
// monthly length (MinNights when above 28, otherwise 28).
func Condense(quotes []models.LengthQuote, constraints models.StayConstraints) *models.PricingSummary {
	if len(quotes) == 0 {
		return nil
	}
	baseline := quotes[len(quotes)-1].Quote
	summary := &models.PricingSummary{
		PriceNightly:  baseline.PriceNightly,
		PriceCleaning: baseline.PriceCleaning,
	}

	sample := models.Sample{Quotes: quotes}
	if weekly, ok := sample.Quote(weekNights); ok && weekly.DiscountWeekly != nil {
		v := *weekly.DiscountWeekly
		summary.DiscountWeekly = &v
	}
	monthlyLength := monthNights
	if constraints.MinNights > monthNights {
		monthlyLength = constraints.MinNights
	}
	if monthly, ok := sample.Quote(monthlyLength); ok && monthly.DiscountMonthly != nil {
		v := *monthly.DiscountMonthly
		summary.DiscountMonthly = &v
	}
	return summary
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
