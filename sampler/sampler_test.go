package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/aluiziolira/go-stay-rates/models"
)

var (
	errMalformed = errors.New("malformed")
	errOutage    = errors.New("outage")
)

type call struct {
	checkin time.Time
	nights  int
}

// scriptedFetcher answers lookups from a map keyed by "checkin/nights".
// Missing keys fail with errMalformed.
type scriptedFetcher struct {
	responses map[string]error
	quotes    map[int]models.PricingQuote
	calls     []call
}

func key(checkin time.Time, nights int) string {
	return fmt.Sprintf("%s/%d", checkin.Format(models.DateLayout), nights)
}

func (f *scriptedFetcher) Quote(_ context.Context, _ string, checkin, checkout time.Time) (models.PricingQuote, error) {
	nights := int(checkout.Sub(checkin) / (24 * time.Hour))
	f.calls = append(f.calls, call{checkin: checkin, nights: nights})
	err, ok := f.responses[key(checkin, nights)]
	if !ok {
		return models.PricingQuote{}, errMalformed
	}
	if err != nil {
		return models.PricingQuote{}, err
	}
	if q, ok := f.quotes[nights]; ok {
		return q, nil
	}
	return models.PricingQuote{Nights: nights, PriceNightly: float64(100 - nights)}, nil
}

var base = time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

func dateRange(offset, length int) models.DateRange {
	start := base.AddDate(0, 0, offset)
	return models.DateRange{Start: start, End: start.AddDate(0, 0, length), Length: length}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestSampler(f QuoteFetcher, rec *sleepRecorder) *Sampler {
	return New(f, time.Minute, func(err error) bool { return errors.Is(err, errOutage) },
		WithLogger(quietLogger()),
		WithSleep(rec.sleep),
	)
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestTestLengths(t *testing.T) {
	tests := []struct {
		min, max int
		want     []int
	}{
		{min: 2, max: 40, want: []int{2, 7, 28}},
		{min: 30, max: 60, want: []int{30}},
		{min: 10, max: 15, want: []int{10}},
		{min: 10, max: 28, want: []int{10, 28}},
		{min: 28, max: 28, want: []int{28}},
		{min: 7, max: 365, want: []int{7, 28}},
		{min: 3, max: 20, want: []int{3, 7}},
		{min: 3, max: 5, want: []int{3}},
		{min: 1, max: 7, want: []int{1, 7}},
		{min: 5, max: 3, want: []int{}},
		{min: 0, max: 0, want: []int{1, 7, 28}},
		{min: 2, max: 0, want: []int{2, 7, 28}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("min%d_max%d", tt.min, tt.max), func(t *testing.T) {
			got := TestLengths(models.StayConstraints{MinNights: tt.min, MaxNights: tt.max})
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("TestLengths(%d, %d) = %v, want %v", tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestSampleFallsBackToEarlierRange(t *testing.T) {
	// Chronological ranges of lengths 10, 8 and 3.
	ranges := []models.DateRange{dateRange(0, 10), dateRange(20, 8), dateRange(40, 3)}
	f := &scriptedFetcher{responses: map[string]error{
		key(ranges[0].Start, 8): nil,
	}}
	rec := &sleepRecorder{}
	s := newTestSampler(f, rec)

	sample, err := s.Sample(context.Background(), "1", ranges, models.StayConstraints{MinNights: 8, MaxNights: 10}, true)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	want := []call{
		{checkin: ranges[1].Start, nights: 8},
		{checkin: ranges[0].Start, nights: 8},
	}
	if !reflect.DeepEqual(f.calls, want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("validation failures should not sleep, got %v", rec.delays)
	}
	if _, ok := sample.Quote(8); !ok {
		t.Fatalf("expected 8-night quote")
	}
}

func TestSampleOutageCooldown(t *testing.T) {
	ranges := []models.DateRange{dateRange(0, 5), dateRange(10, 5)}
	f := &scriptedFetcher{responses: map[string]error{
		key(ranges[1].Start, 2): errOutage,
		key(ranges[0].Start, 2): nil,
	}}
	rec := &sleepRecorder{}
	s := newTestSampler(f, rec)

	sample, err := s.Sample(context.Background(), "1", ranges, models.StayConstraints{MinNights: 2, MaxNights: 5}, true)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !reflect.DeepEqual(rec.delays, []time.Duration{time.Minute}) {
		t.Fatalf("delays = %v, want one minute cool-down", rec.delays)
	}
	if len(f.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(f.calls))
	}
	if _, ok := sample.Quote(2); !ok {
		t.Fatalf("expected 2-night quote after cool-down")
	}
}

func TestSampleNothingResolvedReturnsEmpty(t *testing.T) {
	ranges := []models.DateRange{dateRange(0, 30), dateRange(40, 30)}
	f := &scriptedFetcher{responses: map[string]error{}}
	s := newTestSampler(f, &sleepRecorder{})

	sample, err := s.Sample(context.Background(), "1", ranges, models.StayConstraints{MinNights: 2, MaxNights: 40}, false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !sample.Empty() {
		t.Fatalf("expected empty sample, got %+v", sample)
	}
	// Every length tries every qualifying range: 2, 7 and 28 nights over two ranges.
	if len(f.calls) != 6 {
		t.Fatalf("calls = %d, want 6", len(f.calls))
	}
}

func TestSampleSkipsShortRanges(t *testing.T) {
	ranges := []models.DateRange{dateRange(0, 3), dateRange(10, 2)}
	f := &scriptedFetcher{responses: map[string]error{}}
	s := newTestSampler(f, &sleepRecorder{})

	sample, err := s.Sample(context.Background(), "1", ranges, models.StayConstraints{MinNights: 7, MaxNights: 10}, false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("no range qualifies, calls = %v", f.calls)
	}
	if !sample.Empty() {
		t.Fatalf("expected empty sample")
	}
}

func TestSampleFullDataPreservesResolutionOrder(t *testing.T) {
	ranges := []models.DateRange{dateRange(0, 60)}
	start := ranges[0].Start
	f := &scriptedFetcher{responses: map[string]error{
		key(start, 2):  nil,
		key(start, 28): nil,
	}}
	s := newTestSampler(f, &sleepRecorder{})

	sample, err := s.Sample(context.Background(), "1", ranges, models.StayConstraints{MinNights: 2, MaxNights: 60}, true)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if sample.Summary != nil {
		t.Fatalf("full data should not condense")
	}
	var nights []int
	for _, lq := range sample.Quotes {
		nights = append(nights, lq.Nights)
	}
	if !reflect.DeepEqual(nights, []int{2, 28}) {
		t.Fatalf("nights = %v, want [2 28]", nights)
	}
}

func TestSampleCondensedSummary(t *testing.T) {
	ranges := []models.DateRange{dateRange(0, 60)}
	start := ranges[0].Start
	f := &scriptedFetcher{
		responses: map[string]error{
			key(start, 2):  nil,
			key(start, 7):  nil,
			key(start, 28): nil,
		},
		quotes: map[int]models.PricingQuote{
			2:  {Nights: 2, PriceNightly: 120, PriceCleaning: 40},
			7:  {Nights: 7, PriceNightly: 110, PriceCleaning: 40, DiscountWeekly: floatPtr(0.1)},
			28: {Nights: 28, PriceNightly: 90, PriceCleaning: 60, DiscountMonthly: floatPtr(0.25)},
		},
	}
	s := newTestSampler(f, &sleepRecorder{})

	sample, err := s.Sample(context.Background(), "1", ranges, models.StayConstraints{MinNights: 2, MaxNights: 60}, false)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	summary := sample.Summary
	if summary == nil {
		t.Fatalf("expected summary")
	}
	if summary.PriceNightly != 90 || summary.PriceCleaning != 60 {
		t.Fatalf("baseline should come from the last resolved quote, got %+v", summary)
	}
	if summary.DiscountWeekly == nil || *summary.DiscountWeekly != 0.1 {
		t.Fatalf("weekly discount = %v, want 0.1", summary.DiscountWeekly)
	}
	if summary.DiscountMonthly == nil || *summary.DiscountMonthly != 0.25 {
		t.Fatalf("monthly discount = %v, want 0.25", summary.DiscountMonthly)
	}
}

func TestCondenseMonthlyLengthFollowsMinNights(t *testing.T) {
	quotes := []models.LengthQuote{
		{Nights: 30, Quote: models.PricingQuote{PriceNightly: 50, DiscountMonthly: floatPtr(0.2)}},
	}

	summary := Condense(quotes, models.StayConstraints{MinNights: 30, MaxNights: 90})
	if summary.DiscountMonthly == nil || *summary.DiscountMonthly != 0.2 {
		t.Fatalf("monthly discount = %v, want 0.2", summary.DiscountMonthly)
	}
	if summary.DiscountWeekly != nil {
		t.Fatalf("weekly discount should be absent")
	}

	summary = Condense(quotes, models.StayConstraints{MinNights: 20, MaxNights: 90})
	if summary.DiscountMonthly != nil {
		t.Fatalf("monthly discount should only be read at 28 nights when min nights <= 28")
	}
}

func TestSampleStopsOnCancel(t *testing.T) {
	ranges := []models.DateRange{dateRange(0, 10), dateRange(20, 10)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &scriptedFetcher{responses: map[string]error{}}
	s := newTestSampler(f, &sleepRecorder{})
	if _, err := s.Sample(ctx, "1", ranges, models.StayConstraints{MinNights: 2, MaxNights: 5}, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("no lookups expected after cancel, got %d", len(f.calls))
	}
}
