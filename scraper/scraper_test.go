package scraper

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-stay-rates/config"
	"github.com/aluiziolira/go-stay-rates/models"
	"github.com/aluiziolira/go-stay-rates/pipeline"
	"github.com/jarcoal/httpmock"
)

type collectingWriter struct {
	mu      sync.Mutex
	records []*models.ListingRates
}

func (cw *collectingWriter) Write(records []*models.ListingRates) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.records = append(cw.records, records...)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) All() []*models.ListingRates {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]*models.ListingRates, len(cw.records))
	copy(out, cw.records)
	return out
}

func scraperConfig() *config.Config {
	cfg := testConfig()
	cfg.ServerFaultDelay = 0
	cfg.TryAgainDelay = 0
	cfg.OutageCooldown = 0
	cfg.Parallelism = 2
	cfg.BatchSize = 1
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config) (*Scraper, *httpmock.MockTransport) {
	t.Helper()
	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	mock := httpmock.NewMockTransport()
	s.transport.WithTransport(mock)
	return s, mock
}

// calendarDays returns count consecutive days from start; the last booked
// days are unavailable.
func calendarDays(start time.Time, count, booked, minNights, maxNights int) []map[string]any {
	days := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		days = append(days, map[string]any{
			"calendarDate": start.AddDate(0, 0, i).Format(models.DateLayout),
			"available":    i < count-booked,
			"minNights":    minNights,
			"maxNights":    maxNights,
		})
	}
	return days
}

func listingFromRequest(req *http.Request) string {
	variables := req.URL.Query().Get("variables")
	const marker = `"listingId":"`
	i := strings.Index(variables, marker)
	if i < 0 {
		return ""
	}
	rest := variables[i+len(marker):]
	return rest[:strings.Index(rest, `"`)]
}

func TestScraperDiscover(t *testing.T) {
	s, mock := newTestScraper(t, scraperConfig())
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	mock.RegisterResponder(http.MethodGet, calendarPattern,
		httpmock.NewStringResponder(http.StatusOK, calendarBody(t, calendarDays(start, 12, 2, 2, 5)...)))
	mock.RegisterResponder(http.MethodPost, checkoutPattern,
		httpmock.NewStringResponder(http.StatusOK, checkoutBody(t, sampleBreakdown())))

	rates, err := s.Discover(context.Background(), "42")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if rates.ListingID != "42" || rates.DiscoveryID == "" {
		t.Fatalf("unexpected identity: %+v", rates)
	}
	if rates.AvailableDays != 10 || rates.BookedDays != 2 {
		t.Fatalf("days = %d/%d, want 10/2", rates.AvailableDays, rates.BookedDays)
	}
	if rates.Constraints.MinNights != 2 || rates.Constraints.MaxNights != 5 {
		t.Fatalf("constraints = %+v", rates.Constraints)
	}
	summary := rates.Pricing.Summary
	if summary == nil {
		t.Fatalf("expected condensed pricing, got %+v", rates.Pricing)
	}
	// 100.00 of accommodation over the single 2-night test length.
	if summary.PriceNightly != 50 {
		t.Fatalf("price nightly = %v, want 50", summary.PriceNightly)
	}
	if rates.ScrapedAt.IsZero() {
		t.Fatalf("scraped_at not set")
	}
}

func TestScraperDiscoverUnpricedListing(t *testing.T) {
	cfg := scraperConfig()
	cfg.FullData = true
	s, mock := newTestScraper(t, cfg)
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	mock.RegisterResponder(http.MethodGet, calendarPattern,
		httpmock.NewStringResponder(http.StatusOK, calendarBody(t, calendarDays(start, 10, 0, 3, 10)...)))
	mock.RegisterResponder(http.MethodPost, checkoutPattern,
		httpmock.NewStringResponder(http.StatusOK, `{"data":{"presentation":{"stayCheckout":{"sections":{}}}}}`))

	rates, err := s.Discover(context.Background(), "7")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !rates.Pricing.Empty() {
		t.Fatalf("expected empty sample, got %+v", rates.Pricing)
	}
}

func TestScraperRun(t *testing.T) {
	s, mock := newTestScraper(t, scraperConfig())
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	calendar := calendarBody(t, calendarDays(start, 12, 2, 2, 5)...)

	mock.RegisterResponder(http.MethodGet, calendarPattern, func(req *http.Request) (*http.Response, error) {
		switch id := listingFromRequest(req); id {
		case "missing":
			return httpmock.NewStringResponse(http.StatusOK, `{"errors":[{"message":"listing not found"}]}`), nil
		case "blocked":
			return httpmock.NewStringResponse(http.StatusOK, `{"errors":[{"message":"no","extensions":{"response":{"statusCode":403}}}]}`), nil
		default:
			return httpmock.NewStringResponse(http.StatusOK, calendar), nil
		}
	})
	mock.RegisterResponder(http.MethodPost, checkoutPattern,
		httpmock.NewStringResponder(http.StatusOK, checkoutBody(t, sampleBreakdown())))

	cfg := scraperConfig()
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	ids := []string{"1", "2", "missing", "3", "blocked", " "}
	result, err := s.Run(context.Background(), ids, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if result.ListingCount != 5 {
		t.Fatalf("listings = %d, want 5", result.ListingCount)
	}
	if result.PricedCount != 3 || result.RecordCount != 3 {
		t.Fatalf("priced=%d records=%d, want 3/3", result.PricedCount, result.RecordCount)
	}
	if result.ErrorCount != 2 {
		t.Fatalf("errors = %d, want 2", result.ErrorCount)
	}
	if result.ErrorsByType["api"] != 1 || result.ErrorsByType["forbidden"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}

	failed := append([]string(nil), result.FailedListings...)
	sort.Strings(failed)
	if fmt.Sprint(failed) != "[blocked missing]" {
		t.Fatalf("failed listings = %v", failed)
	}

	if got := len(writer.All()); got != 3 {
		t.Fatalf("written = %d, want 3", got)
	}
	// 5 calendars and one quote for each of the 3 calendars that parsed.
	if result.RequestCount != 8 {
		t.Fatalf("requests = %d, want 8", result.RequestCount)
	}
}

func TestScraperRunCanceled(t *testing.T) {
	s, _ := newTestScraper(t, scraperConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Run(ctx, []string{"1", "2", "3"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ErrorCount != 0 {
		t.Fatalf("canceled listings should not count as failures, got %d", result.ErrorCount)
	}
}
