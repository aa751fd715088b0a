package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-stay-rates/config"
	"github.com/aluiziolira/go-stay-rates/models"
	"github.com/aluiziolira/go-stay-rates/parser"
	"github.com/aluiziolira/go-stay-rates/pipeline"
	"github.com/aluiziolira/go-stay-rates/sampler"
	"github.com/google/uuid"
)

// Scraper discovers stay constraints and representative prices for listings.
type Scraper struct {
	cfg       *config.Config
	transport *CollyTransport
	executor  *Executor
	client    *Client
	sampler   *sampler.Sampler
	logger    *slog.Logger
	Metrics   *Metrics

	listingCount int64
	pricedCount  int64
	errorCount   int64

	mu             sync.Mutex
	failedListings []string
	errorsByType   map[string]int
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	logger := slog.Default()
	metrics := NewMetrics()
	transport := NewCollyTransport(cfg.Timeout, cfg.UserAgent, metrics)
	executor := NewExecutor(transport, RetryPolicy{
		MaxAttempts:      cfg.MaxAttempts,
		ServerFaultDelay: cfg.ServerFaultDelay,
		TryAgainDelay:    cfg.TryAgainDelay,
	}, metrics, logger)

	client, err := NewClient(cfg, executor, metrics, logger)
	if err != nil {
		return nil, err
	}

	s := &Scraper{
		cfg:          cfg,
		transport:    transport,
		executor:     executor,
		client:       client,
		logger:       logger,
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	s.sampler = sampler.New(client, cfg.OutageCooldown, IsConnectivity,
		sampler.WithLogger(logger),
		sampler.WithSleep(Sleep),
		sampler.WithHooks(sampler.Hooks{OnCooldown: metrics.IncCooldown}),
	)
	return s, nil
}

// Discover runs one discovery for listingID: it fetches the calendar,
// extracts the available ranges and samples prices across them. A listing
// whose prices could not be resolved still yields a record with an empty
// sample; only calendar failures and cancellation are errors.
func (s *Scraper) Discover(ctx context.Context, listingID string) (*models.ListingRates, error) {
	discoveryID := uuid.NewString()
	logger := s.logger.With(
		slog.String("listing_id", listingID),
		slog.String("discovery_id", discoveryID),
	)
	logger.Info("discovery started")

	cal, err := s.client.Calendar(ctx, listingID)
	if err != nil {
		return nil, err
	}

	ranges := parser.ExtractRanges(cal.Days, models.StatusAvailable)
	logger.Debug("calendar parsed",
		slog.Int("days", len(cal.Days)),
		slog.Int("available_ranges", len(ranges)),
		slog.Int("min_nights", cal.Constraints.MinNights),
		slog.Int("max_nights", cal.Constraints.MaxNights),
	)

	sample, err := s.sampler.Sample(ctx, listingID, ranges, cal.Constraints, s.cfg.FullData)
	if err != nil {
		return nil, err
	}
	if sample.Empty() {
		logger.Warn("no stay length could be priced")
	}

	rates := &models.ListingRates{
		ListingID:     listingID,
		DiscoveryID:   discoveryID,
		Constraints:   cal.Constraints,
		AvailableDays: cal.CountDays(models.StatusAvailable),
		BookedDays:    cal.CountDays(models.StatusBooked),
		Pricing:       sample,
		ScrapedAt:     time.Now().UTC(),
	}
	logger.Info("discovery finished",
		slog.Int("available_days", rates.AvailableDays),
		slog.Int("booked_days", rates.BookedDays),
		slog.Int("quotes", len(sample.Quotes)),
		slog.Bool("summary", sample.Summary != nil),
	)
	return rates, nil
}

// Run discovers every listing over cfg.Parallelism workers and streams the
// records through p. A nil pipeline discards records.
func (s *Scraper) Run(ctx context.Context, listingIDs []string, p *pipeline.Pipeline) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	workers := s.cfg.Parallelism
	if workers <= 0 {
		workers = 1
	}
	if workers > len(listingIDs) {
		workers = len(listingIDs)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				s.process(ctx, id, p)
			}
		}()
	}

feed:
	for _, id := range listingIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()

	result := &models.RunResult{
		StartTime:      start,
		EndTime:        time.Now(),
		ListingCount:   int(atomic.LoadInt64(&s.listingCount)),
		PricedCount:    int(atomic.LoadInt64(&s.pricedCount)),
		ErrorCount:     int(atomic.LoadInt64(&s.errorCount)),
		FailedListings: s.snapshotFailedListings(),
		ErrorsByType:   s.snapshotErrors(),
		RetryCount:     s.executor.Retries(),
		RequestCount:   s.executor.Requests(),
	}

	if p != nil {
		if metrics := p.GetMetrics(); metrics != nil {
			if processed, ok := metrics["processed_records"].(int64); ok {
				result.RecordCount = int(processed)
			}
		}
	}

	return result, nil
}

func (s *Scraper) process(ctx context.Context, listingID string, p *pipeline.Pipeline) {
	current := atomic.AddInt64(&s.listingCount, 1)
	if current%25 == 0 {
		s.logger.Debug("discovery progress",
			slog.Int64("listings", current),
			slog.Int64("errors", atomic.LoadInt64(&s.errorCount)),
		)
	}

	rates, err := s.Discover(ctx, listingID)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Warn("discovery interrupted", slog.String("listing_id", listingID))
			s.Metrics.IncListing("interrupted")
			return
		}
		s.recordFailure(listingID, err)
		return
	}

	if rates.Pricing.Empty() {
		s.Metrics.IncListing("unpriced")
	} else {
		atomic.AddInt64(&s.pricedCount, 1)
		s.Metrics.IncListing("priced")
	}

	if p == nil {
		return
	}
	if err := p.Process(rates); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
		s.logger.Error("pipeline process error", slog.Any("error", err))
	}
}

func (s *Scraper) recordFailure(listingID string, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	category := ErrorTypeLabel(err)
	s.Metrics.IncListing("failed")

	s.mu.Lock()
	s.errorsByType[category]++
	s.failedListings = append(s.failedListings, listingID)
	s.mu.Unlock()

	s.logger.Error("discovery failed",
		slog.String("listing_id", listingID),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func (s *Scraper) snapshotFailedListings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedListings))
	copy(out, s.failedListings)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
