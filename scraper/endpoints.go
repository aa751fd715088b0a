package scraper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-stay-rates/config"
	"github.com/aluiziolira/go-stay-rates/models"
	"github.com/aluiziolira/go-stay-rates/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	calendarPath = "/api/v3/PdpAvailabilityCalendar"
	checkoutPath = "/api/v3/StayCheckoutSections"
	origin       = "https://www.airbnb.com"
)

// Client wraps the calendar and checkout endpoints behind an Executor.
type Client struct {
	cfg      *config.Config
	executor *Executor
	metrics  *Metrics
	logger   *slog.Logger
	quotes   *lru.Cache[string, models.PricingQuote]
	now      func() time.Time
}

// NewClient builds an endpoint client. A zero QuoteCacheSize disables caching.
func NewClient(cfg *config.Config, executor *Executor, metrics *Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:      cfg,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	if cfg.QuoteCacheSize > 0 {
		cache, err := lru.New[string, models.PricingQuote](cfg.QuoteCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create quote cache: %w", err)
		}
		c.quotes = cache
	}
	return c, nil
}

// ProductID encodes a listing id the way the checkout endpoint expects.
func ProductID(listingID string) string {
	return base64.StdEncoding.EncodeToString([]byte("StayListing:" + listingID))
}

// Calendar fetches and parses the availability calendar of a listing,
// starting at the current month.
func (c *Client) Calendar(ctx context.Context, listingID string) (*models.Calendar, error) {
	target, err := c.calendarURL(listingID)
	if err != nil {
		return nil, err
	}
	raw, err := c.executor.Execute(ctx, Request{
		Method: http.MethodGet,
		URL:    c.proxied(target),
		Header: c.headers(false),
	})
	if err != nil {
		return nil, fmt.Errorf("calendar %s: %w", listingID, err)
	}
	cal, err := parser.ParseCalendar(raw)
	if err != nil {
		return nil, fmt.Errorf("calendar %s: %w", listingID, err)
	}
	return cal, nil
}

// Quote fetches the price breakdown for [checkin, checkout) and normalizes it.
func (c *Client) Quote(ctx context.Context, listingID string, checkin, checkout time.Time) (models.PricingQuote, error) {
	nights := parser.DaysBetween(checkin, checkout)
	key := fmt.Sprintf("%s|%s|%s", listingID, checkin.Format(models.DateLayout), checkout.Format(models.DateLayout))
	if c.quotes != nil {
		if quote, ok := c.quotes.Get(key); ok {
			c.logger.Debug("quote cache hit", slog.String("key", key))
			c.metrics.IncQuote("cached")
			return quote, nil
		}
	}

	breakdown, err := c.priceBreakdown(ctx, listingID, checkin, checkout)
	if err != nil {
		c.metrics.IncQuote("failed")
		return models.PricingQuote{}, err
	}
	quote, err := parser.NormalizePricing(breakdown, nights)
	if err != nil {
		c.metrics.IncQuote("malformed")
		return models.PricingQuote{}, err
	}

	c.metrics.IncQuote("resolved")
	if c.quotes != nil {
		c.quotes.Add(key, quote)
	}
	return quote, nil
}

type checkoutDocument struct {
	Data struct {
		Presentation struct {
			StayCheckout struct {
				Sections struct {
					TemporaryQuickPayData *struct {
						BootstrapPaymentsJSON string `json:"bootstrapPaymentsJSON"`
					} `json:"temporaryQuickPayData"`
					Metadata struct {
						ErrorData *struct {
							ErrorMessage string `json:"errorMessage"`
						} `json:"errorData"`
					} `json:"metadata"`
				} `json:"sections"`
			} `json:"stayCheckout"`
		} `json:"presentation"`
	} `json:"data"`
}

type quickPayData struct {
	ProductPriceBreakdown struct {
		PriceBreakdown *models.PriceBreakdown `json:"priceBreakdown"`
	} `json:"productPriceBreakdown"`
}

func (c *Client) priceBreakdown(ctx context.Context, listingID string, checkin, checkout time.Time) (models.PriceBreakdown, error) {
	body, err := c.checkoutPayload(listingID, checkin, checkout)
	if err != nil {
		return models.PriceBreakdown{}, err
	}
	raw, err := c.executor.Execute(ctx, Request{
		Method: http.MethodPost,
		URL:    c.proxied(c.checkoutURL()),
		Body:   body,
		Header: c.headers(true),
	})
	if err != nil {
		return models.PriceBreakdown{}, err
	}

	var doc checkoutDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.PriceBreakdown{}, fmt.Errorf("%w: decode checkout: %v", parser.ErrMalformedPricing, err)
	}
	sections := doc.Data.Presentation.StayCheckout.Sections
	if sections.TemporaryQuickPayData == nil || sections.TemporaryQuickPayData.BootstrapPaymentsJSON == "" {
		msg := "no price breakdown"
		if sections.Metadata.ErrorData != nil && sections.Metadata.ErrorData.ErrorMessage != "" {
			msg = sections.Metadata.ErrorData.ErrorMessage
		}
		return models.PriceBreakdown{}, ErrPricingUnavailable{Message: msg}
	}

	var payments quickPayData
	if err := json.Unmarshal([]byte(sections.TemporaryQuickPayData.BootstrapPaymentsJSON), &payments); err != nil {
		return models.PriceBreakdown{}, fmt.Errorf("%w: decode payments: %v", parser.ErrMalformedPricing, err)
	}
	if payments.ProductPriceBreakdown.PriceBreakdown == nil {
		return models.PriceBreakdown{}, fmt.Errorf("%w: missing priceBreakdown", parser.ErrMalformedPricing)
	}
	return *payments.ProductPriceBreakdown.PriceBreakdown, nil
}

func (c *Client) calendarURL(listingID string) (string, error) {
	today := c.now()
	variables, err := json.Marshal(map[string]any{
		"request": map[string]any{
			"count":     c.cfg.CalendarMonths,
			"listingId": listingID,
			"month":     int(today.Month()),
			"year":      today.Year(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode calendar variables: %w", err)
	}
	extensions, err := persistedQuery(c.cfg.CalendarHash)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("operationName", "PdpAvailabilityCalendar")
	query.Set("locale", c.cfg.Locale)
	query.Set("currency", c.cfg.Currency)
	query.Set("variables", string(variables))
	query.Set("extensions", string(extensions))

	return c.buildURL(calendarPath+"/"+c.cfg.CalendarHash, query), nil
}

func (c *Client) checkoutURL() string {
	query := url.Values{}
	query.Set("operationName", "StayCheckoutSections")
	query.Set("locale", c.cfg.Locale)
	query.Set("currency", c.cfg.Currency)
	return c.buildURL(checkoutPath, query)
}

func (c *Client) checkoutPayload(listingID string, checkin, checkout time.Time) ([]byte, error) {
	extensions, err := persistedQuery(c.cfg.PricingHash)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"operationName": "StayCheckoutSections",
		"variables": map[string]any{
			"input": map[string]any{
				"businessTravel": map[string]any{"workTrip": false},
				"checkinDate":    checkin.Format(models.DateLayout),
				"checkoutDate":   checkout.Format(models.DateLayout),
				"guestCounts": map[string]any{
					"numberOfAdults":   1,
					"numberOfChildren": 0,
					"numberOfInfants":  0,
					"numberOfPets":     0,
				},
				"guestCurrencyOverride": c.cfg.Currency,
				"lux":                   map[string]any{},
				"metadata": map[string]any{
					"internalFlags": []string{"LAUNCH_LOGIN_PHONE_AUTH"},
				},
				"org":          map[string]any{},
				"productId":    ProductID(listingID),
				"china":        map[string]any{},
				"quickPayData": nil,
			},
		},
		"extensions": json.RawMessage(extensions),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode checkout payload: %w", err)
	}
	return body, nil
}

func persistedQuery(hash string) ([]byte, error) {
	out, err := json.Marshal(map[string]any{
		"persistedQuery": map[string]any{
			"version":    1,
			"sha256Hash": hash,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode persisted query: %w", err)
	}
	return out, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	u := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// proxied routes target through the configured CORS proxy, if any.
func (c *Client) proxied(target string) string {
	if c.cfg.ProxyURL == "" {
		return target
	}
	return strings.TrimSuffix(c.cfg.ProxyURL, "/") + "/" + target
}

func (c *Client) headers(jsonBody bool) http.Header {
	h := http.Header{}
	h.Set("x-airbnb-api-key", c.cfg.APIKey)
	h.Set("origin", origin)
	if c.cfg.ProxyAPIKey != "" {
		h.Set("x-cors-proxy-api-key", c.cfg.ProxyAPIKey)
	}
	if jsonBody {
		h.Set("content-type", "application/json")
	}
	return h
}
