package scraper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-stay-rates/parser"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates a non-2xx HTTP response.
type ErrHTTPStatus struct {
	StatusCode int
	Err        error
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Sprintf("http status %d: %v", e.StatusCode, e.Err)
}

func (e ErrHTTPStatus) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates the upstream denied access to the request.
type ErrForbidden struct {
	URL    string
	Errors []UpstreamError
}

func (e ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s: %s", e.URL, joinMessages(e.Errors))
}

// APIError carries a structured upstream error that matched no retry rule.
type APIError struct {
	Errors []UpstreamError
}

func (e *APIError) Error() string {
	return "api: " + joinMessages(e.Errors)
}

// ErrTransportExhausted indicates the attempt ceiling was reached.
type ErrTransportExhausted struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e ErrTransportExhausted) Error() string {
	msg := fmt.Sprintf("could not complete API %s request to %q after %d attempts", e.Method, e.URL, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ErrTransportExhausted) Unwrap() error {
	return e.Err
}

// ErrPricingUnavailable indicates the checkout endpoint returned no price
// breakdown for the requested dates.
type ErrPricingUnavailable struct {
	Message string
}

func (e ErrPricingUnavailable) Error() string {
	return "pricing unavailable: " + e.Message
}

func joinMessages(errs []UpstreamError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// IsConnectivity reports whether err stems from the network rather than from
// the data returned. These failures suggest a broader outage.
func IsConnectivity(err error) bool {
	var exhausted ErrTransportExhausted
	if errors.As(err, &exhausted) {
		return true
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return true
	}
	var timeout ErrTimeout
	return errors.As(err, &timeout)
}

// ErrorTypeLabel returns a short label for metrics and run summaries.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var exhausted ErrTransportExhausted
	if errors.As(err, &exhausted) {
		return "exhausted"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return "api"
	}
	var unavailable ErrPricingUnavailable
	if errors.As(err, &unavailable) {
		return "unavailable"
	}
	if errors.Is(err, parser.ErrMalformedPricing) {
		return "malformed_pricing"
	}
	if errors.Is(err, parser.ErrMalformedCalendar) {
		return "malformed_calendar"
	}
	return "other"
}
