package scraper

import (
	"net/http"
	"strings"
	"time"
)

// UpstreamError is one entry of the "errors" array of an API response.
type UpstreamError struct {
	Message    string           `json:"message"`
	Extensions *ErrorExtensions `json:"extensions,omitempty"`
}

// ErrorExtensions holds the nested diagnostics of an UpstreamError.
type ErrorExtensions struct {
	Response       *ErrorResponse `json:"response,omitempty"`
	Classification string         `json:"classification,omitempty"`
}

// ErrorResponse is the HTTP status the upstream reports for a failed resolver.
type ErrorResponse struct {
	StatusCode int `json:"statusCode"`
}

// Disposition is the action to take for a structured upstream error.
type Disposition int

const (
	// DispositionUnclassified is fatal; the error is surfaced as-is.
	DispositionUnclassified Disposition = iota
	// DispositionForbidden is fatal and never retried.
	DispositionForbidden
	// DispositionServerFault retries after the server-fault delay.
	DispositionServerFault
	// DispositionTryAgain retries after the try-again delay.
	DispositionTryAgain
)

func (d Disposition) String() string {
	switch d {
	case DispositionForbidden:
		return "forbidden"
	case DispositionServerFault:
		return "server_fault"
	case DispositionTryAgain:
		return "try_again"
	default:
		return "unclassified"
	}
}

// Retryable reports whether the disposition allows another attempt.
func (d Disposition) Retryable() bool {
	return d == DispositionServerFault || d == DispositionTryAgain
}

const dataFetchingClassification = "DataFetchingException"

// Classify maps an upstream error to a disposition. A nested 403 always wins
// over the message text; the message is only consulted when no structured
// diagnostic matched.
func Classify(e UpstreamError) Disposition {
	if ext := e.Extensions; ext != nil {
		if ext.Response != nil {
			switch code := ext.Response.StatusCode; {
			case code == http.StatusForbidden:
				return DispositionForbidden
			case code >= http.StatusInternalServerError:
				return DispositionServerFault
			}
		} else if ext.Classification == dataFetchingClassification {
			return DispositionServerFault
		}
	}
	if strings.Contains(strings.ToLower(e.Message), "please try again") {
		return DispositionTryAgain
	}
	return DispositionUnclassified
}

// RetryPolicy bounds the executor's attempts and sets its backoff delays.
type RetryPolicy struct {
	MaxAttempts      int
	ServerFaultDelay time.Duration
	TryAgainDelay    time.Duration
}

// DefaultRetryPolicy allows three attempts with one-minute and half-minute
// backoffs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		ServerFaultDelay: 60 * time.Second,
		TryAgainDelay:    30 * time.Second,
	}
}

// Delay returns how long to wait before retrying after d.
func (p RetryPolicy) Delay(d Disposition) time.Duration {
	switch d {
	case DispositionServerFault:
		return p.ServerFaultDelay
	case DispositionTryAgain:
		return p.TryAgainDelay
	default:
		return 0
	}
}
