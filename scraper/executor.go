package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// LevelCritical is used for failures that will not clear on their own, such
// as a revoked API key.
const LevelCritical = slog.LevelError + 4

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
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

type envelope struct {
	Errors []json.RawMessage `json:"errors"`
}

// Executor issues upstream requests, classifying structured errors and
// retrying within the bounds of its RetryPolicy.
type Executor struct {
	transport Transport
	policy    RetryPolicy
	metrics   *Metrics
	logger    *slog.Logger
	sleep     SleepFunc

	requests int64
	retries  int64
}

// NewExecutor builds an executor. A nil logger uses slog.Default.
func NewExecutor(transport Transport, policy RetryPolicy, metrics *Metrics, logger *slog.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		transport: transport,
		policy:    policy,
		metrics:   metrics,
		logger:    logger,
		sleep:     Sleep,
	}
}

// SetSleep replaces the backoff sleep, mainly for tests.
func (e *Executor) SetSleep(fn SleepFunc) {
	if fn == nil {
		fn = Sleep
	}
	e.sleep = fn
}

// Execute performs req and returns the response payload once it carries no
// errors. It fails with ErrForbidden, *APIError or ErrTransportExhausted.
// Transport faults and retry-after dispositions each consume an attempt.
func (e *Executor) Execute(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			atomic.AddInt64(&e.retries, 1)
			e.metrics.IncRetries()
		}
		atomic.AddInt64(&e.requests, 1)

		raw, err := e.transport.Do(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			label := ErrorTypeLabel(err)
			e.metrics.IncError(label)
			e.logger.Error("upstream request failed",
				slog.String("method", req.Method),
				slog.String("url", req.URL),
				slog.Int("attempt", attempt),
				slog.String("category", label),
				slog.Any("error", err),
			)
			continue
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			lastErr = ErrConnection{Err: fmt.Errorf("decode response: %w", err)}
			e.metrics.IncError("decode")
			e.logger.Error("undecodable upstream response",
				slog.String("url", req.URL),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			continue
		}
		if len(env.Errors) == 0 {
			return raw, nil
		}

		errs := decodeUpstreamErrors(env.Errors)
		disposition := DispositionUnclassified
		if first, ok := firstStructured(env.Errors); ok {
			disposition = Classify(first)
		}
		e.metrics.IncDisposition(disposition)

		switch disposition {
		case DispositionForbidden:
			e.logger.Log(ctx, LevelCritical, "403 forbidden",
				slog.String("url", req.URL),
				slog.String("message", errs[0].Message),
			)
			e.metrics.IncError("forbidden")
			return nil, ErrForbidden{URL: req.URL, Errors: errs}
		case DispositionServerFault, DispositionTryAgain:
			lastErr = &APIError{Errors: errs}
			if attempt == e.policy.MaxAttempts {
				break
			}
			delay := e.policy.Delay(disposition)
			e.logger.Warn("upstream asked to back off",
				slog.String("url", req.URL),
				slog.String("disposition", disposition.String()),
				slog.Duration("delay", delay),
				slog.String("message", errs[0].Message),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
		default:
			e.logger.Error("unclassified upstream error",
				slog.String("url", req.URL),
				slog.String("response", string(raw)),
			)
			e.metrics.IncError("api")
			return nil, &APIError{Errors: errs}
		}
	}

	e.metrics.IncError("exhausted")
	return nil, ErrTransportExhausted{
		Method:   req.Method,
		URL:      req.URL,
		Attempts: e.policy.MaxAttempts,
		Err:      lastErr,
	}
}

// Requests returns the number of network attempts made so far.
func (e *Executor) Requests() int {
	return int(atomic.LoadInt64(&e.requests))
}

// Retries returns the number of attempts that followed a failed one.
func (e *Executor) Retries() int {
	return int(atomic.LoadInt64(&e.retries))
}

// firstStructured decodes the first error entry. Entries that are not JSON
// objects cannot be classified.
func firstStructured(raw []json.RawMessage) (UpstreamError, bool) {
	var first UpstreamError
	if err := json.Unmarshal(raw[0], &first); err != nil {
		return UpstreamError{}, false
	}
	return first, true
}

func decodeUpstreamErrors(raw []json.RawMessage) []UpstreamError {
	out := make([]UpstreamError, 0, len(raw))
	for _, r := range raw {
		var ue UpstreamError
		if err := json.Unmarshal(r, &ue); err != nil {
			ue = UpstreamError{Message: string(r)}
		}
		out = append(out, ue)
	}
	return out
}
