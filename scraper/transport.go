package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Request describes one logical upstream call.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Transport performs a single network round trip and returns the response
// body of a 2xx response. Failures are reported as ErrTimeout, ErrConnection
// or ErrHTTPStatus where they can be told apart.
type Transport interface {
	Do(ctx context.Context, req Request) ([]byte, error)
}

const (
	ctxKeyBody   = "body"
	ctxKeyStatus = "status"
	ctxKeyStart  = "start"
)

// CollyTransport issues requests through a synchronous colly collector.
type CollyTransport struct {
	collector *colly.Collector
	metrics   *Metrics
}

// NewCollyTransport builds a transport with the given timeout and user agent.
func NewCollyTransport(timeout time.Duration, userAgent string, metrics *Metrics) *CollyTransport {
	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	t := &CollyTransport{collector: collector, metrics: metrics}

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxKeyStart, time.Now())
		t.metrics.IncRequest("started")
	})
	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyBody, r.Body)
		t.observe(r.Ctx)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		t.observe(r.Ctx)
	})

	return t
}

// WithTransport swaps the underlying round tripper, mainly for tests.
func (t *CollyTransport) WithTransport(rt http.RoundTripper) {
	t.collector.WithTransport(rt)
}

// Do implements Transport.
func (t *CollyTransport) Do(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	rctx := colly.NewContext()
	err := t.collector.Request(req.Method, req.URL, body, rctx, req.Header)

	status, _ := rctx.GetAny(ctxKeyStatus).(int)
	if err != nil {
		return nil, classifyTransportError(err, status)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, classifyTransportError(nil, status)
	}
	raw, _ := rctx.GetAny(ctxKeyBody).([]byte)
	return raw, nil
}

func (t *CollyTransport) observe(ctx *colly.Context) {
	if start, ok := ctx.GetAny(ctxKeyStart).(time.Time); ok {
		t.metrics.ObserveDuration(time.Since(start))
	}
}

func classifyTransportError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return ErrConnection{Err: errors.New("no response")}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = errors.New(http.StatusText(statusCode))
		}
		return ErrHTTPStatus{StatusCode: statusCode, Err: wrapped}
	}

	return ErrConnection{Err: fmt.Errorf("transport: %w", err)}
}
