// Package transport provides the HTTP round tripper used for outbound model API calls.
package transport

import (
	"fmt"
	"log"
	"net/http"

	"golang.org/x/time/rate"
)

// ThrottledTransport spaces outbound requests with a token bucket. It never retries: a 429 from the API is logged and
// handed back to the caller unchanged so that the student sees it.
type ThrottledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// WithThrottling wraps base. A nil base uses http.DefaultTransport; a nil limiter disables throttling.
func WithThrottling(base http.RoundTripper, limiter *rate.Limiter) *ThrottledTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ThrottledTransport{base: base, limiter: limiter}
}

func (t *ThrottledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("failed to wait for outbound rate limiter: %w", err)
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		log.Printf("Rate limited by %s (retry-after: %q)", req.URL.Host, resp.Header.Get("retry-after"))
	case http.StatusNotFound:
		log.Printf("Not found: %s %s", req.Method, req.URL.Path)
	}
	return resp, nil
}

// NewClient returns an HTTP client whose requests are throttled to rps requests per second with the given burst.
// rps <= 0 disables throttling.
func NewClient(rps float64, burst int) *http.Client {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &http.Client{Transport: WithThrottling(nil, limiter)}
}
