package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	nexuserrors "nexus/internal/errors"
	"nexus/internal/logging"
)

// breakerTransport trips a circuit breaker on transport failures and
// gateway-class status codes, so a repeatedly failing upstream fails fast
// instead of being dialed on every call.
type breakerTransport struct {
	base    http.RoundTripper
	breaker *nexuserrors.CircuitBreaker
}

// NewWithCircuitBreaker builds an outbound client whose requests are rejected
// fast while the named upstream keeps failing.
func NewWithCircuitBreaker(timeout time.Duration, logger logging.Logger, name string) *http.Client {
	return NewWithCircuitBreakerConfig(timeout, logger, name, nexuserrors.DefaultCircuitBreakerConfig())
}

// NewWithCircuitBreakerConfig is NewWithCircuitBreaker with explicit breaker
// thresholds, for callers where the defaults trip too slowly.
func NewWithCircuitBreakerConfig(timeout time.Duration, logger logging.Logger, name string, config nexuserrors.CircuitBreakerConfig) *http.Client {
	if name == "" {
		name = "outbound"
	}
	client := New(timeout, logger)
	client.Transport = &breakerTransport{
		base:    client.Transport,
		breaker: nexuserrors.NewCircuitBreaker(name, config),
	}
	return client
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	switch {
	case errors.Is(err, context.Canceled):
		// The caller walked away; that says nothing about upstream health.
		t.breaker.Mark(nil)
	case err != nil:
		t.breaker.Mark(err)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		t.breaker.Mark(fmt.Errorf("http status %d", resp.StatusCode))
	default:
		t.breaker.Mark(nil)
	}
	return resp, err
}
