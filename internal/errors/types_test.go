package errors

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
)

func TestFromHTTPStatusClassification(t *testing.T) {
	t.Parallel()

	transient := []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
	for _, status := range transient {
		err := FromHTTPStatus(status, []byte("body"))
		if !IsTransient(err) {
			t.Errorf("status %d should be transient, got %v", status, err)
		}
	}

	permanent := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusUnprocessableEntity,
	}
	for _, status := range permanent {
		err := FromHTTPStatus(status, []byte("body"))
		if !IsPermanent(err) {
			t.Errorf("status %d should be permanent, got %v", status, err)
		}
	}
}

func TestFromHTTPStatusCarriesBodyAndCode(t *testing.T) {
	t.Parallel()

	err := FromHTTPStatus(http.StatusBadRequest, []byte("missing field"))
	var permanentErr *PermanentError
	if !errors.As(err, &permanentErr) {
		t.Fatalf("expected PermanentError, got %T", err)
	}
	if permanentErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", permanentErr.StatusCode)
	}
	if msg := err.Error(); msg == "" || !errors.Is(err, permanentErr.Err) {
		t.Fatalf("error text lost: %q", msg)
	}
}

func TestIsTransientUnwrapsWrappedErrors(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("open stream: %w", NewTransientError(errors.New("boom"), "service busy"))
	if !IsTransient(wrapped) {
		t.Fatal("wrapped transient error not detected")
	}

	wrappedPerm := fmt.Errorf("open stream: %w", NewPermanentError(errors.New("boom"), "bad key"))
	if IsTransient(wrappedPerm) {
		t.Fatal("permanent error misclassified as transient")
	}
}

func TestIsTransientNetworkAndSyscallErrors(t *testing.T) {
	t.Parallel()

	if !IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)) {
		t.Fatal("ECONNREFUSED should be transient")
	}
	if !IsTransient(errors.New("read tcp 127.0.0.1: connection reset by peer")) {
		t.Fatal("connection reset should be transient")
	}
	if IsTransient(errors.New("invalid payload")) {
		t.Fatal("plain error should not be transient")
	}
	if IsTransient(nil) || IsPermanent(nil) {
		t.Fatal("nil classifies as neither")
	}
}
