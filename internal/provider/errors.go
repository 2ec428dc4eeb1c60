package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/bliqhq/bliq/internal/types"
)

// Errors returned by provider operations, checked with errors.Is:
//
//	if errors.Is(err, provider.ErrUnauthorized) {
//	    // ask the user to reconnect
//	}
var (
	// ErrUnauthorized is returned when the service rejects the credential.
	ErrUnauthorized = errors.New("credential rejected")

	// ErrForbidden is returned when a valid credential may not access one
	// resource, e.g. a repository behind organization SSO.
	ErrForbidden = errors.New("access forbidden")

	// ErrUnavailable is returned for network failures and 5xx responses.
	ErrUnavailable = errors.New("service unavailable")

	// ErrTimeout is returned when a call exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrNotFound is returned when a collection or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is returned on 429 responses.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnsupported is returned for services with no registered provider
	// and for operations a service cannot perform.
	ErrUnsupported = errors.New("operation not supported")
)

// StatusError carries a non-2xx HTTP response.
type StatusError struct {
	Service types.Service
	Op      string
	Code    int
	Body    string
	// RateLimited is set when the response carried rate-limit headers
	// saying the quota is spent. Services report this as 403 as well as 429.
	RateLimited bool
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Service, e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Service, e.Op, e.Code)
}

// Unwrap maps the status code onto the error taxonomy.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Code == http.StatusForbidden && e.RateLimited:
		return ErrRateLimited
	case e.Code == http.StatusForbidden:
		return ErrForbidden
	case e.Code == http.StatusNotFound:
		return ErrNotFound
	case e.Code == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Code >= 500:
		return ErrUnavailable
	}
	return nil
}

// rateLimited reports whether h says the quota is used up.
func rateLimited(h http.Header) bool {
	return h.Get("X-RateLimit-Remaining") == "0" || h.Get("Retry-After") != ""
}

// transportError classifies a failure that produced no HTTP response.
func transportError(service types.Service, op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s %s: %w: %v", service, op, ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", service, op, err)
	}
	return fmt.Errorf("%s %s: %w: %v", service, op, ErrUnavailable, err)
}

// IsCredentialError reports whether err means the token must be replaced.
func IsCredentialError(err error) bool {
	return err != nil && errors.Is(err, ErrUnauthorized)
}

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Timeouts and outages are usually transient
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return true
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	return false
}

// IsUserActionRequired returns true if only the user can fix the error
// (reconnecting, re-selecting a deleted collection).
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound)
}
