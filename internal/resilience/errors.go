package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// UpstreamError reports a non-success HTTP status from an upstream.
type UpstreamError struct {
	Service    string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
}

// NewUpstreamError returns an UpstreamError for service.
func NewUpstreamError(service string, status int) *UpstreamError {
	return &UpstreamError{Service: service, StatusCode: status}
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

// IsUpstreamFault reports whether err means the upstream itself is
// unhealthy: a 5xx, a 429, a timeout or a refused/reset connection. Client
// errors such as 404 are answers, not faults.
func IsUpstreamFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if status := StatusCode(err); status != 0 {
		return status >= 500 || status == 429
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}
