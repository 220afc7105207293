package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsUpstreamFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("bad input"), false},
		{"500", NewUpstreamError("detail", 500), true},
		{"503 wrapped", fmt.Errorf("call: %w", NewUpstreamError("detail", 503)), true},
		{"429", NewUpstreamError("detail", 429), true},
		{"404", NewUpstreamError("detail", 404), false},
		{"400", NewUpstreamError("detail", 400), false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net timeout", timeoutErr{}, true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUpstreamFault(tt.err); got != tt.want {
				t.Errorf("IsUpstreamFault(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(fmt.Errorf("x: %w", NewUpstreamError("detail", 502))); got != 502 {
		t.Errorf("expected 502, got %d", got)
	}
	if got := StatusCode(errors.New("nope")); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if msg := NewUpstreamError("detail", 404).Error(); msg != "detail returned status 404" {
		t.Errorf("unexpected message %q", msg)
	}
}
