package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrServiceRequired", ErrServiceRequired, "subserver: service is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "subserver: handler factory is required"},
		{"ErrSubscriberNameRequired", ErrSubscriberNameRequired, "subserver: subscriber name is required"},
		{"ErrSubscriptionRequired", ErrSubscriptionRequired, "subserver: subscription name is required"},
		{"ErrUnknownLifecycleEvent", ErrUnknownLifecycleEvent, "subserver: unknown lifecycle event"},
		{"ErrShutdown", ErrShutdown, "subserver: shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "subserver: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	if err := NewConfigValidationError(nil); err != nil {
		t.Fatalf("NewConfigValidationError(nil) = %v, want nil", err)
	}

	inner := errors.New("bad config")
	err := NewConfigValidationError(inner)

	var cfgErr ConfigValidationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigValidationError, got %T", err)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should match wrapped error")
	}
}

func TestShutdownSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("listener orders: %w", ErrShutdown)
	if !errors.Is(wrapped, ErrShutdown) {
		t.Fatal("expected wrapped shutdown to match sentinel")
	}
}
