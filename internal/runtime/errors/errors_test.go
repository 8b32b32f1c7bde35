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
		{"ErrBusRequired", ErrBusRequired, "phaseflow: bus is required"},
		{"ErrObserverRequired", ErrObserverRequired, "phaseflow: message observer is required"},
		{"ErrUnknownTransport", ErrUnknownTransport, "phaseflow: unknown transport"},
		{"ErrNoBackChannel", ErrNoBackChannel, "phaseflow: no back-channel for message"},
		{"ErrSuspended", ErrSuspended, "phaseflow: interceptor chain suspended"},
		{"ErrConfigRequired", ErrConfigRequired, "phaseflow: configuration is required"},
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

	want := "phaseflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
	if NewConfigValidationError(nil) != nil {
		t.Error("NewConfigValidationError(nil) should be nil")
	}
	if !errors.Is(NewConfigValidationError(inner), inner) {
		t.Error("expected wrapped validation error to match inner error")
	}
}

func TestUnknownTransportErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &UnknownTransportError{Name: "jms://queue", Registered: []string{"http", "local"}})

	if !errors.Is(err, ErrUnknownTransport) {
		t.Fatal("expected errors.Is to match ErrUnknownTransport")
	}
	var typed *UnknownTransportError
	if !errors.As(err, &typed) {
		t.Fatal("expected errors.As to find UnknownTransportError")
	}
	if typed.Name != "jms://queue" {
		t.Fatalf("unexpected name %q", typed.Name)
	}
	want := `phaseflow: unknown transport: "jms://queue" (registered: [http local])`
	if typed.Error() != want {
		t.Fatalf("Error() = %q, want %q", typed.Error(), want)
	}
}

func TestPhaseErrorsMatchSentinels(t *testing.T) {
	if !errors.Is(&UnknownPhaseError{Phase: "bogus", InterceptorID: "x"}, ErrUnknownPhase) {
		t.Fatal("expected UnknownPhaseError to match ErrUnknownPhase")
	}
	if !errors.Is(&PhaseAnchorError{Phase: "audit", Anchor: "nowhere"}, ErrUnresolvedAnchor) {
		t.Fatal("expected PhaseAnchorError to match ErrUnresolvedAnchor")
	}
}

func TestIOError(t *testing.T) {
	if NewIOError("send", "local://a", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}

	err := NewIOError("back-channel", "local://orders", ErrNoBackChannel)
	if !IsIOError(err) {
		t.Fatal("expected IsIOError to be true")
	}
	if !errors.Is(err, ErrNoBackChannel) {
		t.Fatal("expected wrapped cause to be visible")
	}
	want := "phaseflow: transport back-channel local://orders: phaseflow: no back-channel for message"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	again := NewIOError("send", "other", err)
	if again != err {
		t.Fatal("expected existing IOError to be returned unchanged")
	}
	if IsIOError(errors.New("plain")) {
		t.Fatal("plain errors are not I/O errors")
	}
}
