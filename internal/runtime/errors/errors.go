package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrBusRequired         = sterrors.New("phaseflow: bus is required")
	ErrEndpointRequired    = sterrors.New("phaseflow: endpoint is required")
	ErrAddressRequired     = sterrors.New("phaseflow: endpoint address is required")
	ErrObserverRequired    = sterrors.New("phaseflow: message observer is required")
	ErrConfigRequired      = sterrors.New("phaseflow: configuration is required")
	ErrLoggerRequired      = sterrors.New("phaseflow: logger is required")
	ErrUnknownTransport    = sterrors.New("phaseflow: unknown transport")
	ErrUnknownPhase        = sterrors.New("phaseflow: unknown phase")
	ErrUnresolvedAnchor    = sterrors.New("phaseflow: unresolved phase anchor")
	ErrNoBackChannel       = sterrors.New("phaseflow: no back-channel for message")
	ErrChainNotPaused      = sterrors.New("phaseflow: interceptor chain is not paused")
	ErrSuspended           = sterrors.New("phaseflow: interceptor chain suspended")
	ErrInterceptorNotFound = sterrors.New("phaseflow: interceptor not found in chain")
	ErrDestinationShutdown = sterrors.New("phaseflow: destination is shut down")
	ErrNoOperation         = sterrors.New("phaseflow: operation not found")
	ErrResponseTimeout     = sterrors.New("phaseflow: timed out waiting for response")
	ErrNoOutputStream      = sterrors.New("phaseflow: message has no output stream")
)

// ConfigValidationError wraps every problem found while validating a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "phaseflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// UnknownTransportError is returned when no factory is registered for a
// transport identifier or URI.
type UnknownTransportError struct {
	Name       string
	Registered []string
}

func (e *UnknownTransportError) Error() string {
	return fmt.Sprintf("phaseflow: unknown transport: %q (registered: %v)", e.Name, e.Registered)
}

func (e *UnknownTransportError) Is(target error) bool {
	return target == ErrUnknownTransport
}

// UnknownPhaseError reports an interceptor positioned against a phase that is
// not part of the chain's phase list.
type UnknownPhaseError struct {
	Phase         string
	InterceptorID string
}

func (e *UnknownPhaseError) Error() string {
	return fmt.Sprintf("phaseflow: interceptor %q declares unknown phase %q", e.InterceptorID, e.Phase)
}

func (e *UnknownPhaseError) Is(target error) bool {
	return target == ErrUnknownPhase
}

// PhaseAnchorError reports a custom phase whose before/after anchor does not exist.
type PhaseAnchorError struct {
	Phase  string
	Anchor string
}

func (e *PhaseAnchorError) Error() string {
	return fmt.Sprintf("phaseflow: phase %q anchored to unknown phase %q", e.Phase, e.Anchor)
}

func (e *PhaseAnchorError) Is(target error) bool {
	return target == ErrUnresolvedAnchor
}

// IOError is the transport I/O error class. Destinations and conduits return it
// when a send, receive or back-channel operation cannot be performed.
type IOError struct {
	Op      string
	Address string
	Err     error
}

func (e *IOError) Error() string {
	var b strings.Builder
	b.WriteString("phaseflow: transport ")
	b.WriteString(e.Op)
	if e.Address != "" {
		b.WriteString(" ")
		b.WriteString(e.Address)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError wraps err as a transport I/O error. It returns nil for a nil err.
func NewIOError(op, address string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if sterrors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Address: address, Err: err}
}

// IsIOError reports whether err is, or wraps, a transport I/O error.
func IsIOError(err error) bool {
	var ioErr *IOError
	return sterrors.As(err, &ioErr)
}
