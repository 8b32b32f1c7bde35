package message

import (
	"errors"
	"fmt"
	"net/http"
)

// FaultCode classifies who caused a fault.
type FaultCode string

const (
	FaultCodeClient FaultCode = "Client"
	FaultCodeServer FaultCode = "Server"
)

// Fault is a processing fault that can travel to the peer as a protocol-level
// fault reply.
type Fault struct {
	Code       FaultCode         `json:"code"`
	Message    string            `json:"message"`
	StatusCode int               `json:"-"`
	Detail     map[string]string `json:"detail,omitempty"`
	Cause      error             `json:"-"`
}

// NewFault creates a fault with the status code matching code.
func NewFault(code FaultCode, format string, args ...any) *Fault {
	f := &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
	f.StatusCode = f.status()
	return f
}

// ClientFault reports a malformed or unacceptable request.
func ClientFault(cause error, format string, args ...any) *Fault {
	f := NewFault(FaultCodeClient, format, args...)
	f.Cause = cause
	return f
}

func (f *Fault) Error() string {
	if f.Cause != nil && f.Cause.Error() != f.Message {
		return fmt.Sprintf("%s fault: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s fault: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

func (f *Fault) status() int {
	if f.StatusCode != 0 {
		return f.StatusCode
	}
	if f.Code == FaultCodeClient {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Status returns the protocol status code for the fault.
func (f *Fault) Status() int {
	return f.status()
}

// AsFault converts err into a Fault. Errors that already are faults are
// returned as-is; anything else becomes a server fault.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{
		Code:       FaultCodeServer,
		Message:    err.Error(),
		StatusCode: http.StatusInternalServerError,
		Cause:      err,
	}
}
