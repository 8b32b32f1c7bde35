// Package phase orders and drives interceptors. A Manager holds the in and out
// phase backbones, Sort is the pure ordering function, and Chain is the engine
// that runs a message through the sorted sequence with fault unwinding,
// pause/suspend/resume and mid-run insertion.
package phase

import (
	"fmt"
	"strings"
)

// Phase is an immutable named stage with its position in a phase list.
type Phase struct {
	Name     string
	Priority int
}

func (p Phase) String() string {
	return fmt.Sprintf("%s(%d)", p.Name, p.Priority)
}

// Default phase names.
const (
	Receive             = "receive"
	PreStream           = "pre-stream"
	UserStream          = "user-stream"
	PostStream          = "post-stream"
	PreProtocol         = "pre-protocol"
	PreProtocolFrontend = "pre-protocol-frontend"
	UserProtocol        = "user-protocol"
	PostProtocol        = "post-protocol"
	Read                = "read"
	Unmarshal           = "unmarshal"
	PreLogical          = "pre-logical"
	UserLogical         = "user-logical"
	PostLogical         = "post-logical"
	PreInvoke           = "pre-invoke"
	Invoke              = "invoke"
	PostInvoke          = "post-invoke"

	Setup       = "setup"
	PrepareSend = "prepare-send"
	Marshal     = "marshal"
	Write       = "write"
	Send        = "send"
)

const endingSuffix = "-ending"

// Ending returns the name of the closing phase paired with an out phase.
func Ending(name string) string {
	return name + endingSuffix
}

// IsEnding reports whether name is a closing phase.
func IsEnding(name string) bool {
	return strings.HasSuffix(name, endingSuffix)
}

var defaultIn = []string{
	Receive,
	PreStream,
	UserStream,
	PostStream,
	PreProtocol,
	PreProtocolFrontend,
	UserProtocol,
	PostProtocol,
	Read,
	Unmarshal,
	PreLogical,
	UserLogical,
	PostLogical,
	PreInvoke,
	Invoke,
	PostInvoke,
}

var defaultOutOpening = []string{
	Setup,
	PreLogical,
	UserLogical,
	PostLogical,
	PrepareSend,
	PreStream,
	PreProtocol,
	PreProtocolFrontend,
	UserProtocol,
	PostProtocol,
	Marshal,
	Write,
	UserStream,
	PostStream,
	Send,
}

// DefaultInNames returns the default in phase order.
func DefaultInNames() []string {
	return append([]string(nil), defaultIn...)
}

// DefaultOutNames returns the default out phase order: the opening phases
// followed by their "-ending" counterparts in reverse.
func DefaultOutNames() []string {
	names := make([]string, 0, 2*len(defaultOutOpening))
	names = append(names, defaultOutOpening...)
	for i := len(defaultOutOpening) - 1; i >= 0; i-- {
		names = append(names, Ending(defaultOutOpening[i]))
	}
	return names
}

// FromNames builds a phase list with priorities spaced by 1000.
func FromNames(names ...string) []Phase {
	phases := make([]Phase, len(names))
	for i, name := range names {
		phases[i] = Phase{Name: name, Priority: (i + 1) * 1000}
	}
	return phases
}

// Names returns the phase names in order.
func Names(phases []Phase) []string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.Name
	}
	return names
}

// Index returns the position of the named phase, or -1.
func Index(phases []Phase, name string) int {
	for i, p := range phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}
