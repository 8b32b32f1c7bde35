// Package cloudevents maps CloudEvents v1.0 context attributes onto message
// headers using the binary content mode of the HTTP, Kafka and AMQP protocol
// bindings: every attribute travels as a "ce-" prefixed header and the body
// stays the event data.
package cloudevents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// HeaderPrefix prefixes every attribute header.
const HeaderPrefix = "ce-"

// Extension attributes set by phaseflow.
const (
	ExtCorrelationID = "correlationid"
	ExtTraceParent   = "traceparent"
)

// ErrInvalidEvent is returned by Validate for events missing required
// attributes.
var ErrInvalidEvent = errors.New("cloudevents: invalid event")

// Context holds the context attributes of one event. Extensions are limited
// to string values, which is all binary content mode can carry.
type Context struct {
	SpecVersion     string            `json:"specversion"`
	Type            string            `json:"type"`
	Source          string            `json:"source"`
	ID              string            `json:"id"`
	Time            time.Time         `json:"time,omitempty"`
	Subject         string            `json:"subject,omitempty"`
	DataContentType string            `json:"datacontenttype,omitempty"`
	DataSchema      string            `json:"dataschema,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty"`
}

// New creates a context with required fields populated.
// ID is auto-generated using ULID, Time is set to current time.
func New(eventType, source string) Context {
	return Context{
		SpecVersion: SpecVersion,
		Type:        eventType,
		Source:      source,
		ID:          idspkg.CreateULID(),
		Time:        time.Now().UTC(),
	}
}

// WithExtension sets an extension attribute and returns the context.
// Extension names are lower-cased as required by the naming rules.
func (c Context) WithExtension(name, value string) Context {
	ext := make(map[string]string, len(c.Extensions)+1)
	for k, v := range c.Extensions {
		ext[k] = v
	}
	ext[strings.ToLower(name)] = value
	c.Extensions = ext
	return c
}

// Extension returns the named extension or "".
func (c Context) Extension(name string) string {
	return c.Extensions[strings.ToLower(name)]
}

// Validate checks that the event has all required CloudEvents attributes.
func (c Context) Validate() error {
	var problems []error
	switch {
	case c.SpecVersion == "":
		problems = append(problems, errors.New("specversion is required"))
	case c.SpecVersion != SpecVersion:
		problems = append(problems, fmt.Errorf("specversion must be %q, got %q", SpecVersion, c.SpecVersion))
	}
	if c.Type == "" {
		problems = append(problems, errors.New("type is required"))
	}
	if c.Source == "" {
		problems = append(problems, errors.New("source is required"))
	}
	if c.ID == "" {
		problems = append(problems, errors.New("id is required"))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidEvent, errors.Join(problems...))
}

// ToHeaders writes the attributes into md. Existing attribute headers are
// replaced regardless of their case.
func (c Context) ToHeaders(md metadatapkg.Metadata) {
	md.DeleteWithPrefix(HeaderPrefix)
	set := func(name, value string) {
		if value != "" {
			md[HeaderPrefix+name] = value
		}
	}
	set("specversion", c.SpecVersion)
	set("type", c.Type)
	set("source", c.Source)
	set("id", c.ID)
	set("time", FormatTime(c.Time))
	set("subject", c.Subject)
	set("dataschema", c.DataSchema)
	for k, v := range c.Extensions {
		set(k, v)
	}
}

// FromHeaders reads the attributes from md. It reports false when md carries
// no ce-specversion header, meaning the message is not a CloudEvent. Header
// names are matched case-insensitively since HTTP canonicalizes them.
func FromHeaders(md metadatapkg.Metadata) (Context, bool, error) {
	var c Context
	found := false
	for k, v := range md {
		if !metadatapkg.HasPrefixFold(k, HeaderPrefix) {
			continue
		}
		name := strings.ToLower(k[len(HeaderPrefix):])
		switch name {
		case "specversion":
			c.SpecVersion = v
			found = true
		case "type":
			c.Type = v
		case "source":
			c.Source = v
		case "id":
			c.ID = v
		case "subject":
			c.Subject = v
		case "dataschema":
			c.DataSchema = v
		case "time":
			t, err := ParseTime(v)
			if err != nil {
				return Context{}, true, fmt.Errorf("%w: time: %w", ErrInvalidEvent, err)
			}
			c.Time = t
		default:
			c = c.WithExtension(name, v)
		}
	}
	if !found {
		return Context{}, false, nil
	}
	c.DataContentType, _ = md.Lookup("Content-Type")
	return c, true, nil
}

// ParseTime parses an RFC3339 timestamp, with or without fractional seconds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// FormatTime formats a time value for CloudEvents.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
