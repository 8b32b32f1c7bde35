// Package metadata holds the protocol headers that travel with a message and
// their conversions to Watermill metadata and HTTP headers.
package metadata

import (
	"maps"
	"strings"
)

// Metadata represents the protocol headers carried alongside a message.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map. Cloning nil yields an
// empty, writable map.
func (m Metadata) Clone() Metadata {
	return m.grow(0)
}

func (m Metadata) grow(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	maps.Copy(cloned, m)
	return cloned
}

// Get returns the value for key, or the empty string. Safe on a nil map.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Lookup finds key, falling back to a case-insensitive match. HTTP
// canonicalizes header names while broker transports keep them as sent, so
// readers that accept both use Lookup.
func (m Metadata) Lookup(key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// DeleteWithPrefix removes every key starting with prefix, ignoring case.
func (m Metadata) DeleteWithPrefix(prefix string) {
	for k := range m {
		if HasPrefixFold(k, prefix) {
			delete(m, k)
		}
	}
}

// HasPrefixFold reports whether key starts with prefix, ignoring case.
func HasPrefixFold(key, prefix string) bool {
	return len(key) >= len(prefix) && strings.EqualFold(key[:len(prefix)], prefix)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.grow(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.grow(len(entries))
	maps.Copy(cloned, entries)
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
