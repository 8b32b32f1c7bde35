package metadata

import (
	"maps"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies Watermill metadata into protocol headers.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(maps.Clone(map[string]string(md))).orEmpty()
}

// ToWatermill copies protocol headers into Watermill metadata.
func ToWatermill(md Metadata) message.Metadata {
	out := message.Metadata(maps.Clone(map[string]string(md)))
	if out == nil {
		return message.Metadata{}
	}
	return out
}

func (m Metadata) orEmpty() Metadata {
	if m == nil {
		return Metadata{}
	}
	return m
}

// FromHTTP flattens HTTP headers, keeping the first value of each key in its
// canonical form.
func FromHTTP(h http.Header) Metadata {
	result := make(Metadata, len(h))
	for k, v := range h {
		if len(v) > 0 {
			result[http.CanonicalHeaderKey(k)] = v[0]
		}
	}
	return result
}

// ApplyHTTP sets every entry on h, replacing existing values.
func ApplyHTTP(h http.Header, md Metadata) {
	for k, v := range md {
		h.Set(k, v)
	}
}
