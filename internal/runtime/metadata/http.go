package metadata

import (
	"net/http"
	"strings"
)

// HTTPHeaderPrefix namespaces call metadata inside HTTP headers.
const HTTPHeaderPrefix = "X-Adapterflow-"

// ToHTTPHeader writes call metadata into h.
func ToHTTPHeader(md Metadata, h http.Header) {
	for k, v := range md {
		h.Set(HTTPHeaderPrefix+strings.ReplaceAll(k, "_", "-"), v)
	}
}

// FromHTTPHeader extracts call metadata from h.
func FromHTTPHeader(h http.Header) Metadata {
	result := Metadata{}
	prefix := http.CanonicalHeaderKey(HTTPHeaderPrefix)
	for k, values := range h {
		canonical := http.CanonicalHeaderKey(k)
		if len(values) == 0 || !strings.HasPrefix(canonical, prefix) || len(canonical) == len(prefix) {
			continue
		}
		result[normalizeKey(strings.TrimPrefix(canonical, prefix))] = values[0]
	}
	return result
}
