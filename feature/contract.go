// Package feature is the capability registry: typed feature contracts
// identified by stable URIs, and the per-adapter Set mapping each contract to
// the object implementing it.
package feature

import (
	"fmt"
	"net/url"
	"strings"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

const (
	// BaseURI prefixes every built-in feature contract.
	BaseURI = "asc:features/"
	// ExtensionBaseURI prefixes every extension contract. Extension URIs must
	// be strict descendants of it.
	ExtensionBaseURI = "asc:extensions/"
)

// Descriptor describes a feature contract.
type Descriptor struct {
	URI         string `json:"uri"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// IsExtension reports whether the descriptor names an extension contract.
func (d Descriptor) IsExtension() bool {
	return !strings.HasPrefix(d.URI, BaseURI)
}

// Key is the runtime identity of a contract. Contract[T] implements it.
type Key interface {
	Descriptor() Descriptor
	// Accepts reports whether impl satisfies the contract.
	Accepts(impl any) bool
}

// Contract identifies a feature whose implementations satisfy T, normally an
// interface type.
type Contract[T any] struct {
	desc Descriptor
}

// New declares a contract. It panics on an empty URI since contracts are
// declared as package-level variables.
func New[T any](uri, displayName, description, category string) Contract[T] {
	if uri == "" {
		panic("adapterflow: feature contract URI cannot be empty")
	}
	return Contract[T]{desc: Descriptor{
		URI:         uri,
		DisplayName: displayName,
		Description: description,
		Category:    category,
	}}
}

// NewExtension declares an extension contract. The URI is normalised to end
// with a slash and must be a strict descendant of ExtensionBaseURI.
func NewExtension[T any](uri, displayName, description string) (Contract[T], error) {
	normalised, err := ValidateExtensionURI(uri)
	if err != nil {
		return Contract[T]{}, err
	}
	return Contract[T]{desc: Descriptor{
		URI:         normalised,
		DisplayName: displayName,
		Description: description,
		Category:    "extensions",
	}}, nil
}

func (c Contract[T]) Descriptor() Descriptor { return c.desc }

// URI returns the contract identity.
func (c Contract[T]) URI() string { return c.desc.URI }

func (c Contract[T]) Accepts(impl any) bool {
	if impl == nil {
		return false
	}
	_, ok := impl.(T)
	return ok
}

func (c Contract[T]) String() string { return c.desc.URI }

// ValidateExtensionURI checks that uri is an absolute URI below
// ExtensionBaseURI with no empty, "." or ".." segments, and returns it with a
// trailing slash.
func ValidateExtensionURI(uri string) (string, error) {
	invalid := func(reason string) (string, error) {
		return "", &errspkg.InvalidExtensionURIError{URI: uri, Reason: reason}
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return invalid(err.Error())
	}
	if !parsed.IsAbs() {
		return invalid("must be absolute")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return invalid("must not carry a query or fragment")
	}
	if !strings.HasPrefix(uri, ExtensionBaseURI) {
		return invalid(fmt.Sprintf("must be a child of %s", ExtensionBaseURI))
	}

	rest := strings.TrimSuffix(strings.TrimPrefix(uri, ExtensionBaseURI), "/")
	if rest == "" {
		return invalid("must be a strict descendant of the extension base")
	}
	for _, segment := range strings.Split(rest, "/") {
		switch segment {
		case "":
			return invalid("empty path segment")
		case ".", "..":
			return invalid("relative path segment")
		}
	}
	return ExtensionBaseURI + rest + "/", nil
}
