// Package adapter defines adapter identity, the per-call context handed to
// feature operations, and typed feature resolution.
package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drblury/adapterflow/feature"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

// Descriptor identifies an adapter instance. It is immutable after the
// adapter is constructed.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate checks the descriptor.
func (d Descriptor) Validate() error {
	var errs []error
	if strings.TrimSpace(d.ID) == "" {
		errs = append(errs, errspkg.Validation("id", "adapter id is required"))
	}
	if strings.ContainsAny(d.ID, " /|") {
		errs = append(errs, errspkg.Validation("id", "adapter id must not contain spaces, '/' or '|'"))
	}
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errspkg.Validation("name", "adapter name is required"))
	}
	return errors.Join(errs...)
}

// Adapter exposes a set of features for one data source.
type Adapter interface {
	Descriptor() Descriptor
	Features() *feature.Set
}

// Info is the extended description of an adapter: its identity plus the
// URIs of the features and extensions it supports.
type Info struct {
	Descriptor Descriptor `json:"descriptor"`
	Features   []string   `json:"features"`
	Extensions []string   `json:"extensions,omitempty"`
}

// Describe builds Info from a.
func Describe(a Adapter) Info {
	info := Info{Descriptor: a.Descriptor()}
	for _, d := range a.Features().Supported() {
		if d.IsExtension() {
			info.Extensions = append(info.Extensions, d.URI)
			continue
		}
		info.Features = append(info.Features, d.URI)
	}
	return info
}

// Supports reports whether info lists uri.
func (i Info) Supports(uri string) bool {
	for _, f := range i.Features {
		if f == uri {
			return true
		}
	}
	for _, e := range i.Extensions {
		if e == uri {
			return true
		}
	}
	return false
}

// Base is a ready-made Adapter: a descriptor plus a feature set. Embed it in
// concrete adapters.
type Base struct {
	desc     Descriptor
	features *feature.Set
}

// NewBase validates desc and returns an adapter with an empty feature set.
func NewBase(desc Descriptor) (*Base, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &Base{desc: desc, features: feature.NewSet()}, nil
}

func (b *Base) Descriptor() Descriptor { return b.desc }

func (b *Base) Features() *feature.Set { return b.features }

// Resolve returns a's implementation of contract, or an
// UnsupportedFeatureError. It never blocks.
func Resolve[T any](a Adapter, contract feature.Contract[T]) (T, error) {
	var zero T
	if a == nil {
		return zero, errspkg.ErrAdapterRequired
	}
	impl, ok := feature.Get(a.Features(), contract)
	if !ok {
		return zero, &errspkg.UnsupportedFeatureError{AdapterID: a.Descriptor().ID, Feature: contract.URI()}
	}
	return impl, nil
}

// MustResolve is Resolve for callers that already checked support.
func MustResolve[T any](a Adapter, contract feature.Contract[T]) T {
	impl, err := Resolve(a, contract)
	if err != nil {
		panic(fmt.Sprintf("adapterflow: %v", err))
	}
	return impl
}
