package feature

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

type entry struct {
	desc Descriptor
	impl any
}

// Set maps feature contracts to the objects implementing them for one
// adapter. It is populated while the adapter starts and read-only after
// Seal. Lookups never lock: writers publish a fresh immutable map.
type Set struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[string]entry]
	sealed  atomic.Bool
}

// NewSet returns an empty, unsealed Set.
func NewSet() *Set {
	s := &Set{}
	empty := map[string]entry{}
	s.entries.Store(&empty)
	return s
}

// Add registers impl for key. It fails if the contract is already
// registered, if impl does not satisfy it, if an extension URI is invalid,
// or once the set is sealed.
func (s *Set) Add(key Key, impl any) error {
	if key == nil {
		return errspkg.Validation("feature", "contract is required")
	}
	desc := key.Descriptor()
	if desc.IsExtension() {
		if _, err := ValidateExtensionURI(desc.URI); err != nil {
			return err
		}
	}
	if !key.Accepts(impl) {
		return fmt.Errorf("%w: %s (%T)", errspkg.ErrFeatureMismatch, desc.URI, impl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed.Load() {
		return fmt.Errorf("%w: %s", errspkg.ErrFeatureSetSealed, desc.URI)
	}
	current := s.load()
	if _, exists := current[desc.URI]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateFeature, desc.URI)
	}

	next := make(map[string]entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[desc.URI] = entry{desc: desc, impl: impl}
	s.entries.Store(&next)
	return nil
}

// AddMatching registers impl for every key it satisfies and returns how many
// contracts were added. Keys impl does not satisfy are skipped.
func (s *Set) AddMatching(impl any, keys ...Key) (int, error) {
	var errs []error
	added := 0
	for _, key := range keys {
		if !key.Accepts(impl) {
			continue
		}
		if err := s.Add(key, impl); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	return added, errors.Join(errs...)
}

// Register is the typed form of Add.
func Register[T any](s *Set, contract Contract[T], impl T) error {
	return s.Add(contract, impl)
}

// Seal makes the set read-only.
func (s *Set) Seal() { s.sealed.Store(true) }

// Sealed reports whether Seal was called.
func (s *Set) Sealed() bool { return s.sealed.Load() }

// Lookup returns the implementation registered under uri.
func (s *Set) Lookup(uri string) (any, bool) {
	e, ok := s.load()[uri]
	if !ok {
		return nil, false
	}
	return e.impl, true
}

// Descriptor returns the descriptor registered under uri.
func (s *Set) Descriptor(uri string) (Descriptor, bool) {
	e, ok := s.load()[uri]
	return e.desc, ok
}

// Has reports whether key is registered.
func (s *Set) Has(key Key) bool {
	_, ok := s.load()[key.Descriptor().URI]
	return ok
}

// Len returns the number of registered contracts.
func (s *Set) Len() int { return len(s.load()) }

// Supported returns a snapshot of the registered contracts sorted by URI.
func (s *Set) Supported() []Descriptor {
	current := s.load()
	out := make([]Descriptor, 0, len(current))
	for _, e := range current {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Extensions returns the registered extension contracts sorted by URI.
func (s *Set) Extensions() []Descriptor {
	var out []Descriptor
	for _, d := range s.Supported() {
		if d.IsExtension() {
			out = append(out, d)
		}
	}
	return out
}

func (s *Set) load() map[string]entry {
	if p := s.entries.Load(); p != nil {
		return *p
	}
	return nil
}

// Get returns the implementation of contract, or false when the set does not
// support it.
func Get[T any](s *Set, contract Contract[T]) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	impl, ok := s.Lookup(contract.URI())
	if !ok {
		return zero, false
	}
	typed, ok := impl.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
