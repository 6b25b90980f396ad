// Package extension holds the entry points an extension exposes to the
// native runtime. Every entry point is stored in its guarded form, so no
// unguarded Go frame can be called by the runtime.
package extension

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/risor-io/ffiguard/guard"
	"github.com/risor-io/ffiguard/native"
)

// ErrDuplicate is recorded when a name is registered twice.
var ErrDuplicate = errors.New("duplicate entry point")

// Func is the Go implementation of an entry point.
type Func func(args ...native.Datum) native.Datum

// Registry maps names to guarded entry points. It implements
// native.FunctionTable.
type Registry struct {
	entries map[string]native.Function
	errs    *multierror.Error
}

var _ native.FunctionTable = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]native.Function{}}
}

// Register adds fn under name, wrapped in guard.CallFromNative. Problems
// are collected and reported by Validate; the first registration of a name
// wins.
func (r *Registry) Register(name string, fn Func) *Registry {
	switch {
	case name == "":
		r.errs = multierror.Append(r.errs, errors.New("entry point with empty name"))
		return r
	case fn == nil:
		r.errs = multierror.Append(r.errs, fmt.Errorf("entry point %q has no function", name))
		return r
	}
	if _, ok := r.entries[name]; ok {
		r.errs = multierror.Append(r.errs, fmt.Errorf("%w: %q", ErrDuplicate, name))
		return r
	}
	r.entries[name] = func(args ...native.Datum) native.Datum {
		return guard.CallFromNative(func() native.Datum {
			return fn(args...)
		})
	}
	return r
}

// Lookup returns the guarded entry point registered under name.
func (r *Registry) Lookup(name string) (native.Function, bool) {
	fn, ok := r.entries[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate returns every problem found while registering, or nil.
func (r *Registry) Validate() error {
	return r.errs.ErrorOrNil()
}
