// Package ottypes is the pluggable OT type registry: the per-type
// create/apply/transform handlers the kernel delegates to, plus the two
// reference types (counter, simple-text) used as test vehicles.
package ottypes

import (
	"fmt"
	"sync"
)

// Side is the tie-break tag passed to Type.Transform for operations that
// touch the same position. 'left' is used for the lower-priority operand
// (the one being rebased forward), 'right' for the higher-priority one.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Type is a registered OT type handler. Create, Apply and Transform are
// mandatory; Compose, Invert and Normalize are optional and detected via
// the Composer/Inverter/Normalizer interfaces below.
type Type interface {
	// Name is the short registration name, e.g. "counter".
	Name() string
	// URI is the long-form registration identifier a snapshot's Type field
	// is set to once a document of this type exists.
	URI() string
	// Create builds the initial snapshot payload from optional creation
	// data.
	Create(data interface{}) (interface{}, error)
	// Apply is pure: it must not mutate snapshotData, and returns the next
	// payload.
	Apply(snapshotData interface{}, opPayload interface{}) (interface{}, error)
	// Transform rewrites opPayload to reflect that appliedPayload was
	// already applied first, from the given side.
	Transform(opPayload, appliedPayload interface{}, side Side) (interface{}, error)
}

// Composer types can merge two sequential edits into one.
type Composer interface {
	Compose(a, b interface{}) (interface{}, error)
}

// Inverter types can produce the inverse of an edit, for undo.
type Inverter interface {
	Invert(op interface{}) (interface{}, error)
}

// Normalizer types can canonicalize an edit payload before use.
type Normalizer interface {
	Normalize(op interface{}) (interface{}, error)
}

// Registry is a process-wide, explicitly-held service (not a package-level
// singleton): callers that need type resolution receive a *Registry by
// reference.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Type
}

// NewRegistry returns an empty registry. Call Register to populate it, or
// use NewDefaultRegistry for one seeded with the reference types.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Type)}
}

// NewDefaultRegistry returns a registry seeded with the two reference
// types (counter, simple-text).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewCounterType())
	r.Register(NewSimpleTextType())
	return r
}

// Register adds t under both its short name and its URI; either resolves
// to the same handler.
func (r *Registry) Register(t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.Name()] = t
	r.byID[t.URI()] = t
}

// Get resolves a short name or URI to its handler.
func (r *Registry) Get(nameOrURI string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[nameOrURI]
	return t, ok
}

// MustGet panics if nameOrURI is not registered; for use in tests and
// initialization code where the type set is known to be complete.
func (r *Registry) MustGet(nameOrURI string) Type {
	t, ok := r.Get(nameOrURI)
	if !ok {
		panic(fmt.Sprintf("ottypes: type %q not registered", nameOrURI))
	}
	return t
}
