package primitive

import (
	"fmt"
	"sync"

	"github.com/opal-lang/verifpal-go/internal/value"
)

// Registry is a read-mostly catalogue lookup in the
// database/sql-driver-registration style: entries are registered once at
// construction, guarded by a RWMutex even though writes after NewRegistry
// are not expected in normal operation — a test harness registering a
// throwaway extra primitive is the one legitimate exception.
type Registry struct {
	mu      sync.RWMutex
	entries map[value.PrimitiveID]Spec
}

// NewRegistry builds a Registry from specs, typically primitive.Build().
func NewRegistry(specs []Spec) *Registry {
	r := &Registry{entries: make(map[value.PrimitiveID]Spec, len(specs))}
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

// Default is the process-standard catalogue. Verification contexts that
// don't need a custom catalogue can use this directly; tests may build
// their own via NewRegistry for isolation.
var Default = NewRegistry(Build())

// Register adds or replaces a Spec by id.
func (r *Registry) Register(s Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = s
}

// Lookup returns the Spec for id and whether it was found.
func (r *Registry) Lookup(id value.PrimitiveID) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[id]
	return s, ok
}

// MustLookup panics if id is not registered — used at call sites where an
// unknown id indicates a value-algebra bug rather than reachable user input
// (package diag wraps this into an *InternalError at the verify boundary).
func (r *Registry) MustLookup(id value.PrimitiveID) Spec {
	s, ok := r.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("primitive: unregistered id %d", id))
	}
	return s
}

// IsCore reports whether id names a core primitive (ASSERT/CONCAT/SPLIT).
func (r *Registry) IsCore(id value.PrimitiveID) bool {
	s, ok := r.Lookup(id)
	return ok && s.Core
}

// LookupByName returns the Spec whose canonical Name matches name
// (case-sensitive; callers normalize case beforehand — see
// internal/parser's primitiveNames table). Used by package construct to
// resolve a parsed ast.Value's Primitive field to a catalogue Spec.
func (r *Registry) LookupByName(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.entries {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}
