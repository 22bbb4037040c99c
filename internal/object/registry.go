package object

import "fmt"

// Registry maps live object identities to their current value version.
// Identity slots are handed out by Allocate and returned by Release;
// a released slot is reused with its generation bumped, so a stale
// Identity held across a release can never alias the new occupant:
// the two identities differ in generation and key separate entries.
//
// The registry is session-scoped: it shrinks as objects become
// unreachable. Exported graph nodes are unaffected by eviction.
//
// Bind and Lookup accept identities that were not allocated by this
// registry. A journal replay feeds recorded identities straight back
// in; the (slot, generation) key keeps them unambiguous without the
// allocator's involvement.
type Registry struct {
	gens    []int               // current generation per allocated slot
	free    []int               // released slots available for reuse
	current map[Identity]string // identity -> current version id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		current: make(map[Identity]string),
	}
}

// Allocate hands out an identity for a newly observed object.
// Released slots are reused (LIFO) under the generation assigned when
// the previous occupant was released.
func (r *Registry) Allocate() Identity {
	if n := len(r.free); n > 0 {
		slot := r.free[n-1]
		r.free = r.free[:n-1]
		return Identity{Slot: slot, Gen: r.gens[slot]}
	}
	slot := len(r.gens)
	r.gens = append(r.gens, 0)
	return Identity{Slot: slot, Gen: 0}
}

// Lookup resolves an identity to its current version id. A released
// identity resolves to nothing: the caller must treat the object as
// brand new.
func (r *Registry) Lookup(id Identity) (string, bool) {
	ver, ok := r.current[id]
	return ver, ok
}

// Bind records version as the current version of id. Binding through
// a stale handle (the slot has been released or reassigned since) is
// an error: continuing a recycled identity's chain would silently
// corrupt the mutation history.
func (r *Registry) Bind(id Identity, version string) error {
	if !id.Valid() {
		return fmt.Errorf("registry: bind on invalid identity %s", id)
	}
	if id.Slot < len(r.gens) && id.Gen < r.gens[id.Slot] {
		return fmt.Errorf("registry: bind on stale identity %s", id)
	}
	r.current[id] = version
	return nil
}

// Release evicts an identity whose object is no longer reachable.
// The generation is bumped immediately, so any handle to the released
// identity goes stale at once, and the slot becomes available for
// reuse. Releasing a stale or foreign identity only drops its binding.
func (r *Registry) Release(id Identity) {
	delete(r.current, id)
	if id.Slot >= 0 && id.Slot < len(r.gens) && id.Gen == r.gens[id.Slot] {
		r.gens[id.Slot]++
		r.free = append(r.free, id.Slot)
	}
}

// Live returns the number of identities with a current version binding.
func (r *Registry) Live() int {
	return len(r.current)
}
