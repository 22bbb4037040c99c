package object

import "fmt"

// Identity identifies a live runtime object: a slot index plus a
// generation counter. Slots are recycled after release; the generation
// is bumped on every reuse so a recycled slot never aliases the object
// that previously occupied it.
type Identity struct {
	Slot int `json:"slot"`
	Gen  int `json:"gen"`
}

// None is the zero identity; it never refers to a live object.
var None = Identity{Slot: -1}

// Valid reports whether the identity refers to an allocated slot.
func (id Identity) Valid() bool {
	return id.Slot >= 0
}

func (id Identity) String() string {
	return fmt.Sprintf("o%d.%d", id.Slot, id.Gen)
}
