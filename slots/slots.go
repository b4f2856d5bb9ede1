// Package slots derives, from an election macro block, the fixed slot-band
// assignment its epoch uses, and answers "who owns slot N at (height, view)"
// for that assignment (spec.md §4.1 item 3, §6, §9 supplemented query
// surface). Grounded on consensus/poa.go's validator-lookup helpers, which
// answer the analogous "who signs next" question for a single-tier chain.
package slots

import (
	"fmt"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

// Registry is one epoch's fixed validator slot assignment, derived once at
// election time and immutable for the epoch's lifetime.
type Registry struct {
	slots block.Slots
}

// DeriveRegistry builds the Registry an election macro block's validator
// list represents.
func DeriveRegistry(validators block.Slots) *Registry {
	return &Registry{slots: validators}
}

// Slots returns the underlying slot-band assignment.
func (r *Registry) Slots() block.Slots {
	return r.slots
}

// SlotCount returns the total slot count covered by the registry.
func (r *Registry) SlotCount() int {
	return r.slots.SlotCount()
}

// SlotOwner resolves the public key owning slot index i.
func (r *Registry) SlotOwner(i int) (crypto.PublicKey, error) {
	band, ok := r.slots.BandAt(i)
	if !ok {
		return crypto.PublicKey{}, fmt.Errorf("slots: index %d out of range", i)
	}
	return band.PublicKey, nil
}

// GetSlotAt resolves the slot index, and its owner's public key, elected to
// produce the block at (blockNumber, viewNumber), given the VRF seed of the
// immediate predecessor block (spec.md §4.1 item 3, §4.2 step 3).
func GetSlotAt(r *Registry, predecessorSeed crypto.VRFSeed, viewNumber uint32) (int, crypto.PublicKey, error) {
	total := r.SlotCount()
	if total == 0 {
		return 0, crypto.PublicKey{}, fmt.Errorf("slots: empty registry")
	}
	entropy := predecessorSeed.RNG(crypto.UseCaseSlotSelection, uint64(viewNumber))
	idx := int(entropy[0]) | int(entropy[1])<<8 | int(entropy[2])<<16 | int(entropy[3])<<24
	if idx < 0 {
		idx = -idx
	}
	slot := idx % total
	owner, err := r.SlotOwner(slot)
	if err != nil {
		return 0, crypto.PublicKey{}, err
	}
	return slot, owner, nil
}

// GetSlotForNextBlock is GetSlotAt specialised to view 0, the common case
// when producing (rather than verifying) the immediate next block (spec.md
// §9 query surface "get_slot_for_next_block").
func GetSlotForNextBlock(r *Registry, predecessorSeed crypto.VRFSeed) (int, crypto.PublicKey, error) {
	return GetSlotAt(r, predecessorSeed, 0)
}
