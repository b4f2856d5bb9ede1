// Package staking is the external collaborator contract for the staking
// contract account at the well-known validator_registry_address (spec.md
// §6): validator election, disabled/lost-reward bookkeeping and batch
// finalization. The real contract lives inside the accounts tree; this
// package provides a simplified standalone implementation so the chain
// core can be built and tested without a full VM.
package staking

import (
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

// Address is the well-known account address the staking contract lives at.
const Address = "0000000000000000000000000000000000000000000000000000000000000001"

// Contract is the external collaborator contract consumed from the staking
// contract (spec.md §6).
type Contract interface {
	// SelectValidators derives the next epoch's validator slot bands from
	// the election block's VRF seed.
	SelectValidators(seed crypto.VRFSeed) block.Slots
	// PreviousDisabledSlots returns the disabled-set bitset recorded for
	// the epoch just closed.
	PreviousDisabledSlots() *crypto.BitSet
	// PreviousLostRewards returns the lost-reward-set bitset recorded for
	// the epoch just closed.
	PreviousLostRewards() *crypto.BitSet
	// RegisterCandidate adds a candidate validator eligible for future
	// elections, weighted by its requested slot count.
	RegisterCandidate(pub crypto.PublicKey, requestedSlots int)
	// FinalizeBatch retires validators marked inactive/malicious by the
	// given disabled set, applying the FinalizeBatch inherent's effect
	// (spec.md §4.7 step 6).
	FinalizeBatch(disabled *crypto.BitSet)
}

// MemContract is a simplified in-memory Contract implementation: elections
// are a deterministic, VRF-seeded Fisher-Yates shuffle of registered
// candidates into contiguous bands sized in proportion to each candidate's
// requested slots.
type MemContract struct {
	candidates []candidate
	disabled   *crypto.BitSet
	lostReward *crypto.BitSet
	slotCount  int
}

type candidate struct {
	pub   crypto.PublicKey
	slots int
}

// NewMemContract creates a Contract with the given total slot count.
func NewMemContract(slotCount int) *MemContract {
	return &MemContract{slotCount: slotCount}
}

func (c *MemContract) RegisterCandidate(pub crypto.PublicKey, requestedSlots int) {
	c.candidates = append(c.candidates, candidate{pub: pub, slots: requestedSlots})
}

// SelectValidators deterministically assigns contiguous slot bands to
// registered candidates in VRF-seeded order, scaling requested weights to
// exactly fill SlotCount.
func (c *MemContract) SelectValidators(seed crypto.VRFSeed) block.Slots {
	if len(c.candidates) == 0 {
		return nil
	}
	order := make([]int, len(c.candidates))
	for i := range order {
		order[i] = i
	}
	entropy := seed.RNG(crypto.UseCaseSlotSelection, 0)
	shuffle(order, entropy)

	totalWeight := 0
	for _, cand := range c.candidates {
		totalWeight += cand.slots
	}
	if totalWeight == 0 {
		totalWeight = len(c.candidates)
	}

	var slots block.Slots
	next := 0
	assigned := 0
	for rank, idx := range order {
		cand := c.candidates[idx]
		weight := cand.slots
		if weight == 0 {
			weight = 1
		}
		var size int
		if rank == len(order)-1 {
			size = c.slotCount - assigned
		} else {
			size = weight * c.slotCount / totalWeight
		}
		if size <= 0 {
			continue
		}
		slots = append(slots, block.SlotBand{PublicKey: cand.pub, First: next, Last: next + size})
		next += size
		assigned += size
	}
	return slots
}

func (c *MemContract) PreviousDisabledSlots() *crypto.BitSet {
	if c.disabled == nil {
		return crypto.NewBitSet(c.slotCount)
	}
	return c.disabled
}

func (c *MemContract) PreviousLostRewards() *crypto.BitSet {
	if c.lostReward == nil {
		return crypto.NewBitSet(c.slotCount)
	}
	return c.lostReward
}

func (c *MemContract) FinalizeBatch(disabled *crypto.BitSet) {
	c.disabled = disabled
}

// shuffle performs a deterministic Fisher-Yates shuffle seeded by entropy.
func shuffle(order []int, entropy crypto.Hash) {
	state := entropy
	for i := len(order) - 1; i > 0; i-- {
		state = crypto.HashBytes(state[:])
		j := int(state[0]) % (i + 1)
		order[i], order[j] = order[j], order[i]
	}
}
