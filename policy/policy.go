// Package policy carries the fixed genesis constants that govern block
// timing, batch/epoch boundaries and slot weighting. Loading these from a
// config file is a wire/CLI concern and explicitly out of scope (spec.md
// §1); this package only holds the in-memory struct the rest of the core
// consumes, the way the teacher's config.Config holds policy fields without
// a wire-format layer of its own.
package policy

import (
	"fmt"
	"time"
)

// Constants are fixed at genesis and never change for the lifetime of a
// chain.
type Constants struct {
	// SlotCount is the total number of validator slots ("SLOTS").
	SlotCount int
	// BatchLength is the number of blocks (including the terminating macro
	// block) in one batch.
	BatchLength uint32
	// EpochLength is the number of blocks (including the terminating
	// election macro block) in one epoch. Must be a multiple of BatchLength.
	EpochLength uint32
	// TwoThirdSlots is the minimum slot-weighted quorum required for
	// Tendermint justifications and view-change proofs.
	TwoThirdSlots int
	// TimestampMaxDrift bounds how far into the future a block's timestamp
	// may be relative to the local wall clock.
	TimestampMaxDrift time.Duration
	// TransactionValidityWindow (W) is the number of most-recent main-chain
	// blocks whose transactions are kept in the replay-protection cache.
	TransactionValidityWindow uint32
}

// DefaultConstants returns the devnet constants used throughout this
// module's tests and documented end-to-end scenarios (spec.md §8):
// BATCH_LENGTH=32, EPOCH_LENGTH=128, SLOTS=512, TIMESTAMP_MAX_DRIFT=10s, W=120.
func DefaultConstants() Constants {
	return Constants{
		SlotCount:                 512,
		BatchLength:               32,
		EpochLength:               128,
		TwoThirdSlots:             342, // ceil(2*512/3)
		TimestampMaxDrift:         10 * time.Second,
		TransactionValidityWindow: 120,
	}
}

// Validate checks internal consistency of the constants.
func (c Constants) Validate() error {
	if c.SlotCount <= 0 {
		return fmt.Errorf("policy: slot count must be positive, got %d", c.SlotCount)
	}
	if c.BatchLength == 0 {
		return fmt.Errorf("policy: batch length must be positive")
	}
	if c.EpochLength == 0 || c.EpochLength%c.BatchLength != 0 {
		return fmt.Errorf("policy: epoch length %d must be a positive multiple of batch length %d", c.EpochLength, c.BatchLength)
	}
	if c.TwoThirdSlots <= c.SlotCount/2 || c.TwoThirdSlots > c.SlotCount {
		return fmt.Errorf("policy: two-third-slots %d must be in (slots/2, slots], got slots=%d", c.TwoThirdSlots, c.SlotCount)
	}
	return nil
}

// IsMacroBlock reports whether the block at height h is a macro block.
func (c Constants) IsMacroBlock(h uint32) bool {
	return h%c.BatchLength == 0
}

// IsElectionBlock reports whether the block at height h is an election
// (epoch-terminating) macro block.
func (c Constants) IsElectionBlock(h uint32) bool {
	return h%c.EpochLength == 0
}

// EpochIndex returns the epoch index containing height h, using
// ceiling-semantics so that the election block ending epoch N belongs to
// epoch N (height 0 is epoch 0 by definition).
func (c Constants) EpochIndex(h uint32) uint32 {
	if h == 0 {
		return 0
	}
	return (h - 1) / c.EpochLength
}

// BatchIndex returns the batch index containing height h, with the same
// ceiling-semantics as EpochIndex.
func (c Constants) BatchIndex(h uint32) uint32 {
	if h == 0 {
		return 0
	}
	return (h - 1) / c.BatchLength
}

// Policy does not fix how many slot bands one validator set has: that is a
// property of the elected Slots value (see package slots).
