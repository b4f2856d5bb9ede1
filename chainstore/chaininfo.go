// Package chainstore holds the durable chain-info map, its secondary
// indexes, and the bounded replay-protection cache (spec.md §4.1
// "Chain store", "Transaction replay cache").
package chainstore

import (
	"encoding/json"

	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

// SlashedSet carries the three bitsets spec.md §3 assigns to a ChainInfo:
// the current epoch's view-change and fork-proof slashes, and the previous
// epoch's final state.
type SlashedSet struct {
	CurrentViewChange *crypto.BitSet
	CurrentForkProof  *crypto.BitSet
	PreviousFinal     *crypto.BitSet
}

// Union returns the combined current-epoch slashed slots (view-change ∪
// fork-proof), the set spec.md §4.7 sums over for reward distribution.
func (s SlashedSet) Union() *crypto.BitSet {
	return s.CurrentViewChange.Union(s.CurrentForkProof)
}

// ChainInfo is the durable record stored per block hash (spec.md §3).
type ChainInfo struct {
	Block            block.Block
	CumulativeFees   uint64
	Slashed          SlashedSet
	OnMainChain      bool
	Successor        *crypto.Hash
	Receipts         []accounts.Receipt
	InherentReceipts []accounts.Receipt
}

// chainInfoWire mirrors ChainInfo but carries Block as a type-tagged
// envelope, since Go's encoding/json cannot round-trip an interface field
// on its own.
type chainInfoWire struct {
	BlockType        block.Type
	Micro            *block.MicroBlock `json:",omitempty"`
	Macro            *block.MacroBlock `json:",omitempty"`
	CumulativeFees   uint64
	Slashed          SlashedSet
	OnMainChain      bool
	Successor        *crypto.Hash
	Receipts         []accounts.Receipt
	InherentReceipts []accounts.Receipt
}

// MarshalJSON implements the Block-interface-aware encoding described above.
func (ci *ChainInfo) MarshalJSON() ([]byte, error) {
	w := chainInfoWire{
		CumulativeFees:   ci.CumulativeFees,
		Slashed:          ci.Slashed,
		OnMainChain:      ci.OnMainChain,
		Successor:        ci.Successor,
		Receipts:         ci.Receipts,
		InherentReceipts: ci.InherentReceipts,
	}
	switch b := ci.Block.(type) {
	case *block.MicroBlock:
		w.BlockType = block.TypeMicro
		w.Micro = b
	case *block.MacroBlock:
		w.BlockType = block.TypeMacro
		w.Macro = b
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the Block-interface-aware decoding described
// above.
func (ci *ChainInfo) UnmarshalJSON(data []byte) error {
	var w chainInfoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ci.CumulativeFees = w.CumulativeFees
	ci.Slashed = w.Slashed
	ci.OnMainChain = w.OnMainChain
	ci.Successor = w.Successor
	ci.Receipts = w.Receipts
	ci.InherentReceipts = w.InherentReceipts
	switch w.BlockType {
	case block.TypeMicro:
		ci.Block = w.Micro
	case block.TypeMacro:
		ci.Block = w.Macro
	}
	return nil
}

// NewChainInfo builds the ChainInfo for b given its predecessor's info and
// any fork proofs it carries, computing the updated slashed-set bitsets
// (spec.md §4.3 step 7).
func NewChainInfo(b block.Block, prev *ChainInfo, slotCount int, forkProofSlashes, viewChangeSlashes []int) *ChainInfo {
	ci := &ChainInfo{Block: b}
	h := b.Header()

	var prevViewChange, prevForkProof *crypto.BitSet
	var prevElection *block.MacroBlock
	if prev != nil {
		prevElection, _ = prev.Block.(*block.MacroBlock)
		if prevElection != nil && !prevElection.IsElection() {
			prevElection = nil
		}
	}
	// The slashed set is epoch-scoped (spec.md §3, glossary "slashed set"):
	// it resets only when the predecessor is an election block, not at
	// every batch-ending macro block.
	epochReset := h.BlockNumber > 0 && prevElection != nil
	if prev != nil && !epochReset {
		prevViewChange = prev.Slashed.CurrentViewChange
		prevForkProof = prev.Slashed.CurrentForkProof
	}
	if prevViewChange == nil {
		prevViewChange = crypto.NewBitSet(slotCount)
	}
	if prevForkProof == nil {
		prevForkProof = crypto.NewBitSet(slotCount)
	}

	vc := cloneBitSet(prevViewChange, slotCount)
	for _, slot := range viewChangeSlashes {
		vc.Set(slot)
	}
	fp := cloneBitSet(prevForkProof, slotCount)
	for _, slot := range forkProofSlashes {
		fp.Set(slot)
	}

	previousFinal := crypto.NewBitSet(slotCount)
	if prev != nil {
		previousFinal = prev.Slashed.PreviousFinal
		if epochReset {
			previousFinal = prev.Slashed.Union()
		}
	}

	ci.Slashed = SlashedSet{CurrentViewChange: vc, CurrentForkProof: fp, PreviousFinal: previousFinal}

	// CumulativeFees accumulates within the current batch and resets at
	// each macro block, mirroring receipts' per-batch clearing (spec.md §9
	// "Receipts... cleared on macro commit because no revert can cross").
	fees := uint64(0)
	if mb, ok := b.(*block.MicroBlock); ok {
		for _, tx := range mb.Transactions {
			fees += tx.Fee
		}
	}
	if prev != nil && !prev.Block.IsMacro() {
		fees += prev.CumulativeFees
	}
	ci.CumulativeFees = fees
	return ci
}

func cloneBitSet(bs *crypto.BitSet, capacity int) *crypto.BitSet {
	out := crypto.NewBitSet(capacity)
	for i := 0; i < capacity; i++ {
		if bs.Contains(i) {
			out.Set(i)
		}
	}
	return out
}
