package chain

import (
	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/slashing"
	"github.com/albatross-core/chaincore/slots"
)

// deriveInherents regenerates the protocol inherents for b from its own
// content (fork proofs, view number, election validators) rather than
// reading them back from storage, since inherents are not themselves
// persisted (only their Receipts are, spec.md §9 "Receipts"). Used by both
// extend() and rebranch()'s replay path so a fork block re-applies with the
// exact inherents it was first admitted with.
//
// registry is the validator set in effect for b's own epoch (used to
// resolve fork-proof/view-change slot owners); closingRegistry and
// previousElection are only consulted when b is an election macro block,
// identifying the epoch it closes.
func (m *Manager) deriveInherents(b block.Block, predCi *chainstore.ChainInfo, registry, closingRegistry *slots.Registry, previousElection *block.MacroBlock) ([]accounts.Inherent, error) {
	predHeader := *predCi.Block.Header()

	switch blk := b.(type) {
	case *block.MicroBlock:
		effectiveView := uint32(0)
		if !predCi.Block.IsMacro() {
			effectiveView = predHeader.ViewNumber
		}
		var vc *slashing.ViewChanges
		if blk.Hdr.ViewNumber > effectiveView {
			vc = &slashing.ViewChanges{BlockNumber: blk.Hdr.BlockNumber, FirstView: effectiveView, LastView: blk.Hdr.ViewNumber}
		}
		return m.generateSlashInherents(registry, predHeader.Seed, blk.ForkProofs, vc)

	case *block.MacroBlock:
		if !blk.IsElection() {
			return nil, nil
		}
		epochFees, err := m.epochCumulativeFees(blk.Hdr.BlockNumber)
		if err != nil {
			return nil, chainerr.Wrap(chainerr.KindInconsistentState, err, "summing epoch fees")
		}
		return slashing.FinalizeEpoch(
			closingRegistry,
			predCi.Slashed.Union(),
			epochFees,
			blk,
			previousElection,
			m.genesis.Supply,
			m.genesis.Timestamp.UnixNano(),
			m.reward,
			m.accounts,
			blk.Hdr.Seed,
		)
	}
	return nil, nil
}
