package chain

import (
	"errors"
	"time"

	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/events"
	"github.com/albatross-core/chaincore/forkchoice"
	"github.com/albatross-core/chaincore/slashing"
	"github.com/albatross-core/chaincore/slots"
	"github.com/albatross-core/chaincore/verifier"
)

// Push admits a block, running fork choice and dispatching to extend,
// rebranch, or fork storage (spec.md §4.3).
func (m *Manager) Push(b block.Block) (Result, error) {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	hash := b.Hash()
	if _, err := m.store.Get(hash); err == nil {
		return Known, nil
	} else if !errors.Is(err, chainstore.ErrNotFound) {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "looking up block %s", hash)
	}

	predCi, err := m.store.Get(b.Header().ParentHash)
	if err != nil {
		if errors.Is(err, chainstore.ErrNotFound) {
			return Known, chainerr.New(chainerr.KindOrphan, "unknown parent %s", b.Header().ParentHash)
		}
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "loading predecessor %s", b.Header().ParentHash)
	}

	m.st.mu.RLock()
	headHash := m.st.headHash
	headHeader := *m.st.mainChain.Block.Header()
	m.st.mu.RUnlock()

	verdict, err := forkchoice.OrderChains(storeWalker{m.store}, headHash, headHeader, *b.Header(), hash)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "fork choice")
	}
	if verdict == forkchoice.Inferior {
		return Ignored, nil
	}

	registry := m.registryForHeight(b.Header().BlockNumber)
	predHeader := *predCi.Block.Header()
	_, slotOwner, err := slots.GetSlotAt(registry, predHeader.Seed, b.Header().ViewNumber)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "resolving slot owner")
	}

	if err := m.verifyAdmission(b, predCi, predHeader, registry, slotOwner); err != nil {
		return Known, err
	}

	m.detectDoubleSigning(b)

	forkProofSlashes, err := m.forkProofSlashSlots(b, registry, predHeader.Seed)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "resolving fork proof slash slots")
	}

	ci := chainstore.NewChainInfo(b, predCi, m.consts.SlotCount, forkProofSlashes, nil)

	switch verdict {
	case forkchoice.Extend:
		return m.extend(b, hash, ci, registry, predHeader)
	case forkchoice.Better:
		return m.rebranch(b, hash, ci)
	default: // Unknown
		ci.OnMainChain = false
		if err := m.store.Put(hash, ci); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing forked block")
		}
		return Forked, nil
	}
}

// registryForHeight returns the validator registry in effect for a block at
// the given height: the current epoch's registry, unless height falls in
// the epoch immediately preceding it (still using previous_slots).
func (m *Manager) registryForHeight(height uint32) *slots.Registry {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	if height <= m.st.electionHead.Hdr.BlockNumber {
		return m.st.previousSlots
	}
	return m.st.currentSlots
}

func (m *Manager) verifyAdmission(b block.Block, predCi *chainstore.ChainInfo, predHeader block.Header, registry *slots.Registry, slotOwner crypto.PublicKey) error {
	m.st.mu.RLock()
	electionHash := m.st.electionHash
	m.st.mu.RUnlock()

	expectedType := block.TypeMicro
	if m.consts.IsMacroBlock(b.Header().BlockNumber) {
		expectedType = block.TypeMacro
	}

	var vcProof *block.ViewChangeProof
	if mb, ok := b.(*block.MicroBlock); ok {
		vcProof = mb.ViewChange
	}

	in := verifier.Input{
		Header:             *b.Header(),
		Predecessor:        predHeader,
		PredecessorIsMacro: predCi.Block.IsMacro(),
		ViewChangeCheck:    verifier.CheckNormal,
		IntendedSlotOwner:  slotOwner,
		Validators:         registry.Slots(),
		ViewChangeProof:    vcProof,
		ElectionHeadHash:   electionHash,
		IsMacro:            b.IsMacro(),
		Now:                time.Now(),
		Constants:          m.consts,
		ExpectedType:       expectedType,
	}
	if err := verifier.VerifyBlockHeader(in); err != nil {
		return err
	}

	switch blk := b.(type) {
	case *block.MicroBlock:
		if err := verifier.VerifyMicroJustification(blk, slotOwner); err != nil {
			return err
		}
		if err := verifier.VerifyBodyHash(blk.Hdr, blk.BodyHash()); err != nil {
			return err
		}
		for _, fp := range blk.ForkProofs {
			fpSlot := m.registryForHeight(fp.BlockNumber())
			_, owner, err := slots.GetSlotAt(fpSlot, predHeader.Seed, fp.ViewNumber())
			if err != nil {
				return chainerr.Wrap(chainerr.KindInconsistentState, err, "resolving fork proof slot owner")
			}
			if err := fp.Verify(owner); err != nil {
				return chainerr.Wrap(chainerr.KindInvalidJustification, err, "fork proof verification failed")
			}
		}
	case *block.MacroBlock:
		if err := verifier.VerifyMacroJustification(blk, registry.Slots(), m.consts.TwoThirdSlots); err != nil {
			return err
		}
		if err := verifier.VerifyBodyHash(blk.Hdr, blk.BodyHash()); err != nil {
			return err
		}
		if blk.IsElection() {
			expected := m.staking.SelectValidators(blk.Hdr.Seed)
			if !sameSlots(expected, blk.Validators) {
				return chainerr.New(chainerr.KindInvalidValidators, "election validator set does not match select_validators(seed)")
			}
		}
	}
	return nil
}

func sameSlots(a, b block.Slots) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].First != b[i].First || a[i].Last != b[i].Last || a[i].PublicKey.Hex() != b[i].PublicKey.Hex() {
			return false
		}
	}
	return true
}

// detectDoubleSigning is the best-effort check spec.md §4.3 step 5
// describes: if the main chain already carries a block at the same height
// and view number as b but with a different hash, emit ForkEvent::Detected.
// It does not affect admission of b itself.
func (m *Manager) detectDoubleSigning(b block.Block) {
	mb, ok := b.(*block.MicroBlock)
	if !ok {
		return
	}
	existingHash, err := m.store.GetByHeight(mb.Hdr.BlockNumber)
	if err != nil {
		return
	}
	existingCi, err := m.store.Get(existingHash)
	if err != nil {
		return
	}
	existing, ok := existingCi.Block.(*block.MicroBlock)
	if !ok || existing.Hdr.ViewNumber != mb.Hdr.ViewNumber {
		return
	}
	if existing.Hash() == b.Hash() {
		return
	}
	m.emitter.Emit(events.Event{
		Type: events.EventForkDetected,
		ForkProof: block.ForkProof{
			Header1: existing.Hdr,
			Header2: mb.Hdr,
			Sig1:    existing.Sig,
			Sig2:    mb.Sig,
		},
	})
}

// forkProofSlashSlots resolves the slashed slot index for each fork proof
// carried by a micro block, for the ChainInfo slashed-set update (spec.md
// §4.6). Macro blocks carry no fork proofs.
func (m *Manager) forkProofSlashSlots(b block.Block, registry *slots.Registry, predSeed crypto.VRFSeed) ([]int, error) {
	mb, ok := b.(*block.MicroBlock)
	if !ok || len(mb.ForkProofs) == 0 {
		return nil, nil
	}
	slotsSlashed := make([]int, 0, len(mb.ForkProofs))
	for _, fp := range mb.ForkProofs {
		slot, _, err := slots.GetSlotAt(registry, predSeed, fp.ViewNumber())
		if err != nil {
			return nil, err
		}
		slotsSlashed = append(slotsSlashed, slot)
	}
	return slotsSlashed, nil
}

// generateSlashInherents is a thin wrapper used by extend/rebranch to keep
// the slashing package's signature local to this file's imports.
func (m *Manager) generateSlashInherents(registry *slots.Registry, predSeed crypto.VRFSeed, forkProofs []block.ForkProof, vc *slashing.ViewChanges) ([]accounts.Inherent, error) {
	return slashing.GenerateSlashInherents(registry, predSeed, forkProofs, vc)
}
