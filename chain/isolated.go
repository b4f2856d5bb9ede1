package chain

import (
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/events"
	"github.com/albatross-core/chaincore/slots"
	"github.com/albatross-core/chaincore/verifier"
)

// PushIsolatedMacroBlock admits a macro block for macro-only catch-up sync
// (spec.md §6): it verifies the macro justification, discards any micro
// blocks of the current unfinalized batch, then re-applies the macro block
// against a caller-supplied transaction list whose Merkle root must match
// the block's claimed history root. Unlike Push, this does not extend the
// replay-protection cache: macro sync intentionally does not preserve
// replay protection (spec.md §9 open question, preserved as a known gap).
func (m *Manager) PushIsolatedMacroBlock(mb *block.MacroBlock, transactions []*block.Transaction) (Result, error) {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	hash := mb.Hash()
	if _, err := m.store.Get(hash); err == nil {
		return Known, nil
	}

	m.st.mu.RLock()
	registry := m.st.currentSlots
	closingRegistry := m.st.currentSlots
	previousElection := m.st.electionHead
	headHash := m.st.headHash
	macroHash := m.st.macroHash
	m.st.mu.RUnlock()

	if err := verifier.VerifyMacroJustification(mb, registry.Slots(), m.consts.TwoThirdSlots); err != nil {
		return Known, err
	}
	if err := verifier.VerifyBodyHash(mb.Hdr, mb.BodyHash()); err != nil {
		return Known, err
	}

	leaves := make([]crypto.Hash, len(transactions))
	for i, tx := range transactions {
		leaves[i] = tx.Hash()
	}
	if crypto.MerkleRoot(leaves) != mb.Hdr.HistoryRoot {
		return Known, chainerr.New(chainerr.KindInvalidHistoryRoot, "isolated macro block %s: transaction list root does not match claimed history root", hash)
	}

	if err := m.revertUnfinalizedBatch(headHash, macroHash); err != nil {
		return Known, err
	}

	predCi, err := m.store.Get(mb.Hdr.ParentHash)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindOrphan, err, "loading isolated macro block's parent %s", mb.Hdr.ParentHash)
	}

	inherents, err := m.deriveInherents(mb, predCi, registry, closingRegistry, previousElection)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "deriving inherents")
	}

	txn := m.accounts.Begin()
	epochIndex := m.consts.EpochIndex(mb.Hdr.BlockNumber)
	result, err := m.engine.Commit(txn, mb.Hdr, epochIndex, transactions, inherents)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindAccountsHashMismatch, err, "committing isolated macro block %s", hash)
	}

	ci := chainstore.NewChainInfo(mb, predCi, m.consts.SlotCount, nil, nil)
	ci.OnMainChain = true
	ci.Receipts = result.Receipts
	ci.InherentReceipts = result.InherentReceipts

	if err := m.store.Put(hash, ci); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing isolated macro block")
	}
	if err := m.store.PutByHeight(mb.Hdr.BlockNumber, hash); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing height index")
	}
	if err := m.store.PutMacroIndex(mb.Hdr.BlockNumber, hash); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing macro index")
	}
	if mb.IsElection() {
		if err := m.store.PutElectionIndex(mb.Hdr.BlockNumber, hash); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing election index")
		}
	}
	if err := m.markSuccessor(mb.Hdr.ParentHash, hash); err != nil {
		return Known, err
	}
	if err := m.store.SetHead(hash); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "setting head")
	}

	m.st.mu.Lock()
	m.st.mainChain = ci
	m.st.headHash = hash
	m.st.macroHead = mb
	m.st.macroHash = hash
	isElection := false
	if mb.IsElection() {
		isElection = true
		m.st.previousSlots = m.st.currentSlots
		m.st.currentSlots = slots.DeriveRegistry(mb.Validators)
		m.st.electionHead = mb
		m.st.electionHash = hash
	}
	m.st.mu.Unlock()

	if isElection {
		m.emitter.Emit(events.Event{Type: events.EventEpochFinalized, Hash: hash})
	} else {
		m.emitter.Emit(events.Event{Type: events.EventFinalized, Hash: hash})
	}

	return Extended, nil
}

// revertUnfinalizedBatch discards the main-chain micro blocks between
// macroHash (exclusive) and headHash (inclusive), the batch the isolated
// macro block is about to supersede.
func (m *Manager) revertUnfinalizedBatch(headHash, macroHash crypto.Hash) error {
	var toRevert []crypto.Hash
	cursor := headHash
	for cursor != macroHash {
		ci, err := m.store.Get(cursor)
		if err != nil {
			return chainerr.Wrap(chainerr.KindInconsistentState, err, "walking unfinalized batch")
		}
		if ci.Block.IsMacro() {
			return chainerr.New(chainerr.KindInvalidFork, "macro block %s found before reaching recorded macro head", cursor)
		}
		toRevert = append(toRevert, cursor)
		cursor = ci.Block.Header().ParentHash
	}

	for _, h := range toRevert {
		ci, err := m.store.Get(h)
		if err != nil {
			return chainerr.Wrap(chainerr.KindInconsistentState, err, "reloading block %s to revert", h)
		}
		parentCi, err := m.store.Get(ci.Block.Header().ParentHash)
		if err != nil {
			return chainerr.Wrap(chainerr.KindInconsistentState, err, "loading predecessor of %s", h)
		}
		txn := m.accounts.Begin()
		header := *ci.Block.Header()
		var transactions []*block.Transaction
		if micro, ok := ci.Block.(*block.MicroBlock); ok {
			transactions = micro.Transactions
		}
		inherents := inherentsOfKind(ci.InherentReceipts)
		epochIndex := m.consts.EpochIndex(header.BlockNumber)
		if err := m.engine.Revert(txn, header, epochIndex, transactions, inherents, ci.Receipts, ci.InherentReceipts, parentCi.Block.Header().StateRoot); err != nil {
			return chainerr.Wrap(chainerr.KindInconsistentState, err, "reverting unfinalized block %s", h)
		}
		if err := m.store.Delete(h); err != nil {
			return chainerr.Wrap(chainerr.KindInconsistentState, err, "deleting reverted block %s", h)
		}
		if err := m.store.DeleteByHeight(header.BlockNumber); err != nil {
			return chainerr.Wrap(chainerr.KindInconsistentState, err, "clearing height index for %s", h)
		}
	}
	return nil
}
