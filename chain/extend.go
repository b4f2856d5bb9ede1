package chain

import (
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/events"
	"github.com/albatross-core/chaincore/slots"
)

// extend applies b as the new chain tip (spec.md §4.4).
func (m *Manager) extend(b block.Block, hash crypto.Hash, ci *chainstore.ChainInfo, registry *slots.Registry, predHeader block.Header) (Result, error) {
	header := *b.Header()
	epochIndex := m.consts.EpochIndex(header.BlockNumber)

	txn := m.accounts.Begin()

	var transactions []*block.Transaction
	if mb, ok := b.(*block.MicroBlock); ok {
		transactions = mb.Transactions
		block.SortCanonical(transactions)
		for _, tx := range transactions {
			if m.replay.Contains(tx.Hash()) {
				return Known, chainerr.New(chainerr.KindDuplicateTransaction, "transaction %s already in replay cache", tx.Hash())
			}
		}
	}

	predCi, err := m.store.Get(header.ParentHash)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "loading predecessor %s", header.ParentHash)
	}

	m.st.mu.RLock()
	closingRegistry := m.st.currentSlots
	previousElection := m.st.electionHead
	m.st.mu.RUnlock()

	inherents, err := m.deriveInherents(b, predCi, registry, closingRegistry, previousElection)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "deriving inherents")
	}

	result, err := m.engine.Commit(txn, header, epochIndex, transactions, inherents)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindAccountsHashMismatch, err, "committing block %s", hash)
	}
	ci.Receipts = result.Receipts
	ci.InherentReceipts = result.InherentReceipts

	if err := m.store.Put(hash, ci); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing chain info")
	}
	if err := m.store.PutByHeight(header.BlockNumber, hash); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing height index")
	}
	if m.consts.IsMacroBlock(header.BlockNumber) {
		if err := m.store.PutMacroIndex(header.BlockNumber, hash); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing macro index")
		}
	}
	if m.consts.IsElectionBlock(header.BlockNumber) {
		if err := m.store.PutElectionIndex(header.BlockNumber, hash); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing election index")
		}
	}
	if err := m.markSuccessor(header.ParentHash, hash); err != nil {
		return Known, err
	}
	if err := m.store.SetHead(hash); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "setting head")
	}

	txHashes := make([]crypto.Hash, len(transactions))
	for i, tx := range transactions {
		txHashes[i] = tx.Hash()
	}

	m.st.mu.Lock()
	m.replay.PushBlock(header.BlockNumber, txHashes)
	m.st.mainChain = ci
	m.st.headHash = hash
	isElection := false
	if mb, ok := b.(*block.MacroBlock); ok {
		m.st.macroHead = mb
		m.st.macroHash = hash
		if mb.IsElection() {
			isElection = true
			m.st.previousSlots = m.st.currentSlots
			m.st.currentSlots = slots.DeriveRegistry(mb.Validators)
			m.st.electionHead = mb
			m.st.electionHash = hash
		}
	}
	m.st.mu.Unlock()

	if b.IsMacro() {
		if isElection {
			m.emitter.Emit(events.Event{Type: events.EventEpochFinalized, Hash: hash})
		} else {
			m.emitter.Emit(events.Event{Type: events.EventFinalized, Hash: hash})
		}
	}

	return Extended, nil
}

func (m *Manager) markSuccessor(parentHash, hash crypto.Hash) error {
	if parentHash.IsZero() {
		return nil
	}
	parentCi, err := m.store.Get(parentHash)
	if err != nil {
		return chainerr.Wrap(chainerr.KindInconsistentState, err, "loading parent %s to set successor", parentHash)
	}
	h := hash
	parentCi.Successor = &h
	return m.store.Put(parentHash, parentCi)
}

// epochCumulativeFees sums the per-batch fee totals over every batch of the
// epoch ending at electionHeight, since CumulativeFees resets at each macro
// block: each earlier batch's macro block's CumulativeFees, plus, for the
// final batch, the running total of the main-chain block at
// electionHeight-1, so the election block itself need not be stored yet.
func (m *Manager) epochCumulativeFees(electionHeight uint32) (uint64, error) {
	epochStart := electionHeight - m.consts.EpochLength
	heights, err := m.store.MacroHeights()
	if err != nil {
		return 0, err
	}
	var total uint64
	if hash, err := m.store.GetByHeight(electionHeight - 1); err == nil {
		if ci, err := m.store.Get(hash); err == nil && !ci.Block.IsMacro() {
			total += ci.CumulativeFees
		}
	}
	for _, h := range heights {
		if h <= epochStart || h >= electionHeight {
			continue
		}
		hash, err := m.store.GetByHeight(h)
		if err != nil {
			continue
		}
		ci, err := m.store.Get(hash)
		if err != nil {
			continue
		}
		total += ci.CumulativeFees
	}
	return total, nil
}
