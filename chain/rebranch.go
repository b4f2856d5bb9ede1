package chain

import (
	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/events"
	"github.com/albatross-core/chaincore/slots"
)

// rebranch reverts a prefix of the main chain and replays a better fork
// (spec.md §4.5). The incoming block b (already verified) is the tip of
// the adopted fork; ci is its freshly built ChainInfo.
func (m *Manager) rebranch(b block.Block, hash crypto.Hash, ci *chainstore.ChainInfo) (Result, error) {
	m.st.mu.RLock()
	headHash := m.st.headHash
	m.st.mu.RUnlock()

	forkPoint, forkChainHashes, err := m.walkForkChain(b.Header().ParentHash)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInvalidFork, err, "walking fork branch")
	}
	forkChainHashes = append(forkChainHashes, hash)

	revertChainHashes, err := m.walkRevertChain(headHash, forkPoint)
	if err != nil {
		return Known, err
	}

	scratch, err := m.buildScratchReplayCache(forkPoint, revertChainHashes)
	if err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "rebuilding replay cache window")
	}

	// Step 4: revert revert_chain, head -> ancestor.
	for _, h := range revertChainHashes {
		revCi, err := m.store.Get(h)
		if err != nil {
			panic("chain: revert_chain block missing from store: store is corrupted")
		}
		parentCi, err := m.store.Get(revCi.Block.Header().ParentHash)
		if err != nil {
			panic("chain: revert_chain predecessor missing from store: store is corrupted")
		}
		txn := m.accounts.Begin()
		header := *revCi.Block.Header()
		var transactions []*block.Transaction
		if mb, ok := revCi.Block.(*block.MicroBlock); ok {
			transactions = mb.Transactions
		}
		inherents := inherentsOfKind(revCi.InherentReceipts)
		epochIndex := m.consts.EpochIndex(header.BlockNumber)
		if err := m.engine.Revert(txn, header, epochIndex, transactions, inherents, revCi.Receipts, revCi.InherentReceipts, parentCi.Block.Header().StateRoot); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "reverting block %s", h)
		}
	}

	// Step 6: replay fork_chain, ancestor -> tip. No block being replayed here
	// reverts or crosses a macro boundary (walkRevertChain already rejected
	// that), so the epoch/election state in effect is whatever was current
	// before the rebranch started, for every block except possibly a new
	// election macro block at the very tip — which reads that same
	// pre-rebranch state itself, exactly like extend() does.
	m.st.mu.RLock()
	replayRegistry := m.st.currentSlots
	replayClosingRegistry := m.st.currentSlots
	replayPreviousElection := m.st.electionHead
	m.st.mu.RUnlock()

	for i, h := range forkChainHashes {
		var fci *chainstore.ChainInfo
		var blk block.Block
		if i == len(forkChainHashes)-1 {
			fci, blk = ci, b
		} else {
			var err error
			fci, err = m.store.Get(h)
			if err != nil {
				return Known, chainerr.Wrap(chainerr.KindInvalidFork, err, "loading fork block %s", h)
			}
			blk = fci.Block
		}
		header := *blk.Header()
		var transactions []*block.Transaction
		if mb, ok := blk.(*block.MicroBlock); ok {
			transactions = mb.Transactions
			block.SortCanonical(transactions)
			for _, tx := range transactions {
				if scratch.Contains(tx.Hash()) {
					m.deleteForkDescendants(h)
					return Known, chainerr.New(chainerr.KindDuplicateTransaction, "fork block %s replays transaction %s", h, tx.Hash())
				}
			}
		}

		predCi, err := m.store.Get(header.ParentHash)
		if err != nil {
			m.deleteForkDescendants(h)
			return Known, chainerr.Wrap(chainerr.KindInvalidFork, err, "loading predecessor of fork block %s", h)
		}
		inherents, err := m.deriveInherents(blk, predCi, replayRegistry, replayClosingRegistry, replayPreviousElection)
		if err != nil {
			m.deleteForkDescendants(h)
			return Known, chainerr.Wrap(chainerr.KindInvalidFork, err, "deriving inherents for fork block %s", h)
		}

		txn := m.accounts.Begin()
		epochIndex := m.consts.EpochIndex(header.BlockNumber)
		result, err := m.engine.Commit(txn, header, epochIndex, transactions, inherents)
		if err != nil {
			m.deleteForkDescendants(h)
			return Known, chainerr.Wrap(chainerr.KindInvalidFork, err, "replaying fork block %s", h)
		}
		fci.Receipts = result.Receipts
		fci.InherentReceipts = result.InherentReceipts
		fci.OnMainChain = true
		if err := m.store.Put(h, fci); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing replayed block %s", h)
		}
		if err := m.store.PutByHeight(header.BlockNumber, h); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing height index for %s", h)
		}
		if m.consts.IsMacroBlock(header.BlockNumber) {
			if err := m.store.PutMacroIndex(header.BlockNumber, h); err != nil {
				return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing macro index for %s", h)
			}
		}
		if m.consts.IsElectionBlock(header.BlockNumber) {
			if err := m.store.PutElectionIndex(header.BlockNumber, h); err != nil {
				return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "storing election index for %s", h)
			}
		}
		txHashes := make([]crypto.Hash, len(transactions))
		for i, tx := range transactions {
			txHashes[i] = tx.Hash()
		}
		scratch.PushBlock(header.BlockNumber, txHashes)
	}

	for _, h := range revertChainHashes {
		revCi, err := m.store.Get(h)
		if err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "reloading reverted block %s", h)
		}
		revCi.OnMainChain = false
		if err := m.store.Put(h, revCi); err != nil {
			return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "flagging reverted block %s", h)
		}
		n := revCi.Block.Header().BlockNumber
		if cur, err := m.store.GetByHeight(n); err == nil && cur == h {
			if err := m.store.DeleteByHeight(n); err != nil {
				return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "clearing height index for %s", h)
			}
		}
	}

	if err := m.store.SetHead(hash); err != nil {
		return Known, chainerr.Wrap(chainerr.KindInconsistentState, err, "setting new head")
	}

	m.st.mu.Lock()
	m.replay = scratch
	newHeadCi, err := m.store.Get(hash)
	if err == nil {
		m.st.mainChain = newHeadCi
	}
	m.st.headHash = hash
	if mb, ok := b.(*block.MacroBlock); ok {
		m.st.macroHead = mb
		m.st.macroHash = hash
		if mb.IsElection() {
			m.st.previousSlots = m.st.currentSlots
			m.st.currentSlots = slots.DeriveRegistry(mb.Validators)
			m.st.electionHead = mb
			m.st.electionHash = hash
		}
	}
	m.st.mu.Unlock()

	reverted := make([]crypto.Hash, len(revertChainHashes))
	for i, h := range revertChainHashes {
		reverted[len(revertChainHashes)-1-i] = h
	}
	m.emitter.Emit(events.Event{Type: events.EventRebranched, Reverted: reverted, Adopted: forkChainHashes})

	return Rebranched, nil
}

// walkForkChain walks b's branch backwards from hash until it reaches a
// block on the current main chain, returning that ancestor's hash and the
// branch's block hashes in ancestor->tip order.
func (m *Manager) walkForkChain(hash crypto.Hash) (crypto.Hash, []crypto.Hash, error) {
	var chain []crypto.Hash
	cursor := hash
	for {
		ci, err := m.store.Get(cursor)
		if err != nil {
			return crypto.Hash{}, nil, err
		}
		if ci.OnMainChain {
			reversed := make([]crypto.Hash, len(chain))
			for i, h := range chain {
				reversed[len(chain)-1-i] = h
			}
			return cursor, reversed, nil
		}
		if ci.Block.IsMacro() {
			panic("chain: encountered macro block while walking a fork branch; macro blocks are final")
		}
		chain = append(chain, cursor)
		cursor = ci.Block.Header().ParentHash
	}
}

// walkRevertChain returns the main-chain blocks from head back to (but
// excluding) forkPoint, in head->ancestor order, erroring if any of them is
// a macro block (spec.md §4.5 "rebranching across a macro boundary is
// forbidden").
func (m *Manager) walkRevertChain(head, forkPoint crypto.Hash) ([]crypto.Hash, error) {
	var chain []crypto.Hash
	cursor := head
	for cursor != forkPoint {
		ci, err := m.store.Get(cursor)
		if err != nil {
			return nil, chainerr.Wrap(chainerr.KindInconsistentState, err, "walking revert chain")
		}
		if ci.Block.IsMacro() {
			return nil, chainerr.New(chainerr.KindInvalidFork, "rebranch would revert macro block %s", cursor)
		}
		chain = append(chain, cursor)
		cursor = ci.Block.Header().ParentHash
	}
	return chain, nil
}

// buildScratchReplayCache recomputes the W-sized replay window as it would
// look after reverting revertChain, refilling from persisted main-chain
// blocks preceding the fork point as needed (spec.md §4.5 step 3/5).
func (m *Manager) buildScratchReplayCache(forkPoint crypto.Hash, revertChain []crypto.Hash) (*chainstore.ReplayCache, error) {
	forkCi, err := m.store.Get(forkPoint)
	if err != nil {
		return nil, err
	}
	window := m.consts.TransactionValidityWindow
	scratch := chainstore.NewReplayCache(window)

	type entry struct {
		height uint32
		hash   crypto.Hash
	}
	var entries []entry
	cursor := forkPoint
	cursorHeight := forkCi.Block.Header().BlockNumber
	for uint32(len(entries)) < window {
		ci, err := m.store.Get(cursor)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{height: cursorHeight, hash: cursor})
		parent := ci.Block.Header().ParentHash
		if parent.IsZero() && cursor == parent {
			break
		}
		if cursorHeight == 0 {
			break
		}
		cursor = parent
		cursorHeight--
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		ci, err := m.store.Get(e.hash)
		if err != nil {
			return nil, err
		}
		var txHashes []crypto.Hash
		if mb, ok := ci.Block.(*block.MicroBlock); ok {
			for _, tx := range mb.Transactions {
				txHashes = append(txHashes, tx.Hash())
			}
		}
		scratch.PushBlock(e.height, txHashes)
	}
	return scratch, nil
}

// deleteForkDescendants removes a rejected fork block and its descendants
// from the store (spec.md §4.5 step 6).
func (m *Manager) deleteForkDescendants(hash crypto.Hash) {
	ci, err := m.store.Get(hash)
	if err != nil {
		return
	}
	if ci.Successor != nil {
		m.deleteForkDescendants(*ci.Successor)
	}
	_ = m.store.Delete(hash)
}

// inherentsOfKind builds a placeholder inherent list matching the stored
// inherent-receipt count, used only to drive Revert's per-op iteration:
// Revert restores balances straight from the receipts it's given and never
// inspects inherent content, so the real Kind/Target/Value are unneeded here
// (unlike replay's Commit path, which needs them and uses deriveInherents).
func inherentsOfKind(receipts []accounts.Receipt) []accounts.Inherent {
	return make([]accounts.Inherent, len(receipts))
}
