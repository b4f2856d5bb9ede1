package chain

import (
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/history"
	"github.com/albatross-core/chaincore/slots"
)

// Head returns the current main-chain tip block.
func (m *Manager) Head() block.Block {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.st.mainChain.Block
}

// HeadHash returns the current main-chain tip's hash.
func (m *Manager) HeadHash() crypto.Hash {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.st.headHash
}

// BlockNumber returns the head's block number.
func (m *Manager) BlockNumber() uint32 {
	return m.Head().Header().BlockNumber
}

// ViewNumber returns the head's view number.
func (m *Manager) ViewNumber() uint32 {
	return m.Head().Header().ViewNumber
}

// MacroHead returns the most recent macro block on the main chain.
func (m *Manager) MacroHead() *block.MacroBlock {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.st.macroHead
}

// ElectionHead returns the most recent election macro block on the main
// chain.
func (m *Manager) ElectionHead() *block.MacroBlock {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.st.electionHead
}

// GetBlock looks up a block by hash, on the main chain or a stored fork.
func (m *Manager) GetBlock(hash crypto.Hash) (block.Block, bool) {
	ci, err := m.store.Get(hash)
	if err != nil {
		return nil, false
	}
	return ci.Block, true
}

// GetBlockAt looks up the main-chain block at the given height.
func (m *Manager) GetBlockAt(height uint32) (block.Block, bool) {
	hash, err := m.store.GetByHeight(height)
	if err != nil {
		return nil, false
	}
	return m.GetBlock(hash)
}

// GetBlocks returns up to count main-chain blocks starting at height start,
// walking forward (towards the head) or backward (towards genesis).
func (m *Manager) GetBlocks(start uint32, count int, forward bool) []block.Block {
	out := make([]block.Block, 0, count)
	height := start
	for len(out) < count {
		b, ok := m.GetBlockAt(height)
		if !ok {
			break
		}
		out = append(out, b)
		if !forward && height == 0 {
			break
		}
		if forward {
			height++
		} else {
			height--
		}
	}
	return out
}

// GetMacroBlocks returns every macro block recorded on the main chain, in
// ascending height order.
func (m *Manager) GetMacroBlocks() []*block.MacroBlock {
	return m.macroBlocksFromHeights(m.store.MacroHeights)
}

// GetElectionBlocks returns every election macro block recorded on the main
// chain, in ascending height order.
func (m *Manager) GetElectionBlocks() []*block.MacroBlock {
	return m.macroBlocksFromHeights(m.store.ElectionHeights)
}

func (m *Manager) macroBlocksFromHeights(lister func() ([]uint32, error)) []*block.MacroBlock {
	heights, err := lister()
	if err != nil {
		return nil
	}
	heights = sortedUint32(heights)
	out := make([]*block.MacroBlock, 0, len(heights))
	for _, h := range heights {
		b, ok := m.GetBlockAt(h)
		if !ok {
			continue
		}
		if mb, ok := b.(*block.MacroBlock); ok {
			out = append(out, mb)
		}
	}
	return out
}

func sortedUint32(in []uint32) []uint32 {
	out := append([]uint32(nil), in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// GetEpochTransactions returns every transaction recorded in the given
// epoch's history tree.
func (m *Manager) GetEpochTransactions(epochIndex uint32) []history.ExtendedTransaction {
	return m.hist.EpochTransactions(epochIndex)
}

// GetBatchTransactions returns every transaction recorded in the given
// batch's block range.
func (m *Manager) GetBatchTransactions(batchIndex uint32) []history.ExtendedTransaction {
	start, end := m.batchRange(batchIndex)
	epochIndex := m.consts.EpochIndex(end)
	return m.hist.BatchTransactions(epochIndex, start+1, end+1)
}

// GetHistoryRoot returns the history root claimed by the macro block that
// terminates the given batch.
func (m *Manager) GetHistoryRoot(batchIndex uint32) (crypto.Hash, bool) {
	_, end := m.batchRange(batchIndex)
	b, ok := m.GetBlockAt(end)
	if !ok {
		return crypto.Hash{}, false
	}
	return b.Header().HistoryRoot, true
}

func (m *Manager) batchRange(batchIndex uint32) (start, end uint32) {
	start = batchIndex * m.consts.BatchLength
	end = start + m.consts.BatchLength
	return start, end
}

// Contains reports whether hash is known to the store, optionally
// restricting the check to the main chain.
func (m *Manager) Contains(hash crypto.Hash, includeForks bool) bool {
	ci, err := m.store.Get(hash)
	if err != nil {
		return false
	}
	if includeForks {
		return true
	}
	return ci.OnMainChain
}

// ContainsTxInValidityWindow reports whether hash is in the replay
// protection window, i.e. pushing a transaction with this hash now would be
// rejected as a replay.
func (m *Manager) ContainsTxInValidityWindow(hash crypto.Hash) bool {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.replay.Contains(hash)
}

// GetSlotAt resolves the slot index and owner elected to produce the block
// at (blockNumber, viewNumber).
func (m *Manager) GetSlotAt(blockNumber, viewNumber uint32) (int, crypto.PublicKey, error) {
	registry := m.registryForHeight(blockNumber)
	predHash, err := m.store.GetByHeight(blockNumber - 1)
	if err != nil {
		return 0, crypto.PublicKey{}, err
	}
	predCi, err := m.store.Get(predHash)
	if err != nil {
		return 0, crypto.PublicKey{}, err
	}
	return slots.GetSlotAt(registry, predCi.Block.Header().Seed, viewNumber)
}

// GetSlotForNextBlock resolves the slot index and owner for the immediate
// successor of the current head, at view 0.
func (m *Manager) GetSlotForNextBlock() (int, crypto.PublicKey, error) {
	m.st.mu.RLock()
	registry := m.registryForHeightLocked(m.st.mainChain.Block.Header().BlockNumber + 1)
	seed := m.st.mainChain.Block.Header().Seed
	m.st.mu.RUnlock()
	return slots.GetSlotForNextBlock(registry, seed)
}

// GetSlotsForEpoch returns the slot-band assignment governing epochIndex.
func (m *Manager) GetSlotsForEpoch(epochIndex uint32) block.Slots {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	electionHeight := m.st.electionHead.Hdr.BlockNumber
	if electionHeight > 0 && epochIndex <= m.consts.EpochIndex(electionHeight) {
		return m.st.previousSlots.Slots()
	}
	return m.st.currentSlots.Slots()
}

// GetValidatorsForEpoch is GetSlotsForEpoch under the name spec.md's query
// surface also exposes it by.
func (m *Manager) GetValidatorsForEpoch(epochIndex uint32) block.Slots {
	return m.GetSlotsForEpoch(epochIndex)
}

// SlashedSetAt returns the slashed-set bitsets recorded for the block at
// hash.
func (m *Manager) SlashedSetAt(hash crypto.Hash) (chainstore.SlashedSet, bool) {
	ci, err := m.store.Get(hash)
	if err != nil {
		return chainstore.SlashedSet{}, false
	}
	return ci.Slashed, true
}

// registryForHeightLocked is registryForHeight for callers that already
// hold m.st.mu.
func (m *Manager) registryForHeightLocked(height uint32) *slots.Registry {
	if height <= m.st.electionHead.Hdr.BlockNumber {
		return m.st.previousSlots
	}
	return m.st.currentSlots
}

// GetBlockLocators builds a block-locator list for sync peering: the top 10
// main-chain block hashes linearly, then exponentially backing off by
// doubling the step each time, always ending with genesis.
func (m *Manager) GetBlockLocators() []crypto.Hash {
	m.st.mu.RLock()
	head := m.st.mainChain.Block.Header().BlockNumber
	m.st.mu.RUnlock()
	return m.buildLocators(head)
}

// GetMacroBlockLocators is GetBlockLocators restricted to macro heights.
func (m *Manager) GetMacroBlockLocators() []crypto.Hash {
	return m.buildLocatorsFromHeights(m.store.MacroHeights)
}

// GetElectionBlockLocators is GetBlockLocators restricted to election
// heights.
func (m *Manager) GetElectionBlockLocators() []crypto.Hash {
	return m.buildLocatorsFromHeights(m.store.ElectionHeights)
}

func (m *Manager) buildLocatorsFromHeights(lister func() ([]uint32, error)) []crypto.Hash {
	heights, err := lister()
	if err != nil || len(heights) == 0 {
		return nil
	}
	heights = sortedUint32(heights)
	indices := locatorIndices(len(heights) - 1)
	out := make([]crypto.Hash, 0, len(indices))
	for _, idx := range indices {
		hash, err := m.store.GetByHeight(heights[idx])
		if err != nil {
			continue
		}
		out = append(out, hash)
	}
	return out
}

func (m *Manager) buildLocators(head uint32) []crypto.Hash {
	indices := locatorIndices(int(head))
	out := make([]crypto.Hash, 0, len(indices))
	for _, idx := range indices {
		hash, err := m.store.GetByHeight(uint32(idx))
		if err != nil {
			continue
		}
		out = append(out, hash)
	}
	return out
}

// locatorIndices produces the descending sequence of positions [0, top] to
// sample for a locator list: the 10 most recent positions linearly, then
// doubling step sizes, always including position 0.
func locatorIndices(top int) []int {
	if top < 0 {
		return nil
	}
	var out []int
	step := 1
	pos := top
	for pos > 0 {
		out = append(out, pos)
		if len(out) < 10 {
			pos--
		} else {
			step *= 2
			pos -= step
		}
	}
	out = append(out, 0)
	return out
}
