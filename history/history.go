// Package history is the external collaborator contract for the
// append-only history store (spec.md §1, §4.9): an epoch-scoped Merkle
// tree of extended transactions used to compute HistoryRoot. The real
// store is out of scope; this package provides a simplified in-memory
// implementation.
package history

import (
	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

// ExtendedTransaction pairs a transaction with the block number it was
// included in, the unit the history tree actually stores.
type ExtendedTransaction struct {
	Transaction *block.Transaction
	BlockNumber uint32
}

// Store is the external collaborator contract consumed from the history
// store (spec.md §4.9).
type Store interface {
	// AddToHistory appends extended transactions to epochIndex's history
	// tree inside txn and returns the new root.
	AddToHistory(txn *accounts.Txn, epochIndex uint32, extended []ExtendedTransaction) (crypto.Hash, error)
	// RootWith speculatively computes the root adding extended would
	// produce, without any side effects.
	RootWith(epochIndex uint32, extended []ExtendedTransaction) crypto.Hash
	// EpochTransactions returns every transaction recorded for epochIndex.
	EpochTransactions(epochIndex uint32) []ExtendedTransaction
	// BatchTransactions returns every transaction recorded in [start, end).
	BatchTransactions(epochIndex uint32, startBlock, endBlock uint32) []ExtendedTransaction
	// Root returns epochIndex's currently committed root.
	Root(epochIndex uint32) crypto.Hash
	// RemoveFrom removes every extended transaction at or after
	// fromBlockNumber from epochIndex's history tree, undoing AddToHistory
	// for a reverted block (spec.md §4.5 step 4, §6 push_isolated_macro_block).
	RemoveFrom(epochIndex uint32, fromBlockNumber uint32)
}

// MemStore is a simplified in-memory Store implementation, keyed by epoch.
type MemStore struct {
	byEpoch map[uint32][]ExtendedTransaction
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byEpoch: make(map[uint32][]ExtendedTransaction)}
}

func (m *MemStore) AddToHistory(txn *accounts.Txn, epochIndex uint32, extended []ExtendedTransaction) (crypto.Hash, error) {
	m.byEpoch[epochIndex] = append(m.byEpoch[epochIndex], extended...)
	return m.Root(epochIndex), nil
}

func (m *MemStore) RootWith(epochIndex uint32, extended []ExtendedTransaction) crypto.Hash {
	all := append(append([]ExtendedTransaction{}, m.byEpoch[epochIndex]...), extended...)
	return hashExtended(all)
}

func (m *MemStore) EpochTransactions(epochIndex uint32) []ExtendedTransaction {
	return m.byEpoch[epochIndex]
}

func (m *MemStore) BatchTransactions(epochIndex uint32, startBlock, endBlock uint32) []ExtendedTransaction {
	var out []ExtendedTransaction
	for _, et := range m.byEpoch[epochIndex] {
		if et.BlockNumber >= startBlock && et.BlockNumber < endBlock {
			out = append(out, et)
		}
	}
	return out
}

func (m *MemStore) Root(epochIndex uint32) crypto.Hash {
	return hashExtended(m.byEpoch[epochIndex])
}

func hashExtended(all []ExtendedTransaction) crypto.Hash {
	leaves := make([]crypto.Hash, len(all))
	for i, et := range all {
		leaves[i] = et.Transaction.Hash()
	}
	return crypto.MerkleRoot(leaves)
}

// RemoveFrom truncates epochIndex's history back to (and excluding) the
// given block number, used when reverting micro blocks of the current
// batch during push_isolated_macro_block (spec.md §6).
func (m *MemStore) RemoveFrom(epochIndex uint32, fromBlockNumber uint32) {
	kept := m.byEpoch[epochIndex][:0]
	for _, et := range m.byEpoch[epochIndex] {
		if et.BlockNumber < fromBlockNumber {
			kept = append(kept, et)
		}
	}
	m.byEpoch[epochIndex] = kept
}
