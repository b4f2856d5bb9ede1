// Package commitengine applies and undoes one block's accounts/history
// side effects inside a single write transaction (spec.md §4.1 item 7,
// §4.9), so a push or revert is all-or-nothing. Grounded on
// vm/executor.go's snapshot/rollback pattern, generalised from "one
// contract call" to "one block's transactions plus protocol inherents
// against two collaborators sharing a transaction handle".
package commitengine

import (
	"fmt"

	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/history"
)

// Engine commits and reverts blocks against an accounts tree and history
// store sharing one write transaction.
type Engine struct {
	Accounts accounts.Tree
	History  history.Store
}

// New builds an Engine over the given collaborators.
func New(tree accounts.Tree, store history.Store) *Engine {
	return &Engine{Accounts: tree, History: store}
}

// Result is everything produced by a successful Commit, needed later to
// Revert the same block deterministically (spec.md §9 "Receipts").
type Result struct {
	Receipts         []accounts.Receipt
	InherentReceipts []accounts.Receipt
	StateRoot        crypto.Hash
	HistoryRoot      crypto.Hash
}

// Commit applies transactions and inherents for a micro or macro block
// inside txn, checking the resulting roots against the header's claimed
// StateRoot/HistoryRoot (spec.md §8 invariant 1).
func (e *Engine) Commit(txn *accounts.Txn, header block.Header, epochIndex uint32, transactions []*block.Transaction, inherents []accounts.Inherent) (Result, error) {
	receipts, err := e.Accounts.Commit(txn, transactions, nil, header.BlockNumber)
	if err != nil {
		return Result{}, fmt.Errorf("commitengine: accounts commit: %w", err)
	}
	inherentReceipts, err := e.Accounts.Commit(txn, nil, inherents, header.BlockNumber)
	if err != nil {
		return Result{}, fmt.Errorf("commitengine: inherent commit: %w", err)
	}

	extended := make([]history.ExtendedTransaction, len(transactions))
	for i, tx := range transactions {
		extended[i] = history.ExtendedTransaction{Transaction: tx, BlockNumber: header.BlockNumber}
	}
	historyRoot, err := e.History.AddToHistory(txn, epochIndex, extended)
	if err != nil {
		return Result{}, fmt.Errorf("commitengine: history commit: %w", err)
	}

	stateRoot := e.Accounts.Root(txn)

	if stateRoot != header.StateRoot {
		return Result{}, fmt.Errorf("commitengine: state root mismatch: computed %s, header claims %s", stateRoot, header.StateRoot)
	}
	if historyRoot != header.HistoryRoot {
		return Result{}, fmt.Errorf("commitengine: history root mismatch: computed %s, header claims %s", historyRoot, header.HistoryRoot)
	}

	return Result{
		Receipts:         receipts,
		InherentReceipts: inherentReceipts,
		StateRoot:        stateRoot,
		HistoryRoot:      historyRoot,
	}, nil
}

// Revert undoes a previously committed block using its stored receipts,
// asserting the accounts root returns to preStateRoot (spec.md §4.5 step 4:
// "assert the accounts root returns to the pre-block state_root, else
// fatal").
func (e *Engine) Revert(txn *accounts.Txn, header block.Header, epochIndex uint32, transactions []*block.Transaction, inherents []accounts.Inherent, receipts, inherentReceipts []accounts.Receipt, preStateRoot crypto.Hash) error {
	if err := e.Accounts.Revert(txn, nil, inherents, header.BlockNumber, inherentReceipts); err != nil {
		return fmt.Errorf("commitengine: inherent revert: %w", err)
	}
	if err := e.Accounts.Revert(txn, transactions, nil, header.BlockNumber, receipts); err != nil {
		return fmt.Errorf("commitengine: accounts revert: %w", err)
	}
	if got := e.Accounts.Root(txn); got != preStateRoot {
		panic(fmt.Sprintf("commitengine: state root %s after revert does not match pre-block root %s: store is inconsistent", got, preStateRoot))
	}
	e.History.RemoveFrom(epochIndex, header.BlockNumber)
	return nil
}

// SpeculativeRoots computes the state_root and history_root that applying
// transactions and inherents at (blockNumber, timestamp) would produce,
// without committing — implemented through Accounts.RootWith and
// History.RootWith, which leave both collaborators unchanged; no write
// transaction is opened (spec.md §9 "Speculative roots").
func (e *Engine) SpeculativeRoots(epochIndex uint32, blockNumber uint32, timestampUnixNano int64, transactions []*block.Transaction, inherents []accounts.Inherent) (stateRoot, historyRoot crypto.Hash, err error) {
	stateRoot, err = e.Accounts.RootWith(transactions, inherents, blockNumber, timestampUnixNano)
	if err != nil {
		return crypto.Hash{}, crypto.Hash{}, fmt.Errorf("commitengine: speculative state root: %w", err)
	}
	extended := make([]history.ExtendedTransaction, len(transactions))
	for i, tx := range transactions {
		extended[i] = history.ExtendedTransaction{Transaction: tx, BlockNumber: blockNumber}
	}
	historyRoot = e.History.RootWith(epochIndex, extended)
	return stateRoot, historyRoot, nil
}
