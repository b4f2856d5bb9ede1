// Package accounts is the external collaborator contract for the accounts
// tree (spec.md §1, §4.9): Merkle-hashed account/contract state. The real
// tree and its Merkle hashing are out of scope; this package gives the
// chain core a concrete, simplified in-memory implementation so the module
// is self-contained and testable.
package accounts

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

// Receipt records what commit() did for one transaction or inherent, the
// minimum needed to undo it deterministically on revert (spec.md §4.9,
// §9 "Receipts").
type Receipt struct {
	Sender      string
	PrevBalance uint64
	PrevNonce   uint64
}

// Inherent is a protocol-generated accounting operation (slash, reward,
// finalize-batch) that is not a user transaction (spec.md glossary).
type Inherent struct {
	Kind    InherentKind
	Target  string // account address the inherent applies to
	Value   uint64
	Payload json.RawMessage
}

// InherentKind enumerates the three kinds spec.md §4.6/§4.7 define.
type InherentKind uint8

const (
	InherentSlash InherentKind = iota
	InherentReward
	InherentFinalizeBatch
)

// Tree is the external collaborator contract consumed from the accounts
// tree (spec.md §4.9).
type Tree interface {
	// Commit applies transactions and inherents at blockNumber inside txn,
	// returning receipts for later revert.
	Commit(txn *Txn, transactions []*block.Transaction, inherents []Inherent, blockNumber uint32) ([]Receipt, error)
	// Revert undoes a previously committed block using its receipts.
	Revert(txn *Txn, transactions []*block.Transaction, inherents []Inherent, blockNumber uint32, receipts []Receipt) error
	// Root returns the current committed Merkle root, or the root as of txn
	// if txn is non-nil (an uncommitted, in-progress write transaction).
	Root(txn *Txn) crypto.Hash
	// RootWith speculatively computes the root transactions+inherents would
	// produce at (blockNumber, timestamp) without any side effects.
	RootWith(transactions []*block.Transaction, inherents []Inherent, blockNumber uint32, timestampUnixNano int64) (crypto.Hash, error)
	// AcceptsReward reports whether address would accept a Reward inherent
	// of the given value at blockNumber (spec.md §4.7 step 3).
	AcceptsReward(address string, value uint64, blockNumber uint32) bool
	// Begin starts a new write transaction.
	Begin() *Txn
}

// Txn is an opaque write-transaction handle shared by accounts and history
// commits so a single block application is atomic (spec.md §4.1 "Chain
// store").
type Txn struct {
	id      int
	aborted bool
}

// MemTree is a simplified in-memory Tree implementation.
type MemTree struct {
	balances map[string]uint64
	nonces   map[string]uint64
	nextTxn  int
}

// NewMemTree creates an empty MemTree with the given initial balances.
func NewMemTree(alloc map[string]uint64) *MemTree {
	t := &MemTree{
		balances: make(map[string]uint64, len(alloc)),
		nonces:   make(map[string]uint64),
	}
	for addr, bal := range alloc {
		t.balances[addr] = bal
	}
	return t
}

func (t *MemTree) Begin() *Txn {
	t.nextTxn++
	return &Txn{id: t.nextTxn}
}

func (t *MemTree) Commit(txn *Txn, transactions []*block.Transaction, inherents []Inherent, blockNumber uint32) ([]Receipt, error) {
	receipts := make([]Receipt, 0, len(transactions)+len(inherents))
	for _, tx := range transactions {
		r := Receipt{Sender: tx.Sender, PrevBalance: t.balances[tx.Sender], PrevNonce: t.nonces[tx.Sender]}
		if t.nonces[tx.Sender] != tx.Nonce {
			return nil, fmt.Errorf("accounts: invalid nonce for %s: have %d want %d", tx.Sender, t.nonces[tx.Sender], tx.Nonce)
		}
		if t.balances[tx.Sender] < tx.Fee {
			return nil, fmt.Errorf("accounts: insufficient balance for %s", tx.Sender)
		}
		t.balances[tx.Sender] -= tx.Fee
		t.nonces[tx.Sender] = tx.Nonce + 1
		receipts = append(receipts, r)
	}
	for _, inh := range inherents {
		r := Receipt{Sender: inh.Target, PrevBalance: t.balances[inh.Target]}
		switch inh.Kind {
		case InherentReward:
			t.balances[inh.Target] += inh.Value
		case InherentSlash:
			// slashing is bookkeeping only at this layer; balance is
			// untouched here, the slashed-set is tracked by chainstore.
		case InherentFinalizeBatch:
			// no balance effect
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func (t *MemTree) Revert(txn *Txn, transactions []*block.Transaction, inherents []Inherent, blockNumber uint32, receipts []Receipt) error {
	if len(receipts) != len(transactions)+len(inherents) {
		return fmt.Errorf("accounts: receipt count %d does not match %d ops", len(receipts), len(transactions)+len(inherents))
	}
	// Undo in reverse order of application.
	for i := len(inherents) - 1; i >= 0; i-- {
		r := receipts[len(transactions)+i]
		t.balances[r.Sender] = r.PrevBalance
	}
	for i := len(transactions) - 1; i >= 0; i-- {
		r := receipts[i]
		t.balances[r.Sender] = r.PrevBalance
		t.nonces[r.Sender] = r.PrevNonce
	}
	return nil
}

func (t *MemTree) Root(txn *Txn) crypto.Hash {
	addrs := make([]string, 0, len(t.balances))
	for a := range t.balances {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	h := []byte{}
	for _, a := range addrs {
		h = append(h, []byte(a)...)
		bal := t.balances[a]
		h = append(h, byte(bal), byte(bal>>8), byte(bal>>16), byte(bal>>24), byte(bal>>32), byte(bal>>40), byte(bal>>48), byte(bal>>56))
	}
	return crypto.HashBytes(h)
}

func (t *MemTree) RootWith(transactions []*block.Transaction, inherents []Inherent, blockNumber uint32, timestampUnixNano int64) (crypto.Hash, error) {
	snapshotBalances := cloneUint64Map(t.balances)
	snapshotNonces := cloneUint64Map(t.nonces)
	defer func() {
		t.balances = snapshotBalances
		t.nonces = snapshotNonces
	}()
	t.balances = cloneUint64Map(t.balances)
	t.nonces = cloneUint64Map(t.nonces)
	if _, err := t.Commit(nil, transactions, inherents, blockNumber); err != nil {
		return crypto.Hash{}, err
	}
	return t.Root(nil), nil
}

func (t *MemTree) AcceptsReward(address string, value uint64, blockNumber uint32) bool {
	return address != ""
}

func cloneUint64Map(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
