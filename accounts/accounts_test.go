package accounts

import (
	"testing"

	"github.com/albatross-core/chaincore/block"
)

func TestMemTreeCommitRevertRoundtrip(t *testing.T) {
	tree := NewMemTree(map[string]uint64{"a": 100, "b": 0})
	before := tree.Root(nil)

	tx := &block.Transaction{Sender: "a", Nonce: 0, Fee: 10}
	inh := Inherent{Kind: InherentReward, Target: "b", Value: 20}

	txn := tree.Begin()
	receipts, err := tree.Commit(txn, []*block.Transaction{tx}, []Inherent{inh}, 1)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tree.balances["a"] != 90 {
		t.Errorf("balance a: got %d want 90", tree.balances["a"])
	}
	if tree.balances["b"] != 20 {
		t.Errorf("balance b: got %d want 20", tree.balances["b"])
	}
	if tree.nonces["a"] != 1 {
		t.Errorf("nonce a: got %d want 1", tree.nonces["a"])
	}
	after := tree.Root(nil)
	if after == before {
		t.Error("root should change after a commit")
	}

	if err := tree.Revert(txn, []*block.Transaction{tx}, []Inherent{inh}, 1, receipts); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if got := tree.Root(nil); got != before {
		t.Errorf("root after revert: got %s want %s (pre-commit root)", got, before)
	}
	if tree.balances["a"] != 100 || tree.nonces["a"] != 0 {
		t.Error("revert should restore sender balance and nonce")
	}
}

func TestMemTreeCommitRejectsBadNonce(t *testing.T) {
	tree := NewMemTree(map[string]uint64{"a": 100})
	tx := &block.Transaction{Sender: "a", Nonce: 5, Fee: 1}
	txn := tree.Begin()
	if _, err := tree.Commit(txn, []*block.Transaction{tx}, nil, 1); err == nil {
		t.Error("commit with a mismatched nonce should fail")
	}
}

func TestMemTreeCommitRejectsInsufficientBalance(t *testing.T) {
	tree := NewMemTree(map[string]uint64{"a": 1})
	tx := &block.Transaction{Sender: "a", Nonce: 0, Fee: 100}
	txn := tree.Begin()
	if _, err := tree.Commit(txn, []*block.Transaction{tx}, nil, 1); err == nil {
		t.Error("commit with insufficient balance should fail")
	}
}

func TestRootWithIsNonMutating(t *testing.T) {
	tree := NewMemTree(map[string]uint64{"a": 100})
	before := tree.Root(nil)
	tx := &block.Transaction{Sender: "a", Nonce: 0, Fee: 50}

	speculative, err := tree.RootWith([]*block.Transaction{tx}, nil, 1, 0)
	if err != nil {
		t.Fatalf("RootWith: %v", err)
	}
	if speculative == before {
		t.Error("speculative root should differ from the pre-state root")
	}
	if got := tree.Root(nil); got != before {
		t.Error("RootWith must not mutate committed state")
	}
	if tree.balances["a"] != 100 {
		t.Error("RootWith must not mutate the live balance map")
	}
}

func TestAcceptsReward(t *testing.T) {
	tree := NewMemTree(nil)
	if !tree.AcceptsReward("addr", 10, 1) {
		t.Error("a non-empty address should accept a reward")
	}
	if tree.AcceptsReward("", 10, 1) {
		t.Error("an empty address should not accept a reward")
	}
}
