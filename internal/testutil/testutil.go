// Package testutil builds fully-wired test fixtures (a chain.Manager over
// small, fast-cycling constants, its collaborators, and deterministic
// validator identities) so package tests don't each re-derive genesis
// wiring by hand.
package testutil

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chain"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/events"
	"github.com/albatross-core/chaincore/history"
	"github.com/albatross-core/chaincore/policy"
	"github.com/albatross-core/chaincore/slashing"
	"github.com/albatross-core/chaincore/staking"
)

// KeyPair is a deterministic ed25519 signing identity for tests.
type KeyPair struct {
	Priv crypto.PrivateKey
	Pub  crypto.PublicKey
}

// Key derives the i'th deterministic test keypair from a fixed seed, so
// fixtures are reproducible instead of drawing from crypto/rand.
func Key(i int) KeyPair {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = byte(i + 1)
	seed[1] = byte((i + 1) >> 8)
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{
		Priv: crypto.PrivateKey(priv),
		Pub:  crypto.PublicKey(priv.Public().(ed25519.PublicKey)),
	}
}

// SmallConstants is a scaled-down policy.Constants so a test can drive a
// full batch/epoch/election cycle in a handful of pushed blocks:
// BATCH_LENGTH=2, EPOCH_LENGTH=4, SLOTS=4.
func SmallConstants() policy.Constants {
	return policy.Constants{
		SlotCount:                 4,
		BatchLength:               2,
		EpochLength:               4,
		TwoThirdSlots:             3,
		TimestampMaxDrift:         time.Hour,
		TransactionValidityWindow: 4,
	}
}

// FlatReward is a BlockRewardFunc paying a fixed amount per closed epoch,
// ignoring its monetary-policy-curve inputs, for deterministic test sums.
func FlatReward(amount uint64) slashing.BlockRewardFunc {
	return func(currentElection, previousElection *block.MacroBlock, genesisSupply uint64, genesisTimestamp int64) uint64 {
		return amount
	}
}

// Env bundles a freshly built Manager with the collaborators and genesis
// identities used to construct it.
type Env struct {
	Manager  *chain.Manager
	Store    *chainstore.LevelStore
	Accounts *accounts.MemTree
	History  *history.MemStore
	Staking  *staking.MemContract
	Consts   policy.Constants
	Genesis  chain.Genesis
	Keys     []KeyPair
}

// New builds a Manager over SmallConstants with validatorCount genesis
// validators holding equal slot bands, backed by a LevelStore rooted in
// t.TempDir() and in-memory accounts/history/staking collaborators.
func New(t *testing.T, validatorCount int) *Env {
	t.Helper()
	consts := SmallConstants()

	slotsPer := consts.SlotCount / validatorCount
	keys := make([]KeyPair, validatorCount)
	var validators block.Slots
	next := 0
	for i := range keys {
		keys[i] = Key(i)
		last := next + slotsPer
		if i == validatorCount-1 {
			last = consts.SlotCount
		}
		validators = append(validators, block.SlotBand{PublicKey: keys[i].Pub, First: next, Last: last})
		next = last
	}

	stakingContract := staking.NewMemContract(consts.SlotCount)
	for _, k := range keys {
		stakingContract.RegisterCandidate(k.Pub, slotsPer)
	}

	tree := accounts.NewMemTree(nil)
	hist := history.NewMemStore()

	genesisTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	genesisBlock := &block.MacroBlock{
		Hdr: block.Header{
			Type:        block.TypeMacro,
			Version:     1,
			BlockNumber: 0,
			Timestamp:   genesisTime,
			Seed:        crypto.GenesisVRFSeed(),
		},
		Validators: validators,
	}
	genesisBlock.Hdr.StateRoot = tree.Root(nil)
	genesisBlock.Hdr.HistoryRoot = hist.Root(0)
	genesisBlock.Hdr.BodyRoot = genesisBlock.BodyHash()

	genesis := chain.Genesis{
		Block:             genesisBlock,
		InitialValidators: validators,
		Supply:            1_000_000,
		Timestamp:         genesisTime,
	}

	store, err := chainstore.NewLevelStore(t.TempDir())
	if err != nil {
		t.Fatalf("testutil: opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr, err := chain.New(store, tree, hist, stakingContract, events.NewEmitter(), consts, FlatReward(1000), genesis)
	if err != nil {
		t.Fatalf("testutil: building manager: %v", err)
	}

	return &Env{
		Manager:  mgr,
		Store:    store,
		Accounts: tree,
		History:  hist,
		Staking:  stakingContract,
		Consts:   consts,
		Genesis:  genesis,
		Keys:     keys,
	}
}

// KeyFor returns the keypair whose public key matches pub, for resolving the
// private key behind a registry-elected slot owner.
func (e *Env) KeyFor(t *testing.T, pub crypto.PublicKey) KeyPair {
	t.Helper()
	for _, k := range e.Keys {
		if k.Pub.Hex() == pub.Hex() {
			return k
		}
	}
	t.Fatalf("testutil: no known key for public key %s", pub.Hex())
	return KeyPair{}
}

// NextSlotOwnerKey resolves and returns the keypair elected to produce the
// immediate successor of the current head at view 0.
func (e *Env) NextSlotOwnerKey(t *testing.T) KeyPair {
	t.Helper()
	_, pub, err := e.Manager.GetSlotForNextBlock()
	if err != nil {
		t.Fatalf("testutil: resolving next slot owner: %v", err)
	}
	return e.KeyFor(t, pub)
}
