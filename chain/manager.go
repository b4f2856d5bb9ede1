// Package chain is the chain manager (spec.md §4.3-§4.5): block admission,
// fork choice dispatch, accounts/transaction revert-and-replay on
// rebranching, and maintenance of derived in-memory state (current/
// previous validator slots, replay cache, macro/election heads).
// Grounded on core/blockchain.go (the teacher's single-tier chain) and
// consensus/poa.go (its admission pipeline), generalised to the two-tier
// micro/macro model and its rebranch-on-fork semantics.
package chain

import (
	"fmt"
	"sync"
	"time"

	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/commitengine"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/events"
	"github.com/albatross-core/chaincore/forkchoice"
	"github.com/albatross-core/chaincore/history"
	"github.com/albatross-core/chaincore/policy"
	"github.com/albatross-core/chaincore/slashing"
	"github.com/albatross-core/chaincore/slots"
	"github.com/albatross-core/chaincore/staking"
)

// Genesis describes the chain's genesis descriptor (spec.md §6 "Consumed"):
// genesis hash, genesis block (always macro), initial validator slots.
type Genesis struct {
	Block             *block.MacroBlock
	InitialValidators block.Slots
	Supply            uint64
	Timestamp         time.Time
}

// Result is the outcome of a Push call (spec.md §6 "Exposed").
type Result uint8

const (
	Known Result = iota
	Extended
	Rebranched
	Forked
	Ignored
)

func (r Result) String() string {
	switch r {
	case Known:
		return "Known"
	case Extended:
		return "Extended"
	case Rebranched:
		return "Rebranched"
	case Forked:
		return "Forked"
	case Ignored:
		return "Ignored"
	default:
		return "Unknown"
	}
}

// state is the in-memory singleton spec.md §9 redesigns away from global
// statics: a single struct under one shared-exclusive lock.
type state struct {
	mu sync.RWMutex

	mainChain     *chainstore.ChainInfo
	headHash      crypto.Hash
	macroHead     *block.MacroBlock
	macroHash     crypto.Hash
	electionHead  *block.MacroBlock
	electionHash  crypto.Hash
	currentSlots  *slots.Registry
	previousSlots *slots.Registry
}

// Manager is the chain manager. All exported methods are safe for
// concurrent use.
type Manager struct {
	pushMu sync.Mutex // process-wide exclusive push mutex (spec.md §5)

	store    chainstore.Store
	replay   *chainstore.ReplayCache
	accounts accounts.Tree
	hist     history.Store
	staking  staking.Contract
	engine   *commitengine.Engine
	emitter  *events.Emitter
	consts   policy.Constants
	reward   slashing.BlockRewardFunc
	genesis  Genesis

	st state
}

// New builds a Manager seeded from genesis, bootstrapping the chain store
// if it is empty (spec.md §7 "InvalidGenesisBlock" on mismatch).
func New(
	store chainstore.Store,
	tree accounts.Tree,
	hist history.Store,
	stakingContract staking.Contract,
	emitter *events.Emitter,
	consts policy.Constants,
	reward slashing.BlockRewardFunc,
	genesis Genesis,
) (*Manager, error) {
	if err := consts.Validate(); err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}
	m := &Manager{
		store:    store,
		replay:   chainstore.NewReplayCache(consts.TransactionValidityWindow),
		accounts: tree,
		hist:     hist,
		staking:  stakingContract,
		engine:   commitengine.New(tree, hist),
		emitter:  emitter,
		consts:   consts,
		reward:   reward,
		genesis:  genesis,
	}

	genesisHash := genesis.Block.Hash()
	head, ok, err := store.GetHead()
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindFailedLoadingMainChain, err, "reading head pointer")
	}
	if !ok {
		if err := m.bootstrapGenesis(genesisHash); err != nil {
			return nil, err
		}
		head = genesisHash
	}

	ci, err := store.Get(head)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.KindFailedLoadingMainChain, err, "loading main chain head %s", head)
	}
	m.st.mainChain = ci
	m.st.headHash = head
	m.st.currentSlots = slots.DeriveRegistry(genesis.InitialValidators)
	m.st.previousSlots = slots.DeriveRegistry(nil)
	m.st.macroHead = genesis.Block
	m.st.macroHash = genesisHash
	m.st.electionHead = genesis.Block
	m.st.electionHash = genesisHash

	if err := m.rebuildVolatileState(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) bootstrapGenesis(genesisHash crypto.Hash) error {
	ci := chainstore.NewChainInfo(m.genesis.Block, nil, m.consts.SlotCount, nil, nil)
	ci.OnMainChain = true
	if err := m.store.Put(genesisHash, ci); err != nil {
		return chainerr.Wrap(chainerr.KindInvalidGenesisBlock, err, "storing genesis chain info")
	}
	if err := m.store.PutByHeight(m.genesis.Block.Hdr.BlockNumber, genesisHash); err != nil {
		return chainerr.Wrap(chainerr.KindInvalidGenesisBlock, err, "storing genesis height index")
	}
	if err := m.store.PutMacroIndex(m.genesis.Block.Hdr.BlockNumber, genesisHash); err != nil {
		return err
	}
	if err := m.store.PutElectionIndex(m.genesis.Block.Hdr.BlockNumber, genesisHash); err != nil {
		return err
	}
	return m.store.SetHead(genesisHash)
}

// rebuildVolatileState walks the macro/election indexes to recover the
// macro and election heads after a restart. A from-scratch implementation
// would replay the whole chain; this module keeps it to the indexes the
// store already maintains, which is sufficient since genesis seeds both.
func (m *Manager) rebuildVolatileState() error {
	macroHeights, err := m.store.MacroHeights()
	if err != nil {
		return err
	}
	if len(macroHeights) == 0 {
		return nil
	}
	best := macroHeights[0]
	for _, h := range macroHeights {
		if h > best {
			best = h
		}
	}
	hash, err := m.store.GetByHeight(best)
	if err == nil {
		if ci, err := m.store.Get(hash); err == nil {
			if mb, ok := ci.Block.(*block.MacroBlock); ok {
				m.st.macroHead = mb
				m.st.macroHash = hash
			}
		}
	}

	electionHeights, err := m.store.ElectionHeights()
	if err != nil {
		return err
	}
	if len(electionHeights) == 0 {
		return nil
	}
	bestElection := electionHeights[0]
	for _, h := range electionHeights {
		if h > bestElection {
			bestElection = h
		}
	}
	hash, err = m.store.GetByHeight(bestElection)
	if err == nil {
		if ci, err := m.store.Get(hash); err == nil {
			if mb, ok := ci.Block.(*block.MacroBlock); ok && mb.IsElection() {
				m.st.electionHead = mb
				m.st.electionHash = hash
				m.st.currentSlots = slots.DeriveRegistry(mb.Validators)
			}
		}
	}
	return nil
}

// Subscribe registers h for events of type typ.
func (m *Manager) Subscribe(typ events.EventType, h events.Handler) events.Handle {
	return m.emitter.Subscribe(typ, h)
}

// Unsubscribe removes a handler previously returned by Subscribe.
func (m *Manager) Unsubscribe(typ events.EventType, handle events.Handle) {
	m.emitter.Unsubscribe(typ, handle)
}
