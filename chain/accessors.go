package chain

import (
	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/commitengine"
	"github.com/albatross-core/chaincore/history"
	"github.com/albatross-core/chaincore/policy"
	"github.com/albatross-core/chaincore/slashing"
	"github.com/albatross-core/chaincore/slots"
	"github.com/albatross-core/chaincore/staking"
)

// The accessors below expose the collaborators a block producer needs
// (spec.md §4.8) without handing out the in-memory state struct itself,
// keeping m.st's lock discipline internal to this package.

// Accounts returns the accounts tree collaborator.
func (m *Manager) Accounts() accounts.Tree { return m.accounts }

// History returns the history store collaborator.
func (m *Manager) History() history.Store { return m.hist }

// Staking returns the staking contract collaborator.
func (m *Manager) Staking() staking.Contract { return m.staking }

// Engine returns the commit engine, used by a producer to compute
// speculative roots without committing.
func (m *Manager) Engine() *commitengine.Engine { return m.engine }

// Constants returns the genesis-fixed policy constants.
func (m *Manager) Constants() policy.Constants { return m.consts }

// RewardFunc returns the injected block-reward curve.
func (m *Manager) RewardFunc() slashing.BlockRewardFunc { return m.reward }

// Genesis returns the genesis descriptor the manager was built from.
func (m *Manager) Genesis() Genesis { return m.genesis }

// HeadChainInfo returns the ChainInfo of the current main-chain tip.
func (m *Manager) HeadChainInfo() *chainstore.ChainInfo {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.st.mainChain
}

// CurrentRegistry returns the validator registry in effect for the epoch
// the head belongs to.
func (m *Manager) CurrentRegistry() *slots.Registry {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.st.currentSlots
}

// PreviousRegistry returns the validator registry of the epoch preceding
// the current one.
func (m *Manager) PreviousRegistry() *slots.Registry {
	m.st.mu.RLock()
	defer m.st.mu.RUnlock()
	return m.st.previousSlots
}

// RegistryForHeight is the exported form of registryForHeight, used by a
// producer resolving fork-proof slot owners from past epochs.
func (m *Manager) RegistryForHeight(height uint32) *slots.Registry {
	return m.registryForHeight(height)
}

// EpochCumulativeFees is the exported form of epochCumulativeFees, used by
// a macro proposal producer to total the closing epoch's fees ahead of
// calling slashing.FinalizeEpoch itself (rather than going through
// deriveInherents, since a proposal isn't yet admitted chain state).
func (m *Manager) EpochCumulativeFees(electionHeight uint32) (uint64, error) {
	return m.epochCumulativeFees(electionHeight)
}
