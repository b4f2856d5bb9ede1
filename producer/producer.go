// Package producer builds and finalizes new blocks on top of a chain
// manager's current head (spec.md §4.8): micro blocks signed by a single
// elected slot owner, macro proposals carrying the epoch's election/
// finalization body, and the Tendermint pre-commit aggregation that turns a
// proposal into a finalized macro block. Grounded on consensus/poa.go's
// ProduceBlock, generalised from "sign one flat block" to the two-tier
// micro/macro production described above.
package producer

import (
	"fmt"
	"time"

	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chain"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/slashing"
)

// Producer builds candidate blocks for the local validator on top of the
// given chain manager's head.
type Producer struct {
	chain *chain.Manager
}

// New builds a Producer over mgr.
func New(mgr *chain.Manager) *Producer {
	return &Producer{chain: mgr}
}

// MicroConfig carries the nullable header-field overrides spec.md §4.8
// allows a caller (almost always a test) to force, plus the block's
// candidate content.
type MicroConfig struct {
	BlockNumber     *uint32
	ViewNumber      *uint32
	Timestamp       *time.Time
	ExtraData       []byte
	Transactions    []*block.Transaction
	ForkProofs      []block.ForkProof
	ViewChangeProof *block.ViewChangeProof
}

// ProduceMicroBlock builds, speculatively executes and signs the next
// micro block on top of the head (spec.md §4.8 "Micro block").
func (p *Producer) ProduceMicroBlock(cfg MicroConfig, signingKey crypto.SigningKey, votingKey crypto.VotingKey) (*block.MicroBlock, error) {
	pred := p.chain.Head()
	predHeader := *pred.Header()

	blockNumber := predHeader.BlockNumber + 1
	if cfg.BlockNumber != nil {
		blockNumber = *cfg.BlockNumber
	}

	timestamp := nextTimestamp(predHeader.Timestamp)
	if cfg.Timestamp != nil {
		timestamp = *cfg.Timestamp
	}

	seed := predHeader.Seed.SignNext(signingKey)

	effectiveView := uint32(0)
	if !pred.IsMacro() {
		effectiveView = predHeader.ViewNumber
	}
	viewNumber := effectiveView
	if cfg.ViewNumber != nil {
		viewNumber = *cfg.ViewNumber
	}
	if viewNumber > effectiveView && !pred.IsMacro() && cfg.ViewChangeProof == nil {
		return nil, fmt.Errorf("producer: view %d exceeds effective view %d but no view-change proof was supplied", viewNumber, effectiveView)
	}

	registry := p.chain.RegistryForHeight(blockNumber)

	block.SortCanonical(cfg.Transactions)

	var vc *slashing.ViewChanges
	if viewNumber > effectiveView {
		vc = &slashing.ViewChanges{BlockNumber: blockNumber, FirstView: effectiveView, LastView: viewNumber}
	}
	inherents, err := slashing.GenerateSlashInherents(registry, predHeader.Seed, cfg.ForkProofs, vc)
	if err != nil {
		return nil, fmt.Errorf("producer: generating slash inherents: %w", err)
	}

	epochIndex := p.chain.Constants().EpochIndex(blockNumber)
	stateRoot, historyRoot, err := p.chain.Engine().SpeculativeRoots(epochIndex, blockNumber, timestamp.UnixNano(), cfg.Transactions, inherents)
	if err != nil {
		return nil, fmt.Errorf("producer: computing speculative roots: %w", err)
	}

	mb := &block.MicroBlock{
		Hdr: block.Header{
			Type:        block.TypeMicro,
			Version:     1,
			BlockNumber: blockNumber,
			ViewNumber:  viewNumber,
			Timestamp:   timestamp,
			ParentHash:  pred.Hash(),
			Seed:        seed,
			ExtraData:   cfg.ExtraData,
			StateRoot:   stateRoot,
			HistoryRoot: historyRoot,
		},
		ForkProofs:   cfg.ForkProofs,
		Transactions: cfg.Transactions,
		ViewChange:   cfg.ViewChangeProof,
	}
	mb.Hdr.BodyRoot = mb.BodyHash()

	h := mb.Hdr.Hash()
	mb.Sig = crypto.Sign(signingKey, h[:])

	return mb, nil
}

// MacroConfig carries the nullable overrides and any extra body content a
// macro proposal needs (spec.md §4.8 "Macro proposal").
type MacroConfig struct {
	BlockNumber *uint32
	Timestamp   *time.Time
	ExtraData   []byte
	PKTreeRoot  crypto.Hash
}

// ProduceMacroProposal builds the next macro block's proposal: its body
// carries the validator list on election blocks, and its inherents come
// from epoch finalization when it terminates an epoch.
func (p *Producer) ProduceMacroProposal(cfg MacroConfig, votingKey crypto.VotingKey) (*block.MacroBlock, error) {
	pred := p.chain.Head()
	predHeader := *pred.Header()

	consts := p.chain.Constants()
	blockNumber := predHeader.BlockNumber + 1
	if cfg.BlockNumber != nil {
		blockNumber = *cfg.BlockNumber
	}
	if !consts.IsMacroBlock(blockNumber) {
		return nil, fmt.Errorf("producer: height %d is not a macro-block boundary", blockNumber)
	}

	timestamp := nextTimestamp(predHeader.Timestamp)
	if cfg.Timestamp != nil {
		timestamp = *cfg.Timestamp
	}

	seed := predHeader.Seed.SignNext(votingKey)

	mb := &block.MacroBlock{
		Hdr: block.Header{
			Type:               block.TypeMacro,
			Version:            1,
			BlockNumber:        blockNumber,
			ViewNumber:         0,
			Timestamp:          timestamp,
			ParentHash:         pred.Hash(),
			Seed:               seed,
			ExtraData:          cfg.ExtraData,
			ParentElectionHash: p.chain.ElectionHead().Hash(),
		},
		PKTreeRoot:    cfg.PKTreeRoot,
		LostRewardSet: p.chain.Staking().PreviousLostRewards(),
		DisabledSet:   p.chain.Staking().PreviousDisabledSlots(),
	}

	if consts.IsElectionBlock(blockNumber) {
		mb.Validators = p.chain.Staking().SelectValidators(seed)
	}

	inherents, err := p.macroInherents(mb, predHeader)
	if err != nil {
		return nil, err
	}

	epochIndex := consts.EpochIndex(blockNumber)
	stateRoot, historyRoot, err := p.chain.Engine().SpeculativeRoots(epochIndex, blockNumber, timestamp.UnixNano(), nil, inherents)
	if err != nil {
		return nil, fmt.Errorf("producer: computing speculative roots: %w", err)
	}
	mb.Hdr.StateRoot = stateRoot
	mb.Hdr.HistoryRoot = historyRoot
	mb.Hdr.BodyRoot = mb.BodyHash()

	return mb, nil
}

// macroInherents computes create_macro_block_inherents(state, header)
// (spec.md §4.8): the epoch-finalization reward distribution when mb
// terminates an epoch, or none otherwise.
func (p *Producer) macroInherents(mb *block.MacroBlock, predHeader block.Header) ([]accounts.Inherent, error) {
	if !mb.IsElection() {
		return nil, nil
	}
	predCi := p.chain.HeadChainInfo()
	genesis := p.chain.Genesis()

	epochFees, err := p.chain.EpochCumulativeFees(mb.Hdr.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("producer: summing epoch fees: %w", err)
	}
	return slashing.FinalizeEpoch(
		p.chain.CurrentRegistry(),
		predCi.Slashed.Union(),
		epochFees,
		mb,
		p.chain.ElectionHead(),
		genesis.Supply,
		genesis.Timestamp.UnixNano(),
		p.chain.RewardFunc(),
		p.chain.Accounts(),
		mb.Hdr.Seed,
	)
}

// FinalizeMacroBlock turns a proposal into a finalized macro block by
// aggregating Tendermint pre-commit vote shares into a MultiSignature
// (spec.md §4.8 "Macro finalization"). The proposal itself is not
// mutated; the returned block carries the same header and body plus the
// quorum certificate.
func FinalizeMacroBlock(proposal *block.MacroBlock, round uint32, shares []crypto.PartialSignature, slotCount int) *block.MacroBlock {
	finalized := *proposal
	finalized.Round = round
	finalized.Signature = crypto.NewMultiSignature(slotCount, shares)
	return &finalized
}

func nextTimestamp(predecessor time.Time) time.Time {
	min := predecessor.Add(time.Second)
	now := time.Now()
	if now.Before(min) {
		return min
	}
	return now
}
