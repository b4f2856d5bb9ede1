package producer_test

import (
	"testing"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chain"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/internal/testutil"
	"github.com/albatross-core/chaincore/producer"
)

// tendermintPreCommitIdent reconstructs the exact pre-commit vote payload
// verifier.VerifyMacroJustification checks against, so tests can build a
// quorum certificate without exporting that encoding from verifier.
func tendermintPreCommitIdent(blockNumber, round uint32, proposalHash crypto.Hash) []byte {
	buf := make([]byte, 0, 32+4+4+1)
	buf = append(buf, proposalHash[:]...)
	buf = append(buf, byte(blockNumber), byte(blockNumber>>8), byte(blockNumber>>16), byte(blockNumber>>24))
	buf = append(buf, byte(round), byte(round>>8), byte(round>>16), byte(round>>24))
	buf = append(buf, 'P')
	return buf
}

func TestProduceMicroBlockAndPush(t *testing.T) {
	env := testutil.New(t, 1)
	key := env.Keys[0]
	p := producer.New(env.Manager)

	mb, err := p.ProduceMicroBlock(producer.MicroConfig{}, key.Priv, key.Priv)
	if err != nil {
		t.Fatalf("ProduceMicroBlock: %v", err)
	}
	if mb.Hdr.BlockNumber != 1 {
		t.Fatalf("expected block number 1, got %d", mb.Hdr.BlockNumber)
	}

	result, err := env.Manager.Push(mb)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if result != chain.Extended {
		t.Errorf("Push result: got %s want Extended", result)
	}
	if env.Manager.BlockNumber() != 1 {
		t.Errorf("head block number: got %d want 1", env.Manager.BlockNumber())
	}
}

func TestProduceMicroBlockRejectsReplayedTransaction(t *testing.T) {
	env := testutil.New(t, 1)
	key := env.Keys[0]
	p := producer.New(env.Manager)

	tx := &block.Transaction{Sender: key.Pub.Hex(), Nonce: 0, Fee: 0}
	tx.Sign(key.Priv)

	mb1, err := p.ProduceMicroBlock(producer.MicroConfig{Transactions: []*block.Transaction{tx}}, key.Priv, key.Priv)
	if err != nil {
		t.Fatalf("ProduceMicroBlock: %v", err)
	}
	if _, err := env.Manager.Push(mb1); err != nil {
		t.Fatalf("Push mb1: %v", err)
	}

	if !env.Manager.ContainsTxInValidityWindow(tx.Hash()) {
		t.Fatal("the transaction included at height 1 should be inside the replay protection window")
	}
	// The sender's nonce is now 1, so speculatively executing the same
	// transaction again fails and no second block is produced.
	if _, err := p.ProduceMicroBlock(producer.MicroConfig{Transactions: []*block.Transaction{tx}}, key.Priv, key.Priv); err == nil {
		t.Error("producing a block that replays a transaction already included at height 1 should fail")
	}
}

func TestProduceMacroProposalFinalizeAndPush(t *testing.T) {
	env := testutil.New(t, 1)
	key := env.Keys[0]
	p := producer.New(env.Manager)

	// Batch length is 2: block 1 is micro, block 2 is the batch's macro.
	mb1, err := p.ProduceMicroBlock(producer.MicroConfig{}, key.Priv, key.Priv)
	if err != nil {
		t.Fatalf("ProduceMicroBlock: %v", err)
	}
	if _, err := env.Manager.Push(mb1); err != nil {
		t.Fatalf("Push mb1: %v", err)
	}

	proposal, err := p.ProduceMacroProposal(producer.MacroConfig{}, key.Priv)
	if err != nil {
		t.Fatalf("ProduceMacroProposal: %v", err)
	}
	if proposal.Hdr.BlockNumber != 2 {
		t.Fatalf("expected macro proposal at height 2, got %d", proposal.Hdr.BlockNumber)
	}
	if proposal.IsElection() {
		t.Fatal("height 2 should not be an election block (epoch length is 4)")
	}

	ident := tendermintPreCommitIdent(proposal.Hdr.BlockNumber, 0, proposal.Hdr.Hash())
	shares := []crypto.PartialSignature{{Signer: 0, Sig: crypto.Sign(key.Priv, ident)}}
	finalized := producer.FinalizeMacroBlock(proposal, 0, shares, env.Consts.SlotCount)

	result, err := env.Manager.Push(finalized)
	if err != nil {
		t.Fatalf("Push finalized macro block: %v", err)
	}
	if result != chain.Extended {
		t.Errorf("Push result: got %s want Extended", result)
	}
	if env.Manager.MacroHead().Hdr.BlockNumber != 2 {
		t.Errorf("macro head: got block %d want 2", env.Manager.MacroHead().Hdr.BlockNumber)
	}
}

func TestProduceElectionMacroBlockRotatesValidators(t *testing.T) {
	env := testutil.New(t, 1)
	key := env.Keys[0]
	p := producer.New(env.Manager)

	// Drive the chain through a full epoch (length 4): micro, macro, micro,
	// election-macro.
	for _, height := range []uint32{1, 2, 3} {
		var b block.Block
		var err error
		if env.Consts.IsMacroBlock(height) {
			b, err = p.ProduceMacroProposal(producer.MacroConfig{}, key.Priv)
			if err != nil {
				t.Fatalf("ProduceMacroProposal at %d: %v", height, err)
			}
			mbp := b.(*block.MacroBlock)
			ident := tendermintPreCommitIdent(mbp.Hdr.BlockNumber, 0, mbp.Hdr.Hash())
			shares := []crypto.PartialSignature{{Signer: 0, Sig: crypto.Sign(key.Priv, ident)}}
			b = producer.FinalizeMacroBlock(mbp, 0, shares, env.Consts.SlotCount)
		} else {
			b, err = p.ProduceMicroBlock(producer.MicroConfig{}, key.Priv, key.Priv)
			if err != nil {
				t.Fatalf("ProduceMicroBlock at %d: %v", height, err)
			}
		}
		if _, err := env.Manager.Push(b); err != nil {
			t.Fatalf("Push at height %d: %v", height, err)
		}
	}

	electionProposal, err := p.ProduceMacroProposal(producer.MacroConfig{}, key.Priv)
	if err != nil {
		t.Fatalf("ProduceMacroProposal (election): %v", err)
	}
	if !electionProposal.IsElection() {
		t.Fatal("height 4 should be an election block (epoch length is 4)")
	}
	ident := tendermintPreCommitIdent(electionProposal.Hdr.BlockNumber, 0, electionProposal.Hdr.Hash())
	shares := []crypto.PartialSignature{{Signer: 0, Sig: crypto.Sign(key.Priv, ident)}}
	finalized := producer.FinalizeMacroBlock(electionProposal, 0, shares, env.Consts.SlotCount)

	result, err := env.Manager.Push(finalized)
	if err != nil {
		t.Fatalf("Push election macro block: %v", err)
	}
	if result != chain.Extended {
		t.Errorf("Push result: got %s want Extended", result)
	}
	if env.Manager.ElectionHead().Hdr.BlockNumber != 4 {
		t.Errorf("election head: got block %d want 4", env.Manager.ElectionHead().Hdr.BlockNumber)
	}
}
