package verifier

import (
	"testing"
	"time"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/policy"
)

func assertKind(t *testing.T, err error, want chainerr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error of kind %s, got nil", want)
	}
	ce, ok := err.(*chainerr.Error)
	if !ok {
		t.Fatalf("expected a *chainerr.Error, got %T: %v", err, err)
	}
	if ce.Kind != want {
		t.Errorf("expected kind %s, got %s (%v)", want, ce.Kind, err)
	}
}

func baseConsts() policy.Constants {
	return policy.Constants{TimestampMaxDrift: time.Hour, TwoThirdSlots: 2}
}

func validInput(t *testing.T) (Input, crypto.PrivateKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	predecessor := block.Header{BlockNumber: 4, Timestamp: time.Unix(1000, 0), Seed: crypto.GenesisVRFSeed()}
	seed := predecessor.Seed.SignNext(priv)
	now := time.Unix(1010, 0)
	header := block.Header{
		Type:        block.TypeMicro,
		BlockNumber: 5,
		Timestamp:   time.Unix(1005, 0),
		Seed:        seed,
	}
	return Input{
		Header:            header,
		Predecessor:       predecessor,
		ViewChangeCheck:   CheckNormal,
		IntendedSlotOwner: pub,
		Now:               now,
		Constants:         baseConsts(),
		ExpectedType:      block.TypeMicro,
	}, priv
}

func TestVerifyBlockHeaderAcceptsValidSuccessor(t *testing.T) {
	in, _ := validInput(t)
	if err := VerifyBlockHeader(in); err != nil {
		t.Errorf("valid successor should verify cleanly: %v", err)
	}
}

func TestVerifyBlockHeaderWrongType(t *testing.T) {
	in, _ := validInput(t)
	in.ExpectedType = block.TypeMacro
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindInvalidSuccessor)
}

func TestVerifyBlockHeaderWrongBlockNumber(t *testing.T) {
	in, _ := validInput(t)
	in.Header.BlockNumber = 100
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindInvalidSuccessor)
}

func TestVerifyBlockHeaderNonIncreasingTimestamp(t *testing.T) {
	in, _ := validInput(t)
	in.Header.Timestamp = in.Predecessor.Timestamp
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindInvalidSuccessor)
}

func TestVerifyBlockHeaderFromTheFuture(t *testing.T) {
	in, _ := validInput(t)
	in.Header.Timestamp = in.Now.Add(2 * time.Hour)
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindFromTheFuture)
}

func TestVerifyBlockHeaderViewBelowEffective(t *testing.T) {
	in, _ := validInput(t)
	in.Predecessor.ViewNumber = 3
	in.Header.ViewNumber = 1
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindInvalidViewNumber)
}

func TestVerifyBlockHeaderViewAboveEffectiveRequiresProof(t *testing.T) {
	in, _ := validInput(t)
	in.Header.ViewNumber = 1
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindNoViewChangeProof)
}

func TestVerifyBlockHeaderViewAboveEffectiveSkipsCheckWhenRequested(t *testing.T) {
	in, _ := validInput(t)
	in.Header.ViewNumber = 1
	in.ViewChangeCheck = CheckSkip
	if err := VerifyBlockHeader(in); err != nil {
		t.Errorf("CheckSkip should bypass the view-change proof requirement: %v", err)
	}
}

func TestVerifyBlockHeaderRejectsSpuriousViewChangeProofAtEffectiveView(t *testing.T) {
	in, _ := validInput(t)
	in.ViewChangeProof = &block.ViewChangeProof{Sig: crypto.NewMultiSignature(1, nil)}
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindInvalidJustification)
}

func TestVerifyBlockHeaderWithValidViewChangeQuorum(t *testing.T) {
	in, _ := validInput(t)
	priv1, pub1, _ := crypto.GenerateKeyPair()
	priv2, pub2, _ := crypto.GenerateKeyPair()
	validators := block.Slots{
		{PublicKey: pub1, First: 0, Last: 2},
		{PublicKey: pub2, First: 2, Last: 4},
	}
	in.Header.ViewNumber = 1
	in.Validators = validators
	msg := block.ViewChangeMessage{BlockNumber: in.Header.BlockNumber, NewViewNumber: 1, VRFEntropy: in.Predecessor.Seed.Entropy()}
	enc := msg.Encode()
	shares := []crypto.PartialSignature{
		{Signer: 0, Sig: crypto.Sign(priv1, enc)},
		{Signer: 1, Sig: crypto.Sign(priv2, enc)},
	}
	in.ViewChangeProof = &block.ViewChangeProof{Sig: crypto.NewMultiSignature(2, shares)}

	if err := VerifyBlockHeader(in); err != nil {
		t.Errorf("valid view-change quorum should verify: %v", err)
	}
}

func TestVerifyBlockHeaderBadVRFSeed(t *testing.T) {
	in, _ := validInput(t)
	_, otherPub, _ := crypto.GenerateKeyPair()
	in.IntendedSlotOwner = otherPub
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindInvalidJustification)
}

func TestVerifyBlockHeaderMacroParentElectionHashMismatch(t *testing.T) {
	in, _ := validInput(t)
	in.IsMacro = true
	in.ElectionHeadHash = crypto.HashBytes([]byte("expected"))
	in.Header.ParentElectionHash = crypto.HashBytes([]byte("other"))
	err := VerifyBlockHeader(in)
	assertKind(t, err, chainerr.KindInvalidSuccessor)
}

func TestVerifyMicroJustification(t *testing.T) {
	priv, pub, _ := crypto.GenerateKeyPair()
	mb := &block.MicroBlock{Hdr: block.Header{BlockNumber: 1}}
	h := mb.Hdr.Hash()
	mb.Sig = crypto.Sign(priv, h[:])
	if err := VerifyMicroJustification(mb, pub); err != nil {
		t.Errorf("valid signature should verify: %v", err)
	}
	_, otherPub, _ := crypto.GenerateKeyPair()
	if err := VerifyMicroJustification(mb, otherPub); err == nil {
		t.Error("signature from a different key should not verify")
	}
}

func TestVerifyBodyHash(t *testing.T) {
	h := block.Header{BodyRoot: crypto.HashBytes([]byte("body"))}
	if err := VerifyBodyHash(h, crypto.HashBytes([]byte("body"))); err != nil {
		t.Errorf("matching body hash should verify: %v", err)
	}
	if err := VerifyBodyHash(h, crypto.HashBytes([]byte("other"))); err == nil {
		t.Error("mismatched body hash should fail")
	}
}

func TestVerifyMacroJustificationNoSignature(t *testing.T) {
	mb := &block.MacroBlock{Hdr: block.Header{BlockNumber: 4}}
	if err := VerifyMacroJustification(mb, nil, 1); err == nil {
		t.Error("macro block with no signature should fail verification")
	}
}

func TestVerifyMacroJustificationQuorum(t *testing.T) {
	priv1, pub1, _ := crypto.GenerateKeyPair()
	priv2, pub2, _ := crypto.GenerateKeyPair()
	validators := block.Slots{
		{PublicKey: pub1, First: 0, Last: 2},
		{PublicKey: pub2, First: 2, Last: 4},
	}
	mb := &block.MacroBlock{Hdr: block.Header{BlockNumber: 4}, Round: 0}
	h := mb.Hdr.Hash()
	ident := tendermintPreCommitMessage(mb.Hdr.BlockNumber, mb.Round, h)
	shares := []crypto.PartialSignature{
		{Signer: 0, Sig: crypto.Sign(priv1, ident)},
		{Signer: 1, Sig: crypto.Sign(priv2, ident)},
	}
	mb.Signature = crypto.NewMultiSignature(2, shares)

	if err := VerifyMacroJustification(mb, validators, 4); err != nil {
		t.Errorf("full quorum should satisfy minWeight 4: %v", err)
	}
	if err := VerifyMacroJustification(mb, validators, 5); err == nil {
		t.Error("quorum of 4 should not satisfy minWeight 5")
	}
}
