// Package verifier is the stateless-plus-context block header verifier
// (spec.md §4.1): given a header, its predecessor, and the validator set in
// effect, it runs the ordered checks spec.md §4.1 lists and returns the
// first typed failure. Grounded on consensus/poa.go's ValidateBlock, which
// runs the same "predecessor exists, number/timestamp/view sequencing,
// signature" pipeline for a single-tier PoA chain.
package verifier

import (
	"time"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainerr"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/policy"
)

// ViewChangeCheck controls whether VerifyBlockHeader runs the view-change
// quorum rule itself. The original's three-valued present/absent/skip flag
// collapses to two states here: "present" and "absent" both reduce to
// CheckNormal, since the rule already branches on whether the header's view
// exceeds the predecessor's effective view.
type ViewChangeCheck uint8

const (
	// CheckNormal runs the full view-change rule (spec.md §4.1 step 6).
	CheckNormal ViewChangeCheck = iota
	// CheckSkip bypasses the view-change check, for callers (e.g. macro
	// finalization) that verify the justification elsewhere.
	CheckSkip
)

// Input bundles everything VerifyBlockHeader needs beyond the header
// itself.
type Input struct {
	Header             block.Header
	Predecessor        block.Header
	PredecessorIsMacro bool
	ViewChangeCheck    ViewChangeCheck
	// IntendedSlotOwner is the public key get_slot_at resolved for
	// (header.BlockNumber, header.ViewNumber); required for VRF seed
	// verification (spec.md §4.1 step 7).
	IntendedSlotOwner crypto.PublicKey
	// Validators is the validator set in effect for the view-change
	// quorum check (nil is fine when ViewChangeCheck is CheckSkip).
	Validators block.Slots
	// ViewChangeProof is present iff header.ViewNumber exceeds the
	// predecessor's effective view number.
	ViewChangeProof *block.ViewChangeProof
	// ElectionHeadHash is the current election head's hash, checked
	// against header.ParentElectionHash on macro blocks only.
	ElectionHeadHash crypto.Hash
	IsMacro          bool
	Now              time.Time
	Constants        policy.Constants
	ExpectedType     block.Type
}

// VerifyBlockHeader runs spec.md §4.1's ordered checks and returns the
// first violated one as a *chainerr.Error.
func VerifyBlockHeader(in Input) error {
	// Checks 2-3: successor type and number.
	if in.Header.Type != in.ExpectedType {
		return chainerr.New(chainerr.KindInvalidSuccessor, "expected block type %s at height %d, got %s", in.ExpectedType, in.Header.BlockNumber, in.Header.Type)
	}
	if in.Predecessor.BlockNumber+1 != in.Header.BlockNumber {
		return chainerr.New(chainerr.KindInvalidSuccessor, "expected block number %d, got %d", in.Predecessor.BlockNumber+1, in.Header.BlockNumber)
	}

	// Check 4: strictly increasing timestamp.
	if !in.Header.Timestamp.After(in.Predecessor.Timestamp) {
		return chainerr.New(chainerr.KindInvalidSuccessor, "timestamp %s does not exceed predecessor timestamp %s", in.Header.Timestamp, in.Predecessor.Timestamp)
	}

	// Check 5: drift bound.
	if in.Header.Timestamp.Sub(in.Now) > in.Constants.TimestampMaxDrift {
		return chainerr.New(chainerr.KindFromTheFuture, "timestamp %s exceeds max drift %s from now %s", in.Header.Timestamp, in.Constants.TimestampMaxDrift, in.Now)
	}

	// Check 6: view-number rules.
	effectiveView := uint32(0)
	if !in.PredecessorIsMacro {
		effectiveView = in.Predecessor.ViewNumber
	}
	switch {
	case in.Header.ViewNumber < effectiveView:
		return chainerr.New(chainerr.KindInvalidViewNumber, "view number %d below effective view %d", in.Header.ViewNumber, effectiveView)
	case in.Header.ViewNumber > effectiveView:
		if in.ViewChangeCheck == CheckNormal {
			if in.ViewChangeProof == nil {
				return chainerr.New(chainerr.KindNoViewChangeProof, "view number %d requires a view-change proof", in.Header.ViewNumber)
			}
			msg := block.ViewChangeMessage{
				BlockNumber:   in.Header.BlockNumber,
				NewViewNumber: in.Header.ViewNumber,
				VRFEntropy:    in.Predecessor.Seed.Entropy(),
			}
			if err := verifyViewChangeQuorum(in.ViewChangeProof, msg, in.Validators, in.Constants.TwoThirdSlots); err != nil {
				return chainerr.Wrap(chainerr.KindInvalidJustification, err, "view-change quorum check failed")
			}
		}
	default: // header.ViewNumber == effectiveView
		if in.ViewChangeCheck == CheckNormal && in.ViewChangeProof != nil {
			return chainerr.New(chainerr.KindInvalidJustification, "view-change proof present at effective view %d", effectiveView)
		}
	}

	// Check 7: VRF seed verification.
	if err := in.Predecessor.Seed.VerifyNext(in.Header.Seed, in.IntendedSlotOwner); err != nil {
		return chainerr.Wrap(chainerr.KindInvalidJustification, err, "VRF seed verification failed")
	}

	// Check 8: macro-only parent-election-hash check.
	if in.IsMacro && in.Header.ParentElectionHash != in.ElectionHeadHash {
		return chainerr.New(chainerr.KindInvalidSuccessor, "parent election hash mismatch")
	}

	return nil
}

func verifyViewChangeQuorum(proof *block.ViewChangeProof, msg block.ViewChangeMessage, validators block.Slots, minWeight int) error {
	if proof == nil || proof.Sig == nil {
		return chainerr.New(chainerr.KindNoViewChangeProof, "missing view-change signature")
	}
	pubKeys := make([]crypto.PublicKey, len(validators))
	for i, band := range validators {
		pubKeys[i] = band.PublicKey
	}
	slotOf := func(signer int) int {
		if signer < 0 || signer >= len(validators) {
			return 0
		}
		band := validators[signer]
		return band.Last - band.First
	}
	return proof.Sig.VerifyWeight(msg.Encode(), pubKeys, slotOf, minWeight)
}

// VerifyMicroJustification verifies the slot-owner Schnorr signature over
// the header hash (spec.md §4.3 step 4).
func VerifyMicroJustification(mb *block.MicroBlock, slotOwner crypto.PublicKey) error {
	h := mb.Hdr.Hash()
	if err := crypto.Verify(slotOwner, h[:], mb.Sig); err != nil {
		return chainerr.Wrap(chainerr.KindInvalidJustification, err, "slot-owner signature verification failed")
	}
	return nil
}

// VerifyBodyHash checks that a block's body hashes to its header's BodyRoot
// (spec.md §4.3 step 6, §4.1 "BodyHashMismatch").
func VerifyBodyHash(header block.Header, bodyHash crypto.Hash) error {
	if header.BodyRoot != bodyHash {
		return chainerr.New(chainerr.KindBodyHashMismatch, "body hash %s does not match header body_root %s", bodyHash, header.BodyRoot)
	}
	return nil
}

// VerifyMacroJustification verifies a Tendermint pre-commit quorum against
// the current validator set at >= TWO_THIRD_SLOTS weight (spec.md §4.3
// step 6).
func VerifyMacroJustification(mb *block.MacroBlock, validators block.Slots, minWeight int) error {
	if mb.Signature == nil {
		return chainerr.New(chainerr.KindNoJustification, "macro block carries no Tendermint signature")
	}
	h := mb.Hdr.Hash()
	ident := tendermintPreCommitMessage(mb.Hdr.BlockNumber, mb.Round, h)
	pubKeys := make([]crypto.PublicKey, len(validators))
	for i, band := range validators {
		pubKeys[i] = band.PublicKey
	}
	slotOf := func(signer int) int {
		if signer < 0 || signer >= len(validators) {
			return 0
		}
		band := validators[signer]
		return band.Last - band.First
	}
	if err := mb.Signature.VerifyWeight(ident, pubKeys, slotOf, minWeight); err != nil {
		return chainerr.Wrap(chainerr.KindInvalidJustification, err, "Tendermint quorum check failed")
	}
	return nil
}

// tendermintPreCommitMessage builds the canonical pre-commit vote message:
// {proposal_hash, TendermintIdentifier{block_number, PreCommit, round}}
// (spec.md §4.8 "Macro finalization").
func tendermintPreCommitMessage(blockNumber, round uint32, proposalHash crypto.Hash) []byte {
	buf := make([]byte, 0, 32+4+4+1)
	buf = append(buf, proposalHash[:]...)
	buf = append(buf, byte(blockNumber), byte(blockNumber>>8), byte(blockNumber>>16), byte(blockNumber>>24))
	buf = append(buf, byte(round), byte(round>>8), byte(round>>16), byte(round>>24))
	buf = append(buf, 'P') // PreCommit tag
	return buf
}
