package block

import "github.com/albatross-core/chaincore/crypto"

// ForkProof is evidence that the same slot owner signed two different
// headers at the same (block_number, view_number) (spec.md §3, §4.6).
type ForkProof struct {
	Header1   Header
	Header2   Header
	Sig1      string
	Sig2      string
}

// BlockNumber returns the height at which the double-signing occurred.
func (fp ForkProof) BlockNumber() uint32 { return fp.Header1.BlockNumber }

// ViewNumber returns the view at which the double-signing occurred.
func (fp ForkProof) ViewNumber() uint32 { return fp.Header1.ViewNumber }

// Verify checks that both headers were signed by pub, have the same
// (block_number, view_number) and are not byte-identical (a single header
// signed twice is not a fork).
func (fp ForkProof) Verify(pub crypto.PublicKey) error {
	if fp.Header1.BlockNumber != fp.Header2.BlockNumber || fp.Header1.ViewNumber != fp.Header2.ViewNumber {
		return errMismatchedForkProofCoords
	}
	h1, h2 := fp.Header1.Hash(), fp.Header2.Hash()
	if h1 == h2 {
		return errIdenticalForkProofHeaders
	}
	if err := crypto.Verify(pub, h1[:], fp.Sig1); err != nil {
		return err
	}
	return crypto.Verify(pub, h2[:], fp.Sig2)
}

// ViewChangeProof is the aggregated evidence that >= TWO_THIRD_SLOTS weight
// of the current validator set agreed to skip to a new view (spec.md §4.1
// step 6).
type ViewChangeProof struct {
	Sig *crypto.MultiSignature
}

// ViewChangeMessage is the exact payload signed by validators voting for a
// view change (spec.md §4.1 step 6).
type ViewChangeMessage struct {
	BlockNumber  uint32
	NewViewNumber uint32
	VRFEntropy   crypto.Hash
}

// Encode returns the canonical bytes signed for this view-change vote.
func (m ViewChangeMessage) Encode() []byte {
	var buf []byte
	buf = append(buf, byte(m.BlockNumber), byte(m.BlockNumber>>8), byte(m.BlockNumber>>16), byte(m.BlockNumber>>24))
	buf = append(buf, byte(m.NewViewNumber), byte(m.NewViewNumber>>8), byte(m.NewViewNumber>>16), byte(m.NewViewNumber>>24))
	buf = append(buf, m.VRFEntropy[:]...)
	return buf
}
