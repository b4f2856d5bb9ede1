package block

import (
	"fmt"

	"github.com/albatross-core/chaincore/crypto"
)

// Block is the tagged-union contract shared by MicroBlock and MacroBlock.
// Go idiom favours a small interface over emulating a Rust enum: callers
// that need the concrete shape type-switch on it (see chain package).
type Block interface {
	Header() *Header
	Hash() crypto.Hash
	IsMacro() bool
}

// SlotBand is one validator's contiguous range of slot indices [First, Last).
type SlotBand struct {
	PublicKey crypto.PublicKey
	First     int
	Last      int
}

// Slots is the fixed validator assignment for one epoch.
type Slots []SlotBand

// SlotCount returns the total number of slots covered by bands.
func (s Slots) SlotCount() int {
	n := 0
	for _, b := range s {
		n += b.Last - b.First
	}
	return n
}

// BandAt returns the slot band owning slot index i, or (SlotBand{}, false)
// if i is out of range.
func (s Slots) BandAt(i int) (SlotBand, bool) {
	for _, b := range s {
		if i >= b.First && i < b.Last {
			return b, true
		}
	}
	return SlotBand{}, false
}

// BandIndexOf returns the index of the band owning slot i within s, used to
// look up per-validator weight in a crypto.MultiSignature.
func (s Slots) BandIndexOf(i int) (int, bool) {
	for idx, b := range s {
		if i >= b.First && i < b.Last {
			return idx, true
		}
	}
	return 0, false
}

// MicroBlock is a block produced by a single elected slot owner.
type MicroBlock struct {
	Hdr          Header
	ForkProofs   []ForkProof
	Transactions []*Transaction
	Sig          string // slot-owner Schnorr signature over Hdr.Hash()
	ViewChange   *ViewChangeProof
}

func (b *MicroBlock) Header() *Header      { return &b.Hdr }
func (b *MicroBlock) Hash() crypto.Hash    { return b.Hdr.Hash() }
func (b *MicroBlock) IsMacro() bool        { return false }

// BodyHash returns the hash of the micro body (fork proofs + transactions),
// which must equal Hdr.BodyRoot.
func (b *MicroBlock) BodyHash() crypto.Hash {
	leaves := make([]crypto.Hash, 0, len(b.ForkProofs)+len(b.Transactions)+1)
	for _, fp := range b.ForkProofs {
		h1, h2 := fp.Header1.Hash(), fp.Header2.Hash()
		leaves = append(leaves, crypto.HashBytes(h1[:], h2[:]))
	}
	for _, tx := range b.Transactions {
		h := tx.Hash()
		leaves = append(leaves, h)
	}
	return crypto.MerkleRoot(leaves)
}

// MacroBlock is a block finalized by a Tendermint-style BFT committee.
type MacroBlock struct {
	Hdr Header

	// Validators is present only on election macro blocks.
	Validators    Slots
	PKTreeRoot    crypto.Hash
	LostRewardSet *crypto.BitSet
	DisabledSet   *crypto.BitSet

	Round     uint32
	Signature *crypto.MultiSignature
}

func (b *MacroBlock) Header() *Header   { return &b.Hdr }
func (b *MacroBlock) Hash() crypto.Hash { return b.Hdr.Hash() }
func (b *MacroBlock) IsMacro() bool     { return true }

// IsElection reports whether Validators was populated, i.e. this macro
// block also rotates the validator set.
func (b *MacroBlock) IsElection() bool { return len(b.Validators) > 0 }

// bodyWire mirrors the fields of MacroBlock's body that are hashed into
// BodyRoot, in the canonical order spec.md §4.4 step 4 recomputes it.
type bodyWire struct {
	ValidatorsRoot crypto.Hash
	PKTreeRoot     crypto.Hash
	LostRewardSet  []byte
	DisabledSet    []byte
}

// BodyHash returns the hash of the macro body, which must equal Hdr.BodyRoot.
func (b *MacroBlock) BodyHash() crypto.Hash {
	var validatorLeaves []crypto.Hash
	for _, sb := range b.Validators {
		validatorLeaves = append(validatorLeaves, crypto.HashBytes([]byte(sb.PublicKey.Hex())))
	}
	w := bodyWire{
		ValidatorsRoot: crypto.MerkleRoot(validatorLeaves),
		PKTreeRoot:     b.PKTreeRoot,
		LostRewardSet:  bitsetBytes(b.LostRewardSet),
		DisabledSet:    bitsetBytes(b.DisabledSet),
	}
	return crypto.HashBytes(w.ValidatorsRoot[:], w.PKTreeRoot[:], w.LostRewardSet, w.DisabledSet)
}

// bitsetBytes serialises a BitSet's word slice for hashing via its JSON
// encoding, reusing crypto.BitSet's own MarshalJSON rather than reaching
// into its unexported field.
func bitsetBytes(bs *crypto.BitSet) []byte {
	if bs == nil {
		return nil
	}
	data, err := bs.MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("block: marshal bitset: %v", err))
	}
	return data
}
