// Package block defines the two-tier block data model: micro blocks
// (single slot-owner) and macro blocks (Tendermint BFT finality), sharing a
// common header. See spec.md §3.
package block

import (
	"encoding/json"
	"time"

	"github.com/albatross-core/chaincore/crypto"
)

// Type discriminates the two block kinds.
type Type uint8

const (
	TypeMicro Type = iota
	TypeMacro
)

func (t Type) String() string {
	if t == TypeMacro {
		return "macro"
	}
	return "micro"
}

// Header holds the fields common to every block, which is what gets hashed
// and referenced by ParentHash.
type Header struct {
	Type        Type
	Version     uint16
	BlockNumber uint32
	ViewNumber  uint32
	Timestamp   time.Time
	ParentHash  crypto.Hash
	Seed        crypto.VRFSeed
	ExtraData   []byte
	StateRoot   crypto.Hash
	BodyRoot    crypto.Hash
	HistoryRoot crypto.Hash

	// ParentElectionHash is only meaningful (and only checked) on macro
	// blocks: it must equal the election head hash at verification time
	// (spec.md §4.1 step 8).
	ParentElectionHash crypto.Hash
}

// headerWire is the canonical, JSON-serialisable encoding used for hashing.
// Keeping it separate from Header lets Header carry Go-native types
// (time.Time, crypto.Hash) while the hash input stays a stable byte layout.
type headerWire struct {
	Type               Type
	Version            uint16
	BlockNumber        uint32
	ViewNumber         uint32
	TimestampUnixNano  int64
	ParentHash         crypto.Hash
	SeedEntropy        crypto.Hash
	SeedSig            []byte
	ExtraData          []byte
	StateRoot          crypto.Hash
	BodyRoot           crypto.Hash
	HistoryRoot        crypto.Hash
	ParentElectionHash crypto.Hash
}

// Hash returns the canonical hash of the header, used as the block's
// identity and as the message signed by the slot owner / Tendermint
// committee.
func (h Header) Hash() crypto.Hash {
	w := headerWire{
		Type:               h.Type,
		Version:             h.Version,
		BlockNumber:        h.BlockNumber,
		ViewNumber:         h.ViewNumber,
		TimestampUnixNano:  h.Timestamp.UnixNano(),
		ParentHash:         h.ParentHash,
		SeedEntropy:        h.Seed.Entropy(),
		SeedSig:            h.Seed.Bytes(),
		ExtraData:          h.ExtraData,
		StateRoot:          h.StateRoot,
		BodyRoot:           h.BodyRoot,
		HistoryRoot:        h.HistoryRoot,
		ParentElectionHash: h.ParentElectionHash,
	}
	data, err := json.Marshal(w)
	if err != nil {
		panic(err) // headerWire only holds marshalable fields
	}
	return crypto.HashBytes(data)
}
