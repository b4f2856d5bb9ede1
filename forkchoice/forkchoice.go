// Package forkchoice implements order_chains (spec.md §4.2): classifying
// an incoming block against the current main-chain head as Extend, Better,
// Inferior, or Unknown. Grounded on consensus/poa.go's simpler "does this
// extend my current head" check, generalised to walk back to the fork
// point and apply the view-number tie-break spec.md §4.2 describes.
package forkchoice

import (
	"fmt"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

// Verdict is the result of comparing an incoming branch against the
// current main chain.
type Verdict uint8

const (
	Extend Verdict = iota
	Better
	Inferior
	Unknown
)

func (v Verdict) String() string {
	switch v {
	case Extend:
		return "Extend"
	case Better:
		return "Better"
	case Inferior:
		return "Inferior"
	default:
		return "Unknown"
	}
}

// ChainWalker resolves ancestry for the branch under evaluation: given a
// hash, return its header and whether it lies on the current main chain.
type ChainWalker interface {
	// HeaderByHash returns the header stored for hash.
	HeaderByHash(hash crypto.Hash) (block.Header, bool)
	// IsMainChain reports whether hash is currently on the main chain.
	IsMainChain(hash crypto.Hash) bool
	// MainChainHeaderAt returns the main-chain header at the given height.
	MainChainHeaderAt(height uint32) (block.Header, bool)
}

// OrderChains classifies incoming block b (identified by its header and
// hash) against the chain's current head (spec.md §4.2).
func OrderChains(w ChainWalker, headHash crypto.Hash, headHeader block.Header, b block.Header, bHash crypto.Hash) (Verdict, error) {
	if b.ParentHash == headHash {
		return Extend, nil
	}

	// Walk b's branch backwards until reaching a block on the main chain
	// (the fork point), collecting the branch's view numbers by height.
	branchViews := make(map[uint32]uint32)
	branchViews[b.BlockNumber] = b.ViewNumber
	cursor := b
	for !w.IsMainChain(cursor.ParentHash) {
		parent, ok := w.HeaderByHash(cursor.ParentHash)
		if !ok {
			return Unknown, fmt.Errorf("forkchoice: unknown ancestor %s while walking branch", cursor.ParentHash)
		}
		if parent.Type == block.TypeMacro {
			panic("forkchoice: encountered macro block while walking a fork branch; macro blocks are final")
		}
		branchViews[parent.BlockNumber] = parent.ViewNumber
		cursor = parent
	}
	forkPoint := cursor.ParentHash
	forkHeader, ok := w.HeaderByHash(forkPoint)
	if !ok {
		return Unknown, fmt.Errorf("forkchoice: fork point %s not found", forkPoint)
	}
	forkHeight := forkHeader.BlockNumber

	limit := headHeader.BlockNumber
	if b.BlockNumber < limit {
		limit = b.BlockNumber
	}

	for h := forkHeight + 1; h <= limit; h++ {
		mainHeader, ok := w.MainChainHeaderAt(h)
		if !ok {
			return Unknown, fmt.Errorf("forkchoice: main chain header at height %d not found", h)
		}
		branchView, ok := branchViews[h]
		if !ok {
			return Unknown, fmt.Errorf("forkchoice: branch view number at height %d not found", h)
		}
		if branchView != mainHeader.ViewNumber {
			if branchView < mainHeader.ViewNumber {
				return Better, nil
			}
			return Inferior, nil
		}
	}

	// All overlapping heights tie on view number: longer chain wins.
	if b.BlockNumber > headHeader.BlockNumber {
		return Better, nil
	}
	if b.BlockNumber < headHeader.BlockNumber {
		return Inferior, nil
	}
	return Unknown, nil
}
