package chain

import (
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/chainstore"
	"github.com/albatross-core/chaincore/crypto"
)

// storeWalker adapts chainstore.Store to forkchoice.ChainWalker.
type storeWalker struct {
	store chainstore.Store
}

func (w storeWalker) HeaderByHash(hash crypto.Hash) (block.Header, bool) {
	ci, err := w.store.Get(hash)
	if err != nil {
		return block.Header{}, false
	}
	return *ci.Block.Header(), true
}

func (w storeWalker) IsMainChain(hash crypto.Hash) bool {
	ci, err := w.store.Get(hash)
	if err != nil {
		return false
	}
	return ci.OnMainChain
}

func (w storeWalker) MainChainHeaderAt(height uint32) (block.Header, bool) {
	hash, err := w.store.GetByHeight(height)
	if err != nil {
		return block.Header{}, false
	}
	return w.HeaderByHash(hash)
}
