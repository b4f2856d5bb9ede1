package chainstore

import (
	"sync"

	"github.com/albatross-core/chaincore/crypto"
)

// ReplayCache is the bounded, ordered transaction-hash window spec.md §4.1
// calls the "transaction replay cache": it remembers every transaction hash
// included in the last W main-chain blocks so push() can reject a replayed
// transaction in O(1), without scanning history. Grounded on the teacher's
// Mempool (core/mempool.go), which is the same shape — a map for O(1)
// membership plus an ordered slice for deterministic eviction — generalised
// from "pending txs awaiting inclusion" to "recently included txs awaiting
// eviction".
type ReplayCache struct {
	mu     sync.RWMutex
	window uint32 // W, in blocks

	// blocks is the ordered window of block numbers currently tracked,
	// oldest first, mirroring the main chain's current tip.
	blocks []uint32
	// txsByBlock holds each tracked block's transaction hashes, so a
	// revert can remove exactly what a push added.
	txsByBlock map[uint32][]crypto.Hash
	// present is the reverse index used for O(1) Contains checks.
	present map[crypto.Hash]int // hash -> refcount across blocks
}

// NewReplayCache creates an empty cache tracking a window of `window` blocks.
func NewReplayCache(window uint32) *ReplayCache {
	return &ReplayCache{
		window:     window,
		txsByBlock: make(map[uint32][]crypto.Hash),
		present:    make(map[crypto.Hash]int),
	}
}

// Contains reports whether hash was seen in any block currently tracked by
// the window, the check push() uses to reject a replayed transaction.
func (c *ReplayCache) Contains(hash crypto.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.present[hash] > 0
}

// PushBlock records blockNumber's transaction hashes as the new chain tip,
// evicting any block that has fallen outside the window (spec.md §4.4 step
// 8, extending the main chain).
func (c *ReplayCache) PushBlock(blockNumber uint32, txHashes []crypto.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(blockNumber, txHashes)
	c.evictLocked()
}

// RevertBlock undoes a previous PushBlock for blockNumber, used when
// rebranching discards a block from the main chain (spec.md §4.5 step 2).
// It does not re-evict: callers revert in the reverse order they pushed, so
// the window naturally shrinks from its tip, and PrependBlock restores any
// older block the revert uncovers.
func (c *ReplayCache) RevertBlock(blockNumber uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(blockNumber)
}

// PrependBlock restores a block older than the current window's start, used
// when a rebranch reverts enough of the tip that a block previously evicted
// must re-enter the window (spec.md §4.5 step 2, "revert then replay").
func (c *ReplayCache) PrependBlock(blockNumber uint32, txHashes []crypto.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append([]uint32{blockNumber}, c.blocks...)
	c.txsByBlock[blockNumber] = txHashes
	for _, h := range txHashes {
		c.present[h]++
	}
	c.evictLocked()
}

func (c *ReplayCache) addLocked(blockNumber uint32, txHashes []crypto.Hash) {
	c.blocks = append(c.blocks, blockNumber)
	c.txsByBlock[blockNumber] = txHashes
	for _, h := range txHashes {
		c.present[h]++
	}
}

func (c *ReplayCache) removeLocked(blockNumber uint32) {
	hashes, ok := c.txsByBlock[blockNumber]
	if !ok {
		return
	}
	delete(c.txsByBlock, blockNumber)
	for i, b := range c.blocks {
		if b == blockNumber {
			c.blocks = append(c.blocks[:i], c.blocks[i+1:]...)
			break
		}
	}
	for _, h := range hashes {
		c.present[h]--
		if c.present[h] <= 0 {
			delete(c.present, h)
		}
	}
}

func (c *ReplayCache) evictLocked() {
	for uint32(len(c.blocks)) > c.window {
		oldest := c.blocks[0]
		c.blocks = c.blocks[1:]
		hashes := c.txsByBlock[oldest]
		delete(c.txsByBlock, oldest)
		for _, h := range hashes {
			c.present[h]--
			if c.present[h] <= 0 {
				delete(c.present, h)
			}
		}
	}
}

// Len returns the number of blocks currently tracked by the window.
func (c *ReplayCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}
