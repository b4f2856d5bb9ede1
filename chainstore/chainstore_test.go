package chainstore

import (
	"testing"
	"time"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

func microAt(blockNumber uint32, fee uint64) *block.MicroBlock {
	return &block.MicroBlock{
		Hdr:          block.Header{Type: block.TypeMicro, BlockNumber: blockNumber, Timestamp: time.Unix(int64(blockNumber), 0)},
		Transactions: []*block.Transaction{{Sender: "a", Nonce: uint64(blockNumber), Fee: fee}},
	}
}

func macroAt(blockNumber uint32) *block.MacroBlock {
	return &block.MacroBlock{Hdr: block.Header{Type: block.TypeMacro, BlockNumber: blockNumber}}
}

// electionAt builds a macro block that carries a validator set, the
// condition block.MacroBlock.IsElection() keys off: only election blocks
// terminate an epoch, a plain batch-ending macro block does not.
func electionAt(blockNumber uint32) *block.MacroBlock {
	return &block.MacroBlock{
		Hdr:        block.Header{Type: block.TypeMacro, BlockNumber: blockNumber},
		Validators: block.Slots{{PublicKey: crypto.PublicKey{1}, First: 0, Last: 4}},
	}
}

func TestNewChainInfoAccumulatesFeesWithinBatch(t *testing.T) {
	genesis := NewChainInfo(macroAt(0), nil, 4, nil, nil)
	b1 := NewChainInfo(microAt(1, 10), genesis, 4, nil, nil)
	b2 := NewChainInfo(microAt(2, 5), b1, 4, nil, nil)

	if b1.CumulativeFees != 10 {
		t.Errorf("b1 cumulative fees: got %d want 10", b1.CumulativeFees)
	}
	if b2.CumulativeFees != 15 {
		t.Errorf("b2 cumulative fees should accumulate across the batch: got %d want 15", b2.CumulativeFees)
	}
}

func TestNewChainInfoResetsFeesAtMacroBoundary(t *testing.T) {
	genesis := NewChainInfo(macroAt(0), nil, 4, nil, nil)
	b1 := NewChainInfo(microAt(1, 10), genesis, 4, nil, nil)
	macro := NewChainInfo(macroAt(2), b1, 4, nil, nil)
	b3 := NewChainInfo(microAt(3, 7), macro, 4, nil, nil)

	if b3.CumulativeFees != 7 {
		t.Errorf("fees should reset after a macro block: got %d want 7", b3.CumulativeFees)
	}
}

func TestNewChainInfoAccumulatesSlashedSet(t *testing.T) {
	genesis := NewChainInfo(macroAt(0), nil, 4, nil, nil)
	b1 := NewChainInfo(microAt(1, 0), genesis, 4, []int{0}, []int{1})
	b2 := NewChainInfo(microAt(2, 0), b1, 4, []int{2}, nil)

	if !b2.Slashed.CurrentForkProof.Contains(0) || !b2.Slashed.CurrentForkProof.Contains(2) {
		t.Error("fork-proof slashes should accumulate across the epoch")
	}
	if !b2.Slashed.CurrentViewChange.Contains(1) {
		t.Error("view-change slashes should persist from an earlier block in the epoch")
	}
}

// TestNewChainInfoSlashedSetSurvivesBatchBoundary exercises S5 (spec.md:234):
// a slash recorded in batch 1 must still be visible to the election block
// that finalizes the whole epoch, not just the batch that produced it. A
// non-election macro block (a batch boundary) must not clear it.
func TestNewChainInfoSlashedSetSurvivesBatchBoundary(t *testing.T) {
	genesis := NewChainInfo(macroAt(0), nil, 4, nil, nil)
	b1 := NewChainInfo(microAt(1, 0), genesis, 4, []int{0}, nil)
	batchMacro := NewChainInfo(macroAt(2), b1, 4, nil, nil)
	b3 := NewChainInfo(microAt(3, 0), batchMacro, 4, nil, nil)
	batchMacro2 := NewChainInfo(macroAt(4), b3, 4, nil, nil)

	if !batchMacro.Slashed.CurrentForkProof.Contains(0) {
		t.Error("a batch-ending (non-election) macro block must not clear the current-epoch slashed set")
	}
	if !b3.Slashed.CurrentForkProof.Contains(0) {
		t.Error("slash from batch 1 should still be present in batch 2, same epoch")
	}
	if !batchMacro2.Slashed.CurrentForkProof.Contains(0) {
		t.Error("slash from batch 1 should survive a second batch boundary, same epoch")
	}
}

func TestNewChainInfoResetsSlashedSetAtElectionBoundary(t *testing.T) {
	genesis := NewChainInfo(macroAt(0), nil, 4, nil, nil)
	b1 := NewChainInfo(microAt(1, 0), genesis, 4, []int{0}, nil)
	batchMacro := NewChainInfo(macroAt(2), b1, 4, nil, nil)
	b3 := NewChainInfo(microAt(3, 0), batchMacro, 4, nil, nil)
	election := NewChainInfo(electionAt(4), b3, 4, nil, nil)
	b5 := NewChainInfo(microAt(5, 0), election, 4, nil, nil)

	if b5.Slashed.CurrentForkProof.Contains(0) {
		t.Error("current-epoch slashed set should reset only after an election boundary")
	}
	if !b5.Slashed.PreviousFinal.Contains(0) {
		t.Error("the closing epoch's slashed set should be preserved as PreviousFinal")
	}
}

func TestChainInfoJSONRoundtripPreservesBlockType(t *testing.T) {
	ci := NewChainInfo(microAt(1, 3), nil, 4, nil, nil)
	data, err := ci.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got ChainInfo
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	mb, ok := got.Block.(*block.MicroBlock)
	if !ok {
		t.Fatalf("expected *block.MicroBlock after roundtrip, got %T", got.Block)
	}
	if mb.Hdr.BlockNumber != 1 {
		t.Errorf("roundtripped block number: got %d want 1", mb.Hdr.BlockNumber)
	}
}

func TestReplayCachePushContainsEvict(t *testing.T) {
	c := NewReplayCache(2)
	h1 := crypto.HashBytes([]byte("tx1"))
	h2 := crypto.HashBytes([]byte("tx2"))
	h3 := crypto.HashBytes([]byte("tx3"))

	c.PushBlock(1, []crypto.Hash{h1})
	c.PushBlock(2, []crypto.Hash{h2})
	if !c.Contains(h1) || !c.Contains(h2) {
		t.Fatal("both blocks should be within the window of 2")
	}

	c.PushBlock(3, []crypto.Hash{h3})
	if c.Contains(h1) {
		t.Error("block 1 should have been evicted once the window exceeded its size")
	}
	if !c.Contains(h2) || !c.Contains(h3) {
		t.Error("blocks 2 and 3 should remain in the window")
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len: got %d want 2", got)
	}
}

func TestReplayCacheRevertAndPrepend(t *testing.T) {
	c := NewReplayCache(10)
	h1 := crypto.HashBytes([]byte("tx1"))
	h2 := crypto.HashBytes([]byte("tx2"))
	c.PushBlock(1, []crypto.Hash{h1})
	c.PushBlock(2, []crypto.Hash{h2})

	c.RevertBlock(2)
	if c.Contains(h2) {
		t.Error("reverted block's transaction should no longer be tracked")
	}
	if !c.Contains(h1) {
		t.Error("reverting block 2 should not disturb block 1")
	}

	c.PrependBlock(0, []crypto.Hash{crypto.HashBytes([]byte("tx0"))})
	if got := c.Len(); got != 2 {
		t.Errorf("after prepend: Len got %d want 2", got)
	}
}

func TestReplayCacheSharedHashAcrossBlocksSurvivesPartialEviction(t *testing.T) {
	c := NewReplayCache(1)
	h := crypto.HashBytes([]byte("dup"))
	c.PushBlock(1, []crypto.Hash{h})
	c.PushBlock(2, []crypto.Hash{h})
	if !c.Contains(h) {
		t.Fatal("hash shared by the evicted and surviving block should still be tracked")
	}
}

func TestLevelStoreRoundtrip(t *testing.T) {
	store, err := NewLevelStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLevelStore: %v", err)
	}
	defer store.Close()

	ci := NewChainInfo(microAt(1, 0), nil, 4, nil, nil)
	hash := crypto.HashBytes([]byte("block1"))

	if _, err := store.Get(hash); err != ErrNotFound {
		t.Fatalf("Get on empty store: got err %v want ErrNotFound", err)
	}

	if err := store.Put(hash, ci); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Block.Header().BlockNumber != 1 {
		t.Errorf("roundtripped block number: got %d want 1", got.Block.Header().BlockNumber)
	}

	if err := store.PutByHeight(1, hash); err != nil {
		t.Fatalf("PutByHeight: %v", err)
	}
	gotHash, err := store.GetByHeight(1)
	if err != nil || gotHash != hash {
		t.Errorf("GetByHeight: got (%s,%v) want (%s,nil)", gotHash, err, hash)
	}

	if err := store.DeleteByHeight(1); err != nil {
		t.Fatalf("DeleteByHeight: %v", err)
	}
	if _, err := store.GetByHeight(1); err != ErrNotFound {
		t.Errorf("GetByHeight after delete: got err %v want ErrNotFound", err)
	}

	if _, ok, err := store.GetHead(); err != nil || ok {
		t.Fatalf("GetHead on empty store: got (ok=%v, err=%v) want (false, nil)", ok, err)
	}
	if err := store.SetHead(hash); err != nil {
		t.Fatalf("SetHead: %v", err)
	}
	headHash, ok, err := store.GetHead()
	if err != nil || !ok || headHash != hash {
		t.Errorf("GetHead: got (%s,%v,%v) want (%s,true,nil)", headHash, ok, err, hash)
	}

	if err := store.PutMacroIndex(4, hash); err != nil {
		t.Fatalf("PutMacroIndex: %v", err)
	}
	if err := store.PutElectionIndex(8, hash); err != nil {
		t.Fatalf("PutElectionIndex: %v", err)
	}
	macroHeights, err := store.MacroHeights()
	if err != nil || len(macroHeights) != 1 || macroHeights[0] != 4 {
		t.Errorf("MacroHeights: got %v, err %v", macroHeights, err)
	}
	electionHeights, err := store.ElectionHeights()
	if err != nil || len(electionHeights) != 1 || electionHeights[0] != 8 {
		t.Errorf("ElectionHeights: got %v, err %v", electionHeights, err)
	}

	if err := store.Delete(hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(hash); err != ErrNotFound {
		t.Errorf("Get after delete: got err %v want ErrNotFound", err)
	}
}
