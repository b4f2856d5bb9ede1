package block

import (
	"testing"
	"time"

	"github.com/albatross-core/chaincore/crypto"
)

func TestHeaderHashDeterministicAndSensitive(t *testing.T) {
	h := Header{Type: TypeMicro, BlockNumber: 1, Timestamp: time.Unix(1000, 0)}
	if h.Hash() != h.Hash() {
		t.Fatal("header hash is not deterministic")
	}
	h2 := h
	h2.BlockNumber = 2
	if h.Hash() == h2.Hash() {
		t.Error("changing block_number should change the header hash")
	}
}

func TestSlotsBandAtAndIndexOf(t *testing.T) {
	pub1 := crypto.PublicKey("pub1")
	pub2 := crypto.PublicKey("pub2")
	slots := Slots{
		{PublicKey: pub1, First: 0, Last: 2},
		{PublicKey: pub2, First: 2, Last: 5},
	}
	if got := slots.SlotCount(); got != 5 {
		t.Fatalf("SlotCount: got %d want 5", got)
	}
	band, ok := slots.BandAt(3)
	if !ok || band.PublicKey.Hex() != pub2.Hex() {
		t.Errorf("BandAt(3) should resolve to the second band")
	}
	if _, ok := slots.BandAt(5); ok {
		t.Error("BandAt(5) should be out of range (Last is exclusive)")
	}
	idx, ok := slots.BandIndexOf(0)
	if !ok || idx != 0 {
		t.Errorf("BandIndexOf(0): got (%d,%v) want (0,true)", idx, ok)
	}
}

func TestTransactionSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tx := &Transaction{Sender: pub.Hex(), Nonce: 0, Fee: 1, Timestamp: time.Unix(100, 0)}
	tx.Sign(priv)
	if err := tx.Verify(); err != nil {
		t.Errorf("Verify failed on a freshly signed transaction: %v", err)
	}
	tx.Fee = 999
	if err := tx.Verify(); err == nil {
		t.Error("tampering with a signed field should fail verification")
	}
}

func TestSortCanonicalIsStableBySenderThenNonce(t *testing.T) {
	mk := func(sender string, nonce uint64) *Transaction {
		return &Transaction{Sender: sender, Nonce: nonce, Timestamp: time.Unix(int64(nonce), 0)}
	}
	txs := []*Transaction{mk("b", 0), mk("a", 1), mk("a", 0)}
	SortCanonical(txs)
	if txs[0].Sender != "a" || txs[0].Nonce != 0 {
		t.Errorf("expected (a,0) first, got (%s,%d)", txs[0].Sender, txs[0].Nonce)
	}
	if txs[1].Sender != "a" || txs[1].Nonce != 1 {
		t.Errorf("expected (a,1) second, got (%s,%d)", txs[1].Sender, txs[1].Nonce)
	}
	if txs[2].Sender != "b" {
		t.Errorf("expected (b,0) last, got (%s,%d)", txs[2].Sender, txs[2].Nonce)
	}
}

func TestForkProofVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	h1 := Header{BlockNumber: 5, ViewNumber: 1, ExtraData: []byte("a")}
	h2 := Header{BlockNumber: 5, ViewNumber: 1, ExtraData: []byte("b")}
	hh1, hh2 := h1.Hash(), h2.Hash()
	fp := ForkProof{
		Header1: h1, Header2: h2,
		Sig1: crypto.Sign(priv, hh1[:]),
		Sig2: crypto.Sign(priv, hh2[:]),
	}
	if err := fp.Verify(pub); err != nil {
		t.Errorf("valid fork proof failed to verify: %v", err)
	}

	identical := ForkProof{Header1: h1, Header2: h1, Sig1: fp.Sig1, Sig2: fp.Sig1}
	if err := identical.Verify(pub); err == nil {
		t.Error("identical headers should not be accepted as a fork proof")
	}
}

func TestMicroBlockBodyHashCoversTransactions(t *testing.T) {
	mb := &MicroBlock{Transactions: []*Transaction{{Sender: "a", Nonce: 0, Timestamp: time.Unix(1, 0)}}}
	h1 := mb.BodyHash()
	mb.Transactions = append(mb.Transactions, &Transaction{Sender: "b", Nonce: 0, Timestamp: time.Unix(2, 0)})
	if mb.BodyHash() == h1 {
		t.Error("adding a transaction should change the body hash")
	}
}

func TestMacroBlockIsElection(t *testing.T) {
	mb := &MacroBlock{}
	if mb.IsElection() {
		t.Error("macro block with no validators should not be an election block")
	}
	mb.Validators = Slots{{PublicKey: crypto.PublicKey("pub"), First: 0, Last: 1}}
	if !mb.IsElection() {
		t.Error("macro block with validators should be an election block")
	}
}
