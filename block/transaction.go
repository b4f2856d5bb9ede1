package block

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/albatross-core/chaincore/crypto"
)

// Transaction is the atomic unit of user-submitted work. The accounts tree
// (spec.md §1, §4.9) is the external collaborator that knows how to apply
// one; the chain core only needs to hash, order and fee-account for it.
type Transaction struct {
	Sender    string // hex-encoded ed25519 public key
	Nonce     uint64
	Fee       uint64
	Timestamp time.Time
	Data      json.RawMessage
	Signature string
}

// signingBody holds the fields covered by the signature.
type signingBody struct {
	Sender    string
	Nonce     uint64
	Fee       uint64
	Timestamp int64
	Data      json.RawMessage
}

// Hash returns the transaction's canonical, deterministic identifier.
func (tx *Transaction) Hash() crypto.Hash {
	body := signingBody{
		Sender:    tx.Sender,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp.UnixNano(),
		Data:      tx.Data,
	}
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return crypto.HashBytes(data)
}

// Sign signs the transaction and sets Signature.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	h := tx.Hash()
	tx.Signature = crypto.Sign(priv, h[:])
}

// Verify checks the sender's signature over the transaction hash.
func (tx *Transaction) Verify() error {
	pub, err := crypto.PubKeyFromHex(tx.Sender)
	if err != nil {
		return fmt.Errorf("transaction: invalid sender: %w", err)
	}
	h := tx.Hash()
	return crypto.Verify(pub, h[:], tx.Signature)
}

// SortCanonical orders txs by the total order (sender, nonce, hash) required
// by spec.md §3 so that two honest nodes building the same block body
// always produce byte-identical TxRoot/BodyRoot.
func SortCanonical(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if a.Sender != b.Sender {
			return a.Sender < b.Sender
		}
		if a.Nonce != b.Nonce {
			return a.Nonce < b.Nonce
		}
		ha, hb := a.Hash(), b.Hash()
		return ha.String() < hb.String()
	})
}

// TxRoot computes the Merkle root over a canonically-ordered transaction
// list's hashes.
func TxRoot(txs []*Transaction) crypto.Hash {
	leaves := make([]crypto.Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return crypto.MerkleRoot(leaves)
}
