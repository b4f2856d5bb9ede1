package crypto

// MerkleRoot computes a simple binary Merkle root over leaves, used for the
// body root, transaction root and the caller-provided transaction list root
// checked by push_isolated_macro_block (spec.md §6). An empty leaf set
// hashes to the hash of an explicit sentinel so the root is never the zero
// hash by coincidence.
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return HashBytes([]byte("empty-merkle-root"))
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, HashBytes(level[i][:], level[i+1][:]))
			} else {
				next = append(next, HashBytes(level[i][:], level[i][:]))
			}
		}
		level = next
	}
	return level[0]
}
