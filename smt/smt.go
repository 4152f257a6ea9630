// Package smt implements the 256-bit-key/256-bit-value sparse Merkle
// tree used to commit rollup state: accounts, the block-number->hash
// index, and the reverted-block set all share this structure. It
// generalizes a variable-depth hex Merkle Patricia trie (trie.go,
// proof.go) from radix-16 branching to a fixed 256-level binary tree,
// keeping the same get/compute-root/generate-proof/verify-proof shape.
package smt

import (
	"sort"

	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// Depth is the number of bit-levels in the tree (one per key bit).
const Depth = 256

// KV is a single (key, value) pair committed to the tree. A zero value
// denotes an absent key.
type KV struct {
	Key   gwtypes.Hash
	Value gwtypes.Hash
}

var zeroHash [Depth + 1]gwtypes.Hash

func init() {
	// zeroHash[Depth] is the empty-leaf value; each level above folds
	// the level below with itself, exactly as an empty trie subtree
	// hashes to a fixed constant at every depth.
	for d := Depth - 1; d >= 0; d-- {
		zeroHash[d] = hashPair(zeroHash[d+1], zeroHash[d+1])
	}
}

func hashPair(l, r gwtypes.Hash) gwtypes.Hash {
	buf := make([]byte, 64)
	copy(buf[:32], l[:])
	copy(buf[32:], r[:])
	return codec.Blake2b256Hash(buf)
}

func bit(key gwtypes.Hash, depth int) int {
	byteIdx := depth / 8
	bitIdx := 7 - depth%8
	return int((key[byteIdx] >> uint(bitIdx)) & 1)
}

func sortKVs(kvs []KV) []KV {
	out := append([]KV(nil), kvs...)
	sort.Slice(out, func(i, j int) bool {
		for b := 0; b < 32; b++ {
			if out[i].Key[b] != out[j].Key[b] {
				return out[i].Key[b] < out[j].Key[b]
			}
		}
		return false
	})
	return out
}

func split(kvs []KV, depth int) (left, right []KV) {
	for _, kv := range kvs {
		if bit(kv.Key, depth) == 0 {
			left = append(left, kv)
		} else {
			right = append(right, kv)
		}
	}
	return
}

func buildRoot(kvs []KV, depth int) gwtypes.Hash {
	if depth == Depth {
		if len(kvs) == 0 {
			return zeroHash[Depth]
		}
		return kvs[0].Value
	}
	if len(kvs) == 0 {
		return zeroHash[depth]
	}
	left, right := split(kvs, depth)
	return hashPair(buildRoot(left, depth+1), buildRoot(right, depth+1))
}

// ComputeRoot computes the tree root committing exactly the given
// (key,value) pairs (absent keys implicitly map to the zero value).
func ComputeRoot(kvs []KV) gwtypes.Hash {
	return buildRoot(sortKVs(kvs), 0)
}

// Sibling is one recorded sibling hash at a given depth, produced while
// walking past a branch irrelevant to the keys being proven.
type Sibling struct {
	Depth int
	Hash  gwtypes.Hash
}

// Proof is a multi-key Merkle proof: siblings are recorded only for
// subtrees that do not contain any of the proven keys. Every such
// subtree gets a sibling entry, including all-zero subtrees (whose entry
// is the precomputed zeroHash constant); zero siblings are not omitted,
// so the proof is not compressed.
type Proof struct {
	Siblings []Sibling
}

func containsKey(kvs []KV, keys map[gwtypes.Hash]bool) bool {
	for _, kv := range kvs {
		if keys[kv.Key] {
			return true
		}
	}
	return false
}

// GenerateProof builds a compressed proof for provingKeys against the
// full committed set allPairs.
func GenerateProof(allPairs []KV, provingKeys []gwtypes.Hash) *Proof {
	keySet := make(map[gwtypes.Hash]bool, len(provingKeys))
	for _, k := range provingKeys {
		keySet[k] = true
	}
	proof := &Proof{}
	sorted := sortKVs(allPairs)

	var rec func(kvs []KV, depth int) gwtypes.Hash
	rec = func(kvs []KV, depth int) gwtypes.Hash {
		if depth == Depth {
			if len(kvs) == 0 {
				return zeroHash[Depth]
			}
			return kvs[0].Value
		}
		if len(kvs) == 0 {
			return zeroHash[depth]
		}
		left, right := split(kvs, depth)
		var leftHash, rightHash gwtypes.Hash
		if containsKey(left, keySet) {
			leftHash = rec(left, depth+1)
		} else {
			leftHash = buildRoot(left, depth+1)
			proof.Siblings = append(proof.Siblings, Sibling{Depth: depth + 1, Hash: leftHash})
		}
		if containsKey(right, keySet) {
			rightHash = rec(right, depth+1)
		} else {
			rightHash = buildRoot(right, depth+1)
			proof.Siblings = append(proof.Siblings, Sibling{Depth: depth + 1, Hash: rightHash})
		}
		return hashPair(leftHash, rightHash)
	}
	rec(sorted, 0)
	return proof
}

// VerifyProof reports whether provingPairs plus proof's recorded
// siblings reconstruct root. The traversal order mirrors GenerateProof
// exactly: pre-order, left before right, consuming one sibling entry
// whenever a branch holds none of the proven keys.
func VerifyProof(root gwtypes.Hash, proof *Proof, provingPairs []KV) bool {
	sorted := sortKVs(provingPairs)
	idx := 0

	var rec func(kvs []KV, depth int) gwtypes.Hash
	rec = func(kvs []KV, depth int) gwtypes.Hash {
		if depth == Depth {
			if len(kvs) == 0 {
				return zeroHash[Depth]
			}
			return kvs[0].Value
		}
		left, right := split(kvs, depth)
		var leftHash, rightHash gwtypes.Hash
		if len(left) > 0 {
			leftHash = rec(left, depth+1)
		} else {
			if idx >= len(proof.Siblings) {
				return gwtypes.Hash{}
			}
			leftHash = proof.Siblings[idx].Hash
			idx++
		}
		if len(right) > 0 {
			rightHash = rec(right, depth+1)
		} else {
			if idx >= len(proof.Siblings) {
				return gwtypes.Hash{}
			}
			rightHash = proof.Siblings[idx].Hash
			idx++
		}
		return hashPair(leftHash, rightHash)
	}
	computed := rec(sorted, 0)
	return computed == root && idx == len(proof.Siblings)
}

// Checkpoint computes H(root || account_count), the succinct sub-state
// commitment used at every block sub-state boundary.
func Checkpoint(root gwtypes.Hash, accountCount uint64) gwtypes.StateCheckpoint {
	return codec.Checkpoint(root, accountCount)
}

// EncodeProof serializes a Proof into the flat byte layout carried as a
// block's kv_state_proof witness field: a u32 sibling count followed by
// (u32 depth, 32-byte hash) per sibling, in traversal order.
func EncodeProof(proof *Proof) []byte {
	w := codec.NewWriter(4 + len(proof.Siblings)*36)
	w.WriteU32(uint32(len(proof.Siblings)))
	for _, s := range proof.Siblings {
		w.WriteU32(uint32(s.Depth))
		w.WriteHash(s.Hash)
	}
	return w.Bytes()
}

// DecodeProof parses a Proof previously produced by EncodeProof.
func DecodeProof(b []byte) (*Proof, error) {
	r := codec.NewReader(b)
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	siblings := make([]Sibling, n)
	for i := range siblings {
		depth, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		hash, err := r.ReadHash()
		if err != nil {
			return nil, err
		}
		siblings[i] = Sibling{Depth: int(depth), Hash: hash}
	}
	return &Proof{Siblings: siblings}, nil
}
