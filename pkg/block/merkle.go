package block

import (
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

// ComputeMerkleRoot calculates the merkle root of transaction hashes.
//
// Algorithm:
//   - 0 hashes: returns zero hash
//   - 1 hash: returns that hash
//   - Otherwise: pairwise hash, duplicating the last element if odd count,
//     then recurse on the resulting layer until one hash remains.
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	if len(txHashes) == 0 {
		return types.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	// Work on a copy so we don't mutate the caller's slice.
	level := make([]types.Hash, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		// If odd, duplicate the last element.
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.HashConcat(level[i], level[i+1])
		}
		level = next
	}

	return level[0]
}

// MerkleProofStep is one sibling hash in an inclusion proof. IsLeft
// indicates the sibling belongs on the left of the running hash when
// folding (i.e. hash_pair(sibling, cur) rather than hash_pair(cur, sibling)).
type MerkleProofStep struct {
	Sibling types.Hash
	IsLeft  bool
}

// BuildMerkleProof returns the inclusion proof for leaf index i of leaves,
// ordered from the bottom of the tree to the top. It mirrors the pairing
// and odd-duplication rule ComputeMerkleRoot uses so a proof built here
// always verifies against that root.
func BuildMerkleProof(leaves []types.Hash, i int) []MerkleProofStep {
	if len(leaves) == 0 || i < 0 || i >= len(leaves) {
		return nil
	}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)
	idx := i

	var proof []MerkleProofStep
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		if idx%2 == 0 {
			proof = append(proof, MerkleProofStep{Sibling: level[idx+1], IsLeft: false})
		} else {
			proof = append(proof, MerkleProofStep{Sibling: level[idx-1], IsLeft: true})
		}

		next := make([]types.Hash, len(level)/2)
		for j := 0; j < len(level); j += 2 {
			next[j/2] = crypto.HashConcat(level[j], level[j+1])
		}
		level = next
		idx /= 2
	}

	return proof
}

// VerifyMerkleProof folds leaf through proof and reports whether the
// result equals root.
func VerifyMerkleProof(leaf types.Hash, proof []MerkleProofStep, root types.Hash) bool {
	cur := leaf
	for _, step := range proof {
		if step.IsLeft {
			cur = crypto.HashConcat(step.Sibling, cur)
		} else {
			cur = crypto.HashConcat(cur, step.Sibling)
		}
	}
	return cur == root
}
