package block

import (
	"testing"

	"github.com/ranjeet-h/roho-rh-blockchain/pkg/crypto"
	"github.com/ranjeet-h/roho-rh-blockchain/pkg/types"
)

func TestComputeMerkleRootEmpty(t *testing.T) {
	root := ComputeMerkleRoot(nil)
	if !root.IsZero() {
		t.Errorf("empty input should return zero hash, got %s", root)
	}

	root2 := ComputeMerkleRoot([]types.Hash{})
	if !root2.IsZero() {
		t.Errorf("empty slice should return zero hash, got %s", root2)
	}
}

func TestComputeMerkleRootSingleHash(t *testing.T) {
	h := crypto.Hash([]byte("single tx"))
	root := ComputeMerkleRoot([]types.Hash{h})
	if root != h {
		t.Errorf("single hash should return itself: got %s, want %s", root, h)
	}
}

func TestComputeMerkleRootTwoHashes(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))

	root := ComputeMerkleRoot([]types.Hash{h1, h2})
	want := crypto.HashConcat(h1, h2)

	if root != want {
		t.Errorf("two hashes: got %s, want %s", root, want)
	}
}

func TestComputeMerkleRootThreeHashes(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))
	h3 := crypto.Hash([]byte("tx3"))

	root := ComputeMerkleRoot([]types.Hash{h1, h2, h3})

	left := crypto.HashConcat(h1, h2)
	right := crypto.HashConcat(h3, h3)
	want := crypto.HashConcat(left, right)

	if root != want {
		t.Errorf("three hashes: got %s, want %s", root, want)
	}
}

func TestComputeMerkleRootFourHashes(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))
	h3 := crypto.Hash([]byte("tx3"))
	h4 := crypto.Hash([]byte("tx4"))

	root := ComputeMerkleRoot([]types.Hash{h1, h2, h3, h4})

	left := crypto.HashConcat(h1, h2)
	right := crypto.HashConcat(h3, h4)
	want := crypto.HashConcat(left, right)

	if root != want {
		t.Errorf("four hashes: got %s, want %s", root, want)
	}
}

func TestComputeMerkleRootDeterministic(t *testing.T) {
	hashes := make([]types.Hash, 5)
	for i := range hashes {
		hashes[i] = crypto.Hash([]byte{byte(i)})
	}

	r1 := ComputeMerkleRoot(hashes)
	r2 := ComputeMerkleRoot(hashes)
	if r1 != r2 {
		t.Error("merkle root is not deterministic")
	}
}

func TestComputeMerkleRootOrderMatters(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))

	r1 := ComputeMerkleRoot([]types.Hash{h1, h2})
	r2 := ComputeMerkleRoot([]types.Hash{h2, h1})

	if r1 == r2 {
		t.Error("different ordering should produce different merkle root")
	}
}

func TestComputeMerkleRootDoesNotMutateInput(t *testing.T) {
	h1 := crypto.Hash([]byte("tx1"))
	h2 := crypto.Hash([]byte("tx2"))
	h3 := crypto.Hash([]byte("tx3"))

	original := []types.Hash{h1, h2, h3}
	input := make([]types.Hash, len(original))
	copy(input, original)

	ComputeMerkleRoot(input)

	for i := range input {
		if input[i] != original[i] {
			t.Errorf("input[%d] was mutated: got %s, want %s", i, input[i], original[i])
		}
	}
}

func TestComputeMerkleRootLargerTree(t *testing.T) {
	// 7 hashes exercises multi-level odd padding.
	hashes := make([]types.Hash, 7)
	for i := range hashes {
		hashes[i] = crypto.Hash([]byte{byte(i)})
	}

	root := ComputeMerkleRoot(hashes)
	if root.IsZero() {
		t.Error("merkle root of 7 hashes should not be zero")
	}

	root2 := ComputeMerkleRoot(hashes)
	if root != root2 {
		t.Error("merkle root of 7 hashes is not deterministic")
	}
}

func TestMerkleProofRoundTrip(t *testing.T) {
	leaves := make([]types.Hash, 7)
	for i := range leaves {
		leaves[i] = crypto.Hash([]byte{byte(i)})
	}
	root := ComputeMerkleRoot(leaves)

	for i := range leaves {
		proof := BuildMerkleProof(leaves, i)
		if !VerifyMerkleProof(leaves[i], proof, root) {
			t.Errorf("proof for leaf %d failed to verify against root", i)
		}
	}
}

func TestMerkleProofSingleLeaf(t *testing.T) {
	leaves := []types.Hash{crypto.Hash([]byte("only"))}
	root := ComputeMerkleRoot(leaves)

	proof := BuildMerkleProof(leaves, 0)
	if len(proof) != 0 {
		t.Errorf("single-leaf tree should produce an empty proof, got %d steps", len(proof))
	}
	if !VerifyMerkleProof(leaves[0], proof, root) {
		t.Error("single-leaf proof should verify")
	}
}

func TestMerkleProofWrongLeafFailsVerification(t *testing.T) {
	leaves := make([]types.Hash, 4)
	for i := range leaves {
		leaves[i] = crypto.Hash([]byte{byte(i)})
	}
	root := ComputeMerkleRoot(leaves)
	proof := BuildMerkleProof(leaves, 1)

	if VerifyMerkleProof(leaves[2], proof, root) {
		t.Error("proof built for leaf 1 should not verify leaf 2")
	}
}

func TestMerkleProofOutOfRange(t *testing.T) {
	leaves := []types.Hash{crypto.Hash([]byte("a")), crypto.Hash([]byte("b"))}

	if proof := BuildMerkleProof(leaves, -1); proof != nil {
		t.Error("negative index should return nil proof")
	}
	if proof := BuildMerkleProof(leaves, 2); proof != nil {
		t.Error("out-of-range index should return nil proof")
	}
	if proof := BuildMerkleProof(nil, 0); proof != nil {
		t.Error("empty leaves should return nil proof")
	}
}
