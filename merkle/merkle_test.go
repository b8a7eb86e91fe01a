package merkle

import (
	"testing"

	"github.com/ava-labs/avalanchego/ids"
)

func testVectors(n int) [][]int64 {
	vecs := make([][]int64, n)
	for i := range vecs {
		vecs[i] = []int64{int64(i), int64(-i), int64(i * 7), 42}
	}
	return vecs
}

func TestLeafHashDeterministic(t *testing.T) {
	v := []int64{1, -2, 3}
	if LeafHash(v) != LeafHash([]int64{1, -2, 3}) {
		t.Fatal("leaf hash not deterministic")
	}
	if LeafHash(v) == LeafHash([]int64{1, -2, 4}) {
		t.Fatal("distinct vectors collided")
	}
	if LeafHash([]int64{1, 2}) == LeafHash([]int64{1, 2, 0}) {
		t.Fatal("length not bound into preimage")
	}
}

func TestNodeHashOrderIndependent(t *testing.T) {
	a := LeafHash([]int64{1})
	b := LeafHash([]int64{2})
	if NodeHash(a, b) != NodeHash(b, a) {
		t.Fatal("node hash depends on argument order")
	}
}

func TestVerifyInclusion(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 33} {
		vecs := testVectors(n)
		tree := NewTree(vecs)
		root := tree.Root()
		for i, v := range vecs {
			proof := tree.Proof(i)
			if !VerifyInclusion(v, proof, root) {
				t.Fatalf("n=%d: valid proof rejected for leaf %d", n, i)
			}
			if VerifyInclusion([]int64{99, 99, 99, 99}, proof, root) {
				t.Fatalf("n=%d: proof accepted for wrong vector at leaf %d", n, i)
			}
		}
	}
}

func TestVerifyInclusionSingleLeaf(t *testing.T) {
	v := []int64{7, 8, 9}
	tree := NewTree([][]int64{v})
	if tree.Root() != LeafHash(v) {
		t.Fatal("single-leaf root is not the leaf hash")
	}
	if !VerifyInclusion(v, nil, tree.Root()) {
		t.Fatal("empty proof rejected for single-leaf tree")
	}
	if VerifyInclusion([]int64{7, 8}, nil, tree.Root()) {
		t.Fatal("empty proof accepted for mismatched leaf")
	}
}

func TestVerifyInclusionTamperedProof(t *testing.T) {
	vecs := testVectors(8)
	tree := NewTree(vecs)
	proof := tree.Proof(3)
	if len(proof) == 0 {
		t.Fatal("expected non-empty proof")
	}
	proof[0][0] ^= 0x01
	if VerifyInclusion(vecs[3], proof, tree.Root()) {
		t.Fatal("tampered proof accepted")
	}
}

func TestVerifyInclusionWrongRoot(t *testing.T) {
	vecs := testVectors(4)
	tree := NewTree(vecs)
	if VerifyInclusion(vecs[0], tree.Proof(0), ids.GenerateTestID()) {
		t.Fatal("proof accepted against unrelated root")
	}
}
