// Package merkle implements the inclusion proofs that anchor dataset
// vectors to committed roots. Sibling pairs are hashed in sorted byte
// order, so a proof is independent of leaf position parity and carries no
// left/right flags.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/ava-labs/avalanchego/ids"
)

const LeafDomainTag = "DATAMART_LEAF_V1"

// LeafHash canonicalizes a feature vector into its leaf digest:
// tag | uint32 element count | big-endian two's-complement int64 elements.
func LeafHash(vector []int64) ids.ID {
	preimage := make([]byte, 0, len(LeafDomainTag)+4+8*len(vector))
	preimage = append(preimage, LeafDomainTag...)
	preimage = binary.BigEndian.AppendUint32(preimage, uint32(len(vector)))
	for _, e := range vector {
		preimage = binary.BigEndian.AppendUint64(preimage, uint64(e))
	}
	return sha256.Sum256(preimage)
}

// NodeHash combines two child digests, lesser byte sequence first.
func NodeHash(a ids.ID, b ids.ID) ids.ID {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	preimage := make([]byte, 0, 2*ids.IDLen)
	preimage = append(preimage, a[:]...)
	preimage = append(preimage, b[:]...)
	return sha256.Sum256(preimage)
}

// VerifyInclusion checks a sibling-path proof for vector against root. An
// empty proof is accepted only for the single-leaf tree whose root is the
// leaf itself.
func VerifyInclusion(vector []int64, proof []ids.ID, root ids.ID) bool {
	node := LeafHash(vector)
	for _, sibling := range proof {
		node = NodeHash(node, sibling)
	}
	return node == root
}

// Tree is a helper for producing roots and proofs over a fixed leaf set,
// used by sellers preparing commitments and by tests. Odd nodes are
// promoted to the next level unchanged.
type Tree struct {
	levels [][]ids.ID
}

func NewTree(vectors [][]int64) *Tree {
	leaves := make([]ids.ID, len(vectors))
	for i, v := range vectors {
		leaves[i] = LeafHash(v)
	}
	levels := [][]ids.ID{leaves}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([]ids.ID, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 < len(cur) {
				next = append(next, NodeHash(cur[i], cur[i+1]))
			} else {
				next = append(next, cur[i])
			}
		}
		levels = append(levels, next)
	}
	return &Tree{levels: levels}
}

func (t *Tree) Root() ids.ID {
	if len(t.levels) == 0 || len(t.levels[0]) == 0 {
		return ids.Empty
	}
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the sibling path for leaf index i.
func (t *Tree) Proof(i int) []ids.ID {
	if len(t.levels) == 0 || i < 0 || i >= len(t.levels[0]) {
		return nil
	}
	proof := make([]ids.ID, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		i >>= 1
	}
	return proof
}
