package actions

import (
	"crypto/sha256"

	"github.com/ava-labs/avalanchego/ids"
)

// verifyHashchainReveal checks that hashing preimage n times reproduces
// tip. Callers bound n before verifying; each payment confirmation reveals
// at most the remaining batch count.
func verifyHashchainReveal(tip ids.ID, preimage ids.ID, n uint64) bool {
	h := preimage
	for i := uint64(0); i < n; i++ {
		h = sha256.Sum256(h[:])
	}
	return h == tip
}

// BuildHashchain derives the reveal sequence for a payment chain of length
// n from a secret: index 0 is the secret itself and index n is the tip.
// Client-side helper for buyers preparing SetHashchainTip.
func BuildHashchain(secret ids.ID, n uint64) []ids.ID {
	chain := make([]ids.ID, n+1)
	chain[0] = secret
	for i := uint64(1); i <= n; i++ {
		chain[i] = sha256.Sum256(chain[i-1][:])
	}
	return chain
}
