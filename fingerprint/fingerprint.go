// Package fingerprint compresses integer feature vectors to fixed-width
// sign-random-projection fingerprints and compares them by Hamming
// similarity. All parties must project with the same ±1 matrix, which is
// derived deterministically from the protocol seed so every node
// reconstructs it without extra state.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"math/bits"
	"sync"
)

// Bits is the fingerprint width C. One projection row per bit.
const Bits = 256

// Fingerprint packs Bits sign bits, row 0 in the high bit of byte 0.
type Fingerprint [Bits / 8]byte

var (
	ErrMatrixInitialized    = errors.New("projection matrix already initialized")
	ErrMatrixNotInitialized = errors.New("projection matrix not initialized")
	ErrInvalidDimensions    = errors.New("projection matrix has invalid dimensions")
	ErrVectorTooLong        = errors.New("vector exceeds projection matrix width")
)

// Engine projects vectors of up to maxLen elements. The matrix is set
// exactly once; Compress fails until it is.
type Engine struct {
	maxLen uint32
	rows   [][]int8
}

func New(maxLen uint32) *Engine {
	return &Engine{maxLen: maxLen}
}

// SetMatrix installs the ±1 projection matrix. Rejected if a matrix is
// already installed or the shape is not Bits x maxLen with ±1 entries.
func (e *Engine) SetMatrix(rows [][]int8) error {
	if e.rows != nil {
		return ErrMatrixInitialized
	}
	if len(rows) != Bits {
		return ErrInvalidDimensions
	}
	for _, row := range rows {
		if uint32(len(row)) != e.maxLen {
			return ErrInvalidDimensions
		}
		for _, v := range row {
			if v != 1 && v != -1 {
				return ErrInvalidDimensions
			}
		}
	}
	e.rows = rows
	return nil
}

// FromSeed derives the matrix from a SHA-256 counter stream over seed, so
// the same (seed, maxLen) pair always yields the same engine.
func FromSeed(seed [32]byte, maxLen uint32) *Engine {
	e := New(maxLen)
	rows := make([][]int8, Bits)
	var (
		block   [32]byte
		counter uint64
		used    = sha256.Size * 8 // force refill on first bit
	)
	nextBit := func() int8 {
		if used == sha256.Size*8 {
			preimage := make([]byte, 0, len(seed)+8)
			preimage = append(preimage, seed[:]...)
			preimage = binary.BigEndian.AppendUint64(preimage, counter)
			block = sha256.Sum256(preimage)
			counter++
			used = 0
		}
		b := block[used/8] >> (7 - used%8) & 1
		used++
		if b == 1 {
			return 1
		}
		return -1
	}
	for i := range rows {
		row := make([]int8, maxLen)
		for j := range row {
			row[j] = nextBit()
		}
		rows[i] = row
	}
	if err := e.SetMatrix(rows); err != nil {
		panic(err) // derived matrix always well-formed
	}
	return e
}

type cacheKey struct {
	seed   [32]byte
	maxLen uint32
}

var (
	cacheLock sync.Mutex
	cache     = map[cacheKey]*Engine{}
)

// Cached returns the process-wide engine for (seed, maxLen), deriving it
// on first use.
func Cached(seed [32]byte, maxLen uint32) *Engine {
	key := cacheKey{seed: seed, maxLen: maxLen}
	cacheLock.Lock()
	defer cacheLock.Unlock()
	if e, ok := cache[key]; ok {
		return e
	}
	e := FromSeed(seed, maxLen)
	cache[key] = e
	return e
}

// Compress projects vector through the matrix and records the sign of each
// row product: bit set when the sum is strictly positive, clear on zero or
// negative. Shorter vectors are zero-padded implicitly.
func (e *Engine) Compress(vector []int64) (Fingerprint, error) {
	var fp Fingerprint
	if e.rows == nil {
		return fp, ErrMatrixNotInitialized
	}
	if uint32(len(vector)) > e.maxLen {
		return fp, ErrVectorTooLong
	}
	sum := new(big.Int)
	term := new(big.Int)
	for i, row := range e.rows {
		sum.SetInt64(0)
		for j, v := range vector {
			term.SetInt64(v)
			if row[j] < 0 {
				sum.Sub(sum, term)
			} else {
				sum.Add(sum, term)
			}
		}
		if sum.Sign() > 0 {
			fp[i/8] |= 1 << (7 - i%8)
		}
	}
	return fp, nil
}

// Similarity is the integer percentage of matching bits between two
// fingerprints, rounded down.
func Similarity(a Fingerprint, b Fingerprint) uint64 {
	matching := Bits
	for i := range a {
		matching -= bits.OnesCount8(a[i] ^ b[i])
	}
	return uint64(matching) * 100 / Bits
}

// MeetsThreshold reports whether a and b agree on at least threshold
// percent of bits.
func MeetsThreshold(a Fingerprint, b Fingerprint, threshold uint8) bool {
	return Similarity(a, b) >= uint64(threshold)
}
