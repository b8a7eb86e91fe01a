package consts

const (
	// TradeType values for a purchase request.
	TradeTypeDataOnly     uint8 = 0
	TradeTypeDataAndAsset uint8 = 1
)

const (
	// FingerprintBits is the width C of the sign-random-projection
	// fingerprint. Fixed protocol-wide; fingerprints are [FingerprintBits/8]
	// byte arrays on the wire.
	FingerprintBits = 256

	// DefaultMaxVectorLen is the default projection matrix width M.
	DefaultMaxVectorLen = 128

	// DefaultSimilarityThresholdPercent is the minimum Hamming similarity
	// (integer percent) a rival fingerprint must reach against the
	// original's fingerprint at the same index.
	DefaultSimilarityThresholdPercent = 80

	// DefaultMaxChallengeVectors bounds challengeSize so a single challenge
	// record stays within its allotted state chunks.
	DefaultMaxChallengeVectors = 32
)

const (
	// DefaultTransactionTimeoutMs is how long a trade may sit idle before
	// the asset owner can reclaim it (1 day).
	DefaultTransactionTimeoutMs int64 = 86_400_000

	// DefaultChallengeWindowMs is the rival response window measured from
	// challenge initiation (24h).
	DefaultChallengeWindowMs int64 = 86_400_000
)
