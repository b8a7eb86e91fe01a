package storage

import "errors"

var (
	ErrInvalidBalance = errors.New("invalid balance")

	// Asset registry
	ErrAssetNotFound  = errors.New("asset not found")
	ErrOnlyAssetOwner = errors.New("caller is not the asset owner")
	ErrNotApproved    = errors.New("caller is not approved for the asset")

	// Merkle commitments
	ErrDuplicateRoot = errors.New("root already committed for asset")
	ErrInvalidRoot   = errors.New("root has no commitment timestamp")
	ErrInvalidProof  = errors.New("merkle proof verification failed")

	// Escrow ledger
	ErrRequestNotFound        = errors.New("no request for asset and buyer")
	ErrRequestExists          = errors.New("request already exists for asset and buyer")
	ErrInvalidTradeType       = errors.New("invalid trade type")
	ErrInvalidBatchPrice      = errors.New("batch price is zero")
	ErrInvalidBatchNumber     = errors.New("batch number out of range")
	ErrTransferFeeRequired    = errors.New("asset transfer fee required for data+asset trade")
	ErrInvalidOwnerDeposit    = errors.New("owner deposit amount is zero")
	ErrNotConfirmed           = errors.New("request not confirmed")
	ErrAlreadyConfirmed       = errors.New("request already confirmed")
	ErrNotDeposited           = errors.New("deposit not made")
	ErrAlreadyDeposited       = errors.New("deposit already made")
	ErrIncorrectDepositAmount = errors.New("deposit amount does not match required amount")
	ErrNotTimedOut            = errors.New("transaction has not timed out")

	// Challenge arbitration
	ErrChallengeNotFound        = errors.New("no challenge for asset and buyer")
	ErrChallengeExists          = errors.New("unresolved challenge already exists")
	ErrChallengeNotInitiated    = errors.New("challenge not initiated")
	ErrVectorsNotVerified       = errors.New("owner vectors not verified")
	ErrVectorsAlreadyVerified   = errors.New("owner vectors already verified")
	ErrDataNotValidated         = errors.New("data receipt not validated by buyer")
	ErrDataAlreadyValidated     = errors.New("data receipt already validated")
	ErrSelfChallenge            = errors.New("rival asset equals challenged asset")
	ErrCountMismatch            = errors.New("response length does not match challenge size")
	ErrChallengerNotEarlier     = errors.New("rival commitment is not strictly earlier")
	ErrSimilarityBelowThreshold = errors.New("fingerprint similarity below threshold")
	ErrAlreadyResolved          = errors.New("challenge already resolved")
	ErrNotResolved              = errors.New("challenge not resolved")

	// Hashchain payment meter
	ErrTipNotSet              = errors.New("hashchain tip not set")
	ErrTipAlreadySet          = errors.New("hashchain tip already set")
	ErrTipZero                = errors.New("hashchain tip is zero")
	ErrInvalidHashchainReveal = errors.New("hashchain reveal does not match tip")
	ErrExceedsRequested       = errors.New("batches exceed requested quantity")

	// Record parsing / config
	ErrInvalidRecord         = errors.New("invalid record encoding")
	ErrInvalidProtocolConfig = errors.New("invalid protocol config")
)
