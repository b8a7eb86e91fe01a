package consts

const (
	// Action TypeIDs
	TransferID          uint8 = 0
	MintAssetID         uint8 = 1
	ApproveAssetID      uint8 = 2
	TransferAssetID     uint8 = 3
	UpdateRootID        uint8 = 4
	RequestPurchaseID   uint8 = 5
	ConfirmRequestID    uint8 = 6
	BuyerDepositID      uint8 = 7
	OwnerDepositID      uint8 = 8
	InitiateChallengeID uint8 = 9
	OwnerRespondID      uint8 = 10
	ValidateDataID      uint8 = 11
	RivalRespondID      uint8 = 12
	ResolveChallengeID  uint8 = 13
	OwnerCleanupID      uint8 = 14
	SetHashchainTipID   uint8 = 15
	ConfirmPaymentID    uint8 = 16
)
