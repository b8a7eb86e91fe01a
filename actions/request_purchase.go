package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/hypersdk/chain"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/ava-labs/hypersdk/state"

	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

const (
	RequestPurchaseComputeUnits = 2
	MaxRequestPurchaseSize      = 1024
)

var (
	ErrInvalidChallengeSize                          = errors.New("challenge size out of range")
	ErrUnmarshalEmptyRequestPurchase                 = errors.New("cannot unmarshal empty bytes as request purchase")
	_                                   chain.Action = (*RequestPurchase)(nil)
)

// RequestPurchase opens a trade for (asset, actor). The actor is the buyer;
// at most one request per pair may exist at a time.
type RequestPurchase struct {
	Asset              ids.ID `serialize:"true" json:"asset"`
	BatchPrice         uint64 `serialize:"true" json:"batch_price"`
	BatchNumber        uint64 `serialize:"true" json:"batch_number"`
	TradeType          uint8  `serialize:"true" json:"trade_type"`
	ChallengeSize      uint16 `serialize:"true" json:"challenge_size"`
	AssetTransferFee   uint64 `serialize:"true" json:"asset_transfer_fee"`
	OwnerDepositAmount uint64 `serialize:"true" json:"owner_deposit_amount"`
}

func (*RequestPurchase) GetTypeID() uint8 {
	return mconsts.RequestPurchaseID
}

func (t *RequestPurchase) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)):          state.Read,
		string(storage.ProtocolConfigKey()):        state.Read,
		string(storage.RequestKey(t.Asset, actor)): state.All,
	}
}

func (t *RequestPurchase) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxRequestPurchaseSize),
		MaxSize: MaxRequestPurchaseSize,
	}
	p.PackByte(mconsts.RequestPurchaseID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalRequestPurchase(bytes []byte) (chain.Action, error) {
	t := &RequestPurchase{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyRequestPurchase
	}
	if bytes[0] != mconsts.RequestPurchaseID {
		return nil, fmt.Errorf("unexpected request purchase typeID: %d != %d", bytes[0], mconsts.RequestPurchaseID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RequestPurchase) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) ([]byte, error) {
	if t.TradeType != mconsts.TradeTypeDataOnly && t.TradeType != mconsts.TradeTypeDataAndAsset {
		return nil, storage.ErrInvalidTradeType
	}
	if t.BatchPrice == 0 {
		return nil, storage.ErrInvalidBatchPrice
	}
	if t.OwnerDepositAmount == 0 {
		return nil, storage.ErrInvalidOwnerDeposit
	}
	// The transfer fee compensates the owner for handing over the asset;
	// required for data+asset trades, forbidden otherwise.
	if (t.TradeType == mconsts.TradeTypeDataAndAsset) != (t.AssetTransferFee > 0) {
		return nil, storage.ErrTransferFeeRequired
	}

	asset, err := storage.GetAsset(ctx, mu, t.Asset)
	if err != nil {
		return nil, err
	}
	if t.BatchNumber == 0 || t.BatchNumber > asset.BatchNumber {
		return nil, storage.ErrInvalidBatchNumber
	}

	cfg, err := storage.GetProtocolConfig(ctx, mu)
	if err != nil {
		return nil, err
	}
	if t.ChallengeSize == 0 || t.ChallengeSize > cfg.MaxChallengeVectors {
		return nil, ErrInvalidChallengeSize
	}

	if _, err := storage.GetRequest(ctx, mu, t.Asset, actor); err == nil {
		return nil, storage.ErrRequestExists
	} else if !errors.Is(err, storage.ErrRequestNotFound) {
		return nil, err
	}

	req := storage.Request{
		BatchPrice:         t.BatchPrice,
		BatchNumber:        t.BatchNumber,
		TradeType:          t.TradeType,
		ChallengeSize:      t.ChallengeSize,
		AssetTransferFee:   t.AssetTransferFee,
		OwnerDepositAmount: t.OwnerDepositAmount,
		LastActivityMs:     timestamp,
	}
	required, err := req.BuyerDepositAmount()
	if err != nil {
		return nil, err
	}
	if err := storage.PutRequest(ctx, mu, t.Asset, actor, req); err != nil {
		return nil, err
	}

	result := &RequestPurchaseResult{
		RequiredBuyerDeposit: required,
	}
	return result.Bytes(), nil
}

func (*RequestPurchase) ComputeUnits(chain.Rules) uint64 {
	return RequestPurchaseComputeUnits
}

func (*RequestPurchase) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*RequestPurchaseResult)(nil)

type RequestPurchaseResult struct {
	RequiredBuyerDeposit uint64 `serialize:"true" json:"required_buyer_deposit"`
}

func (*RequestPurchaseResult) GetTypeID() uint8 {
	return mconsts.RequestPurchaseID
}

func (t *RequestPurchaseResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxRequestPurchaseSize,
	}
	p.PackByte(mconsts.RequestPurchaseID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalRequestPurchaseResult(b []byte) (codec.Typed, error) {
	t := &RequestPurchaseResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
