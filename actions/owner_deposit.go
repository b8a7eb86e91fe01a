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
	OwnerDepositComputeUnits = 2
	MaxOwnerDepositSize      = 512
)

var (
	ErrUnmarshalEmptyOwnerDeposit              = errors.New("cannot unmarshal empty bytes as owner deposit")
	_                             chain.Action = (*OwnerDeposit)(nil)
)

// OwnerDeposit escrows the owner's good-faith stake after the buyer has
// paid in. The stake is forfeited (split between buyer and rival) if a
// rival proves an earlier commitment.
type OwnerDeposit struct {
	Asset  ids.ID        `serialize:"true" json:"asset"`
	Buyer  codec.Address `serialize:"true" json:"buyer"`
	Amount uint64        `serialize:"true" json:"amount"`
}

func (*OwnerDeposit) GetTypeID() uint8 {
	return mconsts.OwnerDepositID
}

func (t *OwnerDeposit) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)):            state.Read,
		string(storage.BalanceKey(actor)):            state.Read | state.Write,
		string(storage.RequestKey(t.Asset, t.Buyer)): state.Read | state.Write,
	}
}

func (t *OwnerDeposit) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxOwnerDepositSize),
		MaxSize: MaxOwnerDepositSize,
	}
	p.PackByte(mconsts.OwnerDepositID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalOwnerDeposit(bytes []byte) (chain.Action, error) {
	t := &OwnerDeposit{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyOwnerDeposit
	}
	if bytes[0] != mconsts.OwnerDepositID {
		return nil, fmt.Errorf("unexpected owner deposit typeID: %d != %d", bytes[0], mconsts.OwnerDepositID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *OwnerDeposit) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) ([]byte, error) {
	asset, err := storage.GetAsset(ctx, mu, t.Asset)
	if err != nil {
		return nil, err
	}
	if asset.Owner != actor {
		return nil, storage.ErrOnlyAssetOwner
	}

	req, err := storage.GetRequest(ctx, mu, t.Asset, t.Buyer)
	if err != nil {
		return nil, err
	}
	if !req.Has(storage.ReqBuyerDeposited) {
		return nil, storage.ErrNotDeposited
	}
	if req.Has(storage.ReqOwnerDeposited) {
		return nil, storage.ErrAlreadyDeposited
	}
	if t.Amount != req.OwnerDepositAmount {
		return nil, storage.ErrIncorrectDepositAmount
	}

	balance, err := storage.SubBalance(ctx, mu, actor, t.Amount)
	if err != nil {
		return nil, err
	}

	req.OwnerEscrow = t.Amount
	req.Set(storage.ReqOwnerDeposited)
	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, t.Buyer, req); err != nil {
		return nil, err
	}

	result := &OwnerDepositResult{
		OwnerBalance: balance,
		OwnerEscrow:  req.OwnerEscrow,
	}
	return result.Bytes(), nil
}

func (*OwnerDeposit) ComputeUnits(chain.Rules) uint64 {
	return OwnerDepositComputeUnits
}

func (*OwnerDeposit) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*OwnerDepositResult)(nil)

type OwnerDepositResult struct {
	OwnerBalance uint64 `serialize:"true" json:"owner_balance"`
	OwnerEscrow  uint64 `serialize:"true" json:"owner_escrow"`
}

func (*OwnerDepositResult) GetTypeID() uint8 {
	return mconsts.OwnerDepositID
}

func (t *OwnerDepositResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxOwnerDepositSize,
	}
	p.PackByte(mconsts.OwnerDepositID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalOwnerDepositResult(b []byte) (codec.Typed, error) {
	t := &OwnerDepositResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
