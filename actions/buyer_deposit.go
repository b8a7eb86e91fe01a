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
	BuyerDepositComputeUnits = 2
	MaxBuyerDepositSize      = 512
)

var (
	ErrUnmarshalEmptyBuyerDeposit              = errors.New("cannot unmarshal empty bytes as buyer deposit")
	_                             chain.Action = (*BuyerDeposit)(nil)
)

// BuyerDeposit escrows the buyer's full payment for the trade. The amount
// must match the request terms exactly.
type BuyerDeposit struct {
	Asset  ids.ID `serialize:"true" json:"asset"`
	Amount uint64 `serialize:"true" json:"amount"`
}

func (*BuyerDeposit) GetTypeID() uint8 {
	return mconsts.BuyerDepositID
}

func (t *BuyerDeposit) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.BalanceKey(actor)):          state.Read | state.Write,
		string(storage.RequestKey(t.Asset, actor)): state.Read | state.Write,
	}
}

func (t *BuyerDeposit) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxBuyerDepositSize),
		MaxSize: MaxBuyerDepositSize,
	}
	p.PackByte(mconsts.BuyerDepositID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalBuyerDeposit(bytes []byte) (chain.Action, error) {
	t := &BuyerDeposit{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyBuyerDeposit
	}
	if bytes[0] != mconsts.BuyerDepositID {
		return nil, fmt.Errorf("unexpected buyer deposit typeID: %d != %d", bytes[0], mconsts.BuyerDepositID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *BuyerDeposit) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) ([]byte, error) {
	req, err := storage.GetRequest(ctx, mu, t.Asset, actor)
	if err != nil {
		return nil, err
	}
	if !req.Has(storage.ReqConfirmed) {
		return nil, storage.ErrNotConfirmed
	}
	if req.Has(storage.ReqBuyerDeposited) {
		return nil, storage.ErrAlreadyDeposited
	}

	required, err := req.BuyerDepositAmount()
	if err != nil {
		return nil, err
	}
	if t.Amount != required {
		return nil, storage.ErrIncorrectDepositAmount
	}

	balance, err := storage.SubBalance(ctx, mu, actor, t.Amount)
	if err != nil {
		return nil, err
	}

	req.BuyerEscrow = t.Amount
	req.Set(storage.ReqBuyerDeposited)
	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, actor, req); err != nil {
		return nil, err
	}

	result := &BuyerDepositResult{
		BuyerBalance: balance,
		BuyerEscrow:  req.BuyerEscrow,
	}
	return result.Bytes(), nil
}

func (*BuyerDeposit) ComputeUnits(chain.Rules) uint64 {
	return BuyerDepositComputeUnits
}

func (*BuyerDeposit) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*BuyerDepositResult)(nil)

type BuyerDepositResult struct {
	BuyerBalance uint64 `serialize:"true" json:"buyer_balance"`
	BuyerEscrow  uint64 `serialize:"true" json:"buyer_escrow"`
}

func (*BuyerDepositResult) GetTypeID() uint8 {
	return mconsts.BuyerDepositID
}

func (t *BuyerDepositResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxBuyerDepositSize,
	}
	p.PackByte(mconsts.BuyerDepositID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalBuyerDepositResult(b []byte) (codec.Typed, error) {
	t := &BuyerDepositResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
