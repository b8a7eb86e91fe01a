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
	SetHashchainTipComputeUnits = 2
	MaxSetHashchainTipSize      = 512
)

var (
	ErrUnmarshalEmptySetHashchainTip              = errors.New("cannot unmarshal empty bytes as set hashchain tip")
	_                                chain.Action = (*SetHashchainTip)(nil)
)

// SetHashchainTip anchors the buyer's payment hashchain: the tip is the
// batchNumber-fold hash of a secret preimage. Each batch delivery is paid
// by revealing one more preimage level to the seller, who confirms it
// on-chain. Set once per pair; requires a resolved challenge.
type SetHashchainTip struct {
	Asset ids.ID `serialize:"true" json:"asset"`
	Tip   ids.ID `serialize:"true" json:"tip"`
}

func (*SetHashchainTip) GetTypeID() uint8 {
	return mconsts.SetHashchainTipID
}

func (t *SetHashchainTip) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.RequestKey(t.Asset, actor)):   state.Read | state.Write,
		string(storage.ChallengeKey(t.Asset, actor)): state.Read,
		string(storage.HashchainKey(t.Asset, actor)): state.All,
	}
}

func (t *SetHashchainTip) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxSetHashchainTipSize),
		MaxSize: MaxSetHashchainTipSize,
	}
	p.PackByte(mconsts.SetHashchainTipID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalSetHashchainTip(bytes []byte) (chain.Action, error) {
	t := &SetHashchainTip{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptySetHashchainTip
	}
	if bytes[0] != mconsts.SetHashchainTipID {
		return nil, fmt.Errorf("unexpected set hashchain tip typeID: %d != %d", bytes[0], mconsts.SetHashchainTipID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SetHashchainTip) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) ([]byte, error) {
	if t.Tip == ids.Empty {
		return nil, storage.ErrTipZero
	}

	req, err := storage.GetRequest(ctx, mu, t.Asset, actor)
	if err != nil {
		return nil, err
	}
	if !req.Has(storage.ReqBuyerDeposited) {
		return nil, storage.ErrNotDeposited
	}

	ch, err := storage.GetChallenge(ctx, mu, t.Asset, actor)
	if err != nil {
		return nil, err
	}
	if !ch.Resolved {
		return nil, storage.ErrNotResolved
	}

	if _, err := storage.GetHashchain(ctx, mu, t.Asset, actor); err == nil {
		return nil, storage.ErrTipAlreadySet
	} else if !errors.Is(err, storage.ErrTipNotSet) {
		return nil, err
	}

	hc := storage.Hashchain{Tip: t.Tip}
	if err := storage.PutHashchain(ctx, mu, t.Asset, actor, hc); err != nil {
		return nil, err
	}

	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, actor, req); err != nil {
		return nil, err
	}

	result := &SetHashchainTipResult{
		Tip: t.Tip,
	}
	return result.Bytes(), nil
}

func (*SetHashchainTip) ComputeUnits(chain.Rules) uint64 {
	return SetHashchainTipComputeUnits
}

func (*SetHashchainTip) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*SetHashchainTipResult)(nil)

type SetHashchainTipResult struct {
	Tip ids.ID `serialize:"true" json:"tip"`
}

func (*SetHashchainTipResult) GetTypeID() uint8 {
	return mconsts.SetHashchainTipID
}

func (t *SetHashchainTipResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxSetHashchainTipSize,
	}
	p.PackByte(mconsts.SetHashchainTipID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalSetHashchainTipResult(b []byte) (codec.Typed, error) {
	t := &SetHashchainTipResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
