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
	ConfirmRequestComputeUnits = 1
	MaxConfirmRequestSize      = 512
)

var (
	ErrUnmarshalEmptyConfirmRequest              = errors.New("cannot unmarshal empty bytes as confirm request")
	_                               chain.Action = (*ConfirmRequest)(nil)
)

// ConfirmRequest is the asset owner's acceptance of a buyer's trade terms.
type ConfirmRequest struct {
	Asset ids.ID        `serialize:"true" json:"asset"`
	Buyer codec.Address `serialize:"true" json:"buyer"`
}

func (*ConfirmRequest) GetTypeID() uint8 {
	return mconsts.ConfirmRequestID
}

func (t *ConfirmRequest) StateKeys(_ codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)):            state.Read,
		string(storage.RequestKey(t.Asset, t.Buyer)): state.Read | state.Write,
	}
}

func (t *ConfirmRequest) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxConfirmRequestSize),
		MaxSize: MaxConfirmRequestSize,
	}
	p.PackByte(mconsts.ConfirmRequestID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalConfirmRequest(bytes []byte) (chain.Action, error) {
	t := &ConfirmRequest{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyConfirmRequest
	}
	if bytes[0] != mconsts.ConfirmRequestID {
		return nil, fmt.Errorf("unexpected confirm request typeID: %d != %d", bytes[0], mconsts.ConfirmRequestID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ConfirmRequest) Execute(
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
	if req.Has(storage.ReqConfirmed) {
		return nil, storage.ErrAlreadyConfirmed
	}

	req.Set(storage.ReqConfirmed)
	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, t.Buyer, req); err != nil {
		return nil, err
	}

	result := &ConfirmRequestResult{
		Flags: req.Flags,
	}
	return result.Bytes(), nil
}

func (*ConfirmRequest) ComputeUnits(chain.Rules) uint64 {
	return ConfirmRequestComputeUnits
}

func (*ConfirmRequest) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*ConfirmRequestResult)(nil)

type ConfirmRequestResult struct {
	Flags uint8 `serialize:"true" json:"flags"`
}

func (*ConfirmRequestResult) GetTypeID() uint8 {
	return mconsts.ConfirmRequestID
}

func (t *ConfirmRequestResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxConfirmRequestSize,
	}
	p.PackByte(mconsts.ConfirmRequestID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalConfirmRequestResult(b []byte) (codec.Typed, error) {
	t := &ConfirmRequestResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
