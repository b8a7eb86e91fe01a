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
	TransferAssetComputeUnits = 1
	MaxTransferAssetSize      = 512
)

var (
	ErrUnmarshalEmptyTransferAsset              = errors.New("cannot unmarshal empty bytes as transfer asset")
	_                              chain.Action = (*TransferAsset)(nil)
)

// TransferAsset moves asset ownership. Callable by the owner or the single
// approved operator; any approval is cleared on transfer.
type TransferAsset struct {
	Asset ids.ID        `serialize:"true" json:"asset"`
	To    codec.Address `serialize:"true" json:"to"`
}

func (*TransferAsset) GetTypeID() uint8 {
	return mconsts.TransferAssetID
}

func (t *TransferAsset) StateKeys(_ codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)): state.Read | state.Write,
	}
}

func (t *TransferAsset) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxTransferAssetSize),
		MaxSize: MaxTransferAssetSize,
	}
	p.PackByte(mconsts.TransferAssetID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalTransferAsset(bytes []byte) (chain.Action, error) {
	t := &TransferAsset{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyTransferAsset
	}
	if bytes[0] != mconsts.TransferAssetID {
		return nil, fmt.Errorf("unexpected transfer asset typeID: %d != %d", bytes[0], mconsts.TransferAssetID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TransferAsset) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	_ int64,
	actor codec.Address,
	_ ids.ID,
) ([]byte, error) {
	asset, err := storage.GetAsset(ctx, mu, t.Asset)
	if err != nil {
		return nil, err
	}
	if actor != asset.Owner && actor != asset.Approved {
		return nil, storage.ErrNotApproved
	}

	previousOwner := asset.Owner
	asset.Owner = t.To
	asset.Approved = codec.EmptyAddress
	if err := storage.PutAsset(ctx, mu, t.Asset, asset); err != nil {
		return nil, err
	}

	result := &TransferAssetResult{
		PreviousOwner: previousOwner,
		NewOwner:      t.To,
	}
	return result.Bytes(), nil
}

func (*TransferAsset) ComputeUnits(chain.Rules) uint64 {
	return TransferAssetComputeUnits
}

func (*TransferAsset) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*TransferAssetResult)(nil)

type TransferAssetResult struct {
	PreviousOwner codec.Address `serialize:"true" json:"previous_owner"`
	NewOwner      codec.Address `serialize:"true" json:"new_owner"`
}

func (*TransferAssetResult) GetTypeID() uint8 {
	return mconsts.TransferAssetID
}

func (t *TransferAssetResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxTransferAssetSize,
	}
	p.PackByte(mconsts.TransferAssetID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalTransferAssetResult(b []byte) (codec.Typed, error) {
	t := &TransferAssetResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
