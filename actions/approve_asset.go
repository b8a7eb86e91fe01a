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
	ApproveAssetComputeUnits = 1
	MaxApproveAssetSize      = 512
)

var (
	ErrUnmarshalEmptyApproveAsset              = errors.New("cannot unmarshal empty bytes as approve asset")
	_                             chain.Action = (*ApproveAsset)(nil)
)

// ApproveAsset grants a single operator the right to transfer the asset.
// Approving the zero address clears any prior approval.
type ApproveAsset struct {
	Asset    ids.ID        `serialize:"true" json:"asset"`
	Operator codec.Address `serialize:"true" json:"operator"`
}

func (*ApproveAsset) GetTypeID() uint8 {
	return mconsts.ApproveAssetID
}

func (t *ApproveAsset) StateKeys(_ codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)): state.Read | state.Write,
	}
}

func (t *ApproveAsset) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxApproveAssetSize),
		MaxSize: MaxApproveAssetSize,
	}
	p.PackByte(mconsts.ApproveAssetID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalApproveAsset(bytes []byte) (chain.Action, error) {
	t := &ApproveAsset{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyApproveAsset
	}
	if bytes[0] != mconsts.ApproveAssetID {
		return nil, fmt.Errorf("unexpected approve asset typeID: %d != %d", bytes[0], mconsts.ApproveAssetID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ApproveAsset) Execute(
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
	if asset.Owner != actor {
		return nil, storage.ErrOnlyAssetOwner
	}

	asset.Approved = t.Operator
	if err := storage.PutAsset(ctx, mu, t.Asset, asset); err != nil {
		return nil, err
	}

	result := &ApproveAssetResult{
		Operator: t.Operator,
	}
	return result.Bytes(), nil
}

func (*ApproveAsset) ComputeUnits(chain.Rules) uint64 {
	return ApproveAssetComputeUnits
}

func (*ApproveAsset) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*ApproveAssetResult)(nil)

type ApproveAssetResult struct {
	Operator codec.Address `serialize:"true" json:"operator"`
}

func (*ApproveAssetResult) GetTypeID() uint8 {
	return mconsts.ApproveAssetID
}

func (t *ApproveAssetResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxApproveAssetSize,
	}
	p.PackByte(mconsts.ApproveAssetID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalApproveAssetResult(b []byte) (codec.Typed, error) {
	t := &ApproveAssetResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
