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
	MintAssetComputeUnits = 1
	MaxMintAssetSize      = 1024
)

var (
	ErrMetadataTooLarge                     = errors.New("asset metadata is too large")
	ErrUnmarshalEmptyMintAsset              = errors.New("cannot unmarshal empty bytes as mint asset")
	_                          chain.Action = (*MintAsset)(nil)
)

// MintAsset registers a dataset asset. The asset ID is the action ID of the
// minting transaction and the actor becomes the owner.
type MintAsset struct {
	BatchPrice  uint64 `serialize:"true" json:"batch_price"`
	BatchNumber uint64 `serialize:"true" json:"batch_number"`
	Metadata    []byte `serialize:"true" json:"metadata"`
}

func (*MintAsset) GetTypeID() uint8 {
	return mconsts.MintAssetID
}

func (*MintAsset) StateKeys(_ codec.Address, actionID ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(actionID)): state.All,
	}
}

func (t *MintAsset) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxMintAssetSize),
		MaxSize: MaxMintAssetSize,
	}
	p.PackByte(mconsts.MintAssetID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalMintAsset(bytes []byte) (chain.Action, error) {
	t := &MintAsset{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyMintAsset
	}
	if bytes[0] != mconsts.MintAssetID {
		return nil, fmt.Errorf("unexpected mint asset typeID: %d != %d", bytes[0], mconsts.MintAssetID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	if len(t.Metadata) > storage.MaxAssetMetadataSize {
		return nil, ErrMetadataTooLarge
	}
	return t, nil
}

func (t *MintAsset) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	_ int64,
	actor codec.Address,
	actionID ids.ID,
) ([]byte, error) {
	if t.BatchPrice == 0 {
		return nil, storage.ErrInvalidBatchPrice
	}
	if t.BatchNumber == 0 {
		return nil, storage.ErrInvalidBatchNumber
	}
	if len(t.Metadata) > storage.MaxAssetMetadataSize {
		return nil, ErrMetadataTooLarge
	}

	asset := storage.Asset{
		Owner:       actor,
		BatchPrice:  t.BatchPrice,
		BatchNumber: t.BatchNumber,
		Metadata:    t.Metadata,
	}
	if err := storage.PutAsset(ctx, mu, actionID, asset); err != nil {
		return nil, err
	}

	result := &MintAssetResult{
		AssetID: actionID,
		Owner:   actor,
	}
	return result.Bytes(), nil
}

func (*MintAsset) ComputeUnits(chain.Rules) uint64 {
	return MintAssetComputeUnits
}

func (*MintAsset) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*MintAssetResult)(nil)

type MintAssetResult struct {
	AssetID ids.ID        `serialize:"true" json:"asset_id"`
	Owner   codec.Address `serialize:"true" json:"owner"`
}

func (*MintAssetResult) GetTypeID() uint8 {
	return mconsts.MintAssetID
}

func (t *MintAssetResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxMintAssetSize,
	}
	p.PackByte(mconsts.MintAssetID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalMintAssetResult(b []byte) (codec.Typed, error) {
	t := &MintAssetResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
