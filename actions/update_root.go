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
	UpdateRootComputeUnits = 2
	MaxUpdateRootSize      = 512
)

var (
	ErrRootEmpty                             = errors.New("root is empty")
	ErrUnmarshalEmptyUpdateRoot              = errors.New("cannot unmarshal empty bytes as update root")
	_                           chain.Action = (*UpdateRoot)(nil)
)

// UpdateRoot commits a Merkle root for the asset's current dataset version.
// A (asset, root) pair can be committed exactly once; the block timestamp of
// that commitment is the permanent priority record for dispute arbitration.
type UpdateRoot struct {
	Asset ids.ID `serialize:"true" json:"asset"`
	Root  ids.ID `serialize:"true" json:"root"`
}

func (*UpdateRoot) GetTypeID() uint8 {
	return mconsts.UpdateRootID
}

func (t *UpdateRoot) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)):                  state.Read | state.Write,
		string(storage.RootCommitmentKey(t.Asset, t.Root)): state.All,
		string(storage.SellerStatsKey(actor)):              state.All,
	}
}

func (t *UpdateRoot) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxUpdateRootSize),
		MaxSize: MaxUpdateRootSize,
	}
	p.PackByte(mconsts.UpdateRootID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalUpdateRoot(bytes []byte) (chain.Action, error) {
	t := &UpdateRoot{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyUpdateRoot
	}
	if bytes[0] != mconsts.UpdateRootID {
		return nil, fmt.Errorf("unexpected update root typeID: %d != %d", bytes[0], mconsts.UpdateRootID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *UpdateRoot) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) ([]byte, error) {
	if t.Root == ids.Empty {
		return nil, ErrRootEmpty
	}

	asset, err := storage.GetAsset(ctx, mu, t.Asset)
	if err != nil {
		return nil, err
	}
	if asset.Owner != actor {
		return nil, storage.ErrOnlyAssetOwner
	}

	committed, err := storage.GetRootTimestamp(ctx, mu, t.Asset, t.Root)
	if err != nil {
		return nil, err
	}
	if committed != 0 {
		return nil, storage.ErrDuplicateRoot
	}

	if err := storage.PutRootCommitment(ctx, mu, t.Asset, t.Root, timestamp); err != nil {
		return nil, err
	}

	asset.LatestRoot = t.Root
	if err := storage.PutAsset(ctx, mu, t.Asset, asset); err != nil {
		return nil, err
	}

	stats, err := storage.GetSellerStats(ctx, mu, actor)
	if err != nil {
		return nil, err
	}
	stats.RootsCommitted++
	stats.LastActivityMs = timestamp
	if err := storage.PutSellerStats(ctx, mu, actor, stats); err != nil {
		return nil, err
	}

	result := &UpdateRootResult{
		Timestamp: timestamp,
	}
	return result.Bytes(), nil
}

func (*UpdateRoot) ComputeUnits(chain.Rules) uint64 {
	return UpdateRootComputeUnits
}

func (*UpdateRoot) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*UpdateRootResult)(nil)

type UpdateRootResult struct {
	Timestamp int64 `serialize:"true" json:"timestamp"`
}

func (*UpdateRootResult) GetTypeID() uint8 {
	return mconsts.UpdateRootID
}

func (t *UpdateRootResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxUpdateRootSize,
	}
	p.PackByte(mconsts.UpdateRootID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalUpdateRootResult(b []byte) (codec.Typed, error) {
	t := &UpdateRootResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
