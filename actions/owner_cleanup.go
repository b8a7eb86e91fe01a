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
	OwnerCleanupComputeUnits = 4
	MaxOwnerCleanupSize      = 512
)

var (
	ErrUnmarshalEmptyOwnerCleanup              = errors.New("cannot unmarshal empty bytes as owner cleanup")
	_                             chain.Action = (*OwnerCleanup)(nil)
)

// OwnerCleanup reclaims an abandoned trade. Strictly after the transaction
// timeout since the pair's last activity, the owner may refund both escrow
// balances to their depositors and delete every record for the pair.
type OwnerCleanup struct {
	Asset ids.ID        `serialize:"true" json:"asset"`
	Buyer codec.Address `serialize:"true" json:"buyer"`
}

func (*OwnerCleanup) GetTypeID() uint8 {
	return mconsts.OwnerCleanupID
}

func (t *OwnerCleanup) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)):              state.Read,
		string(storage.ProtocolConfigKey()):            state.Read,
		string(storage.RequestKey(t.Asset, t.Buyer)):   state.Read | state.Write,
		string(storage.ChallengeKey(t.Asset, t.Buyer)): state.All,
		string(storage.HashchainKey(t.Asset, t.Buyer)): state.All,
		string(storage.BalanceKey(t.Buyer)):            state.All,
		string(storage.BalanceKey(actor)):              state.Read | state.Write,
	}
}

func (t *OwnerCleanup) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxOwnerCleanupSize),
		MaxSize: MaxOwnerCleanupSize,
	}
	p.PackByte(mconsts.OwnerCleanupID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalOwnerCleanup(bytes []byte) (chain.Action, error) {
	t := &OwnerCleanup{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyOwnerCleanup
	}
	if bytes[0] != mconsts.OwnerCleanupID {
		return nil, fmt.Errorf("unexpected owner cleanup typeID: %d != %d", bytes[0], mconsts.OwnerCleanupID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *OwnerCleanup) Execute(
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

	cfg, err := storage.GetProtocolConfig(ctx, mu)
	if err != nil {
		return nil, err
	}
	if timestamp <= req.LastActivityMs+cfg.TransactionTimeoutMs {
		return nil, storage.ErrNotTimedOut
	}

	buyerRefund := req.BuyerEscrow
	ownerRefund := req.OwnerEscrow

	if err := storage.RemoveRequest(ctx, mu, t.Asset, t.Buyer); err != nil {
		return nil, err
	}
	if err := storage.RemoveChallenge(ctx, mu, t.Asset, t.Buyer); err != nil {
		return nil, err
	}
	if err := storage.RemoveHashchain(ctx, mu, t.Asset, t.Buyer); err != nil {
		return nil, err
	}

	if buyerRefund > 0 {
		if _, err := storage.AddBalance(ctx, mu, t.Buyer, buyerRefund); err != nil {
			return nil, err
		}
	}
	if ownerRefund > 0 {
		if _, err := storage.AddBalance(ctx, mu, actor, ownerRefund); err != nil {
			return nil, err
		}
	}

	result := &OwnerCleanupResult{
		BuyerRefund: buyerRefund,
		OwnerRefund: ownerRefund,
	}
	return result.Bytes(), nil
}

func (*OwnerCleanup) ComputeUnits(chain.Rules) uint64 {
	return OwnerCleanupComputeUnits
}

func (*OwnerCleanup) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*OwnerCleanupResult)(nil)

type OwnerCleanupResult struct {
	BuyerRefund uint64 `serialize:"true" json:"buyer_refund"`
	OwnerRefund uint64 `serialize:"true" json:"owner_refund"`
}

func (*OwnerCleanupResult) GetTypeID() uint8 {
	return mconsts.OwnerCleanupID
}

func (t *OwnerCleanupResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxOwnerCleanupSize,
	}
	p.PackByte(mconsts.OwnerCleanupID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalOwnerCleanupResult(b []byte) (codec.Typed, error) {
	t := &OwnerCleanupResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
