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
	InitiateChallengeComputeUnits = 2
	MaxInitiateChallengeSize      = 512
)

var (
	ErrUnmarshalEmptyInitiateChallenge              = errors.New("cannot unmarshal empty bytes as initiate challenge")
	_                                  chain.Action = (*InitiateChallenge)(nil)
)

// InitiateChallenge opens the dispute phase for the buyer's trade. The
// challenged asset starts as the presumed winner; rivals may displace it by
// proving earlier commitments. A resolved leftover challenge for the pair
// (seeded by a prior rival win) may be replaced with a fresh one.
type InitiateChallenge struct {
	Asset ids.ID `serialize:"true" json:"asset"`
}

func (*InitiateChallenge) GetTypeID() uint8 {
	return mconsts.InitiateChallengeID
}

func (t *InitiateChallenge) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)):            state.Read,
		string(storage.RequestKey(t.Asset, actor)):   state.Read | state.Write,
		string(storage.ChallengeKey(t.Asset, actor)): state.All,
	}
}

func (t *InitiateChallenge) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxInitiateChallengeSize),
		MaxSize: MaxInitiateChallengeSize,
	}
	p.PackByte(mconsts.InitiateChallengeID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalInitiateChallenge(bytes []byte) (chain.Action, error) {
	t := &InitiateChallenge{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyInitiateChallenge
	}
	if bytes[0] != mconsts.InitiateChallengeID {
		return nil, fmt.Errorf("unexpected initiate challenge typeID: %d != %d", bytes[0], mconsts.InitiateChallengeID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *InitiateChallenge) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) (_ []byte, err error) {
	var challengeSize uint16
	defer func() {
		RecordChallengeMetric(t.Asset, actor, challengeSize, timestamp, err)
	}()

	req, err := storage.GetRequest(ctx, mu, t.Asset, actor)
	if err != nil {
		return nil, err
	}
	challengeSize = req.ChallengeSize
	if !req.Has(storage.ReqOwnerDeposited) {
		return nil, storage.ErrNotDeposited
	}
	if req.Has(storage.ReqChallengeInitiated) {
		return nil, storage.ErrChallengeExists
	}

	if existing, err := storage.GetChallenge(ctx, mu, t.Asset, actor); err == nil {
		if !existing.Resolved {
			return nil, storage.ErrChallengeExists
		}
	} else if !errors.Is(err, storage.ErrChallengeNotFound) {
		return nil, err
	}

	asset, err := storage.GetAsset(ctx, mu, t.Asset)
	if err != nil {
		return nil, err
	}

	ch := storage.Challenge{
		InitiatedMs: timestamp,
		WinnerParty: asset.Owner,
		WinnerAsset: t.Asset,
	}
	if err := storage.PutChallenge(ctx, mu, t.Asset, actor, ch); err != nil {
		return nil, err
	}

	req.Set(storage.ReqChallengeInitiated)
	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, actor, req); err != nil {
		return nil, err
	}

	result := &InitiateChallengeResult{
		InitiatedMs: timestamp,
		WinnerAsset: t.Asset,
	}
	return result.Bytes(), nil
}

func (*InitiateChallenge) ComputeUnits(chain.Rules) uint64 {
	return InitiateChallengeComputeUnits
}

func (*InitiateChallenge) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*InitiateChallengeResult)(nil)

type InitiateChallengeResult struct {
	InitiatedMs int64  `serialize:"true" json:"initiated_ms"`
	WinnerAsset ids.ID `serialize:"true" json:"winner_asset"`
}

func (*InitiateChallengeResult) GetTypeID() uint8 {
	return mconsts.InitiateChallengeID
}

func (t *InitiateChallengeResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxInitiateChallengeSize,
	}
	p.PackByte(mconsts.InitiateChallengeID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalInitiateChallengeResult(b []byte) (codec.Typed, error) {
	t := &InitiateChallengeResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
