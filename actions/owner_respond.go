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
	"github.com/thesecretlab-dev/datamartvm/fingerprint"
	"github.com/thesecretlab-dev/datamartvm/merkle"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

const (
	OwnerRespondComputeUnits = 16

	// Vectors dominate: MaxChallengeVectors * MaxVectorLen * 8 bytes plus
	// proofs and roots.
	MaxOwnerRespondSize = 262144
)

var (
	ErrUnmarshalEmptyOwnerRespond              = errors.New("cannot unmarshal empty bytes as owner respond")
	_                             chain.Action = (*OwnerRespond)(nil)
)

// OwnerRespond is the challenged owner's disclosure: challengeSize feature
// vectors, each with an inclusion proof against a previously committed root.
// Verified vectors are fingerprinted and stored in the challenge record as
// the baseline rivals must match.
type OwnerRespond struct {
	Asset   ids.ID        `serialize:"true" json:"asset"`
	Buyer   codec.Address `serialize:"true" json:"buyer"`
	Vectors [][]int64     `serialize:"true" json:"vectors"`
	Proofs  [][]ids.ID    `serialize:"true" json:"proofs"`
	Roots   []ids.ID      `serialize:"true" json:"roots"`
}

func (*OwnerRespond) GetTypeID() uint8 {
	return mconsts.OwnerRespondID
}

func (t *OwnerRespond) StateKeys(_ codec.Address, _ ids.ID) state.Keys {
	keys := state.Keys{
		string(storage.AssetKey(t.Asset)):              state.Read,
		string(storage.ProtocolConfigKey()):            state.Read,
		string(storage.RequestKey(t.Asset, t.Buyer)):   state.Read | state.Write,
		string(storage.ChallengeKey(t.Asset, t.Buyer)): state.Read | state.Write,
	}
	for _, root := range t.Roots {
		keys.Add(string(storage.RootCommitmentKey(t.Asset, root)), state.Read)
	}
	return keys
}

func (t *OwnerRespond) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 4096),
		MaxSize: MaxOwnerRespondSize,
	}
	p.PackByte(mconsts.OwnerRespondID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalOwnerRespond(bytes []byte) (chain.Action, error) {
	t := &OwnerRespond{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyOwnerRespond
	}
	if bytes[0] != mconsts.OwnerRespondID {
		return nil, fmt.Errorf("unexpected owner respond typeID: %d != %d", bytes[0], mconsts.OwnerRespondID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *OwnerRespond) Execute(
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
	if !req.Has(storage.ReqChallengeInitiated) {
		return nil, storage.ErrChallengeNotInitiated
	}
	if req.Has(storage.ReqVectorsVerified) {
		return nil, storage.ErrVectorsAlreadyVerified
	}

	count := int(req.ChallengeSize)
	if len(t.Vectors) != count || len(t.Proofs) != count || len(t.Roots) != count {
		return nil, storage.ErrCountMismatch
	}

	ch, err := storage.GetChallenge(ctx, mu, t.Asset, t.Buyer)
	if err != nil {
		return nil, err
	}

	cfg, err := storage.GetProtocolConfig(ctx, mu)
	if err != nil {
		return nil, err
	}
	engine := fingerprint.Cached(cfg.ProjectionSeed, cfg.MaxVectorLen)

	ch.Fingerprints = make([][storage.FingerprintBytes]byte, count)
	ch.Roots = make([]ids.ID, count)
	ch.RootTimestampsMs = make([]int64, count)
	for i := 0; i < count; i++ {
		committed, err := storage.GetRootTimestamp(ctx, mu, t.Asset, t.Roots[i])
		if err != nil {
			return nil, err
		}
		if committed == 0 {
			return nil, storage.ErrInvalidRoot
		}
		if !merkle.VerifyInclusion(t.Vectors[i], t.Proofs[i], t.Roots[i]) {
			return nil, storage.ErrInvalidProof
		}
		fp, err := engine.Compress(t.Vectors[i])
		if err != nil {
			return nil, err
		}
		ch.Fingerprints[i] = [storage.FingerprintBytes]byte(fp)
		ch.Roots[i] = t.Roots[i]
		ch.RootTimestampsMs[i] = committed
	}

	if err := storage.PutChallenge(ctx, mu, t.Asset, t.Buyer, ch); err != nil {
		return nil, err
	}

	req.Set(storage.ReqVectorsVerified)
	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, t.Buyer, req); err != nil {
		return nil, err
	}

	result := &OwnerRespondResult{
		VerifiedCount: req.ChallengeSize,
	}
	return result.Bytes(), nil
}

func (*OwnerRespond) ComputeUnits(chain.Rules) uint64 {
	return OwnerRespondComputeUnits
}

func (*OwnerRespond) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*OwnerRespondResult)(nil)

type OwnerRespondResult struct {
	VerifiedCount uint16 `serialize:"true" json:"verified_count"`
}

func (*OwnerRespondResult) GetTypeID() uint8 {
	return mconsts.OwnerRespondID
}

func (t *OwnerRespondResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxOwnerRespondSize,
	}
	p.PackByte(mconsts.OwnerRespondID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalOwnerRespondResult(b []byte) (codec.Typed, error) {
	t := &OwnerRespondResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
