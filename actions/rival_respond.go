package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/hypersdk/chain"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/ava-labs/hypersdk/state"

	smath "github.com/ava-labs/avalanchego/utils/math"

	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/fingerprint"
	"github.com/thesecretlab-dev/datamartvm/merkle"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

const (
	RivalRespondComputeUnits = 16
	MaxRivalRespondSize      = 262144
)

var (
	ErrChallengeWindowClosed                   = errors.New("challenge response window has closed")
	ErrUnmarshalEmptyRivalRespond              = errors.New("cannot unmarshal empty bytes as rival respond")
	_                             chain.Action = (*RivalRespond)(nil)
)

// RivalRespond lets another asset's owner claim priority over the
// challenged data. Per index, the rival proves inclusion of a similar
// vector under their own, strictly earlier root commitment. A rival whose
// summed timestamp lead beats the current leader's becomes the new
// presumptive winner; submission order never matters, only the lead.
type RivalRespond struct {
	Asset      ids.ID        `serialize:"true" json:"asset"`
	Buyer      codec.Address `serialize:"true" json:"buyer"`
	RivalAsset ids.ID        `serialize:"true" json:"rival_asset"`
	Vectors    [][]int64     `serialize:"true" json:"vectors"`
	Proofs     [][]ids.ID    `serialize:"true" json:"proofs"`
	Roots      []ids.ID      `serialize:"true" json:"roots"`
}

func (*RivalRespond) GetTypeID() uint8 {
	return mconsts.RivalRespondID
}

func (t *RivalRespond) StateKeys(_ codec.Address, _ ids.ID) state.Keys {
	keys := state.Keys{
		string(storage.AssetKey(t.RivalAsset)):         state.Read,
		string(storage.ProtocolConfigKey()):            state.Read,
		string(storage.RequestKey(t.Asset, t.Buyer)):   state.Read | state.Write,
		string(storage.ChallengeKey(t.Asset, t.Buyer)): state.Read | state.Write,
	}
	for _, root := range t.Roots {
		keys.Add(string(storage.RootCommitmentKey(t.RivalAsset, root)), state.Read)
	}
	return keys
}

func (t *RivalRespond) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 4096),
		MaxSize: MaxRivalRespondSize,
	}
	p.PackByte(mconsts.RivalRespondID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalRivalRespond(bytes []byte) (chain.Action, error) {
	t := &RivalRespond{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyRivalRespond
	}
	if bytes[0] != mconsts.RivalRespondID {
		return nil, fmt.Errorf("unexpected rival respond typeID: %d != %d", bytes[0], mconsts.RivalRespondID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RivalRespond) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) (_ []byte, err error) {
	start := time.Now()
	becameWinner := false
	defer func() {
		RecordRivalResponseMetric(t.Asset, t.Buyer, becameWinner, time.Since(start), err)
	}()

	if t.RivalAsset == t.Asset {
		return nil, storage.ErrSelfChallenge
	}

	rival, err := storage.GetAsset(ctx, mu, t.RivalAsset)
	if err != nil {
		return nil, err
	}
	if rival.Owner != actor {
		return nil, storage.ErrOnlyAssetOwner
	}

	req, err := storage.GetRequest(ctx, mu, t.Asset, t.Buyer)
	if err != nil {
		return nil, err
	}
	if !req.Has(storage.ReqDataValidated) {
		return nil, storage.ErrDataNotValidated
	}

	ch, err := storage.GetChallenge(ctx, mu, t.Asset, t.Buyer)
	if err != nil {
		return nil, err
	}
	if ch.Resolved {
		return nil, storage.ErrAlreadyResolved
	}

	cfg, err := storage.GetProtocolConfig(ctx, mu)
	if err != nil {
		return nil, err
	}
	if timestamp >= ch.InitiatedMs+cfg.ChallengeWindowMs {
		return nil, ErrChallengeWindowClosed
	}

	count := len(ch.Fingerprints)
	if len(t.Vectors) != count || len(t.Proofs) != count || len(t.Roots) != count {
		return nil, storage.ErrCountMismatch
	}

	engine := fingerprint.Cached(cfg.ProjectionSeed, cfg.MaxVectorLen)

	var lead uint64
	for i := 0; i < count; i++ {
		committed, err := storage.GetRootTimestamp(ctx, mu, t.RivalAsset, t.Roots[i])
		if err != nil {
			return nil, err
		}
		if committed == 0 {
			return nil, storage.ErrInvalidRoot
		}
		if committed >= ch.RootTimestampsMs[i] {
			return nil, storage.ErrChallengerNotEarlier
		}
		if !merkle.VerifyInclusion(t.Vectors[i], t.Proofs[i], t.Roots[i]) {
			return nil, storage.ErrInvalidProof
		}
		fp, err := engine.Compress(t.Vectors[i])
		if err != nil {
			return nil, err
		}
		original := fingerprint.Fingerprint(ch.Fingerprints[i])
		if !fingerprint.MeetsThreshold(fp, original, cfg.SimilarityThresholdPercent) {
			return nil, storage.ErrSimilarityBelowThreshold
		}
		lead, err = smath.Add(lead, uint64(ch.RootTimestampsMs[i]-committed))
		if err != nil {
			return nil, err
		}
	}

	becameWinner = lead > ch.TotalAdvantageMs
	if becameWinner {
		ch.WinnerParty = actor
		ch.WinnerAsset = t.RivalAsset
		ch.TotalAdvantageMs = lead
		if err := storage.PutChallenge(ctx, mu, t.Asset, t.Buyer, ch); err != nil {
			return nil, err
		}
	}

	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, t.Buyer, req); err != nil {
		return nil, err
	}

	result := &RivalRespondResult{
		TotalLeadMs:  lead,
		BecameWinner: becameWinner,
	}
	return result.Bytes(), nil
}

func (*RivalRespond) ComputeUnits(chain.Rules) uint64 {
	return RivalRespondComputeUnits
}

func (*RivalRespond) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*RivalRespondResult)(nil)

type RivalRespondResult struct {
	TotalLeadMs  uint64 `serialize:"true" json:"total_lead_ms"`
	BecameWinner bool   `serialize:"true" json:"became_winner"`
}

func (*RivalRespondResult) GetTypeID() uint8 {
	return mconsts.RivalRespondID
}

func (t *RivalRespondResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxRivalRespondSize,
	}
	p.PackByte(mconsts.RivalRespondID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalRivalRespondResult(b []byte) (codec.Typed, error) {
	t := &RivalRespondResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
