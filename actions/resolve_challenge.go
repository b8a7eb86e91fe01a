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
	ResolveChallengeComputeUnits = 8
	MaxResolveChallengeSize      = 1024
)

var (
	ErrChallengeWindowOpen                         = errors.New("challenge response window still open")
	ErrStaleChallengeState                         = errors.New("participants do not match challenge state")
	ErrUnmarshalEmptyResolveChallenge              = errors.New("cannot unmarshal empty bytes as resolve challenge")
	_                                 chain.Action = (*ResolveChallenge)(nil)
)

// ResolveChallenge finalizes the dispute once the response window has
// elapsed; any party may call it. Owner, Winner and WinnerAsset must echo
// the current on-chain challenge state so that all touched balances are
// declared up front; a mismatch (a rival displaced the leader in the same
// window) rejects the transaction.
//
// If the challenged asset kept the lead, escrow stays in place and payment
// proceeds via the hashchain meter. If a rival won, the buyer is refunded
// in full plus half the owner's stake, the rival receives the other half,
// and a resolved challenge is seeded for (winner asset, buyer) so the buyer
// can purchase from the authentic seller without a second dispute.
type ResolveChallenge struct {
	Asset       ids.ID        `serialize:"true" json:"asset"`
	Buyer       codec.Address `serialize:"true" json:"buyer"`
	Owner       codec.Address `serialize:"true" json:"owner"`
	Winner      codec.Address `serialize:"true" json:"winner"`
	WinnerAsset ids.ID        `serialize:"true" json:"winner_asset"`
}

func (*ResolveChallenge) GetTypeID() uint8 {
	return mconsts.ResolveChallengeID
}

func (t *ResolveChallenge) StateKeys(_ codec.Address, _ ids.ID) state.Keys {
	keys := state.Keys{}
	keys.Add(string(storage.AssetKey(t.Asset)), state.Read)
	keys.Add(string(storage.ProtocolConfigKey()), state.Read)
	keys.Add(string(storage.RequestKey(t.Asset, t.Buyer)), state.Read|state.Write)
	keys.Add(string(storage.ChallengeKey(t.Asset, t.Buyer)), state.Read|state.Write)
	keys.Add(string(storage.ChallengeKey(t.WinnerAsset, t.Buyer)), state.All)
	keys.Add(string(storage.BalanceKey(t.Buyer)), state.All)
	keys.Add(string(storage.BalanceKey(t.Winner)), state.All)
	keys.Add(string(storage.SellerStatsKey(t.Owner)), state.Read|state.Write)
	keys.Add(string(storage.SellerStatsKey(t.Winner)), state.Read|state.Write)
	return keys
}

func (t *ResolveChallenge) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxResolveChallengeSize),
		MaxSize: MaxResolveChallengeSize,
	}
	p.PackByte(mconsts.ResolveChallengeID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalResolveChallenge(bytes []byte) (chain.Action, error) {
	t := &ResolveChallenge{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyResolveChallenge
	}
	if bytes[0] != mconsts.ResolveChallengeID {
		return nil, fmt.Errorf("unexpected resolve challenge typeID: %d != %d", bytes[0], mconsts.ResolveChallengeID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ResolveChallenge) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	_ codec.Address,
	_ ids.ID,
) (_ []byte, err error) {
	originalWon := false
	defer func() {
		RecordResolutionMetric(t.Asset, t.Buyer, timestamp, originalWon, err)
	}()

	asset, err := storage.GetAsset(ctx, mu, t.Asset)
	if err != nil {
		return nil, err
	}
	if asset.Owner != t.Owner {
		return nil, ErrStaleChallengeState
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
	if ch.WinnerParty != t.Winner || ch.WinnerAsset != t.WinnerAsset {
		return nil, ErrStaleChallengeState
	}

	cfg, err := storage.GetProtocolConfig(ctx, mu)
	if err != nil {
		return nil, err
	}
	if timestamp < ch.InitiatedMs+cfg.ChallengeWindowMs {
		return nil, ErrChallengeWindowOpen
	}

	originalWon = ch.WinnerAsset == t.Asset

	ch.Resolved = true
	if err := storage.PutChallenge(ctx, mu, t.Asset, t.Buyer, ch); err != nil {
		return nil, err
	}

	var buyerRefund, winnerPayout uint64
	if !originalWon {
		// The loser's stake splits evenly; the buyer also recovers the
		// full escrowed payment.
		winnerPayout = req.OwnerEscrow / 2
		buyerRefund = req.BuyerEscrow + (req.OwnerEscrow - winnerPayout)
		req.BuyerEscrow = 0
		req.OwnerEscrow = 0

		seeded := storage.Challenge{
			InitiatedMs:      timestamp,
			Resolved:         true,
			WinnerParty:      ch.WinnerParty,
			WinnerAsset:      ch.WinnerAsset,
			TotalAdvantageMs: ch.TotalAdvantageMs,
		}
		if err := storage.PutChallenge(ctx, mu, ch.WinnerAsset, t.Buyer, seeded); err != nil {
			return nil, err
		}
	}

	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, t.Buyer, req); err != nil {
		return nil, err
	}

	if err := t.updateSellerStats(ctx, mu, originalWon, timestamp); err != nil {
		return nil, err
	}

	// Records are final; credits last.
	if buyerRefund > 0 {
		if _, err := storage.AddBalance(ctx, mu, t.Buyer, buyerRefund); err != nil {
			return nil, err
		}
	}
	if winnerPayout > 0 {
		if _, err := storage.AddBalance(ctx, mu, t.Winner, winnerPayout); err != nil {
			return nil, err
		}
	}

	result := &ResolveChallengeResult{
		OriginalWon:  originalWon,
		Winner:       t.Winner,
		WinnerAsset:  t.WinnerAsset,
		BuyerRefund:  buyerRefund,
		WinnerPayout: winnerPayout,
	}
	return result.Bytes(), nil
}

// updateSellerStats tracks reputation for the challenged owner and, on a
// rival win, the winner. Both may be the same address when an owner rivals
// their own listing under a different asset.
func (t *ResolveChallenge) updateSellerStats(
	ctx context.Context,
	mu state.Mutable,
	originalWon bool,
	timestamp int64,
) error {
	ownerStats, err := storage.GetSellerStats(ctx, mu, t.Owner)
	if err != nil {
		return err
	}
	if originalWon {
		ownerStats.ChallengesWon++
		ownerStats.LastActivityMs = timestamp
		return storage.PutSellerStats(ctx, mu, t.Owner, ownerStats)
	}

	ownerStats.ChallengesLost++
	ownerStats.LastActivityMs = timestamp
	if t.Winner == t.Owner {
		ownerStats.RivalWins++
		return storage.PutSellerStats(ctx, mu, t.Owner, ownerStats)
	}
	if err := storage.PutSellerStats(ctx, mu, t.Owner, ownerStats); err != nil {
		return err
	}

	winnerStats, err := storage.GetSellerStats(ctx, mu, t.Winner)
	if err != nil {
		return err
	}
	winnerStats.RivalWins++
	winnerStats.LastActivityMs = timestamp
	return storage.PutSellerStats(ctx, mu, t.Winner, winnerStats)
}

func (*ResolveChallenge) ComputeUnits(chain.Rules) uint64 {
	return ResolveChallengeComputeUnits
}

func (*ResolveChallenge) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*ResolveChallengeResult)(nil)

type ResolveChallengeResult struct {
	OriginalWon  bool          `serialize:"true" json:"original_won"`
	Winner       codec.Address `serialize:"true" json:"winner"`
	WinnerAsset  ids.ID        `serialize:"true" json:"winner_asset"`
	BuyerRefund  uint64        `serialize:"true" json:"buyer_refund"`
	WinnerPayout uint64        `serialize:"true" json:"winner_payout"`
}

func (*ResolveChallengeResult) GetTypeID() uint8 {
	return mconsts.ResolveChallengeID
}

func (t *ResolveChallengeResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxResolveChallengeSize,
	}
	p.PackByte(mconsts.ResolveChallengeID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalResolveChallengeResult(b []byte) (codec.Typed, error) {
	t := &ResolveChallengeResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
