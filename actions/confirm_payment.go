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
	"github.com/thesecretlab-dev/datamartvm/storage"
)

const (
	ConfirmPaymentComputeUnits = 8
	MaxConfirmPaymentSize      = 512
)

var (
	ErrOnlyWinner                                = errors.New("caller is not the challenge winner")
	ErrUnmarshalEmptyConfirmPayment              = errors.New("cannot unmarshal empty bytes as confirm payment")
	_                               chain.Action = (*ConfirmPayment)(nil)
)

// ConfirmPayment settles delivered batches. The buyer reveals hashchain
// preimages to the seller off-chain with each delivery; the challenge
// winner submits the deepest reveal here. Hashing the preimage
// NewCompletedBatches times must reproduce the stored tip, which then
// advances to the preimage, so the same reveal can never be paid twice and
// total payment never exceeds the requested quantity.
//
// Paying out the final batch closes the trade: the owner stake is
// returned, the asset (for data+asset trades covering the full dataset)
// moves to the buyer against the escrowed transfer fee, and all pair
// records are deleted.
type ConfirmPayment struct {
	Asset               ids.ID        `serialize:"true" json:"asset"`
	Buyer               codec.Address `serialize:"true" json:"buyer"`
	FinalPreimage       ids.ID        `serialize:"true" json:"final_preimage"`
	NewCompletedBatches uint64        `serialize:"true" json:"new_completed_batches"`
}

func (*ConfirmPayment) GetTypeID() uint8 {
	return mconsts.ConfirmPaymentID
}

func (t *ConfirmPayment) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.AssetKey(t.Asset)):              state.Read | state.Write,
		string(storage.RequestKey(t.Asset, t.Buyer)):   state.Read | state.Write,
		string(storage.ChallengeKey(t.Asset, t.Buyer)): state.All,
		string(storage.HashchainKey(t.Asset, t.Buyer)): state.All,
		string(storage.BalanceKey(actor)):              state.Read | state.Write,
		string(storage.BalanceKey(t.Buyer)):            state.All,
		string(storage.SellerStatsKey(actor)):          state.Read | state.Write,
	}
}

func (t *ConfirmPayment) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxConfirmPaymentSize),
		MaxSize: MaxConfirmPaymentSize,
	}
	p.PackByte(mconsts.ConfirmPaymentID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalConfirmPayment(bytes []byte) (chain.Action, error) {
	t := &ConfirmPayment{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyConfirmPayment
	}
	if bytes[0] != mconsts.ConfirmPaymentID {
		return nil, fmt.Errorf("unexpected confirm payment typeID: %d != %d", bytes[0], mconsts.ConfirmPaymentID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ConfirmPayment) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) (_ []byte, err error) {
	start := time.Now()
	var (
		paid          uint64
		completedAtMs int64
	)
	defer func() {
		RecordPaymentMetric(t.Asset, t.Buyer, t.NewCompletedBatches, paid, completedAtMs, time.Since(start), err)
	}()

	ch, err := storage.GetChallenge(ctx, mu, t.Asset, t.Buyer)
	if err != nil {
		return nil, err
	}
	if !ch.Resolved {
		return nil, storage.ErrNotResolved
	}
	if ch.WinnerAsset != t.Asset {
		return nil, ErrStaleChallengeState
	}
	if ch.WinnerParty != actor {
		return nil, ErrOnlyWinner
	}

	req, err := storage.GetRequest(ctx, mu, t.Asset, t.Buyer)
	if err != nil {
		return nil, err
	}
	hc, err := storage.GetHashchain(ctx, mu, t.Asset, t.Buyer)
	if err != nil {
		return nil, err
	}

	remaining := req.BatchNumber - hc.CompletedBatches
	if t.NewCompletedBatches == 0 || t.NewCompletedBatches > remaining {
		return nil, storage.ErrExceedsRequested
	}
	if !verifyHashchainReveal(hc.Tip, t.FinalPreimage, t.NewCompletedBatches) {
		return nil, storage.ErrInvalidHashchainReveal
	}

	payment, err := smath.Mul(req.BatchPrice, t.NewCompletedBatches)
	if err != nil {
		return nil, err
	}
	paid = payment
	req.BuyerEscrow, err = smath.Sub(req.BuyerEscrow, payment)
	if err != nil {
		return nil, fmt.Errorf("%w: escrow below owed payment", storage.ErrInvalidBalance)
	}

	hc.Tip = t.FinalPreimage
	hc.CompletedBatches += t.NewCompletedBatches
	completed := hc.CompletedBatches == req.BatchNumber

	ownerPayout := payment
	var buyerRefund uint64
	assetTransferred := false

	if completed {
		completedAtMs = timestamp
		// Stake comes home and any escrow remainder (the transfer fee, or
		// dust from a partial data+asset trade) settles.
		ownerPayout, err = smath.Add(ownerPayout, req.OwnerEscrow)
		if err != nil {
			return nil, err
		}
		leftover := req.BuyerEscrow
		req.OwnerEscrow = 0
		req.BuyerEscrow = 0

		asset, err := storage.GetAsset(ctx, mu, t.Asset)
		if err != nil {
			return nil, err
		}
		if req.TradeType == mconsts.TradeTypeDataAndAsset && req.BatchNumber == asset.BatchNumber {
			asset.Owner = t.Buyer
			asset.Approved = codec.EmptyAddress
			if err := storage.PutAsset(ctx, mu, t.Asset, asset); err != nil {
				return nil, err
			}
			assetTransferred = true
			ownerPayout, err = smath.Add(ownerPayout, leftover)
			if err != nil {
				return nil, err
			}
		} else {
			buyerRefund = leftover
		}

		if err := storage.RemoveRequest(ctx, mu, t.Asset, t.Buyer); err != nil {
			return nil, err
		}
		if err := storage.RemoveChallenge(ctx, mu, t.Asset, t.Buyer); err != nil {
			return nil, err
		}
		if err := storage.RemoveHashchain(ctx, mu, t.Asset, t.Buyer); err != nil {
			return nil, err
		}
	} else {
		if err := storage.PutHashchain(ctx, mu, t.Asset, t.Buyer, hc); err != nil {
			return nil, err
		}
		req.LastActivityMs = timestamp
		if err := storage.PutRequest(ctx, mu, t.Asset, t.Buyer, req); err != nil {
			return nil, err
		}
	}

	stats, err := storage.GetSellerStats(ctx, mu, actor)
	if err != nil {
		return nil, err
	}
	stats.BatchesSold += t.NewCompletedBatches
	stats.LastActivityMs = timestamp
	if err := storage.PutSellerStats(ctx, mu, actor, stats); err != nil {
		return nil, err
	}

	if _, err := storage.AddBalance(ctx, mu, actor, ownerPayout); err != nil {
		return nil, err
	}
	if buyerRefund > 0 {
		if _, err := storage.AddBalance(ctx, mu, t.Buyer, buyerRefund); err != nil {
			return nil, err
		}
	}

	result := &ConfirmPaymentResult{
		Paid:             payment,
		CompletedBatches: hc.CompletedBatches,
		Completed:        completed,
		AssetTransferred: assetTransferred,
	}
	return result.Bytes(), nil
}

func (*ConfirmPayment) ComputeUnits(chain.Rules) uint64 {
	return ConfirmPaymentComputeUnits
}

func (*ConfirmPayment) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*ConfirmPaymentResult)(nil)

type ConfirmPaymentResult struct {
	Paid             uint64 `serialize:"true" json:"paid"`
	CompletedBatches uint64 `serialize:"true" json:"completed_batches"`
	Completed        bool   `serialize:"true" json:"completed"`
	AssetTransferred bool   `serialize:"true" json:"asset_transferred"`
}

func (*ConfirmPaymentResult) GetTypeID() uint8 {
	return mconsts.ConfirmPaymentID
}

func (t *ConfirmPaymentResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxConfirmPaymentSize,
	}
	p.PackByte(mconsts.ConfirmPaymentID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalConfirmPaymentResult(b []byte) (codec.Typed, error) {
	t := &ConfirmPaymentResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
