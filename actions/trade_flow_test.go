package actions

import (
	"errors"
	"testing"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/state"

	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

func TestTradeHappyPathSettlesExactly(t *testing.T) {
	env := newTradeEnv(t)
	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)

	// Window (10s) elapses with no rival; anyone may resolve.
	env.exec(t, &ResolveChallenge{
		Asset:       env.asset,
		Buyer:       env.buyer,
		Owner:       env.owner,
		Winner:      env.owner,
		WinnerAsset: env.asset,
	}, 13_000, testAddr(0xcc), ids.Empty)

	ch := env.challenge(t)
	if !ch.Resolved || ch.WinnerParty != env.owner {
		t.Fatalf("challenge not resolved for the owner: %+v", ch)
	}

	secret := testID(0x5e)
	hc := BuildHashchain(secret, testBatchCount)
	env.exec(t, &SetHashchainTip{Asset: env.asset, Tip: hc[testBatchCount]}, 13_100, env.buyer, ids.Empty)

	// Two batches delivered, then the rest.
	out := env.exec(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[2],
		NewCompletedBatches: 2,
	}, 13_200, env.owner, ids.Empty)
	typed, err := UnmarshalConfirmPaymentResult(out)
	if err != nil {
		t.Fatalf("decode payment result: %v", err)
	}
	partial := typed.(*ConfirmPaymentResult)
	if partial.Paid != 2*testBatchPrice || partial.Completed {
		t.Fatalf("unexpected partial payment result: %+v", partial)
	}

	out = env.exec(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[0],
		NewCompletedBatches: 2,
	}, 13_300, env.owner, ids.Empty)
	typed, err = UnmarshalConfirmPaymentResult(out)
	if err != nil {
		t.Fatalf("decode payment result: %v", err)
	}
	final := typed.(*ConfirmPaymentResult)
	if !final.Completed || final.AssetTransferred {
		t.Fatalf("unexpected final payment result: %+v", final)
	}

	// Full price moved from buyer to owner; the stake came home.
	total := testBatchPrice * testBatchCount
	if got := env.balance(t, env.buyer); got != testStartBalance-total {
		t.Fatalf("buyer balance: got=%d want=%d", got, testStartBalance-total)
	}
	if got := env.balance(t, env.owner); got != testStartBalance+total {
		t.Fatalf("owner balance: got=%d want=%d", got, testStartBalance+total)
	}

	// Pair records are gone.
	if _, err := storage.GetRequest(env.ctx, env.state, env.asset, env.buyer); !errors.Is(err, storage.ErrRequestNotFound) {
		t.Fatalf("request not removed: %v", err)
	}
	if _, err := storage.GetHashchain(env.ctx, env.state, env.asset, env.buyer); !errors.Is(err, storage.ErrTipNotSet) {
		t.Fatalf("hashchain not removed: %v", err)
	}

	stats, err := storage.GetSellerStats(env.ctx, env.state, env.owner)
	if err != nil {
		t.Fatalf("get seller stats: %v", err)
	}
	if stats.RootsCommitted != 1 || stats.ChallengesWon != 1 || stats.BatchesSold != testBatchCount {
		t.Fatalf("unexpected seller stats: %+v", stats)
	}
}

func TestRootCommitmentsAreOneTime(t *testing.T) {
	env := newTradeEnv(t)

	if err := env.execErr(t, &UpdateRoot{Asset: env.asset, Root: env.root}, 5_000, env.owner); !errors.Is(err, storage.ErrDuplicateRoot) {
		t.Fatalf("expected ErrDuplicateRoot, got %v", err)
	}

	// The original timestamp survives the rejected recommit.
	ts, err := storage.GetRootTimestamp(env.ctx, env.state, env.asset, env.root)
	if err != nil {
		t.Fatalf("get root timestamp: %v", err)
	}
	if ts != testRootCommitMs {
		t.Fatalf("commit timestamp moved: got=%d want=%d", ts, testRootCommitMs)
	}

	if err := env.execErr(t, &UpdateRoot{Asset: env.asset, Root: testID(0x33)}, 5_000, env.buyer); !errors.Is(err, storage.ErrOnlyAssetOwner) {
		t.Fatalf("expected ErrOnlyAssetOwner, got %v", err)
	}
}

func TestUpdateRootStateKeysAllowFirstCommit(t *testing.T) {
	seller := testAddr(0xaa)
	action := &UpdateRoot{Asset: testID(0x01), Root: testID(0x33)}
	keys := action.StateKeys(seller, ids.Empty)

	// A seller's first commit creates both the commitment record and the
	// seller stats record; both declarations need allocation rights.
	if perm := keys[string(storage.RootCommitmentKey(action.Asset, action.Root))]; perm != state.All {
		t.Fatalf("root commitment key permissions: %v", perm)
	}
	if perm := keys[string(storage.SellerStatsKey(seller))]; perm != state.All {
		t.Fatalf("seller stats key permissions: %v", perm)
	}
}

func TestEscrowStateMachineRejectsReentry(t *testing.T) {
	env := newTradeEnv(t)
	env.throughDeposits(t, 2_000)

	if err := env.execErr(t, &RequestPurchase{
		Asset:              env.asset,
		BatchPrice:         testBatchPrice,
		BatchNumber:        testBatchCount,
		TradeType:          mconsts.TradeTypeDataOnly,
		ChallengeSize:      testChallengeSize,
		OwnerDepositAmount: testOwnerStake,
	}, 2_100, env.buyer); !errors.Is(err, storage.ErrRequestExists) {
		t.Fatalf("expected ErrRequestExists, got %v", err)
	}
	if err := env.execErr(t, &ConfirmRequest{Asset: env.asset, Buyer: env.buyer}, 2_100, env.owner); !errors.Is(err, storage.ErrAlreadyConfirmed) {
		t.Fatalf("expected ErrAlreadyConfirmed, got %v", err)
	}
	if err := env.execErr(t, &BuyerDeposit{Asset: env.asset, Amount: env.buyerDepositAmount()}, 2_100, env.buyer); !errors.Is(err, storage.ErrAlreadyDeposited) {
		t.Fatalf("expected ErrAlreadyDeposited, got %v", err)
	}
	if err := env.execErr(t, &OwnerDeposit{Asset: env.asset, Buyer: env.buyer, Amount: testOwnerStake}, 2_100, env.owner); !errors.Is(err, storage.ErrAlreadyDeposited) {
		t.Fatalf("expected ErrAlreadyDeposited, got %v", err)
	}

	env.throughValidation(t, 3_000)
	if err := env.execErr(t, &InitiateChallenge{Asset: env.asset}, 3_100, env.buyer); !errors.Is(err, storage.ErrChallengeExists) {
		t.Fatalf("expected ErrChallengeExists, got %v", err)
	}
	if err := env.execErr(t, &ValidateData{Asset: env.asset}, 3_100, env.buyer); !errors.Is(err, storage.ErrDataAlreadyValidated) {
		t.Fatalf("expected ErrDataAlreadyValidated, got %v", err)
	}
}

func TestEscrowDepositsMustMatchExactly(t *testing.T) {
	env := newTradeEnv(t)
	env.exec(t, &RequestPurchase{
		Asset:              env.asset,
		BatchPrice:         testBatchPrice,
		BatchNumber:        testBatchCount,
		TradeType:          mconsts.TradeTypeDataOnly,
		ChallengeSize:      testChallengeSize,
		OwnerDepositAmount: testOwnerStake,
	}, 2_000, env.buyer, ids.Empty)

	// Deposits require owner confirmation first.
	if err := env.execErr(t, &BuyerDeposit{Asset: env.asset, Amount: env.buyerDepositAmount()}, 2_100, env.buyer); !errors.Is(err, storage.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	env.exec(t, &ConfirmRequest{Asset: env.asset, Buyer: env.buyer}, 2_200, env.owner, ids.Empty)

	if err := env.execErr(t, &BuyerDeposit{Asset: env.asset, Amount: env.buyerDepositAmount() - 1}, 2_300, env.buyer); !errors.Is(err, storage.ErrIncorrectDepositAmount) {
		t.Fatalf("expected ErrIncorrectDepositAmount, got %v", err)
	}
	env.exec(t, &BuyerDeposit{Asset: env.asset, Amount: env.buyerDepositAmount()}, 2_400, env.buyer, ids.Empty)

	if err := env.execErr(t, &OwnerDeposit{Asset: env.asset, Buyer: env.buyer, Amount: testOwnerStake + 1}, 2_500, env.owner); !errors.Is(err, storage.ErrIncorrectDepositAmount) {
		t.Fatalf("expected ErrIncorrectDepositAmount, got %v", err)
	}

	// Escrow mirrors the debited balances.
	env.exec(t, &OwnerDeposit{Asset: env.asset, Buyer: env.buyer, Amount: testOwnerStake}, 2_600, env.owner, ids.Empty)
	req := env.request(t)
	if req.BuyerEscrow != env.buyerDepositAmount() || req.OwnerEscrow != testOwnerStake {
		t.Fatalf("unexpected escrows: %+v", req)
	}
	if got := env.balance(t, env.buyer); got != testStartBalance-env.buyerDepositAmount() {
		t.Fatalf("buyer balance after deposit: %d", got)
	}
}

func TestConfirmPaymentRejectsReplayAndOverdraw(t *testing.T) {
	env := newTradeEnv(t)
	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)
	env.exec(t, &ResolveChallenge{
		Asset:       env.asset,
		Buyer:       env.buyer,
		Owner:       env.owner,
		Winner:      env.owner,
		WinnerAsset: env.asset,
	}, 13_000, env.buyer, ids.Empty)

	secret := testID(0x5f)
	hc := BuildHashchain(secret, testBatchCount)
	env.exec(t, &SetHashchainTip{Asset: env.asset, Tip: hc[testBatchCount]}, 13_100, env.buyer, ids.Empty)

	if err := env.execErr(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[0],
		NewCompletedBatches: testBatchCount + 1,
	}, 13_200, env.owner); !errors.Is(err, storage.ErrExceedsRequested) {
		t.Fatalf("expected ErrExceedsRequested, got %v", err)
	}

	env.exec(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[2],
		NewCompletedBatches: 2,
	}, 13_300, env.owner, ids.Empty)

	// The tip advanced; the same reveal cannot be paid twice.
	if err := env.execErr(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[2],
		NewCompletedBatches: 2,
	}, 13_400, env.owner); !errors.Is(err, storage.ErrInvalidHashchainReveal) {
		t.Fatalf("expected ErrInvalidHashchainReveal, got %v", err)
	}

	// Only the winner settles.
	if err := env.execErr(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[0],
		NewCompletedBatches: 2,
	}, 13_500, env.buyer); !errors.Is(err, ErrOnlyWinner) {
		t.Fatalf("expected ErrOnlyWinner, got %v", err)
	}
}

func TestSetHashchainTipRequiresResolvedChallenge(t *testing.T) {
	env := newTradeEnv(t)
	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)

	tip := testID(0x77)
	if err := env.execErr(t, &SetHashchainTip{Asset: env.asset, Tip: ids.Empty}, 4_000, env.buyer); !errors.Is(err, storage.ErrTipZero) {
		t.Fatalf("expected ErrTipZero, got %v", err)
	}
	if err := env.execErr(t, &SetHashchainTip{Asset: env.asset, Tip: tip}, 4_000, env.buyer); !errors.Is(err, storage.ErrNotResolved) {
		t.Fatalf("expected ErrNotResolved, got %v", err)
	}

	env.exec(t, &ResolveChallenge{
		Asset:       env.asset,
		Buyer:       env.buyer,
		Owner:       env.owner,
		Winner:      env.owner,
		WinnerAsset: env.asset,
	}, 13_000, env.buyer, ids.Empty)

	env.exec(t, &SetHashchainTip{Asset: env.asset, Tip: tip}, 13_100, env.buyer, ids.Empty)
	if err := env.execErr(t, &SetHashchainTip{Asset: env.asset, Tip: tip}, 13_200, env.buyer); !errors.Is(err, storage.ErrTipAlreadySet) {
		t.Fatalf("expected ErrTipAlreadySet, got %v", err)
	}
}

func TestOwnerCleanupTimeoutBoundary(t *testing.T) {
	env := newTradeEnv(t)
	env.throughDeposits(t, 2_000)

	// Last activity is the owner deposit at 2_003; the timeout is 50s.
	lastActivity := env.request(t).LastActivityMs
	deadline := lastActivity + env.cfg.TransactionTimeoutMs

	cleanup := &OwnerCleanup{Asset: env.asset, Buyer: env.buyer}
	if err := env.execErr(t, cleanup, deadline, env.owner); !errors.Is(err, storage.ErrNotTimedOut) {
		t.Fatalf("expected ErrNotTimedOut at the deadline, got %v", err)
	}
	if err := env.execErr(t, cleanup, deadline-1, env.buyer); !errors.Is(err, storage.ErrOnlyAssetOwner) {
		t.Fatalf("expected ErrOnlyAssetOwner, got %v", err)
	}

	out := env.exec(t, cleanup, deadline+1, env.owner, ids.Empty)
	typed, err := UnmarshalOwnerCleanupResult(out)
	if err != nil {
		t.Fatalf("decode cleanup result: %v", err)
	}
	res := typed.(*OwnerCleanupResult)
	if res.BuyerRefund != env.buyerDepositAmount() || res.OwnerRefund != testOwnerStake {
		t.Fatalf("unexpected refunds: %+v", res)
	}

	// Both parties are made whole and the request is gone.
	if got := env.balance(t, env.buyer); got != testStartBalance {
		t.Fatalf("buyer not refunded: %d", got)
	}
	if got := env.balance(t, env.owner); got != testStartBalance {
		t.Fatalf("owner not refunded: %d", got)
	}
	if _, err := storage.GetRequest(env.ctx, env.state, env.asset, env.buyer); !errors.Is(err, storage.ErrRequestNotFound) {
		t.Fatalf("request not removed: %v", err)
	}
}

func TestDataAndAssetTradeTransfersOwnership(t *testing.T) {
	env := newTradeEnv(t)
	fee := uint64(40)

	env.exec(t, &RequestPurchase{
		Asset:              env.asset,
		BatchPrice:         testBatchPrice,
		BatchNumber:        testBatchCount,
		TradeType:          mconsts.TradeTypeDataAndAsset,
		ChallengeSize:      testChallengeSize,
		AssetTransferFee:   fee,
		OwnerDepositAmount: testOwnerStake,
	}, 2_000, env.buyer, ids.Empty)
	env.exec(t, &ConfirmRequest{Asset: env.asset, Buyer: env.buyer}, 2_001, env.owner, ids.Empty)
	env.exec(t, &BuyerDeposit{Asset: env.asset, Amount: env.buyerDepositAmount() + fee}, 2_002, env.buyer, ids.Empty)
	env.exec(t, &OwnerDeposit{Asset: env.asset, Buyer: env.buyer, Amount: testOwnerStake}, 2_003, env.owner, ids.Empty)
	env.throughValidation(t, 3_000)
	env.exec(t, &ResolveChallenge{
		Asset:       env.asset,
		Buyer:       env.buyer,
		Owner:       env.owner,
		Winner:      env.owner,
		WinnerAsset: env.asset,
	}, 13_000, env.buyer, ids.Empty)

	secret := testID(0x60)
	hc := BuildHashchain(secret, testBatchCount)
	env.exec(t, &SetHashchainTip{Asset: env.asset, Tip: hc[testBatchCount]}, 13_100, env.buyer, ids.Empty)

	out := env.exec(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[0],
		NewCompletedBatches: testBatchCount,
	}, 13_200, env.owner, ids.Empty)
	typed, err := UnmarshalConfirmPaymentResult(out)
	if err != nil {
		t.Fatalf("decode payment result: %v", err)
	}
	res := typed.(*ConfirmPaymentResult)
	if !res.Completed || !res.AssetTransferred {
		t.Fatalf("full data+asset trade did not transfer the asset: %+v", res)
	}

	asset, err := storage.GetAsset(env.ctx, env.state, env.asset)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Owner != env.buyer {
		t.Fatalf("asset owner not transferred")
	}

	// Owner collects price plus the transfer fee; the stake returns.
	total := testBatchPrice*testBatchCount + fee
	if got := env.balance(t, env.owner); got != testStartBalance+total {
		t.Fatalf("owner balance: got=%d want=%d", got, testStartBalance+total)
	}
	if got := env.balance(t, env.buyer); got != testStartBalance-total {
		t.Fatalf("buyer balance: got=%d want=%d", got, testStartBalance-total)
	}
}
