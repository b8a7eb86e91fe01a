package actions

import (
	"testing"

	"github.com/ava-labs/avalanchego/ids"
)

func TestTradeMetricsTrackSettlement(t *testing.T) {
	ResetTradeMetrics()
	defer ResetTradeMetrics()

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

	secret := testID(0x61)
	hc := BuildHashchain(secret, testBatchCount)
	env.exec(t, &SetHashchainTip{Asset: env.asset, Tip: hc[testBatchCount]}, 13_100, env.buyer, ids.Empty)
	env.exec(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[2],
		NewCompletedBatches: 2,
	}, 13_200, env.owner, ids.Empty)
	env.exec(t, &ConfirmPayment{
		Asset:               env.asset,
		Buyer:               env.buyer,
		FinalPreimage:       hc[0],
		NewCompletedBatches: 2,
	}, 13_300, env.owner, ids.Empty)

	snap := GetTradeMetricsSnapshot(10, true)
	s := snap.Summary
	if s.TotalChallenges != 1 || s.TotalResolutions != 1 || s.TotalOriginalWins != 1 {
		t.Fatalf("unexpected challenge summary: %+v", s)
	}
	if s.TotalPayments != 2 || s.TotalBatchesPaid != testBatchCount || s.TotalCompletedTrades != 1 {
		t.Fatalf("unexpected payment summary: %+v", s)
	}
	if len(snap.Trades) != 1 {
		t.Fatalf("expected one observed trade, got %d", len(snap.Trades))
	}

	trade := snap.Trades[0]
	if trade.ChallengeSize != testChallengeSize || trade.ChallengeInitiatedAtMs != 3_000 {
		t.Fatalf("challenge fields not recorded: %+v", trade)
	}
	if !trade.OriginalWon || trade.ResolvedAtMs != 13_000 || trade.DisputeDurationMs != 10_000 {
		t.Fatalf("resolution fields not recorded: %+v", trade)
	}
	if trade.BatchesPaid != testBatchCount || trade.PaidAmount != testBatchPrice*testBatchCount {
		t.Fatalf("payment fields not recorded: %+v", trade)
	}
	if trade.CompletedAtMs != 13_300 || trade.SettlementLatencyMs != 300 {
		t.Fatalf("completion fields not recorded: %+v", trade)
	}
	if trade.Rejected {
		t.Fatalf("clean trade marked rejected: %+v", trade)
	}
}

func TestTradeMetricsTrackRivalDispute(t *testing.T) {
	ResetTradeMetrics()
	defer ResetTradeMetrics()

	env := newTradeEnv(t)
	rival := testAddr(0xc1)
	rivalAsset := testID(0x11)
	env.addRival(t, rival, rivalAsset, 400)

	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)
	env.exec(t, env.rivalRespond(rivalAsset), 4_000, rival, ids.Empty)
	env.exec(t, &ResolveChallenge{
		Asset:       env.asset,
		Buyer:       env.buyer,
		Owner:       env.owner,
		Winner:      rival,
		WinnerAsset: rivalAsset,
	}, 13_000, env.buyer, ids.Empty)

	snap := GetTradeMetricsSnapshot(10, true)
	s := snap.Summary
	if s.TotalRivalResponses != 1 || s.TotalResolutions != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.TotalRivalWins != 1 || s.TotalOriginalWins != 0 {
		t.Fatalf("rival win not counted: %+v", s)
	}
	if len(snap.Trades) != 1 {
		t.Fatalf("expected one observed trade, got %d", len(snap.Trades))
	}

	trade := snap.Trades[0]
	if trade.RivalResponses != 1 || trade.WinnerFlips != 1 || trade.OriginalWon {
		t.Fatalf("rival fields not recorded: %+v", trade)
	}
}
