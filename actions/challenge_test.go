package actions

import (
	"errors"
	"testing"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/thesecretlab-dev/datamartvm/merkle"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

func TestRivalRespondEarliestCommitmentWins(t *testing.T) {
	// Two rivals with different commitment ages; whichever order they
	// respond in, the older commitment holds the lead.
	for _, firstOldest := range []bool{true, false} {
		env := newTradeEnv(t)
		rivalA := testAddr(0xc1)
		assetA := testID(0x11)
		rivalB := testAddr(0xc2)
		assetB := testID(0x12)
		env.addRival(t, rivalA, assetA, 400)
		env.addRival(t, rivalB, assetB, 100)

		env.throughDeposits(t, 2_000)
		env.throughValidation(t, 3_000)

		responses := []*RivalRespond{env.rivalRespond(assetA), env.rivalRespond(assetB)}
		if firstOldest {
			responses[0], responses[1] = responses[1], responses[0]
		}
		for i, resp := range responses {
			actor := rivalA
			if resp.RivalAsset == assetB {
				actor = rivalB
			}
			env.exec(t, resp, 4_000+int64(i), actor, ids.Empty)
		}

		ch := env.challenge(t)
		if ch.WinnerParty != rivalB || ch.WinnerAsset != assetB {
			t.Fatalf("firstOldest=%t: winner=%v asset=%v, want rival B", firstOldest, ch.WinnerParty, ch.WinnerAsset)
		}
		// Lead is summed per challenged vector: 2 * (1000 - 100).
		if ch.TotalAdvantageMs != 1_800 {
			t.Fatalf("firstOldest=%t: advantage=%d want 1800", firstOldest, ch.TotalAdvantageMs)
		}
	}
}

func TestRivalRespondRejectsLaterOrEqualCommitments(t *testing.T) {
	env := newTradeEnv(t)
	rival := testAddr(0xc1)
	rivalAsset := testID(0x11)
	env.addRival(t, rival, rivalAsset, testRootCommitMs)

	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)

	if err := env.execErr(t, env.rivalRespond(rivalAsset), 4_000, rival); !errors.Is(err, storage.ErrChallengerNotEarlier) {
		t.Fatalf("expected ErrChallengerNotEarlier, got %v", err)
	}
}

func TestRivalRespondRejectsDissimilarVectors(t *testing.T) {
	env := newTradeEnv(t)
	rival := testAddr(0xc1)
	rivalAsset := testID(0x11)

	// The rival's dataset is the negation of the original: valid inclusion
	// under an earlier root, but fingerprints land far below the threshold.
	negated := make([][]int64, len(env.vectors))
	for i, v := range env.vectors {
		n := make([]int64, len(v))
		for j, e := range v {
			n[j] = -e
		}
		negated[i] = n
	}
	rivalTree := merkle.NewTree(negated)
	env.exec(t, &MintAsset{
		BatchPrice:  testBatchPrice,
		BatchNumber: testBatchCount,
		Metadata:    []byte("negated dataset"),
	}, 300, rival, rivalAsset)
	env.exec(t, &UpdateRoot{Asset: rivalAsset, Root: rivalTree.Root()}, 400, rival, ids.Empty)

	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)

	resp := env.rivalRespond(rivalAsset)
	for i := range resp.Vectors {
		resp.Vectors[i] = negated[i]
		resp.Proofs[i] = rivalTree.Proof(i)
		resp.Roots[i] = rivalTree.Root()
	}
	if err := env.execErr(t, resp, 4_000, rival); !errors.Is(err, storage.ErrSimilarityBelowThreshold) {
		t.Fatalf("expected ErrSimilarityBelowThreshold, got %v", err)
	}
}

func TestRivalRespondWindowAndOwnershipGuards(t *testing.T) {
	env := newTradeEnv(t)
	rival := testAddr(0xc1)
	rivalAsset := testID(0x11)
	env.addRival(t, rival, rivalAsset, 400)

	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)

	// The challenge was initiated at 3_000; the 10s window closes at 13_000.
	if err := env.execErr(t, env.rivalRespond(rivalAsset), 13_000, rival); !errors.Is(err, ErrChallengeWindowClosed) {
		t.Fatalf("expected ErrChallengeWindowClosed, got %v", err)
	}
	if err := env.execErr(t, env.rivalRespond(rivalAsset), 12_999, testAddr(0xdd)); !errors.Is(err, storage.ErrOnlyAssetOwner) {
		t.Fatalf("expected ErrOnlyAssetOwner, got %v", err)
	}
	if err := env.execErr(t, env.rivalRespond(env.asset), 12_999, env.owner); !errors.Is(err, storage.ErrSelfChallenge) {
		t.Fatalf("expected ErrSelfChallenge, got %v", err)
	}

	env.exec(t, env.rivalRespond(rivalAsset), 12_999, rival, ids.Empty)
	ch := env.challenge(t)
	if ch.WinnerParty != rival {
		t.Fatalf("in-window rival response did not take the lead")
	}
}

func TestResolveChallengeRivalWinSplitsStake(t *testing.T) {
	env := newTradeEnv(t)
	rival := testAddr(0xc1)
	rivalAsset := testID(0x11)
	env.addRival(t, rival, rivalAsset, 400)

	env.throughDeposits(t, 2_000)
	env.throughValidation(t, 3_000)
	env.exec(t, env.rivalRespond(rivalAsset), 4_000, rival, ids.Empty)

	resolve := &ResolveChallenge{
		Asset:       env.asset,
		Buyer:       env.buyer,
		Owner:       env.owner,
		Winner:      rival,
		WinnerAsset: rivalAsset,
	}
	if err := env.execErr(t, resolve, 12_999, env.buyer); !errors.Is(err, ErrChallengeWindowOpen) {
		t.Fatalf("expected ErrChallengeWindowOpen, got %v", err)
	}

	// Echoed participants must match on-chain state.
	stale := &ResolveChallenge{
		Asset:       env.asset,
		Buyer:       env.buyer,
		Owner:       env.owner,
		Winner:      env.owner,
		WinnerAsset: env.asset,
	}
	if err := env.execErr(t, stale, 13_000, env.buyer); !errors.Is(err, ErrStaleChallengeState) {
		t.Fatalf("expected ErrStaleChallengeState, got %v", err)
	}

	out := env.exec(t, resolve, 13_000, env.buyer, ids.Empty)
	typed, err := UnmarshalResolveChallengeResult(out)
	if err != nil {
		t.Fatalf("decode resolve result: %v", err)
	}
	res := typed.(*ResolveChallengeResult)
	if res.OriginalWon {
		t.Fatalf("rival win reported as original win")
	}
	if res.WinnerPayout != testOwnerStake/2 {
		t.Fatalf("winner payout: got=%d want=%d", res.WinnerPayout, testOwnerStake/2)
	}
	if res.BuyerRefund != env.buyerDepositAmount()+testOwnerStake-testOwnerStake/2 {
		t.Fatalf("buyer refund: got=%d", res.BuyerRefund)
	}

	// Buyer is made whole plus half the forfeited stake.
	if got := env.balance(t, env.buyer); got != testStartBalance+testOwnerStake-testOwnerStake/2 {
		t.Fatalf("buyer balance: %d", got)
	}
	if got := env.balance(t, rival); got != res.WinnerPayout {
		t.Fatalf("rival balance: %d", got)
	}
	if got := env.balance(t, env.owner); got != testStartBalance-testOwnerStake {
		t.Fatalf("owner balance: %d", got)
	}

	// A resolved challenge is seeded for the winning asset so the buyer can
	// purchase from the authentic seller without another dispute.
	seeded, err := storage.GetChallenge(env.ctx, env.state, rivalAsset, env.buyer)
	if err != nil {
		t.Fatalf("get seeded challenge: %v", err)
	}
	if !seeded.Resolved || seeded.WinnerParty != rival || seeded.WinnerAsset != rivalAsset {
		t.Fatalf("unexpected seeded challenge: %+v", seeded)
	}

	ownerStats, err := storage.GetSellerStats(env.ctx, env.state, env.owner)
	if err != nil {
		t.Fatalf("get owner stats: %v", err)
	}
	rivalStats, err := storage.GetSellerStats(env.ctx, env.state, rival)
	if err != nil {
		t.Fatalf("get rival stats: %v", err)
	}
	if ownerStats.ChallengesLost != 1 || rivalStats.RivalWins != 1 {
		t.Fatalf("stats not updated: owner=%+v rival=%+v", ownerStats, rivalStats)
	}

	if err := env.execErr(t, resolve, 13_100, env.buyer); !errors.Is(err, storage.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestOwnerRespondRequiresCommittedRootsAndValidProofs(t *testing.T) {
	env := newTradeEnv(t)
	env.throughDeposits(t, 2_000)
	env.exec(t, &InitiateChallenge{Asset: env.asset}, 3_000, env.buyer, ids.Empty)

	base := func() *OwnerRespond {
		count := int(testChallengeSize)
		resp := &OwnerRespond{
			Asset:   env.asset,
			Buyer:   env.buyer,
			Vectors: make([][]int64, count),
			Proofs:  make([][]ids.ID, count),
			Roots:   make([]ids.ID, count),
		}
		for i := 0; i < count; i++ {
			resp.Vectors[i] = env.vectors[i]
			resp.Proofs[i] = env.tree.Proof(i)
			resp.Roots[i] = env.root
		}
		return resp
	}

	uncommitted := base()
	uncommitted.Roots[1] = testID(0x44)
	if err := env.execErr(t, uncommitted, 3_100, env.owner); !errors.Is(err, storage.ErrInvalidRoot) {
		t.Fatalf("expected ErrInvalidRoot, got %v", err)
	}

	tampered := base()
	tampered.Vectors[0] = env.vectors[2]
	if err := env.execErr(t, tampered, 3_100, env.owner); !errors.Is(err, storage.ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}

	short := base()
	short.Vectors = short.Vectors[:1]
	if err := env.execErr(t, short, 3_100, env.owner); !errors.Is(err, storage.ErrCountMismatch) {
		t.Fatalf("expected ErrCountMismatch, got %v", err)
	}

	env.exec(t, base(), 3_100, env.owner, ids.Empty)
	ch := env.challenge(t)
	if len(ch.Fingerprints) != int(testChallengeSize) {
		t.Fatalf("challenge fingerprints not recorded")
	}
	for _, ts := range ch.RootTimestampsMs {
		if ts != testRootCommitMs {
			t.Fatalf("root timestamp baseline not captured: %d", ts)
		}
	}
}
