package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/codec"
	"github.com/ava-labs/hypersdk/state"
)

var _ state.Mutable = (*memState)(nil)

type memState struct {
	values map[string][]byte
}

func newMemState() *memState {
	return &memState{values: make(map[string][]byte)}
}

func (s *memState) GetValue(_ context.Context, key []byte) ([]byte, error) {
	v, ok := s.values[string(key)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *memState) Insert(_ context.Context, key []byte, value []byte) error {
	s.values[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memState) Remove(_ context.Context, key []byte) error {
	delete(s.values, string(key))
	return nil
}

func addr(seed byte) codec.Address {
	var a codec.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

func id(seed byte) ids.ID {
	var i ids.ID
	for j := range i {
		i[j] = seed
	}
	return i
}

func TestBalanceArithmetic(t *testing.T) {
	ctx := context.Background()
	mu := newMemState()
	a := addr(0x01)

	if _, err := SubBalance(ctx, mu, a, 1); !errors.Is(err, ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance for missing account, got %v", err)
	}

	if _, err := AddBalance(ctx, mu, a, 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := SubBalance(ctx, mu, a, 101); !errors.Is(err, ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance on overdraw, got %v", err)
	}
	bal, err := SubBalance(ctx, mu, a, 60)
	if err != nil || bal != 40 {
		t.Fatalf("sub: bal=%d err=%v", bal, err)
	}

	// Draining to zero removes the key entirely.
	if _, err := SubBalance(ctx, mu, a, 40); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if _, ok := mu.values[string(BalanceKey(a))]; ok {
		t.Fatalf("zero balance key not removed")
	}
	bal, err = GetBalance(ctx, mu, a)
	if err != nil || bal != 0 {
		t.Fatalf("get after drain: bal=%d err=%v", bal, err)
	}
}

func TestRequestRoundTripAndFlags(t *testing.T) {
	ctx := context.Background()
	mu := newMemState()
	asset, buyer := id(0x02), addr(0x03)

	req := Request{
		BatchPrice:         25,
		BatchNumber:        4,
		TradeType:          1,
		ChallengeSize:      3,
		AssetTransferFee:   40,
		OwnerDepositAmount: 500,
		BuyerEscrow:        140,
		OwnerEscrow:        500,
		LastActivityMs:     12_345,
	}
	req.Set(ReqConfirmed)
	req.Set(ReqBuyerDeposited)

	if err := PutRequest(ctx, mu, asset, buyer, req); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := GetRequest(ctx, mu, asset, buyer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != req {
		t.Fatalf("round trip mismatch: %+v != %+v", got, req)
	}
	if !got.Has(ReqConfirmed) || got.Has(ReqOwnerDeposited) {
		t.Fatalf("flags corrupted: %08b", got.Flags)
	}

	required, err := got.BuyerDepositAmount()
	if err != nil {
		t.Fatalf("deposit amount: %v", err)
	}
	if required != 25*4+40 {
		t.Fatalf("data+asset deposit: got=%d", required)
	}

	if _, err := GetRequest(ctx, mu, asset, addr(0x04)); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
	if err := RemoveRequest(ctx, mu, asset, buyer); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := GetRequest(ctx, mu, asset, buyer); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("request survived removal: %v", err)
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	ctx := context.Background()
	mu := newMemState()
	asset, buyer := id(0x05), addr(0x06)

	ch := Challenge{
		InitiatedMs:      9_000,
		Resolved:         true,
		WinnerParty:      addr(0x07),
		WinnerAsset:      id(0x08),
		TotalAdvantageMs: 1_800,
		Fingerprints:     [][FingerprintBytes]byte{{0xaa}, {0xbb}},
		Roots:            []ids.ID{id(0x09), id(0x0a)},
		RootTimestampsMs: []int64{1_000, 2_000},
	}
	if err := PutChallenge(ctx, mu, asset, buyer, ch); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := GetChallenge(ctx, mu, asset, buyer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.InitiatedMs != ch.InitiatedMs || !got.Resolved ||
		got.WinnerParty != ch.WinnerParty || got.WinnerAsset != ch.WinnerAsset ||
		got.TotalAdvantageMs != ch.TotalAdvantageMs {
		t.Fatalf("header mismatch: %+v", got)
	}
	for i := range ch.Roots {
		if got.Fingerprints[i] != ch.Fingerprints[i] || got.Roots[i] != ch.Roots[i] ||
			got.RootTimestampsMs[i] != ch.RootTimestampsMs[i] {
			t.Fatalf("entry %d mismatch", i)
		}
	}

	// Per-entry slices must stay aligned.
	ch.RootTimestampsMs = ch.RootTimestampsMs[:1]
	if err := PutChallenge(ctx, mu, asset, buyer, ch); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for misaligned slices, got %v", err)
	}
}

func TestRootCommitmentDefaultsToZero(t *testing.T) {
	ctx := context.Background()
	mu := newMemState()
	asset, root := id(0x0b), id(0x0c)

	ts, err := GetRootTimestamp(ctx, mu, asset, root)
	if err != nil || ts != 0 {
		t.Fatalf("missing commitment: ts=%d err=%v", ts, err)
	}
	if err := PutRootCommitment(ctx, mu, asset, root, 77_000); err != nil {
		t.Fatalf("put: %v", err)
	}
	ts, err = GetRootTimestamp(ctx, mu, asset, root)
	if err != nil || ts != 77_000 {
		t.Fatalf("get: ts=%d err=%v", ts, err)
	}
	// Same root under a different asset is independent.
	ts, err = GetRootTimestamp(ctx, mu, id(0x0d), root)
	if err != nil || ts != 0 {
		t.Fatalf("cross-asset commitment leak: ts=%d err=%v", ts, err)
	}
}

func TestAssetMetadataBound(t *testing.T) {
	ctx := context.Background()
	mu := newMemState()

	asset := Asset{
		Owner:       addr(0x0e),
		BatchPrice:  10,
		BatchNumber: 2,
		Metadata:    make([]byte, MaxAssetMetadataSize+1),
	}
	if err := PutAsset(ctx, mu, id(0x0f), asset); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for oversized metadata, got %v", err)
	}

	asset.Metadata = []byte("weather sensor batches")
	if err := PutAsset(ctx, mu, id(0x0f), asset); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := GetAsset(ctx, mu, id(0x0f))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Owner != asset.Owner || string(got.Metadata) != string(asset.Metadata) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSellerStatsDefaultsToZeroValue(t *testing.T) {
	ctx := context.Background()
	mu := newMemState()

	stats, err := GetSellerStats(ctx, mu, addr(0x10))
	if err != nil {
		t.Fatalf("get missing stats: %v", err)
	}
	if stats != (SellerStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}

	stats.RootsCommitted = 3
	stats.BatchesSold = 12
	stats.LastActivityMs = 40_000
	if err := PutSellerStats(ctx, mu, addr(0x10), stats); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := GetSellerStats(ctx, mu, addr(0x10))
	if err != nil || got != stats {
		t.Fatalf("round trip: %+v err=%v", got, err)
	}
}

func TestProtocolConfigValidation(t *testing.T) {
	ctx := context.Background()
	mu := newMemState()

	cfg := ProtocolConfig{
		ProjectionSeed:             [32]byte{0x11},
		MaxVectorLen:               128,
		SimilarityThresholdPercent: 80,
		MaxChallengeVectors:        32,
		TransactionTimeoutMs:       86_400_000,
		ChallengeWindowMs:          86_400_000,
	}
	if err := PutProtocolConfig(ctx, mu, cfg); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := GetProtocolConfig(ctx, mu)
	if err != nil || got != cfg {
		t.Fatalf("round trip: %+v err=%v", got, err)
	}

	bad := cfg
	bad.SimilarityThresholdPercent = 101
	if err := PutProtocolConfig(ctx, mu, bad); !errors.Is(err, ErrInvalidProtocolConfig) {
		t.Fatalf("expected ErrInvalidProtocolConfig, got %v", err)
	}
	bad = cfg
	bad.MaxVectorLen = 0
	if err := PutProtocolConfig(ctx, mu, bad); !errors.Is(err, ErrInvalidProtocolConfig) {
		t.Fatalf("expected ErrInvalidProtocolConfig, got %v", err)
	}

	if _, err := GetProtocolConfig(ctx, newMemState()); !errors.Is(err, ErrInvalidProtocolConfig) {
		t.Fatalf("expected ErrInvalidProtocolConfig for missing config, got %v", err)
	}
}
