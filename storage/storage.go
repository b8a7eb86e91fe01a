package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/codec"
	"github.com/ava-labs/hypersdk/consts"
	"github.com/ava-labs/hypersdk/state"
	"github.com/ava-labs/hypersdk/state/metadata"

	smath "github.com/ava-labs/avalanchego/utils/math"
)

type ReadState func(context.Context, [][]byte) ([][]byte, []error)

const (
	balancePrefix        byte = metadata.DefaultMinimumPrefix
	assetPrefix          byte = metadata.DefaultMinimumPrefix + 1
	rootCommitmentPrefix byte = metadata.DefaultMinimumPrefix + 2
	requestPrefix        byte = metadata.DefaultMinimumPrefix + 3
	challengePrefix      byte = metadata.DefaultMinimumPrefix + 4
	hashchainPrefix      byte = metadata.DefaultMinimumPrefix + 5
	sellerStatsPrefix    byte = metadata.DefaultMinimumPrefix + 6
	protocolConfigPrefix byte = metadata.DefaultMinimumPrefix + 7
)

const (
	BalanceChunks        uint16 = 1
	AssetChunks          uint16 = 8
	RootCommitmentChunks uint16 = 1
	RequestChunks        uint16 = 2
	ChallengeChunks      uint16 = 64
	HashchainChunks      uint16 = 1
	SellerStatsChunks    uint16 = 1
	ProtocolConfigChunks uint16 = 2
)

const (
	MaxAssetMetadataSize = 256
	FingerprintBytes     = 32
)

// Request state flags, strictly ordered. Each transition requires the
// previous flag and rejects re-entry into an already-set flag.
const (
	ReqConfirmed          uint8 = 1 << 0
	ReqBuyerDeposited     uint8 = 1 << 1
	ReqOwnerDeposited     uint8 = 1 << 2
	ReqChallengeInitiated uint8 = 1 << 3
	ReqVectorsVerified    uint8 = 1 << 4
	ReqDataValidated      uint8 = 1 << 5
)

type ProtocolConfig struct {
	ProjectionSeed             [32]byte
	MaxVectorLen               uint32
	SimilarityThresholdPercent uint8
	MaxChallengeVectors        uint16
	TransactionTimeoutMs       int64
	ChallengeWindowMs          int64
}

type Asset struct {
	Owner       codec.Address
	Approved    codec.Address
	BatchPrice  uint64
	BatchNumber uint64
	LatestRoot  ids.ID
	Metadata    []byte
}

type Request struct {
	BatchPrice         uint64
	BatchNumber        uint64
	TradeType          uint8
	ChallengeSize      uint16
	AssetTransferFee   uint64
	OwnerDepositAmount uint64
	Flags              uint8
	BuyerEscrow        uint64
	OwnerEscrow        uint64
	LastActivityMs     int64
}

// BuyerDepositAmount is the exact payment a buyer must escrow: price times
// quantity, plus the transfer fee for data+asset trades. Part of the
// external contract; must not drift.
func (r *Request) BuyerDepositAmount() (uint64, error) {
	total, err := smath.Mul(r.BatchPrice, r.BatchNumber)
	if err != nil {
		return 0, err
	}
	if r.TradeType == tradeTypeDataAndAsset {
		return smath.Add(total, r.AssetTransferFee)
	}
	return total, nil
}

func (r *Request) Has(flag uint8) bool {
	return r.Flags&flag != 0
}

func (r *Request) Set(flag uint8) {
	r.Flags |= flag
}

// Mirrors consts.TradeTypeDataAndAsset; storage cannot import the VM consts
// package without creating a cycle through actions.
const tradeTypeDataAndAsset uint8 = 1

type Challenge struct {
	InitiatedMs      int64
	Resolved         bool
	WinnerParty      codec.Address
	WinnerAsset      ids.ID
	TotalAdvantageMs uint64
	Fingerprints     [][FingerprintBytes]byte
	Roots            []ids.ID
	// RootTimestampsMs[i] is the first-commit timestamp of Roots[i],
	// captured when the owner responds so rivals are compared against a
	// fixed baseline.
	RootTimestampsMs []int64
}

type Hashchain struct {
	Tip              ids.ID
	CompletedBatches uint64
}

type SellerStats struct {
	RootsCommitted uint64
	ChallengesWon  uint64
	ChallengesLost uint64
	RivalWins      uint64
	BatchesSold    uint64
	LastActivityMs int64
}

// ========== Balance ==========

func BalanceKey(addr codec.Address) (k []byte) {
	k = make([]byte, 1+codec.AddressLen+consts.Uint16Len)
	k[0] = balancePrefix
	copy(k[1:], addr[:])
	binary.BigEndian.PutUint16(k[1+codec.AddressLen:], BalanceChunks)
	return
}

func GetBalance(ctx context.Context, im state.Immutable, addr codec.Address) (uint64, error) {
	_, bal, _, err := getBalance(ctx, im, addr)
	return bal, err
}

func getBalance(ctx context.Context, im state.Immutable, addr codec.Address) ([]byte, uint64, bool, error) {
	k := BalanceKey(addr)
	bal, exists, err := innerGetBalance(im.GetValue(ctx, k))
	return k, bal, exists, err
}

func GetBalanceFromState(ctx context.Context, f ReadState, addr codec.Address) (uint64, error) {
	k := BalanceKey(addr)
	values, errs := f(ctx, [][]byte{k})
	bal, _, err := innerGetBalance(values[0], errs[0])
	return bal, err
}

func innerGetBalance(v []byte, err error) (uint64, bool, error) {
	if errors.Is(err, database.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	val, err := database.ParseUInt64(v)
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

func setBalance(ctx context.Context, mu state.Mutable, key []byte, balance uint64) error {
	return mu.Insert(ctx, key, binary.BigEndian.AppendUint64(nil, balance))
}

func SetBalance(ctx context.Context, mu state.Mutable, addr codec.Address, balance uint64) error {
	return setBalance(ctx, mu, BalanceKey(addr), balance)
}

func AddBalance(ctx context.Context, mu state.Mutable, addr codec.Address, amount uint64) (uint64, error) {
	key, bal, _, err := getBalance(ctx, mu, addr)
	if err != nil {
		return 0, err
	}
	nbal, err := smath.Add(bal, amount)
	if err != nil {
		return 0, fmt.Errorf("%w: could not add balance (bal=%d, addr=%v, amount=%d)", ErrInvalidBalance, bal, addr, amount)
	}
	return nbal, setBalance(ctx, mu, key, nbal)
}

func SubBalance(ctx context.Context, mu state.Mutable, addr codec.Address, amount uint64) (uint64, error) {
	key, bal, ok, err := getBalance(ctx, mu, addr)
	if !ok {
		return 0, fmt.Errorf("%w: could not subtract (bal=%d, addr=%v, amount=%d)", ErrInvalidBalance, 0, addr, amount)
	}
	if err != nil {
		return 0, err
	}
	nbal, err := smath.Sub(bal, amount)
	if err != nil {
		return 0, fmt.Errorf("%w: could not subtract balance (bal=%d < amount=%d, addr=%v)", ErrInvalidBalance, bal, amount, addr)
	}
	if nbal == 0 {
		return 0, mu.Remove(ctx, key)
	}
	return nbal, setBalance(ctx, mu, key, nbal)
}

// ========== Protocol config ==========

func ProtocolConfigKey() []byte {
	k := make([]byte, 1+consts.Uint16Len)
	k[0] = protocolConfigPrefix
	binary.BigEndian.PutUint16(k[1:], ProtocolConfigChunks)
	return k
}

func PutProtocolConfig(ctx context.Context, mu state.Mutable, cfg ProtocolConfig) error {
	if err := ValidateProtocolConfig(cfg); err != nil {
		return err
	}
	v := make([]byte, 0, 32+consts.Uint32Len+1+consts.Uint16Len+consts.Uint64Len*2)
	v = append(v, cfg.ProjectionSeed[:]...)
	v = binary.BigEndian.AppendUint32(v, cfg.MaxVectorLen)
	v = append(v, cfg.SimilarityThresholdPercent)
	v = binary.BigEndian.AppendUint16(v, cfg.MaxChallengeVectors)
	v = binary.BigEndian.AppendUint64(v, uint64(cfg.TransactionTimeoutMs))
	v = binary.BigEndian.AppendUint64(v, uint64(cfg.ChallengeWindowMs))
	return mu.Insert(ctx, ProtocolConfigKey(), v)
}

func GetProtocolConfig(ctx context.Context, im state.Immutable) (ProtocolConfig, error) {
	v, err := im.GetValue(ctx, ProtocolConfigKey())
	if errors.Is(err, database.ErrNotFound) {
		return ProtocolConfig{}, ErrInvalidProtocolConfig
	}
	if err != nil {
		return ProtocolConfig{}, err
	}
	return parseProtocolConfig(v)
}

func GetProtocolConfigFromState(ctx context.Context, f ReadState) (ProtocolConfig, error) {
	values, errs := f(ctx, [][]byte{ProtocolConfigKey()})
	if errors.Is(errs[0], database.ErrNotFound) {
		return ProtocolConfig{}, ErrInvalidProtocolConfig
	}
	if errs[0] != nil {
		return ProtocolConfig{}, errs[0]
	}
	return parseProtocolConfig(values[0])
}

func parseProtocolConfig(v []byte) (ProtocolConfig, error) {
	minLen := 32 + consts.Uint32Len + 1 + consts.Uint16Len + consts.Uint64Len*2
	if len(v) < minLen {
		return ProtocolConfig{}, fmt.Errorf("%w: protocol config length %d < %d", ErrInvalidProtocolConfig, len(v), minLen)
	}
	var cfg ProtocolConfig
	copy(cfg.ProjectionSeed[:], v[:32])
	offset := 32
	cfg.MaxVectorLen = binary.BigEndian.Uint32(v[offset : offset+consts.Uint32Len])
	offset += consts.Uint32Len
	cfg.SimilarityThresholdPercent = v[offset]
	offset++
	cfg.MaxChallengeVectors = binary.BigEndian.Uint16(v[offset : offset+consts.Uint16Len])
	offset += consts.Uint16Len
	cfg.TransactionTimeoutMs = int64(binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len]))
	offset += consts.Uint64Len
	cfg.ChallengeWindowMs = int64(binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len]))
	if err := ValidateProtocolConfig(cfg); err != nil {
		return ProtocolConfig{}, err
	}
	return cfg, nil
}

func ValidateProtocolConfig(cfg ProtocolConfig) error {
	if cfg.MaxVectorLen == 0 {
		return fmt.Errorf("%w: maxVectorLen must be > 0", ErrInvalidProtocolConfig)
	}
	if cfg.SimilarityThresholdPercent == 0 || cfg.SimilarityThresholdPercent > 100 {
		return fmt.Errorf("%w: similarityThresholdPercent must be in [1,100]", ErrInvalidProtocolConfig)
	}
	if cfg.MaxChallengeVectors == 0 {
		return fmt.Errorf("%w: maxChallengeVectors must be > 0", ErrInvalidProtocolConfig)
	}
	if cfg.TransactionTimeoutMs <= 0 || cfg.ChallengeWindowMs <= 0 {
		return fmt.Errorf("%w: timeouts must be > 0", ErrInvalidProtocolConfig)
	}
	return nil
}

// ========== Asset registry ==========

func AssetKey(assetID ids.ID) (k []byte) {
	k = make([]byte, 1+ids.IDLen+consts.Uint16Len)
	k[0] = assetPrefix
	copy(k[1:], assetID[:])
	binary.BigEndian.PutUint16(k[1+ids.IDLen:], AssetChunks)
	return
}

func PutAsset(ctx context.Context, mu state.Mutable, assetID ids.ID, asset Asset) error {
	if len(asset.Metadata) > MaxAssetMetadataSize {
		return ErrInvalidRecord
	}
	k := AssetKey(assetID)
	v := make([]byte, 0, codec.AddressLen*2+consts.Uint64Len*2+ids.IDLen+consts.Uint16Len+len(asset.Metadata))
	v = append(v, asset.Owner[:]...)
	v = append(v, asset.Approved[:]...)
	v = binary.BigEndian.AppendUint64(v, asset.BatchPrice)
	v = binary.BigEndian.AppendUint64(v, asset.BatchNumber)
	v = append(v, asset.LatestRoot[:]...)
	v = binary.BigEndian.AppendUint16(v, uint16(len(asset.Metadata)))
	v = append(v, asset.Metadata...)
	return mu.Insert(ctx, k, v)
}

func GetAsset(ctx context.Context, im state.Immutable, assetID ids.ID) (Asset, error) {
	v, err := im.GetValue(ctx, AssetKey(assetID))
	if errors.Is(err, database.ErrNotFound) {
		return Asset{}, ErrAssetNotFound
	}
	if err != nil {
		return Asset{}, err
	}
	return parseAsset(v)
}

func GetAssetFromState(ctx context.Context, f ReadState, assetID ids.ID) (Asset, error) {
	values, errs := f(ctx, [][]byte{AssetKey(assetID)})
	if errors.Is(errs[0], database.ErrNotFound) {
		return Asset{}, ErrAssetNotFound
	}
	if errs[0] != nil {
		return Asset{}, errs[0]
	}
	return parseAsset(values[0])
}

func parseAsset(v []byte) (Asset, error) {
	minLen := codec.AddressLen*2 + consts.Uint64Len*2 + ids.IDLen + consts.Uint16Len
	if len(v) < minLen {
		return Asset{}, fmt.Errorf("%w: asset length %d < %d", ErrInvalidRecord, len(v), minLen)
	}
	var asset Asset
	copy(asset.Owner[:], v[:codec.AddressLen])
	offset := codec.AddressLen
	copy(asset.Approved[:], v[offset:offset+codec.AddressLen])
	offset += codec.AddressLen
	asset.BatchPrice = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	asset.BatchNumber = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	copy(asset.LatestRoot[:], v[offset:offset+ids.IDLen])
	offset += ids.IDLen
	metaLen := int(binary.BigEndian.Uint16(v[offset : offset+consts.Uint16Len]))
	offset += consts.Uint16Len
	if metaLen > MaxAssetMetadataSize || len(v[offset:]) < metaLen {
		return Asset{}, fmt.Errorf("%w: asset metadata length %d", ErrInvalidRecord, metaLen)
	}
	asset.Metadata = append([]byte(nil), v[offset:offset+metaLen]...)
	return asset, nil
}

// ========== Root commitments ==========

func RootCommitmentKey(assetID ids.ID, root ids.ID) (k []byte) {
	k = make([]byte, 1+ids.IDLen*2+consts.Uint16Len)
	k[0] = rootCommitmentPrefix
	copy(k[1:], assetID[:])
	copy(k[1+ids.IDLen:], root[:])
	binary.BigEndian.PutUint16(k[1+ids.IDLen*2:], RootCommitmentChunks)
	return
}

// PutRootCommitment records the first-commit timestamp for (asset, root).
// Commitments are append-only and immutable; callers must check
// GetRootTimestamp first and reject duplicates.
func PutRootCommitment(ctx context.Context, mu state.Mutable, assetID ids.ID, root ids.ID, timestampMs int64) error {
	k := RootCommitmentKey(assetID, root)
	return mu.Insert(ctx, k, binary.BigEndian.AppendUint64(nil, uint64(timestampMs)))
}

// GetRootTimestamp returns the first-commit timestamp for (asset, root), or
// 0 when the root was never committed.
func GetRootTimestamp(ctx context.Context, im state.Immutable, assetID ids.ID, root ids.ID) (int64, error) {
	v, err := im.GetValue(ctx, RootCommitmentKey(assetID, root))
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) < consts.Uint64Len {
		return 0, fmt.Errorf("%w: root commitment length %d", ErrInvalidRecord, len(v))
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func GetRootTimestampFromState(ctx context.Context, f ReadState, assetID ids.ID, root ids.ID) (int64, error) {
	values, errs := f(ctx, [][]byte{RootCommitmentKey(assetID, root)})
	if errors.Is(errs[0], database.ErrNotFound) {
		return 0, nil
	}
	if errs[0] != nil {
		return 0, errs[0]
	}
	if len(values[0]) < consts.Uint64Len {
		return 0, fmt.Errorf("%w: root commitment length %d", ErrInvalidRecord, len(values[0]))
	}
	return int64(binary.BigEndian.Uint64(values[0])), nil
}

// ========== Requests ==========

func RequestKey(assetID ids.ID, buyer codec.Address) (k []byte) {
	k = make([]byte, 1+ids.IDLen+codec.AddressLen+consts.Uint16Len)
	k[0] = requestPrefix
	copy(k[1:], assetID[:])
	copy(k[1+ids.IDLen:], buyer[:])
	binary.BigEndian.PutUint16(k[1+ids.IDLen+codec.AddressLen:], RequestChunks)
	return
}

func PutRequest(ctx context.Context, mu state.Mutable, assetID ids.ID, buyer codec.Address, req Request) error {
	k := RequestKey(assetID, buyer)
	v := make([]byte, 0, consts.Uint64Len*5+1+consts.Uint16Len+1+consts.Uint64Len)
	v = binary.BigEndian.AppendUint64(v, req.BatchPrice)
	v = binary.BigEndian.AppendUint64(v, req.BatchNumber)
	v = append(v, req.TradeType)
	v = binary.BigEndian.AppendUint16(v, req.ChallengeSize)
	v = binary.BigEndian.AppendUint64(v, req.AssetTransferFee)
	v = binary.BigEndian.AppendUint64(v, req.OwnerDepositAmount)
	v = append(v, req.Flags)
	v = binary.BigEndian.AppendUint64(v, req.BuyerEscrow)
	v = binary.BigEndian.AppendUint64(v, req.OwnerEscrow)
	v = binary.BigEndian.AppendUint64(v, uint64(req.LastActivityMs))
	return mu.Insert(ctx, k, v)
}

func GetRequest(ctx context.Context, im state.Immutable, assetID ids.ID, buyer codec.Address) (Request, error) {
	v, err := im.GetValue(ctx, RequestKey(assetID, buyer))
	if errors.Is(err, database.ErrNotFound) {
		return Request{}, ErrRequestNotFound
	}
	if err != nil {
		return Request{}, err
	}
	return parseRequest(v)
}

func GetRequestFromState(ctx context.Context, f ReadState, assetID ids.ID, buyer codec.Address) (Request, error) {
	values, errs := f(ctx, [][]byte{RequestKey(assetID, buyer)})
	if errors.Is(errs[0], database.ErrNotFound) {
		return Request{}, ErrRequestNotFound
	}
	if errs[0] != nil {
		return Request{}, errs[0]
	}
	return parseRequest(values[0])
}

func parseRequest(v []byte) (Request, error) {
	minLen := consts.Uint64Len*6 + 1 + consts.Uint16Len + 1
	if len(v) < minLen {
		return Request{}, fmt.Errorf("%w: request length %d < %d", ErrInvalidRecord, len(v), minLen)
	}
	var req Request
	req.BatchPrice = binary.BigEndian.Uint64(v[:consts.Uint64Len])
	offset := consts.Uint64Len
	req.BatchNumber = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	req.TradeType = v[offset]
	offset++
	req.ChallengeSize = binary.BigEndian.Uint16(v[offset : offset+consts.Uint16Len])
	offset += consts.Uint16Len
	req.AssetTransferFee = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	req.OwnerDepositAmount = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	req.Flags = v[offset]
	offset++
	req.BuyerEscrow = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	req.OwnerEscrow = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	req.LastActivityMs = int64(binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len]))
	return req, nil
}

func RemoveRequest(ctx context.Context, mu state.Mutable, assetID ids.ID, buyer codec.Address) error {
	return mu.Remove(ctx, RequestKey(assetID, buyer))
}

// ========== Challenges ==========

func ChallengeKey(assetID ids.ID, buyer codec.Address) (k []byte) {
	k = make([]byte, 1+ids.IDLen+codec.AddressLen+consts.Uint16Len)
	k[0] = challengePrefix
	copy(k[1:], assetID[:])
	copy(k[1+ids.IDLen:], buyer[:])
	binary.BigEndian.PutUint16(k[1+ids.IDLen+codec.AddressLen:], ChallengeChunks)
	return
}

func PutChallenge(ctx context.Context, mu state.Mutable, assetID ids.ID, buyer codec.Address, ch Challenge) error {
	if len(ch.Fingerprints) != len(ch.Roots) || len(ch.Roots) != len(ch.RootTimestampsMs) {
		return ErrInvalidRecord
	}
	k := ChallengeKey(assetID, buyer)
	count := len(ch.Fingerprints)
	v := make([]byte, 0, consts.Uint64Len+1+codec.AddressLen+ids.IDLen+consts.Uint64Len+consts.Uint16Len+count*(FingerprintBytes+ids.IDLen+consts.Uint64Len))
	v = binary.BigEndian.AppendUint64(v, uint64(ch.InitiatedMs))
	if ch.Resolved {
		v = append(v, 1)
	} else {
		v = append(v, 0)
	}
	v = append(v, ch.WinnerParty[:]...)
	v = append(v, ch.WinnerAsset[:]...)
	v = binary.BigEndian.AppendUint64(v, ch.TotalAdvantageMs)
	v = binary.BigEndian.AppendUint16(v, uint16(count))
	for i := 0; i < count; i++ {
		v = append(v, ch.Fingerprints[i][:]...)
		v = append(v, ch.Roots[i][:]...)
		v = binary.BigEndian.AppendUint64(v, uint64(ch.RootTimestampsMs[i]))
	}
	return mu.Insert(ctx, k, v)
}

func GetChallenge(ctx context.Context, im state.Immutable, assetID ids.ID, buyer codec.Address) (Challenge, error) {
	v, err := im.GetValue(ctx, ChallengeKey(assetID, buyer))
	if errors.Is(err, database.ErrNotFound) {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, err
	}
	return parseChallenge(v)
}

func GetChallengeFromState(ctx context.Context, f ReadState, assetID ids.ID, buyer codec.Address) (Challenge, error) {
	values, errs := f(ctx, [][]byte{ChallengeKey(assetID, buyer)})
	if errors.Is(errs[0], database.ErrNotFound) {
		return Challenge{}, ErrChallengeNotFound
	}
	if errs[0] != nil {
		return Challenge{}, errs[0]
	}
	return parseChallenge(values[0])
}

func parseChallenge(v []byte) (Challenge, error) {
	minLen := consts.Uint64Len + 1 + codec.AddressLen + ids.IDLen + consts.Uint64Len + consts.Uint16Len
	if len(v) < minLen {
		return Challenge{}, fmt.Errorf("%w: challenge length %d < %d", ErrInvalidRecord, len(v), minLen)
	}
	var ch Challenge
	ch.InitiatedMs = int64(binary.BigEndian.Uint64(v[:consts.Uint64Len]))
	offset := consts.Uint64Len
	ch.Resolved = v[offset] == 1
	offset++
	copy(ch.WinnerParty[:], v[offset:offset+codec.AddressLen])
	offset += codec.AddressLen
	copy(ch.WinnerAsset[:], v[offset:offset+ids.IDLen])
	offset += ids.IDLen
	ch.TotalAdvantageMs = binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len])
	offset += consts.Uint64Len
	count := int(binary.BigEndian.Uint16(v[offset : offset+consts.Uint16Len]))
	offset += consts.Uint16Len
	if len(v[offset:]) < count*(FingerprintBytes+ids.IDLen+consts.Uint64Len) {
		return Challenge{}, fmt.Errorf("%w: challenge vector count %d", ErrInvalidRecord, count)
	}
	ch.Fingerprints = make([][FingerprintBytes]byte, count)
	ch.Roots = make([]ids.ID, count)
	ch.RootTimestampsMs = make([]int64, count)
	for i := 0; i < count; i++ {
		copy(ch.Fingerprints[i][:], v[offset:offset+FingerprintBytes])
		offset += FingerprintBytes
		copy(ch.Roots[i][:], v[offset:offset+ids.IDLen])
		offset += ids.IDLen
		ch.RootTimestampsMs[i] = int64(binary.BigEndian.Uint64(v[offset : offset+consts.Uint64Len]))
		offset += consts.Uint64Len
	}
	return ch, nil
}

func RemoveChallenge(ctx context.Context, mu state.Mutable, assetID ids.ID, buyer codec.Address) error {
	return mu.Remove(ctx, ChallengeKey(assetID, buyer))
}

// ========== Hashchain payment state ==========

func HashchainKey(assetID ids.ID, buyer codec.Address) (k []byte) {
	k = make([]byte, 1+ids.IDLen+codec.AddressLen+consts.Uint16Len)
	k[0] = hashchainPrefix
	copy(k[1:], assetID[:])
	copy(k[1+ids.IDLen:], buyer[:])
	binary.BigEndian.PutUint16(k[1+ids.IDLen+codec.AddressLen:], HashchainChunks)
	return
}

func PutHashchain(ctx context.Context, mu state.Mutable, assetID ids.ID, buyer codec.Address, hc Hashchain) error {
	k := HashchainKey(assetID, buyer)
	v := make([]byte, 0, ids.IDLen+consts.Uint64Len)
	v = append(v, hc.Tip[:]...)
	v = binary.BigEndian.AppendUint64(v, hc.CompletedBatches)
	return mu.Insert(ctx, k, v)
}

func GetHashchain(ctx context.Context, im state.Immutable, assetID ids.ID, buyer codec.Address) (Hashchain, error) {
	v, err := im.GetValue(ctx, HashchainKey(assetID, buyer))
	if errors.Is(err, database.ErrNotFound) {
		return Hashchain{}, ErrTipNotSet
	}
	if err != nil {
		return Hashchain{}, err
	}
	return parseHashchain(v)
}

func GetHashchainFromState(ctx context.Context, f ReadState, assetID ids.ID, buyer codec.Address) (Hashchain, error) {
	values, errs := f(ctx, [][]byte{HashchainKey(assetID, buyer)})
	if errors.Is(errs[0], database.ErrNotFound) {
		return Hashchain{}, ErrTipNotSet
	}
	if errs[0] != nil {
		return Hashchain{}, errs[0]
	}
	return parseHashchain(values[0])
}

func parseHashchain(v []byte) (Hashchain, error) {
	minLen := ids.IDLen + consts.Uint64Len
	if len(v) < minLen {
		return Hashchain{}, fmt.Errorf("%w: hashchain length %d < %d", ErrInvalidRecord, len(v), minLen)
	}
	var hc Hashchain
	copy(hc.Tip[:], v[:ids.IDLen])
	hc.CompletedBatches = binary.BigEndian.Uint64(v[ids.IDLen : ids.IDLen+consts.Uint64Len])
	return hc, nil
}

func RemoveHashchain(ctx context.Context, mu state.Mutable, assetID ids.ID, buyer codec.Address) error {
	return mu.Remove(ctx, HashchainKey(assetID, buyer))
}

// ========== Seller stats ==========

func SellerStatsKey(addr codec.Address) (k []byte) {
	k = make([]byte, 1+codec.AddressLen+consts.Uint16Len)
	k[0] = sellerStatsPrefix
	copy(k[1:], addr[:])
	binary.BigEndian.PutUint16(k[1+codec.AddressLen:], SellerStatsChunks)
	return
}

func PutSellerStats(ctx context.Context, mu state.Mutable, addr codec.Address, stats SellerStats) error {
	v := make([]byte, 0, consts.Uint64Len*6)
	v = binary.BigEndian.AppendUint64(v, stats.RootsCommitted)
	v = binary.BigEndian.AppendUint64(v, stats.ChallengesWon)
	v = binary.BigEndian.AppendUint64(v, stats.ChallengesLost)
	v = binary.BigEndian.AppendUint64(v, stats.RivalWins)
	v = binary.BigEndian.AppendUint64(v, stats.BatchesSold)
	v = binary.BigEndian.AppendUint64(v, uint64(stats.LastActivityMs))
	return mu.Insert(ctx, SellerStatsKey(addr), v)
}

// GetSellerStats returns zeroed stats for unknown addresses.
func GetSellerStats(ctx context.Context, im state.Immutable, addr codec.Address) (SellerStats, error) {
	v, err := im.GetValue(ctx, SellerStatsKey(addr))
	if errors.Is(err, database.ErrNotFound) {
		return SellerStats{}, nil
	}
	if err != nil {
		return SellerStats{}, err
	}
	return parseSellerStats(v)
}

func GetSellerStatsFromState(ctx context.Context, f ReadState, addr codec.Address) (SellerStats, error) {
	values, errs := f(ctx, [][]byte{SellerStatsKey(addr)})
	if errors.Is(errs[0], database.ErrNotFound) {
		return SellerStats{}, nil
	}
	if errs[0] != nil {
		return SellerStats{}, errs[0]
	}
	return parseSellerStats(values[0])
}

func parseSellerStats(v []byte) (SellerStats, error) {
	minLen := consts.Uint64Len * 6
	if len(v) < minLen {
		return SellerStats{}, fmt.Errorf("%w: seller stats length %d < %d", ErrInvalidRecord, len(v), minLen)
	}
	return SellerStats{
		RootsCommitted: binary.BigEndian.Uint64(v[:consts.Uint64Len]),
		ChallengesWon:  binary.BigEndian.Uint64(v[consts.Uint64Len : consts.Uint64Len*2]),
		ChallengesLost: binary.BigEndian.Uint64(v[consts.Uint64Len*2 : consts.Uint64Len*3]),
		RivalWins:      binary.BigEndian.Uint64(v[consts.Uint64Len*3 : consts.Uint64Len*4]),
		BatchesSold:    binary.BigEndian.Uint64(v[consts.Uint64Len*4 : consts.Uint64Len*5]),
		LastActivityMs: int64(binary.BigEndian.Uint64(v[consts.Uint64Len*5 : consts.Uint64Len*6])),
	}, nil
}
