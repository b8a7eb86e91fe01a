package vm

import (
	"net/http"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/api"
	"github.com/ava-labs/hypersdk/codec"

	"github.com/thesecretlab-dev/datamartvm/actions"
	"github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/fingerprint"
	dgenesis "github.com/thesecretlab-dev/datamartvm/genesis"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

const JSONRPCEndpoint = "/datamartapi"

var _ api.HandlerFactory[api.VM] = (*jsonRPCServerFactory)(nil)

type jsonRPCServerFactory struct {
	config Config
}

func (f jsonRPCServerFactory) New(vm api.VM) (api.Handler, error) {
	handler, err := api.NewJSONRPCHandler(consts.Name, NewJSONRPCServer(vm, f.config))
	return api.Handler{
		Path:    JSONRPCEndpoint,
		Handler: handler,
	}, err
}

type JSONRPCServer struct {
	vm     api.VM
	config Config
}

func NewJSONRPCServer(vm api.VM, config Config) *JSONRPCServer {
	return &JSONRPCServer{vm: vm, config: config}
}

type GenesisReply struct {
	Genesis *dgenesis.Genesis `json:"genesis"`
}

func (j *JSONRPCServer) Genesis(_ *http.Request, _ *struct{}, reply *GenesisReply) (err error) {
	reply.Genesis = j.vm.Genesis().(*dgenesis.Genesis)
	return nil
}

type BalanceArgs struct {
	Address codec.Address `json:"address"`
}

type BalanceReply struct {
	Amount uint64 `json:"amount"`
}

func (j *JSONRPCServer) Balance(req *http.Request, args *BalanceArgs, reply *BalanceReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.Balance")
	defer span.End()

	balance, err := storage.GetBalanceFromState(ctx, j.vm.ReadState, args.Address)
	if err != nil {
		return err
	}
	reply.Amount = balance
	return err
}

type AssetArgs struct {
	Asset ids.ID `json:"asset"`
}

type AssetReply struct {
	Owner       codec.Address `json:"owner"`
	Approved    codec.Address `json:"approved"`
	BatchPrice  uint64        `json:"batch_price"`
	BatchNumber uint64        `json:"batch_number"`
	LatestRoot  ids.ID        `json:"latest_root"`
	Metadata    []byte        `json:"metadata"`
}

func (j *JSONRPCServer) Asset(req *http.Request, args *AssetArgs, reply *AssetReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.Asset")
	defer span.End()

	asset, err := storage.GetAssetFromState(ctx, j.vm.ReadState, args.Asset)
	if err != nil {
		return err
	}
	reply.Owner = asset.Owner
	reply.Approved = asset.Approved
	reply.BatchPrice = asset.BatchPrice
	reply.BatchNumber = asset.BatchNumber
	reply.LatestRoot = asset.LatestRoot
	reply.Metadata = asset.Metadata
	return nil
}

type RootTimestampArgs struct {
	Asset ids.ID `json:"asset"`
	Root  ids.ID `json:"root"`
}

type RootTimestampReply struct {
	// TimestampMs is 0 when the root was never committed for the asset.
	TimestampMs int64 `json:"timestamp_ms"`
}

func (j *JSONRPCServer) RootTimestamp(req *http.Request, args *RootTimestampArgs, reply *RootTimestampReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.RootTimestamp")
	defer span.End()

	ts, err := storage.GetRootTimestampFromState(ctx, j.vm.ReadState, args.Asset, args.Root)
	if err != nil {
		return err
	}
	reply.TimestampMs = ts
	return nil
}

// Alias for requester title-casing (e.g. "roottimestamp" -> "Roottimestamp").
func (j *JSONRPCServer) Roottimestamp(req *http.Request, args *RootTimestampArgs, reply *RootTimestampReply) error {
	return j.RootTimestamp(req, args, reply)
}

type TradeRequestArgs struct {
	Asset ids.ID        `json:"asset"`
	Buyer codec.Address `json:"buyer"`
}

type TradeRequestReply struct {
	BatchPrice         uint64 `json:"batch_price"`
	BatchNumber        uint64 `json:"batch_number"`
	TradeType          uint8  `json:"trade_type"`
	ChallengeSize      uint16 `json:"challenge_size"`
	AssetTransferFee   uint64 `json:"asset_transfer_fee"`
	OwnerDepositAmount uint64 `json:"owner_deposit_amount"`
	Flags              uint8  `json:"flags"`
	BuyerEscrow        uint64 `json:"buyer_escrow"`
	OwnerEscrow        uint64 `json:"owner_escrow"`
	LastActivityMs     int64  `json:"last_activity_ms"`
}

func (j *JSONRPCServer) TradeRequest(req *http.Request, args *TradeRequestArgs, reply *TradeRequestReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.TradeRequest")
	defer span.End()

	r, err := storage.GetRequestFromState(ctx, j.vm.ReadState, args.Asset, args.Buyer)
	if err != nil {
		return err
	}
	reply.BatchPrice = r.BatchPrice
	reply.BatchNumber = r.BatchNumber
	reply.TradeType = r.TradeType
	reply.ChallengeSize = r.ChallengeSize
	reply.AssetTransferFee = r.AssetTransferFee
	reply.OwnerDepositAmount = r.OwnerDepositAmount
	reply.Flags = r.Flags
	reply.BuyerEscrow = r.BuyerEscrow
	reply.OwnerEscrow = r.OwnerEscrow
	reply.LastActivityMs = r.LastActivityMs
	return nil
}

// Alias for requester title-casing (e.g. "traderequest" -> "Traderequest").
func (j *JSONRPCServer) Traderequest(req *http.Request, args *TradeRequestArgs, reply *TradeRequestReply) error {
	return j.TradeRequest(req, args, reply)
}

type ChallengeArgs struct {
	Asset ids.ID        `json:"asset"`
	Buyer codec.Address `json:"buyer"`
}

type ChallengeReply struct {
	InitiatedMs      int64         `json:"initiated_ms"`
	Resolved         bool          `json:"resolved"`
	WinnerParty      codec.Address `json:"winner_party"`
	WinnerAsset      ids.ID        `json:"winner_asset"`
	TotalAdvantageMs uint64        `json:"total_advantage_ms"`
	Fingerprints     [][]byte      `json:"fingerprints"`
	Roots            []ids.ID      `json:"roots"`
	RootTimestampsMs []int64       `json:"root_timestamps_ms"`
}

func (j *JSONRPCServer) Challenge(req *http.Request, args *ChallengeArgs, reply *ChallengeReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.Challenge")
	defer span.End()

	ch, err := storage.GetChallengeFromState(ctx, j.vm.ReadState, args.Asset, args.Buyer)
	if err != nil {
		return err
	}
	reply.InitiatedMs = ch.InitiatedMs
	reply.Resolved = ch.Resolved
	reply.WinnerParty = ch.WinnerParty
	reply.WinnerAsset = ch.WinnerAsset
	reply.TotalAdvantageMs = ch.TotalAdvantageMs
	reply.Fingerprints = make([][]byte, len(ch.Fingerprints))
	for i := range ch.Fingerprints {
		reply.Fingerprints[i] = append([]byte(nil), ch.Fingerprints[i][:]...)
	}
	reply.Roots = ch.Roots
	reply.RootTimestampsMs = ch.RootTimestampsMs
	return nil
}

type HashchainArgs struct {
	Asset ids.ID        `json:"asset"`
	Buyer codec.Address `json:"buyer"`
}

type HashchainReply struct {
	Tip              ids.ID `json:"tip"`
	CompletedBatches uint64 `json:"completed_batches"`
}

func (j *JSONRPCServer) Hashchain(req *http.Request, args *HashchainArgs, reply *HashchainReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.Hashchain")
	defer span.End()

	hc, err := storage.GetHashchainFromState(ctx, j.vm.ReadState, args.Asset, args.Buyer)
	if err != nil {
		return err
	}
	reply.Tip = hc.Tip
	reply.CompletedBatches = hc.CompletedBatches
	return nil
}

type ProtocolConfigReply struct {
	ProjectionSeed             ids.ID `json:"projection_seed"`
	FingerprintBits            uint32 `json:"fingerprint_bits"`
	MaxVectorLen               uint32 `json:"max_vector_len"`
	SimilarityThresholdPercent uint8  `json:"similarity_threshold_percent"`
	MaxChallengeVectors        uint16 `json:"max_challenge_vectors"`
	TransactionTimeoutMs       int64  `json:"transaction_timeout_ms"`
	ChallengeWindowMs          int64  `json:"challenge_window_ms"`
}

func (j *JSONRPCServer) ProtocolConfig(req *http.Request, _ *struct{}, reply *ProtocolConfigReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.ProtocolConfig")
	defer span.End()

	cfg, err := storage.GetProtocolConfigFromState(ctx, j.vm.ReadState)
	if err != nil {
		return err
	}
	reply.ProjectionSeed = ids.ID(cfg.ProjectionSeed)
	reply.FingerprintBits = fingerprint.Bits
	reply.MaxVectorLen = cfg.MaxVectorLen
	reply.SimilarityThresholdPercent = cfg.SimilarityThresholdPercent
	reply.MaxChallengeVectors = cfg.MaxChallengeVectors
	reply.TransactionTimeoutMs = cfg.TransactionTimeoutMs
	reply.ChallengeWindowMs = cfg.ChallengeWindowMs
	return nil
}

// Alias for requester title-casing (e.g. "protocolconfig" -> "Protocolconfig").
func (j *JSONRPCServer) Protocolconfig(req *http.Request, args *struct{}, reply *ProtocolConfigReply) error {
	return j.ProtocolConfig(req, args, reply)
}

type SellerStatsArgs struct {
	Address codec.Address `json:"address"`
}

type SellerStatsReply struct {
	RootsCommitted uint64 `json:"roots_committed"`
	ChallengesWon  uint64 `json:"challenges_won"`
	ChallengesLost uint64 `json:"challenges_lost"`
	RivalWins      uint64 `json:"rival_wins"`
	BatchesSold    uint64 `json:"batches_sold"`
	LastActivityMs int64  `json:"last_activity_ms"`
	TrustBips      uint32 `json:"trust_bips"`
	TrustTier      string `json:"trust_tier"`
}

func (j *JSONRPCServer) SellerStats(req *http.Request, args *SellerStatsArgs, reply *SellerStatsReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.SellerStats")
	defer span.End()

	stats, err := storage.GetSellerStatsFromState(ctx, j.vm.ReadState, args.Address)
	if err != nil {
		return err
	}
	reply.RootsCommitted = stats.RootsCommitted
	reply.ChallengesWon = stats.ChallengesWon
	reply.ChallengesLost = stats.ChallengesLost
	reply.RivalWins = stats.RivalWins
	reply.BatchesSold = stats.BatchesSold
	reply.LastActivityMs = stats.LastActivityMs
	reply.TrustBips, reply.TrustTier = scoreSellerTrust(stats)
	return nil
}

// Alias for requester title-casing (e.g. "sellerstats" -> "Sellerstats").
func (j *JSONRPCServer) Sellerstats(req *http.Request, args *SellerStatsArgs, reply *SellerStatsReply) error {
	return j.SellerStats(req, args, reply)
}

type FingerprintArgs struct {
	Vector []int64 `json:"vector"`
}

type FingerprintReply struct {
	Fingerprint []byte `json:"fingerprint"`
}

// Fingerprint compresses a vector with the chain's projection matrix so
// clients can pre-check similarity before staking a rival response.
func (j *JSONRPCServer) Fingerprint(req *http.Request, args *FingerprintArgs, reply *FingerprintReply) error {
	ctx, span := j.vm.Tracer().Start(req.Context(), "Server.Fingerprint")
	defer span.End()

	cfg, err := storage.GetProtocolConfigFromState(ctx, j.vm.ReadState)
	if err != nil {
		return err
	}
	engine := fingerprint.Cached(cfg.ProjectionSeed, cfg.MaxVectorLen)
	fp, err := engine.Compress(args.Vector)
	if err != nil {
		return err
	}
	reply.Fingerprint = fp[:]
	return nil
}

type MetricsArgs struct {
	Limit         uint32 `json:"limit"`
	IncludeTrades bool   `json:"include_trades"`
}

func (j *JSONRPCServer) Metrics(req *http.Request, args *MetricsArgs, reply *actions.TradeMetricsSnapshot) error {
	_, span := j.vm.Tracer().Start(req.Context(), "Server.Metrics")
	defer span.End()

	limit := j.config.MetricsTradeLimit
	includeTrades := true
	if args != nil {
		if args.Limit > 0 {
			limit = int(args.Limit)
		}
		includeTrades = args.IncludeTrades
	}
	*reply = actions.GetTradeMetricsSnapshot(limit, includeTrades)
	return nil
}

type MetricsResetReply struct {
	OK bool `json:"ok"`
}

func (j *JSONRPCServer) MetricsReset(req *http.Request, _ *struct{}, reply *MetricsResetReply) error {
	_, span := j.vm.Tracer().Start(req.Context(), "Server.MetricsReset")
	defer span.End()

	actions.ResetTradeMetrics()
	reply.OK = true
	return nil
}

// Alias for requester title-casing (e.g. "metricsreset" -> "Metricsreset").
func (j *JSONRPCServer) Metricsreset(req *http.Request, args *struct{}, reply *MetricsResetReply) error {
	return j.MetricsReset(req, args, reply)
}

func scoreSellerTrust(s storage.SellerStats) (uint32, string) {
	if s.RootsCommitted == 0 && s.BatchesSold == 0 {
		return 0, "Unproven"
	}
	base := uint64(5_000)
	commitBoost := s.RootsCommitted * 20
	if commitBoost > 1_500 {
		commitBoost = 1_500
	}
	salesBoost := s.BatchesSold * 10
	if salesBoost > 2_000 {
		salesBoost = 2_000
	}
	winBoost := (s.ChallengesWon + s.RivalWins) * 100
	if winBoost > 1_500 {
		winBoost = 1_500
	}
	penalty := s.ChallengesLost * 1_200

	score := base + commitBoost + salesBoost + winBoost
	if penalty >= score {
		score = 0
	} else {
		score -= penalty
	}
	if score > 10_000 {
		score = 10_000
	}

	switch {
	case score >= 9_000:
		return uint32(score), "Prime"
	case score >= 7_500:
		return uint32(score), "Established"
	case score >= 6_000:
		return uint32(score), "Proven"
	case score >= 4_000:
		return uint32(score), "Rising"
	case score > 0:
		return uint32(score), "Fragile"
	default:
		return 0, "Unproven"
	}
}
