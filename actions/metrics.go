package actions

import (
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/codec"
)

const defaultTradeMetricsMaxPairs = 200_000

// TradeMetrics aggregates the observable timeline of one (asset, buyer)
// trade as seen by an off-chain driver: dispute timing, rival pressure and
// payment progress.
type TradeMetrics struct {
	AssetID string `json:"asset_id"`
	Buyer   string `json:"buyer"`

	ChallengeSize uint16 `json:"challenge_size"`

	RivalResponses uint32 `json:"rival_responses"`
	WinnerFlips    uint32 `json:"winner_flips"`

	ChallengeInitiatedAtMs int64 `json:"challenge_initiated_at_ms"`
	ResolvedAtMs           int64 `json:"resolved_at_ms"`
	CompletedAtMs          int64 `json:"completed_at_ms"`

	OriginalWon bool   `json:"original_won"`
	BatchesPaid uint64 `json:"batches_paid"`
	PaidAmount  uint64 `json:"paid_amount"`

	RespondExecUs uint64 `json:"respond_exec_us"`
	PaymentExecUs uint64 `json:"payment_exec_us"`

	DisputeDurationMs   int64 `json:"dispute_duration_ms"`
	SettlementLatencyMs int64 `json:"settlement_latency_ms"`

	Rejected  bool   `json:"rejected"`
	LastError string `json:"last_error,omitempty"`
}

type TradeMetricsSummary struct {
	TotalTradesObserved  uint64 `json:"total_trades_observed"`
	TotalChallenges      uint64 `json:"total_challenges"`
	TotalRivalResponses  uint64 `json:"total_rival_responses"`
	TotalResolutions     uint64 `json:"total_resolutions"`
	TotalOriginalWins    uint64 `json:"total_original_wins"`
	TotalRivalWins       uint64 `json:"total_rival_wins"`
	TotalPayments        uint64 `json:"total_payments"`
	TotalPaymentErrors   uint64 `json:"total_payment_errors"`
	TotalBatchesPaid     uint64 `json:"total_batches_paid"`
	TotalCompletedTrades uint64 `json:"total_completed_trades"`
}

type TradeMetricsSnapshot struct {
	GeneratedAtMs int64               `json:"generated_at_ms"`
	Summary       TradeMetricsSummary `json:"summary"`
	Trades        []TradeMetrics      `json:"trades,omitempty"`
}

type tradeMetricsCollector struct {
	mu       sync.Mutex
	maxPairs int
	trades   map[string]*TradeMetrics
	order    []string

	summary TradeMetricsSummary
}

func newTradeMetricsCollector(maxPairs int) *tradeMetricsCollector {
	return &tradeMetricsCollector{
		maxPairs: maxPairs,
		trades:   make(map[string]*TradeMetrics, 1024),
		order:    make([]string, 0, 1024),
	}
}

func (c *tradeMetricsCollector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.trades = make(map[string]*TradeMetrics, 1024)
	c.order = c.order[:0]
	c.summary = TradeMetricsSummary{}
}

func tradePairKey(assetID ids.ID, buyer codec.Address) string {
	return assetID.String() + ":" + buyer.String()
}

func (c *tradeMetricsCollector) getOrCreateLocked(assetID ids.ID, buyer codec.Address) *TradeMetrics {
	key := tradePairKey(assetID, buyer)
	if t, ok := c.trades[key]; ok {
		return t
	}
	if c.maxPairs > 0 && len(c.order) >= c.maxPairs {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.trades, oldest)
	}
	t := &TradeMetrics{
		AssetID: assetID.String(),
		Buyer:   buyer.String(),
	}
	c.trades[key] = t
	c.order = append(c.order, key)
	c.summary.TotalTradesObserved++
	return t
}

func (c *tradeMetricsCollector) recordChallenge(assetID ids.ID, buyer codec.Address, challengeSize uint16, initiatedAtMs int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.getOrCreateLocked(assetID, buyer)
	if err != nil {
		t.Rejected = true
		t.LastError = err.Error()
		return
	}
	t.ChallengeSize = challengeSize
	t.ChallengeInitiatedAtMs = initiatedAtMs
	c.summary.TotalChallenges++
}

func (c *tradeMetricsCollector) recordRivalResponse(assetID ids.ID, buyer codec.Address, becameWinner bool, exec time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.getOrCreateLocked(assetID, buyer)
	if exec > 0 {
		t.RespondExecUs += uint64(exec.Microseconds())
	}
	if err != nil {
		t.Rejected = true
		t.LastError = err.Error()
		return
	}
	t.RivalResponses++
	if becameWinner {
		t.WinnerFlips++
	}
	c.summary.TotalRivalResponses++
}

func (c *tradeMetricsCollector) recordResolution(assetID ids.ID, buyer codec.Address, resolvedAtMs int64, originalWon bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.getOrCreateLocked(assetID, buyer)
	if err != nil {
		t.Rejected = true
		t.LastError = err.Error()
		return
	}
	t.ResolvedAtMs = resolvedAtMs
	t.OriginalWon = originalWon
	c.summary.TotalResolutions++
	if originalWon {
		c.summary.TotalOriginalWins++
	} else {
		c.summary.TotalRivalWins++
	}
}

func (c *tradeMetricsCollector) recordPayment(
	assetID ids.ID,
	buyer codec.Address,
	batches uint64,
	paid uint64,
	completedAtMs int64,
	exec time.Duration,
	err error,
) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.getOrCreateLocked(assetID, buyer)
	if exec > 0 {
		t.PaymentExecUs += uint64(exec.Microseconds())
	}
	if err != nil {
		t.Rejected = true
		t.LastError = err.Error()
		c.summary.TotalPaymentErrors++
		return
	}
	t.BatchesPaid += batches
	t.PaidAmount += paid
	c.summary.TotalPayments++
	c.summary.TotalBatchesPaid += batches
	if completedAtMs > 0 {
		t.CompletedAtMs = completedAtMs
		c.summary.TotalCompletedTrades++
	}
}

func (c *tradeMetricsCollector) snapshot(limit int, includeTrades bool) TradeMetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := TradeMetricsSnapshot{
		GeneratedAtMs: time.Now().UnixMilli(),
		Summary:       c.summary,
	}
	if !includeTrades {
		return snap
	}

	keys := c.order
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	snap.Trades = make([]TradeMetrics, 0, len(keys))
	for _, key := range keys {
		t := c.trades[key]
		if t == nil {
			continue
		}
		cp := *t

		if cp.ResolvedAtMs > 0 && cp.ChallengeInitiatedAtMs > 0 && cp.ResolvedAtMs >= cp.ChallengeInitiatedAtMs {
			cp.DisputeDurationMs = cp.ResolvedAtMs - cp.ChallengeInitiatedAtMs
		}
		if cp.CompletedAtMs > 0 && cp.ResolvedAtMs > 0 && cp.CompletedAtMs >= cp.ResolvedAtMs {
			cp.SettlementLatencyMs = cp.CompletedAtMs - cp.ResolvedAtMs
		}

		snap.Trades = append(snap.Trades, cp)
	}
	return snap
}

var tradeMetrics = newTradeMetricsCollector(defaultTradeMetricsMaxPairs)

func ResetTradeMetrics() {
	tradeMetrics.reset()
}

func RecordChallengeMetric(assetID ids.ID, buyer codec.Address, challengeSize uint16, initiatedAtMs int64, err error) {
	tradeMetrics.recordChallenge(assetID, buyer, challengeSize, initiatedAtMs, err)
}

func RecordRivalResponseMetric(assetID ids.ID, buyer codec.Address, becameWinner bool, exec time.Duration, err error) {
	tradeMetrics.recordRivalResponse(assetID, buyer, becameWinner, exec, err)
}

func RecordResolutionMetric(assetID ids.ID, buyer codec.Address, resolvedAtMs int64, originalWon bool, err error) {
	tradeMetrics.recordResolution(assetID, buyer, resolvedAtMs, originalWon, err)
}

func RecordPaymentMetric(
	assetID ids.ID,
	buyer codec.Address,
	batches uint64,
	paid uint64,
	completedAtMs int64,
	exec time.Duration,
	err error,
) {
	tradeMetrics.recordPayment(assetID, buyer, batches, paid, completedAtMs, exec, err)
}

func GetTradeMetricsSnapshot(limit int, includeTrades bool) TradeMetricsSnapshot {
	return tradeMetrics.snapshot(limit, includeTrades)
}
