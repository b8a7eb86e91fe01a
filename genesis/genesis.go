package genesis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/trace"
	"github.com/ava-labs/avalanchego/x/merkledb"

	"github.com/ava-labs/hypersdk/chain"
	hgenesis "github.com/ava-labs/hypersdk/genesis"
	"github.com/ava-labs/hypersdk/state"

	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

var (
	_ hgenesis.Genesis               = (*Genesis)(nil)
	_ hgenesis.GenesisAndRuleFactory = (*Factory)(nil)
)

// Protocol carries the chain-wide trading parameters. They are written to
// the protocol config singleton at genesis and never change afterwards; in
// particular the projection seed fixes the fingerprint matrix for the life
// of the chain.
type Protocol struct {
	ProjectionSeed             ids.ID `json:"projectionSeed"`
	MaxVectorLen               uint32 `json:"maxVectorLen"`
	SimilarityThresholdPercent uint8  `json:"similarityThresholdPercent"`
	MaxChallengeVectors        uint16 `json:"maxChallengeVectors"`
	TransactionTimeoutMs       int64  `json:"transactionTimeoutMs"`
	ChallengeWindowMs          int64  `json:"challengeWindowMs"`
}

type Genesis struct {
	StateBranchFactor merkledb.BranchFactor        `json:"stateBranchFactor"`
	CustomAllocation  []*hgenesis.CustomAllocation `json:"customAllocation"`
	Rules             *hgenesis.Rules              `json:"initialRules"`
	Protocol          *Protocol                    `json:"protocol,omitempty"`
}

func (g *Genesis) InitializeState(
	ctx context.Context,
	tracer trace.Tracer,
	mu state.Mutable,
	balanceHandler chain.BalanceHandler,
) error {
	base := &hgenesis.DefaultGenesis{
		StateBranchFactor: g.StateBranchFactor,
		CustomAllocation:  g.CustomAllocation,
		Rules:             g.Rules,
	}
	if err := base.InitializeState(ctx, tracer, mu, balanceHandler); err != nil {
		return err
	}

	cfg := g.protocolConfig()
	if err := validateProtocol(cfg); err != nil {
		return err
	}
	return storage.PutProtocolConfig(ctx, mu, cfg)
}

func (g *Genesis) protocolConfig() storage.ProtocolConfig {
	p := g.Protocol
	if p == nil {
		p = &Protocol{}
	}
	return storage.ProtocolConfig{
		ProjectionSeed:             [32]byte(p.ProjectionSeed),
		MaxVectorLen:               p.MaxVectorLen,
		SimilarityThresholdPercent: p.SimilarityThresholdPercent,
		MaxChallengeVectors:        p.MaxChallengeVectors,
		TransactionTimeoutMs:       p.TransactionTimeoutMs,
		ChallengeWindowMs:          p.ChallengeWindowMs,
	}
}

func (g *Genesis) GetStateBranchFactor() merkledb.BranchFactor {
	return g.StateBranchFactor
}

type Factory struct{}

func (Factory) Load(
	genesisBytes []byte,
	_ []byte,
	networkID uint32,
	chainID ids.ID,
) (hgenesis.Genesis, chain.RuleFactory, error) {
	g := &Genesis{}
	if err := json.Unmarshal(genesisBytes, g); err != nil {
		return nil, nil, err
	}
	if g.StateBranchFactor == 0 {
		g.StateBranchFactor = merkledb.BranchFactor16
	}
	if g.Rules == nil {
		g.Rules = hgenesis.NewDefaultRules()
	}
	g.Rules.NetworkID = networkID
	g.Rules.ChainID = chainID
	applyProtocolDefaults(g)
	return g, &hgenesis.ImmutableRuleFactory{Rules: g.Rules}, nil
}

func applyProtocolDefaults(g *Genesis) {
	if g.Protocol == nil {
		g.Protocol = &Protocol{}
	}
	p := g.Protocol
	if p.MaxVectorLen == 0 {
		p.MaxVectorLen = mconsts.DefaultMaxVectorLen
	}
	if p.SimilarityThresholdPercent == 0 {
		p.SimilarityThresholdPercent = mconsts.DefaultSimilarityThresholdPercent
	}
	if p.MaxChallengeVectors == 0 {
		p.MaxChallengeVectors = mconsts.DefaultMaxChallengeVectors
	}
	if p.TransactionTimeoutMs == 0 {
		p.TransactionTimeoutMs = mconsts.DefaultTransactionTimeoutMs
	}
	if p.ChallengeWindowMs == 0 {
		p.ChallengeWindowMs = mconsts.DefaultChallengeWindowMs
	}
}

func validateProtocol(cfg storage.ProtocolConfig) error {
	if err := storage.ValidateProtocolConfig(cfg); err != nil {
		return err
	}
	if cfg.SimilarityThresholdPercent < 50 {
		return fmt.Errorf(
			"%w: similarityThresholdPercent %d below useful range",
			storage.ErrInvalidProtocolConfig,
			cfg.SimilarityThresholdPercent,
		)
	}
	return nil
}
