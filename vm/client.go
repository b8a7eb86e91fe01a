package vm

import (
	"context"
	"strings"
	"time"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/api/jsonrpc"
	"github.com/ava-labs/hypersdk/chain"
	"github.com/ava-labs/hypersdk/codec"
	hgenesis "github.com/ava-labs/hypersdk/genesis"
	"github.com/ava-labs/hypersdk/requester"
	"github.com/ava-labs/hypersdk/utils"

	"github.com/thesecretlab-dev/datamartvm/actions"
	"github.com/thesecretlab-dev/datamartvm/consts"
	dgenesis "github.com/thesecretlab-dev/datamartvm/genesis"
)

const balanceCheckInterval = 500 * time.Millisecond

type JSONRPCClient struct {
	requester *requester.EndpointRequester

	g           *dgenesis.Genesis
	ruleFactory chain.RuleFactory
}

func NewJSONRPCClient(uri string) *JSONRPCClient {
	uri = strings.TrimSuffix(uri, "/")
	uri += JSONRPCEndpoint
	req := requester.New(uri, consts.Name)
	return &JSONRPCClient{
		requester: req,
	}
}

func (cli *JSONRPCClient) Genesis(ctx context.Context) (*dgenesis.Genesis, error) {
	if cli.g != nil {
		return cli.g, nil
	}

	resp := new(GenesisReply)
	err := cli.requester.SendRequest(
		ctx,
		"genesis",
		nil,
		resp,
	)
	if err != nil {
		return nil, err
	}
	cli.g = resp.Genesis
	return resp.Genesis, nil
}

func (cli *JSONRPCClient) Balance(ctx context.Context, addr codec.Address) (uint64, error) {
	resp := new(BalanceReply)
	err := cli.requester.SendRequest(
		ctx,
		"balance",
		&BalanceArgs{
			Address: addr,
		},
		resp,
	)
	return resp.Amount, err
}

func (cli *JSONRPCClient) Asset(ctx context.Context, assetID ids.ID) (*AssetReply, error) {
	resp := new(AssetReply)
	err := cli.requester.SendRequest(
		ctx,
		"asset",
		&AssetArgs{
			Asset: assetID,
		},
		resp,
	)
	return resp, err
}

func (cli *JSONRPCClient) RootTimestamp(ctx context.Context, assetID ids.ID, root ids.ID) (int64, error) {
	resp := new(RootTimestampReply)
	err := cli.requester.SendRequest(
		ctx,
		"roottimestamp",
		&RootTimestampArgs{
			Asset: assetID,
			Root:  root,
		},
		resp,
	)
	return resp.TimestampMs, err
}

func (cli *JSONRPCClient) TradeRequest(ctx context.Context, assetID ids.ID, buyer codec.Address) (*TradeRequestReply, error) {
	resp := new(TradeRequestReply)
	err := cli.requester.SendRequest(
		ctx,
		"traderequest",
		&TradeRequestArgs{
			Asset: assetID,
			Buyer: buyer,
		},
		resp,
	)
	return resp, err
}

func (cli *JSONRPCClient) Challenge(ctx context.Context, assetID ids.ID, buyer codec.Address) (*ChallengeReply, error) {
	resp := new(ChallengeReply)
	err := cli.requester.SendRequest(
		ctx,
		"challenge",
		&ChallengeArgs{
			Asset: assetID,
			Buyer: buyer,
		},
		resp,
	)
	return resp, err
}

func (cli *JSONRPCClient) Hashchain(ctx context.Context, assetID ids.ID, buyer codec.Address) (*HashchainReply, error) {
	resp := new(HashchainReply)
	err := cli.requester.SendRequest(
		ctx,
		"hashchain",
		&HashchainArgs{
			Asset: assetID,
			Buyer: buyer,
		},
		resp,
	)
	return resp, err
}

func (cli *JSONRPCClient) ProtocolConfig(ctx context.Context) (*ProtocolConfigReply, error) {
	resp := new(ProtocolConfigReply)
	err := cli.requester.SendRequest(
		ctx,
		"protocolconfig",
		nil,
		resp,
	)
	return resp, err
}

func (cli *JSONRPCClient) SellerStats(ctx context.Context, addr codec.Address) (*SellerStatsReply, error) {
	resp := new(SellerStatsReply)
	err := cli.requester.SendRequest(
		ctx,
		"sellerstats",
		&SellerStatsArgs{Address: addr},
		resp,
	)
	return resp, err
}

func (cli *JSONRPCClient) Fingerprint(ctx context.Context, vector []int64) ([]byte, error) {
	resp := new(FingerprintReply)
	err := cli.requester.SendRequest(
		ctx,
		"fingerprint",
		&FingerprintArgs{
			Vector: vector,
		},
		resp,
	)
	return resp.Fingerprint, err
}

func (cli *JSONRPCClient) Metrics(ctx context.Context, limit uint32, includeTrades bool) (*actions.TradeMetricsSnapshot, error) {
	resp := new(actions.TradeMetricsSnapshot)
	err := cli.requester.SendRequest(
		ctx,
		"metrics",
		&MetricsArgs{
			Limit:         limit,
			IncludeTrades: includeTrades,
		},
		resp,
	)
	return resp, err
}

func (cli *JSONRPCClient) ResetMetrics(ctx context.Context) error {
	resp := new(MetricsResetReply)
	return cli.requester.SendRequest(
		ctx,
		"metricsreset",
		nil,
		resp,
	)
}

func (cli *JSONRPCClient) WaitForBalance(
	ctx context.Context,
	addr codec.Address,
	min uint64,
) error {
	return jsonrpc.Wait(ctx, balanceCheckInterval, func(ctx context.Context) (bool, error) {
		balance, err := cli.Balance(ctx, addr)
		if err != nil {
			return false, err
		}
		shouldExit := balance >= min
		if !shouldExit {
			utils.Outf(
				"{{yellow}}waiting for %s balance: %s{{/}}\n",
				utils.FormatBalance(min),
				addr,
			)
		}
		return shouldExit, nil
	})
}

func (*JSONRPCClient) GetParser() chain.Parser {
	return chain.NewTxTypeParser(ActionParser, AuthParser)
}

func (cli *JSONRPCClient) GetRuleFactory(ctx context.Context) (chain.RuleFactory, error) {
	if cli.ruleFactory != nil {
		return cli.ruleFactory, nil
	}
	networkGenesis, err := cli.Genesis(ctx)
	if err != nil {
		return nil, err
	}
	cli.ruleFactory = &hgenesis.ImmutableRuleFactory{Rules: networkGenesis.Rules}
	return cli.ruleFactory, nil
}
