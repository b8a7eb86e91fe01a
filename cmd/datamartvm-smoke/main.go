// datamartvm-smoke: end-to-end trade smoke test — mints an asset, commits a
// root, walks the escrow and challenge flow as owner and buyer, then settles
// through the hashchain meter.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/api/indexer"
	"github.com/ava-labs/hypersdk/api/jsonrpc"
	"github.com/ava-labs/hypersdk/auth"
	"github.com/ava-labs/hypersdk/chain"
	"github.com/ava-labs/hypersdk/crypto/ed25519"

	"github.com/thesecretlab-dev/datamartvm/actions"
	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/merkle"
	vmclient "github.com/thesecretlab-dev/datamartvm/vm"
)

const (
	batchPrice  = uint64(25)
	batchCount  = uint64(4)
	ownerStake  = uint64(500)
	challengeN  = uint16(2)
	buyerFunds  = uint64(5_000_000)
	maxWaitable = int64(60_000) // skip settlement when the rival window exceeds this
)

type Report struct {
	Pass    bool   `json:"pass"`
	Error   string `json:"error,omitempty"`
	Steps   []Step `json:"steps"`
	Summary struct {
		AssetID        string `json:"asset_id,omitempty"`
		Root           string `json:"root,omitempty"`
		BuyerDeposit   uint64 `json:"buyer_deposit"`
		OwnerPaid      uint64 `json:"owner_paid"`
		Settled        bool   `json:"settled"`
		SettlementSkip string `json:"settlement_skip,omitempty"`
	} `json:"summary"`
}

type Step struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	TxID   string `json:"tx_id,omitempty"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

func main() {
	nodeURL := os.Getenv("NODE_URL")
	if nodeURL == "" {
		nodeURL = "http://127.0.0.1:9660"
	}
	chainID := os.Getenv("CHAIN_ID")
	if chainID == "" {
		fmt.Fprintf(os.Stderr, "CHAIN_ID env required\n")
		os.Exit(1)
	}
	pkHex := os.Getenv("PRIVATE_KEY")
	if pkHex == "" {
		fmt.Fprintf(os.Stderr, "PRIVATE_KEY env required (genesis key from datamartvm-keygen)\n")
		os.Exit(1)
	}

	report := &Report{}
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()

	if err := run(ctx, nodeURL, chainID, pkHex, report); err != nil {
		report.Pass = false
		report.Error = err.Error()
	} else {
		report.Pass = true
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if !report.Pass {
		os.Exit(1)
	}
}

func run(ctx context.Context, nodeURL, chainID, pkHex string, report *Report) error {
	baseURL := fmt.Sprintf("%s/ext/bc/%s", nodeURL, chainID)

	pkBytes, err := hex.DecodeString(pkHex)
	if err != nil {
		return fmt.Errorf("invalid PRIVATE_KEY hex: %w", err)
	}
	ownerPriv := ed25519.PrivateKey(pkBytes)
	ownerFactory := auth.NewED25519Factory(ownerPriv)
	ownerAddr := auth.NewED25519Address(ownerPriv.PublicKey())

	buyerPriv, err := ed25519.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("buyer key: %w", err)
	}
	buyerFactory := auth.NewED25519Factory(buyerPriv)
	buyerAddr := auth.NewED25519Address(buyerPriv.PublicKey())

	coreClient := jsonrpc.NewJSONRPCClient(baseURL)
	indexerClient := indexer.NewClient(baseURL)
	dmClient := vmclient.NewJSONRPCClient(baseURL)

	_, _, chainIDParsed, err := coreClient.Network(ctx)
	if err != nil {
		return fmt.Errorf("network: %w", err)
	}

	// Build, sign, submit a single-action tx and wait for its result.
	submitAs := func(name string, signer chain.AuthFactory, action chain.Action) (string, [][]byte, error) {
		unitPrices, err := coreClient.UnitPrices(ctx, true)
		if err != nil {
			return "", nil, fmt.Errorf("%s unitPrices: %w", name, err)
		}
		maxFee := uint64(0)
		for i := 0; i < len(unitPrices); i++ {
			maxFee += unitPrices[i] * 10000
		}
		if maxFee < 100000 {
			maxFee = 100000
		}

		_, _, ts, err := coreClient.Accepted(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("%s accepted: %w", name, err)
		}
		anchor := ts
		if nowMs := time.Now().UnixMilli(); nowMs > anchor {
			anchor = nowMs
		}
		// Align timestamp to 1000ms boundary (HyperSDK requirement)
		expiry := anchor + 60_000
		expiry = (expiry / 1000) * 1000
		if expiry <= anchor {
			expiry = ((anchor / 1000) + 61) * 1000
		}
		base := chain.Base{
			Timestamp: expiry,
			ChainID:   chainIDParsed,
			MaxFee:    maxFee,
		}

		txBytes, err := chain.SignRawActionBytesTx(
			base,
			[][]byte{action.Bytes()},
			signer,
		)
		if err != nil {
			return "", nil, fmt.Errorf("%s sign: %w", name, err)
		}

		txID, err := coreClient.SubmitTx(ctx, txBytes)
		if err != nil {
			return "", nil, fmt.Errorf("%s submit: %w", name, err)
		}

		for i := 0; i < 120; i++ {
			select {
			case <-ctx.Done():
				return txID.String(), nil, fmt.Errorf("%s tx result wait: %w", name, ctx.Err())
			default:
			}
			resp, found, err := indexerClient.GetTxResults(ctx, txID)
			if err != nil {
				return txID.String(), nil, fmt.Errorf("%s tx result lookup: %w", name, err)
			}
			if !found {
				time.Sleep(250 * time.Millisecond)
				continue
			}
			if !resp.Result.Success {
				return txID.String(), nil, fmt.Errorf("%s execution failed: %s", name, string(resp.Result.Error))
			}
			return txID.String(), resp.Result.Outputs, nil
		}
		return txID.String(), nil, fmt.Errorf("%s tx result timeout: %s", name, txID)
	}

	step := func(name, txID, detail string, err error) error {
		s := Step{Name: name, TxID: txID, Detail: detail}
		if err != nil {
			s.Error = err.Error()
		} else {
			s.Pass = true
		}
		report.Steps = append(report.Steps, s)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}

	// ── Step 1: Protocol config + owner balance ──
	cfg, err := dmClient.ProtocolConfig(ctx)
	if err != nil {
		return step("query_protocol_config", "", "", err)
	}
	ownerBal, err := dmClient.Balance(ctx, ownerAddr)
	if err != nil {
		return step("query_owner_balance", "", "", err)
	}
	if err := step("query_protocol_config", "",
		fmt.Sprintf("threshold=%d%% window=%dms ownerBal=%d", cfg.SimilarityThresholdPercent, cfg.ChallengeWindowMs, ownerBal),
		nil); err != nil {
		return err
	}

	// ── Step 2: Mint the asset ──
	txID, outputs, err := submitAs("mint_asset", ownerFactory, &actions.MintAsset{
		BatchPrice:  batchPrice,
		BatchNumber: batchCount,
		Metadata:    []byte("smoke dataset"),
	})
	if err != nil {
		return step("mint_asset", txID, "", err)
	}
	if len(outputs) == 0 {
		return step("mint_asset", txID, "", fmt.Errorf("no outputs"))
	}
	typed, err := actions.UnmarshalMintAssetResult(outputs[0])
	if err != nil {
		return step("mint_asset", txID, "", fmt.Errorf("decode result: %w", err))
	}
	assetID := typed.(*actions.MintAssetResult).AssetID
	report.Summary.AssetID = assetID.String()
	if err := step("mint_asset", txID, fmt.Sprintf("asset=%s price=%d batches=%d", assetID, batchPrice, batchCount), nil); err != nil {
		return err
	}

	// ── Step 3: Commit the dataset root ──
	vectors := make([][]int64, batchCount)
	for i := range vectors {
		v := make([]int64, 16)
		for j := range v {
			v[j] = int64((i+1)*(j+3)) - 20
		}
		vectors[i] = v
	}
	tree := merkle.NewTree(vectors)
	root := tree.Root()
	report.Summary.Root = root.String()

	txID, _, err = submitAs("update_root", ownerFactory, &actions.UpdateRoot{
		Asset: assetID,
		Root:  root,
	})
	if err := step("update_root", txID, fmt.Sprintf("root=%s", root), err); err != nil {
		return err
	}

	// ── Step 4: Fund the buyer ──
	txID, _, err = submitAs("fund_buyer", ownerFactory, &actions.Transfer{
		To:    buyerAddr,
		Value: buyerFunds,
		Memo:  []byte("smoke buyer"),
	})
	if err := step("fund_buyer", txID, fmt.Sprintf("buyer=%s amount=%d", buyerAddr, buyerFunds), err); err != nil {
		return err
	}

	// ── Step 5: Buyer requests the purchase ──
	txID, outputs, err = submitAs("request_purchase", buyerFactory, &actions.RequestPurchase{
		Asset:              assetID,
		BatchPrice:         batchPrice,
		BatchNumber:        batchCount,
		TradeType:          mconsts.TradeTypeDataOnly,
		ChallengeSize:      challengeN,
		AssetTransferFee:   0,
		OwnerDepositAmount: ownerStake,
	})
	if err != nil {
		return step("request_purchase", txID, "", err)
	}
	typed, err = actions.UnmarshalRequestPurchaseResult(outputs[0])
	if err != nil {
		return step("request_purchase", txID, "", fmt.Errorf("decode result: %w", err))
	}
	buyerDeposit := typed.(*actions.RequestPurchaseResult).RequiredBuyerDeposit
	report.Summary.BuyerDeposit = buyerDeposit
	if err := step("request_purchase", txID, fmt.Sprintf("required_deposit=%d", buyerDeposit), nil); err != nil {
		return err
	}

	// ── Step 6: Owner confirms, both sides deposit ──
	txID, _, err = submitAs("confirm_request", ownerFactory, &actions.ConfirmRequest{
		Asset: assetID,
		Buyer: buyerAddr,
	})
	if err := step("confirm_request", txID, "", err); err != nil {
		return err
	}

	txID, _, err = submitAs("buyer_deposit", buyerFactory, &actions.BuyerDeposit{
		Asset:  assetID,
		Amount: buyerDeposit,
	})
	if err := step("buyer_deposit", txID, fmt.Sprintf("amount=%d", buyerDeposit), err); err != nil {
		return err
	}

	txID, _, err = submitAs("owner_deposit", ownerFactory, &actions.OwnerDeposit{
		Asset:  assetID,
		Buyer:  buyerAddr,
		Amount: ownerStake,
	})
	if err := step("owner_deposit", txID, fmt.Sprintf("amount=%d", ownerStake), err); err != nil {
		return err
	}

	// ── Step 7: Challenge round trip ──
	txID, _, err = submitAs("initiate_challenge", buyerFactory, &actions.InitiateChallenge{
		Asset: assetID,
	})
	if err := step("initiate_challenge", txID, "", err); err != nil {
		return err
	}

	respVectors := make([][]int64, challengeN)
	respProofs := make([][]ids.ID, challengeN)
	respRoots := make([]ids.ID, challengeN)
	for i := 0; i < int(challengeN); i++ {
		respVectors[i] = vectors[i]
		respProofs[i] = tree.Proof(i)
		respRoots[i] = root
	}
	txID, outputs, err = submitAs("owner_respond", ownerFactory, &actions.OwnerRespond{
		Asset:   assetID,
		Buyer:   buyerAddr,
		Vectors: respVectors,
		Proofs:  respProofs,
		Roots:   respRoots,
	})
	if err != nil {
		return step("owner_respond", txID, "", err)
	}
	typed, err = actions.UnmarshalOwnerRespondResult(outputs[0])
	if err != nil {
		return step("owner_respond", txID, "", fmt.Errorf("decode result: %w", err))
	}
	verified := typed.(*actions.OwnerRespondResult).VerifiedCount
	if err := step("owner_respond", txID, fmt.Sprintf("verified=%d", verified), nil); err != nil {
		return err
	}
	if verified != challengeN {
		return fmt.Errorf("owner_respond verified %d of %d vectors", verified, challengeN)
	}

	txID, _, err = submitAs("validate_data", buyerFactory, &actions.ValidateData{
		Asset: assetID,
	})
	if err := step("validate_data", txID, "", err); err != nil {
		return err
	}

	// ── Step 8: Settlement (only when the rival window is short enough) ──
	if cfg.ChallengeWindowMs > maxWaitable {
		report.Summary.SettlementSkip = fmt.Sprintf(
			"challengeWindowMs=%d exceeds %dms; run against a testnet genesis with a short window",
			cfg.ChallengeWindowMs, maxWaitable,
		)
		report.Steps = append(report.Steps, Step{
			Name:   "settlement",
			Pass:   true,
			Detail: report.Summary.SettlementSkip,
		})
		return nil
	}

	fmt.Fprintf(os.Stderr, "waiting %dms for the rival window to close\n", cfg.ChallengeWindowMs)
	select {
	case <-time.After(time.Duration(cfg.ChallengeWindowMs+2_000) * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	txID, _, err = submitAs("resolve_challenge", buyerFactory, &actions.ResolveChallenge{
		Asset:       assetID,
		Buyer:       buyerAddr,
		Owner:       ownerAddr,
		Winner:      ownerAddr,
		WinnerAsset: assetID,
	})
	if err := step("resolve_challenge", txID, "original owner wins uncontested", err); err != nil {
		return err
	}

	var secret ids.ID
	if _, err := rand.Read(secret[:]); err != nil {
		return fmt.Errorf("hashchain secret: %w", err)
	}
	hc := actions.BuildHashchain(secret, batchCount)
	tip := hc[batchCount]

	txID, _, err = submitAs("set_hashchain_tip", buyerFactory, &actions.SetHashchainTip{
		Asset: assetID,
		Tip:   tip,
	})
	if err := step("set_hashchain_tip", txID, fmt.Sprintf("tip=%s", tip), err); err != nil {
		return err
	}

	// Reveal all batches at once; the preimage for a full reveal is the chain
	// secret itself.
	txID, outputs, err = submitAs("confirm_payment", ownerFactory, &actions.ConfirmPayment{
		Asset:               assetID,
		Buyer:               buyerAddr,
		FinalPreimage:       hc[0],
		NewCompletedBatches: batchCount,
	})
	if err != nil {
		return step("confirm_payment", txID, "", err)
	}
	typed, err = actions.UnmarshalConfirmPaymentResult(outputs[0])
	if err != nil {
		return step("confirm_payment", txID, "", fmt.Errorf("decode result: %w", err))
	}
	payment := typed.(*actions.ConfirmPaymentResult)
	report.Summary.OwnerPaid = payment.Paid
	report.Summary.Settled = payment.Completed
	if err := step("confirm_payment", txID,
		fmt.Sprintf("paid=%d completed=%t transferred=%t", payment.Paid, payment.Completed, payment.AssetTransferred),
		nil); err != nil {
		return err
	}
	if !payment.Completed {
		return fmt.Errorf("trade did not complete after full reveal")
	}

	// ── Step 9: Seller stats should reflect the sale ──
	stats, err := dmClient.SellerStats(ctx, ownerAddr)
	if err != nil {
		return step("query_seller_stats", "", "", err)
	}
	ok := stats.BatchesSold >= batchCount && stats.ChallengesWon >= 1
	s := Step{
		Name:   "query_seller_stats",
		Pass:   ok,
		Detail: fmt.Sprintf("batches_sold=%d challenges_won=%d trust=%d(%s)", stats.BatchesSold, stats.ChallengesWon, stats.TrustBips, stats.TrustTier),
	}
	report.Steps = append(report.Steps, s)
	if !ok {
		return fmt.Errorf("seller stats not updated after settlement")
	}
	return nil
}
