package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/x/merkledb"

	"github.com/ava-labs/hypersdk/auth"
	"github.com/ava-labs/hypersdk/crypto/ed25519"
	"github.com/ava-labs/hypersdk/fees"
	hgenesis "github.com/ava-labs/hypersdk/genesis"

	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	dgenesis "github.com/thesecretlab-dev/datamartvm/genesis"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--vm-id" {
		b := make([]byte, 32)
		copy(b, []byte(mconsts.Name))
		vmID, _ := ids.ToID(b)
		fmt.Println(vmID.String())
		return
	}

	// Generate a fresh ed25519 key
	priv, err := ed25519.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}

	pub := priv.PublicKey()
	addr := auth.NewED25519Address(pub)

	fmt.Fprintf(os.Stderr, "=== Datamart Genesis Key ===\n")
	fmt.Fprintf(os.Stderr, "Private Key (hex): %s\n", hex.EncodeToString(priv[:]))
	fmt.Fprintf(os.Stderr, "Public Key (hex):  %s\n", hex.EncodeToString(pub[:]))
	fmt.Fprintf(os.Stderr, "Address:           %s\n", addr)

	// The projection seed is drawn once here and fixed for the life of the
	// chain; every fingerprint on this network derives from it.
	var seed ids.ID
	if _, err := rand.Read(seed[:]); err != nil {
		fmt.Fprintf(os.Stderr, "failed to draw projection seed: %v\n", err)
		os.Exit(1)
	}

	allocs := []*hgenesis.CustomAllocation{
		{
			Address: addr,
			Balance: 10_000_000_000,
		},
	}

	g := &dgenesis.Genesis{
		StateBranchFactor: merkledb.BranchFactor16,
		CustomAllocation:  allocs,
		Rules:             hgenesis.NewDefaultRules(),
		Protocol: &dgenesis.Protocol{
			ProjectionSeed:             seed,
			MaxVectorLen:               mconsts.DefaultMaxVectorLen,
			SimilarityThresholdPercent: mconsts.DefaultSimilarityThresholdPercent,
			MaxChallengeVectors:        mconsts.DefaultMaxChallengeVectors,
			TransactionTimeoutMs:       mconsts.DefaultTransactionTimeoutMs,
			ChallengeWindowMs:          mconsts.DefaultChallengeWindowMs,
		},
	}

	// Tune for data trading: faster blocks, room for bulky vector responses
	g.Rules.MinBlockGap = 100
	g.Rules.MinEmptyBlockGap = 500
	g.Rules.ValidityWindow = 120_000 // 2 min validity
	g.Rules.MaxActionsPerTx = 16
	g.Rules.MaxOutputsPerAction = 1

	// Open up throughput limits for testnet
	// Use MaxInt64 (not MaxUint64) so JSON output stays JS-safe (no precision loss)
	const jsMax = 9_007_199_254_740_991 // Number.MAX_SAFE_INTEGER
	g.Rules.WindowTargetUnits = fees.Dimensions{jsMax, jsMax, jsMax, jsMax, jsMax}
	g.Rules.MaxBlockUnits = fees.Dimensions{1_800_000, jsMax, jsMax, jsMax, jsMax}

	g.Rules.NetworkID = 0
	g.Rules.ChainID = ids.Empty

	out, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal genesis: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
