package actions

import (
	"context"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/hypersdk/chain"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/ava-labs/hypersdk/state"

	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/merkle"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

var _ state.Mutable = (*testState)(nil)

// testState is a map-backed state.Mutable for exercising Execute bodies
// without a chain.
type testState struct {
	values map[string][]byte
}

func newTestState() *testState {
	return &testState{values: make(map[string][]byte)}
}

func (s *testState) GetValue(_ context.Context, key []byte) ([]byte, error) {
	v, ok := s.values[string(key)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *testState) Insert(_ context.Context, key []byte, value []byte) error {
	s.values[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *testState) Remove(_ context.Context, key []byte) error {
	delete(s.values, string(key))
	return nil
}

func testAddr(seed byte) codec.Address {
	var a codec.Address
	for i := range a {
		a[i] = seed
	}
	return a
}

func testID(seed byte) ids.ID {
	var id ids.ID
	for i := range id {
		id[i] = seed
	}
	return id
}

func testProtocolConfig() storage.ProtocolConfig {
	return storage.ProtocolConfig{
		ProjectionSeed:             [32]byte{0xd7, 0x01},
		MaxVectorLen:               8,
		SimilarityThresholdPercent: 80,
		MaxChallengeVectors:        8,
		TransactionTimeoutMs:       50_000,
		ChallengeWindowMs:          10_000,
	}
}

func testVectors(count int, salt int64) [][]int64 {
	vectors := make([][]int64, count)
	for i := range vectors {
		v := make([]int64, 8)
		for j := range v {
			v[j] = int64(i+1)*(int64(j)*3-7) + salt
		}
		vectors[i] = v
	}
	return vectors
}

// tradeEnv drives one asset and one buyer through the trade lifecycle with
// fixed amounts: price 25 over 4 batches, owner stake 500, challenge size 2.
type tradeEnv struct {
	ctx   context.Context
	state *testState
	cfg   storage.ProtocolConfig

	owner codec.Address
	buyer codec.Address
	asset ids.ID

	vectors [][]int64
	tree    *merkle.Tree
	root    ids.ID
}

const (
	testBatchPrice    = uint64(25)
	testBatchCount    = uint64(4)
	testOwnerStake    = uint64(500)
	testChallengeSize = uint16(2)
	testStartBalance  = uint64(1_000_000)
	testRootCommitMs  = int64(1_000)
)

func newTradeEnv(t *testing.T) *tradeEnv {
	t.Helper()
	env := &tradeEnv{
		ctx:     context.Background(),
		state:   newTestState(),
		cfg:     testProtocolConfig(),
		owner:   testAddr(0xaa),
		buyer:   testAddr(0xbb),
		asset:   testID(0x01),
		vectors: testVectors(int(testBatchCount), 0),
	}
	env.tree = merkle.NewTree(env.vectors)
	env.root = env.tree.Root()

	if err := storage.PutProtocolConfig(env.ctx, env.state, env.cfg); err != nil {
		t.Fatalf("put protocol config: %v", err)
	}
	if err := storage.SetBalance(env.ctx, env.state, env.owner, testStartBalance); err != nil {
		t.Fatalf("set owner balance: %v", err)
	}
	if err := storage.SetBalance(env.ctx, env.state, env.buyer, testStartBalance); err != nil {
		t.Fatalf("set buyer balance: %v", err)
	}

	env.exec(t, &MintAsset{
		BatchPrice:  testBatchPrice,
		BatchNumber: testBatchCount,
		Metadata:    []byte("test dataset"),
	}, 100, env.owner, env.asset)
	env.exec(t, &UpdateRoot{Asset: env.asset, Root: env.root}, testRootCommitMs, env.owner, ids.Empty)
	return env
}

// exec runs an action and fails the test on error.
func (env *tradeEnv) exec(t *testing.T, action chain.Action, timestamp int64, actor codec.Address, actionID ids.ID) []byte {
	t.Helper()
	out, err := action.Execute(env.ctx, nil, env.state, timestamp, actor, actionID)
	if err != nil {
		t.Fatalf("%T execute: %v", action, err)
	}
	return out
}

// execErr runs an action expecting failure and returns the error.
func (env *tradeEnv) execErr(t *testing.T, action chain.Action, timestamp int64, actor codec.Address) error {
	t.Helper()
	_, err := action.Execute(env.ctx, nil, env.state, timestamp, actor, ids.Empty)
	if err == nil {
		t.Fatalf("%T execute: expected error", action)
	}
	return err
}

func (env *tradeEnv) buyerDepositAmount() uint64 {
	return testBatchPrice * testBatchCount
}

// throughDeposits walks request, confirmation and both escrow deposits.
func (env *tradeEnv) throughDeposits(t *testing.T, ts int64) {
	t.Helper()
	env.exec(t, &RequestPurchase{
		Asset:              env.asset,
		BatchPrice:         testBatchPrice,
		BatchNumber:        testBatchCount,
		TradeType:          mconsts.TradeTypeDataOnly,
		ChallengeSize:      testChallengeSize,
		OwnerDepositAmount: testOwnerStake,
	}, ts, env.buyer, ids.Empty)
	env.exec(t, &ConfirmRequest{Asset: env.asset, Buyer: env.buyer}, ts+1, env.owner, ids.Empty)
	env.exec(t, &BuyerDeposit{Asset: env.asset, Amount: env.buyerDepositAmount()}, ts+2, env.buyer, ids.Empty)
	env.exec(t, &OwnerDeposit{Asset: env.asset, Buyer: env.buyer, Amount: testOwnerStake}, ts+3, env.owner, ids.Empty)
}

// throughValidation continues from deposits through the challenge round
// trip and the buyer's receipt validation. The challenge is initiated at
// exactly ts.
func (env *tradeEnv) throughValidation(t *testing.T, ts int64) {
	t.Helper()
	env.exec(t, &InitiateChallenge{Asset: env.asset}, ts, env.buyer, ids.Empty)

	count := int(testChallengeSize)
	vectors := make([][]int64, count)
	proofs := make([][]ids.ID, count)
	roots := make([]ids.ID, count)
	for i := 0; i < count; i++ {
		vectors[i] = env.vectors[i]
		proofs[i] = env.tree.Proof(i)
		roots[i] = env.root
	}
	env.exec(t, &OwnerRespond{
		Asset:   env.asset,
		Buyer:   env.buyer,
		Vectors: vectors,
		Proofs:  proofs,
		Roots:   roots,
	}, ts+1, env.owner, ids.Empty)
	env.exec(t, &ValidateData{Asset: env.asset}, ts+2, env.buyer, ids.Empty)
}

func (env *tradeEnv) balance(t *testing.T, addr codec.Address) uint64 {
	t.Helper()
	bal, err := storage.GetBalance(env.ctx, env.state, addr)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return bal
}

func (env *tradeEnv) request(t *testing.T) storage.Request {
	t.Helper()
	req, err := storage.GetRequest(env.ctx, env.state, env.asset, env.buyer)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	return req
}

func (env *tradeEnv) challenge(t *testing.T) storage.Challenge {
	t.Helper()
	ch, err := storage.GetChallenge(env.ctx, env.state, env.asset, env.buyer)
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	return ch
}

// addRival registers a second asset owned by rival and commits the same
// dataset under it at commitMs, earlier commits winning disputes.
func (env *tradeEnv) addRival(t *testing.T, rival codec.Address, rivalAsset ids.ID, commitMs int64) {
	t.Helper()
	env.exec(t, &MintAsset{
		BatchPrice:  testBatchPrice,
		BatchNumber: testBatchCount,
		Metadata:    []byte("rival dataset"),
	}, commitMs-1, rival, rivalAsset)
	env.exec(t, &UpdateRoot{Asset: rivalAsset, Root: env.root}, commitMs, rival, ids.Empty)
}

// rivalRespond builds a full-coverage rival response reusing the shared
// dataset.
func (env *tradeEnv) rivalRespond(rivalAsset ids.ID) *RivalRespond {
	count := int(testChallengeSize)
	vectors := make([][]int64, count)
	proofs := make([][]ids.ID, count)
	roots := make([]ids.ID, count)
	for i := 0; i < count; i++ {
		vectors[i] = env.vectors[i]
		proofs[i] = env.tree.Proof(i)
		roots[i] = env.root
	}
	return &RivalRespond{
		Asset:      env.asset,
		Buyer:      env.buyer,
		RivalAsset: rivalAsset,
		Vectors:    vectors,
		Proofs:     proofs,
		Roots:      roots,
	}
}
