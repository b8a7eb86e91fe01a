package vm

import (
	"errors"

	"github.com/ava-labs/hypersdk/auth"
	"github.com/ava-labs/hypersdk/chain"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/ava-labs/hypersdk/state/metadata"
	"github.com/ava-labs/hypersdk/vm"
	"github.com/ava-labs/hypersdk/vm/defaultvm"

	"github.com/thesecretlab-dev/datamartvm/actions"
	dgenesis "github.com/thesecretlab-dev/datamartvm/genesis"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

var (
	ActionParser *codec.TypeParser[chain.Action]
	AuthParser   *codec.TypeParser[chain.Auth]
	OutputParser *codec.TypeParser[codec.Typed]

	AuthProvider *auth.AuthProvider

	Parser *chain.TxTypeParser
)

func init() {
	ActionParser = codec.NewTypeParser[chain.Action]()
	AuthParser = codec.NewTypeParser[chain.Auth]()
	OutputParser = codec.NewTypeParser[codec.Typed]()
	AuthProvider = auth.NewAuthProvider()

	if err := auth.WithDefaultPrivateKeyFactories(AuthProvider); err != nil {
		panic(err)
	}

	if err := errors.Join(
		ActionParser.Register(&actions.Transfer{}, actions.UnmarshalTransfer),
		ActionParser.Register(&actions.MintAsset{}, actions.UnmarshalMintAsset),
		ActionParser.Register(&actions.ApproveAsset{}, actions.UnmarshalApproveAsset),
		ActionParser.Register(&actions.TransferAsset{}, actions.UnmarshalTransferAsset),
		ActionParser.Register(&actions.UpdateRoot{}, actions.UnmarshalUpdateRoot),
		ActionParser.Register(&actions.RequestPurchase{}, actions.UnmarshalRequestPurchase),
		ActionParser.Register(&actions.ConfirmRequest{}, actions.UnmarshalConfirmRequest),
		ActionParser.Register(&actions.BuyerDeposit{}, actions.UnmarshalBuyerDeposit),
		ActionParser.Register(&actions.OwnerDeposit{}, actions.UnmarshalOwnerDeposit),
		ActionParser.Register(&actions.InitiateChallenge{}, actions.UnmarshalInitiateChallenge),
		ActionParser.Register(&actions.OwnerRespond{}, actions.UnmarshalOwnerRespond),
		ActionParser.Register(&actions.ValidateData{}, actions.UnmarshalValidateData),
		ActionParser.Register(&actions.RivalRespond{}, actions.UnmarshalRivalRespond),
		ActionParser.Register(&actions.ResolveChallenge{}, actions.UnmarshalResolveChallenge),
		ActionParser.Register(&actions.OwnerCleanup{}, actions.UnmarshalOwnerCleanup),
		ActionParser.Register(&actions.SetHashchainTip{}, actions.UnmarshalSetHashchainTip),
		ActionParser.Register(&actions.ConfirmPayment{}, actions.UnmarshalConfirmPayment),

		AuthParser.Register(&auth.ED25519{}, auth.UnmarshalED25519),
		AuthParser.Register(&auth.SECP256R1{}, auth.UnmarshalSECP256R1),
		AuthParser.Register(&auth.BLS{}, auth.UnmarshalBLS),

		OutputParser.Register(&actions.TransferResult{}, actions.UnmarshalTransferResult),
		OutputParser.Register(&actions.MintAssetResult{}, actions.UnmarshalMintAssetResult),
		OutputParser.Register(&actions.ApproveAssetResult{}, actions.UnmarshalApproveAssetResult),
		OutputParser.Register(&actions.TransferAssetResult{}, actions.UnmarshalTransferAssetResult),
		OutputParser.Register(&actions.UpdateRootResult{}, actions.UnmarshalUpdateRootResult),
		OutputParser.Register(&actions.RequestPurchaseResult{}, actions.UnmarshalRequestPurchaseResult),
		OutputParser.Register(&actions.ConfirmRequestResult{}, actions.UnmarshalConfirmRequestResult),
		OutputParser.Register(&actions.BuyerDepositResult{}, actions.UnmarshalBuyerDepositResult),
		OutputParser.Register(&actions.OwnerDepositResult{}, actions.UnmarshalOwnerDepositResult),
		OutputParser.Register(&actions.InitiateChallengeResult{}, actions.UnmarshalInitiateChallengeResult),
		OutputParser.Register(&actions.OwnerRespondResult{}, actions.UnmarshalOwnerRespondResult),
		OutputParser.Register(&actions.ValidateDataResult{}, actions.UnmarshalValidateDataResult),
		OutputParser.Register(&actions.RivalRespondResult{}, actions.UnmarshalRivalRespondResult),
		OutputParser.Register(&actions.ResolveChallengeResult{}, actions.UnmarshalResolveChallengeResult),
		OutputParser.Register(&actions.OwnerCleanupResult{}, actions.UnmarshalOwnerCleanupResult),
		OutputParser.Register(&actions.SetHashchainTipResult{}, actions.UnmarshalSetHashchainTipResult),
		OutputParser.Register(&actions.ConfirmPaymentResult{}, actions.UnmarshalConfirmPaymentResult),
	); err != nil {
		panic(err)
	}

	Parser = chain.NewTxTypeParser(ActionParser, AuthParser)
}

func New(options ...vm.Option) (*vm.VM, error) {
	factory := NewFactory()
	return factory.New(options...)
}

func NewFactory() *vm.Factory {
	options := append(defaultvm.NewDefaultOptions(), With())
	return vm.NewFactory(
		&dgenesis.Factory{},
		&storage.BalanceHandler{},
		metadata.NewDefaultManager(),
		ActionParser,
		AuthParser,
		OutputParser,
		auth.DefaultEngines(),
		options...,
	)
}
