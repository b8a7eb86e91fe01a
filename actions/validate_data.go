package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/hypersdk/chain"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/ava-labs/hypersdk/state"

	mconsts "github.com/thesecretlab-dev/datamartvm/consts"
	"github.com/thesecretlab-dev/datamartvm/storage"
)

const (
	ValidateDataComputeUnits = 1
	MaxValidateDataSize      = 512
)

var (
	ErrUnmarshalEmptyValidateData              = errors.New("cannot unmarshal empty bytes as validate data")
	_                             chain.Action = (*ValidateData)(nil)
)

// ValidateData is the buyer's attestation that the off-chain data delivery
// matched the verified vectors. Rival responses only count after this.
type ValidateData struct {
	Asset ids.ID `serialize:"true" json:"asset"`
}

func (*ValidateData) GetTypeID() uint8 {
	return mconsts.ValidateDataID
}

func (t *ValidateData) StateKeys(actor codec.Address, _ ids.ID) state.Keys {
	return state.Keys{
		string(storage.RequestKey(t.Asset, actor)): state.Read | state.Write,
	}
}

func (t *ValidateData) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, MaxValidateDataSize),
		MaxSize: MaxValidateDataSize,
	}
	p.PackByte(mconsts.ValidateDataID)
	if err := codec.LinearCodec.MarshalInto(t, p); err != nil {
		panic(err)
	}
	return p.Bytes
}

func UnmarshalValidateData(bytes []byte) (chain.Action, error) {
	t := &ValidateData{}
	if len(bytes) == 0 {
		return nil, ErrUnmarshalEmptyValidateData
	}
	if bytes[0] != mconsts.ValidateDataID {
		return nil, fmt.Errorf("unexpected validate data typeID: %d != %d", bytes[0], mconsts.ValidateDataID)
	}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: bytes[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ValidateData) Execute(
	ctx context.Context,
	_ chain.Rules,
	mu state.Mutable,
	timestamp int64,
	actor codec.Address,
	_ ids.ID,
) ([]byte, error) {
	req, err := storage.GetRequest(ctx, mu, t.Asset, actor)
	if err != nil {
		return nil, err
	}
	if !req.Has(storage.ReqVectorsVerified) {
		return nil, storage.ErrVectorsNotVerified
	}
	if req.Has(storage.ReqDataValidated) {
		return nil, storage.ErrDataAlreadyValidated
	}

	req.Set(storage.ReqDataValidated)
	req.LastActivityMs = timestamp
	if err := storage.PutRequest(ctx, mu, t.Asset, actor, req); err != nil {
		return nil, err
	}

	result := &ValidateDataResult{
		Flags: req.Flags,
	}
	return result.Bytes(), nil
}

func (*ValidateData) ComputeUnits(chain.Rules) uint64 {
	return ValidateDataComputeUnits
}

func (*ValidateData) ValidRange(chain.Rules) (int64, int64) {
	return -1, -1
}

var _ codec.Typed = (*ValidateDataResult)(nil)

type ValidateDataResult struct {
	Flags uint8 `serialize:"true" json:"flags"`
}

func (*ValidateDataResult) GetTypeID() uint8 {
	return mconsts.ValidateDataID
}

func (t *ValidateDataResult) Bytes() []byte {
	p := &wrappers.Packer{
		Bytes:   make([]byte, 0, 256),
		MaxSize: MaxValidateDataSize,
	}
	p.PackByte(mconsts.ValidateDataID)
	_ = codec.LinearCodec.MarshalInto(t, p)
	return p.Bytes
}

func UnmarshalValidateDataResult(b []byte) (codec.Typed, error) {
	t := &ValidateDataResult{}
	if err := codec.LinearCodec.UnmarshalFrom(
		&wrappers.Packer{Bytes: b[1:]},
		t,
	); err != nil {
		return nil, err
	}
	return t, nil
}
