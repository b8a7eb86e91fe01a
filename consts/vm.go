package consts

import "github.com/ava-labs/avalanchego/ids"

const (
	Name    = "datamart"
	Symbol  = "DMT"
	Version = "v0.0.1"
)

var ID ids.ID

func init() {
	b := make([]byte, ids.IDLen)
	copy(b, []byte(Name))
	vmID, err := ids.ToID(b)
	if err != nil {
		panic(err)
	}
	ID = vmID
}
