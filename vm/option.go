package vm

import (
	"log"
	"os"
	"strings"

	"github.com/ava-labs/hypersdk/api"
	"github.com/ava-labs/hypersdk/vm"
)

const Namespace = "controller"

type Config struct {
	Enabled bool `json:"enabled"`

	// MetricsTradeLimit caps how many per-trade entries a metrics snapshot
	// returns; 0 means all retained trades.
	MetricsTradeLimit int `json:"metricsTradeLimit"`
}

func NewDefaultConfig() Config {
	return Config{
		Enabled: true,
	}
}

func With() vm.Option {
	return vm.NewOption(Namespace, NewDefaultConfig(), func(_ api.VM, config Config) (vm.Opt, error) {
		if v, ok := parseEnvBool("DATAMART_API_ENABLED"); ok {
			config.Enabled = v
		}
		log.Printf("datamartvm api config: enabled=%t", config.Enabled)
		if !config.Enabled {
			return vm.NewOpt(), nil
		}
		return vm.WithVMAPIs(jsonRPCServerFactory{config: config}), nil
	})
}

func parseEnvBool(name string) (bool, bool) {
	v, ok := getEnv(name)
	if !ok {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true, true
	case "0", "false", "f", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

func getEnv(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", false
	}
	return v, true
}
