package client

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/BounceBit-Labs/btcstake"
)

// Config is the consolidated staking tool configuration, loaded from a
// JSON file with CLI overrides applied on top.
type Config struct {
	// Network selects mainnet, testnet3, signet or regtest.
	Network string `json:"network"`

	// Node RPC connectivity (bitcoind, HTTP POST mode).
	RPCHost string `json:"rpc_host"`
	RPCUser string `json:"rpc_user"`
	RPCPass string `json:"rpc_pass"`

	// BB chain deployment constants.
	ChainID  uint16 `json:"chain_id"`
	Contract string `json:"contract"`

	MinStakeBTC   float64 `json:"min_stake_btc"`
	MaxLockDays   uint16  `json:"max_lock_days"`
	DustLimitSats int64   `json:"dust_limit_sats"`

	// FallbackFeeRate is used, in BTC/kvB, when the node cannot estimate.
	// It is an explicit setting, never inferred.
	FallbackFeeRate float64 `json:"fallback_fee_rate"`
	ConfTarget      int64   `json:"conf_target"`

	DataDir string `json:"data_dir"`
}

// Overrides carries optional CLI/runtime overrides for config values.
type Overrides struct {
	Network    string
	RPCHost    string
	RPCUser    string
	RPCPass    string
	ConfTarget int64
	DataDir    string
}

func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Network:         "mainnet",
		RPCHost:         "localhost:8332",
		ChainID:         btcstake.DefaultChainID,
		Contract:        btcstake.DefaultContract.Hex(),
		MinStakeBTC:     btcstake.DefaultMinStake.ToBTC(),
		MaxLockDays:     btcstake.DefaultMaxLockDays,
		DustLimitSats:   int64(btcstake.DefaultDustLimit),
		FallbackFeeRate: 0.00005,
		ConfTarget:      6,
		DataDir:         filepath.Join(home, ".btcstake"),
	}
}

// LoadConfig reads the JSON config at path (optional) and applies
// overrides. Missing fields keep their defaults.
func LoadConfig(path string, ov Overrides) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	if ov.Network != "" {
		cfg.Network = ov.Network
	}
	if ov.RPCHost != "" {
		cfg.RPCHost = ov.RPCHost
	}
	if ov.RPCUser != "" {
		cfg.RPCUser = ov.RPCUser
	}
	if ov.RPCPass != "" {
		cfg.RPCPass = ov.RPCPass
	}
	if ov.ConfTarget != 0 {
		cfg.ConfTarget = ov.ConfTarget
	}
	if ov.DataDir != "" {
		cfg.DataDir = ov.DataDir
	}

	if _, err := cfg.ChainParams(); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, errors.Errorf("bad contract address %q", cfg.Contract)
	}
	return cfg, nil
}

// ChainParams maps the configured network name to chain params.
func (c *Config) ChainParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, errors.Errorf("unknown network %q", c.Network)
	}
}

// StakeParams assembles the injected core params from the config.
func (c *Config) StakeParams() (btcstake.Params, error) {
	net, err := c.ChainParams()
	if err != nil {
		return btcstake.Params{}, err
	}
	minStake, err := btcutil.NewAmount(c.MinStakeBTC)
	if err != nil {
		return btcstake.Params{}, errors.Wrap(err, "min stake")
	}
	return btcstake.Params{
		Net:         net,
		ChainID:     c.ChainID,
		Contract:    common.HexToAddress(c.Contract),
		MinStake:    minStake,
		MaxLockDays: c.MaxLockDays,
		DustLimit:   btcutil.Amount(c.DustLimitSats),
	}, nil
}

// FallbackRate converts the configured fallback fee rate to satoshis per
// kvB.
func (c *Config) FallbackRate() (btcutil.Amount, error) {
	rate, err := btcutil.NewAmount(c.FallbackFeeRate)
	if err != nil {
		return 0, errors.Wrap(err, "fallback fee rate")
	}
	return rate, nil
}

// DBPath is where the receipt store lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "receipts.db")
}
