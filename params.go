package btcstake

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

// Deployment defaults. These are injected through Params rather than read
// from process-wide state so the encoder stays a pure function.
const (
	// DefaultChainID is the BB chain id (6001).
	DefaultChainID uint16 = 0x1771

	// DefaultMinStake is the smallest stake the BB chain accepts, 1 mBTC.
	DefaultMinStake btcutil.Amount = 100_000

	// DefaultMaxLockDays bounds the stake period.
	DefaultMaxLockDays uint16 = 365

	// DefaultDustLimit is the floor below which no change output is
	// emitted.
	DefaultDustLimit btcutil.Amount = 546
)

// DefaultContract is the fixed LSD contract address on the BB chain.
var DefaultContract = common.HexToAddress("0x0000000000000000000000000000000000000800")

// Params carries the per-deployment constants consumed by the record
// encoder and the validators.
type Params struct {
	// Net selects the bitcoin network addresses are rendered for.
	Net *chaincfg.Params

	// ChainID is the BB chain identifier embedded in every record.
	ChainID uint16

	// Contract is the staking contract address embedded in every record.
	Contract common.Address

	MinStake    btcutil.Amount
	MaxLockDays uint16
	DustLimit   btcutil.Amount
}

// DefaultParams returns the standard deployment params for net.
func DefaultParams(net *chaincfg.Params) Params {
	return Params{
		Net:         net,
		ChainID:     DefaultChainID,
		Contract:    DefaultContract,
		MinStake:    DefaultMinStake,
		MaxLockDays: DefaultMaxLockDays,
		DustLimit:   DefaultDustLimit,
	}
}
