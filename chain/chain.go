// Package chain abstracts the bitcoin full-node RPC service the staking
// pipeline depends on. The core never talks to the node directly; it
// consumes this interface so every transformation stays testable offline.
package chain

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/BounceBit-Labs/btcstake"
)

// Collaborator failures, surfaced unmodified. Transient-retry policy is
// the caller's concern.
var (
	// ErrNotFound means the referenced output is unknown or already
	// spent.
	ErrNotFound = errors.New("utxo not found or spent")

	// ErrEstimateUnavailable means the node cannot produce a fee-rate
	// estimate; callers substitute their configured fallback rate.
	ErrEstimateUnavailable = errors.New("fee estimate unavailable")

	// ErrRejectedByNetwork wraps the node's rejection reason for a
	// broadcast transaction (non-final, insufficient fee, policy).
	ErrRejectedByNetwork = errors.New("transaction rejected by network")
)

// ScriptInfo is the node's view of a redeem script's wrapped forms, used
// only to cross-check the locally derived addresses.
type ScriptInfo struct {
	SegwitAddress string
	LegacyAddress string
}

// Backend is the set of node operations the staking flows consume.
type Backend interface {
	// GetUTXO fetches the amount and scriptPubKey of an unspent output.
	GetUTXO(ctx context.Context, op wire.OutPoint) (*btcstake.UTXO, error)

	// EstimateFeeRate returns the node's fee-rate estimate in satoshis
	// per kvB for confirmation within confTarget blocks.
	EstimateFeeRate(ctx context.Context, confTarget int64) (btcutil.Amount, error)

	// Broadcast submits a signed transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)

	// DecodeScript asks the node for a script's wrapped addresses.
	DecodeScript(ctx context.Context, script []byte) (*ScriptInfo, error)

	// SignStakeTx delegates signing of the lock transaction's standard
	// wallet inputs to the node. The bool reports whether signing
	// completed for every input.
	SignStakeTx(ctx context.Context, tx *wire.MsgTx, privKeyWIF string, prevOuts []*btcstake.UTXO) (*wire.MsgTx, bool, error)

	// MedianTime returns the chain median time, the reference against
	// which lock timestamps are validated.
	MedianTime(ctx context.Context) (time.Time, error)
}

// FeeRate fetches the node's estimate, substituting fallback when the
// node cannot estimate. Any other failure is returned as-is.
func FeeRate(ctx context.Context, b Backend, confTarget int64, fallback btcutil.Amount) (btcutil.Amount, error) {
	rate, err := b.EstimateFeeRate(ctx, confTarget)
	switch {
	case err == nil:
		return rate, nil
	case errors.Is(err, ErrEstimateUnavailable):
		return fallback, nil
	default:
		return 0, err
	}
}
