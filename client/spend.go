package client

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/slog"
	"github.com/pkg/errors"

	"github.com/BounceBit-Labs/btcstake"
	"github.com/BounceBit-Labs/btcstake/chain"
	"github.com/BounceBit-Labs/btcstake/stakedb"
)

// Spender runs the unlock pipeline: the part a generic wallet cannot do,
// since the spent output's script is not a standard template.
type Spender struct {
	log  slog.Logger
	node chain.Backend
	cfg  *Config
	db   *stakedb.DB // nil disables receipt lookup/cleanup
}

// NewSpender wires a Spender. db may be nil.
func NewSpender(cfg *Config, node chain.Backend, db *stakedb.DB, log slog.Logger) *Spender {
	if log == nil {
		log = slog.Disabled
	}
	return &Spender{log: log, node: node, cfg: cfg, db: db}
}

// SpendRequest is one unlock operation.
type SpendRequest struct {
	UTXO         string // txid:vout of the stake deposit
	RedeemScript string // hex; empty means "look up the receipt store"
	Destination  string
	PrivKey      string // WIF or 32-byte hex, used for this call only
}

// SpendResult reports the broadcast unlock transaction.
type SpendResult struct {
	TxID   *chainhash.Hash
	Amount btcutil.Amount
	Fee    btcutil.Amount
}

// SpendStake builds, signs and broadcasts the unlock transaction for a
// stake deposit. Signing does not consult wall-clock time; a spend
// attempted before the lock expires fails at broadcast, rejected by the
// network as non-final.
func (s *Spender) SpendStake(ctx context.Context, req *SpendRequest) (*SpendResult, error) {
	params, err := s.cfg.StakeParams()
	if err != nil {
		return nil, err
	}

	op, err := btcstake.ParseOutPoint(req.UTXO)
	if err != nil {
		return nil, err
	}
	redeem, err := s.resolveRedeemScript(req)
	if err != nil {
		return nil, err
	}
	cond, err := btcstake.ParseStakeScript(redeem)
	if err != nil {
		return nil, err
	}
	destAddr, err := btcutil.DecodeAddress(req.Destination, params.Net)
	if err != nil {
		return nil, errors.Wrapf(err, "destination %q", req.Destination)
	}
	if !destAddr.IsForNet(params.Net) {
		return nil, errors.Errorf("destination %q is not for %s", req.Destination, params.Net.Name)
	}
	priv, err := parsePrivKey(req.PrivKey)
	if err != nil {
		return nil, err
	}

	utxo, err := s.node.GetUTXO(ctx, op)
	if err != nil {
		return nil, err
	}
	legacy := txscript.IsPayToScriptHash(utxo.PkScript)

	fallback, err := s.cfg.FallbackRate()
	if err != nil {
		return nil, err
	}
	rate, err := chain.FeeRate(ctx, s.node, s.cfg.ConfTarget, fallback)
	if err != nil {
		return nil, err
	}
	fee := btcstake.FeeForRate(rate, btcstake.SpendTxSize(legacy))

	tx, err := btcstake.BuildSpendTx(utxo, cond, destAddr, fee)
	if err != nil {
		return nil, err
	}
	if err := btcstake.SignSpendTx(tx, 0, utxo, redeem, priv); err != nil {
		return nil, err
	}
	if err := btcstake.VerifySpendTx(tx, 0, utxo); err != nil {
		return nil, err
	}
	s.log.Debugf("spend: %s -> %s amount=%v fee=%v locktime=%d legacy=%t",
		req.UTXO, destAddr, utxo.Amount-fee, fee, cond.LockTime, legacy)

	txid, err := s.node.Broadcast(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.log.Infof("spend: broadcast %s", txid)

	if s.db != nil {
		if err := s.db.Delete(req.UTXO); err != nil {
			s.log.Warnf("spend: receipt not removed: %v", err)
		}
	}
	return &SpendResult{TxID: txid, Amount: utxo.Amount - fee, Fee: fee}, nil
}

func (s *Spender) resolveRedeemScript(req *SpendRequest) ([]byte, error) {
	if req.RedeemScript != "" {
		redeem, err := hex.DecodeString(req.RedeemScript)
		if err != nil {
			return nil, errors.Wrap(err, "redeem script hex")
		}
		return redeem, nil
	}
	if s.db == nil {
		return nil, errors.New("no redeem script supplied and no receipt store")
	}
	receipt, err := s.db.Get(req.UTXO)
	if err != nil {
		return nil, err
	}
	return receipt.RedeemScript, nil
}

// parsePrivKey accepts either a WIF string or 32 raw hex bytes.
func parsePrivKey(s string) (*btcec.PrivateKey, error) {
	if wif, err := btcutil.DecodeWIF(s); err == nil {
		return wif.PrivKey, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, errors.New("private key must be WIF or 32-byte hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}
