// Package client orchestrates the lock and unlock pipelines against the
// node collaborator: validate, build, sign, broadcast, record.
package client

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/slog"
	"github.com/pkg/errors"

	"github.com/BounceBit-Labs/btcstake"
	"github.com/BounceBit-Labs/btcstake/chain"
	"github.com/BounceBit-Labs/btcstake/stakedb"
)

// Staker runs the lock pipeline. All pure validation happens before the
// first node round-trip.
type Staker struct {
	log    slog.Logger
	node   chain.Backend
	cfg    *Config
	params btcstake.Params
	db     *stakedb.DB // nil disables receipt persistence
}

// NewStaker wires a Staker. db may be nil.
func NewStaker(cfg *Config, node chain.Backend, db *stakedb.DB, log slog.Logger) (*Staker, error) {
	params, err := cfg.StakeParams()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Disabled
	}
	return &Staker{log: log, node: node, cfg: cfg, params: params, db: db}, nil
}

// StakeRequest is one lock operation. The private key is used for this
// call only and never persisted.
type StakeRequest struct {
	PubKey        string // hex compressed staking pubkey
	Days          uint16
	Amount        btcutil.Amount
	Recipient     string // BB chain address receiving the stake credit
	ChangeAddress string
	UTXOs         []string // txid:vout, wallet-controlled standard outputs
	PrivKeyWIF    string   // signs the standard inputs, via the node
	Verify        bool     // cross-check derived addresses via decodescript
}

// StakeResult reports what was built and broadcast.
type StakeResult struct {
	TxID          *chainhash.Hash
	RedeemScript  []byte
	LockTime      uint32
	SegwitAddress btcutil.Address
	LegacyAddress btcutil.Address
	Record        *btcstake.AuxRecord
	Fee           btcutil.Amount
}

// CreateStake validates the request, derives the CLTV script and aux
// record, assembles and funds the lock transaction, has the node sign its
// standard inputs, broadcasts, and records a receipt.
func (s *Staker) CreateStake(ctx context.Context, req *StakeRequest) (*StakeResult, error) {
	// Pure validation first; no network round-trip on bad input.
	changeAddr, err := btcutil.DecodeAddress(req.ChangeAddress, s.params.Net)
	if err != nil {
		return nil, errors.Wrapf(err, "change address %q", req.ChangeAddress)
	}
	if !changeAddr.IsForNet(s.params.Net) {
		return nil, errors.Errorf("change address %q is not for %s", req.ChangeAddress, s.params.Net.Name)
	}
	pubBytes, err := hex.DecodeString(req.PubKey)
	if err != nil {
		return nil, errors.Wrapf(btcstake.ErrInvalidPubKey, "bad hex: %v", err)
	}
	pub, err := btcstake.ParsePubKey(pubBytes)
	if err != nil {
		return nil, err
	}
	recipient, err := btcstake.ParseRecipient(req.Recipient)
	if err != nil {
		return nil, err
	}
	if req.Amount < s.params.MinStake {
		return nil, errors.Wrapf(btcstake.ErrAmountOutOfRange,
			"%v below minimum stake %v", req.Amount, s.params.MinStake)
	}
	record, err := btcstake.NewAuxRecord(s.params, recipient, req.Amount, req.Days)
	if err != nil {
		return nil, err
	}
	if len(req.UTXOs) == 0 {
		return nil, errors.New("no utxos supplied")
	}
	outPoints := make([]wire.OutPoint, 0, len(req.UTXOs))
	for _, ref := range req.UTXOs {
		op, err := btcstake.ParseOutPoint(ref)
		if err != nil {
			return nil, err
		}
		outPoints = append(outPoints, op)
	}

	now, err := s.node.MedianTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chain time")
	}
	lockTime := btcstake.LockTimeAfter(now, req.Days)
	if err := btcstake.ValidateLockTime(lockTime, now, s.params.MaxLockDays); err != nil {
		return nil, err
	}

	redeem, err := btcstake.BuildStakeScript(lockTime, pub)
	if err != nil {
		return nil, err
	}
	stakePk, segwitAddr, err := btcstake.WitnessScriptPubKey(redeem, s.params.Net)
	if err != nil {
		return nil, err
	}
	_, legacyAddr, err := btcstake.LegacyScriptPubKey(redeem, s.params.Net)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("stake: redeem=%x p2wsh=%s p2sh=%s locktime=%d",
		redeem, segwitAddr, legacyAddr, lockTime)

	if req.Verify {
		if err := s.crossCheckScript(ctx, redeem, segwitAddr, legacyAddr); err != nil {
			return nil, err
		}
	}

	utxos := make([]*btcstake.UTXO, 0, len(outPoints))
	witnessInputs := true
	for _, op := range outPoints {
		u, err := s.node.GetUTXO(ctx, op)
		if err != nil {
			return nil, err
		}
		if !txscript.IsPayToWitnessPubKeyHash(u.PkScript) {
			witnessInputs = false
		}
		utxos = append(utxos, u)
	}

	fallback, err := s.cfg.FallbackRate()
	if err != nil {
		return nil, err
	}
	rate, err := chain.FeeRate(ctx, s.node, s.cfg.ConfTarget, fallback)
	if err != nil {
		return nil, err
	}
	fee := btcstake.FeeForRate(rate, btcstake.StakeTxSize(len(utxos), witnessInputs, true))
	s.log.Debugf("stake: rate=%v fee=%v", rate, fee)

	auxScript, err := record.Script()
	if err != nil {
		return nil, errors.Wrap(err, "aux script")
	}
	tx, err := btcstake.BuildStakeTx(utxos, stakePk, req.Amount, changeAddr, auxScript, fee, s.params.DustLimit)
	if err != nil {
		return nil, err
	}

	signed, complete, err := s.node.SignStakeTx(ctx, tx, req.PrivKeyWIF, utxos)
	if err != nil {
		return nil, errors.Wrap(err, "node signing")
	}
	if !complete {
		return nil, errors.New("node could not sign every input")
	}

	txid, err := s.node.Broadcast(ctx, signed)
	if err != nil {
		return nil, err
	}
	s.log.Infof("stake: broadcast %s (%v locked until %d)", txid, req.Amount, lockTime)

	if s.db != nil {
		receipt := &stakedb.Receipt{
			OutPoint:      txid.String() + ":0",
			RedeemScript:  redeem,
			LockTime:      lockTime,
			Amount:        req.Amount,
			SegwitAddress: segwitAddr.String(),
			LegacyAddress: legacyAddr.String(),
			ChangeAddress: req.ChangeAddress,
			CreatedAt:     now,
		}
		if err := s.db.Put(receipt); err != nil {
			// The stake is on-chain; a failed receipt write must not
			// fail the operation.
			s.log.Warnf("stake: receipt not saved: %v", err)
		}
	}

	return &StakeResult{
		TxID:          txid,
		RedeemScript:  redeem,
		LockTime:      lockTime,
		SegwitAddress: segwitAddr,
		LegacyAddress: legacyAddr,
		Record:        record,
		Fee:           fee,
	}, nil
}

// crossCheckScript compares the locally derived wrapper addresses with
// the node's decodescript view. The derivation never depends on the node;
// this only guards against a mis-built script in verify mode.
func (s *Staker) crossCheckScript(ctx context.Context, redeem []byte, segwit, legacy btcutil.Address) error {
	info, err := s.node.DecodeScript(ctx, redeem)
	if err != nil {
		return errors.Wrap(err, "decodescript cross-check")
	}
	if info.SegwitAddress != "" && info.SegwitAddress != segwit.String() {
		return errors.Errorf("p2wsh mismatch: node %s, local %s", info.SegwitAddress, segwit)
	}
	if info.LegacyAddress != "" && info.LegacyAddress != legacy.String() {
		return errors.Errorf("p2sh mismatch: node %s, local %s", info.LegacyAddress, legacy)
	}
	return nil
}
