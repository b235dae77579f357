package btcstake

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// cltvSequence is one below the maximum sequence so the transaction-level
// locktime is consensus-enforced instead of ignored.
const cltvSequence = wire.MaxTxInSequenceNum - 1

// stakeTxVersion matches what the node builds for the lock transaction.
const stakeTxVersion = 2

// UTXO is an unspent output as observed through the node: the reference
// plus its externally supplied facts. It is never mutated.
type UTXO struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
}

// ParseOutPoint parses a "txid:vout" reference.
func ParseOutPoint(s string) (wire.OutPoint, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return wire.OutPoint{}, fmt.Errorf("bad outpoint %q: want txid:vout", s)
	}
	h, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("bad txid %q: %w", parts[0], err)
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("bad vout %q: %w", parts[1], err)
	}
	return wire.OutPoint{Hash: *h, Index: uint32(vout)}, nil
}

// BuildStakeTx assembles the unsigned lock transaction. Outputs in order:
// the stake output, an optional change output (only when change exceeds
// dustLimit), and the zero-value OP_RETURN record. The fee is computed by
// the caller; this only enforces the balance invariant.
func BuildStakeTx(utxos []*UTXO, stakePkScript []byte, stakeAmount btcutil.Amount,
	changeAddr btcutil.Address, auxScript []byte, fee, dustLimit btcutil.Amount) (*wire.MsgTx, error) {

	if len(utxos) == 0 {
		return nil, fmt.Errorf("no inputs supplied")
	}
	if stakeAmount <= 0 {
		return nil, fmt.Errorf("%w: stake amount %v", ErrAmountOutOfRange, stakeAmount)
	}

	var total btcutil.Amount
	tx := wire.NewMsgTx(stakeTxVersion)
	for _, u := range utxos {
		total += u.Amount
		txIn := wire.NewTxIn(&u.OutPoint, nil, nil)
		txIn.Sequence = cltvSequence
		tx.AddTxIn(txIn)
	}

	change := total - stakeAmount - fee
	if change < 0 {
		return nil, fmt.Errorf("%w: need %v, have %v",
			ErrInsufficientFunds, stakeAmount+fee, total)
	}

	tx.AddTxOut(wire.NewTxOut(int64(stakeAmount), stakePkScript))
	if change > dustLimit {
		changeScript, err := txscript.PayToAddrScript(changeAddr)
		if err != nil {
			return nil, fmt.Errorf("change script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}
	tx.AddTxOut(wire.NewTxOut(0, auxScript))

	return tx, nil
}

// BuildSpendTx assembles the unsigned unlock transaction for a stake
// deposit. The transaction locktime is pinned to the script's unlock
// timestamp and the single input's sequence stays strictly below the
// maximum so CLTV is enforced.
func BuildSpendTx(utxo *UTXO, cond *SpendCondition, destAddr btcutil.Address, fee btcutil.Amount) (*wire.MsgTx, error) {
	payout := utxo.Amount - fee
	if payout <= 0 {
		return nil, fmt.Errorf("%w: fee %v >= input %v", ErrInsufficientFunds, fee, utxo.Amount)
	}
	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, fmt.Errorf("destination script: %w", err)
	}

	tx := wire.NewMsgTx(stakeTxVersion)
	txIn := wire.NewTxIn(&utxo.OutPoint, nil, nil)
	txIn.Sequence = cltvSequence
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(int64(payout), destScript))
	tx.LockTime = cond.LockTime

	return tx, nil
}
