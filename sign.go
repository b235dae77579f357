package btcstake

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignSpendTx signs the unlock transaction input at idx against the
// revealed redeem script and fills in the satisfying data. The spent
// output's script is not a recognized standard template, so the node's
// wallet cannot do this.
//
// The wrapper the funds were paid to selects the digest algorithm: the
// BIP143 witness digest for P2WSH, the legacy whole-transaction digest for
// P2SH. Either way the full redeem script is revealed alongside a low-S
// DER signature with the all-outputs hashtype byte appended.
func SignSpendTx(tx *wire.MsgTx, idx int, utxo *UTXO, redeemScript []byte, priv *btcec.PrivateKey) error {
	if idx < 0 || idx >= len(tx.TxIn) {
		return fmt.Errorf("input index %d out of range", idx)
	}

	cond, err := ParseStakeScript(redeemScript)
	if err != nil {
		return err
	}
	if !priv.PubKey().IsEqual(cond.PubKey) {
		return fmt.Errorf("%w: script expects %x",
			ErrKeyMismatch, cond.PubKey.SerializeCompressed())
	}
	// A signature over the wrong locktime or a final sequence would be
	// rejected by consensus regardless of validity, so fail eagerly.
	if tx.LockTime != cond.LockTime {
		return fmt.Errorf("tx locktime %d != script locktime %d", tx.LockTime, cond.LockTime)
	}
	if tx.TxIn[idx].Sequence == wire.MaxTxInSequenceNum {
		return fmt.Errorf("input %d sequence is final; locktime would be ignored", idx)
	}

	switch {
	case txscript.IsPayToWitnessScriptHash(utxo.PkScript):
		program := utxo.PkScript[2:34]
		h := sha256.Sum256(redeemScript)
		if !bytes.Equal(program, h[:]) {
			return ErrScriptMismatch
		}
		fetcher := txscript.NewCannedPrevOutputFetcher(utxo.PkScript, int64(utxo.Amount))
		sigHashes := txscript.NewTxSigHashes(tx, fetcher)
		sig, err := txscript.RawTxInWitnessSignature(
			tx, sigHashes, idx, int64(utxo.Amount), redeemScript, txscript.SigHashAll, priv)
		if err != nil {
			return fmt.Errorf("witness signature: %w", err)
		}
		tx.TxIn[idx].Witness = wire.TxWitness{sig, redeemScript}
		tx.TxIn[idx].SignatureScript = nil
		return nil

	case txscript.IsPayToScriptHash(utxo.PkScript):
		if !bytes.Equal(utxo.PkScript[2:22], btcutil.Hash160(redeemScript)) {
			return ErrScriptMismatch
		}
		sig, err := txscript.RawTxInSignature(tx, idx, redeemScript, txscript.SigHashAll, priv)
		if err != nil {
			return fmt.Errorf("legacy signature: %w", err)
		}
		sigScript, err := txscript.NewScriptBuilder().
			AddData(sig).
			AddData(redeemScript).
			Script()
		if err != nil {
			return fmt.Errorf("build scriptSig: %w", err)
		}
		tx.TxIn[idx].SignatureScript = sigScript
		return nil

	default:
		return fmt.Errorf("%w: spent output is neither P2WSH nor P2SH", ErrScriptMismatch)
	}
}

// VerifySpendTx executes the signed input in the script VM against the
// spent output. The VM checks the transaction locktime against the script
// value, not wall-clock time; network acceptance still waits for the lock
// to expire.
func VerifySpendTx(tx *wire.MsgTx, idx int, utxo *UTXO) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(utxo.PkScript, int64(utxo.Amount))
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	vm, err := txscript.NewEngine(utxo.PkScript, tx, idx,
		txscript.StandardVerifyFlags, nil, sigHashes, int64(utxo.Amount), fetcher)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	if err := vm.Execute(); err != nil {
		return fmt.Errorf("local VM verify failed: %w", err)
	}
	return nil
}
