package btcstake

import "github.com/btcsuite/btcd/btcutil"

// Fee sizing uses fixed size classes rather than weighing the actual
// serialization: the stake transaction carries wallet-standard inputs
// whose scriptSig/witness sizes are known, and a couple dozen vbytes of
// slack is cheaper than an underpaying estimate.
const (
	// MinFee is the floor applied to every computed fee, in satoshis.
	MinFee btcutil.Amount = 1001

	txOverheadSize  = 10
	p2pkhInputSize  = 148
	p2wpkhInputSize = 68
	outputSize      = 34

	// opReturnOutputSize covers value, script length and the OP_RETURN
	// wrapper around the 52-byte record.
	opReturnOutputSize = 9 + 2 + AuxRecordSize

	// SpendTxWitnessSize and SpendTxLegacySize are the size classes for
	// the single-input unlock transaction.
	SpendTxWitnessSize = 200
	SpendTxLegacySize  = 300
)

// StakeTxSize estimates the lock transaction's virtual size from the
// input script class and the number of outputs present.
func StakeTxSize(numInputs int, witnessInputs, withChange bool) int {
	inSize := p2pkhInputSize
	if witnessInputs {
		inSize = p2wpkhInputSize
	}
	size := txOverheadSize + numInputs*inSize + outputSize + opReturnOutputSize
	if withChange {
		size += outputSize
	}
	return size
}

// SpendTxSize returns the unlock transaction size class for the wrapper
// form the deposit was paid to.
func SpendTxSize(legacy bool) int {
	if legacy {
		return SpendTxLegacySize
	}
	return SpendTxWitnessSize
}

// FeeForRate computes the fee for a transaction of vbytes at rate
// (satoshis per kvB), floored at MinFee.
func FeeForRate(rate btcutil.Amount, vbytes int) btcutil.Amount {
	fee := rate * btcutil.Amount(vbytes) / 1000
	if fee < MinFee {
		fee = MinFee
	}
	return fee
}
