package btcstake

import "errors"

// Core failures. Everything here is surfaced to the caller unmodified;
// retry policy lives in the orchestration layer.
var (
	// ErrInvalidAddress is returned when a BB chain address does not
	// decode to exactly 20 bytes.
	ErrInvalidAddress = errors.New("invalid BB chain address")

	// ErrInvalidPubKey is returned for a staking pubkey that is not a
	// 33-byte compressed secp256k1 point.
	ErrInvalidPubKey = errors.New("invalid compressed pubkey")

	// ErrAmountOutOfRange is returned when the stake amount does not fit
	// the 4-byte milli-BTC field of the OP_RETURN record.
	ErrAmountOutOfRange = errors.New("amount out of range")

	// ErrDurationOutOfRange is returned when the lock duration does not
	// fit the 2-byte day field or exceeds the configured maximum.
	ErrDurationOutOfRange = errors.New("lock duration out of range")

	// ErrNonFutureLockTime is returned when the computed unlock timestamp
	// is not strictly after the chain time reference.
	ErrNonFutureLockTime = errors.New("locktime is not in the future")

	// ErrInsufficientFunds is returned when inputs do not cover the
	// requested outputs plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrKeyMismatch is returned when the spending key does not match the
	// pubkey embedded in the redeem script.
	ErrKeyMismatch = errors.New("private key does not match script pubkey")

	// ErrUnsupportedScript is returned for scripts that do not match the
	// single-key CLTV template.
	ErrUnsupportedScript = errors.New("script does not match CLTV stake template")

	// ErrScriptMismatch is returned when the revealed redeem script does
	// not hash to the program the funds were paid to.
	ErrScriptMismatch = errors.New("redeem script does not match paid-to output")
)
