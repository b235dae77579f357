package btcstake

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// MaxLockTime is the largest unlock timestamp accepted; beyond this the
// 4-byte script push would be interpreted as a negative number.
const MaxLockTime = 0x7fffffff

// stakeScriptLen is the exact length of the CLTV stake script:
// push4 + lockts(4) + CLTV + DROP + push33 + pubkey(33) + CHECKSIG.
const stakeScriptLen = 42

// SpendConditionKind tags the closed set of supported spend conditions.
// There is a single case today; new templates become new variants without
// touching the signer's dispatch.
type SpendConditionKind uint8

const (
	// SpendConditionCLTVPubKey is the absolute-timelock single-key
	// condition: <lockts> CLTV DROP <pub> CHECKSIG.
	SpendConditionCLTVPubKey SpendConditionKind = iota
)

// SpendCondition is the parsed form of a stake redeem script.
type SpendCondition struct {
	Kind     SpendConditionKind
	LockTime uint32
	PubKey   *btcec.PublicKey
}

// ParsePubKey validates and decodes a 33-byte compressed pubkey.
func ParsePubKey(b []byte) (*btcec.PublicKey, error) {
	if len(b) != 33 || (b[0] != 0x02 && b[0] != 0x03) {
		return nil, fmt.Errorf("%w: want 33 bytes with 02/03 prefix", ErrInvalidPubKey)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	return pub, nil
}

// LockTimeAfter returns the unlock timestamp for a stake of days starting
// at now.
func LockTimeAfter(now time.Time, days uint16) uint32 {
	return uint32(now.Unix() + int64(days)*86400)
}

// ValidateLockTime rejects unlock timestamps that are in the past, below
// the consensus timestamp threshold, negative when script-encoded, or
// further out than maxDays from now.
func ValidateLockTime(lockTime uint32, now time.Time, maxDays uint16) error {
	if lockTime < txscript.LockTimeThreshold {
		return fmt.Errorf("%w: %d is below the timestamp threshold", ErrNonFutureLockTime, lockTime)
	}
	if lockTime > MaxLockTime {
		return fmt.Errorf("%w: %d would encode as negative", ErrDurationOutOfRange, lockTime)
	}
	if int64(lockTime) <= now.Unix() {
		return fmt.Errorf("%w: %d <= %d", ErrNonFutureLockTime, lockTime, now.Unix())
	}
	if maxDays != 0 && int64(lockTime) > now.Unix()+int64(maxDays)*86400 {
		return fmt.Errorf("%w: beyond %d days", ErrDurationOutOfRange, maxDays)
	}
	return nil
}

// BuildStakeScript assembles the CLTV stake redeem script. Identical
// inputs always yield byte-identical output.
func BuildStakeScript(lockTime uint32, pub *btcec.PublicKey) ([]byte, error) {
	if lockTime < txscript.LockTimeThreshold || lockTime > MaxLockTime {
		return nil, fmt.Errorf("%w: locktime %d outside [%d, %d]",
			ErrNonFutureLockTime, lockTime, uint32(txscript.LockTimeThreshold), uint32(MaxLockTime))
	}
	if pub == nil {
		return nil, ErrInvalidPubKey
	}
	var lockLE [4]byte
	binary.LittleEndian.PutUint32(lockLE[:], lockTime)
	return txscript.NewScriptBuilder().
		AddData(lockLE[:]).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(pub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ParseStakeScript recovers the spend condition from a redeem script. Any
// deviation from the single-key CLTV template is rejected.
func ParseStakeScript(script []byte) (*SpendCondition, error) {
	if len(script) != stakeScriptLen ||
		script[0] != txscript.OP_DATA_4 ||
		script[5] != txscript.OP_CHECKLOCKTIMEVERIFY ||
		script[6] != txscript.OP_DROP ||
		script[7] != txscript.OP_DATA_33 ||
		script[41] != txscript.OP_CHECKSIG {
		return nil, ErrUnsupportedScript
	}
	pub, err := ParsePubKey(script[8:41])
	if err != nil {
		return nil, fmt.Errorf("%w: embedded pubkey: %v", ErrUnsupportedScript, err)
	}
	return &SpendCondition{
		Kind:     SpendConditionCLTVPubKey,
		LockTime: binary.LittleEndian.Uint32(script[1:5]),
		PubKey:   pub,
	}, nil
}

// WitnessScriptPubKey derives the P2WSH presentation of a redeem script:
// a version-0 witness program over sha256(script).
func WitnessScriptPubKey(script []byte, net *chaincfg.Params) ([]byte, btcutil.Address, error) {
	h := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(h[:], net)
	if err != nil {
		return nil, nil, fmt.Errorf("p2wsh address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("p2wsh script: %w", err)
	}
	return pkScript, addr, nil
}

// LegacyScriptPubKey derives the P2SH presentation of a redeem script:
// hash160(script) under the standard hash-equality wrapper.
func LegacyScriptPubKey(script []byte, net *chaincfg.Params) ([]byte, btcutil.Address, error) {
	addr, err := btcutil.NewAddressScriptHash(script, net)
	if err != nil {
		return nil, nil, fmt.Errorf("p2sh address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("p2sh script: %w", err)
	}
	return pkScript, addr, nil
}
