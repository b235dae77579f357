package btcstake

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
)

// AuxRecordSize is the fixed length of the staking record carried in the
// OP_RETURN output: tag(4) || chain_id(2) || contract(20) || recipient(20)
// || amount_mbtc(4,BE) || days(2,BE).
const AuxRecordSize = 52

// auxRecordTag identifies a staking record ("FSTP").
var auxRecordTag = [4]byte{'F', 'S', 'T', 'P'}

// satsPerMilliBTC is the conversion factor between satoshis and the
// milli-BTC unit of the record's amount field.
const satsPerMilliBTC = 100_000

// AuxRecord is the fixed-layout staking record read by the BB chain. It is
// built once per stake request and embedded verbatim in a zero-value
// output.
type AuxRecord struct {
	ChainID     uint16
	Contract    common.Address
	Recipient   common.Address
	AmountMilli uint32
	LockDays    uint16
}

// ParseRecipient decodes a BB chain address into its 20-byte form.
func ParseRecipient(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// MilliUnits converts a satoshi amount to the record's milli-BTC unit,
// truncating toward zero.
func MilliUnits(amount btcutil.Amount) (uint32, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrAmountOutOfRange, amount)
	}
	milli := uint64(amount) / satsPerMilliBTC
	if milli == 0 || milli > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d mBTC", ErrAmountOutOfRange, milli)
	}
	return uint32(milli), nil
}

// NewAuxRecord builds the record for a stake of amount satoshis locked for
// lockDays. Chain id and contract come from params, never from input.
func NewAuxRecord(params Params, recipient common.Address, amount btcutil.Amount, lockDays uint16) (*AuxRecord, error) {
	milli, err := MilliUnits(amount)
	if err != nil {
		return nil, err
	}
	if lockDays == 0 || (params.MaxLockDays != 0 && lockDays > params.MaxLockDays) {
		return nil, fmt.Errorf("%w: %d days", ErrDurationOutOfRange, lockDays)
	}
	return &AuxRecord{
		ChainID:     params.ChainID,
		Contract:    params.Contract,
		Recipient:   recipient,
		AmountMilli: milli,
		LockDays:    lockDays,
	}, nil
}

// Encode serializes the record into its fixed 52-byte layout.
func (r *AuxRecord) Encode() []byte {
	b := make([]byte, 0, AuxRecordSize)
	b = append(b, auxRecordTag[:]...)
	b = binary.BigEndian.AppendUint16(b, r.ChainID)
	b = append(b, r.Contract.Bytes()...)
	b = append(b, r.Recipient.Bytes()...)
	b = binary.BigEndian.AppendUint32(b, r.AmountMilli)
	b = binary.BigEndian.AppendUint16(b, r.LockDays)
	return b
}

// Script wraps the encoded record in a provably unspendable OP_RETURN
// script for a zero-value output.
func (r *AuxRecord) Script() ([]byte, error) {
	return txscript.NullDataScript(r.Encode())
}

// DecodeAuxRecord is the inverse of Encode.
func DecodeAuxRecord(b []byte) (*AuxRecord, error) {
	if len(b) != AuxRecordSize {
		return nil, fmt.Errorf("aux record must be %d bytes, got %d", AuxRecordSize, len(b))
	}
	if !bytes.Equal(b[:4], auxRecordTag[:]) {
		return nil, fmt.Errorf("bad aux record tag %x", b[:4])
	}
	r := &AuxRecord{
		ChainID:     binary.BigEndian.Uint16(b[4:6]),
		Contract:    common.BytesToAddress(b[6:26]),
		Recipient:   common.BytesToAddress(b[26:46]),
		AmountMilli: binary.BigEndian.Uint32(b[46:50]),
		LockDays:    binary.BigEndian.Uint16(b[50:52]),
	}
	return r, nil
}
