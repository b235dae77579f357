package chain

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BounceBit-Labs/btcstake"
)

type stubBackend struct {
	rate    btcutil.Amount
	rateErr error
}

func (s *stubBackend) GetUTXO(context.Context, wire.OutPoint) (*btcstake.UTXO, error) {
	return nil, ErrNotFound
}

func (s *stubBackend) EstimateFeeRate(context.Context, int64) (btcutil.Amount, error) {
	return s.rate, s.rateErr
}

func (s *stubBackend) Broadcast(context.Context, *wire.MsgTx) (*chainhash.Hash, error) {
	return nil, nil
}

func (s *stubBackend) DecodeScript(context.Context, []byte) (*ScriptInfo, error) {
	return nil, nil
}

func (s *stubBackend) SignStakeTx(_ context.Context, tx *wire.MsgTx, _ string, _ []*btcstake.UTXO) (*wire.MsgTx, bool, error) {
	return tx, true, nil
}

func (s *stubBackend) MedianTime(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func TestFeeRatePassthrough(t *testing.T) {
	b := &stubBackend{rate: 12_345}
	rate, err := FeeRate(context.Background(), b, 6, 5_000)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(12_345), rate)
}

func TestFeeRateFallback(t *testing.T) {
	b := &stubBackend{rateErr: errors.WithMessage(ErrEstimateUnavailable, "no estimate for target 6")}
	rate, err := FeeRate(context.Background(), b, 6, 5_000)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(5_000), rate)
}

func TestFeeRateOtherError(t *testing.T) {
	rpcErr := errors.New("connection refused")
	b := &stubBackend{rateErr: rpcErr}
	_, err := FeeRate(context.Background(), b, 6, 5_000)
	require.ErrorIs(t, err, rpcErr)
}
