package client

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BounceBit-Labs/btcstake"
	"github.com/BounceBit-Labs/btcstake/chain"
	"github.com/BounceBit-Labs/btcstake/stakedb"
)

// fakeBackend is an in-memory chain.Backend. Every call is counted so
// tests can assert that pure validation happens before any node
// round-trip.
type fakeBackend struct {
	calls int

	utxos        map[wire.OutPoint]*btcstake.UTXO
	feeRate      btcutil.Amount
	feeErr       error
	broadcastErr error
	medianTime   time.Time

	broadcasted *wire.MsgTx
}

func (f *fakeBackend) GetUTXO(_ context.Context, op wire.OutPoint) (*btcstake.UTXO, error) {
	f.calls++
	u, ok := f.utxos[op]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return u, nil
}

func (f *fakeBackend) EstimateFeeRate(context.Context, int64) (btcutil.Amount, error) {
	f.calls++
	return f.feeRate, f.feeErr
}

func (f *fakeBackend) Broadcast(_ context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	f.calls++
	if f.broadcastErr != nil {
		return nil, f.broadcastErr
	}
	f.broadcasted = tx
	h := tx.TxHash()
	return &h, nil
}

func (f *fakeBackend) DecodeScript(context.Context, []byte) (*chain.ScriptInfo, error) {
	f.calls++
	return &chain.ScriptInfo{}, nil
}

func (f *fakeBackend) SignStakeTx(_ context.Context, tx *wire.MsgTx, _ string, _ []*btcstake.UTXO) (*wire.MsgTx, bool, error) {
	f.calls++
	return tx, true, nil
}

func (f *fakeBackend) MedianTime(context.Context) (time.Time, error) {
	f.calls++
	return f.medianTime, nil
}

func testKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return priv
}

func p2wpkhAddr(t *testing.T, priv *btcec.PrivateKey) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return addr
}

func fundingUTXO(t *testing.T, addr btcutil.Address, amount btcutil.Amount) *btcstake.UTXO {
	t.Helper()
	pk, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("pkscript: %v", err)
	}
	h, err := chainhash.NewHashFromStr(
		"29722452aa38204350f944db8a6a82eda46c85cba742e900c8a122ea9c4269da")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &btcstake.UTXO{
		OutPoint: wire.OutPoint{Hash: *h, Index: 0},
		Amount:   amount,
		PkScript: pk,
	}
}

const testRecipient = "0x59c6995e998f97a5a0044966f0945389dc9e86da"

func stakeRequest(t *testing.T, priv *btcec.PrivateKey) *StakeRequest {
	t.Helper()
	return &StakeRequest{
		PubKey:        hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		Days:          30,
		Amount:        100_000,
		Recipient:     testRecipient,
		ChangeAddress: p2wpkhAddr(t, priv).String(),
		UTXOs:         []string{"29722452aa38204350f944db8a6a82eda46c85cba742e900c8a122ea9c4269da:0"},
		PrivKeyWIF:    "unused-by-fake",
	}
}

func TestCreateStake(t *testing.T) {
	priv := testKey(t)
	req := stakeRequest(t, priv)

	utxo := fundingUTXO(t, p2wpkhAddr(t, priv), 200_000)
	now := time.Unix(1_756_500_000, 0)
	node := &fakeBackend{
		utxos:      map[wire.OutPoint]*btcstake.UTXO{utxo.OutPoint: utxo},
		feeRate:    10_000,
		medianTime: now,
	}
	staker, err := NewStaker(defaultConfig(), node, nil, nil)
	if err != nil {
		t.Fatalf("new staker: %v", err)
	}

	res, err := staker.CreateStake(context.Background(), req)
	if err != nil {
		t.Fatalf("create stake: %v", err)
	}

	wantLock := uint32(now.Unix()) + 30*86_400
	if res.LockTime != wantLock {
		t.Fatalf("locktime: got %d, want %d", res.LockTime, wantLock)
	}
	cond, err := btcstake.ParseStakeScript(res.RedeemScript)
	if err != nil {
		t.Fatalf("redeem script: %v", err)
	}
	if cond.LockTime != wantLock || !cond.PubKey.IsEqual(priv.PubKey()) {
		t.Fatalf("script condition: %+v", cond)
	}

	tx := node.broadcasted
	if tx == nil {
		t.Fatalf("nothing broadcast")
	}
	if len(tx.TxOut) != 3 {
		t.Fatalf("outputs: got %d, want stake+change+op_return", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != 100_000 {
		t.Fatalf("stake output: %d", tx.TxOut[0].Value)
	}
	wantFee := btcstake.FeeForRate(node.feeRate, btcstake.StakeTxSize(1, true, true))
	if res.Fee != wantFee {
		t.Fatalf("fee: got %v, want %v", res.Fee, wantFee)
	}
	if tx.TxOut[1].Value != int64(200_000-100_000-wantFee) {
		t.Fatalf("change output: %d", tx.TxOut[1].Value)
	}
	if tx.TxOut[2].Value != 0 || tx.TxOut[2].PkScript[0] != txscript.OP_RETURN {
		t.Fatalf("op_return output: %+v", tx.TxOut[2])
	}
}

func TestCreateStakeSavesReceipt(t *testing.T) {
	priv := testKey(t)
	req := stakeRequest(t, priv)

	db, err := stakedb.Open(filepath.Join(t.TempDir(), "receipts.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	utxo := fundingUTXO(t, p2wpkhAddr(t, priv), 200_000)
	node := &fakeBackend{
		utxos:      map[wire.OutPoint]*btcstake.UTXO{utxo.OutPoint: utxo},
		feeRate:    10_000,
		medianTime: time.Unix(1_756_500_000, 0),
	}
	staker, err := NewStaker(defaultConfig(), node, db, nil)
	if err != nil {
		t.Fatalf("new staker: %v", err)
	}
	res, err := staker.CreateStake(context.Background(), req)
	if err != nil {
		t.Fatalf("create stake: %v", err)
	}

	receipt, err := db.Get(res.TxID.String() + ":0")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.LockTime != res.LockTime || receipt.SegwitAddress != res.SegwitAddress.String() {
		t.Fatalf("receipt contents: %+v", receipt)
	}
}

func TestCreateStakeValidatesBeforeNetwork(t *testing.T) {
	priv := testKey(t)
	node := &fakeBackend{}
	staker, err := NewStaker(defaultConfig(), node, nil, nil)
	if err != nil {
		t.Fatalf("new staker: %v", err)
	}

	bad := []*StakeRequest{
		func() *StakeRequest { r := stakeRequest(t, priv); r.PubKey = "zz"; return r }(),
		func() *StakeRequest { r := stakeRequest(t, priv); r.Recipient = "not-an-address"; return r }(),
		func() *StakeRequest { r := stakeRequest(t, priv); r.Amount = 1_000; return r }(),
		func() *StakeRequest { r := stakeRequest(t, priv); r.Days = 0; return r }(),
		func() *StakeRequest { r := stakeRequest(t, priv); r.UTXOs = nil; return r }(),
		func() *StakeRequest { r := stakeRequest(t, priv); r.ChangeAddress = "bc1qbad"; return r }(),
	}
	for i, req := range bad {
		if _, err := staker.CreateStake(context.Background(), req); err == nil {
			t.Fatalf("request %d accepted", i)
		}
	}
	if node.calls != 0 {
		t.Fatalf("node consulted %d times before validation finished", node.calls)
	}
}

func spendFixture(t *testing.T, legacy bool) (*fakeBackend, *SpendRequest, *btcec.PrivateKey) {
	t.Helper()
	priv := testKey(t)
	redeem, err := btcstake.BuildStakeScript(1_741_240_155, priv.PubKey())
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	var pk []byte
	if legacy {
		pk, _, err = btcstake.LegacyScriptPubKey(redeem, &chaincfg.MainNetParams)
	} else {
		pk, _, err = btcstake.WitnessScriptPubKey(redeem, &chaincfg.MainNetParams)
	}
	if err != nil {
		t.Fatalf("wrap script: %v", err)
	}

	h, err := chainhash.NewHashFromStr(
		"5e2966ec34e1f4c4cbf0776ddbd24e4a43e17b4a0500686bdcba1db87c42e7d2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	op := wire.OutPoint{Hash: *h, Index: 0}
	node := &fakeBackend{
		utxos: map[wire.OutPoint]*btcstake.UTXO{
			op: {OutPoint: op, Amount: 100_000, PkScript: pk},
		},
		feeRate: 10_000,
	}
	req := &SpendRequest{
		UTXO:         op.Hash.String() + ":0",
		RedeemScript: hex.EncodeToString(redeem),
		Destination:  p2wpkhAddr(t, priv).String(),
		PrivKey:      hex.EncodeToString(priv.Serialize()),
	}
	return node, req, priv
}

func TestSpendStake(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		node, req, _ := spendFixture(t, legacy)
		spender := NewSpender(defaultConfig(), node, nil, nil)

		res, err := spender.SpendStake(context.Background(), req)
		if err != nil {
			t.Fatalf("legacy=%t: %v", legacy, err)
		}
		wantFee := btcstake.FeeForRate(node.feeRate, btcstake.SpendTxSize(legacy))
		if res.Fee != wantFee || res.Amount != 100_000-wantFee {
			t.Fatalf("legacy=%t: fee %v amount %v", legacy, res.Fee, res.Amount)
		}
		tx := node.broadcasted
		if tx == nil || tx.LockTime != 1_741_240_155 {
			t.Fatalf("legacy=%t: broadcast tx %+v", legacy, tx)
		}
	}
}

func TestSpendStakeWrongKey(t *testing.T) {
	node, req, _ := spendFixture(t, false)
	req.PrivKey = hex.EncodeToString(testKey(t).Serialize())
	spender := NewSpender(defaultConfig(), node, nil, nil)
	if _, err := spender.SpendStake(context.Background(), req); !errors.Is(err, btcstake.ErrKeyMismatch) {
		t.Fatalf("got %v, want ErrKeyMismatch", err)
	}
}

// A locked deposit signs and verifies locally; only the network, checking
// real time, rejects the early spend.
func TestSpendStakeRejectedEarly(t *testing.T) {
	node, req, _ := spendFixture(t, false)
	node.broadcastErr = chain.ErrRejectedByNetwork
	spender := NewSpender(defaultConfig(), node, nil, nil)
	if _, err := spender.SpendStake(context.Background(), req); !errors.Is(err, chain.ErrRejectedByNetwork) {
		t.Fatalf("got %v, want ErrRejectedByNetwork", err)
	}
}

func TestSpendStakeReceiptLookup(t *testing.T) {
	node, req, _ := spendFixture(t, false)

	db, err := stakedb.Open(filepath.Join(t.TempDir(), "receipts.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	redeem, _ := hex.DecodeString(req.RedeemScript)
	if err := db.Put(&stakedb.Receipt{OutPoint: req.UTXO, RedeemScript: redeem, LockTime: 1_741_240_155}); err != nil {
		t.Fatalf("put: %v", err)
	}
	req.RedeemScript = ""

	spender := NewSpender(defaultConfig(), node, db, nil)
	if _, err := spender.SpendStake(context.Background(), req); err != nil {
		t.Fatalf("spend via receipt: %v", err)
	}
	if _, err := db.Get(req.UTXO); !errors.Is(err, stakedb.ErrReceiptNotFound) {
		t.Fatalf("receipt not cleaned up: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig("", Overrides{Network: "regtest", RPCHost: "localhost:18443", ConfTarget: 2})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "regtest" || cfg.RPCHost != "localhost:18443" || cfg.ConfTarget != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	net, err := cfg.ChainParams()
	if err != nil || net != &chaincfg.RegressionNetParams {
		t.Fatalf("chain params: %v %v", net, err)
	}
	if _, err := LoadConfig("", Overrides{Network: "nonsense"}); err == nil {
		t.Fatalf("unknown network accepted")
	}
}
