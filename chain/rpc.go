package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/BounceBit-Labs/btcstake"
)

// RPCBackend implements Backend against a bitcoind node over JSON-RPC.
type RPCBackend struct {
	node *rpcclient.Client
}

var _ Backend = (*RPCBackend)(nil)

// NewRPCBackend wraps an rpcclient connection. The client must be in HTTP
// POST mode (bitcoind does not speak the btcd websocket extensions).
func NewRPCBackend(node *rpcclient.Client) *RPCBackend {
	return &RPCBackend{node: node}
}

func (b *RPCBackend) GetUTXO(ctx context.Context, op wire.OutPoint) (*btcstake.UTXO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := b.node.GetTxOut(&op.Hash, op.Index, true)
	if err != nil {
		return nil, errors.Wrap(err, "gettxout")
	}
	if res == nil {
		return nil, errors.WithMessagef(ErrNotFound, "%s:%d", op.Hash, op.Index)
	}
	amount, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, errors.Wrap(err, "utxo amount")
	}
	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, errors.Wrap(err, "utxo scriptPubKey")
	}
	return &btcstake.UTXO{OutPoint: op, Amount: amount, PkScript: pkScript}, nil
}

func (b *RPCBackend) EstimateFeeRate(ctx context.Context, confTarget int64) (btcutil.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := b.node.EstimateSmartFee(confTarget, &btcjson.EstimateModeConservative)
	if err != nil {
		return 0, errors.WithMessagef(ErrEstimateUnavailable, "estimatesmartfee: %v", err)
	}
	if res.FeeRate == nil || *res.FeeRate <= 0 {
		return 0, errors.WithMessagef(ErrEstimateUnavailable, "node errors: %v", res.Errors)
	}
	rate, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return 0, errors.Wrap(err, "fee rate")
	}
	return rate, nil
}

func (b *RPCBackend) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txid, err := b.node.SendRawTransaction(tx, false)
	if err != nil {
		return nil, errors.WithMessagef(ErrRejectedByNetwork, "%v", err)
	}
	return txid, nil
}

// decodeScriptResult is the subset of bitcoind's decodescript reply the
// cross-check needs.
type decodeScriptResult struct {
	P2SH   string `json:"p2sh"`
	Segwit *struct {
		Address string `json:"address"`
		P2SH    string `json:"p2sh-segwit"`
	} `json:"segwit"`
}

func (b *RPCBackend) DecodeScript(ctx context.Context, script []byte) (*ScriptInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := b.rawRequest("decodescript", hex.EncodeToString(script))
	if err != nil {
		return nil, errors.Wrap(err, "decodescript")
	}
	var res decodeScriptResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "decodescript reply")
	}
	info := &ScriptInfo{LegacyAddress: res.P2SH}
	if res.Segwit != nil {
		info.SegwitAddress = res.Segwit.Address
	}
	return info, nil
}

// signPrevOut mirrors the prevtxs entries of signrawtransactionwithkey.
type signPrevOut struct {
	Txid         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Amount       float64 `json:"amount"`
}

type signResult struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
	Errors   []struct {
		Txid  string `json:"txid"`
		Vout  uint32 `json:"vout"`
		Error string `json:"error"`
	} `json:"errors"`
}

func (b *RPCBackend) SignStakeTx(ctx context.Context, tx *wire.MsgTx, privKeyWIF string, prevOuts []*btcstake.UTXO) (*wire.MsgTx, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, false, errors.Wrap(err, "serialize tx")
	}
	prev := make([]signPrevOut, 0, len(prevOuts))
	for _, u := range prevOuts {
		prev = append(prev, signPrevOut{
			Txid:         u.OutPoint.Hash.String(),
			Vout:         u.OutPoint.Index,
			ScriptPubKey: hex.EncodeToString(u.PkScript),
			Amount:       u.Amount.ToBTC(),
		})
	}
	raw, err := b.rawRequest("signrawtransactionwithkey",
		hex.EncodeToString(buf.Bytes()), []string{privKeyWIF}, prev)
	if err != nil {
		return nil, false, errors.Wrap(err, "signrawtransactionwithkey")
	}
	var res signResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, errors.Wrap(err, "sign reply")
	}
	txBytes, err := hex.DecodeString(res.Hex)
	if err != nil {
		return nil, false, errors.Wrap(err, "signed tx hex")
	}
	signed := wire.NewMsgTx(wire.TxVersion)
	if err := signed.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, false, errors.Wrap(err, "deserialize signed tx")
	}
	if !res.Complete {
		var first string
		if len(res.Errors) > 0 {
			first = res.Errors[0].Error
		}
		return signed, false, errors.Errorf("incomplete signing: %s", first)
	}
	return signed, true, nil
}

func (b *RPCBackend) MedianTime(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	info, err := b.node.GetBlockChainInfo()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "getblockchaininfo")
	}
	return time.Unix(info.MedianTime, 0), nil
}

func (b *RPCBackend) rawRequest(method string, params ...interface{}) (json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		m, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		raw = append(raw, m)
	}
	return b.node.RawRequest(method, raw)
}
