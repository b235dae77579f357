// Package chainwatcher polls a bitcoin node for outputs funding watched
// stake scripts and pushes deposit updates to subscribers. It keeps no
// per-subscriber state beyond the channel set; deposits disappear from
// updates once the node reports them spent.
package chainwatcher

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/slog"

	"github.com/BounceBit-Labs/btcstake"
)

// DepositUpdate reports the current funding state of one stake
// scriptPubKey.
type DepositUpdate struct {
	PkScriptHex string
	Confs       uint32
	UTXOCount   int
	Funded      bool
	At          time.Time
	UTXOs       []*btcstake.UTXO
}

// ChainWatcher scans new blocks and the mempool for every stake pkScript
// that currently has at least one subscriber and broadcasts a
// DepositUpdate each tick.
type ChainWatcher struct {
	log  slog.Logger
	node *rpcclient.Client

	pollInterval time.Duration

	mu   sync.RWMutex
	tip  int64
	subs map[string]map[chan DepositUpdate]struct{} // pkScriptHex -> set(chan)

	quit        chan struct{}
	lastScanned int64

	pkBytes map[string][]byte
	// known holds the unspent deposit outputs discovered in prior ticks,
	// keyed by outpoint, so funding keeps being reported when no new
	// block pays the script.
	known map[string]map[string]*btcstake.UTXO
}

// New creates a watcher over node. The node connection must be in HTTP
// POST mode.
func New(log slog.Logger, node *rpcclient.Client) *ChainWatcher {
	return &ChainWatcher{
		log:          log,
		node:         node,
		pollInterval: 10 * time.Second,
		subs:         make(map[string]map[chan DepositUpdate]struct{}),
		quit:         make(chan struct{}),
		lastScanned:  -1,
		pkBytes:      make(map[string][]byte),
		known:        make(map[string]map[string]*btcstake.UTXO),
	}
}

func (w *ChainWatcher) Stop() { close(w.quit) }

func (w *ChainWatcher) Run(ctx context.Context) {
	w.log.Infof("watcher: started")
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()
	defer w.log.Infof("watcher: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.pollOnce()
		}
	}
}

func (w *ChainWatcher) pollOnce() {
	if h, err := w.node.GetBlockCount(); err == nil {
		w.mu.Lock()
		w.tip = h
		w.mu.Unlock()
	} else {
		w.log.Debugf("watcher: getblockcount failed: %v", err)
	}

	// Snapshot subscribed pkScripts so no lock is held across RPCs.
	w.mu.RLock()
	if len(w.subs) == 0 {
		w.mu.RUnlock()
		return
	}
	keys := make([]string, 0, len(w.subs))
	for k := range w.subs {
		keys = append(keys, k)
	}
	pkbByKey := make(map[string][]byte, len(keys))
	knownSize := make(map[string]int, len(keys))
	for _, k := range keys {
		pkbByKey[k] = w.pkBytes[k]
		knownSize[k] = len(w.known[k])
	}
	w.mu.RUnlock()

	tip := w.currentTip()
	discoveredByPk := make(map[string][]*btcstake.UTXO, len(keys))
	latestMatchByPk := make(map[string]int64, len(keys))

	// New blocks, scanned once per tick across all pkScripts.
	if tip >= 0 && tip != w.lastScanned {
		start := w.lastScanned + 1
		if w.lastScanned == -1 || start < 0 || start > tip {
			// First run or reorg; scan only the current tip.
			start = tip
		}
		for bh := start; bh <= tip; bh++ {
			hash, err := w.node.GetBlockHash(bh)
			if err != nil {
				continue
			}
			block, err := w.node.GetBlock(hash)
			if err != nil || block == nil {
				continue
			}
			for _, mtx := range block.Transactions {
				txid := mtx.TxHash()
				for voutIdx, o := range mtx.TxOut {
					for _, pkHex := range keys {
						pkb := pkbByKey[pkHex]
						if pkb != nil && bytes.Equal(o.PkScript, pkb) {
							discoveredByPk[pkHex] = append(discoveredByPk[pkHex], &btcstake.UTXO{
								OutPoint: wire.OutPoint{Hash: txid, Index: uint32(voutIdx)},
								Amount:   btcutil.Amount(o.Value),
								PkScript: o.PkScript,
							})
							if bh > latestMatchByPk[pkHex] {
								latestMatchByPk[pkHex] = bh
							}
						}
					}
				}
			}
		}
		w.lastScanned = tip
	}

	// Mempool scan for scripts with nothing known yet (0-conf funding).
	needMempool := false
	for _, pkHex := range keys {
		if len(discoveredByPk[pkHex]) == 0 && knownSize[pkHex] == 0 {
			needMempool = true
			break
		}
	}
	if needMempool {
		if txids, err := w.node.GetRawMempool(); err == nil {
			for _, th := range txids {
				v, err := w.node.GetRawTransactionVerbose(th)
				if err != nil || v == nil {
					continue
				}
				txHash, err := chainhash.NewHashFromStr(v.Txid)
				if err != nil {
					continue
				}
				for voutIdx, vout := range v.Vout {
					spk, err := hex.DecodeString(vout.ScriptPubKey.Hex)
					if err != nil {
						continue
					}
					for _, pkHex := range keys {
						pkb := pkbByKey[pkHex]
						if pkb == nil || !bytes.Equal(spk, pkb) {
							continue
						}
						amount, err := btcutil.NewAmount(vout.Value)
						if err != nil {
							continue
						}
						discoveredByPk[pkHex] = append(discoveredByPk[pkHex], &btcstake.UTXO{
							OutPoint: wire.OutPoint{Hash: *txHash, Index: uint32(voutIdx)},
							Amount:   amount,
							PkScript: spk,
						})
					}
				}
			}
		} else {
			w.log.Debugf("watcher: getrawmempool failed: %v", err)
		}
	}

	for _, pkHex := range keys {
		if list := discoveredByPk[pkHex]; len(list) > 0 {
			if h := latestMatchByPk[pkHex]; h > 0 {
				w.log.Debugf("watcher: pk=%s funded in block %d; utxos=%d", pkHex, h, len(list))
			}
			w.mu.Lock()
			km := w.known[pkHex]
			if km == nil {
				km = make(map[string]*btcstake.UTXO)
				w.known[pkHex] = km
			}
			for _, u := range list {
				km[u.OutPoint.String()] = u
			}
			w.mu.Unlock()
		}

		// Re-check every known entry against the UTXO set; spent ones
		// fall out of the update.
		w.mu.RLock()
		km := w.known[pkHex]
		ids := make([]string, 0, len(km))
		utxos := make([]*btcstake.UTXO, 0, len(km))
		for id, u := range km {
			ids = append(ids, id)
			utxos = append(utxos, u)
		}
		w.mu.RUnlock()

		current := make([]*btcstake.UTXO, 0, len(ids))
		minConfs := int64(^uint32(0))
		for i, u := range utxos {
			res, err := w.node.GetTxOut(&u.OutPoint.Hash, u.OutPoint.Index, true)
			if err != nil || res == nil {
				w.mu.Lock()
				if set := w.known[pkHex]; set != nil {
					delete(set, ids[i])
					if len(set) == 0 {
						delete(w.known, pkHex)
					}
				}
				w.mu.Unlock()
				continue
			}
			current = append(current, u)
			if res.Confirmations < minConfs {
				minConfs = res.Confirmations
			}
		}

		var confs uint32
		funded := len(current) > 0
		if funded && minConfs > 0 {
			if minConfs > int64(^uint32(0)) {
				minConfs = int64(^uint32(0))
			}
			confs = uint32(minConfs)
		}

		w.broadcastUpdate(pkHex, DepositUpdate{
			PkScriptHex: pkHex,
			Confs:       confs,
			UTXOCount:   len(current),
			Funded:      funded,
			At:          time.Now(),
			UTXOs:       current,
		})
	}
}

func (w *ChainWatcher) currentTip() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tip
}

// Subscribe adds a listener for pkScriptHex and returns the channel plus
// an unsubscribe func. No initial snapshot is sent; first data arrives on
// the next tick.
func (w *ChainWatcher) Subscribe(pkScriptHex string) (<-chan DepositUpdate, func()) {
	k := strings.ToLower(pkScriptHex)
	if b, err := hex.DecodeString(k); err == nil {
		w.mu.Lock()
		w.pkBytes[k] = b
		w.mu.Unlock()
	}

	ch := make(chan DepositUpdate, 8)

	w.mu.Lock()
	if _, ok := w.subs[k]; !ok {
		w.subs[k] = make(map[chan DepositUpdate]struct{})
	}
	w.subs[k][ch] = struct{}{}
	n := len(w.subs[k])
	w.mu.Unlock()
	w.log.Infof("watcher: subscribed pk=%s (subs=%d)", k, n)

	unsub := func() {
		w.mu.Lock()
		if set, ok := w.subs[k]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(w.subs, k)
				delete(w.known, k)
			}
		}
		remaining := 0
		if set, ok := w.subs[k]; ok {
			remaining = len(set)
		}
		w.mu.Unlock()
		w.log.Infof("watcher: unsubscribed pk=%s (subs=%d)", k, remaining)
		// The channel is not closed: the producer may still send; the
		// receiver stops via its own context.
	}
	return ch, unsub
}

// broadcastUpdate snapshots subscribers for pk, then sends best-effort.
func (w *ChainWatcher) broadcastUpdate(pk string, u DepositUpdate) {
	w.mu.RLock()
	set := w.subs[pk]
	chs := make([]chan DepositUpdate, 0, len(set))
	for ch := range set {
		chs = append(chs, ch)
	}
	w.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- u:
		default:
			// Drop if the receiver is slow.
		}
	}
}
