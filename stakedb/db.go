// Package stakedb persists stake receipts in a local bbolt file. A
// receipt holds everything the spend flow needs to recover a deposit:
// the outpoint, the redeem script, the unlock time and where change went.
package stakedb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var bucketReceipts = []byte("receipts_by_outpoint")

// ErrReceiptNotFound is returned when no receipt exists for an outpoint.
var ErrReceiptNotFound = errors.New("receipt not found")

// Receipt is one stake deposit as recorded at broadcast time.
type Receipt struct {
	OutPoint      string         `json:"outpoint"` // txid:vout of the stake output
	RedeemScript  []byte         `json:"redeem_script"`
	LockTime      uint32         `json:"lock_time"`
	Amount        btcutil.Amount `json:"amount"`
	SegwitAddress string         `json:"segwit_address"`
	LegacyAddress string         `json:"legacy_address"`
	ChangeAddress string         `json:"change_address"`
	CreatedAt     time.Time      `json:"created_at"`
}

// UnlockTime returns the wall-clock time the deposit becomes spendable.
func (r *Receipt) UnlockTime() time.Time {
	return time.Unix(int64(r.LockTime), 0)
}

// DB is a receipt store backed by a single bbolt file.
type DB struct {
	db *bolt.DB
}

// Open creates or opens the receipt store at path, creating parent
// directories as needed.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt")
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReceipts)
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, errors.Wrap(err, "create bucket")
	}
	return &DB{db: bdb}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Put stores or replaces the receipt keyed by its outpoint.
func (d *DB) Put(r *Receipt) error {
	if r.OutPoint == "" {
		return errors.New("receipt outpoint required")
	}
	val, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal receipt")
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReceipts).Put([]byte(r.OutPoint), val)
	})
}

// Get loads the receipt for outpoint.
func (d *DB) Get(outpoint string) (*Receipt, error) {
	var r Receipt
	err := d.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketReceipts).Get([]byte(outpoint))
		if val == nil {
			return errors.WithMessage(ErrReceiptNotFound, outpoint)
		}
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns all receipts in key order.
func (d *DB) List() ([]*Receipt, error) {
	var out []*Receipt
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReceipts).ForEach(func(_, val []byte) error {
			var r Receipt
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the receipt for outpoint, typically after a successful
// spend.
func (d *DB) Delete(outpoint string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReceipts).Delete([]byte(outpoint))
	})
}
