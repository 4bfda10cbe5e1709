package boltdb

import (
	"bytes"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/dltgateway/ledger-indexer/core"
)

type BoltPayloadStore struct {
	db *bolt.DB
}

var (
	rawPayloadsBucket = []byte("RawPayloads")
	pendingTxsBucket  = []byte("PendingTransactions")
)

var _ core.PayloadStore = (*BoltPayloadStore)(nil)

type pendingRecord struct {
	Status       string `json:"status"`
	StateVersion int64  `json:"stateVersion,omitempty"`
}

const (
	pendingStatusPending   = "pending"
	pendingStatusCommitted = "committed"
)

func (bd *BoltPayloadStore) Init(filePath string) error {
	db, err := bolt.Open(filePath, 0600, nil)
	if err != nil {
		return fmt.Errorf("could not open db: %v", err)
	}

	bd.db = db

	return db.Update(func(tx *bolt.Tx) error {
		for _, bn := range [][]byte{rawPayloadsBucket, pendingTxsBucket} {
			_, err := tx.CreateBucketIfNotExists(bn)
			if err != nil {
				return fmt.Errorf("could not bucket: %s, err: %v", string(bn), err)
			}
		}

		return nil
	})
}

func (bd *BoltPayloadStore) Close() error {
	return bd.db.Close()
}

// UpsertRawPayloads stores the notarized payload bytes of every user
// transaction, keyed by payload hash. Re-running over already stored payloads
// changes nothing, so a retried batch counts zero.
func (bd *BoltPayloadStore) UpsertRawPayloads(txs []core.TransactionData) (int, error) {
	touched := 0

	err := bd.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rawPayloadsBucket)

		for _, td := range txs {
			if !td.Transaction.IsUserTransaction || len(td.Transaction.RawPayload) == 0 {
				continue
			}

			existing := bucket.Get(td.Transaction.PayloadHash)
			if bytes.Equal(existing, td.Transaction.RawPayload) {
				continue
			}

			if err := bucket.Put(td.Transaction.PayloadHash, td.Transaction.RawPayload); err != nil {
				return fmt.Errorf("could not store raw payload: %v", err)
			}

			touched++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return touched, nil
}

// MarkPendingCommitted flips tracked pending transactions to committed. Records
// land in the pending bucket when payloads are first seen in the mempool;
// payloads never seen there are simply not tracked.
func (bd *BoltPayloadStore) MarkPendingCommitted(txs []core.TransactionData) (int, error) {
	touched := 0

	err := bd.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pendingTxsBucket)

		for _, td := range txs {
			if !td.Transaction.IsUserTransaction {
				continue
			}

			data := bucket.Get(td.Transaction.PayloadHash)
			if len(data) == 0 {
				continue
			}

			var record pendingRecord

			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("could not unmarshal pending record: %v", err)
			}

			if record.Status == pendingStatusCommitted {
				continue
			}

			record.Status = pendingStatusCommitted
			record.StateVersion = td.Transaction.StateVersion

			updated, err := json.Marshal(record)
			if err != nil {
				return err
			}

			if err := bucket.Put(td.Transaction.PayloadHash, updated); err != nil {
				return fmt.Errorf("could not update pending record: %v", err)
			}

			touched++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return touched, nil
}

// TrackPending registers a payload hash seen in the mempool so a later commit
// can reconcile it. Tracking an already known hash is a no-op.
func (bd *BoltPayloadStore) TrackPending(payloadHash []byte) error {
	return bd.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pendingTxsBucket)

		if len(bucket.Get(payloadHash)) > 0 {
			return nil
		}

		data, err := json.Marshal(pendingRecord{Status: pendingStatusPending})
		if err != nil {
			return err
		}

		return bucket.Put(payloadHash, data)
	})
}

func (bd *BoltPayloadStore) GetRawPayload(payloadHash []byte) ([]byte, error) {
	var result []byte

	if err := bd.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(rawPayloadsBucket).Get(payloadHash); len(data) > 0 {
			result = append([]byte(nil), data...)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}
