package leveldb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/dltgateway/ledger-indexer/core"
)

type LevelDbPayloadStore struct {
	db *leveldb.DB
}

var (
	rawPayloadPrefix = []byte("raw_")
	pendingTxPrefix  = []byte("pending_")
)

var _ core.PayloadStore = (*LevelDbPayloadStore)(nil)

type pendingRecord struct {
	Status       string `json:"status"`
	StateVersion int64  `json:"stateVersion,omitempty"`
}

const (
	pendingStatusPending   = "pending"
	pendingStatusCommitted = "committed"
)

func (lvldb *LevelDbPayloadStore) Init(filePath string) error {
	db, err := leveldb.OpenFile(filePath, nil)
	if err != nil {
		return fmt.Errorf("could not open db: %v", err)
	}

	lvldb.db = db

	return nil
}

func (lvldb *LevelDbPayloadStore) Close() error {
	return lvldb.db.Close()
}

func (lvldb *LevelDbPayloadStore) UpsertRawPayloads(txs []core.TransactionData) (int, error) {
	batch := &leveldb.Batch{}
	touched := 0

	for _, td := range txs {
		if !td.Transaction.IsUserTransaction || len(td.Transaction.RawPayload) == 0 {
			continue
		}

		key := append([]byte(nil), rawPayloadPrefix...)
		key = append(key, td.Transaction.PayloadHash...)

		existing, err := lvldb.db.Get(key, nil)
		if err != nil && err != leveldb.ErrNotFound {
			return 0, err
		}

		if bytes.Equal(existing, td.Transaction.RawPayload) {
			continue
		}

		batch.Put(key, td.Transaction.RawPayload)
		touched++
	}

	if err := lvldb.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("could not store raw payloads: %v", err)
	}

	return touched, nil
}

func (lvldb *LevelDbPayloadStore) MarkPendingCommitted(txs []core.TransactionData) (int, error) {
	batch := &leveldb.Batch{}
	touched := 0

	for _, td := range txs {
		if !td.Transaction.IsUserTransaction {
			continue
		}

		key := append([]byte(nil), pendingTxPrefix...)
		key = append(key, td.Transaction.PayloadHash...)

		data, err := lvldb.db.Get(key, nil)
		if err == leveldb.ErrNotFound {
			continue
		} else if err != nil {
			return 0, err
		}

		var record pendingRecord

		if err := json.Unmarshal(data, &record); err != nil {
			return 0, fmt.Errorf("could not unmarshal pending record: %v", err)
		}

		if record.Status == pendingStatusCommitted {
			continue
		}

		record.Status = pendingStatusCommitted
		record.StateVersion = td.Transaction.StateVersion

		updated, err := json.Marshal(record)
		if err != nil {
			return 0, err
		}

		batch.Put(key, updated)
		touched++
	}

	if err := lvldb.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("could not update pending records: %v", err)
	}

	return touched, nil
}

func (lvldb *LevelDbPayloadStore) TrackPending(payloadHash []byte) error {
	key := append([]byte(nil), pendingTxPrefix...)
	key = append(key, payloadHash...)

	_, err := lvldb.db.Get(key, nil)
	if err == nil {
		return nil
	} else if err != leveldb.ErrNotFound {
		return err
	}

	data, err := json.Marshal(pendingRecord{Status: pendingStatusPending})
	if err != nil {
		return err
	}

	return lvldb.db.Put(key, data, nil)
}

func (lvldb *LevelDbPayloadStore) GetRawPayload(payloadHash []byte) ([]byte, error) {
	key := append([]byte(nil), rawPayloadPrefix...)
	key = append(key, payloadHash...)

	data, err := lvldb.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return append([]byte(nil), data...), nil
}
