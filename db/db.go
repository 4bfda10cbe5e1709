package db

import (
	"strings"

	"github.com/dltgateway/ledger-indexer/core"
	"github.com/dltgateway/ledger-indexer/db/boltdb"
	"github.com/dltgateway/ledger-indexer/db/leveldb"
)

type InitializablePayloadStore interface {
	core.PayloadStore
	Init(filePath string) error
}

func NewPayloadStore(name string) InitializablePayloadStore {
	switch strings.ToLower(name) {
	case "leveldb":
		return &leveldb.LevelDbPayloadStore{}
	default:
		return &boltdb.BoltPayloadStore{}
	}
}

func NewPayloadStoreInit(name string, filePath string) (core.PayloadStore, error) {
	store := NewPayloadStore(name)
	if err := store.Init(filePath); err != nil {
		return nil, err
	}

	return store, nil
}
