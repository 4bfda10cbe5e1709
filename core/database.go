package core

import (
	"context"
	"time"
)

// EntityRow mirrors one row of the entities table. Ancestry pointers are
// denormalized so that one batched query returns everything needed to extend
// ancestor chains without walking the database.
type EntityRow struct {
	ID               int64
	FromStateVersion int64
	Address          []byte
	GlobalAddress    []byte
	ParentID         *int64
	OwnerAncestorID  *int64
	GlobalAncestorID *int64
	AncestorIDs      []int64
	Type             EntityType
	Kind             string
}

func (e *EntityRow) IsGlobal() bool {
	return len(e.GlobalAddress) > 0
}

type LedgerTransactionRow struct {
	StateVersion           int64
	Status                 TransactionStatus
	PayloadHash            []byte
	IntentHash             []byte
	SignedHash             []byte
	TransactionAccumulator []byte
	FeePaid                TokenAmount
	Epoch                  int64
	IndexInEpoch           int64
	RoundInEpoch           int64
	IsUserTransaction      bool
	IsStartOfEpoch         bool
	IsStartOfRound         bool
	IsOnlyRoundChange      bool
	RoundTimestamp         time.Time
	CreatedTimestamp       time.Time
	NormalizedTimestamp    time.Time
	AffectedEntityIDs      []int64
}

type ResourceHistoryRow struct {
	ID               int64
	FromStateVersion int64
	OwnerEntityID    int64
	GlobalEntityID   int64
	ResourceEntityID int64
	Type             ResourceType
	Balance          *TokenAmount // fungible rows only
	NonFungibleIDs   []string     // non-fungible rows only
}

type MetadataHistoryRow struct {
	ID               int64
	FromStateVersion int64
	EntityID         int64
	Keys             []string
	Values           []string
}

type SupplyHistoryRow struct {
	ID               int64
	FromStateVersion int64
	ResourceEntityID int64
	TotalSupply      TokenAmount
	TotalMinted      TokenAmount
	TotalBurnt       TokenAmount
}

type AggregateSnapshotRow struct {
	ID                    int64
	FromStateVersion      int64
	EntityID              int64
	IsMostRecent          bool
	FungibleResourceIDs   []int64
	NonFungibleResourceIDs []int64
}

// ExtensionTx is one ledger extension unit of work. Everything done through it
// becomes visible atomically on Commit; Rollback discards all of it, including
// reserved sequence values (gaps are acceptable, duplicates are not).
type ExtensionTx interface {
	ReserveSequences(ctx context.Context) (*SequenceBlock, error)
	AdvanceSequences(ctx context.Context, block *SequenceBlock) error

	// GetExistingEntities returns, keyed by hex address, every entity row whose
	// address is in addresses plus every ancestor of those rows.
	GetExistingEntities(ctx context.Context, addresses [][]byte) (map[string]EntityRow, error)
	GetMostRecentAggregates(ctx context.Context, entityIDs []int64) (map[int64]AggregateSnapshotRow, error)

	CopyLedgerTransactions(ctx context.Context, rows []LedgerTransactionRow) (int64, error)
	CopyEntities(ctx context.Context, rows []EntityRow) (int64, error)
	CopyResourceHistory(ctx context.Context, rows []ResourceHistoryRow) (int64, error)
	CopyMetadataHistory(ctx context.Context, rows []MetadataHistoryRow) (int64, error)
	CopySupplyHistory(ctx context.Context, rows []SupplyHistoryRow) (int64, error)
	CopyAggregateSnapshots(ctx context.Context, rows []AggregateSnapshotRow) (int64, error)
	MarkAggregatesSuperseded(ctx context.Context, snapshotIDs []int64) (int64, error)

	UpdateLedgerStatus(ctx context.Context, tip TransactionSummary, targetStateVersion int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LedgerStore is the relational store the extension pipeline writes to.
type LedgerStore interface {
	GetTopTransactionSummary(ctx context.Context) (*TransactionSummary, error)
	BeginExtension(ctx context.Context) (ExtensionTx, error)
}

// PayloadStore persists raw notarized payloads and reconciles pending
// (mempool) transaction statuses. All operations are idempotent so the
// preparation phase may be repeated after a failed commit.
type PayloadStore interface {
	UpsertRawPayloads(txs []TransactionData) (int, error)
	MarkPendingCommitted(txs []TransactionData) (int, error)
	Close() error
}
