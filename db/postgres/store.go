package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dltgateway/ledger-indexer/core"
)

// Store is the pgx-backed ledger store. All batch writes go through the binary
// COPY protocol inside a single transaction per ledger extension.
type Store struct {
	pool   *pgxpool.Pool
	logger hclog.Logger
}

var _ core.LedgerStore = (*Store)(nil)

func NewStore(ctx context.Context, connString string, logger hclog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping ledger database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()

		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	storeLogger := logger.Named("postgres")
	storeLogger.Debug("ledger schema ready")

	return &Store{
		pool:   pool,
		logger: storeLogger,
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) GetTopTransactionSummary(ctx context.Context) (*core.TransactionSummary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT state_version, epoch, index_in_epoch, round_in_epoch,
		       is_only_round_change, is_start_of_epoch, is_start_of_round,
		       payload_hash, transaction_accumulator,
		       round_timestamp, created_timestamp, normalized_timestamp
		FROM ledger_transactions
		ORDER BY state_version DESC
		LIMIT 1`)

	var summary core.TransactionSummary

	err := row.Scan(
		&summary.StateVersion, &summary.Epoch, &summary.IndexInEpoch, &summary.RoundInEpoch,
		&summary.IsOnlyRoundChange, &summary.IsStartOfEpoch, &summary.IsStartOfRound,
		&summary.PayloadHash, &summary.TransactionAccumulator,
		&summary.RoundTimestamp, &summary.CreatedTimestamp, &summary.NormalizedRoundTimestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("query top of ledger: %w", err)
	}

	return &summary, nil
}

func (s *Store) BeginExtension(ctx context.Context) (core.ExtensionTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin ledger extension: %w", err)
	}

	return &extensionTx{tx: tx}, nil
}

type extensionTx struct {
	tx pgx.Tx
}

var _ core.ExtensionTx = (*extensionTx)(nil)

func (e *extensionTx) ReserveSequences(ctx context.Context) (*core.SequenceBlock, error) {
	var entities, resourceHistory, metadataHistory, aggregateHistory, supplyHistory int64

	err := e.tx.QueryRow(ctx, `
		SELECT
			nextval('entities_id_seq'),
			nextval('entity_resource_history_id_seq'),
			nextval('entity_metadata_history_id_seq'),
			nextval('entity_resource_aggregate_history_id_seq'),
			nextval('resource_supply_history_id_seq')`).Scan(
		&entities, &resourceHistory, &metadataHistory, &aggregateHistory, &supplyHistory)
	if err != nil {
		return nil, fmt.Errorf("reserve sequences: %w", err)
	}

	return &core.SequenceBlock{
		Entities:         core.NewSequence(entities),
		ResourceHistory:  core.NewSequence(resourceHistory),
		MetadataHistory:  core.NewSequence(metadataHistory),
		AggregateHistory: core.NewSequence(aggregateHistory),
		SupplyHistory:    core.NewSequence(supplyHistory),
	}, nil
}

func (e *extensionTx) AdvanceSequences(ctx context.Context, block *core.SequenceBlock) error {
	// setval with is_called = false so the next nextval returns exactly the
	// first value this batch did not consume.
	_, err := e.tx.Exec(ctx, `
		SELECT
			setval('entities_id_seq', $1, false),
			setval('entity_resource_history_id_seq', $2, false),
			setval('entity_metadata_history_id_seq', $3, false),
			setval('entity_resource_aggregate_history_id_seq', $4, false),
			setval('resource_supply_history_id_seq', $5, false)`,
		block.Entities.Current(), block.ResourceHistory.Current(), block.MetadataHistory.Current(),
		block.AggregateHistory.Current(), block.SupplyHistory.Current())
	if err != nil {
		return fmt.Errorf("advance sequences: %w", err)
	}

	return nil
}

func (e *extensionTx) GetExistingEntities(
	ctx context.Context, addresses [][]byte,
) (map[string]core.EntityRow, error) {
	if len(addresses) == 0 {
		return map[string]core.EntityRow{}, nil
	}

	// Pulls the referenced rows plus every row on their ancestor chains so
	// ancestry for new children can be derived without further round trips.
	rows, err := e.tx.Query(ctx, `
		SELECT id, from_state_version, address, global_address,
		       parent_id, owner_ancestor_id, global_ancestor_id,
		       COALESCE(ancestor_ids, '{}'), type, COALESCE(kind, '')
		FROM entities
		WHERE id IN (
			SELECT DISTINCT UNNEST(
				ARRAY[id, parent_id, owner_ancestor_id, global_ancestor_id]
					|| COALESCE(ancestor_ids, '{}'))
			FROM entities
			WHERE address = ANY($1)
		)`, addresses)
	if err != nil {
		return nil, fmt.Errorf("query existing entities: %w", err)
	}

	defer rows.Close()

	result := map[string]core.EntityRow{}

	for rows.Next() {
		var (
			row           core.EntityRow
			discriminator string
		)

		err := rows.Scan(
			&row.ID, &row.FromStateVersion, &row.Address, &row.GlobalAddress,
			&row.ParentID, &row.OwnerAncestorID, &row.GlobalAncestorID, &row.AncestorIDs,
			&discriminator, &row.Kind)
		if err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}

		row.Type, err = core.ParseEntityType(discriminator)
		if err != nil {
			return nil, err
		}

		result[core.AddressFromBytes(row.Address)] = row
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read existing entities: %w", err)
	}

	return result, nil
}

func (e *extensionTx) GetMostRecentAggregates(
	ctx context.Context, entityIDs []int64,
) (map[int64]core.AggregateSnapshotRow, error) {
	if len(entityIDs) == 0 {
		return map[int64]core.AggregateSnapshotRow{}, nil
	}

	rows, err := e.tx.Query(ctx, `
		SELECT id, from_state_version, entity_id,
		       fungible_resource_ids, non_fungible_resource_ids
		FROM entity_resource_aggregate_history
		WHERE is_most_recent AND entity_id = ANY($1)`, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("query most recent aggregates: %w", err)
	}

	defer rows.Close()

	result := map[int64]core.AggregateSnapshotRow{}

	for rows.Next() {
		row := core.AggregateSnapshotRow{IsMostRecent: true}

		err := rows.Scan(
			&row.ID, &row.FromStateVersion, &row.EntityID,
			&row.FungibleResourceIDs, &row.NonFungibleResourceIDs)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}

		result[row.EntityID] = row
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read most recent aggregates: %w", err)
	}

	return result, nil
}

func (e *extensionTx) CopyLedgerTransactions(
	ctx context.Context, rows []core.LedgerTransactionRow,
) (int64, error) {
	return e.copyRows(ctx, "ledger_transactions",
		[]string{
			"state_version", "status", "payload_hash", "intent_hash", "signed_hash",
			"transaction_accumulator", "fee_paid",
			"epoch", "index_in_epoch", "round_in_epoch",
			"is_user_transaction", "is_start_of_epoch", "is_start_of_round", "is_only_round_change",
			"round_timestamp", "created_timestamp", "normalized_timestamp",
			"affected_entity_ids",
		},
		len(rows), func(i int) ([]any, error) {
			row := rows[i]

			return []any{
				row.StateVersion, string(row.Status), row.PayloadHash, row.IntentHash, row.SignedHash,
				row.TransactionAccumulator, numericFromAmount(row.FeePaid),
				row.Epoch, row.IndexInEpoch, row.RoundInEpoch,
				row.IsUserTransaction, row.IsStartOfEpoch, row.IsStartOfRound, row.IsOnlyRoundChange,
				row.RoundTimestamp, row.CreatedTimestamp, row.NormalizedTimestamp,
				row.AffectedEntityIDs,
			}, nil
		})
}

func (e *extensionTx) CopyEntities(ctx context.Context, rows []core.EntityRow) (int64, error) {
	return e.copyRows(ctx, "entities",
		[]string{
			"id", "from_state_version", "address", "global_address",
			"parent_id", "owner_ancestor_id", "global_ancestor_id", "ancestor_ids",
			"type", "kind",
		},
		len(rows), func(i int) ([]any, error) {
			row := rows[i]

			var kind any
			if row.Kind != "" {
				kind = row.Kind
			}

			return []any{
				row.ID, row.FromStateVersion, row.Address, nullableBytes(row.GlobalAddress),
				row.ParentID, row.OwnerAncestorID, row.GlobalAncestorID, row.AncestorIDs,
				row.Type.StorageDiscriminator(), kind,
			}, nil
		})
}

func (e *extensionTx) CopyResourceHistory(
	ctx context.Context, rows []core.ResourceHistoryRow,
) (int64, error) {
	return e.copyRows(ctx, "entity_resource_history",
		[]string{
			"id", "from_state_version", "owner_entity_id", "global_entity_id",
			"resource_entity_id", "type", "balance", "non_fungible_ids",
		},
		len(rows), func(i int) ([]any, error) {
			row := rows[i]

			var balance any
			if row.Balance != nil {
				balance = numericFromAmount(*row.Balance)
			}

			var nfIDs any
			if row.Type == core.ResourceTypeNonFungible {
				nfIDs = row.NonFungibleIDs
			}

			return []any{
				row.ID, row.FromStateVersion, row.OwnerEntityID, row.GlobalEntityID,
				row.ResourceEntityID, row.Type.StorageDiscriminator(), balance, nfIDs,
			}, nil
		})
}

func (e *extensionTx) CopyMetadataHistory(
	ctx context.Context, rows []core.MetadataHistoryRow,
) (int64, error) {
	return e.copyRows(ctx, "entity_metadata_history",
		[]string{"id", "from_state_version", "entity_id", "keys", "values"},
		len(rows), func(i int) ([]any, error) {
			row := rows[i]

			return []any{row.ID, row.FromStateVersion, row.EntityID, row.Keys, row.Values}, nil
		})
}

func (e *extensionTx) CopySupplyHistory(
	ctx context.Context, rows []core.SupplyHistoryRow,
) (int64, error) {
	return e.copyRows(ctx, "resource_supply_history",
		[]string{
			"id", "from_state_version", "resource_entity_id",
			"total_supply", "total_minted", "total_burnt",
		},
		len(rows), func(i int) ([]any, error) {
			row := rows[i]

			return []any{
				row.ID, row.FromStateVersion, row.ResourceEntityID,
				numericFromAmount(row.TotalSupply), numericFromAmount(row.TotalMinted),
				numericFromAmount(row.TotalBurnt),
			}, nil
		})
}

func (e *extensionTx) CopyAggregateSnapshots(
	ctx context.Context, rows []core.AggregateSnapshotRow,
) (int64, error) {
	return e.copyRows(ctx, "entity_resource_aggregate_history",
		[]string{
			"id", "from_state_version", "entity_id", "is_most_recent",
			"fungible_resource_ids", "non_fungible_resource_ids",
		},
		len(rows), func(i int) ([]any, error) {
			row := rows[i]

			return []any{
				row.ID, row.FromStateVersion, row.EntityID, row.IsMostRecent,
				row.FungibleResourceIDs, row.NonFungibleResourceIDs,
			}, nil
		})
}

func (e *extensionTx) MarkAggregatesSuperseded(
	ctx context.Context, snapshotIDs []int64,
) (int64, error) {
	if len(snapshotIDs) == 0 {
		return 0, nil
	}

	tag, err := e.tx.Exec(ctx, `
		UPDATE entity_resource_aggregate_history
		SET is_most_recent = FALSE
		WHERE id = ANY($1)`, snapshotIDs)
	if err != nil {
		return 0, fmt.Errorf("mark aggregates superseded: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (e *extensionTx) UpdateLedgerStatus(
	ctx context.Context, tip core.TransactionSummary, targetStateVersion int64,
) error {
	_, err := e.tx.Exec(ctx, `
		INSERT INTO ledger_status (id, top_of_ledger_state_version, sync_target_state_version, last_updated)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			top_of_ledger_state_version = EXCLUDED.top_of_ledger_state_version,
			sync_target_state_version = EXCLUDED.sync_target_state_version,
			last_updated = EXCLUDED.last_updated`,
		tip.StateVersion, targetStateVersion, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update ledger status: %w", err)
	}

	return nil
}

func (e *extensionTx) Commit(ctx context.Context) error {
	return e.tx.Commit(ctx)
}

func (e *extensionTx) Rollback(ctx context.Context) error {
	err := e.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return err
}

func (e *extensionTx) copyRows(
	ctx context.Context, table string, columns []string,
	count int, values func(i int) ([]any, error),
) (int64, error) {
	if count == 0 {
		return 0, nil
	}

	source := make([][]any, count)

	for i := 0; i < count; i++ {
		row, err := values(i)
		if err != nil {
			return 0, err
		}

		source[i] = row
	}

	written, err := e.tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(source))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}

	return written, nil
}

func numericFromAmount(a core.TokenAmount) pgtype.Numeric {
	return pgtype.Numeric{Int: a.BigInt(), Valid: true}
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return b
}
