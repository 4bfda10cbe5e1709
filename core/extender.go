package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
)

// LedgerExtender atomically extends the persisted ledger with batches of
// committed transactions, maintaining every derived table under strict
// state-version ordering.
type LedgerExtender struct {
	store    LedgerStore
	payloads PayloadStore
	logger   hclog.Logger
}

func NewLedgerExtender(store LedgerStore, payloads PayloadStore, logger hclog.Logger) *LedgerExtender {
	return &LedgerExtender{
		store:    store,
		payloads: payloads,
		logger:   logger,
	}
}

// GetLatestTransactionSummary exposes the persisted tip, pre-genesis when the
// ledger is empty.
func (le *LedgerExtender) GetLatestTransactionSummary(ctx context.Context) (TransactionSummary, error) {
	return GetLatestTransactionSummary(ctx, le.store)
}

// CommitTransactions extends the ledger by one consistent batch. The
// preparation phase (raw payloads, pending-transaction reconciliation) is
// idempotent and may be repeated if the main commit fails; the extension
// itself happens inside one store transaction that either fully commits or
// leaves nothing behind.
func (le *LedgerExtender) CommitTransactions(ctx context.Context, extension ConsistentLedgerExtension, target SyncTargetCarrier) (*CommitReport, error) {
	if len(extension.Transactions) == 0 {
		return nil, errors.Join(ErrFatal, errors.New("empty ledger extension"))
	}

	rawTouched, pendingTouched, err := le.prepare(ctx, extension)
	if err != nil {
		return nil, err
	}

	report, err := le.extendLedger(ctx, extension, target)
	if err != nil {
		return nil, err
	}

	report.RawPayloadsTouched = rawTouched
	report.PendingTransactionsTouched = pendingTouched

	le.logger.Info("ledger extended",
		"transactions", report.TransactionCount,
		"topStateVersion", report.FinalSummary.StateVersion,
		"rowsInserted", report.RowsInserted,
		"rowsUpdated", report.RowsUpdated,
		"readMs", report.ReadDuration.Milliseconds(),
		"writeMs", report.WriteDuration.Milliseconds(),
		"contentMs", report.ContentDuration.Milliseconds())

	return report, nil
}

// prepare validates batch linkage against the persisted tip and runs the
// idempotent pre-steps outside the main transaction.
func (le *LedgerExtender) prepare(ctx context.Context, extension ConsistentLedgerExtension) (int, int, error) {
	top, err := le.GetLatestTransactionSummary(ctx)
	if err != nil {
		return 0, 0, err
	}

	if extension.ParentSummary.StateVersion != top.StateVersion {
		return 0, 0, errors.Join(ErrFatal, ErrDesync,
			fmt.Errorf("tried to commit transactions with parent state version %d on top of a ledger with state version %d",
				extension.ParentSummary.StateVersion, top.StateVersion))
	}

	expected := extension.ParentSummary.StateVersion
	for i := range extension.Transactions {
		expected++
		if extension.Transactions[i].Transaction.StateVersion != expected {
			return 0, 0, errors.Join(ErrFatal, ErrCorruptBatch,
				fmt.Errorf("non-contiguous batch: expected state version %d, got %d",
					expected, extension.Transactions[i].Transaction.StateVersion))
		}
	}

	rawTouched, err := le.payloads.UpsertRawPayloads(extension.Transactions)
	if err != nil {
		return 0, 0, err
	}

	pendingTouched, err := le.payloads.MarkPendingCommitted(extension.Transactions)
	if err != nil {
		return 0, 0, err
	}

	return rawTouched, pendingTouched, nil
}

func (le *LedgerExtender) extendLedger(ctx context.Context, extension ConsistentLedgerExtension, target SyncTargetCarrier) (report *CommitReport, err error) {
	tx, err := le.store.BeginExtension(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			// the whole batch rolls back; the original error propagates
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				le.logger.Error("rollback failed", "err", rbErr)
			}
		}
	}()

	report = &CommitReport{
		TransactionCount: len(extension.Transactions),
		FinalSummary:     extension.Transactions[len(extension.Transactions)-1].Summary,
	}

	seq, err := tx.ReserveSequences(ctx)
	if err != nil {
		return nil, err
	}

	// content: scan the batch and register every referenced entity
	contentStart := time.Now()
	resolver := NewEntityResolver()

	if err = resolver.Scan(extension.Transactions); err != nil {
		return nil, err
	}

	report.ContentDuration += time.Since(contentStart)

	// read: resolve against persisted entities, allocating the unknown ones
	readStart := time.Now()

	resolution, newEntities, err := resolver.Resolve(ctx, tx, seq)
	if err != nil {
		return nil, err
	}

	report.ReadDuration += time.Since(readStart)

	ledgerTransactions := buildLedgerTransactionRows(extension.Transactions, resolution)

	// write: bulk-load fundamental rows first, history depends on their ids
	writeStart := time.Now()

	inserted, err := tx.CopyEntities(ctx, newEntities)
	if err != nil {
		return nil, err
	}

	report.RowsInserted += inserted

	inserted, err = tx.CopyLedgerTransactions(ctx, ledgerTransactions)
	if err != nil {
		return nil, err
	}

	report.RowsInserted += inserted
	report.WriteDuration += time.Since(writeStart)

	// content: second substate pass, now with resolved ancestor ids
	contentStart = time.Now()

	changes, err := ExtractChanges(extension.Transactions, resolution)
	if err != nil {
		return nil, err
	}

	resourceHistory, err := buildResourceHistoryRows(changes, seq)
	if err != nil {
		return nil, err
	}

	metadataHistory := buildMetadataHistoryRows(changes, seq)
	supplyHistory := buildSupplyHistoryRows(changes, seq)
	report.ContentDuration += time.Since(contentStart)

	// read+content: fold deltas into superseding aggregate snapshots
	readStart = time.Now()

	aggregates, err := ComputeAggregates(ctx, tx, seq, changes)
	if err != nil {
		return nil, err
	}

	report.ReadDuration += time.Since(readStart)

	writeStart = time.Now()

	for _, write := range []func() (int64, error){
		func() (int64, error) { return tx.CopyResourceHistory(ctx, resourceHistory) },
		func() (int64, error) { return tx.CopyMetadataHistory(ctx, metadataHistory) },
		func() (int64, error) { return tx.CopySupplyHistory(ctx, supplyHistory) },
		func() (int64, error) { return tx.CopyAggregateSnapshots(ctx, aggregates.Snapshots) },
	} {
		inserted, err = write()
		if err != nil {
			return nil, err
		}

		report.RowsInserted += inserted
	}

	if len(aggregates.SupersededIDs) > 0 {
		updated, updateErr := tx.MarkAggregatesSuperseded(ctx, aggregates.SupersededIDs)
		if updateErr != nil {
			err = updateErr

			return nil, err
		}

		if updated != int64(len(aggregates.SupersededIDs)) {
			err = errors.Join(ErrFatal, fmt.Errorf("expected %d superseded aggregates, updated %d", len(aggregates.SupersededIDs), updated))

			return nil, err
		}

		report.RowsUpdated += updated
	}

	if err = tx.UpdateLedgerStatus(ctx, report.FinalSummary, target.TargetStateVersion); err != nil {
		return nil, err
	}

	report.RowsUpdated++

	if err = tx.AdvanceSequences(ctx, seq); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	report.WriteDuration += time.Since(writeStart)

	return report, nil
}

func buildLedgerTransactionRows(batch []TransactionData, resolution *EntityResolution) []LedgerTransactionRow {
	rows := make([]LedgerTransactionRow, len(batch))

	for i := range batch {
		tx := &batch[i].Transaction
		summary := &batch[i].Summary

		rows[i] = LedgerTransactionRow{
			StateVersion:           tx.StateVersion,
			Status:                 tx.Status,
			PayloadHash:            tx.PayloadHash,
			IntentHash:             tx.IntentHash,
			SignedHash:             tx.SignedHash,
			TransactionAccumulator: summary.TransactionAccumulator,
			FeePaid:                tx.FeePaid,
			Epoch:                  summary.Epoch,
			IndexInEpoch:           summary.IndexInEpoch,
			RoundInEpoch:           summary.RoundInEpoch,
			IsUserTransaction:      tx.IsUserTransaction,
			IsStartOfEpoch:         summary.IsStartOfEpoch,
			IsStartOfRound:         summary.IsStartOfRound,
			IsOnlyRoundChange:      summary.IsOnlyRoundChange,
			RoundTimestamp:         summary.RoundTimestamp,
			CreatedTimestamp:       summary.CreatedTimestamp,
			NormalizedTimestamp:    summary.NormalizedRoundTimestamp,
			AffectedEntityIDs:      resolution.AffectedGlobalEntityIDs(tx.StateVersion),
		}
	}

	return rows
}

func buildResourceHistoryRows(changes *ChangeSet, seq *SequenceBlock) ([]ResourceHistoryRow, error) {
	rows := make([]ResourceHistoryRow, 0, len(changes.Fungibles)+len(changes.NonFungibles))

	for i := range changes.Fungibles {
		c := &changes.Fungibles[i]
		if c.VaultEntity.OwnerAncestorID == nil || c.VaultEntity.GlobalAncestorID == nil {
			return nil, errors.Join(ErrFatal, fmt.Errorf("vault entity %d has unresolved ancestry", c.VaultEntity.ID))
		}

		balance := c.Balance
		rows = append(rows, ResourceHistoryRow{
			ID:               seq.ResourceHistory.Next(),
			FromStateVersion: c.StateVersion,
			OwnerEntityID:    *c.VaultEntity.OwnerAncestorID,
			GlobalEntityID:   *c.VaultEntity.GlobalAncestorID,
			ResourceEntityID: c.ResourceEntity.ID,
			Type:             ResourceTypeFungible,
			Balance:          &balance,
		})
	}

	for i := range changes.NonFungibles {
		c := &changes.NonFungibles[i]
		if c.VaultEntity.OwnerAncestorID == nil || c.VaultEntity.GlobalAncestorID == nil {
			return nil, errors.Join(ErrFatal, fmt.Errorf("vault entity %d has unresolved ancestry", c.VaultEntity.ID))
		}

		rows = append(rows, ResourceHistoryRow{
			ID:               seq.ResourceHistory.Next(),
			FromStateVersion: c.StateVersion,
			OwnerEntityID:    *c.VaultEntity.OwnerAncestorID,
			GlobalEntityID:   *c.VaultEntity.GlobalAncestorID,
			ResourceEntityID: c.ResourceEntity.ID,
			Type:             ResourceTypeNonFungible,
			NonFungibleIDs:   c.IDs,
		})
	}

	return rows, nil
}

func buildMetadataHistoryRows(changes *ChangeSet, seq *SequenceBlock) []MetadataHistoryRow {
	rows := make([]MetadataHistoryRow, 0, len(changes.Metadata))

	for i := range changes.Metadata {
		c := &changes.Metadata[i]

		keys := make([]string, 0, len(c.Metadata))
		values := make([]string, 0, len(c.Metadata))

		for _, key := range sortedKeys(c.Metadata) {
			keys = append(keys, key)
			values = append(values, c.Metadata[key])
		}

		rows = append(rows, MetadataHistoryRow{
			ID:               seq.MetadataHistory.Next(),
			FromStateVersion: c.StateVersion,
			EntityID:         c.Entity.ID,
			Keys:             keys,
			Values:           values,
		})
	}

	return rows
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func buildSupplyHistoryRows(changes *ChangeSet, seq *SequenceBlock) []SupplyHistoryRow {
	rows := make([]SupplyHistoryRow, 0, len(changes.Supplies))

	for i := range changes.Supplies {
		c := &changes.Supplies[i]

		rows = append(rows, SupplyHistoryRow{
			ID:               seq.SupplyHistory.Next(),
			FromStateVersion: c.StateVersion,
			ResourceEntityID: c.ResourceEntity.ID,
			TotalSupply:      c.TotalSupply,
			TotalMinted:      c.TotalMinted,
			TotalBurnt:       c.TotalBurnt,
		})
	}

	return rows
}
