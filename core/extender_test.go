package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPayloadStore
type MockPayloadStore struct {
	mock.Mock
}

func (m *MockPayloadStore) UpsertRawPayloads(txs []TransactionData) (int, error) {
	args := m.Called(txs)
	return args.Int(0), args.Error(1)
}

func (m *MockPayloadStore) MarkPendingCommitted(txs []TransactionData) (int, error) {
	args := m.Called(txs)
	return args.Int(0), args.Error(1)
}

func (m *MockPayloadStore) Close() error {
	return nil
}

var _ PayloadStore = (*MockPayloadStore)(nil)

// FakeExtensionTx records everything written through it so assertions can
// inspect the full would-be database state of one extension.
type FakeExtensionTx struct {
	ExistingEntities   map[string]EntityRow
	ExistingAggregates map[int64]AggregateSnapshotRow

	Entities        []EntityRow
	Transactions    []LedgerTransactionRow
	ResourceHistory []ResourceHistoryRow
	MetadataHistory []MetadataHistoryRow
	SupplyHistory   []SupplyHistoryRow
	Aggregates      []AggregateSnapshotRow
	SupersededIDs   []int64

	StatusTip    *TransactionSummary
	StatusTarget int64

	Advanced   *SequenceBlock
	Committed  bool
	RolledBack bool

	FailOn string
}

var _ ExtensionTx = (*FakeExtensionTx)(nil)

func NewFakeExtensionTx() *FakeExtensionTx {
	return &FakeExtensionTx{
		ExistingEntities:   map[string]EntityRow{},
		ExistingAggregates: map[int64]AggregateSnapshotRow{},
	}
}

func (f *FakeExtensionTx) fail(op string) error {
	if f.FailOn == op {
		return errors.New(op + " failed")
	}

	return nil
}

func (f *FakeExtensionTx) ReserveSequences(ctx context.Context) (*SequenceBlock, error) {
	if err := f.fail("ReserveSequences"); err != nil {
		return nil, err
	}

	return &SequenceBlock{
		Entities:         NewSequence(1),
		ResourceHistory:  NewSequence(100),
		MetadataHistory:  NewSequence(200),
		AggregateHistory: NewSequence(300),
		SupplyHistory:    NewSequence(400),
	}, nil
}

func (f *FakeExtensionTx) AdvanceSequences(ctx context.Context, block *SequenceBlock) error {
	f.Advanced = block

	return f.fail("AdvanceSequences")
}

func (f *FakeExtensionTx) GetExistingEntities(ctx context.Context, addresses [][]byte) (map[string]EntityRow, error) {
	if err := f.fail("GetExistingEntities"); err != nil {
		return nil, err
	}

	result := map[string]EntityRow{}

	for _, raw := range addresses {
		if row, exists := f.ExistingEntities[AddressFromBytes(raw)]; exists {
			result[AddressFromBytes(raw)] = row
		}
	}

	return result, nil
}

func (f *FakeExtensionTx) GetMostRecentAggregates(ctx context.Context, entityIDs []int64) (map[int64]AggregateSnapshotRow, error) {
	if err := f.fail("GetMostRecentAggregates"); err != nil {
		return nil, err
	}

	result := map[int64]AggregateSnapshotRow{}

	for _, id := range entityIDs {
		if row, exists := f.ExistingAggregates[id]; exists {
			result[id] = row
		}
	}

	return result, nil
}

func (f *FakeExtensionTx) CopyLedgerTransactions(ctx context.Context, rows []LedgerTransactionRow) (int64, error) {
	if err := f.fail("CopyLedgerTransactions"); err != nil {
		return 0, err
	}

	f.Transactions = append(f.Transactions, rows...)

	return int64(len(rows)), nil
}

func (f *FakeExtensionTx) CopyEntities(ctx context.Context, rows []EntityRow) (int64, error) {
	if err := f.fail("CopyEntities"); err != nil {
		return 0, err
	}

	f.Entities = append(f.Entities, rows...)

	return int64(len(rows)), nil
}

func (f *FakeExtensionTx) CopyResourceHistory(ctx context.Context, rows []ResourceHistoryRow) (int64, error) {
	if err := f.fail("CopyResourceHistory"); err != nil {
		return 0, err
	}

	f.ResourceHistory = append(f.ResourceHistory, rows...)

	return int64(len(rows)), nil
}

func (f *FakeExtensionTx) CopyMetadataHistory(ctx context.Context, rows []MetadataHistoryRow) (int64, error) {
	if err := f.fail("CopyMetadataHistory"); err != nil {
		return 0, err
	}

	f.MetadataHistory = append(f.MetadataHistory, rows...)

	return int64(len(rows)), nil
}

func (f *FakeExtensionTx) CopySupplyHistory(ctx context.Context, rows []SupplyHistoryRow) (int64, error) {
	if err := f.fail("CopySupplyHistory"); err != nil {
		return 0, err
	}

	f.SupplyHistory = append(f.SupplyHistory, rows...)

	return int64(len(rows)), nil
}

func (f *FakeExtensionTx) CopyAggregateSnapshots(ctx context.Context, rows []AggregateSnapshotRow) (int64, error) {
	if err := f.fail("CopyAggregateSnapshots"); err != nil {
		return 0, err
	}

	f.Aggregates = append(f.Aggregates, rows...)

	return int64(len(rows)), nil
}

func (f *FakeExtensionTx) MarkAggregatesSuperseded(ctx context.Context, snapshotIDs []int64) (int64, error) {
	if err := f.fail("MarkAggregatesSuperseded"); err != nil {
		return 0, err
	}

	f.SupersededIDs = append(f.SupersededIDs, snapshotIDs...)

	return int64(len(snapshotIDs)), nil
}

func (f *FakeExtensionTx) UpdateLedgerStatus(ctx context.Context, tip TransactionSummary, targetStateVersion int64) error {
	f.StatusTip = &tip
	f.StatusTarget = targetStateVersion

	return f.fail("UpdateLedgerStatus")
}

func (f *FakeExtensionTx) Commit(ctx context.Context) error {
	if err := f.fail("Commit"); err != nil {
		return err
	}

	f.Committed = true

	return nil
}

func (f *FakeExtensionTx) Rollback(ctx context.Context) error {
	f.RolledBack = true

	return nil
}

// FakeLedgerStore
type FakeLedgerStore struct {
	Top     *TransactionSummary
	Tx      *FakeExtensionTx
	TxBegun bool
}

func (f *FakeLedgerStore) GetTopTransactionSummary(ctx context.Context) (*TransactionSummary, error) {
	return f.Top, nil
}

func (f *FakeLedgerStore) BeginExtension(ctx context.Context) (ExtensionTx, error) {
	f.TxBegun = true

	return f.Tx, nil
}

var _ LedgerStore = (*FakeLedgerStore)(nil)

func TestCommitTransactionsEmptyBatch(t *testing.T) {
	extender := NewLedgerExtender(&FakeLedgerStore{}, new(MockPayloadStore), hclog.NewNullLogger())

	_, err := extender.CommitTransactions(context.Background(), ConsistentLedgerExtension{}, SyncTargetCarrier{})

	assert.ErrorIs(t, err, ErrFatal)
}

func TestCommitTransactionsDesyncRejectedBeforeAnyWrite(t *testing.T) {
	store := &FakeLedgerStore{
		Top: &TransactionSummary{StateVersion: 5},
		Tx:  NewFakeExtensionTx(),
	}
	payloads := new(MockPayloadStore)
	extender := NewLedgerExtender(store, payloads, hclog.NewNullLogger())

	extension := ConsistentLedgerExtension{
		ParentSummary: TransactionSummary{StateVersion: 3},
		Transactions:  []TransactionData{dummyTransactionData(4)},
	}

	_, err := extender.CommitTransactions(context.Background(), extension, SyncTargetCarrier{})

	assert.ErrorIs(t, err, ErrDesync)
	assert.ErrorIs(t, err, ErrFatal)
	assert.False(t, store.TxBegun)
	payloads.AssertNotCalled(t, "UpsertRawPayloads", mock.Anything)
}

func TestCommitTransactionsNonContiguousBatch(t *testing.T) {
	store := &FakeLedgerStore{
		Top: &TransactionSummary{StateVersion: 5},
		Tx:  NewFakeExtensionTx(),
	}
	extender := NewLedgerExtender(store, new(MockPayloadStore), hclog.NewNullLogger())

	extension := ConsistentLedgerExtension{
		ParentSummary: TransactionSummary{StateVersion: 5},
		Transactions:  []TransactionData{dummyTransactionData(6), dummyTransactionData(8)},
	}

	_, err := extender.CommitTransactions(context.Background(), extension, SyncTargetCarrier{})

	assert.ErrorIs(t, err, ErrCorruptBatch)
	assert.False(t, store.TxBegun)
}

func TestCommitTransactionsRollbackOnWriteFailure(t *testing.T) {
	tx := NewFakeExtensionTx()
	tx.FailOn = "CopyLedgerTransactions"

	store := &FakeLedgerStore{Tx: tx}
	payloads := new(MockPayloadStore)
	payloads.On("UpsertRawPayloads", mock.Anything).Return(0, nil)
	payloads.On("MarkPendingCommitted", mock.Anything).Return(0, nil)

	extender := NewLedgerExtender(store, payloads, hclog.NewNullLogger())

	extension := ConsistentLedgerExtension{
		ParentSummary: PreGenesisSummary(time.Now().UTC()),
		Transactions:  []TransactionData{dummyTransactionData(1)},
	}

	_, err := extender.CommitTransactions(context.Background(), extension, SyncTargetCarrier{})

	require.Error(t, err)
	assert.True(t, tx.RolledBack)
	assert.False(t, tx.Committed)
}

func TestCommitTransactionsGenesisScenario(t *testing.T) {
	tx := NewFakeExtensionTx()
	store := &FakeLedgerStore{Tx: tx}

	payloads := new(MockPayloadStore)
	payloads.On("UpsertRawPayloads", mock.Anything).Return(1, nil)
	payloads.On("MarkPendingCommitted", mock.Anything).Return(0, nil)

	extender := NewLedgerExtender(store, payloads, hclog.NewNullLogger())

	extension := genesisExtension(t)
	target := SyncTargetCarrier{TargetStateVersion: 10}

	report, err := extender.CommitTransactions(context.Background(), extension, target)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TransactionCount)
	assert.Equal(t, int64(1), report.FinalSummary.StateVersion)
	assert.Equal(t, 1, report.RawPayloadsTouched)
	assert.True(t, tx.Committed)
	assert.False(t, tx.RolledBack)

	// four referenced entities: system, component, vault, resource manager
	require.Len(t, tx.Entities, 4)

	byAddress := map[string]EntityRow{}
	for _, row := range tx.Entities {
		byAddress[AddressFromBytes(row.Address)] = row
	}

	component := byAddress[addrComponent]
	vault := byAddress[addrVault]
	resource := byAddress[addrResource]

	assert.True(t, component.IsGlobal())
	assert.True(t, resource.IsGlobal())
	assert.Equal(t, EntityTypeComponent, component.Type)
	assert.Equal(t, "account", component.Kind)
	assert.Equal(t, EntityTypeResourceManager, resource.Type)
	assert.Equal(t, "fungible", resource.Kind)

	// the vault's ancestry points at its owning component
	require.NotNil(t, vault.ParentID)
	assert.Equal(t, component.ID, *vault.ParentID)
	require.NotNil(t, vault.OwnerAncestorID)
	assert.Equal(t, component.ID, *vault.OwnerAncestorID)
	require.NotNil(t, vault.GlobalAncestorID)
	assert.Equal(t, component.ID, *vault.GlobalAncestorID)
	assert.Equal(t, []int64{component.ID}, vault.AncestorIDs)

	// one ledger transaction attributing the change to the global entities
	require.Len(t, tx.Transactions, 1)
	assert.Equal(t, int64(1), tx.Transactions[0].StateVersion)
	assert.Equal(t, []int64{component.ID, resource.ID}, tx.Transactions[0].AffectedEntityIDs)
	assert.True(t, tx.Transactions[0].IsStartOfEpoch)
	assert.False(t, tx.Transactions[0].IsOnlyRoundChange)

	// one fungible balance row rooted at the owning component
	require.Len(t, tx.ResourceHistory, 1)
	balanceRow := tx.ResourceHistory[0]
	assert.Equal(t, component.ID, balanceRow.OwnerEntityID)
	assert.Equal(t, component.ID, balanceRow.GlobalEntityID)
	assert.Equal(t, resource.ID, balanceRow.ResourceEntityID)
	require.NotNil(t, balanceRow.Balance)
	assert.Equal(t, "100", balanceRow.Balance.String())

	// resource manager substate produced metadata and supply rows
	require.Len(t, tx.MetadataHistory, 1)
	assert.Equal(t, resource.ID, tx.MetadataHistory[0].EntityID)
	assert.Equal(t, []string{"name", "symbol"}, tx.MetadataHistory[0].Keys)
	assert.Equal(t, []string{"Gold", "GLD"}, tx.MetadataHistory[0].Values)

	require.Len(t, tx.SupplyHistory, 1)
	assert.Equal(t, resource.ID, tx.SupplyHistory[0].ResourceEntityID)
	assert.Equal(t, "100", tx.SupplyHistory[0].TotalSupply.String())

	// one current aggregate snapshot for the component, nothing superseded
	require.Len(t, tx.Aggregates, 1)
	assert.Equal(t, component.ID, tx.Aggregates[0].EntityID)
	assert.True(t, tx.Aggregates[0].IsMostRecent)
	assert.Equal(t, []int64{resource.ID}, tx.Aggregates[0].FungibleResourceIDs)
	assert.Empty(t, tx.SupersededIDs)

	// ledger status and sequences advanced inside the same transaction
	require.NotNil(t, tx.StatusTip)
	assert.Equal(t, int64(1), tx.StatusTip.StateVersion)
	assert.Equal(t, int64(10), tx.StatusTarget)
	require.NotNil(t, tx.Advanced)
	assert.Equal(t, int64(5), tx.Advanced.Entities.Current())
}

func TestCommitTransactionsSupersedesPreviousAggregate(t *testing.T) {
	componentID := int64(50)
	vaultID := int64(51)

	tx := NewFakeExtensionTx()
	tx.ExistingEntities[addrComponent] = EntityRow{
		ID:            componentID,
		Address:       mustAddressBytes(t, addrComponent),
		GlobalAddress: mustAddressBytes(t, addrComponent),
		Type:          EntityTypeComponent,
		Kind:          "account",
	}
	tx.ExistingEntities[addrVault] = EntityRow{
		ID:               vaultID,
		Address:          mustAddressBytes(t, addrVault),
		ParentID:         &componentID,
		OwnerAncestorID:  &componentID,
		GlobalAncestorID: &componentID,
		AncestorIDs:      []int64{componentID},
		Type:             EntityTypeVault,
	}
	tx.ExistingAggregates[componentID] = AggregateSnapshotRow{
		ID:                  77,
		FromStateVersion:    1,
		EntityID:            componentID,
		IsMostRecent:        true,
		FungibleResourceIDs: []int64{40},
	}

	store := &FakeLedgerStore{
		Top: &TransactionSummary{StateVersion: 1, TransactionAccumulator: make([]byte, 32)},
		Tx:  tx,
	}

	payloads := new(MockPayloadStore)
	payloads.On("UpsertRawPayloads", mock.Anything).Return(0, nil)
	payloads.On("MarkPendingCommitted", mock.Anything).Return(0, nil)

	extender := NewLedgerExtender(store, payloads, hclog.NewNullLogger())

	amount := TokenAmountFromSubunits(7)
	td := dummyTransactionData(2)
	td.Transaction.StateUpdates = StateUpdates{
		UpSubstates: []UpSubstate{
			{
				SubstateID: SubstateID{
					EntityAddress: addrVault,
					EntityType:    EntityTypeVault,
					Type:          SubstateTypeVault,
				},
				Data: VaultData{ResourceAddress: addrResource, FungibleAmount: &amount},
			},
		},
	}

	report, err := extender.CommitTransactions(context.Background(), ConsistentLedgerExtension{
		ParentSummary: *store.Top,
		Transactions:  []TransactionData{td},
	}, SyncTargetCarrier{TargetStateVersion: 2})
	require.NoError(t, err)

	// only the previously unknown resource manager is a new row, allocated from
	// the reserved block
	require.Len(t, tx.Entities, 1)
	assert.Equal(t, EntityTypeResourceManager, tx.Entities[0].Type)
	assert.Equal(t, int64(1), tx.Entities[0].ID)

	// old snapshot flipped, new one unions previous ids with the new resource
	require.Len(t, tx.Aggregates, 1)
	assert.True(t, tx.Aggregates[0].IsMostRecent)
	assert.Equal(t, []int64{40, tx.Entities[0].ID}, tx.Aggregates[0].FungibleResourceIDs)
	assert.Equal(t, []int64{77}, tx.SupersededIDs)

	// one superseded flip plus the status upsert
	assert.Equal(t, int64(2), report.RowsUpdated)
}

///////////////////////////////////////////////////

const (
	addrSystem    = "00"
	addrComponent = "0a"
	addrVault     = "0b"
	addrResource  = "0c"
)

func mustAddressBytes(t *testing.T, address string) []byte {
	t.Helper()

	raw, err := AddressToBytes(address)
	require.NoError(t, err)

	return raw
}

func dummyTransactionData(stateVersion int64) TransactionData {
	return TransactionData{
		Transaction: CommittedTransaction{
			StateVersion:      stateVersion,
			Status:            TransactionStatusSucceeded,
			PayloadHash:       []byte{0xde, 0xad},
			IsUserTransaction: true,
		},
		Summary: TransactionSummary{StateVersion: stateVersion},
	}
}

func genesisExtension(t *testing.T) ConsistentLedgerExtension {
	t.Helper()

	parent := PreGenesisSummary(time.Now().UTC())
	epoch := int64(1)
	round := int64(1)
	balance := TokenAmountFromSubunits(100)
	supply := TokenAmountFromSubunits(100)

	tx := CommittedTransaction{
		StateVersion:      1,
		Status:            TransactionStatusSucceeded,
		PayloadHash:       []byte{0x01},
		Accumulator:       []byte{0x02},
		IsUserTransaction: true,
		RawPayload:        []byte{0xaa, 0xbb},
		StateUpdates: StateUpdates{
			UpSubstates: []UpSubstate{
				{
					SubstateID: SubstateID{
						EntityAddress: addrSystem,
						EntityType:    EntityTypeSystem,
						Type:          SubstateTypeSystem,
					},
					Data: SystemData{NewEpoch: &epoch, NewRound: &round, RoundTimestampMs: 1700000000000},
				},
				{
					SubstateID: SubstateID{
						EntityAddress: addrComponent,
						EntityType:    EntityTypeComponent,
						Type:          SubstateTypeComponentInfo,
					},
					OwnedEntities: []OwnedEntity{{Address: addrVault, Type: EntityTypeVault}},
					Data:          ComponentInfoData{Kind: "account"},
				},
				{
					SubstateID: SubstateID{
						EntityAddress: addrVault,
						EntityType:    EntityTypeVault,
						Type:          SubstateTypeVault,
					},
					Data: VaultData{ResourceAddress: addrResource, FungibleAmount: &balance},
				},
				{
					SubstateID: SubstateID{
						EntityAddress: addrResource,
						EntityType:    EntityTypeResourceManager,
						Type:          SubstateTypeResourceManager,
					},
					Data: ResourceManagerData{
						ResourceType: ResourceTypeFungible,
						TotalSupply:  supply,
						TotalMinted:  supply,
						Metadata:     map[string]string{"symbol": "GLD", "name": "Gold"},
					},
				},
			},
			NewGlobalEntities: []GlobalEntity{
				{
					EntityAddress:      addrComponent,
					GlobalAddress:      addrComponent,
					GlobalAddressBytes: mustAddressBytes(t, addrComponent),
				},
				{
					EntityAddress:      addrResource,
					GlobalAddress:      addrResource,
					GlobalAddressBytes: mustAddressBytes(t, addrResource),
				},
			},
		},
	}

	summary := GenerateSummary(parent, &tx, time.Now().UTC())

	return ConsistentLedgerExtension{
		ParentSummary: parent,
		Transactions:  []TransactionData{{Transaction: tx, Summary: summary}},
	}
}
