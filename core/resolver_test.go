package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSequences() *SequenceBlock {
	return &SequenceBlock{
		Entities:         NewSequence(1),
		ResourceHistory:  NewSequence(100),
		MetadataHistory:  NewSequence(200),
		AggregateHistory: NewSequence(300),
		SupplyHistory:    NewSequence(400),
	}
}

func upSubstateOwning(owner string, ownerType EntityType, child string, childType EntityType) UpSubstate {
	return UpSubstate{
		SubstateID: SubstateID{
			EntityAddress: owner,
			EntityType:    ownerType,
			Type:          SubstateTypeComponentState,
		},
		OwnedEntities: []OwnedEntity{{Address: child, Type: childType}},
		Data:          ComponentStateData{},
	}
}

func TestResolveNewEntityChainAncestry(t *testing.T) {
	// global component "aa" owns component "bb", which owns vault "cc"
	batch := []TransactionData{{
		Transaction: CommittedTransaction{
			StateVersion: 1,
			StateUpdates: StateUpdates{
				UpSubstates: []UpSubstate{
					upSubstateOwning("aa", EntityTypeComponent, "bb", EntityTypeComponent),
					upSubstateOwning("bb", EntityTypeComponent, "cc", EntityTypeVault),
				},
				NewGlobalEntities: []GlobalEntity{{
					EntityAddress:      "aa",
					GlobalAddress:      "aa",
					GlobalAddressBytes: []byte{0xaa},
				}},
			},
		},
	}}

	resolver := NewEntityResolver()
	require.NoError(t, resolver.Scan(batch))

	resolution, newRows, err := resolver.Resolve(context.Background(), NewFakeExtensionTx(), testSequences())
	require.NoError(t, err)
	require.Len(t, newRows, 3)

	root, exists := resolution.Get("aa")
	require.True(t, exists)
	assert.True(t, root.IsGlobal)
	assert.Nil(t, root.ParentID)
	assert.Empty(t, root.AncestorIDs)

	middle, exists := resolution.Get("bb")
	require.True(t, exists)
	require.NotNil(t, middle.ParentID)
	assert.Equal(t, root.ID, *middle.ParentID)
	assert.Equal(t, []int64{root.ID}, middle.AncestorIDs)

	vault, exists := resolution.Get("cc")
	require.True(t, exists)
	require.NotNil(t, vault.ParentID)
	assert.Equal(t, middle.ID, *vault.ParentID)

	// nearest owner-capable ancestor is the middle component, nearest global
	// ancestor is the root
	require.NotNil(t, vault.OwnerAncestorID)
	assert.Equal(t, middle.ID, *vault.OwnerAncestorID)
	require.NotNil(t, vault.GlobalAncestorID)
	assert.Equal(t, root.ID, *vault.GlobalAncestorID)
	assert.Equal(t, []int64{root.ID, middle.ID}, vault.AncestorIDs)
}

func TestResolveKnownEntitiesAllocateNothing(t *testing.T) {
	componentID := int64(10)

	tx := NewFakeExtensionTx()
	tx.ExistingEntities["aa"] = EntityRow{
		ID:            componentID,
		Address:       []byte{0xaa},
		GlobalAddress: []byte{0xaa},
		Type:          EntityTypeComponent,
	}
	tx.ExistingEntities["bb"] = EntityRow{
		ID:               11,
		Address:          []byte{0xbb},
		ParentID:         &componentID,
		OwnerAncestorID:  &componentID,
		GlobalAncestorID: &componentID,
		AncestorIDs:      []int64{componentID},
		Type:             EntityTypeVault,
	}

	batch := []TransactionData{{
		Transaction: CommittedTransaction{
			StateVersion: 5,
			StateUpdates: StateUpdates{
				UpSubstates: []UpSubstate{
					upSubstateOwning("aa", EntityTypeComponent, "bb", EntityTypeVault),
				},
			},
		},
	}}

	resolver := NewEntityResolver()
	require.NoError(t, resolver.Scan(batch))

	seq := testSequences()

	resolution, newRows, err := resolver.Resolve(context.Background(), tx, seq)
	require.NoError(t, err)

	// resolving already persisted entities is free: no rows, no consumed ids,
	// persisted ancestry untouched
	assert.Empty(t, newRows)
	assert.Equal(t, int64(1), seq.Entities.Current())

	vault, exists := resolution.Get("bb")
	require.True(t, exists)
	assert.Equal(t, int64(11), vault.ID)
	require.NotNil(t, vault.OwnerAncestorID)
	assert.Equal(t, componentID, *vault.OwnerAncestorID)
	assert.Equal(t, []int64{componentID}, vault.AncestorIDs)
}

func TestResolveNewChildOfPersistedParentFallsBackOnDenormalizedAncestry(t *testing.T) {
	ownerID := int64(7)
	globalID := int64(8)

	// the persisted parent is a package: neither owner-capable nor global, so
	// the child's ancestry must come from the parent's denormalized pointers
	tx := NewFakeExtensionTx()
	tx.ExistingEntities["aa"] = EntityRow{
		ID:               20,
		Address:          []byte{0xaa},
		ParentID:         &globalID,
		OwnerAncestorID:  &ownerID,
		GlobalAncestorID: &globalID,
		AncestorIDs:      []int64{globalID, ownerID},
		Type:             EntityTypePackage,
	}

	batch := []TransactionData{{
		Transaction: CommittedTransaction{
			StateVersion: 9,
			StateUpdates: StateUpdates{
				UpSubstates: []UpSubstate{
					upSubstateOwning("aa", EntityTypePackage, "bb", EntityTypeVault),
				},
			},
		},
	}}

	resolver := NewEntityResolver()
	require.NoError(t, resolver.Scan(batch))

	resolution, newRows, err := resolver.Resolve(context.Background(), tx, testSequences())
	require.NoError(t, err)
	require.Len(t, newRows, 1)

	vault, exists := resolution.Get("bb")
	require.True(t, exists)
	require.NotNil(t, vault.OwnerAncestorID)
	assert.Equal(t, ownerID, *vault.OwnerAncestorID)
	require.NotNil(t, vault.GlobalAncestorID)
	assert.Equal(t, globalID, *vault.GlobalAncestorID)
	assert.Equal(t, []int64{globalID, ownerID, 20}, vault.AncestorIDs)
}

func TestResolveUndeterminableAncestryIsFatal(t *testing.T) {
	// a vault owned by a package with no persisted ancestry: no owner-capable
	// ancestor exists anywhere on the chain
	batch := []TransactionData{{
		Transaction: CommittedTransaction{
			StateVersion: 1,
			StateUpdates: StateUpdates{
				UpSubstates: []UpSubstate{
					upSubstateOwning("aa", EntityTypePackage, "bb", EntityTypeVault),
				},
			},
		},
	}}

	resolver := NewEntityResolver()
	require.NoError(t, resolver.Scan(batch))

	_, _, err := resolver.Resolve(context.Background(), NewFakeExtensionTx(), testSequences())

	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, ErrCorruptBatch)
}

func TestScanRejectsGlobalizingUnreferencedEntity(t *testing.T) {
	batch := []TransactionData{{
		Transaction: CommittedTransaction{
			StateVersion: 1,
			StateUpdates: StateUpdates{
				NewGlobalEntities: []GlobalEntity{{
					EntityAddress: "aa",
					GlobalAddress: "aa",
				}},
			},
		},
	}}

	err := NewEntityResolver().Scan(batch)

	assert.ErrorIs(t, err, ErrCorruptBatch)
}

func TestScanRejectsConflictingResourceHints(t *testing.T) {
	fungible := TokenAmountFromSubunits(1)

	batch := []TransactionData{{
		Transaction: CommittedTransaction{
			StateVersion: 1,
			StateUpdates: StateUpdates{
				UpSubstates: []UpSubstate{
					{
						SubstateID: SubstateID{EntityAddress: "0b", EntityType: EntityTypeVault, Type: SubstateTypeVault},
						Data:       VaultData{ResourceAddress: "0c", FungibleAmount: &fungible},
					},
					{
						SubstateID: SubstateID{EntityAddress: "0d", EntityType: EntityTypeVault, Type: SubstateTypeVault},
						Data:       VaultData{ResourceAddress: "0c", NonFungibleIDs: []string{"#1#"}},
					},
				},
			},
		},
	}}

	err := NewEntityResolver().Scan(batch)

	assert.ErrorIs(t, err, ErrCorruptBatch)
}

func TestAffectedGlobalEntityIDsSortedDistinct(t *testing.T) {
	batch := []TransactionData{{
		Transaction: CommittedTransaction{
			StateVersion: 1,
			StateUpdates: StateUpdates{
				UpSubstates: []UpSubstate{
					upSubstateOwning("aa", EntityTypeComponent, "bb", EntityTypeVault),
					upSubstateOwning("aa", EntityTypeComponent, "cc", EntityTypeVault),
				},
				NewGlobalEntities: []GlobalEntity{{
					EntityAddress:      "aa",
					GlobalAddress:      "aa",
					GlobalAddressBytes: []byte{0xaa},
				}},
			},
		},
	}}

	resolver := NewEntityResolver()
	require.NoError(t, resolver.Scan(batch))

	resolution, _, err := resolver.Resolve(context.Background(), NewFakeExtensionTx(), testSequences())
	require.NoError(t, err)

	root, _ := resolution.Get("aa")

	// both vaults resolve to the same global ancestor, reported once
	assert.Equal(t, []int64{root.ID}, resolution.AffectedGlobalEntityIDs(1))
	assert.Empty(t, resolution.AffectedGlobalEntityIDs(2))
}
