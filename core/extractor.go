package core

import (
	"errors"
	"fmt"
)

// FungibleResourceChange is one observed vault balance at one state version.
type FungibleResourceChange struct {
	VaultEntity    *ResolvedEntity
	ResourceEntity *ResolvedEntity
	Balance        TokenAmount
	StateVersion   int64
}

// NonFungibleResourceChange is one observed vault id set at one state version.
type NonFungibleResourceChange struct {
	VaultEntity    *ResolvedEntity
	ResourceEntity *ResolvedEntity
	IDs            []string
	StateVersion   int64
}

// MetadataChange replaces an entity's whole key/value metadata map.
type MetadataChange struct {
	Entity       *ResolvedEntity
	Metadata     map[string]string
	StateVersion int64
}

// SupplyChange tracks a fungible resource's total supply.
type SupplyChange struct {
	ResourceEntity *ResolvedEntity
	TotalSupply    TokenAmount
	TotalMinted    TokenAmount
	TotalBurnt     TokenAmount
	StateVersion   int64
}

// ChangeSet is everything the substate change extractor produced for one batch:
// one record per observed substate per transaction, no aggregation.
type ChangeSet struct {
	Fungibles    []FungibleResourceChange
	NonFungibles []NonFungibleResourceChange
	Metadata     []MetadataChange
	Supplies     []SupplyChange
}

// ExtractChanges walks the batch's up substates a second time, after entity
// resolution, and emits typed change records keyed by the resolved entities.
func ExtractChanges(batch []TransactionData, resolution *EntityResolution) (*ChangeSet, error) {
	cs := &ChangeSet{}

	for i := range batch {
		stateVersion := batch[i].Transaction.StateVersion

		for j := range batch[i].Transaction.StateUpdates.UpSubstates {
			us := &batch[i].Transaction.StateUpdates.UpSubstates[j]

			entity, exists := resolution.Get(us.EntityAddress)
			if !exists {
				return nil, errors.Join(ErrFatal, fmt.Errorf("substate entity %s escaped resolution", us.EntityAddress))
			}

			switch data := us.Data.(type) {
			case VaultData:
				if err := cs.appendVaultChange(entity, data, stateVersion, resolution); err != nil {
					return nil, err
				}
			case ResourceManagerData:
				cs.Metadata = append(cs.Metadata, MetadataChange{
					Entity:       entity,
					Metadata:     data.Metadata,
					StateVersion: stateVersion,
				})
				cs.Supplies = append(cs.Supplies, SupplyChange{
					ResourceEntity: entity,
					TotalSupply:    data.TotalSupply,
					TotalMinted:    data.TotalMinted,
					TotalBurnt:     data.TotalBurnt,
					StateVersion:   stateVersion,
				})
			}
		}
	}

	return cs, nil
}

func (cs *ChangeSet) appendVaultChange(vault *ResolvedEntity, data VaultData, stateVersion int64, resolution *EntityResolution) error {
	resource, exists := resolution.Get(data.ResourceAddress)
	if !exists {
		return errors.Join(ErrFatal, fmt.Errorf("vault resource %s escaped resolution", data.ResourceAddress))
	}

	if data.FungibleAmount != nil {
		cs.Fungibles = append(cs.Fungibles, FungibleResourceChange{
			VaultEntity:    vault,
			ResourceEntity: resource,
			Balance:        *data.FungibleAmount,
			StateVersion:   stateVersion,
		})

		return nil
	}

	cs.NonFungibles = append(cs.NonFungibles, NonFungibleResourceChange{
		VaultEntity:    vault,
		ResourceEntity: resource,
		IDs:            data.NonFungibleIDs,
		StateVersion:   stateVersion,
	})

	return nil
}
