package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// aggregateChange is the resource-id delta observed for one entity at one
// state version, later folded with its predecessor into a snapshot row.
type aggregateChange struct {
	stateVersion   int64
	fungibleIDs    []int64
	nonFungibleIDs []int64

	// snapshots loaded from the database only seed the fold, they are never
	// written back
	persistable bool
}

func newAggregateChange(stateVersion int64) *aggregateChange {
	return &aggregateChange{stateVersion: stateVersion, persistable: true}
}

func seedAggregateChange(row AggregateSnapshotRow) *aggregateChange {
	return &aggregateChange{
		stateVersion:   row.FromStateVersion,
		fungibleIDs:    slices.Clone(row.FungibleResourceIDs),
		nonFungibleIDs: slices.Clone(row.NonFungibleResourceIDs),
	}
}

func (ac *aggregateChange) appendFungible(id int64) {
	if !slices.Contains(ac.fungibleIDs, id) {
		ac.fungibleIDs = append(ac.fungibleIDs, id)
	}
}

func (ac *aggregateChange) appendNonFungible(id int64) {
	if !slices.Contains(ac.nonFungibleIDs, id) {
		ac.nonFungibleIDs = append(ac.nonFungibleIDs, id)
	}
}

// merge folds the previous state into this one: append-only union, an id once
// present is never implicitly removed. Non-fungible id removal is a known,
// deliberate gap pending a real design for deletions.
func (ac *aggregateChange) merge(previous *aggregateChange) {
	if previous == nil {
		return
	}

	fungibleIDs := slices.Clone(previous.fungibleIDs)
	nonFungibleIDs := slices.Clone(previous.nonFungibleIDs)

	for _, id := range ac.fungibleIDs {
		if !slices.Contains(fungibleIDs, id) {
			fungibleIDs = append(fungibleIDs, id)
		}
	}

	for _, id := range ac.nonFungibleIDs {
		if !slices.Contains(nonFungibleIDs, id) {
			nonFungibleIDs = append(nonFungibleIDs, id)
		}
	}

	ac.fungibleIDs = fungibleIDs
	ac.nonFungibleIDs = nonFungibleIDs
}

// shouldPersist suppresses snapshots whose content does not differ from the
// predecessor's.
func (ac *aggregateChange) shouldPersist(previous *aggregateChange) bool {
	if !ac.persistable {
		return false
	}

	if previous == nil {
		return true
	}

	return !slices.Equal(ac.fungibleIDs, previous.fungibleIDs) ||
		!slices.Equal(ac.nonFungibleIDs, previous.nonFungibleIDs)
}

// AggregateResult is what the delta engine hands to the orchestrator: snapshot
// rows to bulk-insert and the previously-current snapshot ids to flip stale.
type AggregateResult struct {
	Snapshots     []AggregateSnapshotRow
	SupersededIDs []int64
}

// ComputeAggregates folds the batch's flat change records into superseding
// "current snapshot" rows, per entity that appears as an owner or global
// ancestor target of any change.
func ComputeAggregates(ctx context.Context, tx ExtensionTx, seq *SequenceBlock, changes *ChangeSet) (*AggregateResult, error) {
	// entity id -> state version -> delta
	delta := map[int64]map[int64]*aggregateChange{}

	deltaFor := func(entityID, stateVersion int64) *aggregateChange {
		byVersion, exists := delta[entityID]
		if !exists {
			byVersion = map[int64]*aggregateChange{}
			delta[entityID] = byVersion
		}

		ac, exists := byVersion[stateVersion]
		if !exists {
			ac = newAggregateChange(stateVersion)
			byVersion[stateVersion] = ac
		}

		return ac
	}

	for i := range changes.Fungibles {
		c := &changes.Fungibles[i]

		targets, err := aggregateTargets(c.VaultEntity)
		if err != nil {
			return nil, err
		}

		for _, entityID := range targets {
			deltaFor(entityID, c.StateVersion).appendFungible(c.ResourceEntity.ID)
		}
	}

	for i := range changes.NonFungibles {
		c := &changes.NonFungibles[i]

		targets, err := aggregateTargets(c.VaultEntity)
		if err != nil {
			return nil, err
		}

		for _, entityID := range targets {
			deltaFor(entityID, c.StateVersion).appendNonFungible(c.ResourceEntity.ID)
		}
	}

	entityIDs := make([]int64, 0, len(delta))
	for entityID := range delta {
		entityIDs = append(entityIDs, entityID)
	}

	sort.Slice(entityIDs, func(i, j int) bool { return entityIDs[i] < entityIDs[j] })

	existing, err := tx.GetMostRecentAggregates(ctx, entityIDs)
	if err != nil {
		return nil, err
	}

	result := &AggregateResult{}

	for _, entityID := range entityIDs {
		byVersion := delta[entityID]

		existingRow, hasExisting := existing[entityID]
		if hasExisting {
			byVersion[existingRow.FromStateVersion] = seedAggregateChange(existingRow)
		}

		versions := make([]int64, 0, len(byVersion))
		for v := range byVersion {
			versions = append(versions, v)
		}

		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

		lastEmitted := -1

		for i, version := range versions {
			current := byVersion[version]

			var previous *aggregateChange
			if i > 0 {
				previous = byVersion[versions[i-1]]
			}

			current.merge(previous)

			if !current.shouldPersist(previous) {
				continue
			}

			result.Snapshots = append(result.Snapshots, AggregateSnapshotRow{
				ID:                     seq.AggregateHistory.Next(),
				FromStateVersion:       version,
				EntityID:               entityID,
				FungibleResourceIDs:    slices.Clone(current.fungibleIDs),
				NonFungibleResourceIDs: slices.Clone(current.nonFungibleIDs),
			})
			lastEmitted = len(result.Snapshots) - 1
		}

		if lastEmitted >= 0 {
			result.Snapshots[lastEmitted].IsMostRecent = true

			if hasExisting {
				result.SupersededIDs = append(result.SupersededIDs, existingRow.ID)
			}
		}
	}

	return result, nil
}

// aggregateTargets returns the entities whose aggregates a vault change feeds:
// the vault's owner ancestor and its global ancestor.
func aggregateTargets(vault *ResolvedEntity) ([]int64, error) {
	if vault.OwnerAncestorID == nil || vault.GlobalAncestorID == nil {
		return nil, errors.Join(ErrFatal, fmt.Errorf("vault entity %d has unresolved ancestry", vault.ID))
	}

	if *vault.OwnerAncestorID == *vault.GlobalAncestorID {
		return []int64{*vault.OwnerAncestorID}, nil
	}

	return []int64{*vault.OwnerAncestorID, *vault.GlobalAncestorID}, nil
}
