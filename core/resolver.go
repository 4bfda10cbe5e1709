package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ResolvedEntity is the read-only handle the rest of the pipeline gets for one
// referenced entity after resolution.
type ResolvedEntity struct {
	ID            int64
	Type          EntityType
	Kind          string
	GlobalAddress []byte
	ParentAddress string

	ParentID         *int64
	OwnerAncestorID  *int64
	GlobalAncestorID *int64
	AncestorIDs      []int64

	IsGlobal bool
}

// AffectedGlobalID returns the id of the nearest globally-addressed entity the
// change should be attributed to: the entity itself when global, otherwise its
// global ancestor.
func (re *ResolvedEntity) AffectedGlobalID() (int64, bool) {
	if re.IsGlobal {
		return re.ID, true
	}

	if re.GlobalAncestorID != nil {
		return *re.GlobalAncestorID, true
	}

	return 0, false
}

// EntityResolution is the resolver output: raw address to resolved entity,
// plus the per-state-version reference index used to derive affected entities.
type EntityResolution struct {
	byAddress map[string]*ResolvedEntity
	byVersion map[int64][]*ResolvedEntity
}

func (r *EntityResolution) Get(address string) (*ResolvedEntity, bool) {
	re, exists := r.byAddress[address]

	return re, exists
}

// AffectedGlobalEntityIDs returns the distinct, sorted global entity ids
// referenced at one state version.
func (r *EntityResolution) AffectedGlobalEntityIDs(stateVersion int64) []int64 {
	seen := map[int64]bool{}

	var ids []int64

	for _, re := range r.byVersion[stateVersion] {
		if id, ok := re.AffectedGlobalID(); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// EntityResolver discovers every entity referenced by a batch of state updates,
// resolves each against already-persisted entities or allocates a new row, and
// reconstructs ancestor/owner/global relationships.
type EntityResolver struct {
	arena *entityArena
}

func NewEntityResolver() *EntityResolver {
	return &EntityResolver{arena: newEntityArena()}
}

// Scan is the registration pass: it walks every substate in the batch and
// records entity references, child-to-parent edges, type hints and
// globalizations. Idempotent per address; safe to call once per batch only.
func (er *EntityResolver) Scan(batch []TransactionData) error {
	for i := range batch {
		stateVersion := batch[i].Transaction.StateVersion
		updates := &batch[i].Transaction.StateUpdates

		for j := range updates.UpSubstates {
			if err := er.scanUpSubstate(&updates.UpSubstates[j], stateVersion); err != nil {
				return err
			}
		}

		for _, ds := range updates.DownSubstates {
			// a down substate still creates the entity record so that later
			// re-creation at the same address finds consistent history
			h := er.arena.getOrAdd(ds.EntityAddress, ds.EntityType, stateVersion)
			er.arena.touchVersion(h, stateVersion)
		}

		for _, dvs := range updates.DownVirtualSubstates {
			h := er.arena.getOrAdd(dvs.EntityAddress, dvs.EntityType, stateVersion)
			er.arena.touchVersion(h, stateVersion)
		}

		for _, ge := range updates.NewGlobalEntities {
			h, exists := er.arena.get(ge.EntityAddress)
			if !exists {
				return errors.Join(ErrCorruptBatch, fmt.Errorf("globalized entity %s never referenced by any substate", ge.EntityAddress))
			}

			if err := er.arena.globalize(h, ge.GlobalAddress, ge.GlobalAddressBytes); err != nil {
				return err
			}
		}
	}

	return nil
}

func (er *EntityResolver) scanUpSubstate(us *UpSubstate, stateVersion int64) error {
	h := er.arena.getOrAdd(us.EntityAddress, us.EntityType, stateVersion)
	er.arena.touchVersion(h, stateVersion)

	for _, oe := range us.OwnedEntities {
		ch := er.arena.getOrAdd(oe.Address, oe.Type, stateVersion)
		er.arena.touchVersion(ch, stateVersion)
		er.arena.setParent(ch, h)
	}

	switch data := us.Data.(type) {
	case VaultData:
		rh := er.arena.getOrAdd(data.ResourceAddress, EntityTypeResourceManager, stateVersion)
		er.arena.touchVersion(rh, stateVersion)

		hint := ResourceTypeFungible
		if data.FungibleAmount == nil {
			hint = ResourceTypeNonFungible
		}

		if err := er.arena.setResourceHint(rh, hint); err != nil {
			return err
		}
	case ResourceManagerData:
		if err := er.arena.setResourceHint(h, data.ResourceType); err != nil {
			return err
		}
	case ComponentInfoData:
		if data.Kind != "" {
			if err := er.arena.setKindHint(h, data.Kind); err != nil {
				return err
			}
		}
	}

	return nil
}

// Resolve matches every registered entity against the database, allocates rows
// with reserved ids for the unknown ones and computes their ancestry. It
// returns the resolution lookup plus the new rows pending bulk insertion.
func (er *EntityResolver) Resolve(ctx context.Context, tx ExtensionTx, seq *SequenceBlock) (*EntityResolution, []EntityRow, error) {
	addresses := make([][]byte, 0, len(er.arena.records))

	for i := range er.arena.records {
		raw, err := AddressToBytes(er.arena.records[i].address)
		if err != nil {
			return nil, nil, errors.Join(ErrCorruptBatch, err)
		}

		addresses = append(addresses, raw)
	}

	known, err := tx.GetExistingEntities(ctx, addresses)
	if err != nil {
		return nil, nil, err
	}

	// capacity fixed up front so row pointers handed to the arena stay valid
	newRows := make([]EntityRow, 0, len(er.arena.records))

	// first everyone gets a row: the known ones as-is, the rest freshly
	// allocated so that ancestry resolution can hand out ids for mixed chains
	for i := range er.arena.records {
		rec := &er.arena.records[i]

		if row, exists := known[rec.address]; exists {
			persisted := row
			er.arena.resolve(EntityHandle(i), &persisted, false)

			continue
		}

		raw, _ := AddressToBytes(rec.address)
		newRows = append(newRows, EntityRow{
			ID:               seq.Entities.Next(),
			FromStateVersion: rec.firstSeenVersion,
			Address:          raw,
			GlobalAddress:    rec.globalAddressBytes,
			Type:             rec.entityType,
			Kind:             er.concreteKind(rec),
		})
		er.arena.resolve(EntityHandle(i), &newRows[len(newRows)-1], true)
	}

	// ancestry is computed once, at creation, and never recomputed afterward
	for i := range er.arena.records {
		rec := &er.arena.records[i]
		if !rec.pendingInsert || rec.parent == noHandle {
			continue
		}

		if err := er.resolveAncestry(EntityHandle(i)); err != nil {
			return nil, nil, err
		}
	}

	return er.buildResolution(), newRows, nil
}

// concreteKind picks the concrete implementation discriminator from type hints
// gathered while scanning.
func (er *EntityResolver) concreteKind(rec *entityRecord) string {
	switch rec.entityType {
	case EntityTypeResourceManager:
		hint := ResourceTypeFungible
		if rec.resourceHintSet {
			hint = rec.resourceHint
		}

		return hint.StorageDiscriminator()
	case EntityTypeComponent:
		if rec.kindHint != "" {
			return rec.kindHint
		}

		return "unknown"
	default:
		return ""
	}
}

// resolveAncestry walks the recorded parent chain, which may mix newly created
// and database-resident parents, accumulating the ordered root-to-parent id
// list plus the nearest owner-capable and nearest global ancestors.
func (er *EntityResolver) resolveAncestry(h EntityHandle) error {
	rec := er.arena.record(h)

	var (
		chain            []EntityHandle // nearest parent first
		ownerAncestorID  *int64
		globalAncestorID *int64
	)

	for p := rec.parent; p != noHandle; p = er.arena.record(p).parent {
		chain = append(chain, p)

		prec := er.arena.record(p)
		if ownerAncestorID == nil && prec.entityType.CanBeOwner() {
			id := prec.row.ID
			ownerAncestorID = &id
		}

		if globalAncestorID == nil && prec.isGlobal() {
			id := prec.row.ID
			globalAncestorID = &id
		}

		if !prec.pendingInsert {
			// database-resident ancestor: its own ancestry is denormalized, so
			// the walk stops here and falls back on the persisted pointers
			if ownerAncestorID == nil {
				ownerAncestorID = prec.row.OwnerAncestorID
			}

			if globalAncestorID == nil {
				globalAncestorID = prec.row.GlobalAncestorID
			}

			break
		}
	}

	if ownerAncestorID == nil {
		return errors.Join(ErrFatal, ErrCorruptBatch, fmt.Errorf("no owner ancestor for entity %s", rec.address))
	}

	if globalAncestorID == nil {
		return errors.Join(ErrFatal, ErrCorruptBatch, fmt.Errorf("no global ancestor for entity %s", rec.address))
	}

	// chain is nearest-first; ancestors are stored root-first
	top := er.arena.record(chain[len(chain)-1])

	var ancestorIDs []int64
	if !top.pendingInsert {
		ancestorIDs = append(ancestorIDs, top.row.AncestorIDs...)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		ancestorIDs = append(ancestorIDs, er.arena.record(chain[i]).row.ID)
	}

	parentID := er.arena.record(rec.parent).row.ID

	rec.row.ParentID = &parentID
	rec.row.OwnerAncestorID = ownerAncestorID
	rec.row.GlobalAncestorID = globalAncestorID
	rec.row.AncestorIDs = ancestorIDs

	return nil
}

func (er *EntityResolver) buildResolution() *EntityResolution {
	res := &EntityResolution{
		byAddress: make(map[string]*ResolvedEntity, len(er.arena.records)),
		byVersion: make(map[int64][]*ResolvedEntity, len(er.arena.byVersion)),
	}

	for i := range er.arena.records {
		rec := &er.arena.records[i]

		parentAddress := ""
		if rec.parent != noHandle {
			parentAddress = er.arena.record(rec.parent).address
		}

		res.byAddress[rec.address] = &ResolvedEntity{
			ID:               rec.row.ID,
			Type:             rec.entityType,
			Kind:             rec.row.Kind,
			GlobalAddress:    rec.row.GlobalAddress,
			ParentAddress:    parentAddress,
			ParentID:         rec.row.ParentID,
			OwnerAncestorID:  rec.row.OwnerAncestorID,
			GlobalAncestorID: rec.row.GlobalAncestorID,
			AncestorIDs:      rec.row.AncestorIDs,
			IsGlobal:         rec.isGlobal(),
		}
	}

	for version, handles := range er.arena.byVersion {
		for _, h := range handles {
			res.byVersion[version] = append(res.byVersion[version], res.byAddress[er.arena.record(h).address])
		}
	}

	return res
}
