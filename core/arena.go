package core

import (
	"errors"
	"fmt"
)

// EntityHandle is a stable index into the batch's entity arena. Handles stay
// valid for the lifetime of one ledger extension.
type EntityHandle int

const noHandle EntityHandle = -1

// entityRecord is one referenced entity as it is progressively annotated during
// a batch: first sight, parent edge, type hints, globalization and finally the
// resolved database row. All mutation goes through arena methods so the same
// logical entity looked up from multiple places always shares one record.
type entityRecord struct {
	address          string
	entityType       EntityType
	firstSeenVersion int64

	kindHint        string
	resourceHint    ResourceType
	resourceHintSet bool

	globalAddress      string
	globalAddressBytes []byte

	parent EntityHandle

	row           *EntityRow
	pendingInsert bool
}

func (rec *entityRecord) isGlobal() bool {
	if rec.globalAddress != "" {
		return true
	}

	return rec.row != nil && rec.row.IsGlobal()
}

type entityArena struct {
	records   []entityRecord
	byAddress map[string]EntityHandle
	byVersion map[int64][]EntityHandle
}

func newEntityArena() *entityArena {
	return &entityArena{
		byAddress: map[string]EntityHandle{},
		byVersion: map[int64][]EntityHandle{},
	}
}

// getOrAdd registers an entity at its first sight or returns the existing
// handle. Registration is memoized by raw address for the whole batch.
func (a *entityArena) getOrAdd(address string, entityType EntityType, stateVersion int64) EntityHandle {
	if h, exists := a.byAddress[address]; exists {
		return h
	}

	h := EntityHandle(len(a.records))
	a.records = append(a.records, entityRecord{
		address:          address,
		entityType:       entityType,
		firstSeenVersion: stateVersion,
		parent:           noHandle,
	})
	a.byAddress[address] = h
	a.byVersion[stateVersion] = append(a.byVersion[stateVersion], h)

	return h
}

func (a *entityArena) get(address string) (EntityHandle, bool) {
	h, exists := a.byAddress[address]

	return h, exists
}

func (a *entityArena) record(h EntityHandle) *entityRecord {
	return &a.records[h]
}

// touchVersion records that an already-known entity was referenced again at a
// later state version, so its global id shows up among that transaction's
// affected entities.
func (a *entityArena) touchVersion(h EntityHandle, stateVersion int64) {
	for _, existing := range a.byVersion[stateVersion] {
		if existing == h {
			return
		}
	}

	a.byVersion[stateVersion] = append(a.byVersion[stateVersion], h)
}

func (a *entityArena) setParent(child, parent EntityHandle) {
	a.records[child].parent = parent
}

func (a *entityArena) globalize(h EntityHandle, globalAddress string, globalAddressBytes []byte) error {
	rec := &a.records[h]
	if rec.globalAddress != "" && rec.globalAddress != globalAddress {
		return errors.Join(ErrCorruptBatch, fmt.Errorf("entity %s globalized twice: %s vs %s", rec.address, rec.globalAddress, globalAddress))
	}

	rec.globalAddress = globalAddress
	rec.globalAddressBytes = globalAddressBytes

	return nil
}

func (a *entityArena) setKindHint(h EntityHandle, kind string) error {
	rec := &a.records[h]
	if rec.kindHint != "" && rec.kindHint != kind {
		return errors.Join(ErrCorruptBatch, fmt.Errorf("entity %s already hinted with kind %s, got %s", rec.address, rec.kindHint, kind))
	}

	rec.kindHint = kind

	return nil
}

func (a *entityArena) setResourceHint(h EntityHandle, rt ResourceType) error {
	rec := &a.records[h]
	if rec.resourceHintSet && rec.resourceHint != rt {
		return errors.Join(ErrCorruptBatch, fmt.Errorf("entity %s already hinted with resource type %s, got %s",
			rec.address, rec.resourceHint.StorageDiscriminator(), rt.StorageDiscriminator()))
	}

	rec.resourceHint = rt
	rec.resourceHintSet = true

	return nil
}

func (a *entityArena) resolve(h EntityHandle, row *EntityRow, pendingInsert bool) {
	rec := &a.records[h]
	rec.row = row
	rec.pendingInsert = pendingInsert

	// global address already persisted on an earlier batch wins
	if row.IsGlobal() && rec.globalAddress == "" {
		rec.globalAddress = AddressFromBytes(row.GlobalAddress)
		rec.globalAddressBytes = row.GlobalAddress
	}
}
