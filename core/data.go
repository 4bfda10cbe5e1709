package core

import (
	"encoding/hex"
	"fmt"
	"time"
)

type EntityType int

const (
	EntityTypeSystem EntityType = iota
	EntityTypeResourceManager
	EntityTypeComponent
	EntityTypePackage
	EntityTypeVault
	EntityTypeKeyValueStore
)

// StorageDiscriminator maps an entity type to the discriminator persisted in the
// entities table. Unknown values are programming errors, not domain errors.
func (et EntityType) StorageDiscriminator() string {
	switch et {
	case EntityTypeSystem:
		return "system"
	case EntityTypeResourceManager:
		return "resource_manager"
	case EntityTypeComponent:
		return "component"
	case EntityTypePackage:
		return "package"
	case EntityTypeVault:
		return "vault"
	case EntityTypeKeyValueStore:
		return "key_value_store"
	default:
		// nolint
		panic(fmt.Errorf("unknown entity type: %d", et))
	}
}

// ParseEntityType is the inverse of StorageDiscriminator.
func ParseEntityType(s string) (EntityType, error) {
	switch s {
	case "system":
		return EntityTypeSystem, nil
	case "resource_manager":
		return EntityTypeResourceManager, nil
	case "component":
		return EntityTypeComponent, nil
	case "package":
		return EntityTypePackage, nil
	case "vault":
		return EntityTypeVault, nil
	case "key_value_store":
		return EntityTypeKeyValueStore, nil
	default:
		return 0, fmt.Errorf("unknown entity type discriminator: %q", s)
	}
}

// CanBeOwner reports whether entities of this type may act as the owner ancestor
// of resources held further down the ownership tree.
func (et EntityType) CanBeOwner() bool {
	return et == EntityTypeComponent || et == EntityTypeResourceManager || et == EntityTypeKeyValueStore
}

type ResourceType int

const (
	ResourceTypeFungible ResourceType = iota
	ResourceTypeNonFungible
)

func (rt ResourceType) StorageDiscriminator() string {
	switch rt {
	case ResourceTypeFungible:
		return "fungible"
	case ResourceTypeNonFungible:
		return "non_fungible"
	default:
		// nolint
		panic(fmt.Errorf("unknown resource type: %d", rt))
	}
}

func ParseResourceType(s string) (ResourceType, error) {
	switch s {
	case "fungible":
		return ResourceTypeFungible, nil
	case "non_fungible":
		return ResourceTypeNonFungible, nil
	default:
		return 0, fmt.Errorf("unknown resource type discriminator: %q", s)
	}
}

type TransactionStatus string

const (
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
)

type SubstateType int

const (
	SubstateTypeSystem SubstateType = iota
	SubstateTypeResourceManager
	SubstateTypeComponentInfo
	SubstateTypeComponentState
	SubstateTypePackage
	SubstateTypeVault
	SubstateTypeNonFungible
	SubstateTypeKeyValueStoreEntry
)

// SubstateData is the closed set of typed substate payloads. Each variant carries
// only the fields the extension pipeline cares about.
type SubstateData interface {
	substateData()
}

// SystemData carries epoch/round bookkeeping updates emitted by consensus.
// Nil fields mean the value is inherited from the previous transaction.
type SystemData struct {
	NewEpoch         *int64
	NewRound         *int64
	RoundTimestampMs int64 // 0 = unknown, keep the previous round timestamp
}

type ResourceManagerData struct {
	ResourceType         ResourceType
	TotalSupply          TokenAmount
	TotalMinted          TokenAmount
	TotalBurnt           TokenAmount
	FungibleDivisibility int
	Metadata             map[string]string
}

type VaultData struct {
	// raw address of the resource manager whose units this vault holds
	ResourceAddress string

	// exactly one of these is set
	FungibleAmount *TokenAmount
	NonFungibleIDs []string
}

type ComponentInfoData struct {
	PackageAddress string
	BlueprintName  string
	Kind           string
}

type ComponentStateData struct {
	State []byte
}

type PackageData struct {
	Code []byte
}

type NonFungibleData struct {
	MutableData []byte
}

type KeyValueStoreEntryData struct {
	Value []byte
}

func (SystemData) substateData()             {}
func (ResourceManagerData) substateData()    {}
func (VaultData) substateData()              {}
func (ComponentInfoData) substateData()      {}
func (ComponentStateData) substateData()     {}
func (PackageData) substateData()            {}
func (NonFungibleData) substateData()        {}
func (KeyValueStoreEntryData) substateData() {}

// OwnedEntity is a child entity declared by an owning substate.
type OwnedEntity struct {
	Address string
	Type    EntityType
}

type SubstateID struct {
	EntityAddress string
	EntityType    EntityType
	Key           string
	Type          SubstateType
}

type UpSubstate struct {
	SubstateID
	Version       int64
	DataHash      []byte
	OwnedEntities []OwnedEntity
	Data          SubstateData
}

type DownSubstate struct {
	SubstateID
	Version  int64
	DataHash []byte
}

type DownVirtualSubstate struct {
	EntityAddress string
	EntityType    EntityType
}

// GlobalEntity marks an entity as globally addressable from this state version on.
type GlobalEntity struct {
	EntityAddress      string
	GlobalAddress      string
	GlobalAddressBytes []byte
}

type StateUpdates struct {
	UpSubstates          []UpSubstate
	DownSubstates        []DownSubstate
	DownVirtualSubstates []DownVirtualSubstate
	NewGlobalEntities    []GlobalEntity
}

type CommittedTransaction struct {
	StateVersion int64
	Status       TransactionStatus

	PayloadHash []byte
	IntentHash  []byte
	SignedHash  []byte
	Accumulator []byte

	FeePaid           TokenAmount
	IsUserTransaction bool

	// raw notarized bytes, user transactions only
	RawPayload []byte

	StateUpdates StateUpdates
}

// TransactionData pairs a committed transaction with its derived summary.
type TransactionData struct {
	Transaction CommittedTransaction
	Summary     TransactionSummary
}

// TransactionSummary describes one transaction's position on the ledger. Epoch,
// round and timestamps carry forward from the previous transaction unless a
// system substate updates them.
type TransactionSummary struct {
	StateVersion      int64
	Epoch             int64
	IndexInEpoch      int64
	RoundInEpoch      int64
	IsOnlyRoundChange bool
	IsStartOfEpoch    bool
	IsStartOfRound    bool

	PayloadHash            []byte
	TransactionAccumulator []byte

	RoundTimestamp           time.Time
	CreatedTimestamp         time.Time
	NormalizedRoundTimestamp time.Time
}

// ConsistentLedgerExtension is a batch of committed transactions whose first
// element's parent is ParentSummary.
type ConsistentLedgerExtension struct {
	ParentSummary TransactionSummary
	Transactions  []TransactionData
}

type SyncTargetCarrier struct {
	TargetStateVersion int64
}

// CommitReport is returned by a successful ledger extension.
type CommitReport struct {
	TransactionCount int
	FinalSummary     TransactionSummary

	RawPayloadsTouched         int
	PendingTransactionsTouched int
	RowsInserted               int64
	RowsUpdated                int64

	ReadDuration    time.Duration
	WriteDuration   time.Duration
	ContentDuration time.Duration
}

func AddressToBytes(address string) ([]byte, error) {
	raw, err := hex.DecodeString(address)
	if err != nil {
		return nil, fmt.Errorf("invalid entity address %q: %w", address, err)
	}

	return raw, nil
}

func AddressFromBytes(raw []byte) string {
	return hex.EncodeToString(raw)
}
