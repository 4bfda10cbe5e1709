package nodeapi

import (
	"encoding/json"
	"fmt"

	"github.com/dltgateway/ledger-indexer/core"
)

type networkConfigurationResponse struct {
	NetworkName       string `json:"network_name"`
	AddressHrp        string `json:"address_hrp"`
	GenesisPayloadHex string `json:"genesis_payload_hex"`
}

type transactionsRequest struct {
	FromStateVersion int64 `json:"from_state_version"`
	Limit            int   `json:"limit"`
}

type transactionsResponse struct {
	MaxStateVersion int64             `json:"max_state_version"`
	Transactions    []wireTransaction `json:"transactions"`
}

type wireTransaction struct {
	StateVersion      int64            `json:"state_version"`
	Status            string           `json:"status"`
	PayloadHash       string           `json:"payload_hash_hex"`
	IntentHash        string           `json:"intent_hash_hex"`
	SignedHash        string           `json:"signed_hash_hex"`
	Accumulator       string           `json:"accumulator_hex"`
	FeePaid           string           `json:"fee_paid"`
	IsUserTransaction bool             `json:"is_user_transaction"`
	RawPayload        string           `json:"raw_payload_hex"`
	StateUpdates      wireStateUpdates `json:"state_updates"`
}

type wireStateUpdates struct {
	UpSubstates          []wireUpSubstate          `json:"up_substates"`
	DownSubstates        []wireDownSubstate        `json:"down_substates"`
	DownVirtualSubstates []wireDownVirtualSubstate `json:"down_virtual_substates"`
	NewGlobalEntities    []wireGlobalEntity        `json:"new_global_entities"`
}

type wireSubstateID struct {
	EntityAddress string `json:"entity_address"`
	EntityType    string `json:"entity_type"`
	Key           string `json:"substate_key"`
	Type          string `json:"substate_type"`
}

type wireUpSubstate struct {
	wireSubstateID
	Version       int64             `json:"version"`
	DataHash      string            `json:"data_hash_hex"`
	OwnedEntities []wireOwnedEntity `json:"owned_entities"`
	Data          json.RawMessage   `json:"data"`
}

type wireDownSubstate struct {
	wireSubstateID
	Version  int64  `json:"version"`
	DataHash string `json:"data_hash_hex"`
}

type wireDownVirtualSubstate struct {
	EntityAddress string `json:"entity_address"`
	EntityType    string `json:"entity_type"`
}

type wireOwnedEntity struct {
	Address string `json:"address"`
	Type    string `json:"entity_type"`
}

type wireGlobalEntity struct {
	EntityAddress string `json:"entity_address"`
	GlobalAddress string `json:"global_address"`
}

func (wt *wireTransaction) toCore() (core.CommittedTransaction, error) {
	payloadHash, err := decodeHex(wt.PayloadHash)
	if err != nil {
		return core.CommittedTransaction{}, fmt.Errorf("payload hash: %w", err)
	}

	intentHash, err := decodeHex(wt.IntentHash)
	if err != nil {
		return core.CommittedTransaction{}, fmt.Errorf("intent hash: %w", err)
	}

	signedHash, err := decodeHex(wt.SignedHash)
	if err != nil {
		return core.CommittedTransaction{}, fmt.Errorf("signed hash: %w", err)
	}

	accumulator, err := decodeHex(wt.Accumulator)
	if err != nil {
		return core.CommittedTransaction{}, fmt.Errorf("accumulator: %w", err)
	}

	rawPayload, err := decodeHex(wt.RawPayload)
	if err != nil {
		return core.CommittedTransaction{}, fmt.Errorf("raw payload: %w", err)
	}

	feePaid := core.TokenAmount{}
	if wt.FeePaid != "" {
		feePaid, err = core.TokenAmountFromString(wt.FeePaid)
		if err != nil {
			return core.CommittedTransaction{}, fmt.Errorf("fee paid: %w", err)
		}
	}

	status := core.TransactionStatusSucceeded
	if wt.Status == string(core.TransactionStatusFailed) {
		status = core.TransactionStatusFailed
	}

	updates, err := wt.StateUpdates.toCore()
	if err != nil {
		return core.CommittedTransaction{}, err
	}

	return core.CommittedTransaction{
		StateVersion:      wt.StateVersion,
		Status:            status,
		PayloadHash:       payloadHash,
		IntentHash:        intentHash,
		SignedHash:        signedHash,
		Accumulator:       accumulator,
		FeePaid:           feePaid,
		IsUserTransaction: wt.IsUserTransaction,
		RawPayload:        rawPayload,
		StateUpdates:      updates,
	}, nil
}

func (wsu *wireStateUpdates) toCore() (core.StateUpdates, error) {
	var result core.StateUpdates

	for i := range wsu.UpSubstates {
		substate, err := wsu.UpSubstates[i].toCore()
		if err != nil {
			return core.StateUpdates{}, err
		}

		result.UpSubstates = append(result.UpSubstates, substate)
	}

	for i := range wsu.DownSubstates {
		substateID, err := wsu.DownSubstates[i].wireSubstateID.toCore()
		if err != nil {
			return core.StateUpdates{}, err
		}

		dataHash, err := decodeHex(wsu.DownSubstates[i].DataHash)
		if err != nil {
			return core.StateUpdates{}, fmt.Errorf("down substate data hash: %w", err)
		}

		result.DownSubstates = append(result.DownSubstates, core.DownSubstate{
			SubstateID: substateID,
			Version:    wsu.DownSubstates[i].Version,
			DataHash:   dataHash,
		})
	}

	for i := range wsu.DownVirtualSubstates {
		entityType, err := core.ParseEntityType(wsu.DownVirtualSubstates[i].EntityType)
		if err != nil {
			return core.StateUpdates{}, err
		}

		result.DownVirtualSubstates = append(result.DownVirtualSubstates, core.DownVirtualSubstate{
			EntityAddress: wsu.DownVirtualSubstates[i].EntityAddress,
			EntityType:    entityType,
		})
	}

	for i := range wsu.NewGlobalEntities {
		globalAddressBytes, err := decodeHex(wsu.NewGlobalEntities[i].GlobalAddress)
		if err != nil {
			return core.StateUpdates{}, fmt.Errorf("global address: %w", err)
		}

		result.NewGlobalEntities = append(result.NewGlobalEntities, core.GlobalEntity{
			EntityAddress:      wsu.NewGlobalEntities[i].EntityAddress,
			GlobalAddress:      wsu.NewGlobalEntities[i].GlobalAddress,
			GlobalAddressBytes: globalAddressBytes,
		})
	}

	return result, nil
}

func (wid *wireSubstateID) toCore() (core.SubstateID, error) {
	entityType, err := core.ParseEntityType(wid.EntityType)
	if err != nil {
		return core.SubstateID{}, err
	}

	substateType, err := parseSubstateType(wid.Type)
	if err != nil {
		return core.SubstateID{}, err
	}

	return core.SubstateID{
		EntityAddress: wid.EntityAddress,
		EntityType:    entityType,
		Key:           wid.Key,
		Type:          substateType,
	}, nil
}

func (wus *wireUpSubstate) toCore() (core.UpSubstate, error) {
	substateID, err := wus.wireSubstateID.toCore()
	if err != nil {
		return core.UpSubstate{}, err
	}

	dataHash, err := decodeHex(wus.DataHash)
	if err != nil {
		return core.UpSubstate{}, fmt.Errorf("substate data hash: %w", err)
	}

	owned := make([]core.OwnedEntity, 0, len(wus.OwnedEntities))

	for _, oe := range wus.OwnedEntities {
		entityType, err := core.ParseEntityType(oe.Type)
		if err != nil {
			return core.UpSubstate{}, err
		}

		owned = append(owned, core.OwnedEntity{Address: oe.Address, Type: entityType})
	}

	data, err := parseSubstateData(substateID.Type, wus.Data)
	if err != nil {
		return core.UpSubstate{}, err
	}

	return core.UpSubstate{
		SubstateID:    substateID,
		Version:       wus.Version,
		DataHash:      dataHash,
		OwnedEntities: owned,
		Data:          data,
	}, nil
}

func parseSubstateType(s string) (core.SubstateType, error) {
	switch s {
	case "system":
		return core.SubstateTypeSystem, nil
	case "resource_manager":
		return core.SubstateTypeResourceManager, nil
	case "component_info":
		return core.SubstateTypeComponentInfo, nil
	case "component_state":
		return core.SubstateTypeComponentState, nil
	case "package":
		return core.SubstateTypePackage, nil
	case "vault":
		return core.SubstateTypeVault, nil
	case "non_fungible":
		return core.SubstateTypeNonFungible, nil
	case "key_value_store_entry":
		return core.SubstateTypeKeyValueStoreEntry, nil
	default:
		return 0, fmt.Errorf("unknown substate type: %q", s)
	}
}

func parseSubstateData(substateType core.SubstateType, raw json.RawMessage) (core.SubstateData, error) {
	switch substateType {
	case core.SubstateTypeSystem:
		var wire struct {
			NewEpoch         *int64 `json:"new_epoch"`
			NewRound         *int64 `json:"new_round"`
			RoundTimestampMs int64  `json:"round_timestamp_ms"`
		}

		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("system substate data: %w", err)
		}

		return core.SystemData{
			NewEpoch:         wire.NewEpoch,
			NewRound:         wire.NewRound,
			RoundTimestampMs: wire.RoundTimestampMs,
		}, nil

	case core.SubstateTypeResourceManager:
		var wire struct {
			ResourceType         string            `json:"resource_type"`
			TotalSupply          string            `json:"total_supply"`
			TotalMinted          string            `json:"total_minted"`
			TotalBurnt           string            `json:"total_burnt"`
			FungibleDivisibility int               `json:"fungible_divisibility"`
			Metadata             map[string]string `json:"metadata"`
		}

		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("resource manager substate data: %w", err)
		}

		resourceType, err := core.ParseResourceType(wire.ResourceType)
		if err != nil {
			return nil, err
		}

		totalSupply, err := core.TokenAmountFromString(wire.TotalSupply)
		if err != nil {
			return nil, fmt.Errorf("total supply: %w", err)
		}

		totalMinted, err := core.TokenAmountFromString(wire.TotalMinted)
		if err != nil {
			return nil, fmt.Errorf("total minted: %w", err)
		}

		totalBurnt, err := core.TokenAmountFromString(wire.TotalBurnt)
		if err != nil {
			return nil, fmt.Errorf("total burnt: %w", err)
		}

		return core.ResourceManagerData{
			ResourceType:         resourceType,
			TotalSupply:          totalSupply,
			TotalMinted:          totalMinted,
			TotalBurnt:           totalBurnt,
			FungibleDivisibility: wire.FungibleDivisibility,
			Metadata:             wire.Metadata,
		}, nil

	case core.SubstateTypeVault:
		var wire struct {
			ResourceAddress string   `json:"resource_address"`
			FungibleAmount  *string  `json:"fungible_amount"`
			NonFungibleIDs  []string `json:"non_fungible_ids"`
		}

		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("vault substate data: %w", err)
		}

		data := core.VaultData{
			ResourceAddress: wire.ResourceAddress,
			NonFungibleIDs:  wire.NonFungibleIDs,
		}

		if wire.FungibleAmount != nil {
			amount, err := core.TokenAmountFromString(*wire.FungibleAmount)
			if err != nil {
				return nil, fmt.Errorf("fungible amount: %w", err)
			}

			data.FungibleAmount = &amount
		}

		return data, nil

	case core.SubstateTypeComponentInfo:
		var wire struct {
			PackageAddress string `json:"package_address"`
			BlueprintName  string `json:"blueprint_name"`
			Kind           string `json:"kind"`
		}

		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("component info substate data: %w", err)
		}

		return core.ComponentInfoData{
			PackageAddress: wire.PackageAddress,
			BlueprintName:  wire.BlueprintName,
			Kind:           wire.Kind,
		}, nil

	case core.SubstateTypeComponentState:
		return decodeSingleHexField(raw, "state_hex", func(b []byte) core.SubstateData {
			return core.ComponentStateData{State: b}
		})

	case core.SubstateTypePackage:
		return decodeSingleHexField(raw, "code_hex", func(b []byte) core.SubstateData {
			return core.PackageData{Code: b}
		})

	case core.SubstateTypeNonFungible:
		return decodeSingleHexField(raw, "mutable_data_hex", func(b []byte) core.SubstateData {
			return core.NonFungibleData{MutableData: b}
		})

	case core.SubstateTypeKeyValueStoreEntry:
		return decodeSingleHexField(raw, "value_hex", func(b []byte) core.SubstateData {
			return core.KeyValueStoreEntryData{Value: b}
		})

	default:
		return nil, fmt.Errorf("unknown substate type: %d", substateType)
	}
}

func decodeSingleHexField(
	raw json.RawMessage, field string, build func([]byte) core.SubstateData,
) (core.SubstateData, error) {
	var wire map[string]string

	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("substate data: %w", err)
	}

	decoded, err := decodeHex(wire[field])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}

	return build(decoded), nil
}
