package core

import (
	"context"
	"time"
)

// PreGenesisSummary is the well-defined tip of an empty ledger: state version
// zero, all-zero accumulator.
func PreGenesisSummary(now time.Time) TransactionSummary {
	return TransactionSummary{
		StateVersion:             0,
		Epoch:                    0,
		IndexInEpoch:             0,
		RoundInEpoch:             0,
		TransactionAccumulator:   make([]byte, 32),
		RoundTimestamp:           time.Unix(0, 0).UTC(),
		CreatedTimestamp:         now,
		NormalizedRoundTimestamp: time.Unix(0, 0).UTC(),
	}
}

// GetLatestTransactionSummary returns the persisted tip, or the pre-genesis
// summary when no transaction exists yet.
func GetLatestTransactionSummary(ctx context.Context, store LedgerStore) (TransactionSummary, error) {
	top, err := store.GetTopTransactionSummary(ctx)
	if err != nil {
		return TransactionSummary{}, err
	}

	if top == nil {
		return PreGenesisSummary(time.Now().UTC()), nil
	}

	return *top, nil
}

// GenerateSummary derives a committed transaction's summary from the previous
// transaction's. Epoch, round and round timestamp carry forward unless a
// system substate updates them.
func GenerateSummary(last TransactionSummary, tx *CommittedTransaction, now time.Time) TransactionSummary {
	var (
		newEpoch          *int64
		newRound          *int64
		newRoundTimestamp *time.Time
	)

	isOnlyRoundChange := true

	for i := range tx.StateUpdates.UpSubstates {
		data, isSystem := tx.StateUpdates.UpSubstates[i].Data.(SystemData)
		if !isSystem {
			isOnlyRoundChange = false

			continue
		}

		if data.NewEpoch != nil {
			newEpoch = data.NewEpoch
		}

		if data.NewRound != nil {
			newRound = data.NewRound

			// the first round of the ledger carries timestamp 0; ignore it and
			// keep the previous one
			if data.RoundTimestampMs != 0 {
				ts := time.UnixMilli(data.RoundTimestampMs).UTC()
				newRoundTimestamp = &ts
			}
		}
	}

	if len(tx.StateUpdates.DownSubstates) > 0 || len(tx.StateUpdates.NewGlobalEntities) > 0 {
		isOnlyRoundChange = false
	}

	isStartOfEpoch := newEpoch != nil
	isStartOfRound := newRound != nil

	epoch := last.Epoch
	if newEpoch != nil {
		epoch = *newEpoch
	}

	indexInEpoch := last.IndexInEpoch + 1
	if isStartOfEpoch {
		indexInEpoch = 0
	}

	roundInEpoch := last.RoundInEpoch
	if newRound != nil {
		roundInEpoch = *newRound
	}

	roundTimestamp := last.RoundTimestamp
	if newRoundTimestamp != nil {
		roundTimestamp = *newRoundTimestamp
	}

	// clamped between the previous normalized timestamp and wall-clock now, so
	// the normalized sequence never runs backwards
	normalizedRoundTimestamp := roundTimestamp
	if normalizedRoundTimestamp.Before(last.NormalizedRoundTimestamp) {
		normalizedRoundTimestamp = last.NormalizedRoundTimestamp
	} else if normalizedRoundTimestamp.After(now) {
		normalizedRoundTimestamp = now
	}

	return TransactionSummary{
		StateVersion:             tx.StateVersion,
		Epoch:                    epoch,
		IndexInEpoch:             indexInEpoch,
		RoundInEpoch:             roundInEpoch,
		IsOnlyRoundChange:        isOnlyRoundChange,
		IsStartOfEpoch:           isStartOfEpoch,
		IsStartOfRound:           isStartOfRound,
		PayloadHash:              tx.PayloadHash,
		TransactionAccumulator:   tx.Accumulator,
		RoundTimestamp:           roundTimestamp,
		CreatedTimestamp:         now,
		NormalizedRoundTimestamp: normalizedRoundTimestamp,
	}
}
