package core

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
)

// LedgerSource is the node-communication collaborator. It returns the next
// consistent extension on top of fromSummary, or nil when the node has nothing
// newer, plus the furthest state version the node knows about.
type LedgerSource interface {
	FetchLedgerExtension(ctx context.Context, fromSummary TransactionSummary, batchSize int) (*ConsistentLedgerExtension, SyncTargetCarrier, error)
	GetNetworkConfig(ctx context.Context) (NetworkConfig, error)
	Close() error
}

type LedgerSyncerConfig struct {
	BatchSize int           `yaml:"batch_size"`
	PollDelay time.Duration `yaml:"poll_delay"`
}

// LedgerSyncer is the serial driver loop: one batch fully committed before the
// next begins. That single-writer discipline is what makes the aggregate
// read-union-write pattern safe without optimistic-concurrency retries.
type LedgerSyncer struct {
	source   LedgerSource
	extender *LedgerExtender
	network  *NetworkConfigCell
	config   LedgerSyncerConfig
	logger   hclog.Logger
}

func NewLedgerSyncer(source LedgerSource, extender *LedgerExtender, network *NetworkConfigCell, config LedgerSyncerConfig, logger hclog.Logger) *LedgerSyncer {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}

	if config.PollDelay <= 0 {
		config.PollDelay = time.Second
	}

	return &LedgerSyncer{
		source:   source,
		extender: extender,
		network:  network,
		config:   config,
		logger:   logger,
	}
}

// Run drives ingestion until the context is cancelled or a fatal error halts
// it. Cancellation is honoured only between batches; a batch commit is never
// interrupted mid-flight.
func (ls *LedgerSyncer) Run(ctx context.Context) error {
	networkConfig, err := ls.source.GetNetworkConfig(ctx)
	if err != nil {
		return err
	}

	if err := ls.network.Capture(networkConfig); err != nil {
		return errors.Join(ErrFatal, err)
	}

	ls.logger.Info("syncing ledger", "network", networkConfig.NetworkName)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		advanced, err := ls.syncOnce(ctx)
		if err != nil {
			if errors.Is(err, ErrFatal) || errors.Is(err, context.Canceled) {
				return err
			}

			// transient failures (node hiccup, connection loss) are safe to
			// retry: nothing was partially committed
			ls.logger.Warn("ledger extension attempt failed, retrying", "err", err)
			advanced = false
		}

		if !advanced {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ls.config.PollDelay):
			}
		}
	}
}

func (ls *LedgerSyncer) syncOnce(ctx context.Context) (bool, error) {
	top, err := ls.extender.GetLatestTransactionSummary(ctx)
	if err != nil {
		return false, err
	}

	extension, target, err := ls.source.FetchLedgerExtension(ctx, top, ls.config.BatchSize)
	if err != nil {
		return false, err
	}

	if extension == nil {
		return false, nil
	}

	report, err := ls.extender.CommitTransactions(ctx, *extension, target)
	if err != nil {
		return false, err
	}

	ls.logger.Debug("batch committed",
		"stateVersion", report.FinalSummary.StateVersion,
		"target", target.TargetStateVersion)

	return true, nil
}
