package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/dltgateway/ledger-indexer/core"
	"github.com/dltgateway/ledger-indexer/db"
	"github.com/dltgateway/ledger-indexer/db/postgres"
	"github.com/dltgateway/ledger-indexer/nodeapi"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := core.NewLogger(core.LoggerConfig{
		LogLevel:      hclog.LevelFromString(config.Logging.Level),
		JSONLogFormat: config.Logging.JSONLogFormat,
		LogsDirectory: config.Logging.LogsDirectory,
		LogFile:       config.Logging.LogFile,
		Name:          "ledger_indexer",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, config.PostgresConnectionString(), logger)
	if err != nil {
		logger.Error("could not open ledger store", "err", err)
		os.Exit(1)
	}

	defer store.Close()

	payloads, err := db.NewPayloadStoreInit(config.PayloadStore.Engine, config.PayloadStore.FilePath)
	if err != nil {
		logger.Error("could not open payload store", "err", err)
		os.Exit(1)
	}

	defer payloads.Close()

	source := nodeapi.NewClient(config.Node.Endpoint, logger)
	defer source.Close()

	extender := core.NewLedgerExtender(store, payloads, logger.Named("ledger_extender"))
	syncer := core.NewLedgerSyncer(
		source, extender, &core.NetworkConfigCell{}, config.Syncer, logger.Named("ledger_syncer"))

	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ledger syncing halted", "err", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
