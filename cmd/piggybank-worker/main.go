package main

import (
	"context"
	"errors"
	"os"
	"time"

	"piggybank/internal/cli"
	"piggybank/internal/config"
	"piggybank/internal/events"
	applog "piggybank/internal/log"
	"piggybank/internal/sheets"
	gsheet "piggybank/internal/sheets/google"
	memledger "piggybank/internal/sheets/memory"
	"piggybank/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	statsInterval   = 15 * time.Minute
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	logger.Info("Starting piggybank-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the ledger worker")
		os.Exit(1)
	}

	ctx := context.Background()

	// The backend resolves goal titles for messages that lack one.
	be := cli.InitBackend(ctx, logger, cfg)

	ledger, err := newLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger", applog.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}

	ledgerWorker := worker.NewLedgerWorker(ledger, be.Backend, logger)

	runCtx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", applog.FieldError, err)
		}
		if be.Cleanup != nil {
			if err := be.Cleanup(); err != nil {
				logger.Warn("Failed to close backend", applog.FieldError, err)
			}
		}
		st := ledgerWorker.Stats()
		logger.Info("Worker stopped", "appended", st.Appended, "skipped", st.Skipped)
	})

	go func() {
		logger.Info("Consuming change events", "queue", cfg.AMQPQueue, "exchange", cfg.AMQPExchange)
		if err := amqpClient.Consume(runCtx, ledgerWorker.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
			os.Exit(1)
		}
	}()

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				st := ledgerWorker.Stats()
				logger.Info("Ledger worker stats", "appended", st.Appended, "skipped", st.Skipped)
			}
		}
	}()

	cli.WaitForShutdown(runCtx, done)
}

// newLedger returns the Google Sheets ledger when a spreadsheet is
// configured. Without one, deposits are kept in memory and only logged.
func newLedger(ctx context.Context, cfg *config.Config, logger *applog.Logger) (sheets.LedgerWriter, error) {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Warn("Google Sheets disabled, no GOOGLE_SPREADSHEET_ID provided; deposits are drained without export")
		return memledger.New(), nil
	}
	creds, err := cfg.ServiceAccountCredentials()
	if err != nil {
		return nil, err
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: creds,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets ledger initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName)
	return client, nil
}
