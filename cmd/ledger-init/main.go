// Command ledger-init prepares the Google Sheets ledger tab used by
// piggybank-worker. Share the spreadsheet with the service account first.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"piggybank/internal/cli"
	applog "piggybank/internal/log"
	gsheet "piggybank/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentLedger)
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required")
		os.Exit(1)
	}
	creds, err := cfg.ServiceAccountCredentials()
	if err != nil {
		logger.Error("Failed to load service account credentials", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: creds,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}

	created, err := client.EnsureLedger(ctx)
	if err != nil {
		logger.Error("Failed to prepare ledger sheet", applog.FieldError, err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("Created sheet %q in spreadsheet %s\n", cfg.GoogleSheetName, cfg.GoogleSpreadsheetID)
		return
	}
	fmt.Printf("Sheet %q already exists in spreadsheet %s\n", cfg.GoogleSheetName, cfg.GoogleSpreadsheetID)
}
