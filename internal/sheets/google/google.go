package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	applog "piggybank/internal/log"
	"piggybank/internal/sheets"
)

// Client appends deposits to a Google Sheets ledger tab.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *applog.Logger
}

// Ensure interface conformance
var _ sheets.LedgerWriter = (*Client)(nil)

// Config selects the spreadsheet and tab to write to.
type Config struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsJSON is a service account key.
	CredentialsJSON []byte
}

// New creates a Sheets client authenticated with a service account.
// Extra options are appended after the credentials, so tests can point the
// client at a local endpoint.
func New(ctx context.Context, cfg Config, logger *applog.Logger, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		return nil, errors.New("missing sheet name")
	}
	if logger == nil {
		logger = applog.FromContext(ctx)
	}
	logger = logger.WithComponent(applog.ComponentLedger)

	svc, err := newSheetsService(ctx, cfg.CredentialsJSON, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}, nil
}

func newSheetsService(ctx context.Context, credentialsJSON []byte, logger *applog.Logger, opts ...goption.ClientOption) (*gsheet.Service, error) {
	all := make([]goption.ClientOption, 0, len(opts)+3)
	if len(credentialsJSON) > 0 {
		logger.InfoContext(ctx, "Creating Google Sheets service with service account",
			"credentials_size", len(credentialsJSON),
			"scope", gsheet.SpreadsheetsScope)
		all = append(all,
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	} else if len(opts) == 0 {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
	all = append(all, opts...)

	service, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendDeposit writes one ledger row after the last used row of the tab
// and returns the updated A1 range.
func (c *Client) AppendDeposit(ctx context.Context, e sheets.LedgerEntry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	rng := c.ledgerRange()
	vr := &gsheet.ValueRange{Values: [][]any{e.Row()}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheetName, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.InfoContext(ctx, "Deposit appended to ledger",
		applog.FieldUserID, e.UserID,
		applog.FieldGoalID, e.GoalID,
		applog.FieldAmountCents, e.Amount.Cents,
		"range", ref)
	return ref, nil
}

// EnsureLedger creates the ledger tab with a header row when the spreadsheet
// does not have it yet. It reports whether the tab was created.
func (c *Client) EnsureLedger(ctx context.Context) (bool, error) {
	if c.svc == nil {
		return false, errors.New("sheets service not initialized")
	}
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == c.sheetName {
			return false, nil
		}
	}

	add := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: c.sheetName},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, add).Context(ctx).Do(); err != nil {
		return false, fmt.Errorf("add sheet %s: %w", c.sheetName, err)
	}

	header := &gsheet.ValueRange{Values: [][]any{sheets.LedgerHeader}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, c.headerRange(), header).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return true, fmt.Errorf("write header to sheet %s: %w", c.sheetName, err)
	}
	c.logger.InfoContext(ctx, "Ledger sheet created", "sheet", c.sheetName)
	return true, nil
}

func (c *Client) quotedName() string {
	return "'" + strings.ReplaceAll(c.sheetName, "'", "''") + "'"
}

func (c *Client) headerRange() string {
	return c.quotedName() + "!A1:E1"
}

// ledgerRange quotes the tab name so names with spaces resolve.
func (c *Client) ledgerRange() string {
	return c.quotedName() + "!A:E"
}
