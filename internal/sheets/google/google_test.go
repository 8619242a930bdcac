package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goption "google.golang.org/api/option"

	"piggybank/internal/core"
	applog "piggybank/internal/log"
	"piggybank/internal/sheets"
)

func testLogger() *applog.Logger {
	return applog.New(applog.Config{Output: io.Discard})
}

func TestNew_MissingSettings(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no spreadsheet", Config{SheetName: "Deposits"}, "missing spreadsheet id"},
		{"no sheet", Config{SpreadsheetID: "sid"}, "missing sheet name"},
		{"no credentials", Config{SpreadsheetID: "sid", SheetName: "Deposits"}, "missing service account credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, tt.cfg, testLogger())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestClient_AppendDeposit(t *testing.T) {
	var gotPath, gotInput, gotInsert string
	var gotBody struct {
		Values [][]any `json:"values"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotInput = r.URL.Query().Get("valueInputOption")
		gotInsert = r.URL.Query().Get("insertDataOption")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"spreadsheetId":"sid","updates":{"updatedRange":"'My Deposits'!A7:E7","updatedRows":1}}`)
	}))
	defer srv.Close()

	c, err := New(context.Background(),
		Config{SpreadsheetID: "sid", SheetName: "My Deposits"},
		testLogger(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ref, err := c.AppendDeposit(context.Background(), sheets.LedgerEntry{
		CreatedAt: time.Date(2024, 2, 29, 23, 5, 0, 0, time.UTC),
		UserID:    "u1",
		GoalID:    "g1",
		GoalTitle: "Holiday",
		Amount:    core.Money{Cents: 4250},
	})
	if err != nil {
		t.Fatalf("AppendDeposit() error = %v", err)
	}
	if ref != "'My Deposits'!A7:E7" {
		t.Errorf("ref = %q", ref)
	}
	if !strings.Contains(gotPath, "/spreadsheets/sid/values/") || !strings.HasSuffix(gotPath, ":append") {
		t.Errorf("path = %q", gotPath)
	}
	if gotInput != "USER_ENTERED" {
		t.Errorf("valueInputOption = %q, want USER_ENTERED", gotInput)
	}
	if gotInsert != "INSERT_ROWS" {
		t.Errorf("insertDataOption = %q, want INSERT_ROWS", gotInsert)
	}
	if len(gotBody.Values) != 1 || len(gotBody.Values[0]) != 5 {
		t.Fatalf("values = %v, want one row of 5 cells", gotBody.Values)
	}
	row := gotBody.Values[0]
	if row[0] != "2024-02-29 23:05:00" || row[3] != "Holiday" || row[4] != "42.50" {
		t.Errorf("row = %v", row)
	}
}

func TestClient_AppendDeposit_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"The caller does not have permission"}}`)
	}))
	defer srv.Close()

	c, err := New(context.Background(),
		Config{SpreadsheetID: "sid", SheetName: "Deposits"},
		testLogger(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.AppendDeposit(context.Background(), sheets.LedgerEntry{UserID: "u1", GoalID: "g1", Amount: core.Money{Cents: 1}})
	if err == nil || !strings.Contains(err.Error(), "append to sheet Deposits") {
		t.Errorf("AppendDeposit() error = %v", err)
	}
}

func TestClient_AppendDeposit_Invalid(t *testing.T) {
	c := &Client{spreadsheetID: "sid", sheetName: "Deposits", logger: testLogger()}

	_, err := c.AppendDeposit(context.Background(), sheets.LedgerEntry{UserID: "u1", GoalID: "g1"})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("AppendDeposit() error = %v, want ErrInvalidAmount", err)
	}
	_, err = c.AppendDeposit(context.Background(), sheets.LedgerEntry{UserID: "u1", GoalID: "g1", Amount: core.Money{Cents: 5}})
	if err == nil || err.Error() != "sheets service not initialized" {
		t.Errorf("AppendDeposit() error = %v", err)
	}
}

func TestClient_ledgerRange(t *testing.T) {
	tests := map[string]string{
		"Deposits":    "'Deposits'!A:E",
		"2024 Ledger": "'2024 Ledger'!A:E",
		"Bob's":       "'Bob''s'!A:E",
	}
	for name, want := range tests {
		c := &Client{sheetName: name}
		if got := c.ledgerRange(); got != want {
			t.Errorf("ledgerRange(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestClient_EnsureLedger(t *testing.T) {
	tests := []struct {
		name        string
		existing    string
		wantCreated bool
		wantCalls   []string
	}{
		{"tab exists", "Deposits", false, []string{"GET /v4/spreadsheets/sid"}},
		{"tab missing", "Sheet1", true, []string{
			"GET /v4/spreadsheets/sid",
			"POST /v4/spreadsheets/sid:batchUpdate",
			"PUT /v4/spreadsheets/sid/values/'Deposits'!A1:E1",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			var header struct {
				Values [][]any `json:"values"`
			}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, r.Method+" "+r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				switch r.Method {
				case http.MethodGet:
					_, _ = io.WriteString(w, `{"sheets":[{"properties":{"title":"`+tt.existing+`"}}]}`)
				case http.MethodPut:
					if err := json.NewDecoder(r.Body).Decode(&header); err != nil {
						t.Errorf("decode body: %v", err)
					}
					_, _ = io.WriteString(w, `{}`)
				default:
					_, _ = io.WriteString(w, `{"spreadsheetId":"sid"}`)
				}
			}))
			defer srv.Close()

			c, err := New(context.Background(),
				Config{SpreadsheetID: "sid", SheetName: "Deposits"},
				testLogger(),
				goption.WithEndpoint(srv.URL+"/"),
				goption.WithHTTPClient(srv.Client()))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			created, err := c.EnsureLedger(context.Background())
			if err != nil {
				t.Fatalf("EnsureLedger() error = %v", err)
			}
			if created != tt.wantCreated {
				t.Errorf("created = %v, want %v", created, tt.wantCreated)
			}
			if strings.Join(calls, "\n") != strings.Join(tt.wantCalls, "\n") {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
			if tt.wantCreated && (len(header.Values) != 1 || len(header.Values[0]) != len(sheets.LedgerHeader)) {
				t.Errorf("header = %v", header.Values)
			}
		})
	}
}
