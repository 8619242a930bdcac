package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"piggybank/internal/core"
	"piggybank/internal/sheets"
)

func TestLedger_AppendDeposit(t *testing.T) {
	l := New()
	ctx := context.Background()
	e := sheets.LedgerEntry{
		CreatedAt: time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC),
		UserID:    "u1",
		GoalID:    "g1",
		GoalTitle: "Holiday",
		Amount:    core.Money{Cents: 1999},
	}

	ref, err := l.AppendDeposit(ctx, e)
	if err != nil {
		t.Fatalf("AppendDeposit() error = %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("ref = %q, want mem:1", ref)
	}
	if ref, _ := l.AppendDeposit(ctx, e); ref != "mem:2" {
		t.Errorf("ref = %q, want mem:2", ref)
	}
	if got := len(l.Entries()); got != 2 {
		t.Errorf("len(Entries()) = %d, want 2", got)
	}
}

func TestLedger_RejectsInvalid(t *testing.T) {
	l := New()
	_, err := l.AppendDeposit(context.Background(), sheets.LedgerEntry{UserID: "u1", GoalID: "g1"})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("AppendDeposit() error = %v, want ErrInvalidAmount", err)
	}
	if len(l.Entries()) != 0 {
		t.Error("invalid entry must not be stored")
	}
}

func TestLedgerEntry_Row(t *testing.T) {
	e := sheets.LedgerEntry{
		CreatedAt: time.Date(2024, 5, 2, 10, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
		UserID:    "u1",
		GoalID:    "g1",
		GoalTitle: "Bike",
		Amount:    core.Money{Cents: 12005},
	}
	row := e.Row()
	want := []any{"2024-05-02 08:30:00", "u1", "g1", "Bike", "120.05"}
	if len(row) != len(want) {
		t.Fatalf("len(Row()) = %d, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("Row()[%d] = %v, want %v", i, row[i], want[i])
		}
	}
}
