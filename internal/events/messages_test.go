package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChange_JSON(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Change{
		Table:       TableDeposits,
		Op:          OpInsert,
		UserID:      "u1",
		RowID:       "d1",
		GoalID:      "g1",
		GoalTitle:   "Holiday",
		AmountCents: 2550,
		At:          at,
	}

	b, err := c.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	got, err := ChangeFromJSON(b)
	if err != nil {
		t.Fatalf("ChangeFromJSON() error = %v", err)
	}
	if got.GoalTitle != "Holiday" || got.AmountCents != 2550 || !got.At.Equal(at) {
		t.Errorf("ChangeFromJSON() = %+v", got)
	}
	if !got.Is(TableDeposits, OpInsert) || got.Is(TableSavingsGoals, OpInsert) {
		t.Error("Is() mismatch")
	}
}

func TestChange_Validate(t *testing.T) {
	base := Change{Table: TableSavingsGoals, Op: OpDelete, UserID: "u1", RowID: "g1"}
	tests := []struct {
		name    string
		mutate  func(*Change)
		wantErr bool
	}{
		{"valid", func(*Change) {}, false},
		{"unknown table", func(c *Change) { c.Table = "expenses" }, true},
		{"unknown op", func(c *Change) { c.Op = "UPSERT" }, true},
		{"missing user", func(c *Change) { c.UserID = "" }, true},
		{"missing row", func(c *Change) { c.RowID = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChangeFromJSON_Invalid(t *testing.T) {
	if _, err := ChangeFromJSON([]byte(`{"amount_cents": "lots"}`)); err == nil {
		t.Error("ChangeFromJSON() should fail with invalid JSON")
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	c := Change{Table: TableSavingsGoals, Op: OpInsert, UserID: "u1", RowID: "g1"}

	if err := r.Publish(ctx, c); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	boom := errors.New("down")
	r.FailWith(boom)
	if err := r.Publish(ctx, c); !errors.Is(err, boom) {
		t.Errorf("Publish() error = %v, want %v", err, boom)
	}
	if got := len(r.Changes()); got != 1 {
		t.Errorf("len(Changes()) = %d, want 1", got)
	}

	var noop Publisher = NoopPublisher{}
	if err := noop.Publish(ctx, c); err != nil {
		t.Errorf("NoopPublisher.Publish() error = %v", err)
	}
}
