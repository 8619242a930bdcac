package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTotalSavings(t *testing.T) {
	assert.Equal(t, Money{}, TotalSavings(nil))
	goals := []SavingsGoal{
		{CurrentAmount: Money{Cents: 1000}},
		{CurrentAmount: Money{}},
		{CurrentAmount: Money{Cents: 2550}},
	}
	assert.Equal(t, Money{Cents: 3550}, TotalSavings(goals))
}

func TestMonthlyIncrease(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		rome = time.FixedZone("CET", 3600)
	}
	now := time.Date(2024, time.March, 15, 10, 0, 0, 0, rome)

	deposits := []Deposit{
		{Amount: Money{Cents: 100}, CreatedAt: time.Date(2024, time.March, 1, 0, 30, 0, 0, rome)},
		// 23:30 UTC on Feb 29 is already March 1 in Rome.
		{Amount: Money{Cents: 200}, CreatedAt: time.Date(2024, time.February, 29, 23, 30, 0, 0, time.UTC)},
		{Amount: Money{Cents: 400}, CreatedAt: time.Date(2024, time.February, 28, 12, 0, 0, 0, rome)},
		{Amount: Money{Cents: 800}, CreatedAt: time.Date(2023, time.March, 10, 12, 0, 0, 0, rome)},
	}

	assert.Equal(t, Money{Cents: 300}, MonthlyIncrease(deposits, now))
	assert.Equal(t, Money{}, MonthlyIncrease(nil, now))
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		target  int64
		want    float64
	}{
		{"empty", 0, 1000, 0},
		{"half", 500, 1000, 50},
		{"over target", 1500, 1000, 100},
		{"invalid target", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := SavingsGoal{CurrentAmount: Money{Cents: tt.current}, TargetAmount: Money{Cents: tt.target}}
			assert.InDelta(t, tt.want, Progress(g), 0.0001)
		})
	}
}

func TestBuildOverviewToleratesFailedCollections(t *testing.T) {
	now := time.Now()
	ov := BuildOverview(nil, nil, now)
	assert.Equal(t, Overview{}, ov)

	goals := []SavingsGoal{{CurrentAmount: Money{Cents: 700}}}
	ov = BuildOverview(goals, nil, now)
	assert.Equal(t, Money{Cents: 700}, ov.TotalSavings)
	assert.Equal(t, Money{}, ov.MonthlyIncrease)
	assert.Equal(t, 1, ov.GoalCount)
}
