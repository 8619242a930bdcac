package core

import "time"

// Overview is the dashboard summary recomputed on every render.
type Overview struct {
	TotalSavings    Money
	MonthlyIncrease Money
	GoalCount       int
	DepositCount    int
}

// TotalSavings sums the current amount of every goal. An empty list sums to zero.
func TotalSavings(goals []SavingsGoal) Money {
	var total Money
	for _, g := range goals {
		total = total.Add(g.CurrentAmount)
	}
	return total
}

// MonthlyIncrease sums deposits created in now's calendar month and year,
// comparing in now's location.
func MonthlyIncrease(deposits []Deposit, now time.Time) Money {
	var total Money
	year, month, _ := now.Date()
	loc := now.Location()
	for _, d := range deposits {
		y, m, _ := d.CreatedAt.In(loc).Date()
		if y == year && m == month {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// Progress returns current/target as a percentage clamped to [0, 100].
func Progress(g SavingsGoal) float64 {
	if g.TargetAmount.Cents <= 0 || g.CurrentAmount.Cents <= 0 {
		return 0
	}
	p := float64(g.CurrentAmount.Cents) * 100 / float64(g.TargetAmount.Cents)
	if p > 100 {
		return 100
	}
	return p
}

// BuildOverview derives the dashboard summary. A nil slice stands for a
// collection that failed to load and contributes zero.
func BuildOverview(goals []SavingsGoal, deposits []Deposit, now time.Time) Overview {
	return Overview{
		TotalSavings:    TotalSavings(goals),
		MonthlyIncrease: MonthlyIncrease(deposits, now),
		GoalCount:       len(goals),
		DepositCount:    len(deposits),
	}
}
