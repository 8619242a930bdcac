package http

import (
	"html/template"
	"math"
	"net/http"
	"strings"
	"time"

	"piggybank/internal/core"
	"piggybank/internal/services"
)

// sanitizeInput drops control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirect navigates the browser: HX-Redirect for htmx, 303 otherwise.
func redirect(w http.ResponseWriter, r *http.Request, url string, b *HTMXResponseBuilder) {
	if b == nil {
		b = NewHTMXResponse()
	}
	if isHTMX(r) {
		b.Redirect(url).Write(w)
		return
	}
	b.Header("Location", url).Status(http.StatusSeeOther).Write(w)
}

// templateFuncs are available in every template.
var templateFuncs = template.FuncMap{
	"money": func(m core.Money) string { return core.FormatAmount(m.Cents) },
	"amount": func(m core.Money) string {
		if m.Cents == 0 {
			return ""
		}
		return m.String()
	},
	"progress": func(g core.SavingsGoal) int { return int(math.Round(core.Progress(g))) },
	"date":     func(t time.Time) string { return t.Local().Format("02 Jan 2006") },
	"isoDate":  func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

// goalFormView backs the create goal form and the edit dialog.
type goalFormView struct {
	ID           string
	Title        string
	TargetAmount string
	Errors       core.FieldErrors
}

func goalFormFromGoal(g core.SavingsGoal) goalFormView {
	return goalFormView{ID: g.ID, Title: g.Title, TargetAmount: g.TargetAmount.String()}
}

type depositFormView struct {
	Goals      []core.SavingsGoal
	GoalID     string
	Amount     string
	Errors     core.FieldErrors
	GoalsError bool
}

type goalsView struct {
	Goals []core.SavingsGoal
	Error bool
}

type depositsView struct {
	Deposits []depositRow
	Error    bool
}

type depositRow struct {
	core.Deposit
	GoalTitle string
}

type overviewView struct {
	core.Overview
	GoalsError    bool
	DepositsError bool
}

type dashboardView struct {
	User        core.User
	Overview    overviewView
	Goals       goalsView
	Deposits    depositsView
	GoalForm    goalFormView
	DepositForm depositFormView
}

// depositRows joins deposits with their goal titles. A deposit whose goal is
// not loaded shows an empty title.
func depositRows(deposits []core.Deposit, goals []core.SavingsGoal) []depositRow {
	titles := make(map[string]string, len(goals))
	for _, g := range goals {
		titles[g.ID] = g.Title
	}
	rows := make([]depositRow, 0, len(deposits))
	for _, d := range deposits {
		rows = append(rows, depositRow{Deposit: d, GoalTitle: titles[d.GoalID]})
	}
	return rows
}

func dashboardFrom(user core.User, d services.Dashboard) dashboardView {
	return dashboardView{
		User: user,
		Overview: overviewView{
			Overview:      d.Overview,
			GoalsError:    d.GoalsErr != nil,
			DepositsError: d.DepositsErr != nil,
		},
		Goals:    goalsView{Goals: d.Goals, Error: d.GoalsErr != nil},
		Deposits: depositsView{Deposits: depositRows(d.Deposits, d.Goals), Error: d.DepositsErr != nil},
		DepositForm: depositFormView{
			Goals:      d.Goals,
			GoalsError: d.GoalsErr != nil,
		},
	}
}
