package core

import (
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Field names shared by the HTML forms and the validators.
const (
	FieldTitle        = "title"
	FieldTargetAmount = "target_amount"
	FieldGoalID       = "goal_id"
	FieldAmount       = "amount"
	FieldEmail        = "email"
	FieldPassword     = "password"
)

// Validation messages rendered inline next to the offending field.
const (
	MsgTitleRequired    = "Title is required"
	MsgTitleTooLong     = "Title is too long"
	MsgTargetPositive   = "Target amount must be a positive number"
	MsgGoalRequired     = "Please select a savings goal"
	MsgAmountPositive   = "Amount must be a positive number"
	MsgEmailInvalid     = "Please enter a valid email address"
	MsgPasswordTooShort = "Password must be at least 6 characters"
)

// FieldErrors maps a form field to its validation message.
type FieldErrors map[string]string

func (fe FieldErrors) Add(field, msg string) {
	if _, exists := fe[field]; !exists {
		fe[field] = msg
	}
}

func (fe FieldErrors) Has(field string) bool {
	_, ok := fe[field]
	return ok
}

func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// Error joins all messages in field order so FieldErrors can travel as an error.
func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, k+": "+fe[k])
	}
	return strings.Join(msgs, "; ")
}

// GoalForm is the raw input of the create and edit goal dialogs.
type GoalForm struct {
	Title        string
	TargetAmount string
}

// GoalInput is a validated GoalForm.
type GoalInput struct {
	Title        string
	TargetAmount Money
}

// Validate checks the form synchronously. A non-empty FieldErrors means the
// backend must not be called.
func (f GoalForm) Validate() (GoalInput, FieldErrors) {
	errs := FieldErrors{}
	title := strings.TrimSpace(f.Title)
	switch err := validateTitle(title); err {
	case ErrEmptyTitle:
		errs.Add(FieldTitle, MsgTitleRequired)
	case ErrTitleTooLong:
		errs.Add(FieldTitle, MsgTitleTooLong)
	}
	target, err := ParseAmount(f.TargetAmount)
	if err != nil {
		errs.Add(FieldTargetAmount, MsgTargetPositive)
	}
	return GoalInput{Title: title, TargetAmount: target}, errs
}

// DepositForm is the raw input of the add deposit dialog.
type DepositForm struct {
	GoalID string
	Amount string
}

// DepositInput is a validated DepositForm.
type DepositInput struct {
	GoalID string
	Amount Money
}

// Check runs the checks that need no loaded data: the goal id must be a
// UUID and the amount a positive decimal.
func (f DepositForm) Check() (DepositInput, FieldErrors) {
	errs := FieldErrors{}
	goalID := strings.TrimSpace(f.GoalID)
	if _, err := uuid.Parse(goalID); err != nil {
		errs.Add(FieldGoalID, MsgGoalRequired)
	}
	amount, err := ParseAmount(f.Amount)
	if err != nil {
		errs.Add(FieldAmount, MsgAmountPositive)
	}
	return DepositInput{GoalID: goalID, Amount: amount}, errs
}

// Validate is Check plus membership: the goal id must name one of the goals
// currently loaded for the user.
func (f DepositForm) Validate(goals []SavingsGoal) (DepositInput, FieldErrors) {
	in, errs := f.Check()
	if !errs.Has(FieldGoalID) && !containsGoal(goals, in.GoalID) {
		errs.Add(FieldGoalID, MsgGoalRequired)
	}
	return in, errs
}

func containsGoal(goals []SavingsGoal, id string) bool {
	for _, g := range goals {
		if strings.EqualFold(g.ID, id) {
			return true
		}
	}
	return false
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	return nil
}

// MinPasswordLength is the shortest password accepted at sign-up and on change.
const MinPasswordLength = 6

// CredentialsForm is the raw input of the sign-in and sign-up forms.
type CredentialsForm struct {
	Email    string
	Password string
}

// Validate normalizes the email and checks both fields. Sign-in uses it too so
// malformed input never reaches the auth subsystem.
func (f CredentialsForm) Validate() (CredentialsForm, FieldErrors) {
	errs := FieldErrors{}
	email, ok := NormalizeEmail(f.Email)
	if !ok {
		errs.Add(FieldEmail, MsgEmailInvalid)
	}
	if !ValidPassword(f.Password) {
		errs.Add(FieldPassword, MsgPasswordTooShort)
	}
	return CredentialsForm{Email: email, Password: f.Password}, errs
}

// NormalizeEmail trims and lower-cases a bare address. Display-name forms
// such as "Ann <ann@example.com>" are rejected.
func NormalizeEmail(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return raw, false
	}
	return strings.ToLower(addr.Address), true
}

func ValidPassword(p string) bool {
	return utf8.RuneCountInString(p) >= MinPasswordLength
}
