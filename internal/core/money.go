// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts typed by users
// and converting between cents and display representations.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	// maxAmount is the largest NUMERIC(14,2) value.
	maxAmount   = decimal.RequireFromString("999999999999.99")
	centsFactor = int32(2)
)

// ParseAmount converts user input to a positive amount with half-up rounding
// to cents.
//
// It accepts an optional leading '+', a '.' decimal point and exponent
// notation. Grouping separators are not accepted: "1,000" is rejected rather
// than read as one. Empty, non-numeric, zero, negative, values that round to
// zero cents and values above 999999999999.99 are rejected with
// ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("12.34")  -> {1234}, nil
//	ParseAmount("12.345") -> {1235}, nil (rounds up)
//	ParseAmount("1e2")    -> {10000}, nil
//	ParseAmount("1,000")  -> {}, ErrInvalidAmount
//	ParseAmount("0.004")  -> {}, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	d, err := parsePositiveDecimal(s)
	if err != nil {
		return Money{}, err
	}
	rounded := d.Round(centsFactor)
	if rounded.GreaterThan(maxAmount) {
		return Money{}, ErrInvalidAmount
	}
	cents := rounded.Mul(hundred).IntPart()
	if cents <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents}, nil
}

func parsePositiveDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Contains(s, ",") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() || d.GreaterThan(maxAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FromDecimal converts a stored decimal (NUMERIC columns) to Money.
func FromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Round(centsFactor).Mul(hundred).IntPart()}
}

// Decimal returns the amount as a two-place decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -centsFactor)
}

// String renders the amount with two decimal places, e.g. "1234.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(centsFactor)
}

// FormatAmount renders cents as "$1,234.50" for display.
func FormatAmount(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	digits := fmt.Sprintf("%d", cents/100)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	s := fmt.Sprintf("$%s.%02d", b.String(), cents%100)
	if neg {
		return "-" + s
	}
	return s
}
