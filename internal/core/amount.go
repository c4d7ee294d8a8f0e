// Package core provides the ledger domain model and amount parsing.
//
// This file contains the parser for free-form amount text entered in the
// add-transaction dialog. The grammar is deliberately narrow: an optional
// sign, digits, and at most one decimal separator, where both the dot and
// the comma are accepted.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses free-form user text into a signed decimal amount.
//
// The accepted grammar is `[+-]?digits[.digits]` after normalizing a decimal
// comma to a dot. Anything else (multiple separators, letters, a bare
// separator, the empty string after trimming) yields ErrInvalidAmount. The
// function never panics and never returns a non-finite value.
//
// Examples:
//
//	ParseAmount("12,50") -> 12.50, nil
//	ParseAmount("-3.0")  -> -3.0, nil
//	ParseAmount("12.5.6") -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")

	rest := s
	if rest[0] == '+' || rest[0] == '-' {
		rest = rest[1:]
	}
	intPart, fracPart, hasSep := strings.Cut(rest, ".")
	if intPart == "" || !allDigits(intPart) {
		return decimal.Zero, ErrInvalidAmount
	}
	if hasSep && (fracPart == "" || !allDigits(fracPart)) {
		return decimal.Zero, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
