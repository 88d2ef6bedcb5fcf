// Package signup holds the reconciled signup record and the submission flow
// that writes new signups into the keyspace.
package signup

import (
	"strings"
	"unicode"

	"github.com/ledgerline/site/internal/keyspace"
)

// Record is one person's signup through one funnel.
type Record struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Interest  string          `json:"interest,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Funnel    keyspace.Funnel `json:"source"`
}

// Complete reports whether the record carries a usable email: it contains
// an "@" and no whitespace or control characters.
func (r Record) Complete() bool {
	return ValidEmail(r.Email)
}

// ValidEmail reports whether s can be stored and exported as an email.
func ValidEmail(s string) bool {
	if s == "" || !strings.Contains(s, "@") {
		return false
	}
	return strings.IndexFunc(s, func(c rune) bool {
		return unicode.IsSpace(c) || unicode.IsControl(c)
	}) < 0
}

// InterestTag is one interest label attached to one entry. The same tag can be
// found both as a hash field and as a standalone interest key; counting is
// done on the tag so the two representations are not counted twice.
type InterestTag struct {
	Funnel keyspace.Funnel
	ID     string
	Label  string
}
