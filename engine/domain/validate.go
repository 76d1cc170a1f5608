package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minQueryLength = 2
	maxQueryLength = 4000
	maxRows        = 100_000
)

// ValidateQuery checks a chat query's length.
func ValidateQuery(text string) error {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < minQueryLength {
		return NewValidationError("query", text, ErrQueryTooShort)
	}
	if n > maxQueryLength {
		return NewValidationError("query", fmt.Sprintf("%d runes", n), ErrQueryTooLong)
	}
	return nil
}

// ValidateTable checks a sensor table submitted for evaluation.
func ValidateTable(t Table) error {
	if len(t.Rows) == 0 {
		return NewValidationError("rows", "0", ErrEmptyTable)
	}
	if len(t.Rows) > maxRows {
		return NewValidationError("rows", fmt.Sprintf("%d", len(t.Rows)), ErrInvalidInput)
	}
	for i, r := range t.Rows {
		if len(r) == 0 {
			return NewValidationError(fmt.Sprintf("rows[%d]", i), "{}", ErrInvalidInput)
		}
	}
	return nil
}

var collectionName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,62}$`)

// ValidateCollection checks an index collection name.
func ValidateCollection(name string) error {
	if !collectionName.MatchString(name) {
		return NewValidationError("collection", name, ErrInvalidInput)
	}
	return nil
}
