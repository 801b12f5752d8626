// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"strings"
	"unicode"
)

type wordSet map[string]bool

func newWordSet(words ...string) wordSet {
	s := make(wordSet, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}

// match returns the canonical spelling of an operator: upper case with single
// spaces between words.
func (s wordSet) match(op string) (string, bool) {
	op = strings.Join(strings.Fields(strings.ToUpper(op)), " ")
	return op, s[op]
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// needsQuote reports whether name must be quoted to be used as an
// identifier: it is empty, reserved, starts with a digit or contains a
// character that is not a word character.
func needsQuote(name string, reserved wordSet) bool {
	if name == "" || reserved[strings.ToUpper(name)] {
		return true
	}
	for i, r := range name {
		if !isWord(r) || (i == 0 && unicode.IsDigit(r)) {
			return true
		}
	}
	return false
}

// isLower reports whether name has cased characters and all of them are
// lower case.
func isLower(name string) bool {
	cased := false
	for _, r := range name {
		switch {
		case unicode.IsUpper(r) || unicode.IsTitle(r):
			return false
		case unicode.IsLower(r):
			cased = true
		}
	}
	return cased
}
