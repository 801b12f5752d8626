// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package sqltext inspects and rewrites placeholders in SQL text. Comments,
// string literals and quoted identifiers are never touched.
package sqltext

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// matcher is offered the unscanned rest of the input at every position
// outside comments and quoted text, together with the rune before it. When ok
// is true the first n bytes of rest are replaced by repl.
type matcher func(rest string, prev rune) (n int, repl string, ok bool)

// rewrite walks sql and applies match at every candidate position.
func rewrite(sql string, match matcher) (string, error) {
	var b strings.Builder
	s := newScanner(sql)
	mark := 0
	prev := rune(0)
	for !s.done() {
		start := s.pos
		skipped, err := s.skipOpaque()
		if err != nil {
			return "", err
		}
		if skipped {
			prev = 0
			continue
		}
		if n, repl, ok := match(sql[start:], prev); ok && n > 0 {
			b.WriteString(sql[mark:start])
			b.WriteString(repl)
			s.advanceBytes(n)
			mark = s.pos
			prev = 0
			continue
		}
		prev = s.char
		s.advanceChar()
	}
	if mark == 0 {
		return sql, nil
	}
	b.WriteString(sql[mark:])
	return b.String(), nil
}

// CountPositional returns the number of "?" placeholders in sql.
func CountPositional(sql string) (int, error) {
	count := 0
	_, err := rewrite(sql, func(rest string, _ rune) (int, string, bool) {
		if rest[0] == '?' {
			count++
		}
		return 0, "", false
	})
	return count, err
}

// ReplacePositional replaces every "?" placeholder in sql with the result of
// repl called with the zero-based placeholder index.
func ReplacePositional(sql string, repl func(i int) string) (string, error) {
	i := 0
	return rewrite(sql, func(rest string, _ rune) (int, string, bool) {
		if rest[0] != '?' {
			return 0, "", false
		}
		r := repl(i)
		i++
		return 1, r, true
	})
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// namedAt returns the length and name of a placeholder introduced by sigil at
// the start of rest. A doubled sigil (as in the "::" cast) is not a
// placeholder.
func namedAt(rest string, prev rune, sigil byte) (int, string) {
	if rest[0] != sigil || rune(sigil) == prev || len(rest) < 2 {
		return 0, ""
	}
	first, _ := utf8.DecodeRuneInString(rest[1:])
	if !isNameStart(first) {
		return 0, ""
	}
	end := 1
	for end < len(rest) {
		r, size := utf8.DecodeRuneInString(rest[end:])
		if !isNameRune(r) {
			break
		}
		end += size
	}
	return end, rest[1:end]
}

// Named returns the names of the placeholders in sql introduced by sigil
// (':' or '@'), in order of appearance, repeats included.
func Named(sql string, sigil byte) ([]string, error) {
	var names []string
	_, err := rewrite(sql, func(rest string, prev rune) (int, string, bool) {
		if n, name := namedAt(rest, prev, sigil); n > 0 {
			names = append(names, name)
			// Jump over the name so that its tail is not matched again.
			return n, rest[:n], true
		}
		return 0, "", false
	})
	return names, err
}

// Positional rewrites the "@name" placeholders in sql whose names are keys
// of params into "$1", "$2", ... and returns the arguments in matching order.
// A name used more than once is bound once. Names that are not keys of params
// are left alone, so operators such as "@>" survive.
func Positional(sql string, params map[string]any) (string, []any, error) {
	var args []any
	index := map[string]int{}
	out, err := rewrite(sql, func(rest string, prev rune) (int, string, bool) {
		n, name := namedAt(rest, prev, '@')
		if n == 0 {
			return 0, "", false
		}
		v, ok := params[name]
		if !ok {
			return n, rest[:n], true
		}
		i, seen := index[name]
		if !seen {
			args = append(args, v)
			i = len(args)
			index[name] = i
		}
		return n, "$" + strconv.Itoa(i), true
	})
	if err != nil {
		return "", nil, err
	}
	if len(index) != len(params) {
		for name := range params {
			if _, ok := index[name]; !ok {
				return "", nil, fmt.Errorf("parameter %q not used in statement", name)
			}
		}
	}
	return out, args, nil
}

var rowKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "PRAGMA": true,
	"EXPLAIN": true, "SHOW": true, "TABLE": true,
}

// ReturnsRows reports whether sql is a statement that produces a result set:
// one starting with a query keyword, or one with a RETURNING clause.
func ReturnsRows(sql string) bool {
	first := ""
	returning := false
	_, err := rewrite(sql, func(rest string, prev rune) (int, string, bool) {
		r, _ := utf8.DecodeRuneInString(rest)
		if !isNameStart(r) || isNameRune(prev) {
			return 0, "", false
		}
		end := 0
		for end < len(rest) {
			r, size := utf8.DecodeRuneInString(rest[end:])
			if !isNameRune(r) {
				break
			}
			end += size
		}
		word := strings.ToUpper(rest[:end])
		if first == "" {
			first = word
		}
		if word == "RETURNING" {
			returning = true
		}
		return end, rest[:end], true
	})
	if err != nil {
		return false
	}
	return rowKeywords[first] || returning
}
