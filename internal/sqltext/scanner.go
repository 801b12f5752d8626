// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqltext

import (
	"fmt"
	"unicode/utf8"
)

// scanner walks SQL text rune by rune and knows how to jump over the parts of
// a statement that can never contain placeholders: comments, string literals
// and quoted identifiers.
type scanner struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
}

func newScanner(input string) *scanner {
	s := &scanner{input: input}
	if len(input) > 0 {
		var size int
		s.char, size = utf8.DecodeRuneInString(input)
		s.nextPos = size
	}
	return s
}

func (s *scanner) done() bool {
	return s.pos >= len(s.input)
}

// advanceChar moves the scanner to the next rune. It returns false once the
// end of input has been reached.
func (s *scanner) advanceChar() bool {
	if s.nextPos >= len(s.input) {
		s.char = 0
		s.pos = s.nextPos
		return false
	}
	var size int
	s.char, size = utf8.DecodeRuneInString(s.input[s.nextPos:])
	s.pos = s.nextPos
	s.nextPos += size
	return true
}

// advanceBytes moves the scanner n bytes forward.
func (s *scanner) advanceBytes(n int) {
	target := s.pos + n
	for s.pos < target && s.advanceChar() {
	}
}

type checkpoint struct {
	scanner *scanner
	pos     int
	nextPos int
	char    rune
}

func (s *scanner) save() *checkpoint {
	return &checkpoint{scanner: s, pos: s.pos, nextPos: s.nextPos, char: s.char}
}

func (cp *checkpoint) restore() {
	cp.scanner.pos = cp.pos
	cp.scanner.nextPos = cp.nextPos
	cp.scanner.char = cp.char
}

// skipOpaque jumps over a comment or quoted text starting at the current
// position.
func (s *scanner) skipOpaque() (bool, error) {
	if s.skipComment() {
		return true, nil
	}
	return s.skipStringLiteral()
}

// skipComment jumps over a "--" or "/* */" comment.
func (s *scanner) skipComment() bool {
	cp := s.save()
	c := s.char
	if s.skipChar('-') || s.skipChar('/') {
		if (c == '-' && s.skipChar('-')) || (c == '/' && s.skipChar('*')) {
			var end rune
			if c == '-' {
				end = '\n'
			} else {
				end = '*'
			}
			for s.pos < len(s.input) {
				if s.char == end {
					// A -- comment leaves the newline in place.
					if end == '*' {
						s.advanceChar()
						if !s.skipChar('/') {
							continue
						}
					}
					return true
				}
				s.advanceChar()
			}
			// Reached end of input (valid comment end).
			return true
		}
		cp.restore()
		return false
	}
	return false
}

// skipStringLiteral jumps over text in single quotes, double quotes or
// backticks. Doubled quote characters inside are escapes.
func (s *scanner) skipStringLiteral() (bool, error) {
	cp := s.save()

	c := s.char
	if s.skipChar('"') || s.skipChar('\'') || s.skipChar('`') {
		// We keep track of whether the next quote has been previously
		// escaped. If not, it might be a closing quote.
		maybeCloser := true
		for s.skipCharFind(c) {
			// If this looks like a closing quote, check if it might be an
			// escape for a following quote. If not, we're done.
			if maybeCloser && !s.peekChar(c) {
				return true, nil
			}
			maybeCloser = !maybeCloser
		}

		// Reached end of string and didn't find the closing quote
		cp.restore()
		return false, fmt.Errorf("missing closing quote in string literal at offset %d", cp.pos)
	}
	return false, nil
}

// peekChar returns true if the current char equals the one passed as parameter.
func (s *scanner) peekChar(c rune) bool {
	return s.pos < len(s.input) && s.char == c
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter.
func (s *scanner) skipChar(c rune) bool {
	if s.pos < len(s.input) && s.char == c {
		s.advanceChar()
		return true
	}
	return false
}

// skipCharFind looks for a char that matches the one passed as parameter and
// then advances the scanner to jump over it. If the end of the string is
// reached and no matching char was found, it returns false and it does not
// change the scanner.
func (s *scanner) skipCharFind(c rune) bool {
	cp := s.save()
	for s.pos < len(s.input) {
		if s.char == c {
			s.advanceChar()
			return true
		}
		s.advanceChar()
	}
	cp.restore()
	return false
}
