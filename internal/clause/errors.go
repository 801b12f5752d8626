// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package clause

import "fmt"

// SpecError reports a malformed query description: a clause of the wrong
// shape, or raw SQL whose placeholders do not match the values given.
type SpecError struct {
	msg string
}

func (e *SpecError) Error() string {
	return "invalid query: " + e.msg
}

func specErrorf(format string, args ...any) error {
	return &SpecError{msg: fmt.Sprintf(format, args...)}
}
