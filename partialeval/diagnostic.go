package partialeval

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds of malformed code. A *Diagnostic matches one of them with errors.Is.
var (
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrTypeMismatch      = errors.New("operand type mismatch")
	ErrInconsistentStack = errors.New("inconsistent stack at merge point")
	ErrInvalidVariable   = errors.New("invalid local variable index")
	ErrInvalidBranch     = errors.New("invalid branch target")
	ErrInvalidCode       = errors.New("invalid code")
)

// Diagnostic describes why a method could not be analyzed.
type Diagnostic struct {
	Class       string
	Method      string
	Offset      int
	Instruction string
	Expected    string
	Found       string
	Kind        error
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	if d.Class != "" || d.Method != "" {
		fmt.Fprintf(&b, "%s.%s: ", d.Class, d.Method)
	}
	fmt.Fprintf(&b, "offset %d", d.Offset)
	if d.Instruction != "" {
		fmt.Fprintf(&b, " (%s)", d.Instruction)
	}
	fmt.Fprintf(&b, ": %v", d.Kind)
	if d.Expected != "" || d.Found != "" {
		fmt.Fprintf(&b, ": expected %s, found %s", orNone(d.Expected), orNone(d.Found))
	}
	return b.String()
}

func (d *Diagnostic) Unwrap() error { return d.Kind }

func orNone(s string) string {
	if s == "" {
		return "nothing"
	}
	return s
}

// shapeError is raised by panic inside state operations and recovered by
// the evaluator, which attaches the offset and instruction.
type shapeError struct {
	kind     error
	expected string
	found    string
}

func raise(kind error, expected, found string) {
	panic(shapeError{kind: kind, expected: expected, found: found})
}

// catchShape converts a recovered shapeError into err. Other panics are
// re-raised.
func catchShape(err *shapeError) {
	if r := recover(); r != nil {
		se, ok := r.(shapeError)
		if !ok {
			panic(r)
		}
		*err = se
	}
}
