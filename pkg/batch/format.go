package batch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/speakeasy-api/jvmeval/partialeval"
)

// FormatDiagnostics turns the failures of a report into a user-facing
// message. It returns "" when nothing failed.
func FormatDiagnostics(r *Report) string {
	failed := r.Failed()
	if len(failed) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d methods could not be analyzed.\n", len(failed), len(r.Results))
	for _, res := range failed {
		msg, hint := classifyAndHint(res.Diagnostic)
		fmt.Fprintf(&b, "- %s: %s\n", res.Name(), msg)
		if loc := location(res.Diagnostic); loc != "" {
			fmt.Fprintf(&b, "  Location: %s\n", loc)
		}
		if hint != "" {
			fmt.Fprintf(&b, "  How to fix: %s\n", hint)
		}
		if details := details(res); details != "" {
			fmt.Fprintf(&b, "  Details: %s\n", details)
		}
	}
	return b.String()
}

func location(d *partialeval.Diagnostic) string {
	if d == nil {
		return ""
	}
	if d.Instruction == "" {
		return fmt.Sprintf("offset %d", d.Offset)
	}
	return fmt.Sprintf("offset %d (%s)", d.Offset, d.Instruction)
}

func classifyAndHint(d *partialeval.Diagnostic) (msg, hint string) {
	if d == nil {
		return "Analysis error.", ""
	}
	switch {
	case errors.Is(d, partialeval.ErrStackUnderflow):
		msg = "An instruction pops more values than the operand stack holds."
		hint = "Check the preceding instructions along every path into this offset."
	case errors.Is(d, partialeval.ErrStackOverflow):
		msg = "The operand stack grows beyond max_stack."
		hint = "Recompute max_stack for the Code attribute."
	case errors.Is(d, partialeval.ErrTypeMismatch):
		msg = "An instruction consumes a value of the wrong kind."
		hint = "Make sure the load, store or arithmetic opcode matches the operand's type."
	case errors.Is(d, partialeval.ErrInconsistentStack):
		msg = "Two paths reach the same instruction with differently shaped stacks."
		hint = "Balance the stack on both branches before they join."
	case errors.Is(d, partialeval.ErrInvalidVariable):
		msg = "A local variable index lies outside max_locals."
		hint = "Recompute max_locals, or check that category-2 values are not stored in the last slot."
	case errors.Is(d, partialeval.ErrInvalidBranch):
		msg = "A branch or handler target is not the start of an instruction."
		hint = "Recompute branch offsets after editing the code."
	case errors.Is(d, partialeval.ErrInvalidCode):
		msg = "The method body cannot be decoded."
		hint = "The class file is truncated or was produced by a broken tool."
	default:
		msg = "Analysis error."
	}
	return
}

func details(res Result) string {
	d := res.Diagnostic
	if d == nil {
		return strings.TrimSpace(res.Error)
	}
	if d.Expected == "" && d.Found == "" {
		return ""
	}
	if d.Expected == "" {
		return d.Found
	}
	return fmt.Sprintf("expected %s, found %s", d.Expected, orNothing(d.Found))
}

func orNothing(s string) string {
	if s == "" {
		return "nothing"
	}
	return s
}
