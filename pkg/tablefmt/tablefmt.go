// Package tablefmt renders evaluation tables as aligned text, one row per
// instruction.
package tablefmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/speakeasy-api/jvmeval"
	"github.com/speakeasy-api/jvmeval/partialeval"
)

// Columns that may be selected, in their default order.
const (
	ColOffset         = "offset"
	ColInstruction    = "instruction"
	ColVisits         = "visits"
	ColStack          = "stack"
	ColVariables      = "variables"
	ColStackAfter     = "stackAfter"
	ColVariablesAfter = "variablesAfter"
	ColSuccessors     = "successors"
)

var validColumns = []string{
	ColOffset,
	ColInstruction,
	ColVisits,
	ColStack,
	ColVariables,
	ColStackAfter,
	ColVariablesAfter,
	ColSuccessors,
}

// Config selects what is rendered.
type Config struct {
	// Columns in output order. Empty means offset, instruction, stack and
	// variables.
	Columns []string `yaml:"columns"`

	// MaxWidth truncates cells wider than this many terminal cells. 0
	// disables truncation.
	MaxWidth int `yaml:"max_width"`

	// Unreachable also lists instructions evaluation never reached.
	Unreachable bool `yaml:"unreachable"`
}

// ValidateConfig normalizes column names, which match case-insensitively,
// and fills in defaults.
func ValidateConfig(cfg Config) (Config, error) {
	if len(cfg.Columns) == 0 {
		cfg.Columns = []string{ColOffset, ColInstruction, ColStack, ColVariables}
	}
	cols := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		valid := false
		for _, vc := range validColumns {
			if strings.EqualFold(col, vc) {
				cols[i] = vc
				valid = true
			}
		}
		if !valid {
			return cfg, fmt.Errorf("invalid column %q; valid columns: %s", col, strings.Join(validColumns, ", "))
		}
	}
	cfg.Columns = cols
	if cfg.MaxWidth < 0 {
		return cfg, fmt.Errorf("max_width must not be negative, got %d", cfg.MaxWidth)
	}
	return cfg, nil
}

// Rows returns the header and one row per instruction. Cells of
// unreachable instructions other than offset and instruction are "-".
func Rows(t *partialeval.Table, cfg Config) ([]string, [][]string, error) {
	cfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	m := t.Method()
	if m == nil || m.Code == nil {
		return nil, nil, fmt.Errorf("table has no code")
	}

	var rows [][]string
	for _, ins := range m.Code.Instructions() {
		state, ok := t.State(ins.Offset())
		if !ok && !cfg.Unreachable {
			continue
		}
		row := make([]string, len(cfg.Columns))
		for i, col := range cfg.Columns {
			row[i] = truncate(cell(col, ins, state), cfg.MaxWidth)
		}
		rows = append(rows, row)
	}
	return append([]string(nil), cfg.Columns...), rows, nil
}

func cell(col string, ins jvmeval.Instruction, s *partialeval.InstructionState) string {
	switch col {
	case ColOffset:
		return strconv.Itoa(ins.Offset())
	case ColInstruction:
		return ins.String()
	}
	if s == nil {
		return "-"
	}
	switch col {
	case ColVisits:
		return strconv.Itoa(s.Visits())
	case ColStack:
		return s.Stack().String()
	case ColVariables:
		return s.Variables().String()
	case ColStackAfter:
		if s.StackAfter() == nil {
			return "-"
		}
		return s.StackAfter().String()
	case ColVariablesAfter:
		if s.VariablesAfter() == nil {
			return "-"
		}
		return s.VariablesAfter().String()
	case ColSuccessors:
		succ := s.Successors()
		parts := make([]string, len(succ))
		for i, off := range succ {
			parts[i] = strconv.Itoa(off)
		}
		return strings.Join(parts, ",")
	}
	return ""
}

func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Render formats t as a heading line, aligned rows and, if the method
// returns, its return value.
func Render(t *partialeval.Table, cfg Config) (string, error) {
	header, rows, err := Rows(t, cfg)
	if err != nil {
		return "", err
	}

	widths := make([]int, len(header))
	for _, row := range append([][]string{header}, rows...) {
		for i, c := range row {
			if w := runewidth.StringWidth(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	b.WriteString(t.Method().String())
	if t.Aborted() {
		b.WriteString(" (aborted)")
	}
	fmt.Fprintf(&b, ": %d visits\n", t.Visits())
	for _, row := range append([][]string{header}, rows...) {
		for i, c := range row {
			if i == len(row)-1 {
				b.WriteString(c)
				break
			}
			b.WriteString(runewidth.FillRight(c, widths[i]))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}
	if v, ok := t.ReturnValue(); ok {
		fmt.Fprintf(&b, "returns %s\n", v)
	}
	return b.String(), nil
}
