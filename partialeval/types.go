package partialeval

import (
	"fmt"
	"strings"
)

// Exception edge policies.
const (
	// ExceptionEdgesAll connects every instruction in a protected range to
	// its handler.
	ExceptionEdgesAll = "all"
	// ExceptionEdgesThrowing connects only instructions that can throw.
	ExceptionEdgesThrowing = "throwing"
)

// Observer is called whenever the incoming state recorded for an offset is
// created or changes. It receives copies that it may keep.
type Observer func(offset int, vars *Variables, stack *Stack)

// Options configures the partial evaluator.
type Options struct {
	// Value precision: "particular" tracks constants, "typed" keeps only
	// types (default: "particular")
	Precision string `yaml:"precision" toml:"precision"`

	// EvaluateBranches follows only the taken successor of conditional
	// branches and switches whose operands are known (default: true)
	EvaluateBranches bool `yaml:"evaluate_branches" toml:"evaluate_branches"`

	// TrackProvenance records producer offsets for every slot and cell (default: false)
	TrackProvenance bool `yaml:"track_provenance" toml:"track_provenance"`

	// Limits that guarantee termination
	WideningThreshold       int `yaml:"widening_threshold" toml:"widening_threshold"`                 // Visits of an offset after which merges drop constants; 0 disables (default: 8)
	MaxVisitsPerInstruction int `yaml:"max_visits_per_instruction" toml:"max_visits_per_instruction"` // Visit budget per decoded instruction (default: 100)
	MaxVisits               int `yaml:"max_visits" toml:"max_visits"`                                 // Absolute visit budget per method; 0 means no absolute cap (default: 1000000)

	// ExceptionEdges is "all" or "throwing" (default: "all")
	ExceptionEdges string `yaml:"exception_edges" toml:"exception_edges"`

	// Logging configuration
	LogLevel             string `yaml:"log_level" toml:"log_level"`                             // "error", "warn", "info", "debug"; empty disables logging (default: "")
	LogTimeFormat        string `yaml:"log_time_format" toml:"log_time_format"`                 // strftime layout (default: DefaultTimeFormat)
	LogStackPreviewDepth int    `yaml:"log_stack_preview_depth" toml:"log_stack_preview_depth"` // Max stack values shown per step (default: 3)

	// Hooks supplied by the caller. They are never read from config files.
	InvocationUnit InvocationUnit `yaml:"-" toml:"-"` // nil means a BasicInvocationUnit
	Hierarchy      ClassHierarchy `yaml:"-" toml:"-"` // used for reference joins; may be nil
	Logger         Logger         `yaml:"-" toml:"-"` // overrides LogLevel when set
	Observer       Observer       `yaml:"-" toml:"-"`
}

// DefaultOptions returns the default configuration for evaluation.
func DefaultOptions() Options {
	return Options{
		Precision:               PrecisionParticular.String(),
		EvaluateBranches:        true,
		TrackProvenance:         false,
		WideningThreshold:       8,
		MaxVisitsPerInstruction: 100,
		MaxVisits:               1000000,
		ExceptionEdges:          ExceptionEdgesAll,
		LogLevel:                "",
		LogTimeFormat:           DefaultTimeFormat,
		LogStackPreviewDepth:    3,
	}
}

// Validate reports the first invalid setting.
func (o Options) Validate() error {
	if _, err := ParsePrecision(o.Precision); err != nil {
		return err
	}
	if o.WideningThreshold < 0 {
		return fmt.Errorf("widening_threshold must not be negative, got %d", o.WideningThreshold)
	}
	if o.MaxVisitsPerInstruction <= 0 {
		return fmt.Errorf("max_visits_per_instruction must be positive, got %d", o.MaxVisitsPerInstruction)
	}
	if o.MaxVisits < 0 {
		return fmt.Errorf("max_visits must not be negative, got %d", o.MaxVisits)
	}
	switch o.ExceptionEdges {
	case "", ExceptionEdgesAll, ExceptionEdgesThrowing:
	default:
		return fmt.Errorf("exception_edges must be %q or %q, got %q", ExceptionEdgesAll, ExceptionEdgesThrowing, o.ExceptionEdges)
	}
	if o.LogLevel != "" {
		switch strings.ToLower(o.LogLevel) {
		case "error", "warn", "warning", "info", "debug":
		default:
			return fmt.Errorf("unknown log_level %q", o.LogLevel)
		}
	}
	return nil
}

// visitBudget returns the total number of instruction visits allowed for a
// method with n instructions.
func (o Options) visitBudget(n int) int {
	budget := o.MaxVisitsPerInstruction * n
	if budget <= 0 {
		budget = 100 * n
	}
	if o.MaxVisits > 0 && budget > o.MaxVisits {
		budget = o.MaxVisits
	}
	return budget
}
