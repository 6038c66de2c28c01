package partialeval

import (
	"fmt"
	"os"
	"strings"

	"github.com/speakeasy-api/jvmeval"
)

// PartialEvaluator evaluates method bodies over the abstract value lattice.
// A PartialEvaluator holds only configuration; every call owns its own
// state, so one evaluator may serve concurrent calls as long as its
// InvocationUnit and Hierarchy are safe for concurrent use.
type PartialEvaluator struct {
	opts      Options
	precision Precision
	factory   *ValueFactory
	unit      InvocationUnit
	logger    Logger
}

// NewPartialEvaluator validates opts and returns an evaluator.
func NewPartialEvaluator(opts Options) (*PartialEvaluator, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	precision, _ := ParsePrecision(opts.Precision)
	if opts.ExceptionEdges == "" {
		opts.ExceptionEdges = ExceptionEdgesAll
	}

	unit := opts.InvocationUnit
	if unit == nil {
		unit = NewBasicInvocationUnit()
	}

	logger := opts.Logger
	if logger == nil {
		if opts.LogLevel != "" {
			logger = NewLoggerWithTimeFormat(ParseLogLevel(opts.LogLevel), os.Stderr, opts.LogTimeFormat)
		} else {
			logger = NewNoopLogger()
		}
	}

	return &PartialEvaluator{
		opts:      opts,
		precision: precision,
		factory:   NewValueFactory(precision, opts.Hierarchy),
		unit:      unit,
		logger:    logger,
	}, nil
}

// Options returns the evaluator's configuration.
func (p *PartialEvaluator) Options() Options { return p.opts }

// Factory returns the value factory used for joins.
func (p *PartialEvaluator) Factory() *ValueFactory { return p.factory }

// Evaluate runs m to a fixpoint with entry values from the invocation unit.
func (p *PartialEvaluator) Evaluate(m *jvmeval.Method) (*Table, error) {
	return p.evaluate(m, nil)
}

// EvaluateWith runs m with caller-supplied entry values, one per parameter
// with the receiver first for instance methods. Each value must have the
// kind its parameter declares.
func (p *PartialEvaluator) EvaluateWith(m *jvmeval.Method, params []Value) (*Table, error) {
	if params == nil {
		params = []Value{}
	}
	return p.evaluate(m, params)
}

func (p *PartialEvaluator) evaluate(m *jvmeval.Method, params []Value) (*Table, error) {
	if m == nil || m.Code == nil {
		return nil, fmt.Errorf("method has no code")
	}
	e := &evaluation{
		method:   m,
		ref:      m.Ref(),
		opts:     p.opts,
		unit:     p.unit,
		factory:  p.factory,
		resolver: NewBranchResolver(m.Code),
		logger:   p.logger.With(map[string]any{"method": m.String()}),
		debug:    strings.EqualFold(p.opts.LogLevel, "debug"),
		trace:    tracer(p.opts.TrackProvenance),
		table:    newTable(m, p.precision),
		budget:   p.opts.visitBudget(len(m.Code.Instructions())),
	}

	if _, _, err := jvmeval.ParseMethodDescriptor(m.Descriptor); err != nil {
		return nil, e.diagnostic(0, "", shapeError{kind: ErrInvalidCode, expected: "a method descriptor", found: m.Descriptor})
	}
	declared := NewBasicInvocationUnit().Parameters(m)
	if params == nil {
		params = p.unit.Parameters(m)
		if !sameKinds(params, declared) {
			e.logger.Warnf("Invocation unit returned %d parameters of the wrong shape, using declared types", len(params))
			params = declared
		}
	} else if !sameKinds(params, declared) {
		return nil, e.diagnostic(0, "", shapeError{
			kind:     ErrTypeMismatch,
			expected: kindList(declared),
			found:    kindList(params),
		})
	}
	return e.run(params)
}

func sameKinds(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].kind != b[i].kind {
			return false
		}
	}
	return true
}

func kindList(vs []Value) string {
	kinds := make([]string, len(vs))
	for i, v := range vs {
		kinds[i] = v.kind.String()
	}
	return fmt.Sprintf("parameters %v", kinds)
}

// Evaluate is a convenience wrapper that builds an evaluator from opts
// (DefaultOptions when omitted) and evaluates m.
func Evaluate(m *jvmeval.Method, opts ...Options) (*Table, error) {
	o := DefaultOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	p, err := NewPartialEvaluator(o)
	if err != nil {
		return nil, err
	}
	return p.Evaluate(m)
}
