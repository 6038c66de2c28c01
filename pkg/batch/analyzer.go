package batch

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/panjf2000/ants/v2"
	"github.com/rcrowley/go-metrics"
	"github.com/speakeasy-api/jvmeval"
	"github.com/speakeasy-api/jvmeval/partialeval"
	"github.com/speakeasy-api/jvmeval/pkg/classfile"
)

// Analyzer runs partial evaluation over class pools. It may be reused
// across pools; results of methods with identical code, constant operands
// and class hierarchy are served from its cache.
type Analyzer struct {
	cfg    Config
	cache  *lru.Cache
	logger partialeval.Logger

	registry  metrics.Registry
	evaluated metrics.Counter
	failed    metrics.Counter
	aborted   metrics.Counter
	skipped   metrics.Counter
	cacheHits metrics.Counter
	visits    metrics.Histogram
	evalTimer metrics.Timer
}

// NewAnalyzer validates cfg and returns an analyzer.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("cache_size must not be negative, got %d", cfg.CacheSize)
	}
	if err := cfg.Evaluation.Validate(); err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:      cfg,
		logger:   cfg.Evaluation.Logger,
		registry: metrics.NewRegistry(),
	}
	if a.logger == nil {
		if cfg.Evaluation.LogLevel != "" {
			a.logger = partialeval.NewLoggerWithTimeFormat(partialeval.ParseLogLevel(cfg.Evaluation.LogLevel), os.Stderr, cfg.Evaluation.LogTimeFormat)
		} else {
			a.logger = partialeval.NewNoopLogger()
		}
		a.cfg.Evaluation.Logger = a.logger
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		a.cache = cache
	}
	a.evaluated = metrics.NewRegisteredCounter("batch/methods/evaluated", a.registry)
	a.failed = metrics.NewRegisteredCounter("batch/methods/failed", a.registry)
	a.aborted = metrics.NewRegisteredCounter("batch/methods/aborted", a.registry)
	a.skipped = metrics.NewRegisteredCounter("batch/methods/skipped", a.registry)
	a.cacheHits = metrics.NewRegisteredCounter("batch/cache/hits", a.registry)
	a.visits = metrics.NewRegisteredHistogram("batch/visits", a.registry, metrics.NewUniformSample(1028))
	a.evalTimer = metrics.NewRegisteredTimer("batch/evaluate/time", a.registry)
	return a, nil
}

// Metrics returns the analyzer's registry. Counters accumulate across
// Analyze calls.
func (a *Analyzer) Metrics() metrics.Registry { return a.registry }

type job struct {
	index int
	class *classfile.ClassFile
	info  *classfile.MethodInfo

	// hierarchy is the digest of the pool the method was loaded from.
	hierarchy []byte
}

// Analyze evaluates every method with code in pool. Failures of individual
// methods are reported in the result, not as an error. Canceling ctx stops
// the submission of further methods; those are reported as skipped and
// ctx's error is returned together with the partial report.
func (a *Analyzer) Analyze(ctx context.Context, pool *classfile.ClassPool) (*Report, error) {
	opts := a.cfg.Evaluation
	opts.Hierarchy = pool
	report := &Report{Counts: make(map[Status]int)}
	if a.cfg.RecordSummaries {
		precision, err := partialeval.ParsePrecision(opts.Precision)
		if err != nil {
			return nil, err
		}
		report.Summaries = partialeval.NewSummaries(partialeval.NewValueFactory(precision, pool), pool)
		opts.InvocationUnit = partialeval.NewStoringInvocationUnit(report.Summaries, opts.InvocationUnit)
	}
	evaluator, err := partialeval.NewPartialEvaluator(opts)
	if err != nil {
		return nil, err
	}

	var jobs []job
	var hierarchy []byte
	if a.cache != nil && !a.cfg.RecordSummaries {
		hierarchy = hierarchyDigest(pool)
	}
	for _, name := range pool.Names() {
		cf, _ := pool.Class(name)
		for i := range cf.Methods {
			mi := &cf.Methods[i]
			report.Results = append(report.Results, Result{
				Class:      name,
				Method:     mi.Name,
				Descriptor: mi.Descriptor,
				Status:     StatusSkipped,
			})
			if mi.Code != nil {
				jobs = append(jobs, job{index: len(report.Results) - 1, class: cf, info: mi, hierarchy: hierarchy})
			}
		}
	}
	a.logger.Infof("Analyzing %d methods of %d classes with %d workers", len(jobs), pool.Len(), a.cfg.Workers)

	workers, err := ants.NewPool(a.cfg.Workers, ants.WithExpiryDuration(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("starting worker pool: %w", err)
	}
	defer workers.Release()

	var wg sync.WaitGroup
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		j := j
		wg.Add(1)
		err := workers.Submit(func() {
			defer wg.Done()
			a.analyze(evaluator, j, &report.Results[j.index])
		})
		if err != nil {
			wg.Done()
			res := &report.Results[j.index]
			res.Status, res.Error = StatusFailed, fmt.Sprintf("submitting: %v", err)
		}
	}
	wg.Wait()

	for i := range report.Results {
		res := &report.Results[i]
		report.Counts[res.Status]++
		if res.Status == StatusSkipped {
			a.skipped.Inc(1)
		}
	}
	report.Metrics = a.snapshot()
	a.logger.Infof("Analysis finished: %d ok, %d aborted, %d failed, %d skipped",
		report.Counts[StatusOK], report.Counts[StatusAborted], report.Counts[StatusFailed], report.Counts[StatusSkipped])
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// analyze evaluates one method into res. It runs on a worker.
func (a *Analyzer) analyze(evaluator *partialeval.PartialEvaluator, j job, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res.Status, res.Error = StatusFailed, fmt.Sprintf("panic: %v", r)
			a.failed.Inc(1)
			a.logger.Errorf("Evaluation of %s panicked: %v", res.Name(), r)
		}
	}()

	m, err := j.class.Method(j.info)
	if err != nil {
		a.fail(res, decodeDiagnostic(res, err))
		return
	}

	var key string
	if a.cache != nil && !a.cfg.RecordSummaries {
		key = cacheKey(m, j.hierarchy)
		if cached, ok := a.cache.Get(key); ok {
			*res = cached.(Result)
			res.Cached = true
			a.cacheHits.Inc(1)
			return
		}
	}

	start := time.Now()
	table, err := evaluator.Evaluate(m)
	res.Duration = time.Since(start)
	a.evalTimer.Update(res.Duration)
	a.evaluated.Inc(1)
	if err != nil {
		a.fail(res, err)
		return
	}

	res.Status = StatusOK
	if table.Aborted() {
		res.Status = StatusAborted
		a.aborted.Inc(1)
	}
	res.Visits = table.Visits()
	res.Fingerprint = table.Fingerprint()
	a.visits.Update(int64(res.Visits))
	if a.cfg.KeepTables {
		res.Table = table
	}
	if key != "" {
		a.cache.Add(key, *res)
	}
}

func (a *Analyzer) fail(res *Result, err error) {
	res.Status = StatusFailed
	res.Error = err.Error()
	var diag *partialeval.Diagnostic
	if errors.As(err, &diag) {
		res.Diagnostic = diag
	}
	a.failed.Inc(1)
	a.logger.Warnf("Skipping %s: %v", res.Name(), err)
}

// decodeDiagnostic reports undecodable code as malformed.
func decodeDiagnostic(res *Result, err error) error {
	var de *jvmeval.DecodeError
	if !errors.As(err, &de) {
		return err
	}
	return &partialeval.Diagnostic{
		Class:       res.Class,
		Method:      res.Method + res.Descriptor,
		Offset:      de.Offset,
		Instruction: de.Opcode.String(),
		Found:       de.Reason,
		Kind:        partialeval.ErrInvalidCode,
	}
}

// cacheKey identifies a method by name and by everything evaluation reads:
// its body, the resolved constant pool operands of its instructions and the
// class hierarchy digest of its pool.
func cacheKey(m *jvmeval.Method, hierarchy []byte) string {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(n int) {
		binary.BigEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	writeString := func(s string) {
		writeInt(len(s))
		h.Write([]byte(s))
	}
	writeInt(int(m.AccessFlags))
	writeInt(m.MaxStack)
	writeInt(m.MaxLocals)
	code := m.Code.Bytes()
	writeInt(len(code))
	h.Write(code)
	for _, e := range m.Handlers {
		writeInt(e.Start)
		writeInt(e.End)
		writeInt(e.Handler)
		writeString(e.CatchType)
	}
	for _, i := range m.Code.Instructions() {
		if ci, ok := i.(*jvmeval.ConstantInstruction); ok {
			writeInt(ci.Offset())
			writeString(operand(m.Pool, ci.Index))
		}
	}
	writeInt(len(hierarchy))
	h.Write(hierarchy)
	return fmt.Sprintf("%s#%x", m, h.Sum(nil))
}

// operand renders the constant pool entry at index, whatever its kind.
func operand(pool jvmeval.ConstantPool, index uint16) string {
	if pool == nil {
		return ""
	}
	if c, err := pool.Constant(index); err == nil {
		return fmt.Sprintf("const:%d:%d:%d:%x:%x:%s", c.Kind, c.Int, c.Long,
			math.Float32bits(c.Float), math.Float64bits(c.Double), c.Text)
	}
	if ref, err := pool.MemberRef(index); err == nil {
		return "member:" + ref.String()
	}
	if name, err := pool.ClassName(index); err == nil {
		return "class:" + name
	}
	return fmt.Sprintf("invalid:%d", index)
}

// hierarchyDigest hashes the superclass and interface links of every class
// in pool, which is all reference joins read from it.
func hierarchyDigest(pool *classfile.ClassPool) []byte {
	h := sha256.New()
	for _, name := range pool.Names() {
		cf, _ := pool.Class(name)
		fmt.Fprintf(h, "%s<%s", name, cf.SuperName())
		for _, i := range cf.InterfaceNames() {
			fmt.Fprintf(h, ",%s", i)
		}
		h.Write([]byte{'\n'})
	}
	return h.Sum(nil)
}

// snapshot flattens the registry into name/value pairs.
func (a *Analyzer) snapshot() map[string]int64 {
	out := make(map[string]int64)
	a.registry.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Histogram:
			s := m.Snapshot()
			out[name+"/count"] = s.Count()
			out[name+"/max"] = s.Max()
		case metrics.Timer:
			s := m.Snapshot()
			out[name+"/count"] = s.Count()
			out[name+"/mean_ns"] = int64(s.Mean())
		}
	})
	return out
}
