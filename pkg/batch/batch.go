// Package batch evaluates every method of a class pool concurrently and
// collects the outcomes into a report. A method that cannot be analyzed is
// recorded with its diagnostic and the batch continues.
package batch

import (
	"runtime"
	"time"

	"github.com/speakeasy-api/jvmeval/partialeval"
	"gopkg.in/yaml.v3"
)

// Status is the outcome of analyzing one method.
type Status string

const (
	StatusOK      Status = "ok"
	StatusAborted Status = "aborted" // visit budget exhausted, conservative table
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // no code, or the batch was canceled first
)

// Config controls an Analyzer.
type Config struct {
	// Workers is the number of concurrent evaluations (default: NumCPU)
	Workers int `yaml:"workers"`

	// CacheSize is the number of results kept across Analyze calls, keyed
	// by method identity and code. 0 disables caching. The cache is not
	// consulted when RecordSummaries is set.
	CacheSize int `yaml:"cache_size"`

	// RecordSummaries collects field writes, call arguments and results of
	// all methods into Report.Summaries.
	RecordSummaries bool `yaml:"record_summaries"`

	// KeepTables retains each method's Table in its Result.
	KeepTables bool `yaml:"keep_tables"`

	// Evaluation configures each evaluation. Its Hierarchy is replaced by
	// the analyzed pool.
	Evaluation partialeval.Options `yaml:"evaluation"`
}

// DefaultConfig returns the default batch configuration.
func DefaultConfig() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		CacheSize:  1024,
		Evaluation: partialeval.DefaultOptions(),
	}
}

// Result is the outcome for one method.
type Result struct {
	Class       string        `yaml:"class"`
	Method      string        `yaml:"method"`
	Descriptor  string        `yaml:"descriptor"`
	Status      Status        `yaml:"status"`
	Visits      int           `yaml:"visits,omitempty"`
	Fingerprint string        `yaml:"fingerprint,omitempty"`
	Cached      bool          `yaml:"cached,omitempty"`
	Duration    time.Duration `yaml:"-"`
	Error       string        `yaml:"error,omitempty"`

	// Diagnostic is set for malformed code.
	Diagnostic *partialeval.Diagnostic `yaml:"-"`
	Table      *partialeval.Table      `yaml:"-"`
}

// Name returns Class.Method+Descriptor.
func (r *Result) Name() string {
	return r.Class + "." + r.Method + r.Descriptor
}

// Report collects the results of one Analyze call in class and method
// declaration order.
type Report struct {
	Results []Result         `yaml:"methods"`
	Counts  map[Status]int   `yaml:"counts"`
	Metrics map[string]int64 `yaml:"metrics,omitempty"`

	Summaries *partialeval.Summaries `yaml:"-"`
}

// Failed returns the results with StatusFailed.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Find returns the result for a method.
func (r *Report) Find(class, method, descriptor string) (*Result, bool) {
	for i := range r.Results {
		res := &r.Results[i]
		if res.Class == class && res.Method == method && res.Descriptor == descriptor {
			return res, true
		}
	}
	return nil, false
}

// YAML renders the report.
func (r *Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}
