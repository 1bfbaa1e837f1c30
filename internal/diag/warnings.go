package diag

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Warning carries an offending offset and field for a downgradable
// condition: tolerated when strict-format-checking is off.
type Warning struct {
	Op     string
	Offset int64
	Field  string
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: field %q at offset %d: %s", w.Op, w.Field, w.Offset, w.Detail)
}

// Sink receives warnings as they occur: an injected
// logger handle held by the file handle in place of a process-wide
// logger/warnings registry.
type Sink interface {
	Warn(w Warning)
	Warnings() []Warning
}

// Collector accumulates warnings in memory via go-multierror so that
// non-strict-mode runs can report every downgraded condition at the end of
// a run instead of only the first one.
type Collector struct {
	warnings []Warning
	errs     *multierror.Error
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Warn(w Warning) {
	c.warnings = append(c.warnings, w)
	c.errs = multierror.Append(c.errs, fmt.Errorf("%s", w.String()))
}

func (c *Collector) Warnings() []Warning {
	return c.warnings
}

// Summary returns the accumulated warnings as a single multierror, or nil
// if none were recorded.
func (c *Collector) Summary() error {
	if c.errs == nil {
		return nil
	}
	return c.errs.ErrorOrNil()
}

// Count returns the number of warnings recorded so far.
func (c *Collector) Count() int {
	return len(c.warnings)
}

// NopSink discards every warning; used when a caller has no interest in
// diagnostics (e.g. library callers that only check returned errors).
type NopSink struct{}

func (NopSink) Warn(Warning)        {}
func (NopSink) Warnings() []Warning { return nil }
