package fault

import (
	"fmt"
	"time"
)

// Span is one operation inside a distributed trace. Duration is microseconds.
type Span struct {
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
	Operation string `json:"operation_name"`
	Duration  int64  `json:"duration"`
	Status    string `json:"status,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

// Failed reports whether the span carries an explicit error marker: either the
// error flag or a status outside {ok, unset}.
func (s Span) Failed() bool {
	if s.Error {
		return true
	}
	switch s.Status {
	case "", "ok", "unset":
		return false
	}
	return true
}

// Trace is the distributed trace captured while a plan was active.
type Trace struct {
	TraceID string `json:"trace_id,omitempty"`
	Spans   []Span `json:"spans"`
}

// Operations returns the span operation names in trace order.
func (t *Trace) Operations() []string {
	ops := make([]string, len(t.Spans))
	for i, s := range t.Spans {
		ops[i] = s.Operation
	}
	return ops
}

// Observation is what the target system looked like after one plan was
// applied. Every field is optional, but at least one must be present.
type Observation struct {
	StatusCode *int      `json:"status_code,omitempty"`
	LatencyMS  *float64  `json:"latency_ms,omitempty"`
	ErrorRate  *float64  `json:"error_rate,omitempty"`
	Logs       []string  `json:"error_logs,omitempty"`
	Trace      *Trace    `json:"trace_data,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// Validate checks field ranges and that the observation is not empty.
func (o *Observation) Validate() error {
	if o.StatusCode == nil && o.LatencyMS == nil && o.ErrorRate == nil && len(o.Logs) == 0 && o.Trace == nil {
		return fmt.Errorf("observation: at least one field must be present")
	}
	if o.StatusCode != nil && (*o.StatusCode < 100 || *o.StatusCode > 599) {
		return fmt.Errorf("observation: status_code %d out of range [100,599]", *o.StatusCode)
	}
	if o.LatencyMS != nil && *o.LatencyMS < 0 {
		return fmt.Errorf("observation: latency_ms must not be negative")
	}
	if o.ErrorRate != nil && (*o.ErrorRate < 0 || *o.ErrorRate > 1) {
		return fmt.Errorf("observation: error_rate %v out of range [0,1]", *o.ErrorRate)
	}
	return nil
}
