package simulation

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic codes emitted by the pipeline.
const (
	CodeIterationsExceedBootstrap = "iterations_exceed_bootstrap"
	CodeInvalidInput              = "invalid_input"
	CodeAllocation                = "allocation"
)

// Diagnostic is a human-readable condition reported alongside a result.
// Warnings never abort execution.
type Diagnostic struct {
	Severity Severity `json:"severity" msgpack:"severity"`
	Code     string   `json:"code" msgpack:"code"`
	Message  string   `json:"message" msgpack:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s]: %s", d.Severity, d.Code, d.Message)
}

// DiagnosticSink receives diagnostics from the pipeline stages.
type DiagnosticSink interface {
	Report(d Diagnostic)
}

// NopSink discards every diagnostic.
type NopSink struct{}

// Report implements DiagnosticSink.
func (NopSink) Report(Diagnostic) {}

// LogSink writes diagnostics to a zerolog logger.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink that logs warnings at Warn and errors at Error.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "diagnostics").Logger()}
}

// Report implements DiagnosticSink.
func (s *LogSink) Report(d Diagnostic) {
	event := s.log.Warn()
	if d.Severity == SeverityError {
		event = s.log.Error()
	}
	event.Str("code", d.Code).Msg(d.Message)
}

// Collector accumulates diagnostics and optionally forwards them. It is safe
// for concurrent use so that parallel asset simulations can share one.
type Collector struct {
	mu          sync.Mutex
	diagnostics []Diagnostic
	next        DiagnosticSink
}

// NewCollector creates a collector forwarding to next (which may be nil).
func NewCollector(next DiagnosticSink) *Collector {
	return &Collector{next: next}
}

// Report implements DiagnosticSink.
func (c *Collector) Report(d Diagnostic) {
	c.mu.Lock()
	c.diagnostics = append(c.diagnostics, d)
	c.mu.Unlock()

	if c.next != nil {
		c.next.Report(d)
	}
}

// Diagnostics returns a copy of everything reported so far.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Diagnostic, len(c.diagnostics))
	copy(out, c.diagnostics)
	return out
}

func warn(sink DiagnosticSink, code, format string, args ...interface{}) {
	if sink == nil {
		return
	}
	sink.Report(Diagnostic{
		Severity: SeverityWarning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}
