// Package diagnostics reports non-fatal pass-level problems to the user,
// generalized from the teacher's internal/errors package (ErrorReporter,
// leveled colorized rendering via github.com/fatih/color) from source-file
// compiler errors to the pass-diagnostic taxonomy of spec.md §7.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Kind classifies why a pass produced a diagnostic instead of silently
// succeeding (spec.md §7).
type Kind string

const (
	// PassDisabled: the pass's config says not to run (not an error, a note).
	PassDisabled Kind = "pass_disabled"
	// UnsupportedTarget: the module's target triple doesn't support this pass.
	UnsupportedTarget Kind = "unsupported_target"
	// UnsupportedIR: the function contains IR shapes the pass refuses to touch
	// (exception-handling opcodes, no blocks, a single-block function, etc).
	UnsupportedIR Kind = "unsupported_ir"
	// TranslationFailure: the pass started rewriting and hit an internal
	// invariant violation partway through.
	TranslationFailure Kind = "translation_failure"
	// VerifierBroken: the structural verifier rejected the pass's output.
	VerifierBroken Kind = "verifier_broken"
	// ConfigParseError: the loaded config or a per-function annotation string
	// could not be parsed.
	ConfigParseError Kind = "config_parse_error"
)

// level says how a Diagnostic should be colored/counted.
func (k Kind) level() string {
	switch k {
	case TranslationFailure, VerifierBroken, ConfigParseError:
		return "error"
	case UnsupportedTarget, UnsupportedIR:
		return "warning"
	default:
		return "note"
	}
}

// Diagnostic is one pass-level report (spec.md §7).
type Diagnostic struct {
	Kind     Kind
	Pass     string
	Function string // "" when module-scoped
	Message  string
	Err      error
}

func (d Diagnostic) String() string {
	loc := d.Pass
	if d.Function != "" {
		loc = fmt.Sprintf("%s/%s", d.Pass, d.Function)
	}
	if d.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", loc, d.Kind, d.Message, d.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", loc, d.Kind, d.Message)
}

// Sink collects Diagnostics emitted while a Dispatcher runs a pipeline over
// a module; every pass's RunOnModule/RunOnFunction receives one instead of returning a bare
// error, so one pass's problem never aborts the rest of the pipeline
// (§7's log-and-continue policy).
type Sink struct {
	items []Diagnostic
}

// NewSink creates an empty Sink.
func NewSink() *Sink { return &Sink{} }

// Report appends d to the sink.
func (s *Sink) Report(d Diagnostic) { s.items = append(s.items, d) }

// Reportf is a convenience wrapper for the common message-only case.
func (s *Sink) Reportf(kind Kind, pass, function, format string, args ...interface{}) {
	s.Report(Diagnostic{Kind: kind, Pass: pass, Function: function, Message: fmt.Sprintf(format, args...)})
}

// Items returns every diagnostic reported so far, in order.
func (s *Sink) Items() []Diagnostic { return s.items }

// HasErrors reports whether any reported diagnostic is error-level.
func (s *Sink) HasErrors() bool {
	for _, d := range s.items {
		if d.Kind.level() == "error" {
			return true
		}
	}
	return false
}

// Render formats every diagnostic in the sink for terminal output, colored
// by level the way the teacher's ErrorReporter colors by ErrorLevel: red
// for errors, yellow for warnings, blue for notes.
func (s *Sink) Render() string {
	var out strings.Builder
	bold := color.New(color.Bold).SprintFunc()
	for _, d := range s.items {
		levelColor := levelColorFunc(d.Kind.level())
		out.WriteString(fmt.Sprintf("%s %s\n", levelColor(bold(d.Kind.level())+":"), d))
	}
	return out.String()
}

func levelColorFunc(level string) func(...interface{}) string {
	switch level {
	case "error":
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case "warning":
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	default:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	}
}
