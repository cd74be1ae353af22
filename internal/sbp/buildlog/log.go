// Package buildlog records build steps and exports them as a trace event profile.
package buildlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/greeddj/go-sbp/internal/sbp/output"
)

// Level is the severity of a log entry or step.
type Level int

const (
	// LevelError entries describe failures.
	LevelError Level = iota
	// LevelWarning entries describe recoverable problems.
	LevelWarning
	// LevelInfo entries describe build progress.
	LevelInfo
	// LevelVerbose entries are detail only useful when profiling.
	LevelVerbose
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "Error"
	case LevelWarning:
		return "Warning"
	case LevelInfo:
		return "Info"
	default:
		return "Verbose"
	}
}

// Logger records entries and nested steps.
type Logger interface {
	AddEntry(level Level, message string)
	BeginBuildStep(level Level, stepName string, subStepsCanBeThreaded bool)
	EndBuildStep()
}

// ScopedStep begins a step and returns the function that ends it.
//
//	defer buildlog.ScopedStep(logger, buildlog.LevelInfo, "Process Entries")()
func ScopedStep(logger Logger, level Level, stepName string, context ...string) func() {
	if logger == nil {
		return func() {}
	}
	logger.BeginBuildStep(level, stepName, false)
	for _, c := range context {
		logger.AddEntry(level, c)
	}
	return logger.EndBuildStep
}

// AddEntrySafe adds an entry when logger is not nil.
func AddEntrySafe(logger Logger, level Level, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.AddEntry(level, fmt.Sprintf(format, args...))
}

// Discard is a Logger that drops everything.
var Discard Logger = discard{}

type discard struct{}

func (discard) AddEntry(Level, string)             {}
func (discard) BeginBuildStep(Level, string, bool) {}
func (discard) EndBuildStep()                      {}

type entry struct {
	level   Level
	message string
	at      time.Time
}

type step struct {
	name     string
	level    Level
	threaded bool
	start    time.Time
	end      time.Time
	entries  []entry
	children []*step
}

// Log is the default Logger. Entries may be added from any goroutine,
// steps are opened and closed by the coordinating goroutine.
type Log struct {
	mu      sync.Mutex
	printer output.Printer
	now     func() time.Time
	root    *step
	stack   []*step
}

// New returns a Log forwarding entries to printer.
func New(printer output.Printer) *Log {
	if printer == nil {
		printer = output.Discard
	}
	l := &Log{printer: printer, now: time.Now}
	l.root = &step{name: "Build", level: LevelInfo, start: l.now()}
	l.stack = []*step{l.root}
	return l
}

// AddEntry implements Logger.
func (l *Log) AddEntry(level Level, message string) {
	l.mu.Lock()
	current := l.stack[len(l.stack)-1]
	current.entries = append(current.entries, entry{level: level, message: message, at: l.now()})
	l.mu.Unlock()

	switch level {
	case LevelError:
		l.printer.Errorf("%s", message)
	case LevelWarning:
		l.printer.Warnf("%s", message)
	case LevelInfo:
		l.printer.Debugf("%s", message)
	}
}

// BeginBuildStep implements Logger.
func (l *Log) BeginBuildStep(level Level, stepName string, subStepsCanBeThreaded bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &step{name: stepName, level: level, threaded: subStepsCanBeThreaded, start: l.now()}
	parent := l.stack[len(l.stack)-1]
	parent.children = append(parent.children, s)
	l.stack = append(l.stack, s)
}

// EndBuildStep implements Logger.
func (l *Log) EndBuildStep() {
	l.mu.Lock()
	if len(l.stack) == 1 {
		l.mu.Unlock()
		return
	}
	s := l.stack[len(l.stack)-1]
	s.end = l.now()
	l.stack = l.stack[:len(l.stack)-1]
	l.mu.Unlock()

	if s.level <= LevelInfo {
		l.printer.DebugSincef(s.start, "%s", s.name)
	}
}

// Errorf adds an error entry.
func (l *Log) Errorf(format string, args ...any) { l.AddEntry(LevelError, fmt.Sprintf(format, args...)) }

// Warnf adds a warning entry.
func (l *Log) Warnf(format string, args ...any) { l.AddEntry(LevelWarning, fmt.Sprintf(format, args...)) }

// Infof adds an info entry.
func (l *Log) Infof(format string, args ...any) { l.AddEntry(LevelInfo, fmt.Sprintf(format, args...)) }

// Debugf adds a verbose entry.
func (l *Log) Debugf(format string, args ...any) { l.AddEntry(LevelVerbose, fmt.Sprintf(format, args...)) }

type traceEvent struct {
	Name  string         `json:"name"`
	Phase string         `json:"ph"`
	TS    int64          `json:"ts"`
	Dur   int64          `json:"dur,omitempty"`
	PID   int            `json:"pid"`
	TID   int            `json:"tid"`
	Scope string         `json:"s,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
}

type traceDocument struct {
	TraceEvents     []traceEvent `json:"traceEvents"`
	DisplayTimeUnit string       `json:"displayTimeUnit"`
}

// FormatForTraceEventProfiler renders the recorded steps in the Chrome trace event format.
// Steps still open are closed at the time of the call.
func (l *Log) FormatForTraceEventProfiler() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	origin := l.root.start
	doc := traceDocument{DisplayTimeUnit: "ms"}
	var walk func(s *step, depth int)
	walk = func(s *step, depth int) {
		end := s.end
		if end.IsZero() {
			end = now
		}
		event := traceEvent{
			Name:  s.name,
			Phase: "X",
			TS:    s.start.Sub(origin).Microseconds(),
			Dur:   end.Sub(s.start).Microseconds(),
			PID:   1,
			TID:   1,
			Args:  map[string]any{"level": s.level.String(), "depth": depth},
		}
		doc.TraceEvents = append(doc.TraceEvents, event)
		for _, e := range s.entries {
			doc.TraceEvents = append(doc.TraceEvents, traceEvent{
				Name:  e.message,
				Phase: "i",
				TS:    e.at.Sub(origin).Microseconds(),
				PID:   1,
				TID:   1,
				Scope: "t",
				Args:  map[string]any{"level": e.level.String()},
			})
		}
		for _, child := range s.children {
			walk(child, depth+1)
		}
	}
	walk(l.root, 0)
	return json.Marshal(doc)
}

// WriteTraceEventProfiler writes the trace event profile to path.
func (l *Log) WriteTraceEventProfiler(path string) error {
	data, err := l.FormatForTraceEventProfiler()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), helpers.DirMod); err != nil {
		return err
	}
	return helpers.WriteFileAtomic(path, data)
}
