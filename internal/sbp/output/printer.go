// Package output defines where user-facing build messages go.
package output

import "time"

// Printer defines the progress output interface.
type Printer interface {
	Printf(format string, args ...any)
	PersistentPrintf(format string, args ...any)
	Okf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
	DebugSincef(startTime time.Time, format string, args ...any)
}

// Discard is a Printer that drops everything.
var Discard Printer = discard{}

type discard struct{}

func (discard) Printf(string, ...any)                 {}
func (discard) PersistentPrintf(string, ...any)       {}
func (discard) Okf(string, ...any)                    {}
func (discard) Warnf(string, ...any)                  {}
func (discard) Errorf(string, ...any)                 {}
func (discard) Debugf(string, ...any)                 {}
func (discard) DebugSincef(time.Time, string, ...any) {}
