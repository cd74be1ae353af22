// Package build holds the task framework and the data shared between build tasks.
package build

import "strconv"

// ReturnCode is the outcome of a task or a whole build.
// Codes below Success are failures.
type ReturnCode int

const (
	// Success means the task did its work.
	Success ReturnCode = 0
	// SuccessCached means the result came from the build cache.
	SuccessCached ReturnCode = 1
	// SuccessNotRun means the task had nothing to do.
	SuccessNotRun ReturnCode = 2
	// Error means the task failed.
	Error ReturnCode = -1
	// Exception means the task or the build setup raised an error.
	Exception ReturnCode = -2
	// Canceled means the build was canceled.
	Canceled ReturnCode = -3
	// UnsavedChanges means the project has unsaved changes.
	UnsavedChanges ReturnCode = -4
	// MissingRequiredObjects means a task could not be given what it needs.
	MissingRequiredObjects ReturnCode = -5
)

var returnCodeNames = map[ReturnCode]string{
	Success:                "Success",
	SuccessCached:          "SuccessCached",
	SuccessNotRun:          "SuccessNotRun",
	Error:                  "Error",
	Exception:              "Exception",
	Canceled:               "Canceled",
	UnsavedChanges:         "UnsavedChanges",
	MissingRequiredObjects: "MissingRequiredObjects",
}

// String implements fmt.Stringer.
func (c ReturnCode) String() string {
	if name, ok := returnCodeNames[c]; ok {
		return name
	}
	return "ReturnCode(" + strconv.Itoa(int(c)) + ")"
}

// IsSuccess reports whether c is one of the success codes.
func (c ReturnCode) IsSuccess() bool {
	return c >= Success
}
