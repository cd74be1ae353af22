package build

import "context"

// ProgressTracker reports build progress and tells tasks whether to keep going.
type ProgressTracker interface {
	SetTaskCount(n int)
	// UpdateTask starts the next task. It returns false when the build should stop.
	UpdateTask(title string) bool
	// UpdateInfo describes the current unit of work. It returns false when the build should stop.
	UpdateInfo(info string) bool
}

// UpdateInfo reports info to tracker. A nil tracker never stops the build.
func UpdateInfo(tracker ProgressTracker, info string) bool {
	if tracker == nil {
		return true
	}
	return tracker.UpdateInfo(info)
}

// Continue reports info and returns false once ctx is done or the tracker asks to stop.
func Continue(ctx context.Context, tracker ProgressTracker, info string) bool {
	if ctx.Err() != nil {
		return false
	}
	return UpdateInfo(tracker, info)
}
