package progress

import (
	"context"
	"sync"
	"time"

	"github.com/greeddj/go-sbp/internal/sbp/output"
)

// Tracker reports build progress to a printer and stops the build once ctx is done.
type Tracker struct {
	ctx     context.Context
	out     output.Printer
	mu      sync.Mutex
	count   int
	current int
	title   string
	started time.Time
}

// NewTracker returns a Tracker bound to ctx.
func NewTracker(ctx context.Context, out output.Printer) *Tracker {
	if out == nil {
		out = output.Discard
	}
	return &Tracker{ctx: ctx, out: out}
}

// SetTaskCount implements build.ProgressTracker.
func (t *Tracker) SetTaskCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = n
	t.current = 0
}

// UpdateTask implements build.ProgressTracker.
func (t *Tracker) UpdateTask(title string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.title != "" {
		t.out.DebugSincef(t.started, "%s", t.title)
	}
	t.current++
	t.title = title
	t.started = time.Now()
	t.out.Printf("[%d/%d] %s", t.current, t.count, title)
	return t.ctx.Err() == nil
}

// UpdateInfo implements build.ProgressTracker.
func (t *Tracker) UpdateInfo(info string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.Printf("[%d/%d] %s: %s", t.current, t.count, t.title, info)
	return t.ctx.Err() == nil
}

// Tasks returns how many tasks have started and how many were announced.
func (t *Tracker) Tasks() (current, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.count
}
