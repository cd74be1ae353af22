package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/greeddj/go-sbp/internal/sbp/buildcontext"
	"github.com/greeddj/go-sbp/internal/sbp/buildlog"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// Task is one step of a build.
type Task interface {
	Name() string
	// Version changes whenever the task's results change for the same inputs.
	Version() int
	Run(ctx context.Context) (ReturnCode, error)
}

// TaskFactory builds a task from the objects registered in a build context.
type TaskFactory func(bc *buildcontext.Context) (Task, error)

// Resolver collects the context objects a task constructor asks for.
type Resolver struct {
	bc      *buildcontext.Context
	missing []error
}

// NewResolver returns a Resolver reading from bc.
func NewResolver(bc *buildcontext.Context) *Resolver {
	return &Resolver{bc: bc}
}

// Require returns the object registered under T and records it as missing when absent.
func Require[T any](r *Resolver) T {
	obj, err := buildcontext.Get[T](r.bc)
	if err != nil {
		r.missing = append(r.missing, err)
	}
	return obj
}

// Optional returns the object registered under T or the zero value.
func Optional[T any](r *Resolver) T {
	obj, _ := buildcontext.TryGet[T](r.bc)
	return obj
}

// Err returns every missing required object.
func (r *Resolver) Err() error {
	return errors.Join(r.missing...)
}

// Validate builds every task before any of them runs.
// A task whose required objects are not registered makes the build fail with MissingRequiredObjects.
func Validate(bc *buildcontext.Context, factories []TaskFactory) ([]Task, ReturnCode, error) {
	tasks := make([]Task, 0, len(factories))
	var errs []error
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		task, err := factory(bc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tasks = append(tasks, task)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		if errors.Is(err, helpers.ErrContextObjectMissing) {
			return nil, MissingRequiredObjects, err
		}
		return nil, Exception, err
	}
	if len(tasks) == 0 {
		return nil, Exception, helpers.ErrTaskListEmpty
	}
	return tasks, Success, nil
}

// Run runs tasks in order and stops at the first one that does not succeed.
// An error returned by a task turns into Exception.
func Run(ctx context.Context, tasks []Task, logger buildlog.Logger, tracker ProgressTracker) (ReturnCode, error) {
	if logger == nil {
		logger = buildlog.Discard
	}
	if tracker != nil {
		tracker.SetTaskCount(len(tasks))
	}
	for _, task := range tasks {
		if ctx.Err() != nil || (tracker != nil && !tracker.UpdateTask(task.Name())) {
			return Canceled, nil
		}
		code, err := runTask(ctx, task, logger)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return Canceled, nil
			}
			logger.AddEntry(buildlog.LevelError, fmt.Sprintf("Build Task %s failed with exception:\n%v", task.Name(), err))
			return Exception, fmt.Errorf("%s: %w", task.Name(), err)
		}
		if code == Canceled {
			return Canceled, nil
		}
		if !code.IsSuccess() {
			return code, fmt.Errorf("%w: %s returned %s", helpers.ErrTaskFailed, task.Name(), code)
		}
	}
	return Success, nil
}

func runTask(ctx context.Context, task Task, logger buildlog.Logger) (code ReturnCode, err error) {
	defer buildlog.ScopedStep(logger, buildlog.LevelInfo, task.Name())()
	defer func() {
		if r := recover(); r != nil {
			code, err = Exception, fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}
