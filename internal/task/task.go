// Package task implements cancellable background artwork fetches.
//
// A Task is built from a resolve step and an optional post-process step.
// It moves Created -> Running -> Completed or Cancelled exactly once,
// checks for cancellation around every step, and hands a completed result
// to a dispatcher so binding happens on the UI-affine context.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eleven/artcache/internal/dispatch"
	"github.com/eleven/artcache/pkg/errors"
	"github.com/eleven/artcache/pkg/types"
)

// State is a task lifecycle state
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateCancelled
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request describes what a task should fetch
type Request struct {
	Key        string
	Artist     string
	Album      string
	AlbumID    int64
	PlaylistID int64
	Type       types.ImageType

	// Optional bounds the result is scaled down to fit
	MaxWidth  int
	MaxHeight int
}

// ResolveFunc produces the image for a task. A nil image with a nil error means no artwork.
type ResolveFunc func(ctx context.Context, t *Task) (*types.CachedImage, error)

// PostProcessFunc transforms a resolved image
type PostProcessFunc func(ctx context.Context, t *Task, img *types.CachedImage) (*types.CachedImage, error)

// CompleteFunc receives the result of a task that was not cancelled. It runs
// on the task's dispatcher.
type CompleteFunc func(t *Task, img *types.CachedImage)

// Options selects a task's behaviour
type Options struct {
	// Kind labels the task in logs and metrics
	Kind        string
	Resolve     ResolveFunc
	PostProcess PostProcessFunc
	OnComplete  CompleteFunc
	Dispatcher  dispatch.Dispatcher
}

// Task is one background fetch
type Task struct {
	id   string
	req  Request
	opts Options

	state     atomic.Int32
	cancelled atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	created  time.Time
	started  time.Time
	finished time.Time
	err      error
}

// New creates a task in the Created state
func New(req Request, opts Options) *Task {
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.Inline{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		id:      uuid.NewString(),
		req:     req,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		created: time.Now(),
	}
}

// ID returns the unique task id
func (t *Task) ID() string { return t.id }

// Key returns the cache key the task fetches
func (t *Task) Key() string { return t.req.Key }

// Kind returns the task's label
func (t *Task) Kind() string { return t.opts.Kind }

// Request returns the fetch parameters
func (t *Task) Request() Request { return t.req }

// State returns the current lifecycle state
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed when the task reaches a final state
func (t *Task) Done() <-chan struct{} { return t.done }

// Context returns a context cancelled together with the task
func (t *Task) Context() context.Context { return t.ctx }

// Err returns the error that ended resolution, if any
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Elapsed returns how long the task ran. It is zero until the task finishes.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() || t.finished.IsZero() {
		return 0
	}
	return t.finished.Sub(t.started)
}

// Cancel asks the task to stop. A task that has not started never runs; a
// running task stops at its next checkpoint and delivers nothing.
func (t *Task) Cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	t.cancel()
	if t.state.CompareAndSwap(int32(StateCreated), int32(StateCancelled)) {
		t.finish(nil)
	}
}

// IsCancelled reports whether Cancel has been called
func (t *Task) IsCancelled() bool {
	return t.cancelled.Load()
}

// Checkpoint returns ErrCodeOperationCanceled once the task is cancelled
func (t *Task) Checkpoint() error {
	if t.cancelled.Load() {
		return errors.NewError(errors.ErrCodeOperationCanceled, "task cancelled").
			WithComponent("task").
			WithKey(t.req.Key)
	}
	return nil
}

// Run executes the task on the calling goroutine. parent is usually the
// worker pool context; cancelling it cancels the task.
func (t *Task) Run(parent context.Context) {
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return
	}

	t.mu.Lock()
	t.started = time.Now()
	t.mu.Unlock()

	if parent != nil {
		stop := context.AfterFunc(parent, t.Cancel)
		defer stop()
	}

	img, err := t.execute()

	if err != nil || t.IsCancelled() {
		if errors.IsCanceled(err) || t.IsCancelled() {
			t.state.Store(int32(StateCancelled))
			t.finish(nil)
			return
		}
		// failures are delivered as "no artwork"
		img = nil
	}

	t.state.Store(int32(StateCompleted))
	t.finish(err)

	if t.opts.OnComplete != nil {
		t.opts.Dispatcher.Post(func() { t.opts.OnComplete(t, img) })
	}
}

func (t *Task) execute() (*types.CachedImage, error) {
	if err := t.Checkpoint(); err != nil {
		return nil, err
	}
	if t.opts.Resolve == nil {
		return nil, nil
	}

	img, err := t.opts.Resolve(t.ctx, t)
	if err != nil {
		return nil, err
	}
	if err := t.Checkpoint(); err != nil {
		return nil, err
	}

	if img != nil && t.opts.PostProcess != nil {
		img, err = t.opts.PostProcess(t.ctx, t, img)
		if err != nil {
			return nil, err
		}
		if err := t.Checkpoint(); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.finished = time.Now()
	t.err = err
	t.mu.Unlock()
	close(t.done)
	t.cancel()
}
