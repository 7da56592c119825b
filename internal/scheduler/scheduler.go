// Package scheduler implements the repeating-timer task runner shared by
// the router, dispatcher, and cleaner (spec.md §5, §9): a task is invoked,
// and on return it is rescheduled after a fixed interval until shutdown.
package scheduler

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
)

// Task is one unit of scheduled work. It must return promptly relative to
// the scan interval; a task invocation is atomic with respect to shutdown
// (spec.md §5: "the scheduler checks shutdown before each dispatch, never
// mid-task").
type Task func()

// Runner repeatedly invokes a Task on a fixed interval until stopped.
type Runner struct {
	interval    time.Duration
	task        Task
	isTerminated func() bool
	log         hermeslog.Logger
	watch       *fsnotify.Watcher
	stop        chan struct{}
	stopped     chan struct{}
}

// New builds a Runner. isTerminated is polled before every tick so the loop
// never starts a new task after shutdown has been requested.
func New(interval time.Duration, task Task, isTerminated func() bool, log hermeslog.Logger) *Runner {
	return &Runner{
		interval:     interval,
		task:         task,
		isTerminated: isTerminated,
		log:          log,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// WatchPaths arranges for fsnotify events under the given directories to
// trigger an immediate extra tick, coalesced so a burst of file writes
// produces at most one additional run per debounce window. This is purely an
// optimization: the scan itself remains the authority on what is ready
// (spec.md §5: "the filesystem is the source of truth"), so a missed or
// duplicate fsnotify event changes nothing but latency.
func (r *Runner) WatchPaths(paths ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			r.log.Debugf("scheduler: fsnotify watch on %s failed: %v", p, err)
		}
	}
	r.watch = w
	return nil
}

// Run blocks, invoking the task on every tick (and on every coalesced
// fsnotify event, if WatchPaths was called) until Stop is called.
func (r *Runner) Run() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var extraTick <-chan time.Time
	var debounce *time.Timer
	if r.watch != nil {
		defer r.watch.Close()
		debounce = time.NewTimer(time.Hour)
		if !debounce.Stop() {
			<-debounce.C
		}
		extraTick = debounce.C
	}

	r.runOnce()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.runOnce()
		case <-extraTick:
			r.runOnce()
		case ev, ok := <-r.watchEvents():
			if !ok {
				continue
			}
			r.log.Debugf("scheduler: fsnotify event %s, scheduling extra tick", ev)
			debounce.Reset(200 * time.Millisecond)
		case err, ok := <-r.watchErrors():
			if !ok {
				continue
			}
			r.log.Warnf("scheduler: fsnotify error: %v", err)
		}
	}
}

func (r *Runner) watchEvents() <-chan fsnotify.Event {
	if r.watch == nil {
		return nil
	}
	return r.watch.Events
}

func (r *Runner) watchErrors() <-chan error {
	if r.watch == nil {
		return nil
	}
	return r.watch.Errors
}

func (r *Runner) runOnce() {
	if r.isTerminated() {
		return
	}
	r.task()
}

// Stop signals the loop to exit after its current iteration and blocks until
// it has. Safe to call once.
func (r *Runner) Stop() {
	close(r.stop)
	<-r.stopped
}
