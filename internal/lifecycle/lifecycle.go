// Package lifecycle implements the process-wide termination flag and signal
// handling shared by all three Hermes services (spec.md §5), without global
// variables (spec.md §9, "Global mutable state" design note): the scheduler
// and task closures receive a *Controller instead.
package lifecycle

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
)

// Controller tracks shutdown state for one service process and notifies
// systemd (when run under it) of readiness/stopping transitions.
type Controller struct {
	terminated atomic.Bool
	log        hermeslog.Logger
	onShutdown func()
}

// NewController builds a Controller. onShutdown, if non-nil, is invoked once
// when a termination signal first arrives — used to stop the scheduler's
// timer loop (spec.md §5: "the scheduler stops after the current task
// completes").
func NewController(log hermeslog.Logger, onShutdown func()) *Controller {
	return &Controller{log: log, onShutdown: onShutdown}
}

// OnShutdown registers (or replaces) the hook invoked when Terminate first
// runs. Exists so callers can construct the Controller before building the
// object — typically a scheduler.Runner — that its shutdown hook closes over.
func (c *Controller) OnShutdown(f func()) {
	c.onShutdown = f
}

// IsTerminated reports whether graceful shutdown has been requested.
func (c *Controller) IsTerminated() bool {
	return c.terminated.Load()
}

// Terminate flips the shutdown flag and fires onShutdown, idempotently.
func (c *Controller) Terminate() {
	if c.terminated.CompareAndSwap(false, true) {
		if c.onShutdown != nil {
			c.onShutdown()
		}
	}
}

// NotifyReady tells systemd (if NOTIFY_SOCKET is set) that startup finished.
// A no-op, and never an error, outside of a systemd unit.
func (c *Controller) NotifyReady() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		c.log.Debugf("systemd notify ready failed: %v", err)
	}
}

// NotifyStopping tells systemd that graceful shutdown has begun.
func (c *Controller) NotifyStopping() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		c.log.Debugf("systemd notify stopping failed: %v", err)
	}
}

// HandleSignals installs handlers for SIGINT/SIGTERM (graceful shutdown) and
// for SIGHUP/SIGUSR1/SIGUSR2 (observed and logged only, per spec.md §5: "Only
// SIGINT and SIGTERM are meaningful... Other signals are observed and logged
// but do not terminate"). It blocks until a termination signal arrives or done
// is closed, then returns. Intended to run in its own goroutine.
func (c *Controller) HandleSignals(done <-chan struct{}) {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)

	for {
		select {
		case <-done:
			return
		case s := <-sig:
			switch s {
			case syscall.SIGTERM, os.Interrupt:
				c.log.Printf("signal received (%s), shutting down", s.String())
				c.NotifyStopping()
				c.Terminate()
				return
			default:
				c.log.Printf("signal received (%s), ignored", s.String())
			}
		}
	}
}
