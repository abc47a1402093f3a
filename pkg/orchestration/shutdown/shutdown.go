// Package shutdown converts OS signals into a cooperative stop request
// propagated through every long-running operation (spec.md §4.3).
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// StateStore is the minimal persistence surface EmergencySave needs. It is
// satisfied by internal/statestore.Store; declared here (rather than
// imported) to avoid a dependency cycle, since statestore never needs
// shutdown.
type StateStore interface {
	Save(state *types.PipelineState) error
}

// Coordinator installs signal handlers and exposes a thread-safe
// should-stop flag, per spec.md §4.3.
type Coordinator struct {
	installed int32 // atomic bool, guards Install's idempotency
	stopped   int32 // atomic bool, set once any signal is received
	saving    int32 // atomic bool, guards EmergencySave reentrancy

	mu    sync.Mutex
	state *types.PipelineState
	store StateStore

	logger  *zap.Logger
	sigChan chan os.Signal
}

// New returns a Coordinator. logger may be nil, in which case a no-op
// logger is used.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{logger: logger}
}

// Install registers OS signal handlers. Idempotent: subsequent calls are
// no-ops (spec.md §4.3).
func (c *Coordinator) Install() {
	if !atomic.CompareAndSwapInt32(&c.installed, 0, 1) {
		return
	}
	c.sigChan = make(chan os.Signal, 2)
	signal.Notify(c.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for range c.sigChan {
			if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
				c.logger.Warn("shutdown signal received, stopping cooperatively")
			}
			c.tryEmergencySave()
		}
	}()
}

// ShouldStop reports whether any signal has been received. Safe for
// concurrent polling by every worker goroutine.
func (c *Coordinator) ShouldStop() bool {
	return atomic.LoadInt32(&c.stopped) == 1
}

// RequestStop sets the stop flag without a signal, so ShouldStop reports
// true exactly as after a received signal. Unlike the signal path, it does
// not trigger an emergency save.
func (c *Coordinator) RequestStop() {
	atomic.StoreInt32(&c.stopped, 1)
}

// SetState registers the current pipeline state reference so a later
// EmergencySave (triggered asynchronously from the signal handler) has
// something to persist.
func (c *Coordinator) SetState(store StateStore, state *types.PipelineState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
	c.state = state
}

// tryEmergencySave runs EmergencySave with the registered store/state, if any.
func (c *Coordinator) tryEmergencySave() {
	c.mu.Lock()
	store, state := c.store, c.state
	c.mu.Unlock()
	if store == nil || state == nil {
		return
	}
	c.EmergencySave(store, state)
}

// EmergencySave best-effort persists state. It catches every error so a
// failure during shutdown never masks the original signal (spec.md §4.3). A
// second concurrent or reentrant call while a save is already in flight is a
// no-op.
func (c *Coordinator) EmergencySave(store StateStore, state *types.PipelineState) {
	if !atomic.CompareAndSwapInt32(&c.saving, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.saving, 0)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during emergency save, ignoring", zap.Any("recover", r))
		}
	}()

	if err := store.Save(state); err != nil {
		c.logger.Error("emergency save failed",
			zap.Error(err), zap.Any("error_fields", errors.LogFields(err)))
	} else {
		c.logger.Info("emergency save completed")
	}
}

// Stop tears down the signal channel. Used by tests and graceful CLI exit to
// avoid leaking the notify goroutine; not part of the spec's contract.
func (c *Coordinator) Stop() {
	if c.sigChan != nil {
		signal.Stop(c.sigChan)
		close(c.sigChan)
	}
}
