// Package runstate holds the process-wide "keep running" flag shared between
// the shutdown path and the acquisition goroutines.
//
// The flag starts out running and can be cleared exactly once. Readers poll
// Running with a single atomic load, so it is cheap enough to check on every
// read attempt of the capture loop.
package runstate

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/rjboer/GoGNSS/internal/logging"
)

// Flag is a one-way run flag.
type Flag struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// New returns a flag in the running state.
func New() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Running reports whether Stop has not been called yet.
func (f *Flag) Running() bool {
	return !f.stopped.Load()
}

// Stop clears the flag. Calls after the first are no-ops.
func (f *Flag) Stop() {
	f.once.Do(func() {
		f.stopped.Store(true)
		close(f.done)
	})
}

// Done is closed once Stop has been called.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}

// NotifyOnSignal stops f when one of sigs is delivered. The returned function
// detaches the handler; it does not touch the flag.
func NotifyOnSignal(f *Flag, logger logging.Logger, sigs ...os.Signal) func() {
	if logger == nil {
		logger = logging.Default()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case sig := <-ch:
			logger.Warn("front end lost, stopping acquisition", logging.F("signal", sig.String()))
			f.Stop()
		case <-quit:
		}
	}()

	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
