package vm

import (
	"fmt"
	"os"
	"os/signal"
)

// ---------------------------------------------------------------------------
// Blocking sections
// ---------------------------------------------------------------------------

// The runtime lock is held by whichever goroutine is running mutator code.
// NewVM returns with the lock held on behalf of the caller. Code about to
// block in a system call releases it with EnterBlockingSection, so another
// goroutine may Acquire the runtime, and takes it back with
// LeaveBlockingSection, which is also where pending signals are reported.

// SignalError reports a signal that arrived while the mutator was blocked.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("interrupted by signal %v", e.Signal)
}

// Acquire takes the runtime lock for the calling goroutine.
func (vm *VM) Acquire() {
	vm.runtimeLock.Lock()
}

// Release gives up the runtime lock.
func (vm *VM) Release() {
	vm.runtimeLock.Unlock()
}

// EnterBlockingSection releases the runtime lock. The caller must not touch
// the heap until LeaveBlockingSection returns.
func (vm *VM) EnterBlockingSection() {
	vm.blockingDepth.Add(1)
	vm.runtimeLock.Unlock()
}

// LeaveBlockingSection reacquires the runtime lock and returns a
// *SignalError for the oldest signal recorded in the meantime, if any.
func (vm *VM) LeaveBlockingSection() error {
	vm.runtimeLock.Lock()
	vm.blockingDepth.Add(-1)
	return vm.takeSignal()
}

// InBlockingSection reports whether some goroutine is currently inside a
// blocking section.
func (vm *VM) InBlockingSection() bool {
	return vm.blockingDepth.Load() > 0
}

// Blocking runs fn with the runtime lock released. A pending signal takes
// precedence over fn's own error.
func (vm *VM) Blocking(fn func() error) error {
	vm.EnterBlockingSection()
	err := fn()
	if serr := vm.LeaveBlockingSection(); serr != nil {
		return serr
	}
	return err
}

// RecordSignal marks sig as pending. It may be called from any goroutine.
func (vm *VM) RecordSignal(sig os.Signal) {
	vm.signalMu.Lock()
	vm.pendingSignals = append(vm.pendingSignals, sig)
	vm.signalMu.Unlock()
}

// PendingSignals returns the number of signals not yet reported.
func (vm *VM) PendingSignals() int {
	vm.signalMu.Lock()
	defer vm.signalMu.Unlock()
	return len(vm.pendingSignals)
}

// NotifySignals records every delivery of sigs as a pending signal until
// the returned stop function is called.
func (vm *VM) NotifySignals(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 8)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)
	go func() {
		for {
			select {
			case sig := <-ch:
				vmLog.Debugf("signal %v recorded", sig)
				vm.RecordSignal(sig)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (vm *VM) takeSignal() error {
	vm.signalMu.Lock()
	defer vm.signalMu.Unlock()
	if len(vm.pendingSignals) == 0 {
		return nil
	}
	sig := vm.pendingSignals[0]
	vm.pendingSignals = vm.pendingSignals[1:]
	return &SignalError{Signal: sig}
}
