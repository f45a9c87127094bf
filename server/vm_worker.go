package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/parens/vm"
)

var errWorkerStopped = errors.New("VM worker stopped")

// job is one call queued for the worker goroutine.
type job struct {
	target *vm.VM
	fn     func(*vm.VM) any
	reply  chan outcome
}

type outcome struct {
	value any
	err   error
}

// VMWorker owns the only goroutine allowed to touch interpreter state.
// Session VMs are separate, but every one of them is driven from here.
type VMWorker struct {
	vm   *vm.VM
	jobs chan job
	stop chan struct{}
	once sync.Once
}

// NewVMWorker starts a worker whose default VM is v.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:   v,
		jobs: make(chan job, 64),
		stop: make(chan struct{}),
	}
	go w.serve()
	return w
}

func (w *VMWorker) serve() {
	for {
		select {
		case j := <-w.jobs:
			j.reply <- w.run(j.target, j.fn)
		case <-w.stop:
			return
		}
	}
}

// run calls fn, turning a panic into an error so one bad request cannot
// take the worker down.
func (w *VMWorker) run(v *vm.VM, fn func(*vm.VM) any) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("VM worker recovered: %v", r)
			out.err = fmt.Errorf("panic: %v", r)
		}
	}()
	out.value = fn(v)
	return out
}

// Do runs fn against the default VM and waits for its result.
func (w *VMWorker) Do(fn func(*vm.VM) any) (any, error) {
	return w.DoIn(w.vm, fn)
}

// DoIn runs fn against v, typically a session's VM.
func (w *VMWorker) DoIn(v *vm.VM, fn func(*vm.VM) any) (any, error) {
	select {
	case <-w.stop:
		return nil, errWorkerStopped
	default:
	}

	j := job{target: v, fn: fn, reply: make(chan outcome, 1)}
	select {
	case w.jobs <- j:
	case <-w.stop:
		return nil, errWorkerStopped
	}
	select {
	case out := <-j.reply:
		return out.value, out.err
	case <-w.stop:
		return nil, errWorkerStopped
	}
}

// Stop ends the worker. Pending and later calls fail. Stopping twice is
// harmless.
func (w *VMWorker) Stop() {
	w.once.Do(func() { close(w.stop) })
}

// VM returns the default VM.
func (w *VMWorker) VM() *vm.VM {
	return w.vm
}
