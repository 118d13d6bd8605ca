package server

import (
	"errors"
	"fmt"

	"github.com/chazu/atlas/vm"
)

var errRegistrarStopped = errors.New("registrar stopped")

// registrarRequest is a unit of work to run on the registrar goroutine.
type registrarRequest struct {
	fn   func(*vm.Program) (any, error)
	done chan registrarResult
}

type registrarResult struct {
	value any
	err   error
}

// Registrar serializes every change to the program's id space through a
// single goroutine, so a batch of codes is installed without interleaving
// with another batch. Invocations read the program concurrently and do not
// go through the registrar.
type Registrar struct {
	program  *vm.Program
	requests chan registrarRequest
	quit     chan struct{}
}

// NewRegistrar creates a Registrar and starts its goroutine.
func NewRegistrar(p *vm.Program) *Registrar {
	r := &Registrar{
		program:  p,
		requests: make(chan registrarRequest, 64),
		quit:     make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Registrar) loop() {
	for {
		select {
		case req := <-r.requests:
			req.done <- r.execute(req.fn)
		case <-r.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (r *Registrar) execute(fn func(*vm.Program) (any, error)) (result registrarResult) {
	defer func() {
		if p := recover(); p != nil {
			result.err = fmt.Errorf("registrar: %v", p)
		}
	}()
	result.value, result.err = fn(r.program)
	return result
}

// Do runs fn on the registrar goroutine and waits for its result.
func (r *Registrar) Do(fn func(*vm.Program) (any, error)) (any, error) {
	req := registrarRequest{fn: fn, done: make(chan registrarResult, 1)}
	select {
	case r.requests <- req:
	case <-r.quit:
		return nil, errRegistrarStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-r.quit:
		return nil, errRegistrarStopped
	}
}

// Stop shuts down the registrar goroutine.
func (r *Registrar) Stop() {
	close(r.quit)
}
