// Package runtimetest provides an in-memory model.Runtime for tests.
package runtimetest

import (
	"sync"

	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/Brownie44l1/depthhive/internal/tensor"
	"github.com/cockroachdb/errors"
)

// Runtime is a fake runtime whose interpreters fill the output tensor with
// a constant. Every Open is recorded.
type Runtime struct {
	Input  tensor.Info
	Output tensor.Info
	// Fill is written to every output element on Invoke.
	Fill float32
	// OpenErr and InvokeErr, when set, are returned by Open and Invoke.
	OpenErr   error
	InvokeErr error

	mu           sync.Mutex
	opened       []model.Options
	interpreters []*Interpreter
}

// New returns a runtime for a float model with a square input of side and a
// depth output of the same size.
func New(side int) *Runtime {
	return &Runtime{
		Input:  tensor.Info{Shape: tensor.Shape{1, side, side, 3}, DType: tensor.Float32},
		Output: tensor.Info{Shape: tensor.Shape{1, side, side, 1}, DType: tensor.Float32},
	}
}

func (r *Runtime) Name() string { return "fake" }

func (r *Runtime) Asset(name string) string { return name }

func (r *Runtime) Open(_ []byte, opts model.Options) (model.Interpreter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, opts)
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	in := &Interpreter{rt: r, input: r.Input, output: r.Output}
	r.interpreters = append(r.interpreters, in)
	return in, nil
}

// Opened returns the options of every Open call so far.
func (r *Runtime) Opened() []model.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Options(nil), r.opened...)
}

// Interpreters returns every interpreter handed out so far.
func (r *Runtime) Interpreters() []*Interpreter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Interpreter(nil), r.interpreters...)
}

// Live counts interpreters that have not been closed.
func (r *Runtime) Live() int {
	n := 0
	for _, in := range r.Interpreters() {
		if in.Closes() == 0 {
			n++
		}
	}
	return n
}

// Interpreter is the fake interpreter returned by Runtime.Open.
type Interpreter struct {
	rt     *Runtime
	input  tensor.Info
	output tensor.Info

	mu      sync.Mutex
	invokes int
	closes  int
	lastIn  []float32
}

func (i *Interpreter) Input() tensor.Info  { return i.input }
func (i *Interpreter) Output() tensor.Info { return i.output }

func (i *Interpreter) Invoke(in, out *tensor.Tensor) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closes > 0 {
		return errors.New("invoke on closed interpreter")
	}
	i.invokes++
	if i.rt.InvokeErr != nil {
		return i.rt.InvokeErr
	}
	i.lastIn = i.lastIn[:0]
	for n := 0; n < in.Len(); n++ {
		i.lastIn = append(i.lastIn, in.At(n))
	}
	for n := range out.Float32s {
		out.Float32s[n] = i.rt.Fill
	}
	for n := range out.Uint8s {
		out.Uint8s[n] = uint8(i.rt.Fill)
	}
	return nil
}

func (i *Interpreter) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closes++
	return nil
}

// Invokes counts forward passes.
func (i *Interpreter) Invokes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.invokes
}

// Closes counts Close calls.
func (i *Interpreter) Closes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closes
}

// LastInput returns a copy of the input seen by the last Invoke.
func (i *Interpreter) LastInput() []float32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]float32(nil), i.lastIn...)
}
