package model

import "github.com/Brownie44l1/depthhive/internal/tensor"

// Options controls how a runtime builds an interpreter.
type Options struct {
	Device     Device
	NumThreads int
}

// Interpreter runs a loaded graph with one input and one output tensor.
// It is not safe for concurrent use.
type Interpreter interface {
	Input() tensor.Info
	Output() tensor.Info
	// Invoke copies in into the graph, runs one forward pass and copies the
	// result into out.
	Invoke(in, out *tensor.Tensor) error
	// Close releases the interpreter and any delegate attached to it.
	Close() error
}

// Runtime is an inference library capable of turning model bytes into an
// Interpreter placed on a device.
type Runtime interface {
	Name() string
	// Asset maps a descriptor asset name to the file this runtime loads.
	Asset(name string) string
	Open(model []byte, opts Options) (Interpreter, error)
}
