package model

import "github.com/cockroachdb/errors"

// Error kinds. Concrete errors are marked with one of these so callers can
// test with errors.Is.
var (
	// ErrConfiguration: the requested model/device/thread combination is
	// not supported. No engine is created or replaced.
	ErrConfiguration = errors.New("configuration error")
	// ErrLoad: the model asset is missing, corrupt, has an unexpected
	// shape, or the runtime could not build an interpreter for it.
	ErrLoad = errors.New("load error")
	// ErrInference: the forward pass failed.
	ErrInference = errors.New("inference error")
	// ErrClosed: the engine was used after Close.
	ErrClosed = errors.New("engine closed")
)

func loadErrorf(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrLoad)
}
