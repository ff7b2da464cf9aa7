// Package gpu binds the TensorFlow Lite GPU delegate (OpenCL/OpenGL ES)
// so it can be attached through go-tflite's InterpreterOptions.AddDelegate.
package gpu

/*
#cgo LDFLAGS: -ltensorflowlite_gpu_delegate
#include <tensorflow/lite/delegates/gpu/delegate.h>
*/
import "C"

import "unsafe"

// Options mirrors the subset of TfLiteGpuDelegateOptionsV2 we set.
type Options struct {
	// AllowPrecisionLoss lets the delegate compute in fp16.
	AllowPrecisionLoss bool
	// SustainedSpeed prefers throughput across many frames over first-call
	// latency.
	SustainedSpeed bool
}

func DefaultOptions() Options {
	return Options{AllowPrecisionLoss: true, SustainedSpeed: true}
}

// Delegate implements delegates.Delegater.
type Delegate struct {
	d *C.TfLiteDelegate
}

// New creates a GPU delegate, or returns nil when no GPU context can be
// created.
func New(opts Options) *Delegate {
	o := C.TfLiteGpuDelegateOptionsV2Default()
	if opts.AllowPrecisionLoss {
		o.is_precision_loss_allowed = 1
	}
	if opts.SustainedSpeed {
		o.inference_preference = C.int32_t(C.TFLITE_GPU_INFERENCE_PREFERENCE_SUSTAINED_SPEED)
	}
	d := C.TfLiteGpuDelegateV2Create(&o)
	if d == nil {
		return nil
	}
	return &Delegate{d: d}
}

func (d *Delegate) Delete() {
	if d.d != nil {
		C.TfLiteGpuDelegateV2Delete(d.d)
		d.d = nil
	}
}

func (d *Delegate) Ptr() unsafe.Pointer {
	return unsafe.Pointer(d.d)
}
