// Package tflite runs depth models with the TensorFlow Lite C library.
package tflite

import (
	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/Brownie44l1/depthhive/internal/runtime/tflite/gpu"
	"github.com/Brownie44l1/depthhive/internal/tensor"
	"github.com/cockroachdb/errors"
	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"go.uber.org/zap"
)

// Runtime opens .tflite flatbuffers. CPU uses the builtin kernels,
// Accelerator the first Edge TPU found and GPU the TFLite GPU delegate.
type Runtime struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{logger: logger}
}

func (r *Runtime) Name() string { return "tflite" }

func (r *Runtime) Asset(name string) string { return name }

func (r *Runtime) Open(data []byte, opts model.Options) (model.Interpreter, error) {
	m := tflite.NewModel(data)
	if m == nil {
		return nil, errors.New("cannot load model")
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		m.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	defer options.Delete()
	options.SetNumThread(opts.NumThreads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		r.logger.Warn("TensorFlow Lite", zap.String("message", msg))
	}, nil)

	delegate, err := newDelegate(opts.Device)
	if err != nil {
		m.Delete()
		return nil, err
	}
	if delegate != nil {
		options.AddDelegate(delegate)
	}

	release := func() {
		if delegate != nil {
			delegate.Delete()
		}
		m.Delete()
	}

	interp := tflite.NewInterpreter(m, options)
	if interp == nil {
		release()
		return nil, errors.New("cannot create interpreter")
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		release()
		return nil, errors.Newf("allocate failed: %v", status)
	}

	in, err := describe(interp.GetInputTensor(0))
	if err != nil {
		interp.Delete()
		release()
		return nil, errors.Wrap(err, "input tensor")
	}
	out, err := describe(interp.GetOutputTensor(0))
	if err != nil {
		interp.Delete()
		release()
		return nil, errors.Wrap(err, "output tensor")
	}

	return &interpreter{
		model:    m,
		interp:   interp,
		delegate: delegate,
		input:    in,
		output:   out,
	}, nil
}

func newDelegate(d model.Device) (delegates.Delegater, error) {
	switch d {
	case model.CPU:
		return nil, nil
	case model.Accelerator:
		devices, err := edgetpu.DeviceList()
		if err != nil {
			return nil, errors.Wrap(err, "could not get Edge TPU devices")
		}
		if len(devices) == 0 {
			return nil, errors.New("no Edge TPU devices found")
		}
		delegate := edgetpu.New(devices[0])
		if delegate == nil {
			return nil, errors.Newf("cannot open Edge TPU %s", devices[0].Path)
		}
		return delegate, nil
	case model.GPU:
		delegate := gpu.New(gpu.DefaultOptions())
		if delegate == nil {
			return nil, errors.New("GPU delegate unavailable")
		}
		return delegate, nil
	}
	return nil, errors.Newf("unsupported device %s", d)
}

func describe(t *tflite.Tensor) (tensor.Info, error) {
	if t == nil {
		return tensor.Info{}, errors.New("missing tensor")
	}
	if t.NumDims() != 4 {
		return tensor.Info{}, errors.Newf("%s has %d dimensions, want 4", t.Name(), t.NumDims())
	}
	info := tensor.Info{Shape: tensor.Shape{t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)}}
	switch t.Type() {
	case tflite.Float32:
		info.DType = tensor.Float32
	case tflite.UInt8:
		info.DType = tensor.Uint8
	default:
		return tensor.Info{}, errors.Newf("%s has unsupported type %v", t.Name(), t.Type())
	}
	return info, nil
}

type interpreter struct {
	model    *tflite.Model
	interp   *tflite.Interpreter
	delegate delegates.Delegater
	input    tensor.Info
	output   tensor.Info
}

func (i *interpreter) Input() tensor.Info  { return i.input }
func (i *interpreter) Output() tensor.Info { return i.output }

func (i *interpreter) Invoke(in, out *tensor.Tensor) error {
	if i.interp == nil {
		return errors.New("interpreter closed")
	}
	input := i.interp.GetInputTensor(0)
	var err error
	switch in.DType {
	case tensor.Float32:
		err = input.SetFloat32s(in.Float32s)
	case tensor.Uint8:
		err = input.SetUint8s(in.Uint8s)
	}
	if err != nil {
		return errors.Wrap(err, "copying input failed")
	}

	if status := i.interp.Invoke(); status != tflite.OK {
		return errors.Newf("invoke failed: %v", status)
	}

	output := i.interp.GetOutputTensor(0)
	switch out.DType {
	case tensor.Float32:
		copy(out.Float32s, output.Float32s())
	case tensor.Uint8:
		copy(out.Uint8s, output.UInt8s())
	}
	return nil
}

// Close deletes the interpreter before the delegate it runs on.
func (i *interpreter) Close() error {
	if i.interp != nil {
		i.interp.Delete()
		i.interp = nil
	}
	if i.delegate != nil {
		i.delegate.Delete()
		i.delegate = nil
	}
	if i.model != nil {
		i.model.Delete()
		i.model = nil
	}
	return nil
}
