// Package onnx runs depth models exported to ONNX through onnxruntime.
package onnx

import (
	"path"
	"strings"

	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/Brownie44l1/depthhive/internal/tensor"
	"github.com/cockroachdb/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Runtime loads the .onnx sibling of each .tflite asset. CPU uses the
// default provider, GPU the CUDA provider and Accelerator the OpenVINO
// provider targeting an NPU.
type Runtime struct {
	logger *zap.Logger
}

// New initializes the onnxruntime environment. libraryPath may be empty to
// use the platform default shared library.
func New(libraryPath string, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}
	logger.Debug("Initialized ONNX environment", zap.String("library", libraryPath))
	return &Runtime{logger: logger}, nil
}

// Close tears down the onnxruntime environment. Interpreters must be
// closed first.
func (r *Runtime) Close() error {
	return ort.DestroyEnvironment()
}

func (r *Runtime) Name() string { return "onnx" }

func (r *Runtime) Asset(name string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ".onnx"
}

func (r *Runtime) Open(data []byte, opts model.Options) (model.Interpreter, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model inputs and outputs")
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Newf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}
	in, err := describe(inputs[0])
	if err != nil {
		return nil, err
	}
	out, err := describe(outputs[0])
	if err != nil {
		return nil, err
	}

	options, err := r.sessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputTensor, err := newTensor(in)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	outputTensor, err := newTensor(out)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	session, err := ort.NewAdvancedSessionWithONNXData(data,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create ONNX session")
	}

	return &interpreter{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		input:        in,
		output:       out,
	}, nil
}

func (r *Runtime) sessionOptions(opts model.Options) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	if err := options.SetIntraOpNumThreads(opts.NumThreads); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "failed to set thread count")
	}

	switch opts.Device {
	case model.CPU:
	case model.GPU:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "failed to create CUDA provider options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "failed to enable CUDA provider")
		}
	case model.Accelerator:
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{"device_type": "NPU"}); err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "failed to enable OpenVINO provider")
		}
	default:
		options.Destroy()
		return nil, errors.Newf("unsupported device %s", opts.Device)
	}
	r.logger.Debug("Built ONNX session options",
		zap.Stringer("device", opts.Device), zap.Int("threads", opts.NumThreads))
	return options, nil
}

func describe(info ort.InputOutputInfo) (tensor.Info, error) {
	dims := info.Dimensions
	if len(dims) != 4 {
		return tensor.Info{}, errors.Newf("%s has shape %v, want 4 dimensions", info.Name, dims)
	}
	t := tensor.Info{Shape: tensor.Shape{int(dims[0]), int(dims[1]), int(dims[2]), int(dims[3])}}
	switch info.DataType {
	case ort.TensorElementDataTypeFloat:
		t.DType = tensor.Float32
	case ort.TensorElementDataTypeUint8:
		t.DType = tensor.Uint8
	default:
		return tensor.Info{}, errors.Newf("%s has unsupported element type %v", info.Name, info.DataType)
	}
	return t, nil
}

func newTensor(info tensor.Info) (ort.ArbitraryTensor, error) {
	for _, d := range info.Shape {
		if d <= 0 {
			return nil, errors.Newf("dynamic or empty dimension in %s", info)
		}
	}
	s := info.Shape
	shape := ort.NewShape(int64(s[0]), int64(s[1]), int64(s[2]), int64(s[3]))
	if info.DType == tensor.Uint8 {
		return ort.NewEmptyTensor[uint8](shape)
	}
	return ort.NewEmptyTensor[float32](shape)
}

type interpreter struct {
	session      *ort.AdvancedSession
	inputTensor  ort.ArbitraryTensor
	outputTensor ort.ArbitraryTensor
	input        tensor.Info
	output       tensor.Info
}

func (i *interpreter) Input() tensor.Info  { return i.input }
func (i *interpreter) Output() tensor.Info { return i.output }

func (i *interpreter) Invoke(in, out *tensor.Tensor) error {
	if i.session == nil {
		return errors.New("session closed")
	}
	switch t := i.inputTensor.(type) {
	case *ort.Tensor[float32]:
		copy(t.GetData(), in.Float32s)
	case *ort.Tensor[uint8]:
		copy(t.GetData(), in.Uint8s)
	}

	if err := i.session.Run(); err != nil {
		return errors.Wrap(err, "inference failed")
	}

	switch t := i.outputTensor.(type) {
	case *ort.Tensor[float32]:
		copy(out.Float32s, t.GetData())
	case *ort.Tensor[uint8]:
		copy(out.Uint8s, t.GetData())
	}
	return nil
}

func (i *interpreter) Close() error {
	var errs []error
	if i.session != nil {
		errs = append(errs, i.session.Destroy())
		i.session = nil
	}
	if i.inputTensor != nil {
		errs = append(errs, i.inputTensor.Destroy())
		i.inputTensor = nil
	}
	if i.outputTensor != nil {
		errs = append(errs, i.outputTensor.Destroy())
		i.outputTensor = nil
	}
	return errors.Join(errs...)
}
