package model

import (
	"image"
	"io/fs"
	"time"

	"github.com/Brownie44l1/depthhive/internal/tensor"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Engine owns one loaded depth model: the interpreter, its delegate and the
// reusable input/output tensors. Run overwrites those tensors, so an Engine
// serves one caller at a time; use one Engine per concurrent caller.
type Engine struct {
	logger  *zap.Logger
	cfg     Config
	desc    Descriptor
	runtime string

	inShape  tensor.Shape
	outShape tensor.Shape

	interp Interpreter
	input  *tensor.Tensor
	output *tensor.Tensor
	closed bool
}

// NewEngine loads the model for cfg from assets and returns a ready engine.
// An unsupported combination fails with ErrConfiguration before anything
// is read; asset, runtime and shape problems fail with ErrLoad.
func NewEngine(rt Runtime, assets fs.FS, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	desc, err := Describe(cfg.Variant)
	if err != nil {
		return nil, err
	}

	asset := rt.Asset(desc.AssetPath)
	data, err := fs.ReadFile(assets, asset)
	if err != nil {
		return nil, loadErrorf(err, "failed to read model asset %s", asset)
	}
	if len(data) == 0 {
		return nil, errors.Mark(errors.Newf("model asset %s is empty", asset), ErrLoad)
	}

	interp, err := rt.Open(data, Options{Device: cfg.Device, NumThreads: cfg.NumThreads})
	if err != nil {
		return nil, loadErrorf(err, "%s failed to load %s on %s", rt.Name(), asset, cfg.Device)
	}

	in, out := interp.Input(), interp.Output()
	if err := checkShapes(in, out); err != nil {
		_ = interp.Close()
		return nil, loadErrorf(err, "model asset %s", asset)
	}
	input, err := tensor.New(in)
	if err != nil {
		_ = interp.Close()
		return nil, loadErrorf(err, "failed to allocate input tensor")
	}
	output, err := tensor.New(out)
	if err != nil {
		_ = interp.Close()
		return nil, loadErrorf(err, "failed to allocate output tensor")
	}

	e := &Engine{
		logger:   logger,
		cfg:      cfg,
		desc:     desc,
		runtime:  rt.Name(),
		inShape:  in.Shape,
		outShape: out.Shape,
		interp:   interp,
		input:    input,
		output:   output,
	}
	logger.Debug("Created depth estimator",
		zap.Stringer("model", cfg.Variant),
		zap.Stringer("device", cfg.Device),
		zap.Int("threads", cfg.NumThreads),
		zap.String("runtime", e.runtime),
		zap.Stringer("input", in),
		zap.Stringer("output", out))
	return e, nil
}

// checkShapes requires a (1, H, W, 3) input and a (1, H', W', 1) output.
func checkShapes(in, out tensor.Info) error {
	if in.Shape.Batch() != 1 || in.Shape.Channels() != 3 {
		return errors.Newf("input tensor %s is not (1, H, W, 3)", in)
	}
	if out.Shape.Batch() != 1 || out.Shape.Channels() != 1 {
		return errors.Newf("output tensor %s is not (1, H, W, 1)", out)
	}
	for _, info := range []tensor.Info{in, out} {
		if info.DType != tensor.Float32 && info.DType != tensor.Uint8 {
			return errors.Newf("tensor %s has unsupported dtype", info)
		}
	}
	return nil
}

// Run estimates a depth map for img captured at the given sensor
// orientation in degrees. The returned image is freshly allocated and has
// the model's output resolution.
func (e *Engine) Run(img image.Image, orientation int) (*image.Gray, error) {
	if e.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	if err := tensor.PreprocessInto(e.input, img, orientation, e.desc.ImageNorm); err != nil {
		return nil, errors.Wrap(err, "failed to preprocess frame")
	}
	loaded := time.Now()

	if err := e.interp.Invoke(e.input, e.output); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "forward pass failed"), ErrInference)
	}
	inferred := time.Now()

	depth, err := tensor.Postprocess(e.output, e.desc.DepthNorm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to postprocess depth map")
	}

	e.logger.Debug("Estimated depth",
		zap.Duration("load_image", loaded.Sub(start)),
		zap.Duration("inference", inferred.Sub(loaded)),
		zap.Duration("postprocess", time.Since(inferred)))
	return depth, nil
}

// Close releases the interpreter and delegate. Calling it again is a no-op.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.interp.Close()
	e.interp = nil
	e.input, e.output = nil, nil
	e.logger.Debug("Closed depth estimator", zap.Stringer("model", e.cfg.Variant))
	return err
}

// ImageSizeX is the model's input width.
func (e *Engine) ImageSizeX() int { return e.inShape.Width() }

// ImageSizeY is the model's input height.
func (e *Engine) ImageSizeY() int { return e.inShape.Height() }

// OutputSize is the depth map resolution.
func (e *Engine) OutputSize() image.Point {
	return image.Pt(e.outShape.Width(), e.outShape.Height())
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Runtime() string { return e.runtime }
