package model_test

import (
	"image"
	"testing"
	"testing/fstest"

	"github.com/Brownie44l1/depthhive/internal/model"
	"github.com/Brownie44l1/depthhive/internal/runtime/runtimetest"
	"github.com/Brownie44l1/depthhive/internal/tensor"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func assets() fstest.MapFS {
	return fstest.MapFS{
		"bts_nyu_mobilenet.tflite":       {Data: []byte("float-graph")},
		"bts_nyu_mobilenet_quant.tflite": {Data: []byte("quant-graph")},
	}
}

func TestNewEngineSupportedPairs(t *testing.T) {
	for _, v := range model.Variants {
		for _, d := range model.Devices {
			cfg := model.Config{Variant: v, Device: d, NumThreads: 2}
			t.Run(cfg.String(), func(t *testing.T) {
				rt := runtimetest.New(32)
				rt.Input.Shape = tensor.Shape{1, 24, 40, 3}
				e, err := model.NewEngine(rt, assets(), cfg, zaptest.NewLogger(t))
				if v == model.QuantizedMobileNet && d == model.GPU {
					require.Error(t, err)
					assert.True(t, errors.Is(err, model.ErrConfiguration))
					assert.Nil(t, e)
					assert.Empty(t, rt.Opened(), "runtime must not be touched")
					return
				}
				require.NoError(t, err)
				defer e.Close()
				assert.Equal(t, 40, e.ImageSizeX())
				assert.Equal(t, 24, e.ImageSizeY())
				assert.Equal(t, []model.Options{{Device: d, NumThreads: 2}}, rt.Opened())
				assert.Equal(t, cfg, e.Config())
				assert.Equal(t, "fake", e.Runtime())
			})
		}
	}
}

func TestNewEngineRejectsThreadCount(t *testing.T) {
	rt := runtimetest.New(8)
	_, err := model.NewEngine(rt, assets(), model.Config{NumThreads: 0}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	assert.Empty(t, rt.Opened())
}

func TestNewEngineLoadErrors(t *testing.T) {
	cfg := model.Config{Variant: model.FloatMobileNet, Device: model.CPU, NumThreads: 1}

	t.Run("missing asset", func(t *testing.T) {
		rt := runtimetest.New(8)
		_, err := model.NewEngine(rt, fstest.MapFS{}, cfg, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrLoad))
		assert.Empty(t, rt.Opened())
	})

	t.Run("empty asset", func(t *testing.T) {
		rt := runtimetest.New(8)
		fsys := fstest.MapFS{"bts_nyu_mobilenet.tflite": {}}
		_, err := model.NewEngine(rt, fsys, cfg, nil)
		assert.True(t, errors.Is(err, model.ErrLoad))
	})

	t.Run("runtime refuses", func(t *testing.T) {
		rt := runtimetest.New(8)
		rt.OpenErr = errors.New("corrupt flatbuffer")
		_, err := model.NewEngine(rt, assets(), cfg, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrLoad))
		assert.Contains(t, err.Error(), "corrupt flatbuffer")
	})

	shapes := []struct {
		name string
		in   tensor.Info
		out  tensor.Info
	}{
		{
			name: "input channels",
			in:   tensor.Info{Shape: tensor.Shape{1, 8, 8, 1}, DType: tensor.Float32},
			out:  tensor.Info{Shape: tensor.Shape{1, 8, 8, 1}, DType: tensor.Float32},
		},
		{
			name: "output channels",
			in:   tensor.Info{Shape: tensor.Shape{1, 8, 8, 3}, DType: tensor.Float32},
			out:  tensor.Info{Shape: tensor.Shape{1, 8, 8, 2}, DType: tensor.Float32},
		},
		{
			name: "batch",
			in:   tensor.Info{Shape: tensor.Shape{4, 8, 8, 3}, DType: tensor.Float32},
			out:  tensor.Info{Shape: tensor.Shape{4, 8, 8, 1}, DType: tensor.Float32},
		},
		{
			name: "dynamic dimension",
			in:   tensor.Info{Shape: tensor.Shape{1, -1, 8, 3}, DType: tensor.Float32},
			out:  tensor.Info{Shape: tensor.Shape{1, 8, 8, 1}, DType: tensor.Float32},
		},
		{
			name: "dtype",
			in:   tensor.Info{Shape: tensor.Shape{1, 8, 8, 3}, DType: tensor.DType(7)},
			out:  tensor.Info{Shape: tensor.Shape{1, 8, 8, 1}, DType: tensor.Float32},
		},
	}
	for _, tt := range shapes {
		t.Run(tt.name, func(t *testing.T) {
			rt := runtimetest.New(8)
			rt.Input, rt.Output = tt.in, tt.out
			_, err := model.NewEngine(rt, assets(), cfg, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrLoad))
			require.Len(t, rt.Interpreters(), 1)
			assert.Equal(t, 1, rt.Interpreters()[0].Closes(), "interpreter must be released")
		})
	}
}

func TestEngineRunEndToEnd(t *testing.T) {
	rt := runtimetest.New(16)
	rt.Output.Shape = tensor.Shape{1, 8, 12, 1}
	e, err := model.NewEngine(rt, assets(), model.Config{Variant: model.FloatMobileNet, Device: model.CPU, NumThreads: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e.Close()

	frame := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	for i := 3; i < len(frame.Pix); i += 4 {
		frame.Pix[i] = 0xff
	}

	depth, err := e.Run(frame, 0)
	require.NoError(t, err)
	require.NotNil(t, depth)
	assert.Equal(t, image.Rect(0, 0, 12, 8), depth.Bounds())
	assert.Equal(t, image.Pt(12, 8), e.OutputSize())

	// black pixels normalized with mean 127.5, std 127.5
	in := rt.Interpreters()[0].LastInput()
	require.Len(t, in, 16*16*3)
	for _, v := range in {
		require.InDelta(t, -1.0, v, 1e-6)
	}
}

func TestEngineRunReturnsFreshImages(t *testing.T) {
	rt := runtimetest.New(4)
	rt.Input.DType, rt.Output.DType = tensor.Uint8, tensor.Uint8
	rt.Fill = 200
	e, err := model.NewEngine(rt, assets(), model.Config{Variant: model.QuantizedMobileNet, Device: model.Accelerator, NumThreads: 1}, nil)
	require.NoError(t, err)
	defer e.Close()

	frame := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	a, err := e.Run(frame, 90)
	require.NoError(t, err)
	b, err := e.Run(frame, 90)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
	assert.Equal(t, uint8(200), a.Pix[0])
	a.Pix[0] = 1
	assert.Equal(t, uint8(200), b.Pix[0])
	assert.Equal(t, 2, rt.Interpreters()[0].Invokes())
}

func TestEngineRunInferenceError(t *testing.T) {
	rt := runtimetest.New(4)
	rt.InvokeErr = errors.New("delegate fault")
	e, err := model.NewEngine(rt, assets(), model.Config{Variant: model.FloatMobileNet, Device: model.GPU, NumThreads: 1}, nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Run(image.NewNRGBA(image.Rect(0, 0, 4, 4)), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInference))
}

func TestEngineCloseIdempotent(t *testing.T) {
	rt := runtimetest.New(4)
	e, err := model.NewEngine(rt, assets(), model.Config{Variant: model.FloatMobileNet, Device: model.CPU, NumThreads: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, 1, rt.Interpreters()[0].Closes())

	_, err = e.Run(image.NewNRGBA(image.Rect(0, 0, 4, 4)), 0)
	assert.True(t, errors.Is(err, model.ErrClosed))
	assert.Equal(t, 4, e.ImageSizeX())
}
