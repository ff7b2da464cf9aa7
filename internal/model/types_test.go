package model

import (
	"testing"

	"github.com/Brownie44l1/depthhive/internal/tensor"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		variant Variant
		want    Descriptor
	}{
		{
			variant: FloatMobileNet,
			want: Descriptor{
				AssetPath: "bts_nyu_mobilenet.tflite",
				ImageNorm: tensor.Normalization{Mean: 127.5, Std: 127.5},
				DepthNorm: tensor.Normalization{Mean: 0, Std: 10.0 / 255.0},
			},
		},
		{
			variant: QuantizedMobileNet,
			want: Descriptor{
				AssetPath: "bts_nyu_mobilenet_quant.tflite",
				ImageNorm: tensor.Normalization{Mean: 0, Std: 1},
				DepthNorm: tensor.Normalization{Mean: 0, Std: 1},
			},
		},
	}
	for _, tt := range tests {
		got, err := Describe(tt.variant)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.variant.String())
	}

	_, err := Describe(Variant(42))
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestValidate(t *testing.T) {
	for _, v := range Variants {
		for _, d := range Devices {
			err := Validate(v, d)
			if v == QuantizedMobileNet && d == GPU {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfiguration))
				assert.NotEmpty(t, errors.FlattenHints(err))
				continue
			}
			assert.NoError(t, err, "%s on %s", v, d)
		}
	}
	assert.Error(t, Validate(FloatMobileNet, Device(9)))
}

func TestParse(t *testing.T) {
	for _, v := range Variants {
		got, err := ParseVariant(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	for _, d := range Devices {
		got, err := ParseDevice(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	d, err := ParseDevice(" NNAPI ")
	require.NoError(t, err)
	assert.Equal(t, Accelerator, d)

	_, err = ParseVariant("resnet")
	assert.True(t, errors.Is(err, ErrConfiguration))
	_, err = ParseDevice("dsp")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestConfigTextRoundTrip(t *testing.T) {
	var v Variant
	require.NoError(t, v.UnmarshalText([]byte("quantized")))
	assert.Equal(t, QuantizedMobileNet, v)
	b, err := v.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "quantized", string(b))

	var d Device
	require.Error(t, d.UnmarshalText([]byte("fpga")))
}
