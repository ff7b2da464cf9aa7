package model

import (
	"fmt"
	"strings"

	"github.com/Brownie44l1/depthhive/internal/tensor"
	"github.com/cockroachdb/errors"
)

// Variant selects one of the bundled depth models.
type Variant int

const (
	FloatMobileNet Variant = iota
	QuantizedMobileNet
)

// Variants lists every supported model variant.
var Variants = []Variant{FloatMobileNet, QuantizedMobileNet}

func (v Variant) String() string {
	switch v {
	case FloatMobileNet:
		return "float"
	case QuantizedMobileNet:
		return "quantized"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant accepts the names printed by Variant.String.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float", "float_mobilenet":
		return FloatMobileNet, nil
	case "quantized", "quant", "quantized_mobilenet":
		return QuantizedMobileNet, nil
	}
	return 0, errors.WithHint(
		errors.Mark(errors.Newf("unknown model variant %q", s), ErrConfiguration),
		"use one of: float, quantized")
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(b []byte) error {
	p, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// Device selects where the graph executes.
type Device int

const (
	CPU Device = iota
	// Accelerator is a dedicated neural processing unit (NNAPI style).
	Accelerator
	GPU
)

// Devices lists every supported device.
var Devices = []Device{CPU, Accelerator, GPU}

func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case Accelerator:
		return "accelerator"
	case GPU:
		return "gpu"
	default:
		return fmt.Sprintf("Device(%d)", int(d))
	}
}

// ParseDevice accepts the names printed by Device.String plus "nnapi" and "npu".
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return CPU, nil
	case "accelerator", "nnapi", "npu", "tpu":
		return Accelerator, nil
	case "gpu":
		return GPU, nil
	}
	return 0, errors.WithHint(
		errors.Mark(errors.Newf("unknown device %q", s), ErrConfiguration),
		"use one of: cpu, accelerator, gpu")
}

func (d Device) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Device) UnmarshalText(b []byte) error {
	p, err := ParseDevice(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// Descriptor is the static metadata of a model variant.
type Descriptor struct {
	AssetPath string
	// ImageNorm is applied to input pixels as (x - mean) / std.
	ImageNorm tensor.Normalization
	// DepthNorm is applied to output values as x * std + mean.
	DepthNorm tensor.Normalization
}

var descriptors = map[Variant]Descriptor{
	FloatMobileNet: {
		AssetPath: "bts_nyu_mobilenet.tflite",
		ImageNorm: tensor.Normalization{Mean: 127.5, Std: 127.5},
		DepthNorm: tensor.Normalization{Mean: 0.0, Std: 10.0 / 255.0},
	},
	// the quantized graph already consumes raw pixels and emits [0, 255)
	QuantizedMobileNet: {
		AssetPath: "bts_nyu_mobilenet_quant.tflite",
		ImageNorm: tensor.Normalization{Mean: 0.0, Std: 1.0},
		DepthNorm: tensor.Normalization{Mean: 0.0, Std: 1.0},
	},
}

// Describe returns the descriptor for v.
func Describe(v Variant) (Descriptor, error) {
	d, ok := descriptors[v]
	if !ok {
		return Descriptor{}, errors.Mark(errors.Newf("no descriptor for %s", v), ErrConfiguration)
	}
	return d, nil
}

// Validate reports whether the variant can execute on the device.
func Validate(v Variant, d Device) error {
	if _, err := Describe(v); err != nil {
		return err
	}
	switch d {
	case CPU, Accelerator, GPU:
	default:
		return errors.Mark(errors.Newf("unknown device %s", d), ErrConfiguration)
	}
	if d == GPU && v == QuantizedMobileNet {
		return errors.WithHint(
			errors.Mark(errors.New("GPU does not support quantized models"), ErrConfiguration),
			"select the float model or run the quantized model on cpu or accelerator")
	}
	return nil
}

// Config selects the model, its placement and the interpreter thread count.
type Config struct {
	Variant    Variant `json:"variant"`
	Device     Device  `json:"device"`
	NumThreads int     `json:"threads"`
}

func (c Config) String() string {
	return fmt.Sprintf("model=%s device=%s threads=%d", c.Variant, c.Device, c.NumThreads)
}

// Validate checks the variant/device pairing and thread count.
func (c Config) Validate() error {
	if c.NumThreads < 1 {
		return errors.WithHint(
			errors.Mark(errors.Newf("thread count %d must be at least 1", c.NumThreads), ErrConfiguration),
			"set threads to 1 or more")
	}
	return Validate(c.Variant, c.Device)
}
