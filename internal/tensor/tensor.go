// Package tensor holds the fixed image-to-tensor and tensor-to-image
// transforms that sit on either side of a depth model.
package tensor

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// DType is the element type of a tensor.
type DType int

const (
	Float32 DType = iota
	Uint8
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Shape is an NHWC shape: batch, height, width, channels.
type Shape [4]int

func (s Shape) Batch() int    { return s[0] }
func (s Shape) Height() int   { return s[1] }
func (s Shape) Width() int    { return s[2] }
func (s Shape) Channels() int { return s[3] }

// Elements returns the number of scalar elements.
func (s Shape) Elements() int {
	return s[0] * s[1] * s[2] * s[3]
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", s[0], s[1], s[2], s[3])
}

// Info describes a tensor declared by a model graph.
type Info struct {
	Shape Shape
	DType DType
}

func (i Info) String() string {
	return i.DType.String() + i.Shape.String()
}

// Tensor is a dense NHWC tensor. Only the slice matching DType is populated.
type Tensor struct {
	Info
	Float32s []float32
	Uint8s   []uint8
}

// New allocates a zeroed tensor for info.
func New(info Info) (*Tensor, error) {
	for i, d := range info.Shape {
		if d <= 0 {
			return nil, errors.Newf("dimension %d of shape %s is not positive", i, info.Shape)
		}
	}
	if info.Shape.Batch() != 1 {
		return nil, errors.Newf("batch size %d not supported", info.Shape.Batch())
	}
	t := &Tensor{Info: info}
	switch info.DType {
	case Float32:
		t.Float32s = make([]float32, info.Shape.Elements())
	case Uint8:
		t.Uint8s = make([]uint8, info.Shape.Elements())
	default:
		return nil, errors.Newf("unsupported dtype %s", info.DType)
	}
	return t, nil
}

// Len returns the number of elements held.
func (t *Tensor) Len() int {
	if t.DType == Uint8 {
		return len(t.Uint8s)
	}
	return len(t.Float32s)
}

// At returns element i as a float32 regardless of dtype.
func (t *Tensor) At(i int) float32 {
	if t.DType == Uint8 {
		return float32(t.Uint8s[i])
	}
	return t.Float32s[i]
}

// Normalization is an elementwise affine rescale.
type Normalization struct {
	Mean float32
	Std  float32
}

// Validate rejects a zero standard deviation.
func (n Normalization) Validate() error {
	if n.Std == 0 {
		return errors.New("normalization std must be non-zero")
	}
	return nil
}

// Normalize computes (x - mean) / std.
func (n Normalization) Normalize(x float32) float32 {
	return (x - n.Mean) / n.Std
}

// Rescale computes x * std + mean.
func (n Normalization) Rescale(x float32) float32 {
	return x*n.Std + n.Mean
}

// toUint8 clamps into [0, 255] and truncates.
func toUint8(v float32) uint8 {
	switch {
	case v != v, v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
