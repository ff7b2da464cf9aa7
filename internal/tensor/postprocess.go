package tensor

import (
	"image"

	"github.com/cockroachdb/errors"
)

// Postprocess turns a (1, H, W, 1) output tensor into an 8-bit greyscale
// image of size W x H. Each element becomes raw * std + mean, clamped to
// [0, 255] and truncated.
func Postprocess(t *Tensor, norm Normalization) (*image.Gray, error) {
	if t == nil {
		return nil, errors.New("nil output tensor")
	}
	if t.Shape.Channels() != 1 {
		return nil, errors.Newf("output tensor %s must have 1 channel", t.Shape)
	}
	w, h := t.Shape.Width(), t.Shape.Height()
	if w <= 0 || h <= 0 {
		return nil, errors.Newf("output tensor %s has no pixels", t.Shape)
	}
	if t.Len() < w*h {
		return nil, errors.Newf("output tensor holds %d elements, shape %s needs %d", t.Len(), t.Shape, w*h)
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		out.Pix[i] = toUint8(norm.Rescale(t.At(i)))
	}
	return out, nil
}
