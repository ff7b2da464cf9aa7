package tensor

import (
	"image"
	"image/color"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Rotations returns the number of counter-clockwise quarter turns for a
// sensor orientation in degrees. The quotient is an integer division, so
// 45 maps to 0 and 135 maps to 1.
func Rotations(orientation int) int {
	k := (orientation / 90) % 4
	if k < 0 {
		k += 4
	}
	return k
}

// Preprocess converts img into a freshly allocated (1, h, w, 3) tensor of
// the given dtype.
func Preprocess(img image.Image, orientation, w, h int, norm Normalization, dtype DType) (*Tensor, error) {
	t, err := New(Info{Shape: Shape{1, h, w, 3}, DType: dtype})
	if err != nil {
		return nil, err
	}
	if err := PreprocessInto(t, img, orientation, norm); err != nil {
		return nil, err
	}
	return t, nil
}

// PreprocessInto overwrites dst with the normalized pixels of img: center
// square crop, nearest-neighbour resize to dst's spatial size, rotation,
// then (x - mean) / std per channel.
func PreprocessInto(dst *Tensor, img image.Image, orientation int, norm Normalization) error {
	if dst == nil {
		return errors.New("nil destination tensor")
	}
	if dst.Shape.Channels() != 3 {
		return errors.Newf("input tensor %s must have 3 channels", dst.Shape)
	}
	if dst.Len() != dst.Shape.Elements() {
		return errors.Newf("input tensor buffer holds %d elements, shape %s needs %d",
			dst.Len(), dst.Shape, dst.Shape.Elements())
	}
	if err := norm.Validate(); err != nil {
		return err
	}
	pixels, err := prepare(img, orientation, dst.Shape.Width(), dst.Shape.Height())
	if err != nil {
		return err
	}
	fill(dst, pixels, norm)
	return nil
}

// prepare runs the geometric part of preprocessing and returns an image of
// exactly w x h.
func prepare(img image.Image, orientation, w, h int) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Newf("empty image %v", b)
	}
	side := min(b.Dx(), b.Dy())
	square := cropOrPad(img, side, side)

	k := Rotations(orientation)
	rw, rh := w, h
	if k%2 == 1 {
		// a quarter turn swaps the axes, so resize to the transposed size
		rw, rh = h, w
	}
	resized := resize.Resize(uint(rw), uint(rh), square, resize.NearestNeighbor)

	var out *image.NRGBA
	switch k {
	case 1:
		out = imaging.Rotate90(resized)
	case 2:
		out = imaging.Rotate180(resized)
	case 3:
		out = imaging.Rotate270(resized)
	default:
		out = imaging.Clone(resized)
	}
	if out.Bounds().Dx() != w || out.Bounds().Dy() != h {
		return nil, errors.AssertionFailedf("prepared image is %v, want %dx%d", out.Bounds(), w, h)
	}
	return out, nil
}

// cropOrPad center-crops img to w x h, padding with black on any axis
// where the source is smaller. prepare always asks for the short side, so
// only targets larger than the source take the padding path.
func cropOrPad(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	cw, ch := min(b.Dx(), w), min(b.Dy(), h)
	cropped := imaging.CropCenter(img, cw, ch)
	if cw == w && ch == h {
		return cropped
	}
	canvas := imaging.New(w, h, color.NRGBA{A: 0xff})
	return imaging.PasteCenter(canvas, cropped)
}

func fill(dst *Tensor, img *image.NRGBA, norm Normalization) {
	w, h := dst.Shape.Width(), dst.Shape.Height()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			base := (y*w + x) * 3
			for c := 0; c < 3; c++ {
				v := norm.Normalize(float32(row[x*4+c]))
				if dst.DType == Uint8 {
					dst.Uint8s[base+c] = toUint8(v)
				} else {
					dst.Float32s[base+c] = v
				}
			}
		}
	}
}
