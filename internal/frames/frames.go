// Package frames decodes camera frames and encodes depth maps.
package frames

import (
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage reports whether path has a decodable image extension.
func IsImage(path string) bool {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// Decode reads one frame in any registered format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid image format")
	}
	return img, format, nil
}

// DecodeFile opens and decodes path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return img, nil
}

// EncodePNG writes a depth map as an 8-bit greyscale PNG.
func EncodePNG(w io.Writer, depth *image.Gray) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, depth)
}

// WritePNG writes depth to path atomically.
func WritePNG(path string, depth *image.Gray) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".depth-*.png")
	if err != nil {
		return err
	}
	if err := EncodePNG(tmp, depth); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "encoding %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
