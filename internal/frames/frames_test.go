package frames

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("frame.JPG"))
	assert.True(t, IsImage("/a/b/frame.webp"))
	assert.False(t, IsImage("notes.txt"))
	assert.False(t, IsImage("frame"))
}

func TestDecodeBMP(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, src))

	img, format, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "bmp", format)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestWritePNG(t *testing.T) {
	depth := image.NewGray(image.Rect(0, 0, 4, 2))
	for i := range depth.Pix {
		depth.Pix[i] = uint8(i * 30)
	}
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, WritePNG(path, depth))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)
	gray, ok := got.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, depth.Pix, gray.Pix)

	img, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, depth.Bounds(), img.Bounds())
}
