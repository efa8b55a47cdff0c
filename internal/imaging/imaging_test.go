package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func TestFitKeepsAspectRatio(t *testing.T) {
	out := Fit(solid(2048, 1024), 1024, 1024)
	assert.Equal(t, 1024, out.Bounds().Dx())
	assert.Equal(t, 512, out.Bounds().Dy())
}

func TestFitLeavesSmallImages(t *testing.T) {
	img := solid(64, 48)
	assert.Same(t, img, Fit(img, 1024, 1024))
}

func TestEncodeAndDecodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(solid(32, 16), 75)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])

	img, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
	assert.Equal(t, "YCbCr", ColorMode(img))
}

func TestDecodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))

	img, format, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, "L", ColorMode(img))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode([]byte("not an image"))
	assert.Error(t, err)

	_, _, err = Decode(nil)
	assert.Error(t, err)
}
