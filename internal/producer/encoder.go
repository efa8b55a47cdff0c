package producer

import (
	"image"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/imaging"
)

// Encoder turns captured frames into JPEG buffers ready for the session.
// Every method returns an empty buffer when the frame cannot be converted.
type Encoder struct {
	Quality   int
	MaxWidth  int
	MaxHeight int
}

func NewEncoder(quality, maxWidth, maxHeight int) *Encoder {
	return &Encoder{Quality: quality, MaxWidth: maxWidth, MaxHeight: maxHeight}
}

func (e *Encoder) Encode(img image.Image) []byte {
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	data, err := imaging.EncodeJPEG(imaging.Fit(img, e.MaxWidth, e.MaxHeight), e.Quality)
	if err != nil {
		return nil
	}
	return data
}

// YUVFrame is a planar 4:2:0 frame as delivered by most camera pipelines.
type YUVFrame struct {
	Width    int
	Height   int
	Y        []byte
	U        []byte
	V        []byte
	YStride  int
	UVStride int
}

// EncodeYUV420 converts a planar frame and encodes it like Encode.
func (e *Encoder) EncodeYUV420(f YUVFrame) []byte {
	img, ok := f.image()
	if !ok {
		return nil
	}
	return e.Encode(img)
}

func (f YUVFrame) image() (*image.YCbCr, bool) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, false
	}
	yStride := f.YStride
	if yStride == 0 {
		yStride = f.Width
	}
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	uvStride := f.UVStride
	if uvStride == 0 {
		uvStride = cw
	}
	if yStride < f.Width || uvStride < cw {
		return nil, false
	}
	if len(f.Y) < yStride*(f.Height-1)+f.Width ||
		len(f.U) < uvStride*(ch-1)+cw ||
		len(f.V) < uvStride*(ch-1)+cw {
		return nil, false
	}
	return &image.YCbCr{
		Y:              f.Y,
		Cb:             f.U,
		Cr:             f.V,
		YStride:        yStride,
		CStride:        uvStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}, true
}
