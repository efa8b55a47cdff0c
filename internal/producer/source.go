package producer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/imaging"
)

// Source yields captured frames.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
}

// YUVSource is implemented by sources that capture planar frames. Run
// prefers NextYUV over Next for them.
type YUVSource interface {
	Source
	NextYUV(ctx context.Context) (YUVFrame, error)
}

// DirSource replays the JPEG and PNG files of a directory in name order,
// starting over after the last one.
type DirSource struct {
	mu    sync.Mutex
	files []string
	next  int
}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no jpeg or png frames in %s", dir)
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

func (s *DirSource) Len() int { return len(s.files) }

func (s *DirSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// PatternSource renders synthetic frames for machines without a camera:
// a face-like ellipse whose "eyes" close every few frames.
type PatternSource struct {
	Width  int
	Height int

	mu    sync.Mutex
	frame int
}

func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{Width: width, Height: height}
}

func (s *PatternSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	n := s.frame
	s.frame++
	s.mu.Unlock()

	w, h := s.Width, s.Height
	if w <= 0 || h <= 0 {
		w, h = 320, 240
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	bg := color.RGBA{R: 30, G: 30, B: uint8(40 + n%40), A: 255}
	skin := color.RGBA{R: 224, G: 172, B: 105, A: 255}
	eye := color.RGBA{R: 20, G: 20, B: 20, A: 255}

	cx, cy := float64(w)/2, float64(h)/2
	rx, ry := float64(w)/5, float64(h)/3
	eyesClosed := n%6 >= 4
	eyeY := cy - ry/4
	eyeDX := rx / 2.5

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x), float64(y)
			c := bg
			dx, dy := (fx-cx)/rx, (fy-cy)/ry
			if dx*dx+dy*dy <= 1 {
				c = skin
				for _, ex := range []float64{cx - eyeDX, cx + eyeDX} {
					ey := 6.0
					if eyesClosed {
						ey = 1.5
					}
					edx, edy := (fx-ex)/10, (fy-eyeY)/ey
					if edx*edx+edy*edy <= 1 {
						c = eye
					}
				}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// RawYUVSource replays a raw I420 file, the output of
// `ffmpeg -pix_fmt yuv420p -f rawvideo`, looping at the end.
type RawYUVSource struct {
	Width  int
	Height int

	mu     sync.Mutex
	f      *os.File
	frames int
	next   int
}

func NewRawYUVSource(path string, width, height int) (*RawYUVSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid yuv frame size %dx%d", width, height)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open yuv file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat yuv file: %w", err)
	}
	frames := int(st.Size() / int64(i420Size(width, height)))
	if frames == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%s holds no complete %dx%d frame", filepath.Base(path), width, height)
	}
	return &RawYUVSource{Width: width, Height: height, f: f, frames: frames}, nil
}

func i420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

func (s *RawYUVSource) Len() int { return s.frames }

func (s *RawYUVSource) NextYUV(ctx context.Context) (YUVFrame, error) {
	if err := ctx.Err(); err != nil {
		return YUVFrame{}, err
	}
	size := i420Size(s.Width, s.Height)
	buf := make([]byte, size)

	s.mu.Lock()
	idx := s.next
	s.next = (s.next + 1) % s.frames
	_, err := s.f.ReadAt(buf, int64(idx)*int64(size))
	s.mu.Unlock()
	if err != nil && err != io.EOF {
		return YUVFrame{}, fmt.Errorf("read yuv frame %d: %w", idx, err)
	}

	ySize := s.Width * s.Height
	cSize := (size - ySize) / 2
	return YUVFrame{
		Width:  s.Width,
		Height: s.Height,
		Y:      buf[:ySize],
		U:      buf[ySize : ySize+cSize],
		V:      buf[ySize+cSize:],
	}, nil
}

// Next decodes the planar frame into an image for callers that want one.
func (s *RawYUVSource) Next(ctx context.Context) (image.Image, error) {
	f, err := s.NextYUV(ctx)
	if err != nil {
		return nil, err
	}
	img, ok := f.image()
	if !ok {
		return nil, fmt.Errorf("malformed yuv frame")
	}
	return img, nil
}

func (s *RawYUVSource) Close() error {
	return s.f.Close()
}

// ParseFrameSize parses a WIDTHxHEIGHT setting such as 640x480.
func ParseFrameSize(v string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("frame size %q is not WIDTHxHEIGHT", v)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("frame size %q has an invalid width", v)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("frame size %q has an invalid height", v)
	}
	return w, h, nil
}
