package producer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/imaging"
)

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	interval  int
	count     int
	frames    [][]byte
	err       error
}

func (f *fakeSender) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) SendFrame(frame []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.count++
	if f.interval > 1 && f.count%f.interval != 0 {
		return false, nil
	}
	f.frames = append(f.frames, frame)
	return true, nil
}

func (f *fakeSender) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func gray(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func newTestProducer(t *testing.T, sender Sender) *Producer {
	return New(zaptest.NewLogger(t), sender, NewEncoder(75, 1024, 1024))
}

func TestSubmitRequiresRecordingAndConnection(t *testing.T) {
	sender := &fakeSender{}
	p := newTestProducer(t, sender)

	sent, err := p.Submit(gray(8, 8))
	require.NoError(t, err)
	assert.False(t, sent, "not recording")

	p.Start()
	sent, err = p.Submit(gray(8, 8))
	require.NoError(t, err)
	assert.False(t, sent, "not connected")
	assert.Equal(t, Stats{}, p.Stats())

	sender.connected = true
	sent, err = p.Submit(gray(8, 8))
	require.NoError(t, err)
	assert.True(t, sent)

	frames := sender.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xff, 0xd8}, frames[0][:2])
	assert.Equal(t, Stats{Captured: 1, Sent: 1}, p.Stats())
}

func TestSubmitCountsThrottledFrames(t *testing.T) {
	sender := &fakeSender{connected: true, interval: 3}
	p := newTestProducer(t, sender)
	p.Start()

	for i := 0; i < 6; i++ {
		_, err := p.Submit(gray(8, 8))
		require.NoError(t, err)
	}
	assert.Equal(t, Stats{Captured: 6, Sent: 2, Throttled: 4}, p.Stats())
}

func TestConversionFailureIsDropped(t *testing.T) {
	sender := &fakeSender{connected: true}
	p := newTestProducer(t, sender)
	p.Start()

	sent, err := p.SubmitYUV(YUVFrame{Width: 4, Height: 4, Y: []byte{1, 2}})
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, sender.sentFrames())
	assert.Equal(t, Stats{Captured: 1, Dropped: 1}, p.Stats())
}

func TestSendErrorIsReturned(t *testing.T) {
	boom := errors.New("broken pipe")
	p := newTestProducer(t, &fakeSender{connected: true, err: boom})
	p.Start()

	_, err := p.Submit(gray(8, 8))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestStartStop(t *testing.T) {
	p := newTestProducer(t, &fakeSender{})
	assert.False(t, p.IsRecording())
	assert.Zero(t, p.Duration())

	p.Start()
	assert.True(t, p.IsRecording())
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, p.Duration(), time.Duration(0))

	p.Stop()
	assert.False(t, p.IsRecording())
	assert.Zero(t, p.Duration())
}

func TestEncodeYUV420(t *testing.T) {
	w, h := 16, 8
	f := YUVFrame{
		Width:  w,
		Height: h,
		Y:      make([]byte, w*h),
		U:      make([]byte, w*h/4),
		V:      make([]byte, w*h/4),
	}
	for i := range f.Y {
		f.Y[i] = 200
	}
	for i := range f.U {
		f.U[i], f.V[i] = 128, 128
	}

	data := NewEncoder(80, 1024, 1024).EncodeYUV420(f)
	require.NotEmpty(t, data)

	img, format, err := imaging.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, image.Rect(0, 0, w, h), img.Bounds())
}

func TestEncodeDownscales(t *testing.T) {
	data := NewEncoder(75, 64, 64).Encode(gray(256, 128))
	img, _, err := imaging.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())
}

func TestEncodeEmptyImage(t *testing.T) {
	enc := NewEncoder(75, 64, 64)
	assert.Empty(t, enc.Encode(nil))
	assert.Empty(t, enc.Encode(image.NewRGBA(image.Rect(0, 0, 0, 0))))
}

func TestDirSourceCycles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.jpg"} {
		data, err := imaging.EncodeJPEG(gray(4, 4), 90)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src, err := NewDirSource(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	for i := 0; i < 3; i++ {
		img, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
	}
}

func TestDirSourceEmpty(t *testing.T) {
	_, err := NewDirSource(t.TempDir())
	assert.Error(t, err)
}

func TestPatternSource(t *testing.T) {
	src := NewPatternSource(64, 48)
	img, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	// the centre of the frame is skin coloured
	assert.Equal(t, color.RGBA{R: 224, G: 172, B: 105, A: 255}, img.At(32, 30))
}

func TestRunStreamsWhileRecording(t *testing.T) {
	sender := &fakeSender{connected: true}
	p := newTestProducer(t, sender)
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, NewPatternSource(32, 24), 50))

	stats := p.Stats()
	assert.Greater(t, stats.Sent, uint64(0))
	assert.Equal(t, stats.Captured, stats.Sent)
}

func TestRunIdlesWhenStopped(t *testing.T) {
	sender := &fakeSender{connected: true}
	p := newTestProducer(t, sender)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, NewPatternSource(32, 24), 50))

	assert.Equal(t, Stats{}, p.Stats())
}

func i420(w, h int, luma byte) []byte {
	cw, ch := (w+1)/2, (h+1)/2
	buf := make([]byte, w*h+2*cw*ch)
	for i := range buf {
		buf[i] = 128
	}
	for i := 0; i < w*h; i++ {
		buf[i] = luma
	}
	return buf
}

func TestSubmitYUVSendsEncodedFrame(t *testing.T) {
	sender := &fakeSender{connected: true}
	p := newTestProducer(t, sender)
	p.Start()

	raw := i420(16, 8, 200)
	sent, err := p.SubmitYUV(YUVFrame{Width: 16, Height: 8, Y: raw[:128], U: raw[128:160], V: raw[160:]})
	require.NoError(t, err)
	assert.True(t, sent)

	frames := sender.sentFrames()
	require.Len(t, frames, 1)
	img, format, err := imaging.Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())
	assert.Equal(t, Stats{Captured: 1, Sent: 1}, p.Stats())
}

func TestRawYUVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabin.yuv")
	data := append(i420(16, 8, 40), i420(16, 8, 220)...)
	data = append(data, 1, 2, 3) // trailing partial frame is ignored
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := NewRawYUVSource(path, 16, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	assert.Equal(t, 2, src.Len())

	var lumas []byte
	for i := 0; i < 3; i++ {
		f, err := src.NextYUV(context.Background())
		require.NoError(t, err)
		require.Len(t, f.Y, 128)
		require.Len(t, f.U, 32)
		require.Len(t, f.V, 32)
		lumas = append(lumas, f.Y[0])
	}
	assert.Equal(t, []byte{40, 220, 40}, lumas)

	img, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())

	_, err = NewRawYUVSource(path, 640, 480)
	assert.Error(t, err)
	_, err = NewRawYUVSource(path, 0, 8)
	assert.Error(t, err)
}

func TestRunStreamsYUVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cabin.yuv")
	require.NoError(t, os.WriteFile(path, i420(32, 24, 90), 0o644))
	src, err := NewRawYUVSource(path, 32, 24)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	sender := &fakeSender{connected: true}
	p := newTestProducer(t, sender)
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx, src, 50))

	stats := p.Stats()
	assert.Greater(t, stats.Sent, uint64(0))
	assert.Equal(t, stats.Captured, stats.Sent)
	for _, frame := range sender.sentFrames() {
		_, format, err := imaging.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	}
}

func TestParseFrameSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"640x480", 640, 480, false},
		{" 1280X720 ", 1280, 720, false},
		{"640", 0, 0, true},
		{"0x480", 0, 0, true},
		{"640x-1", 0, 0, true},
		{"axb", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := ParseFrameSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}
