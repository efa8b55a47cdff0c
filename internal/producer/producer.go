// Package producer captures frames, encodes them and hands them to the
// streaming session while recording is on.
package producer

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sender is the part of the session the producer needs.
type Sender interface {
	IsConnected() bool
	SendFrame(frame []byte) (bool, error)
}

// Stats counts what happened to the frames offered while recording.
type Stats struct {
	Captured  uint64 `json:"captured"`
	Sent      uint64 `json:"sent"`
	Throttled uint64 `json:"throttled"`
	Dropped   uint64 `json:"dropped"`
}

type Producer struct {
	logger  *zap.Logger
	sender  Sender
	encoder *Encoder

	mu        sync.Mutex
	recording bool
	startedAt time.Time

	captured  atomic.Uint64
	sent      atomic.Uint64
	throttled atomic.Uint64
	dropped   atomic.Uint64
}

func New(logger *zap.Logger, sender Sender, encoder *Encoder) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{logger: logger.Named("producer"), sender: sender, encoder: encoder}
}

func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording {
		return
	}
	p.recording = true
	p.startedAt = time.Now()
	p.logger.Info("recording started")
}

func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recording {
		return
	}
	p.recording = false
	p.logger.Info("recording stopped", zap.Duration("duration", time.Since(p.startedAt)))
	p.startedAt = time.Time{}
}

func (p *Producer) IsRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// Duration is how long the current recording has been running.
func (p *Producer) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recording {
		return 0
	}
	return time.Since(p.startedAt)
}

func (p *Producer) Stats() Stats {
	return Stats{
		Captured:  p.captured.Load(),
		Sent:      p.sent.Load(),
		Throttled: p.throttled.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Producer) accepting() bool {
	return p.IsRecording() && p.sender.IsConnected()
}

// Submit encodes img and offers it to the session. It reports whether the
// frame went out on the wire.
func (p *Producer) Submit(img image.Image) (bool, error) {
	if !p.accepting() {
		return false, nil
	}
	return p.offer(p.encoder.Encode(img))
}

// SubmitYUV is Submit for planar camera frames.
func (p *Producer) SubmitYUV(f YUVFrame) (bool, error) {
	if !p.accepting() {
		return false, nil
	}
	return p.offer(p.encoder.EncodeYUV420(f))
}

func (p *Producer) offer(data []byte) (bool, error) {
	p.captured.Add(1)
	if len(data) == 0 {
		p.dropped.Add(1)
		p.logger.Debug("frame conversion failed, dropping")
		return false, nil
	}
	sent, err := p.sender.SendFrame(data)
	if err != nil {
		p.dropped.Add(1)
		return false, err
	}
	if sent {
		p.sent.Add(1)
	} else {
		p.throttled.Add(1)
	}
	return sent, nil
}

// Run pulls a frame from src fps times per second while recording and
// connected. It returns when ctx is done.
func (p *Producer) Run(ctx context.Context, src Source, fps int) error {
	if fps < 1 {
		fps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.accepting() {
				continue
			}
			if err := p.capture(ctx, src); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				p.captured.Add(1)
				p.dropped.Add(1)
				p.logger.Warn("capture failed", zap.Error(err))
			}
		}
	}
}

// capture pulls one frame from src and submits it. Only capture errors are
// returned; send failures are logged.
func (p *Producer) capture(ctx context.Context, src Source) error {
	var err error
	if ys, ok := src.(YUVSource); ok {
		var f YUVFrame
		if f, err = ys.NextYUV(ctx); err != nil {
			return err
		}
		_, err = p.SubmitYUV(f)
	} else {
		var img image.Image
		if img, err = src.Next(ctx); err != nil {
			return err
		}
		_, err = p.Submit(img)
	}
	if err != nil {
		p.logger.Warn("send failed", zap.Error(err))
	}
	return nil
}
