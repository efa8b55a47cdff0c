// Package dashboard is the terminal front end of the streaming client. It
// owns the derived view state and turns user commands into session calls.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/session"
)

var ErrNotConnected = errors.New("connect to the analysis server first")

// Session is the streaming session as seen by the dashboard.
type Session interface {
	Connect(ctx context.Context, address string, port int) error
	SetAnalysisInterval(interval int) error
	Disconnect()
	IsConnected() bool
	Events() <-chan session.Event
}

// Recorder starts and stops frame capture.
type Recorder interface {
	Start()
	Stop()
	IsRecording() bool
	Duration() time.Duration
}

// State is a snapshot of what the dashboard shows.
type State struct {
	Status       string
	Connected    bool
	Interval     int
	Latest       *models.AnalysisResult
	History      []models.AnalysisResult
	Activity     string
	LastError    string
	Diagnostic   string
	Recording    bool
	RecordingFor time.Duration
}

type Dashboard struct {
	logger   *zap.Logger
	session  Session
	recorder Recorder

	outMu sync.Mutex
	out   io.Writer

	mu         sync.Mutex
	status     string
	connected  bool
	interval   int
	latest     *models.AnalysisResult
	history    *History
	activity   string
	lastErr    string
	diagnostic string
}

func New(logger *zap.Logger, sess Session, rec Recorder, out io.Writer) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Dashboard{
		logger:   logger.Named("dashboard"),
		session:  sess,
		recorder: rec,
		out:      out,
		status:   "Disconnected",
		interval: 1,
		history:  NewHistory(HistorySize),
	}
}

// Run consumes session events until ctx is done, re-rendering the view
// after each one.
func (d *Dashboard) Run(ctx context.Context) error {
	err := session.Dispatch(ctx, d.session.Events(), session.Callbacks{
		OnConnected:    d.onConnected,
		OnDisconnected: d.onDisconnected,
		OnError:        d.onError,
		OnMessage:      d.onMessage,
		OnDegraded:     d.onDegraded,
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dashboard) Connect(ctx context.Context, address string, port int) error {
	d.update(func() {
		d.status = "Connecting..."
		d.lastErr = ""
	})
	if err := d.session.Connect(ctx, address, port); err != nil {
		d.update(func() {
			d.status = "Connection failed"
			d.lastErr = err.Error()
		})
		return err
	}

	d.mu.Lock()
	interval := d.interval
	d.mu.Unlock()
	return d.session.SetAnalysisInterval(interval)
}

func (d *Dashboard) SetInterval(interval int) error {
	if err := d.session.SetAnalysisInterval(interval); err != nil {
		return err
	}
	d.update(func() { d.interval = interval })
	return nil
}

func (d *Dashboard) StartRecording() error {
	if !d.session.IsConnected() {
		return ErrNotConnected
	}
	d.recorder.Start()
	d.update(func() { d.activity = "Recording" })
	return nil
}

func (d *Dashboard) StopRecording() {
	d.recorder.Stop()
	d.update(func() { d.activity = "Recording stopped" })
}

func (d *Dashboard) Disconnect() {
	d.recorder.Stop()
	d.session.Disconnect()
}

func (d *Dashboard) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := State{
		Status:     d.status,
		Connected:  d.connected,
		Interval:   d.interval,
		History:    d.history.Items(),
		Activity:   d.activity,
		LastError:  d.lastErr,
		Diagnostic: d.diagnostic,
	}
	if d.latest != nil {
		latest := *d.latest
		st.Latest = &latest
	}
	if d.recorder != nil {
		st.Recording = d.recorder.IsRecording()
		st.RecordingFor = d.recorder.Duration()
	}
	return st
}

func (d *Dashboard) onConnected() {
	d.update(func() {
		d.connected = true
		d.status = "Connected"
		d.history.Reset()
		d.latest = nil
	})
}

func (d *Dashboard) onDisconnected() {
	d.recorder.Stop()
	d.update(func() {
		d.connected = false
		d.status = "Disconnected"
		d.activity = ""
	})
}

func (d *Dashboard) onError(reason string) {
	d.logger.Warn("session error", zap.String("reason", reason))
	d.update(func() {
		d.status = "Error"
		d.lastErr = reason
	})
}

func (d *Dashboard) onDegraded(diagnostic string) {
	d.update(func() { d.diagnostic = diagnostic })
}

func (d *Dashboard) onMessage(msg session.Message) {
	d.update(func() {
		switch msg.Type {
		case models.TypeConnectionEstablished:
			d.status = "Connected - " + msg.Status
		case models.TypeConfigurationAcknowledged:
			if msg.Interval > 0 {
				d.interval = msg.Interval
			}
		case models.TypeProcessing:
			d.activity = fmt.Sprintf("Analyzing frame %d...", msg.FrameNumber)
		case models.TypeFrameReceived:
			d.activity = fmt.Sprintf("Frame %d received", msg.FrameNumber)
		case models.TypeAnalysisResult:
			if msg.Result == nil {
				return
			}
			r := *msg.Result
			d.latest = &r
			d.history.Add(r)
			d.activity = fmt.Sprintf("Frame %d analyzed", r.FrameNumber)
			if r.HasError {
				d.lastErr = r.Error
			}
		case models.TypeAnalysisError, models.TypeError:
			d.lastErr = firstNonEmpty(msg.Error, msg.Text)
		default:
			d.logger.Debug("unhandled message", zap.String("type", msg.Type))
		}
	})
}

// update applies fn under the state lock and re-renders.
func (d *Dashboard) update(fn func()) {
	d.mu.Lock()
	fn()
	d.mu.Unlock()
	d.render()
}

func (d *Dashboard) render() {
	view := Render(d.Snapshot())
	d.outMu.Lock()
	defer d.outMu.Unlock()
	if _, err := io.WriteString(d.out, view); err != nil {
		d.logger.Debug("render failed", zap.Error(err))
	}
}

// Render formats a snapshot as plain text.
func Render(st State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s | Interval: every %d frame(s)", st.Status, st.Interval)
	if st.Recording {
		fmt.Fprintf(&b, " | REC %s", formatDuration(st.RecordingFor))
	}
	b.WriteString("\n")

	if st.Activity != "" {
		fmt.Fprintf(&b, "Activity: %s\n", st.Activity)
	}

	if r := st.Latest; r != nil {
		fmt.Fprintf(&b, "Driver: %s (%.0f%% confidence, frame %d)\n",
			r.DrowsinessStatus(), r.Confidence*100, r.FrameNumber)
		if r.IsHighlyDrowsy() {
			b.WriteString("!!! ALERT: driver is highly drowsy !!!\n")
		}
		for _, o := range r.Observations {
			fmt.Fprintf(&b, "  - %s\n", o)
		}
		if r.RecommendedAction != "" {
			fmt.Fprintf(&b, "  Action: %s\n", r.RecommendedAction)
		}
	}

	if len(st.History) > 1 {
		b.WriteString("History:\n")
		for _, r := range st.History {
			fmt.Fprintf(&b, "  #%-5d %-18s %3.0f%%\n", r.FrameNumber, r.DrowsinessStatus(), r.Confidence*100)
		}
	}

	if st.LastError != "" {
		fmt.Fprintf(&b, "Error: %s\n", st.LastError)
	}
	if st.Diagnostic != "" {
		fmt.Fprintf(&b, "Diagnostic: %s\n", st.Diagnostic)
	}
	b.WriteString("\n")
	return b.String()
}

func formatDuration(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
