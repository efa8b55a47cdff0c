// Package session implements the client side of the analysis WebSocket.
//
// A Session owns one connection at a time. It throttles outbound frames
// by the analysis interval, decodes inbound server messages and reports
// everything that happens as Events on a single channel.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

const (
	writeWait       = 10 * time.Second
	closeGrace      = time.Second
	maxMessageBytes = 1 << 20

	defaultHandshakeTimeout = 10 * time.Second
	defaultEventBuffer      = 64
)

var (
	ErrNotConnected       = errors.New("session is not connected")
	ErrInvalidInterval    = errors.New("analysis interval must be at least 1")
	ErrHandshakeTimeout   = errors.New("timed out waiting for connection_established")
	ErrConnectionRejected = errors.New("server rejected the connection")
	ErrClosed             = errors.New("session is closed")
)

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tunes a Session. Zero values select defaults.
type Options struct {
	// HandshakeTimeout bounds the wait for connection_established.
	HandshakeTimeout time.Duration
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
	Dialer      *websocket.Dialer
}

type Session struct {
	logger *zap.Logger
	opts   Options
	dialer *websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	url   string

	// writeMu serialises data writes and guards the throttle counters.
	writeMu    sync.Mutex
	frameCount int
	interval   int

	// emitMu serialises producers so that drop-oldest makes room for
	// exactly one event.
	emitMu        sync.Mutex
	events        chan Event
	droppedEvents atomic.Int64

	closed    chan struct{}
	closeOnce sync.Once
}

func New(logger *zap.Logger, opts Options) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}
	return &Session{
		logger:   logger.Named("session"),
		opts:     opts,
		dialer:   dialer,
		interval: 1,
		events:   make(chan Event, opts.EventBuffer),
		closed:   make(chan struct{}),
	}
}

// Events returns the event stream. It is never closed; use Dispatch with a
// context to stop consuming.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// URL is the endpoint of the most recent Connect.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Interval() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.interval
}

// DroppedEvents counts events discarded because the event channel was full.
func (s *Session) DroppedEvents() int64 {
	return s.droppedEvents.Load()
}

// FrameCount is the number of frames offered since the last Connect.
func (s *Session) FrameCount() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.frameCount
}

// Connect opens the WebSocket and blocks until the server acknowledges the
// connection, the handshake timeout passes or ctx is done. An existing
// connection is replaced.
func (s *Session) Connect(ctx context.Context, address string, port int) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	target, err := ResolveURL(address, port)
	if err != nil {
		s.setState(StateError)
		s.emit(Event{Kind: EventError, Reason: err.Error()})
		return err
	}

	s.mu.Lock()
	old := s.conn
	s.conn = nil
	s.state = StateConnecting
	s.url = target
	s.mu.Unlock()
	if old != nil {
		s.logger.Debug("replacing existing connection")
		_ = old.Close()
	}

	header := http.Header{}
	if s.opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+s.opts.AccessToken)
	}

	s.logger.Info("connecting", zap.String("url", target))
	conn, resp, err := s.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("dial %s: %w", target, err)
		}
		return s.failConnect(nil, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	ready := make(chan error, 1)
	go s.readLoop(conn, ready)

	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case err = <-ready:
	case <-timer.C:
		err = ErrHandshakeTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}
	return s.failConnect(conn, err)
}

// failConnect tears down a connection that never became ready. If the read
// loop managed to complete the handshake in the meantime the connection is
// kept and nil is returned.
func (s *Session) failConnect(conn *websocket.Conn, cause error) error {
	s.mu.Lock()
	if conn != nil && s.conn == conn && s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	if conn == nil || s.conn == conn {
		s.conn = nil
		s.state = StateError
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Warn("connect failed", zap.Error(cause))
	s.emit(Event{Kind: EventError, Reason: cause.Error()})
	return cause
}

// SendFrame offers one encoded frame. Every interval-th frame since Connect
// is written as a binary message; the rest are counted and dropped. Empty
// frames and frames offered while disconnected are ignored.
func (s *Session) SendFrame(frame []byte) (bool, error) {
	if len(frame) == 0 {
		return false, nil
	}

	s.writeMu.Lock()
	conn := s.liveConn()
	if conn == nil {
		s.writeMu.Unlock()
		return false, nil
	}
	s.frameCount++
	if s.frameCount%s.interval != 0 {
		s.writeMu.Unlock()
		return false, nil
	}
	count := s.frameCount
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	s.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("send frame %d: %w", count, err)
		s.logger.Warn("frame write failed", zap.Error(err))
		s.emit(Event{Kind: EventError, Reason: err.Error()})
		return false, err
	}
	s.logger.Debug("frame sent", zap.Int("frame", count), zap.Int("bytes", len(frame)))
	return true, nil
}

// SendConfiguration adopts interval as the local sampling interval and sends
// it to the server. Nothing changes while the session is offline.
func (s *Session) SendConfiguration(interval int) error {
	if interval < 1 {
		return ErrInvalidInterval
	}

	s.writeMu.Lock()
	err := s.writeConfigure(interval)
	if !errors.Is(err, ErrNotConnected) {
		s.interval = interval
	}
	s.writeMu.Unlock()

	if err != nil && !errors.Is(err, ErrNotConnected) {
		s.emit(Event{Kind: EventError, Reason: err.Error()})
	}
	return err
}

// SetAnalysisInterval stores a new interval and, when connected, pushes it
// to the server. The interval is kept even if the session is offline.
func (s *Session) SetAnalysisInterval(interval int) error {
	if interval < 1 {
		return ErrInvalidInterval
	}

	s.writeMu.Lock()
	s.interval = interval
	s.writeMu.Unlock()

	if err := s.SendConfiguration(interval); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// writeConfigure must be called with writeMu held.
func (s *Session) writeConfigure(interval int) error {
	conn := s.liveConn()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(models.ConfigureMessage{Type: models.TypeConfigure, Interval: interval})
	if err != nil {
		return fmt.Errorf("encode configure: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send configure: %w", err)
	}
	s.logger.Debug("configuration sent", zap.Int("interval", interval))
	return nil
}

// Disconnect closes the connection with a going-away close frame. It emits
// EventDisconnected on every call, connected or not.
func (s *Session) Disconnect() {
	s.closeConn()
	s.emit(Event{Kind: EventDisconnected})
}

// Close disconnects. The session cannot be reused afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.closeConn()
}

func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "client disconnect")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = conn.Close()
	s.logger.Info("disconnected")
}

func (s *Session) readLoop(conn *websocket.Conn, ready chan<- error) {
	handshaking := true
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if handshaking {
				ready <- fmt.Errorf("connection closed before acknowledgement: %w", err)
				return
			}
			s.connLost(conn, err)
			return
		}
		if !s.isCurrent(conn) {
			return
		}

		msg, err := decodeMessage(payload)
		if err != nil {
			s.logger.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(payload)))
			s.emit(Event{Kind: EventDegraded, Reason: fmt.Sprintf("malformed server message: %v", err)})
			continue
		}

		if handshaking {
			switch msg.Type {
			case models.TypeConnectionEstablished:
				if s.markConnected(conn) {
					handshaking = false
					s.logger.Info("connection established", zap.String("status", msg.Status))
					s.emit(Event{Kind: EventConnected})
					ready <- nil
				}
			case models.TypeConnectionError:
				reason := msg.Text
				if reason == "" {
					reason = msg.Error
				}
				ready <- fmt.Errorf("%w: %s", ErrConnectionRejected, reason)
				return
			}
		}

		s.emit(Event{Kind: EventMessage, Message: msg})
	}
}

// markConnected resets the frame counter and publishes StateConnected in one
// step. Lock order is writeMu then mu, as in SendFrame.
func (s *Session) markConnected(conn *websocket.Conn) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != conn || s.state != StateConnecting {
		return false
	}
	s.frameCount = 0
	s.state = StateConnected
	return true
}

// connLost handles a read failure on an established connection.
func (s *Session) connLost(conn *websocket.Conn, err error) {
	abnormal := !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)

	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
		if abnormal {
			s.state = StateError
		} else {
			s.state = StateDisconnected
		}
	}
	s.mu.Unlock()

	_ = conn.Close()
	if !current {
		return
	}
	if abnormal {
		s.logger.Warn("connection lost", zap.Error(err))
		s.emit(Event{Kind: EventError, Reason: err.Error()})
	} else {
		s.logger.Info("server closed the connection")
	}
	s.emit(Event{Kind: EventDisconnected})
}

func (s *Session) liveConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil
	}
	return s.conn
}

func (s *Session) isCurrent(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// emit never blocks. When nobody drains the channel the oldest buffered
// event is discarded so the newest state change is always delivered.
func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case old := <-s.events:
			s.droppedEvents.Add(1)
			s.logger.Warn("event buffer full, dropping oldest event",
				zap.Stringer("dropped", old.Kind), zap.Stringer("incoming", ev.Kind))
		default:
		}
	}
}
