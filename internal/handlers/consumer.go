package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256

	// Response headers set on a successful upgrade.
	HeaderClientID      = "X-Client-Id"
	HeaderStreamSession = "X-Stream-Session"
)

// wsClient is one connected video stream. frameCount, interval and
// sessionID belong to the handler goroutine.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger

	send chan models.ServerMessage
	// done is closed once writePump has returned.
	done   chan struct{}
	quit   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	frameCount int
	interval   int
	sessionID  int64
}

func (c *wsClient) enqueue(msg models.ServerMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// shutdown asks writePump to send a going-away close frame.
func (c *wsClient) shutdown() {
	c.once.Do(func() {
		close(c.quit)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// HandleWebSocket accepts a frame stream and runs it until either side
// closes the connection.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Allow(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "a valid access token is required")
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsClient{
		id:       clientID,
		logger:   s.logger.With(zap.String("client_id", clientID)),
		send:     make(chan models.ServerMessage, sendBuffer),
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
		cancel:   cancel,
		interval: 1,
	}

	header := http.Header{}
	header.Set(HeaderClientID, clientID)
	if s.analyzer != nil {
		s.openStreamSession(ctx, c)
		if c.sessionID != 0 {
			header.Set(HeaderStreamSession, strconv.FormatInt(c.sessionID, 10))
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		c.logger.Warn("websocket upgrade failed", zap.Error(err))
		s.closeStreamSession(c)
		return
	}
	c.conn = conn

	s.wg.Add(1)
	defer s.wg.Done()
	s.register(c)
	defer s.unregister(c)

	go c.writePump()
	c.logger.Info("websocket client connected", zap.String("remote", r.RemoteAddr))

	if s.analyzer == nil {
		c.logger.Error("rejecting client, analysis service unavailable", zap.Error(s.analyzerErr))
		c.enqueue(models.ServerMessage{
			Type:    models.TypeConnectionError,
			Message: fmt.Sprintf("Failed to initialize analysis service: %v", s.analyzerErr),
			Status:  "error",
		})
		close(c.send)
		<-c.done
		return
	}

	c.enqueue(models.ServerMessage{
		Type:    models.TypeConnectionEstablished,
		Message: "Connected to video analysis service",
		Status:  "ready",
	})

	s.readPump(ctx, c)

	close(c.send)
	<-c.done
	s.closeStreamSession(c)
	c.logger.Info("websocket client disconnected", zap.Int("frames", c.frameCount))
}

func (s *Server) readPump(ctx context.Context, c *wsClient) {
	c.conn.SetReadLimit(s.maxMessageBytes)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
				s.metrics.IncrementWebSocketErrors()
			}
			return
		}
		s.metrics.IncrementWebSocketMessages()

		switch mt {
		case websocket.TextMessage:
			s.handleText(c, data)
		case websocket.BinaryMessage:
			s.handleFrame(ctx, c, data)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (s *Server) handleText(c *wsClient, data []byte) {
	if !gjson.ValidBytes(data) {
		c.enqueue(models.ServerMessage{Type: models.TypeError, Message: "Invalid JSON format"})
		return
	}

	switch msgType := gjson.GetBytes(data, "type").String(); msgType {
	case models.TypeConfigure:
		interval, err := parseInterval(gjson.GetBytes(data, "interval"))
		if err != nil {
			c.enqueue(models.ServerMessage{Type: models.TypeError, Message: err.Error()})
			return
		}
		c.interval = interval
		c.logger.Debug("analysis interval set", zap.Int("interval", interval))
		c.enqueue(models.ServerMessage{Type: models.TypeConfigurationAcknowledged, Interval: &interval})
	default:
		c.logger.Debug("ignoring text message", zap.String("type", msgType))
	}
}

// parseInterval defaults a missing interval to 1.
func parseInterval(v gjson.Result) (int, error) {
	if !v.Exists() {
		return 1, nil
	}
	if v.Type != gjson.Number || v.Num != float64(int(v.Num)) || v.Num < 1 {
		return 0, fmt.Errorf("interval must be a positive integer, got %s", v.Raw)
	}
	return int(v.Num), nil
}

func (s *Server) handleFrame(ctx context.Context, c *wsClient, frame []byte) {
	c.frameCount++
	n := c.frameCount

	if n%c.interval != 0 {
		s.metrics.IncrementFrames(false)
		analyzed := false
		c.enqueue(models.ServerMessage{Type: models.TypeFrameReceived, FrameNumber: &n, Analyzed: &analyzed})
		return
	}

	s.metrics.IncrementFrames(true)
	if err := s.analyzeFrame(ctx, c, n, frame); err != nil {
		c.logger.Error("frame analysis failed", zap.Int("frame", n), zap.Error(err))
		s.metrics.IncrementErrors("server")
		c.enqueue(models.ServerMessage{Type: models.TypeAnalysisError, FrameNumber: &n, Error: err.Error()})
	}
}

// analyzeFrame reports analyzer failures inside the result itself. Only
// failures of the server are returned.
func (s *Server) analyzeFrame(ctx context.Context, c *wsClient, n int, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()

	c.enqueue(models.ServerMessage{Type: models.TypeProcessing, FrameNumber: &n, Message: "Analyzing frame..."})

	start := time.Now()
	data, aerr := s.analyzer.AnalyzeFrame(ctx, frame)
	if aerr != nil {
		c.logger.Warn("analyzer error", zap.Int("frame", n), zap.Error(aerr))
		data = services.FailedAnalysis(aerr)
	}
	elapsed := time.Since(start)
	s.metrics.RecordAnalysis(s.analyzer.Name(), data.DrowsinessLevel, elapsed, aerr != nil)

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	c.enqueue(models.ServerMessage{Type: models.TypeAnalysisResult, FrameNumber: &n, Data: payload})

	result := models.NewAnalysisResult(n, data)
	c.logger.Debug("frame analysed",
		zap.Int("frame", n),
		zap.String("level", string(result.DrowsinessLevel)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("took", elapsed))

	s.saveAnalysis(ctx, c, result)
	if result.IsDrowsy() {
		s.publishAlert(ctx, c, result)
	}
	return nil
}

func (s *Server) openStreamSession(ctx context.Context, c *wsClient) {
	if s.store == nil {
		return
	}
	ss, err := s.store.CreateStreamSession(ctx, c.id, time.Now())
	if err != nil {
		c.logger.Warn("failed to record stream session", zap.Error(err))
		return
	}
	c.sessionID = ss.ID
}

func (s *Server) closeStreamSession(c *wsClient) {
	if s.store == nil || c.sessionID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.EndStreamSession(ctx, c.sessionID, c.frameCount, time.Now()); err != nil {
		c.logger.Warn("failed to close stream session", zap.Int64("session_id", c.sessionID), zap.Error(err))
	}
}

func (s *Server) saveAnalysis(ctx context.Context, c *wsClient, result models.AnalysisResult) {
	if s.store == nil || c.sessionID == 0 {
		return
	}
	ev := models.NewAnalysisEvent(c.sessionID, result)
	if err := s.store.SaveAnalysis(ctx, &ev); err != nil {
		c.logger.Warn("failed to save analysis", zap.Int("frame", result.FrameNumber), zap.Error(err))
	}
}

func (s *Server) publishAlert(ctx context.Context, c *wsClient, result models.AnalysisResult) {
	alert := models.DrowsinessAlert{
		ClientID:          c.id,
		FrameNumber:       result.FrameNumber,
		DrowsinessLevel:   string(result.DrowsinessLevel),
		Confidence:        result.Confidence,
		RecommendedAction: result.RecommendedAction,
		Timestamp:         result.ReceivedAt,
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		c.logger.Warn("failed to publish alert", zap.Error(err))
	}
}
