package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DrowsinessLevel is the classification returned by the vision model.
type DrowsinessLevel string

const (
	LevelAwake            DrowsinessLevel = "awake"
	LevelMildlyDrowsy     DrowsinessLevel = "mildly drowsy"
	LevelModeratelyDrowsy DrowsinessLevel = "moderately drowsy"
	LevelHighlyDrowsy     DrowsinessLevel = "highly drowsy"
	LevelUnknown          DrowsinessLevel = "unknown"
)

// ParseDrowsinessLevel maps a wire string onto a known level.
// Anything unrecognised becomes LevelUnknown.
func ParseDrowsinessLevel(s string) DrowsinessLevel {
	switch DrowsinessLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelAwake:
		return LevelAwake
	case LevelMildlyDrowsy:
		return LevelMildlyDrowsy
	case LevelModeratelyDrowsy:
		return LevelModeratelyDrowsy
	case LevelHighlyDrowsy:
		return LevelHighlyDrowsy
	default:
		return LevelUnknown
	}
}

// IsDrowsy reports whether the level is one of the three drowsy levels.
func (l DrowsinessLevel) IsDrowsy() bool {
	return l == LevelMildlyDrowsy || l == LevelModeratelyDrowsy || l == LevelHighlyDrowsy
}

// Label is the human readable status shown to the driver.
func (l DrowsinessLevel) Label() string {
	switch l {
	case LevelAwake:
		return "Awake"
	case LevelMildlyDrowsy:
		return "Mildly Drowsy"
	case LevelModeratelyDrowsy:
		return "Moderately Drowsy"
	case LevelHighlyDrowsy:
		return "Highly Drowsy"
	default:
		return "Unknown"
	}
}

// Message types exchanged on the analysis WebSocket.
const (
	TypeConfigure                 = "configure"
	TypeConnectionEstablished     = "connection_established"
	TypeConnectionError           = "connection_error"
	TypeConfigurationAcknowledged = "configuration_acknowledged"
	TypeProcessing                = "processing"
	TypeAnalysisResult            = "analysis_result"
	TypeAnalysisError             = "analysis_error"
	TypeFrameReceived             = "frame_received"
	TypeError                     = "error"
)

// AnalysisData is the "data" object of an analysis_result message.
// Confidence is a pointer so that an absent value can be told apart from 0.
type AnalysisData struct {
	DrowsinessLevel   string   `json:"drowsiness_level"`
	Confidence        *float64 `json:"confidence,omitempty"`
	Observations      []string `json:"observations,omitempty"`
	RecommendedAction string   `json:"recommended_action"`
	Error             *string  `json:"error,omitempty"`
}

// Float is a convenience for building AnalysisData literals.
func Float(v float64) *float64 { return &v }

// String is a convenience for building AnalysisData literals.
func String(v string) *string { return &v }

// ServerMessage is the envelope of every JSON message sent by the server.
type ServerMessage struct {
	Type        string          `json:"type"`
	Message     string          `json:"message,omitempty"`
	Status      string          `json:"status,omitempty"`
	FrameNumber *int            `json:"frame_number,omitempty"`
	Analyzed    *bool           `json:"analyzed,omitempty"`
	Interval    *int            `json:"interval,omitempty"`
	Error       string          `json:"error,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ConfigureMessage is the only control message sent by the client.
type ConfigureMessage struct {
	Type     string `json:"type"`
	Interval int    `json:"interval"`
}

// AnalysisResult is one parsed analysis_result event.
type AnalysisResult struct {
	DrowsinessLevel   DrowsinessLevel `json:"drowsiness_level"`
	Confidence        float64         `json:"confidence"`
	Observations      []string        `json:"observations"`
	RecommendedAction string          `json:"recommended_action"`
	FrameNumber       int             `json:"frame_number"`
	HasError          bool            `json:"has_error"`
	Error             string          `json:"error,omitempty"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// NewAnalysisResult builds a result from the wire data of one message.
func NewAnalysisResult(frameNumber int, data AnalysisData) AnalysisResult {
	r := AnalysisResult{
		DrowsinessLevel:   ParseDrowsinessLevel(data.DrowsinessLevel),
		RecommendedAction: data.RecommendedAction,
		FrameNumber:       frameNumber,
		Observations:      []string{},
		ReceivedAt:        time.Now(),
	}
	if data.Confidence != nil {
		r.Confidence = *data.Confidence
	}
	if len(data.Observations) > 0 {
		r.Observations = append(r.Observations, data.Observations...)
	}
	if data.Error != nil {
		r.HasError = true
		r.Error = *data.Error
	}
	return r
}

// ParseAnalysisResult decodes a complete analysis_result message.
func ParseAnalysisResult(payload []byte) (AnalysisResult, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return AnalysisResult{}, err
	}
	return msg.AnalysisResult()
}

// AnalysisResult decodes the data field of an analysis_result envelope.
func (m ServerMessage) AnalysisResult() (AnalysisResult, error) {
	// error may be any JSON value; only its presence matters.
	var wire struct {
		AnalysisData
		Error json.RawMessage `json:"error"`
	}
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, &wire); err != nil {
			return AnalysisResult{}, err
		}
	}
	data := wire.AnalysisData
	data.Error = nil
	if e := gjson.GetBytes(m.Data, "error"); e.Exists() {
		text := e.Raw
		switch e.Type {
		case gjson.String:
			text = e.Str
		case gjson.Null:
			text = ""
		}
		data.Error = &text
	}

	frame := 0
	if m.FrameNumber != nil {
		frame = *m.FrameNumber
	}
	return NewAnalysisResult(frame, data), nil
}

func (r AnalysisResult) IsDrowsy() bool { return r.DrowsinessLevel.IsDrowsy() }

func (r AnalysisResult) IsHighlyDrowsy() bool { return r.DrowsinessLevel == LevelHighlyDrowsy }

// DrowsinessStatus renders the level label for display.
func (r AnalysisResult) DrowsinessStatus() string { return r.DrowsinessLevel.Label() }

type HealthStatus struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	Analyzer      string            `json:"analyzer"`
	ActiveClients int               `json:"active_clients"`
	Uptime        string            `json:"uptime"`
	Endpoints     map[string]string `json:"endpoints"`
}

type WebSocketInfo struct {
	WebSocketEndpoint string         `json:"websocket_endpoint"`
	Protocol          string         `json:"protocol"`
	Features          []string       `json:"features"`
	MessageFormat     map[string]any `json:"message_format"`
}

type CostEstimate struct {
	Frames              int    `json:"frames"`
	EstimatedInputCost  string `json:"estimated_input_cost"`
	EstimatedOutputCost string `json:"estimated_output_cost"`
	EstimatedTotalCost  string `json:"estimated_total_cost"`
	Notes               string `json:"notes"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}
