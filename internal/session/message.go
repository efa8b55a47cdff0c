package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

// EventKind identifies what happened on the session.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventError
	EventMessage
	// EventDegraded reports an inbound payload that was dropped.
	EventDegraded
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one item of the session event stream.
type Event struct {
	Kind EventKind
	// Message is set for EventMessage.
	Message *Message
	// Reason is set for EventError and EventDegraded.
	Reason string
}

// Message is a decoded server message. Fields not carried by the
// message type are left zero.
type Message struct {
	Type        string
	Text        string
	Status      string
	FrameNumber int
	Analyzed    bool
	Interval    int
	Error       string
	// Result is set for analysis_result messages.
	Result *models.AnalysisResult
	Raw    json.RawMessage
}

var errMissingType = errors.New("message has no type")

func decodeMessage(payload []byte) (*Message, error) {
	var env models.ServerMessage
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, errMissingType
	}

	msg := &Message{
		Type:   env.Type,
		Text:   env.Message,
		Status: env.Status,
		Error:  env.Error,
		Raw:    append(json.RawMessage(nil), payload...),
	}
	if env.FrameNumber != nil {
		msg.FrameNumber = *env.FrameNumber
	}
	if env.Analyzed != nil {
		msg.Analyzed = *env.Analyzed
	}
	if env.Interval != nil {
		msg.Interval = *env.Interval
	}

	if env.Type == models.TypeAnalysisResult {
		result, err := env.AnalysisResult()
		if err != nil {
			return nil, fmt.Errorf("decode analysis data: %w", err)
		}
		msg.Result = &result
	}
	return msg, nil
}
