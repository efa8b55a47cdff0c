package models

import "time"

// StreamSession is one WebSocket connection as recorded by the server.
type StreamSession struct {
	ID             int64      `json:"id"`
	ClientID       string     `json:"client_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Status         string     `json:"status"`
	FramesReceived int        `json:"frames_received"`
}

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// AnalysisEvent is a persisted analysis result.
type AnalysisEvent struct {
	ID                int64     `json:"id"`
	SessionID         int64     `json:"session_id"`
	FrameNumber       int       `json:"frame_number"`
	DrowsinessLevel   string    `json:"drowsiness_level"`
	Confidence        float64   `json:"confidence"`
	IsDrowsy          bool      `json:"is_drowsy"`
	Observations      []string  `json:"observations"`
	RecommendedAction string    `json:"recommended_action"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewAnalysisEvent converts a result for storage under the given session.
func NewAnalysisEvent(sessionID int64, r AnalysisResult) AnalysisEvent {
	return AnalysisEvent{
		SessionID:         sessionID,
		FrameNumber:       r.FrameNumber,
		DrowsinessLevel:   string(r.DrowsinessLevel),
		Confidence:        r.Confidence,
		IsDrowsy:          r.IsDrowsy(),
		Observations:      r.Observations,
		RecommendedAction: r.RecommendedAction,
		Error:             r.Error,
		CreatedAt:         r.ReceivedAt,
	}
}

// DrowsinessAlert is published when a drowsy result is produced.
type DrowsinessAlert struct {
	ClientID          string    `json:"client_id"`
	FrameNumber       int       `json:"frame_number"`
	DrowsinessLevel   string    `json:"drowsiness_level"`
	Confidence        float64   `json:"confidence"`
	RecommendedAction string    `json:"recommended_action"`
	Timestamp         time.Time `json:"timestamp"`
}
