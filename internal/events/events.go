// Package events defines the records the engine hands to its outbound
// collaborators: notification, persistence and the live stream.
package events

import (
	"time"

	"github.com/banshee-data/cartvision/internal/alerts"
	"github.com/banshee-data/cartvision/internal/reconcile"
	"github.com/banshee-data/cartvision/internal/session"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

// Detection is one accepted product registration.
type Detection struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	FrameID     string       `json:"frame_id"`
	TrackID     string       `json:"track_id"`
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name,omitempty"`
	Label       string       `json:"label"`
	MatchScore  float64      `json:"match_score"`
	Confidence  float64      `json:"confidence"`
	Box         geometry.Box `json:"bounding_box"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Alert is one alert raised at the end of a session.
type Alert struct {
	SessionID string             `json:"session_id"`
	Alert     alerts.AlertRecord `json:"alert"`
	Timestamp time.Time          `json:"timestamp"`
}

// Type names a Message payload.
type Type string

const (
	TypeDetection    Type = "detection"
	TypeAlert        Type = "alert"
	TypeSessionEnded Type = "session_ended"
)

// Message is the envelope used on streams and brokers.
type Message struct {
	Type      Type       `json:"type"`
	SessionID string     `json:"session_id"`
	Detection *Detection `json:"detection,omitempty"`
	Alert     *Alert     `json:"alert,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// DetectionMessage wraps d in an envelope.
func DetectionMessage(d Detection) Message {
	return Message{Type: TypeDetection, SessionID: d.SessionID, Detection: &d, Timestamp: d.Timestamp}
}

// AlertMessage wraps a in an envelope.
func AlertMessage(a Alert) Message {
	return Message{Type: TypeAlert, SessionID: a.SessionID, Alert: &a, Timestamp: a.Timestamp}
}

// SessionEndedMessage marks the end of a session's stream.
func SessionEndedMessage(sessionID string, at time.Time) Message {
	return Message{Type: TypeSessionEnded, SessionID: sessionID, Timestamp: at}
}

// Summary is the final record of a session, produced by EndSession.
type Summary struct {
	SessionID  string    `json:"session_id"`
	ManifestID string    `json:"manifest_id,omitempty"`
	Policy     string    `json:"policy"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`

	Frames session.FrameStats     `json:"frames"`
	Events []Detection            `json:"events"`
	Counts []session.ProductCount `json:"counts"`

	Manifest []reconcile.ManifestLine `json:"manifest,omitempty"`
	Diff     []reconcile.DiffResult   `json:"diff"`
	Totals   reconcile.Totals         `json:"totals"`
	Alerts   []alerts.AlertRecord     `json:"alerts"`

	// AggregateConfidence is absent when the session accepted nothing.
	AggregateConfidence *float64 `json:"aggregate_confidence,omitempty"`
}
