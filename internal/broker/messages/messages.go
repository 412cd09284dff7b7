// Package messages defines the Kafka payloads exchanged between pickup-api and pickup-worker.
package messages

import "time"

const (
	TopicRequestStatusChanged = "request.status_changed"
	TopicTrackingUpdated      = "tracking.updated"
)

type RequestStatusChanged struct {
	RequestID   string    `json:"request_id"`
	ResidentID  string    `json:"resident_id"`
	CollectorID *string   `json:"collector_id,omitempty"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	WasteType   string    `json:"waste_type"`
	ChangedAt   time.Time `json:"changed_at"`
}

type TrackingUpdated struct {
	RequestID   string    `json:"request_id"`
	CollectorID string    `json:"collector_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Progress    float64   `json:"progress"`
	ETASeconds  float64   `json:"eta_seconds"`
	Arrived     bool      `json:"arrived"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}
