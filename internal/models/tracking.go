package models

import "time"

// TrackingPoint is one immutable position sample of a collector serving a request.
type TrackingPoint struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"requestId"`
	CollectorID string    `json:"collectorId"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Timestamp   time.Time `json:"timestamp"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	RequestID string    `json:"requestId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Position is a snapshot of a simulated collector approaching a pickup.
type Position struct {
	RequestID   string    `json:"requestId"`
	CollectorID string    `json:"collectorId"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	DestLat     float64   `json:"destLat"`
	DestLng     float64   `json:"destLng"`
	Progress    float64   `json:"progress"`
	ETATicks    int       `json:"etaTicks"`
	ETASeconds  float64   `json:"etaSeconds"`
	Arrived     bool      `json:"arrived"`
	Tick        int       `json:"tick"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
