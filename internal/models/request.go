package models

import (
	"strings"
	"time"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusAccepted   RequestStatus = "ACCEPTED"
	StatusOnTheWay   RequestStatus = "ON_THE_WAY"
	StatusArrived    RequestStatus = "ARRIVED"
	StatusCollecting RequestStatus = "COLLECTING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusValidated  RequestStatus = "VALIDATED"
	StatusCancelled  RequestStatus = "CANCELLED"
)

// AllStatuses lists every lifecycle state in pipeline order.
var AllStatuses = []RequestStatus{
	StatusPending,
	StatusAccepted,
	StatusOnTheWay,
	StatusArrived,
	StatusCollecting,
	StatusCompleted,
	StatusValidated,
	StatusCancelled,
}

func ParseRequestStatus(s string) (RequestStatus, bool) {
	st := RequestStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// Active reports whether a request in this status counts towards collector load.
func (s RequestStatus) Active() bool {
	switch s {
	case StatusCompleted, StatusValidated, StatusCancelled:
		return false
	default:
		return true
	}
}

type WasteType string

const (
	WasteOrganic    WasteType = "ORGANIC"
	WasteNonOrganic WasteType = "NON_ORGANIC"
	WasteHazardous  WasteType = "HAZARDOUS"
	WasteResidue    WasteType = "RESIDUE"
)

var AllWasteTypes = []WasteType{WasteOrganic, WasteNonOrganic, WasteHazardous, WasteResidue}

// ParseWasteType accepts the canonical names and the legacy B3 alias.
func ParseWasteType(s string) (WasteType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ORGANIC":
		return WasteOrganic, true
	case "NON_ORGANIC":
		return WasteNonOrganic, true
	case "HAZARDOUS", "B3":
		return WasteHazardous, true
	case "RESIDUE":
		return WasteResidue, true
	default:
		return "", false
	}
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

type PickupRequest struct {
	ID             string        `json:"id"`
	ResidentID     string        `json:"residentId"`
	CollectorID    *string       `json:"collectorId,omitempty"`
	Status         RequestStatus `json:"status"`
	WasteType      WasteType     `json:"wasteType"`
	WeightEstimate float64       `json:"weightEstimate"`
	Location       Location      `json:"location"`
	Photos         []string      `json:"photos"`
	ProofPhoto     *string       `json:"proofPhoto,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Version int64 `json:"version"`
}

// AssignedTo reports whether the request is bound to the given collector.
func (r *PickupRequest) AssignedTo(collectorID string) bool {
	return r.CollectorID != nil && *r.CollectorID == collectorID
}

// Clone returns a deep copy so store implementations never share slices or pointers.
func (r *PickupRequest) Clone() *PickupRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Photos = append([]string(nil), r.Photos...)
	if c.Photos == nil {
		c.Photos = []string{}
	}
	c.CollectorID = cloneString(r.CollectorID)
	c.ProofPhoto = cloneString(r.ProofPhoto)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type RequestCreateInput struct {
	ResidentID     string
	WasteType      WasteType
	WeightEstimate float64
	Location       Location
	Photos         []string
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
