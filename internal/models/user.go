package models

import (
	"strings"
	"time"
)

// Role is the closed set of identities taking part in dispatch.
type Role string

const (
	RoleResident  Role = "RESIDENT"
	RoleCollector Role = "COLLECTOR"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole accepts the canonical names and the legacy WARGA/TPU aliases.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RESIDENT", "WARGA":
		return RoleResident, true
	case "COLLECTOR", "TPU":
		return RoleCollector, true
	case "ADMIN":
		return RoleAdmin, true
	default:
		return "", false
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleResident, RoleCollector, RoleAdmin:
		return true
	default:
		return false
	}
}

type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Role     Role    `json:"role"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
	IsOnline bool    `json:"isOnline"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsCollector reports whether the user may be assigned pickup requests.
func (u *User) IsCollector() bool {
	return u != nil && u.Role == RoleCollector
}

// Actor is the session identity an operation is performed on behalf of.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used for transitions initiated by the service itself.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Phone = cloneString(u.Phone)
	c.Address = cloneString(u.Address)
	return &c
}
