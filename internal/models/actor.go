package models

import "github.com/google/uuid"

const (
	RoleSubscriber = "subscriber"
	RoleAdmin      = "admin"
)

// Actor is the authenticated caller of an operation. Capability checks are
// made against the roles carried by the actor, never against ambient state.
type Actor struct {
	ID    uuid.UUID
	Roles []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
