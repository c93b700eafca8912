package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"studyhub/internal/models"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RolesKey  contextKey = "roles"
)

// WithActor stores the authenticated caller in the request context.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, actor.ID)
	return context.WithValue(ctx, RolesKey, actor.Roles)
}

// GetActorFromContext extracts the authenticated caller from the request
// context. The second return is false when no JWT middleware ran.
func GetActorFromContext(ctx context.Context) (models.Actor, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	if !ok {
		return models.Actor{}, false
	}
	roles, _ := ctx.Value(RolesKey).([]string)
	return models.Actor{ID: userID, Roles: roles}, true
}

// ValidateUUID parses a UUID path or body parameter, naming the field in
// the error so handlers can surface it directly.
func ValidateUUID(idStr string, fieldName string) (uuid.UUID, error) {
	idStr = strings.TrimSpace(idStr)
	if idStr == "" {
		return uuid.Nil, fmt.Errorf("%s is required", fieldName)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a valid UUID", fieldName)
	}
	return id, nil
}
