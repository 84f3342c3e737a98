package api

import (
	"context"

	"kanban-api/alert"
	"kanban-api/domain"
)

// Authenticator is implemented by types able to extract the signer's profile
// from an Authorization header.
type Authenticator interface {
	UserFromAuthHeader(string) (domain.User, error)
}

// Deduper suppresses replays of create requests carrying an idempotency key.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove releases a previously added key so a later retry may proceed.
	Remove(ctx context.Context, userID, key string) error
}

// Permissions is the per-identity OS-alert permission and focus surface.
type Permissions interface {
	Permission(userID string) alert.Permission
	SetPermission(userID string, p alert.Permission)
	SetFocused(userID string, focused bool)
	RequestPermission(ctx context.Context, userID string) bool
}
