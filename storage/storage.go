package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound signals an absent key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrQuotaExceeded signals the backend refused a write for capacity reasons.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// KV provides key-value access to JSON-serializable blobs. It is the only
// abstraction touching durable storage; callers scope keys by identity.
type KV interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Durable key layout. Notification and board records are scoped per identity;
// the user snapshot and the collaborator roster are shared.
const (
	UserKey        = "kanban_user"
	TeamMembersKey = "team_members"
)

func NotificationsKey(userID string) string {
	return "notifications_" + userID
}

func BoardKey(userID string) string {
	return "kanban_data_" + userID
}
