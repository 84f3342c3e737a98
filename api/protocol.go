package api

import (
	"kanban-api/domain"
	"kanban-api/toast"
)

const createNotificationMaxSize = 16 * 1024 // 16 KiB

// POST /api/notifications request body.
type createNotificationRequest struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// POST /api/notifications response body.
type createNotificationResponse struct {
	Notification *domain.Notification `json:"notification,omitempty"`
	Created      bool                 `json:"created"`
	Unread       int                  `json:"unread"`
}

// GET /api/notifications response body.
type notificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
	PanelVisible  bool                  `json:"panelVisible"`
}

// POST /api/session response body.
type sessionResponse struct {
	User        domain.User         `json:"user"`
	TeamMembers []domain.TeamMember `json:"teamMembers"`
}

type panelRequest struct {
	Visible bool `json:"visible"`
}

type permissionResponse struct {
	State string `json:"state"`
}

type permissionRequest struct {
	State string `json:"state"`
}

type focusRequest struct {
	Focused bool `json:"focused"`
}

type addTaskRequest struct {
	ColumnID    string `json:"columnId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type moveTaskRequest struct {
	ColumnID string `json:"columnId"`
	Index    int    `json:"index"`
}

type assignTaskRequest struct {
	Assignee *domain.TeamMember `json:"assignee"`
}

// GET /api/stream event payload.
type streamEvent struct {
	Toasts []toast.Presentation `json:"toasts"`
	Unread int                  `json:"unread"`
}

type errorResponse struct {
	Error string `json:"error"`
}
