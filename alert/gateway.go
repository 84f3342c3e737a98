package alert

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Permission mirrors the three OS notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

const (
	alertTitle      = "Kanban Board Update"
	autoCloseAfter  = 5 * time.Second
	deliveryTimeout = 10 * time.Second

	deliveryWorkers = 4
	deliveryBuffer  = 64
	deliveryHandoff = 15 * time.Millisecond
)

// Alert is the payload handed to the platform notifier. Tag carries the
// notification id so duplicate alerts with the same tag coalesce.
type Alert struct {
	Tag     string `json:"tag"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Silent  bool   `json:"silent"`
	Expires int64  `json:"expires,omitempty"`
}

// Platform is the OS-level notification capability the gateway drives.
// Prompt asks the viewer's platform to raise a permission dialog; the
// resulting state arrives back through Gateway.SetPermission.
type Platform interface {
	Supported() bool
	Prompt(ctx context.Context, userID string) error
	Show(ctx context.Context, userID string, a Alert) error
	Dismiss(ctx context.Context, userID, tag string) error
}

// Gateway tracks per-identity permission and focus state and decides when a
// created notification additionally surfaces as an OS alert. Every failure
// here is logged and swallowed; the core notification is already recorded.
type Gateway struct {
	platform Platform
	logger   *log.Logger
	pool     *deliveryPool

	mu          sync.Mutex
	permissions map[string]Permission
	focused     map[string]bool
	pending     map[string]chan Permission
}

// NewGateway creates a gateway over the given platform. A nil platform means
// the capability is absent: RequestPermission reports false and Deliver is a
// no-op.
func NewGateway(platform Platform, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	g := &Gateway{
		platform:    platform,
		logger:      logger,
		permissions: make(map[string]Permission),
		focused:     make(map[string]bool),
		pending:     make(map[string]chan Permission),
	}
	g.pool = newDeliveryPool(deliveryWorkers, deliveryBuffer, deliveryHandoff, func(j deliveryJob) {
		g.show(j.userID, j.n)
	})
	return g
}

// Close stops the delivery workers after draining queued alerts.
func (g *Gateway) Close() {
	g.pool.close()
}

// Permission reports the identity's last known permission state.
func (g *Gateway) Permission(userID string) Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.permissions[userID]; ok {
		return p
	}
	return PermissionDefault
}

// SetPermission records a client-reported permission state and resolves any
// in-flight prompt.
func (g *Gateway) SetPermission(userID string, p Permission) {
	switch p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
	default:
		return
	}
	g.mu.Lock()
	g.permissions[userID] = p
	waiter := g.pending[userID]
	delete(g.pending, userID)
	g.mu.Unlock()
	if waiter != nil {
		waiter <- p
		close(waiter)
	}
}

// SetFocused records whether the identity's viewing context currently has
// focus. Unknown identities count as focused so no alert fires before the
// first report.
func (g *Gateway) SetFocused(userID string, focused bool) {
	g.mu.Lock()
	g.focused[userID] = focused
	g.mu.Unlock()
}

// RequestPermission returns false when the platform is absent. From the
// neutral state it prompts and waits for the client's answer; granted or
// denied states are returned as-is without re-prompting.
func (g *Gateway) RequestPermission(ctx context.Context, userID string) bool {
	if g.platform == nil || !g.platform.Supported() {
		return false
	}
	current := g.Permission(userID)
	if current != PermissionDefault {
		return current == PermissionGranted
	}

	g.mu.Lock()
	waiter, inFlight := g.pending[userID]
	if !inFlight {
		waiter = make(chan Permission, 1)
		g.pending[userID] = waiter
	}
	g.mu.Unlock()

	if !inFlight {
		if err := g.platform.Prompt(ctx, userID); err != nil {
			g.logger.WithError(err).WithField("user", userID).Warn("permission prompt failed")
			g.mu.Lock()
			delete(g.pending, userID)
			g.mu.Unlock()
			return false
		}
	}

	select {
	case p := <-waiter:
		return p == PermissionGranted
	case <-ctx.Done():
		return false
	}
}

// Deliver surfaces an OS alert for a freshly created notification when
// permission is granted, the viewer is backgrounded and the notification is
// not informational. The alert auto-dismisses after five seconds.
func (g *Gateway) Deliver(userID string, n domain.Notification) {
	if g.platform == nil || !g.platform.Supported() {
		return
	}
	if n.Type == domain.NotificationInfo {
		return
	}
	if g.Permission(userID) != PermissionGranted {
		return
	}
	g.mu.Lock()
	focused, known := g.focused[userID]
	g.mu.Unlock()
	if !known || focused {
		return
	}

	if !g.pool.trySend(deliveryJob{userID: userID, n: n}) {
		g.logger.WithField("user", userID).Warn("alert delivery pool saturated, delivering inline")
		go g.show(userID, n)
	}
}

func (g *Gateway) show(userID string, n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	a := Alert{
		Tag:     n.ID,
		Title:   alertTitle,
		Body:    n.Message,
		Expires: time.Now().Add(autoCloseAfter).UnixMilli(),
	}
	if err := g.platform.Show(ctx, userID, a); err != nil {
		g.logger.WithError(err).WithField("user", userID).Warn("failed to show OS notification")
		return
	}

	time.AfterFunc(autoCloseAfter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := g.platform.Dismiss(ctx, userID, n.ID); err != nil {
			g.logger.WithError(err).WithField("user", userID).Debug("failed to dismiss OS notification")
		}
	})
}
