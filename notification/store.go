package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/storage"
)

// Config carries the store's capacity bounds and timing windows. The durations
// are independent constants, not derived from one another.
type Config struct {
	MaxEntries     int
	MaxUnread      int
	MaxMessageLen  int
	MaxDetailsLen  int
	DupWindow      time.Duration
	SaveDebounce   time.Duration
	QuotaTrimLimit int
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     100,
		MaxUnread:      999,
		MaxMessageLen:  200,
		MaxDetailsLen:  300,
		DupWindow:      5 * time.Second,
		SaveDebounce:   500 * time.Millisecond,
		QuotaTrimLimit: 50,
	}
}

// CreateInput is the payload accepted by Create. Unknown types are preserved;
// an absent type defaults to "info".
type CreateInput struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Alerter surfaces an OS-level alert for a freshly created notification. The
// implementation owns permission and focus gating; delivery failures must be
// swallowed.
type Alerter interface {
	Deliver(userID string, n domain.Notification)
}

// Store owns the in-memory notification list and unread counter for one
// signed-in identity. All mutations are synchronous; persistence is debounced
// and fire-and-forget.
type Store struct {
	userID  string
	cfg     Config
	logger  *log.Logger
	alerter Alerter
	saver   *saver
	now     func() time.Time

	mu        sync.Mutex
	list      []domain.Notification
	unread    int
	showPanel bool

	subsMu sync.Mutex
	subs   map[chan domain.Notification]struct{}
}

func newStore(userID string, kv storage.KV, cfg Config, logger *log.Logger, alerter Alerter) *Store {
	s := &Store{
		userID:  userID,
		cfg:     cfg,
		logger:  logger,
		alerter: alerter,
		now:     time.Now,
		subs:    make(map[chan domain.Notification]struct{}),
	}
	s.saver = newSaver(s, kv, storage.NotificationsKey(userID), cfg.SaveDebounce, logger)
	return s
}

// UserID returns the identity this store belongs to.
func (s *Store) UserID() string { return s.userID }

// Create validates, records and announces a notification. It returns nil when
// the message is empty or an identical message was recorded within the
// duplicate-suppression window; callers must treat nil as a defined no-op.
func (s *Store) Create(in CreateInput) *domain.Notification {
	if in.Message == "" {
		s.logger.WithField("user", s.userID).Warn("notification rejected: empty message")
		return nil
	}

	now := s.now()
	n := domain.Notification{
		ID:        newID(now),
		Timestamp: now,
		Type:      in.Type,
		Message:   truncate(in.Message, s.cfg.MaxMessageLen),
		Details:   truncate(in.Details, s.cfg.MaxDetailsLen),
	}
	if n.Type == "" {
		n.Type = domain.NotificationInfo
	}

	s.mu.Lock()
	for i := range s.list {
		if s.list[i].Message == n.Message && now.Sub(s.list[i].Timestamp) < s.cfg.DupWindow {
			s.mu.Unlock()
			s.logger.WithFields(log.Fields{"user": s.userID, "message": n.Message}).Debug("duplicate notification suppressed")
			return nil
		}
	}
	s.list = append([]domain.Notification{n}, s.list...)
	if len(s.list) > s.cfg.MaxEntries {
		for _, dropped := range s.list[s.cfg.MaxEntries:] {
			if !dropped.Read && s.unread > 0 {
				s.unread--
			}
		}
		s.list = s.list[:s.cfg.MaxEntries]
	}
	if s.unread < s.cfg.MaxUnread {
		s.unread++
	}
	s.saver.schedule()
	s.mu.Unlock()

	s.emitCreated(n)
	if s.alerter != nil {
		s.alerter.Deliver(s.userID, n)
	}
	return &n
}

// MarkAsRead flips the read flag on the matching unread entry. Absent or
// already-read ids are a no-op.
func (s *Store) MarkAsRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID != id {
			continue
		}
		if s.list[i].Read {
			return
		}
		s.list[i].Read = true
		if s.unread > 0 {
			s.unread--
		}
		s.saver.schedule()
		return
	}
}

// MarkAllAsRead marks every entry read and resets the counter.
func (s *Store) MarkAllAsRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		s.list[i].Read = true
	}
	s.unread = 0
	s.saver.schedule()
}

// Delete removes the matching entry. Absent ids are a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID != id {
			continue
		}
		if !s.list[i].Read && s.unread > 0 {
			s.unread--
		}
		s.list = append(s.list[:i], s.list[i+1:]...)
		s.saver.schedule()
		return
	}
}

// ClearAll empties the store and erases the durable record immediately,
// bypassing the debounce.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	s.list = nil
	s.unread = 0
	s.mu.Unlock()

	s.saver.cancel()
	if err := s.saver.erase(ctx); err != nil {
		s.logger.WithError(err).WithField("user", s.userID).Warn("failed to erase notification record")
	}
}

// Notifications returns a copy of the list, newest first.
func (s *Store) Notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, len(s.list))
	copy(out, s.list)
	return out
}

// UnreadCount reports the clamped unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// SetPanelVisible toggles the transient panel flag. Never persisted and never
// schedules a write.
func (s *Store) SetPanelVisible(visible bool) {
	s.mu.Lock()
	s.showPanel = visible
	s.mu.Unlock()
}

func (s *Store) PanelVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showPanel
}

// SubscribeCreated registers a channel receiving every created notification.
// Sends are non-blocking; slow consumers miss events rather than stall Create.
func (s *Store) SubscribeCreated() chan domain.Notification {
	ch := make(chan domain.Notification, 16)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch
}

func (s *Store) UnsubscribeCreated(ch chan domain.Notification) {
	s.subsMu.Lock()
	delete(s.subs, ch)
	s.subsMu.Unlock()
}

func (s *Store) emitCreated(n domain.Notification) {
	s.subsMu.Lock()
	for ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
	s.subsMu.Unlock()
}

// Close cancels any pending persistence write. In-memory state is dropped with
// the store; the durable record is left intact.
func (s *Store) Close() {
	s.saver.close()
}

// persistSnapshot returns the list copy the saver writes; trims nothing.
func (s *Store) persistSnapshot() []domain.Notification {
	return s.Notifications()
}

// trimTo bounds the in-memory list to the given limit and returns the
// resulting copy. Used on quota fallback so the data loss is explicit.
func (s *Store) trimTo(limit int) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.list) > limit {
		dropped := s.list[limit:]
		for i := range dropped {
			if !dropped[i].Read && s.unread > 0 {
				s.unread--
			}
		}
		s.list = s.list[:limit]
	}
	out := make([]domain.Notification, len(s.list))
	copy(out, s.list)
	return out
}

func newID(now time.Time) string {
	return fmt.Sprintf("%013d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
