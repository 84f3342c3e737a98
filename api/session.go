package api

import (
	"context"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"kanban-api/board"
	"kanban-api/domain"
	"kanban-api/notification"
	"kanban-api/storage"
	"kanban-api/toast"
)

// Session is one signed-in identity's live state: its notification store,
// board controller and toast presentations. Created on sign-in, evicted on
// sign-out. Eviction drops memory only; durable records survive.
type Session struct {
	User   domain.User
	Store  *notification.Store
	Board  *board.Controller
	Toasts *toast.Manager

	created chan domain.Notification
	cancel  context.CancelFunc
}

// SessionManager establishes and evicts sessions. Sign-in persists the user
// snapshot, merges the signer into the team roster, loads the identity's
// notification store and board and starts a toast bridge over the store's
// created events.
type SessionManager struct {
	kv       storage.KV
	registry *notification.Registry
	toastCfg toast.Config
	logger   *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager wires a manager over the storage adapter and store
// registry.
func NewSessionManager(kv storage.KV, registry *notification.Registry, toastCfg toast.Config, logger *log.Logger) *SessionManager {
	if kv == nil {
		panic("api.NewSessionManager: kv is nil")
	}
	if registry == nil {
		panic("api.NewSessionManager: registry is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &SessionManager{
		kv:       kv,
		registry: registry,
		toastCfg: toastCfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// SignIn establishes (or returns the existing) session for the user. The
// user snapshot and roster writes are best-effort: failures are logged and
// the session is established regardless.
func (m *SessionManager) SignIn(ctx context.Context, user domain.User) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[user.ID]; ok {
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	m.persistUser(ctx, user)
	m.mergeTeamMember(ctx, user)

	store := m.registry.Load(ctx, user.ID)

	ctrl := board.NewController(user.ID, m.kv, store, m.logger)
	ctrl.Load(ctx)

	toasts := toast.NewManager(m.toastCfg, m.logger)
	created := store.SubscribeCreated()
	runCtx, cancel := context.WithCancel(context.Background())
	go toasts.Run(runCtx, created)

	s := &Session{
		User:    user,
		Store:   store,
		Board:   ctrl,
		Toasts:  toasts,
		created: created,
		cancel:  cancel,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[user.ID]; ok {
		cancel()
		store.UnsubscribeCreated(created)
		toasts.Shutdown()
		return existing
	}
	m.sessions[user.ID] = s
	m.logger.WithField("user", user.ID).Info("session established")
	return s
}

// SignOut evicts the identity's session, cancelling any pending debounced
// notification write. Absent sessions are a no-op.
func (m *SessionManager) SignOut(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return
	}

	s.Store.UnsubscribeCreated(s.created)
	s.cancel()
	s.Toasts.Shutdown()
	m.registry.Dispose(userID)
	m.logger.WithField("user", userID).Info("session evicted")
}

// Session returns the identity's live session, if established.
func (m *SessionManager) Session(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// TeamMembers returns the persisted roster, empty when none exists yet.
func (m *SessionManager) TeamMembers(ctx context.Context) []domain.TeamMember {
	data, err := m.kv.Read(ctx, storage.TeamMembersKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.WithError(err).Warn("failed to load team roster")
		}
		return nil
	}
	var members []domain.TeamMember
	if err := sonic.Unmarshal(data, &members); err != nil {
		m.logger.Warn("discarding corrupt team roster")
		return nil
	}
	return members
}

// Close evicts every session.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for id, s := range sessions {
		s.Store.UnsubscribeCreated(s.created)
		s.cancel()
		s.Toasts.Shutdown()
		m.registry.Dispose(id)
	}
}

func (m *SessionManager) persistUser(ctx context.Context, user domain.User) {
	data, err := sonic.Marshal(user)
	if err != nil {
		m.logger.WithError(err).Warn("failed to encode user snapshot")
		return
	}
	if err := m.kv.Write(ctx, storage.UserKey, data); err != nil {
		m.logger.WithError(err).WithField("user", user.ID).Warn("failed to persist user snapshot")
	}
}

func (m *SessionManager) mergeTeamMember(ctx context.Context, user domain.User) {
	members := m.TeamMembers(ctx)
	for _, member := range members {
		if member.ID == user.ID {
			return
		}
	}
	members = append(members, domain.TeamMember{
		ID:      user.ID,
		Name:    user.Name,
		Email:   user.Email,
		Picture: user.Picture,
	})
	data, err := sonic.Marshal(members)
	if err != nil {
		m.logger.WithError(err).Warn("failed to encode team roster")
		return
	}
	if err := m.kv.Write(ctx, storage.TeamMembersKey, data); err != nil {
		m.logger.WithError(err).WithField("user", user.ID).Warn("failed to persist team roster")
	}
}
