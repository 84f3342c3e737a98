package notification

import (
	"context"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/storage"
)

// Registry maps identity → store instance. Stores are created on identity
// establishment and evicted on sign-out; eviction drops in-memory state only,
// never the durable record.
type Registry struct {
	kv      storage.KV
	cfg     Config
	logger  *log.Logger
	alerter Alerter

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates an empty registry backed by the given adapter.
func NewRegistry(kv storage.KV, cfg Config, logger *log.Logger, alerter Alerter) *Registry {
	if kv == nil {
		panic("notification.NewRegistry: kv is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		kv:      kv,
		cfg:     cfg,
		logger:  logger,
		alerter: alerter,
		stores:  make(map[string]*Store),
	}
}

// Load returns the store for the identity, creating it from the durable
// record if needed. Storage failures and corrupt records degrade to an empty
// store; corrupt records are deleted so they cannot poison the next load.
func (r *Registry) Load(ctx context.Context, userID string) *Store {
	r.mu.Lock()
	if s, ok := r.stores[userID]; ok {
		r.mu.Unlock()
		return s
	}
	r.mu.Unlock()

	s := newStore(userID, r.kv, r.cfg, r.logger, r.alerter)
	r.restore(ctx, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.stores[userID]; ok {
		s.Close()
		return existing
	}
	r.stores[userID] = s
	return s
}

// Get returns an already-loaded store without touching storage.
func (r *Registry) Get(userID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[userID]
	return s, ok
}

// Dispose evicts the identity's store, cancelling any pending debounced
// write. The durable record is kept.
func (r *Registry) Dispose(userID string) {
	r.mu.Lock()
	s, ok := r.stores[userID]
	delete(r.stores, userID)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close evicts every store.
func (r *Registry) Close() {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*Store)
	r.mu.Unlock()
	for _, s := range stores {
		s.Close()
	}
}

func (r *Registry) restore(ctx context.Context, s *Store) {
	data, err := r.kv.Read(ctx, storage.NotificationsKey(s.userID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.WithError(err).WithField("user", s.userID).Warn("failed to load notifications, starting empty")
		}
		return
	}

	var list []domain.Notification
	if err := sonic.Unmarshal(data, &list); err != nil {
		r.logger.WithError(err).WithField("user", s.userID).Warn("discarding corrupt notification record")
		if delErr := r.kv.Delete(ctx, storage.NotificationsKey(s.userID)); delErr != nil {
			r.logger.WithError(delErr).WithField("user", s.userID).Warn("failed to delete corrupt notification record")
		}
		return
	}

	if len(list) > r.cfg.MaxEntries {
		list = list[:r.cfg.MaxEntries]
	}
	unread := 0
	for i := range list {
		if !list[i].Read {
			unread++
		}
	}
	if unread > r.cfg.MaxUnread {
		unread = r.cfg.MaxUnread
	}

	s.mu.Lock()
	s.list = list
	s.unread = unread
	s.mu.Unlock()
}
