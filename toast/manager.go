package toast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Config carries the bridge's timing constants. Countdown duration, tick,
// exit grace and freshness window are independent of one another.
type Config struct {
	Duration   time.Duration
	Tick       time.Duration
	Grace      time.Duration
	Freshness  time.Duration
	BaseOffset int
	Spacing    int
}

// DefaultConfig returns the production timings: a 5s countdown in 50ms ticks,
// 300ms exit grace, 1s freshness window, toasts stacked 100px apart.
func DefaultConfig() Config {
	return Config{
		Duration:   5000 * time.Millisecond,
		Tick:       50 * time.Millisecond,
		Grace:      300 * time.Millisecond,
		Freshness:  time.Second,
		BaseOffset: 20,
		Spacing:    100,
	}
}

// Presentation is a read-only snapshot of one active toast. Display fields
// are copied from the originating notification, so store mutations cannot
// touch a rendered toast and closing a toast never reaches the store.
type Presentation struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Message  string  `json:"message"`
	Details  string  `json:"details,omitempty"`
	Progress float64 `json:"progress"`
	Visible  bool    `json:"visible"`
	Offset   int     `json:"offset"`
}

type toast struct {
	n        domain.Notification
	progress float64
	visible  bool
	closing  bool
	stop     chan struct{}
}

// Manager bridges created notifications to transient toast presentations,
// each with an independent countdown-driven dismissal.
type Manager struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	active []*toast
	down   bool

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// NewManager creates an idle manager. Feed it via Run or OnCreated.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		subs:   make(map[chan struct{}]struct{}),
	}
}

// Run consumes created notifications until the context is cancelled.
func (m *Manager) Run(ctx context.Context, created <-chan domain.Notification) {
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case n, ok := <-created:
			if !ok {
				return
			}
			m.OnCreated(n)
		}
	}
}

// OnCreated opens a toast for the notification unless it is stale or already
// presented. The freshness window keeps replayed or loaded state from
// producing toasts.
func (m *Manager) OnCreated(n domain.Notification) {
	if m.now().Sub(n.Timestamp) > m.cfg.Freshness {
		return
	}

	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return
	}
	for _, t := range m.active {
		if t.n.ID == n.ID {
			m.mu.Unlock()
			return
		}
	}
	t := &toast{n: n, progress: 100, visible: true, stop: make(chan struct{})}
	m.active = append(m.active, t)
	m.mu.Unlock()

	go m.countdown(t)
	m.notify()
}

// CloseToast dismisses a toast by notification id. Dismissal is purely local
// presentation state.
func (m *Manager) CloseToast(id string) {
	m.mu.Lock()
	var target *toast
	for _, t := range m.active {
		if t.n.ID == id {
			target = t
			break
		}
	}
	m.mu.Unlock()
	if target != nil {
		m.close(target)
	}
}

// Active returns the current presentations in insertion order with their
// deterministic vertical offsets.
func (m *Manager) Active() []Presentation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Presentation, 0, len(m.active))
	for i, t := range m.active {
		out = append(out, Presentation{
			ID:       t.n.ID,
			Type:     t.n.Type,
			Message:  t.n.Message,
			Details:  t.n.Details,
			Progress: t.progress,
			Visible:  t.visible,
			Offset:   m.cfg.BaseOffset + i*m.cfg.Spacing,
		})
	}
	return out
}

// Subscribe returns a channel pulsed whenever presentations change.
func (m *Manager) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan struct{}) {
	m.subsMu.Lock()
	delete(m.subs, ch)
	m.subsMu.Unlock()
}

// Shutdown cancels every countdown and drops all presentations.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	active := m.active
	m.active = nil
	m.down = true
	m.mu.Unlock()
	for _, t := range active {
		m.mu.Lock()
		if !t.closing {
			t.closing = true
			close(t.stop)
		}
		m.mu.Unlock()
	}
	m.notify()
}

func (m *Manager) countdown(t *toast) {
	decrement := float64(m.cfg.Tick) / float64(m.cfg.Duration) * 100
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if t.closing {
				m.mu.Unlock()
				return
			}
			t.progress -= decrement
			done := t.progress <= 0
			if done {
				t.progress = 0
			}
			m.mu.Unlock()
			m.notify()
			if done {
				m.close(t)
				return
			}
		}
	}
}

// close marks the toast hidden for its exit animation, cancels the countdown
// and removes the presentation after the grace period.
func (m *Manager) close(t *toast) {
	m.mu.Lock()
	if t.closing {
		m.mu.Unlock()
		return
	}
	t.closing = true
	t.visible = false
	close(t.stop)
	m.mu.Unlock()
	m.notify()

	time.AfterFunc(m.cfg.Grace, func() {
		m.remove(t.n.ID)
	})
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	for i, t := range m.active {
		if t.n.ID == id {
			m.active = append(m.active[:i], m.active[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	m.subsMu.Lock()
	for ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.subsMu.Unlock()
}
