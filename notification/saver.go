package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/storage"
)

const flushTimeout = 10 * time.Second

// saver owns the store's debounced write-through. Every schedule call resets
// the timer, collapsing mutation bursts into one durable write. The pending
// write is cancelled on dispose so nothing fires after teardown.
type saver struct {
	store    *Store
	kv       storage.KV
	key      string
	debounce time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

func newSaver(store *Store, kv storage.KV, key string, debounce time.Duration, logger *log.Logger) *saver {
	return &saver{store: store, kv: kv, key: key, debounce: debounce, logger: logger}
}

func (p *saver) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, p.flush)
}

func (p *saver) cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *saver) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *saver) erase(ctx context.Context) error {
	return p.kv.Delete(ctx, p.key)
}

func (p *saver) flush() {
	ctx, cancelCtx := context.WithTimeout(context.Background(), flushTimeout)
	defer cancelCtx()

	// Probe availability with a throwaway record before touching the real key.
	probeKey := fmt.Sprintf("test_%d", time.Now().UnixNano())
	if err := p.kv.Write(ctx, probeKey, []byte("test")); err != nil {
		p.logger.WithError(err).WithField("key", p.key).Warn("storage probe failed, skipping notification save")
		return
	}
	_ = p.kv.Delete(ctx, probeKey)

	if err := p.write(ctx, p.store.persistSnapshot()); err != nil {
		if !errors.Is(err, storage.ErrQuotaExceeded) {
			p.logger.WithError(err).WithField("key", p.key).Warn("failed to save notifications")
			return
		}
		// Quota fallback: bounded, explicit data loss instead of silent
		// corruption. Trim to the recovery limit and retry once.
		trimmed := p.store.trimTo(p.store.cfg.QuotaTrimLimit)
		if err := p.write(ctx, trimmed); err != nil {
			p.logger.WithError(err).WithField("key", p.key).Error("cannot save notifications after quota trim")
		}
	}
}

func (p *saver) write(ctx context.Context, list []domain.Notification) error {
	data, err := sonic.Marshal(list)
	if err != nil {
		return err
	}
	return p.kv.Write(ctx, p.key, data)
}
