package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/storage"
)

func waitForWrites(t *testing.T, kv *stubKV, key string, expected int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		if kv.writeCount(key) >= expected {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d writes to %s, got %d", expected, key, kv.writeCount(key))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDebounceCollapsesMutationBursts(t *testing.T) {
	cfg := testConfig()
	cfg.SaveDebounce = 30 * time.Millisecond
	s, kv := newTestStore(t, cfg)
	key := storage.NotificationsKey("u1")

	s.Create(CreateInput{Message: "one"})
	s.Create(CreateInput{Message: "two"})
	s.Create(CreateInput{Message: "three"})

	waitForWrites(t, kv, key, 1)
	time.Sleep(2 * cfg.SaveDebounce)
	if got := kv.writeCount(key); got != 1 {
		t.Fatalf("expected one collapsed write, got %d", got)
	}

	var saved []domain.Notification
	data, err := kv.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := sonic.Unmarshal(data, &saved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("expected 3 saved entries, got %d", len(saved))
	}
}

func TestProbeFailureSkipsSave(t *testing.T) {
	cfg := testConfig()
	s, kv := newTestStore(t, cfg)
	key := storage.NotificationsKey("u1")
	kv.mu.Lock()
	kv.writeErr = func(k string) error {
		if strings.HasPrefix(k, "test_") {
			return errors.New("storage down")
		}
		return nil
	}
	kv.mu.Unlock()

	s.Create(CreateInput{Message: "one"})
	time.Sleep(5 * cfg.SaveDebounce)
	if got := kv.writeCount(key); got != 0 {
		t.Fatalf("expected save skipped on probe failure, got %d writes", got)
	}
}

func TestQuotaFallbackTrimsAndRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 10
	cfg.QuotaTrimLimit = 2
	s, kv := newTestStore(t, cfg)
	key := storage.NotificationsKey("u1")

	failed := false
	kv.mu.Lock()
	kv.writeErr = func(k string) error {
		if k == key && !failed {
			failed = true
			return storage.ErrQuotaExceeded
		}
		return nil
	}
	kv.mu.Unlock()

	for i := 0; i < 5; i++ {
		s.Create(CreateInput{Message: strings.Repeat("z", i+1)})
	}

	waitForWrites(t, kv, key, 1)

	if got := len(s.Notifications()); got != 2 {
		t.Fatalf("expected in-memory list trimmed to 2, got %d", got)
	}
	if got := s.UnreadCount(); got != 2 {
		t.Fatalf("expected unread adjusted to 2, got %d", got)
	}

	var saved []domain.Notification
	data, err := kv.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := sonic.Unmarshal(data, &saved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 saved entries after quota trim, got %d", len(saved))
	}
	// Most recent entries survive the trim.
	if saved[0].Message != "zzzzz" {
		t.Fatalf("expected newest entry kept, got %q", saved[0].Message)
	}
}

func TestCloseCancelsPendingWrite(t *testing.T) {
	cfg := testConfig()
	cfg.SaveDebounce = 50 * time.Millisecond
	kv := newStubKV()
	s := newStore("u1", kv, cfg, log.New(), nil)

	s.Create(CreateInput{Message: "one"})
	s.Close()

	time.Sleep(3 * cfg.SaveDebounce)
	if got := kv.writeCount(storage.NotificationsKey("u1")); got != 0 {
		t.Fatalf("expected no write after close, got %d", got)
	}
}

func TestSaveRoundtripThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	kv := storage.NewRedis(rc)

	cfg := testConfig()
	registry := NewRegistry(kv, cfg, log.New(), nil)
	t.Cleanup(registry.Close)

	s := registry.Load(context.Background(), "u1")
	s.Create(CreateInput{Message: "durable"})

	deadline := time.Now().Add(time.Second)
	key := storage.NotificationsKey("u1")
	for {
		if mr.Exists(key) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for durable write")
		}
		time.Sleep(5 * time.Millisecond)
	}

	registry.Dispose("u1")
	reloaded := registry.Load(context.Background(), "u1")
	list := reloaded.Notifications()
	if len(list) != 1 || list[0].Message != "durable" {
		t.Fatalf("unexpected reloaded list: %#v", list)
	}
	if got := reloaded.UnreadCount(); got != 1 {
		t.Fatalf("expected unread recomputed to 1, got %d", got)
	}
}
