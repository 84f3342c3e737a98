package storage

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestKV(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedisWriteReadDelete(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()
	key := NotificationsKey("user-1")

	if err := kv.Write(ctx, key, []byte(`[{"id":"n1"}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := kv.Read(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `[{"id":"n1"}]` {
		t.Fatalf("unexpected data: %s", data)
	}

	if err := kv.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := kv.Read(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisReadMissingKey(t *testing.T) {
	kv, _ := newTestKV(t)
	if _, err := kv.Read(context.Background(), BoardKey("nobody")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisDeleteMissingKeyIsNoop(t *testing.T) {
	kv, _ := newTestKV(t)
	if err := kv.Delete(context.Background(), "absent"); err != nil {
		t.Fatalf("delete absent key: %v", err)
	}
}

func TestRedisWriteMapsOOMToQuotaExceeded(t *testing.T) {
	kv, mr := newTestKV(t)
	mr.SetError("OOM command not allowed when used memory > 'maxmemory'.")

	err := kv.Write(context.Background(), NotificationsKey("user-1"), []byte("[]"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestDurableKeys(t *testing.T) {
	if got := NotificationsKey("abc"); got != "notifications_abc" {
		t.Fatalf("unexpected notifications key: %s", got)
	}
	if got := BoardKey("abc"); got != "kanban_data_abc" {
		t.Fatalf("unexpected board key: %s", got)
	}
}
