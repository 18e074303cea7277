package ristretto

import (
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// set writes a value and waits for ristretto's admission buffers to drain
// so the follow-up Get is deterministic.
func set(t *testing.T, c *Cache, key string, value []byte) {
	t.Helper()
	if err := c.Set(context.Background(), key, value, time.Minute); err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
	c.c.Wait()
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)
	set(t, c, "snap:sess-1", []byte("payload"))

	val, found, err := c.Get(context.Background(), "snap:sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected hit after Set")
	}
	if string(val) != "payload" {
		t.Fatalf("value = %q, want payload", val)
	}
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)
	_, found, err := c.Get(context.Background(), "never-set")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss for unknown key")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	set(t, c, "snap:sess-2", []byte("payload"))

	if err := c.Delete(context.Background(), "snap:sess-2"); err != nil {
		t.Fatal(err)
	}
	c.c.Wait()
	if _, found, _ := c.Get(context.Background(), "snap:sess-2"); found {
		t.Fatal("expected miss after Delete")
	}

	// Deleting an absent key is a no-op.
	if err := c.Delete(context.Background(), "never-set"); err != nil {
		t.Fatalf("delete of absent key: %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	c := newTestCache(t)
	set(t, c, "snap:sess-3", []byte("v1"))
	set(t, c, "snap:sess-3", []byte("v2"))

	val, found, err := c.Get(context.Background(), "snap:sess-3")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected hit after overwrite")
	}
	if string(val) != "v2" {
		t.Fatalf("value = %q, want v2", val)
	}
}
