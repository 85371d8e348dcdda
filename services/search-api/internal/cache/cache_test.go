package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testCache(t *testing.T, ttl time.Duration) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(rdb, ttl, logger), mr
}

func TestKey_Format(t *testing.T) {
	got := Key("t1", "s1", []string{"ingredient", "recipe"}, "  Sea Salt ")
	want := "search:t1:s1:ingredient|recipe:sea salt"
	if got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestKey_TypeOrderInsensitive(t *testing.T) {
	a := Key("t1", "s1", []string{"recipe", "ingredient"}, "salt")
	b := Key("t1", "s1", []string{"ingredient", "recipe"}, "salt")
	if a != b {
		t.Fatalf("keys differ for same type set: %q vs %q", a, b)
	}
}

func TestGetSet_RoundTrip(t *testing.T) {
	c, _ := testCache(t, 10*time.Second)
	ctx := context.Background()
	key := Key("t1", "s1", []string{"ingredient"}, "salt")

	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("expected a miss before Set")
	}
	c.Set(ctx, key, []byte(`{"results":[]}`))
	body, ok := c.Get(ctx, key)
	if !ok || string(body) != `{"results":[]}` {
		t.Fatalf("expected verbatim hit, got ok=%v body=%q", ok, body)
	}
}

func TestGet_MissAfterTTLExpiry(t *testing.T) {
	c, mr := testCache(t, 10*time.Second)
	ctx := context.Background()
	key := Key("t1", "s1", []string{"ingredient"}, "salt")

	c.Set(ctx, key, []byte("cached"))
	if _, ok := c.Get(ctx, key); !ok {
		t.Fatal("expected hit inside TTL window")
	}

	mr.FastForward(11 * time.Second)
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("expected miss after TTL expiry")
	}
}

func TestDisabledCache_AlwaysMisses(t *testing.T) {
	c := New(nil, 10*time.Second, nil)
	ctx := context.Background()

	c.Set(ctx, "search:t1:s1:ingredient:salt", []byte("cached"))
	if _, ok := c.Get(ctx, "search:t1:s1:ingredient:salt"); ok {
		t.Fatal("disabled cache must never hit")
	}
}

func TestGet_MissWhenRedisDown(t *testing.T) {
	c, mr := testCache(t, 10*time.Second)
	ctx := context.Background()
	key := Key("t1", "s1", []string{"ingredient"}, "salt")
	c.Set(ctx, key, []byte("cached"))

	mr.Close()
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("a down cache must read as a miss, not an error")
	}
}
