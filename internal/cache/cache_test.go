package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	ctx := context.Background()
	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry must be present")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expired entry must be gone")
	}
}

func TestMemoryNoExpiryForSessionTier(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	ctx := context.Background()
	m.Set(ctx, "session", []byte("v"), 0)
	now = now.Add(24 * time.Hour)
	if _, ok, _ := m.Get(ctx, "session"); !ok {
		t.Fatal("ttl<=0 entries must not expire")
	}
}

func TestGetOrFillCachesAndInvalidates(t *testing.T) {
	c := New(NewMemory())
	ctx := context.Background()
	fills := 0
	fill := func(context.Context) ([]string, error) {
		fills++
		return []string{"a", "b"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrFill(ctx, c, "stores:dep1", ListTTL, fill)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("got %v", got)
		}
	}
	if fills != 1 {
		t.Fatalf("fills = %d, want 1", fills)
	}

	c.Invalidate(ctx, "stores:dep1")
	if _, err := GetOrFill(ctx, c, "stores:dep1", ListTTL, fill); err != nil {
		t.Fatal(err)
	}
	if fills != 2 {
		t.Fatalf("fills after invalidate = %d, want 2", fills)
	}
}

func TestGetOrFillPropagatesFillError(t *testing.T) {
	c := New(NewMemory())
	wantErr := errors.New("upstream down")
	_, err := GetOrFill(context.Background(), c, "k", ListTTL,
		func(context.Context) (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestRedisBackend(t *testing.T) {
	srv := miniredis.RunT(t)
	r, err := NewRedis("redis://" + srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := r.Set(ctx, "k", []byte(`{"n":1}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || string(val) != `{"n":1}` {
		t.Fatalf("get = %q %v %v", val, ok, err)
	}

	srv.FastForward(2 * time.Minute)
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Fatal("expired key must be gone")
	}

	r.Set(ctx, "a", []byte("1"), 0)
	r.Set(ctx, "b", []byte("2"), 0)
	if err := r.Del(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, "a"); ok {
		t.Fatal("deleted key must be gone")
	}
}

func TestRedisBackendSharedAcrossClients(t *testing.T) {
	srv := miniredis.RunT(t)
	r1, _ := NewRedis("redis://" + srv.Addr())
	r2, _ := NewRedis("redis://" + srv.Addr())
	ctx := context.Background()

	c1 := New(r1)
	c2 := New(r2)
	_, err := GetOrFill(ctx, c1, "shared", time.Minute,
		func(context.Context) (string, error) { return "value", nil })
	if err != nil {
		t.Fatal(err)
	}
	got, err := GetOrFill(ctx, c2, "shared", time.Minute,
		func(context.Context) (string, error) {
			t.Fatal("second replica must read the shared value, not refill")
			return "", nil
		})
	if err != nil || got != "value" {
		t.Fatalf("got %q %v", got, err)
	}
}
