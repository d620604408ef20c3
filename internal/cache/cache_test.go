package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get = %q, %v", got, err)
	}

	// Returned slice must be a copy.
	got[0] = 'x'
	again, _ := c.Get(ctx, "k")
	if string(again) != "v" {
		t.Errorf("cache value mutated through returned slice: %q", again)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Nanosecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired Get = %v, want ErrNotFound", err)
	}
}

func TestCounters(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Increment(ctx, "n", 1, time.Minute)
		if err != nil || got != want {
			t.Fatalf("Increment = %d, %v, want %d", got, err, want)
		}
	}
	if got, _ := c.GetCount(ctx, "n"); got != 3 {
		t.Errorf("GetCount = %d, want 3", got)
	}

	if err := c.ResetCount(ctx, "n"); err != nil {
		t.Fatalf("ResetCount failed: %v", err)
	}
	if got, _ := c.GetCount(ctx, "n"); got != 0 {
		t.Errorf("GetCount after reset = %d", got)
	}
}

func TestCounterWindowRestartsAfterExpiry(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Increment(ctx, "n", 5, time.Nanosecond); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	got, err := c.Increment(ctx, "n", 1, time.Minute)
	if err != nil || got != 1 {
		t.Errorf("Increment after expiry = %d, %v, want fresh window at 1", got, err)
	}
}
