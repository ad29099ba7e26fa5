package redisstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestLease_ExcludesSecondHolder(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	l, err := rc.TryAcquire(ctx, "render-lock:a", time.Minute)
	if err != nil || l == nil {
		t.Fatalf("first acquire l=%v err=%v", l, err)
	}
	if !mr.Exists("render-lock:a") {
		t.Fatal("key not set")
	}
	if ttl := mr.TTL("render-lock:a"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl=%v", ttl)
	}

	l2, err := rc.TryAcquire(ctx, "render-lock:a", time.Minute)
	if err != nil || l2 != nil {
		t.Fatalf("second acquire must fail softly, got l=%v err=%v", l2, err)
	}

	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists("render-lock:a") {
		t.Fatal("key must be deleted on release")
	}
}

func TestLease_ReleaseAfterTakeoverIsRejected(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	l, err := rc.TryAcquire(ctx, "k", time.Second)
	if err != nil || l == nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	other, err := rc.TryAcquire(ctx, "k", time.Minute)
	if err != nil || other == nil {
		t.Fatalf("takeover after expiry failed: %v", err)
	}
	if err := l.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale release err=%v want ErrNotHeld", err)
	}
	if !mr.Exists("k") {
		t.Fatal("stale release must not delete the new holder's key")
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	rc, _ := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	held, err := rc.TryAcquire(ctx, "k", time.Minute)
	if err != nil || held == nil {
		t.Fatalf("acquire: %v", err)
	}

	var (
		wg    sync.WaitGroup
		got   *Lease
		gotEr error
		waits atomic.Int32
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, gotEr = rc.Acquire(ctx, "k", time.Minute, 10*time.Millisecond, func() bool {
			waits.Add(1)
			return false
		})
	}()

	time.Sleep(50 * time.Millisecond)
	if err := held.Release(ctx); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if gotEr != nil || got == nil {
		t.Fatalf("waiter l=%v err=%v", got, gotEr)
	}
	if waits.Load() == 0 {
		t.Fatal("waiter never polled")
	}
}

func TestAcquire_StopsWhenWorkIsDone(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()
	if l, _ := rc.TryAcquire(ctx, "k", time.Minute); l == nil {
		t.Fatal("acquire failed")
	}
	l, err := rc.Acquire(ctx, "k", time.Minute, 5*time.Millisecond, func() bool { return true })
	if err != nil || l != nil {
		t.Fatalf("l=%v err=%v", l, err)
	}
}

func TestAcquire_HonorsContext(t *testing.T) {
	rc, _ := newMini(t)
	if l, _ := rc.TryAcquire(context.Background(), "k", time.Minute); l == nil {
		t.Fatal("acquire failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := rc.Acquire(ctx, "k", time.Minute, 5*time.Millisecond, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}
