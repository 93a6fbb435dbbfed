package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemory_TryAcquireExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	release, ok, err := l.TryAcquire(ctx, "poll:a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}

	if _, ok, _ := l.TryAcquire(ctx, "poll:a", time.Minute); ok {
		t.Error("second acquire must fail while lease is held")
	}

	// Другой ключ не блокируется
	if _, ok, _ := l.TryAcquire(ctx, "poll:b", time.Minute); !ok {
		t.Error("different key should be acquired")
	}

	release()
	release()

	if _, ok, _ := l.TryAcquire(ctx, "poll:a", time.Minute); !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestMemory_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	now := time.Now()
	l.now = func() time.Time { return now }

	staleRelease, ok, _ := l.TryAcquire(ctx, "poll:a", time.Second)
	if !ok {
		t.Fatal("acquire should succeed")
	}

	now = now.Add(2 * time.Second)

	_, ok, _ = l.TryAcquire(ctx, "poll:a", time.Second)
	if !ok {
		t.Fatal("expired lease should be reclaimed")
	}

	// Release старого держателя не снимает новый lease
	staleRelease()
	if _, ok, _ := l.TryAcquire(ctx, "poll:a", time.Second); ok {
		t.Error("stale release must not free the new holder's lease")
	}
}

func TestMemory_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := l.TryAcquire(ctx, "poll:a", time.Minute); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Errorf("expected exactly 1 winner, got %d", got)
	}
}

func TestMemory_InvalidTTL(t *testing.T) {
	_, _, err := NewMemory().TryAcquire(context.Background(), "k", 0)
	if !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestRedis_TryAcquire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	l := NewRedis(client, "")

	release, ok, err := l.TryAcquire(ctx, "poll:a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}
	if !mr.Exists("automata:lock:poll:a") {
		t.Error("lock key should exist in redis")
	}

	if _, ok, _ := l.TryAcquire(ctx, "poll:a", time.Minute); ok {
		t.Error("second acquire must fail while lease is held")
	}

	release()
	if mr.Exists("automata:lock:poll:a") {
		t.Error("lock key should be removed after release")
	}
}

func TestRedis_ExpiredLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	l := NewRedis(client, "")

	staleRelease, ok, _ := l.TryAcquire(ctx, "poll:a", time.Second)
	if !ok {
		t.Fatal("acquire should succeed")
	}

	mr.FastForward(2 * time.Second)

	_, ok, _ = l.TryAcquire(ctx, "poll:a", time.Minute)
	if !ok {
		t.Fatal("expired lease should be reclaimed")
	}

	staleRelease()
	if !mr.Exists("automata:lock:poll:a") {
		t.Error("stale release must not delete the new holder's key")
	}
}
