package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLockerSerializesSameSession(t *testing.T) {
	locker := NewKeyedLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "s1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxInside)
	}
	if locker.held() != 0 {
		t.Fatalf("expected idle keys to be dropped, %d remain", locker.held())
	}
}

func TestKeyedLockerIndependentSessions(t *testing.T) {
	locker := NewKeyedLocker()
	release, err := locker.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := locker.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("session b must not wait on a: %v", err)
	}
	releaseB()
}

func TestKeyedLockerHonorsContext(t *testing.T) {
	locker := NewKeyedLocker()
	release, _ := locker.Lock(context.Background(), "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	release() // idempotent
	if locker.held() != 0 {
		t.Fatalf("expected lock table to be empty")
	}
}

func TestRedisLocker(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second)

	release, err := locker.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists(lockKey("s1")) {
		t.Fatalf("expected lock key to exist")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected contended lock to time out, got %v", err)
	}

	release()
	if mr.Exists(lockKey("s1")) {
		t.Fatalf("expected lock key to be deleted on release")
	}

	release2, err := locker.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	release2()
}

func TestRedisLockerReportsLostLease(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second)
	var lost error
	locker.OnRelease = func(_ string, err error) { lost = err }

	release, err := locker.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	mr.FastForward(2 * time.Second)
	release()
	if !errors.Is(lost, ErrLockLost) {
		t.Fatalf("expected ErrLockLost, got %v", lost)
	}
}
