package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexExclusive(t *testing.T) {
	k := NewKeyedMutex()
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "chat")
			if err != nil {
				t.Errorf("Lock() error: %v", err)
				return
			}
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen.Load())
	}
	if k.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", k.Len())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) error: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked behind a: %v", err)
	}
	unlockB()
}

func TestKeyedMutexContextCancel(t *testing.T) {
	k := NewKeyedMutex()
	unlock, _ := k.Lock(context.Background(), "chat")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "chat"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Lock() error = %v, want DeadlineExceeded", err)
	}

	unlock()
	if k.Len() != 0 {
		t.Errorf("Len() = %d, want 0", k.Len())
	}
}

func TestKeyedQueueOrderPerKey(t *testing.T) {
	q := NewKeyedQueue()
	var (
		mu  sync.Mutex
		got = map[string][]int{}
	)

	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			key, i := key, i
			q.Submit(key, func() {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	q.Close()

	for _, key := range []string{"a", "b"} {
		if len(got[key]) != 50 {
			t.Fatalf("%s ran %d jobs, want 50", key, len(got[key]))
		}
		for i, v := range got[key] {
			if v != i {
				t.Fatalf("%s job %d ran at position %d", key, v, i)
			}
		}
	}

	if q.Submit("a", func() {}) {
		t.Error("Submit() after Close() = true")
	}
}
