package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBasicFIFO(t *testing.T) {
	q := New[int]()
	if !q.Empty() {
		t.Fatalf("expected new queue to be empty")
	}
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)
	if q.Len() != 3 {
		t.Fatalf("expected len 3, got %d", q.Len())
	}
	for _, want := range []int{1, 2, 3} {
		got, ok := q.PopFront()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d ok=%v", want, got, ok)
		}
	}
	if !q.Empty() {
		t.Fatalf("expected queue to be empty after draining")
	}
}

func TestPushFrontAndPopBack(t *testing.T) {
	q := New[string]()
	q.PushBack("b")
	q.PushFront("a")
	q.PushBack("c")
	front, _ := q.Front()
	if front != "a" {
		t.Fatalf("expected front=a, got %s", front)
	}
	back, _ := q.Back()
	if back != "c" {
		t.Fatalf("expected back=c, got %s", back)
	}
	got, ok := q.PopBack()
	if !ok || got != "c" {
		t.Fatalf("expected popback=c, got %s", got)
	}
}

func TestPopFromEmpty(t *testing.T) {
	q := New[int]()
	if _, ok := q.PopFront(); ok {
		t.Fatalf("expected ok=false on empty pop")
	}
	if _, ok := q.PopBack(); ok {
		t.Fatalf("expected ok=false on empty pop")
	}
}

func TestClear(t *testing.T) {
	q := New[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.Clear()
	if !q.Empty() || q.Len() != 0 {
		t.Fatalf("expected empty queue after Clear")
	}
}

func TestWaitBlocksUntilPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = q.Wait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond) // give the waiter time to block
	q.PushBack(42)
	wg.Wait()
	if !ok || got != 42 {
		t.Fatalf("expected Wait to return 42, got %d ok=%v", got, ok)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.Wait(ctx)
	if ok {
		t.Fatalf("expected Wait to give up after context cancellation")
	}
}

func TestConcurrentProducersThenDrain(t *testing.T) {
	q := New[int]()
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			q.PushBack(v)
		}(i)
	}
	wg.Wait()
	if q.Len() != n {
		t.Fatalf("expected %d items, got %d", n, q.Len())
	}
	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		v, ok := q.PopFront()
		if !ok {
			t.Fatalf("expected an item at index %d", i)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct items, got %d", n, len(seen))
	}
}
