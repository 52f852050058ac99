package queue

import (
	"sync"
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	q := New(0)
	for i := 0; i < 5; i++ {
		if err := q.TryPush(i); err != nil {
			t.Fatalf("TryPush(%d): %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		item, ok := q.Pop(time.Second)
		if !ok || item.(int) != i {
			t.Errorf("Pop() = %v, %v, want %d, true", item, ok, i)
		}
	}
}

func TestTryPushRespectsCapacity(t *testing.T) {
	q := New(2)
	if err := q.TryPush(1); err != nil {
		t.Fatalf("TryPush(1): %v", err)
	}
	if err := q.TryPush(2); err != nil {
		t.Fatalf("TryPush(2): %v", err)
	}
	if err := q.TryPush(3); err != ErrFull {
		t.Errorf("TryPush(3) = %v, want ErrFull", err)
	}
}

func TestPopTimesOutOnEmptyQueue(t *testing.T) {
	q := New(0)
	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	if ok {
		t.Error("Pop() on empty queue should time out with ok=false")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Pop() returned before its timeout elapsed")
	}
}

func TestPopWakesImmediatelyOnPush(t *testing.T) {
	q := New(0)
	var wg sync.WaitGroup
	wg.Add(1)
	start := time.Now()
	var elapsed time.Duration
	go func() {
		defer wg.Done()
		_, ok := q.Pop(5 * time.Second)
		elapsed = time.Since(start)
		if !ok {
			t.Error("Pop() should have returned an item")
		}
	}()
	time.Sleep(10 * time.Millisecond)
	if err := q.TryPush("hello"); err != nil {
		t.Fatalf("TryPush: %v", err)
	}
	wg.Wait()
	if elapsed > time.Second {
		t.Errorf("Pop() took %v to wake after Push, want well under 1s", elapsed)
	}
}

func TestCloseWakesBlockedPop(t *testing.T) {
	q := New(0)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(5 * time.Second)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("Pop() after Close on empty queue should return ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not wake after Close")
	}
}

func TestPushAfterCloseFails(t *testing.T) {
	q := New(0)
	q.Close()
	if err := q.TryPush(1); err != ErrClosed {
		t.Errorf("TryPush after Close = %v, want ErrClosed", err)
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	q := New(0)
	const producers = 8
	const perProducer = 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.TryPush(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for len(seen) < producers*perProducer {
		item, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("Pop() failed with only %d/%d items seen", len(seen), producers*perProducer)
		}
		seen[item.(int)] = true
	}
}
