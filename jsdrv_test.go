package jsdrv

import (
	"sync"
	"testing"
	"time"
)

func newTestFrontend(t *testing.T) *Frontend {
	t.Helper()
	f, err := Initialize(Options{})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = f.Finalize() })
	return f
}

func TestPublishQueryRoundTrips(t *testing.T) {
	f := newTestFrontend(t)

	if err := f.Publish("s/1/v", F64Value(1.5).WithRetain()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got, err := f.Query("s/1/v")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	val, _ := got.AsF64()
	if val != 1.5 {
		t.Errorf("Expected 1.5, got %v", val)
	}
}

func TestQueryOnUnpublishedTopicReturnsNotFound(t *testing.T) {
	f := newTestFrontend(t)
	_, err := f.Query("never/published")
	if !IsCode(err, CodeNotFound) {
		t.Errorf("Expected CodeNotFound, got %v", err)
	}
}

func TestSubscribeReceivesPublish(t *testing.T) {
	f := newTestFrontend(t)

	var mu sync.Mutex
	var received string
	done := make(chan struct{})
	err := f.Subscribe("s/1", FlagPub, "sub1", nil, func(topic string, v Value) {
		mu.Lock()
		received = topic
		mu.Unlock()
		close(done)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := f.Publish("s/1/v", StrValue("hi")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber callback")
	}
	mu.Lock()
	defer mu.Unlock()
	if received != "s/1/v" {
		t.Errorf("Expected topic s/1/v, got %s", received)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newTestFrontend(t)

	calls := 0
	var mu sync.Mutex
	err := f.Subscribe("s/1", FlagPub, "sub1", nil, func(string, Value) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := f.Unsubscribe("s/1", "sub1", nil); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := f.Publish("s/1/v", StrValue("hi")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("Expected no deliveries after Unsubscribe, got %d", calls)
	}
}

func TestEchoReflectsPayload(t *testing.T) {
	f := newTestFrontend(t)

	done := make(chan Value, 1)
	if err := f.Subscribe("@/!echo", FlagReturnCode, "echo-listener", nil, func(_ string, v Value) {
		done <- v
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := f.Publish("@/!echo", StrValue("ping")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case v := <-done:
		if v.ToString() != "ping" {
			t.Errorf("Expected echoed ping, got %s", v.ToString())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestStatsReportsIterationsAdvance(t *testing.T) {
	f := newTestFrontend(t)
	s1 := f.Stats()
	time.Sleep(10 * time.Millisecond)
	s2 := f.Stats()
	if s2.Iterations <= s1.Iterations {
		t.Errorf("Expected Iterations to advance, got %d then %d", s1.Iterations, s2.Iterations)
	}
}
