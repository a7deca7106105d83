package node

import (
	"sync"
	"testing"
	"time"

	"github.com/bdeggleston/stockpaxos/wire"
)

func TestSendDeliversToRegisteredHandler(t *testing.T) {
	n := NewNetwork()
	received := make(chan wire.Message, 1)
	n.Register("s1", func(from string, m wire.Message) {
		if from != "s2" {
			t.Errorf("unexpected from: %v", from)
		}
		received <- m
	})

	if err := n.Send("s2", "s1", &wire.HeartbeatRequest{Probe: "s2"}); err != nil {
		t.Fatalf("unexpected Send error: %v", err)
	}

	select {
	case m := <-received:
		hb, ok := m.(*wire.HeartbeatRequest)
		if !ok || hb.Probe != "s2" {
			t.Fatalf("unexpected delivered message: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendToUnregisteredNameIsSilentNoOp(t *testing.T) {
	n := NewNetwork()
	if err := n.Send("s1", "ghost", &wire.HeartbeatRequest{Probe: "s1"}); err != nil {
		t.Fatalf("unexpected error sending to unregistered name: %v", err)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	n := NewNetwork()
	var calls int
	var mu sync.Mutex
	n.Register("s1", func(from string, m wire.Message) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	n.Unregister("s1")

	if err := n.Send("s2", "s1", &wire.HeartbeatRequest{Probe: "s2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no delivery after unregister, got %v calls", calls)
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	n := NewNetwork()
	var mu sync.Mutex
	delivered := make(map[string]bool)
	for _, name := range []string{"s1", "s2", "s3"} {
		name := name
		n.Register(name, func(from string, m wire.Message) {
			mu.Lock()
			delivered[name] = true
			mu.Unlock()
		})
	}

	n.Broadcast("s1", []string{"s1", "s2", "s3"}, &wire.HeartbeatRequest{Probe: "s1"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if delivered["s1"] {
		t.Fatal("broadcast must not deliver back to its own sender")
	}
	if !delivered["s2"] || !delivered["s3"] {
		t.Fatalf("expected both peers to receive broadcast, got %+v", delivered)
	}
}

func TestNamesAreSorted(t *testing.T) {
	n := NewNetwork()
	for _, name := range []string{"s3", "s1", "s2"} {
		n.Register(name, func(string, wire.Message) {})
	}
	names := n.Names()
	want := []string{"s1", "s2", "s3"}
	if len(names) != len(want) {
		t.Fatalf("unexpected names: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected order: %v", names)
		}
	}
}
