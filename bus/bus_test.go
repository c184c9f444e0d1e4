package bus

import (
	"fmt"
	"testing"

	"market-proxy-go/feed"
)

func TestPublishDrain(t *testing.T) {
	b := New(4)
	b.Publish(Message{Topic: "NSE_RELIANCE_LTP", Tick: feed.Tick{Symbol: "RELIANCE"}})
	got := <-b.Drain()
	if got.Topic != "NSE_RELIANCE_LTP" || got.Tick.Symbol != "RELIANCE" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestDropOldestUnderBackpressure(t *testing.T) {
	b := New(2)
	for i := 0; i < 5; i++ {
		b.Publish(Message{Topic: fmt.Sprintf("T%d", i)})
	}
	if b.Dropped() != 3 {
		t.Fatalf("expected 3 dropped, got %d", b.Dropped())
	}
	// 留下的应是最新的两条。
	first := <-b.Drain()
	second := <-b.Drain()
	if first.Topic != "T3" || second.Topic != "T4" {
		t.Fatalf("expected newest messages retained, got %s %s", first.Topic, second.Topic)
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	b := New(16)
	for i := 0; i < 10; i++ {
		b.Publish(Message{Topic: "NSE_NIFTY_LTP", Tick: feed.Tick{TimestampMs: int64(i)}})
	}
	for i := 0; i < 10; i++ {
		m := <-b.Drain()
		if m.Tick.TimestampMs != int64(i) {
			t.Fatalf("order broken at %d: got %d", i, m.Tick.TimestampMs)
		}
	}
}

func TestCloseStopsPublish(t *testing.T) {
	b := New(2)
	b.Close()
	b.Publish(Message{Topic: "X"}) // 不应 panic
	if _, ok := <-b.Drain(); ok {
		t.Fatal("expected closed channel")
	}
}
