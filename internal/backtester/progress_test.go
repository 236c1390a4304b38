package backtester_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/backtester"
)

func TestBroadcasterDeliversToSubscriber(t *testing.T) {
	b := backtester.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(backtester.ProgressEvent{Symbol: "BTCUSDT", StrategyName: "PaperTrader", ProgressPct: 50})

	select {
	case evt := <-ch:
		if evt.Symbol != "BTCUSDT" || evt.ProgressPct != 50 {
			t.Errorf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	b := backtester.NewBroadcaster()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	b.Publish(backtester.ProgressEvent{Symbol: "BTCUSDT"})

	select {
	case evt, ok := <-ch:
		if ok {
			t.Errorf("expected no further events after unsubscribe, got %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
		// no event delivered, as expected
	}
}

func TestBroadcasterDropsWhenSubscriberFull(t *testing.T) {
	b := backtester.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 200; i++ {
		b.Publish(backtester.ProgressEvent{ProgressPct: uint32(i)})
	}
	// Must not deadlock or panic; the channel buffer caps at 100 and
	// excess publishes are dropped rather than blocking the publisher.
}
