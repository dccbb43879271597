package eventbus

import (
	"testing"
	"time"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicReplicaUpdated)
	key := model.PairKey{Symbol: "BTCUSDT", Segment: model.Spot}

	b.Publish(Event{Topic: TopicReplicaUpdated, Key: key})

	select {
	case ev := <-ch:
		if ev.Key != key {
			t.Errorf("expected key %v, got %v", key, ev.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := New()
	b.Publish(Event{Topic: TopicError})
}

func TestBus_SlowSubscriberDropsOldestInsteadOfBlocking(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicReplicaUpdated)

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Topic: TopicReplicaUpdated, Key: model.PairKey{Symbol: "X"}})
	}

	if len(ch) != subscriberBuffer {
		t.Errorf("expected channel full at buffer size %d, got %d", subscriberBuffer, len(ch))
	}
}
