package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalTopicIsPrefixedPerThread(t *testing.T) {
	assert.Equal(t, "stream.signal.t1", SignalTopic("t1"))
	assert.NotEqual(t, SignalTopic("t1"), SignalTopic("t2"))
}

func TestPublishDeliversToMatchingPrefix(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(SignalTopic("t1"))
	defer b.Unsubscribe(sub)

	other := b.Subscribe(SignalTopic("t2"))
	defer b.Unsubscribe(other)

	b.Publish(SignalTopic("t1"), "t1")

	select {
	case ev := <-sub.Ch():
		assert.Equal(t, SignalTopic("t1"), ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected event not received")
	}

	select {
	case <-other.Ch():
		t.Fatal("subscriber for a different thread should not receive this event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New(nil)
	assert.NotPanics(t, func() { b.Publish(SignalTopic("ghost"), nil) })
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("")
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub.Ch()
	assert.False(t, ok)
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("")
	b.Unsubscribe(sub)
	assert.NotPanics(t, func() { b.Unsubscribe(sub) })
}

func TestPublishDropsWhenSubscriberBufferFull(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("")
	for i := 0; i < defaultBufferSize+5; i++ {
		b.Publish("anything", i)
	}
	assert.Greater(t, b.DroppedEventCount(), int64(0))
	_ = sub
}
