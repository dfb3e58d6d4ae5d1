package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chatcore/internal/bus"
)

func TestLocalSignalFiresRegisteredHandle(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	h := l.Register("t1")
	l.Signal("t1")

	select {
	case <-h.Done():
		assert.True(t, errors.Is(h.Err(), ErrSignalled))
	case <-time.After(time.Second):
		t.Fatal("handle did not fire")
	}
}

func TestLocalSignalOnUnknownThreadIsNoop(t *testing.T) {
	l := NewLocal()
	defer l.Close()
	assert.NotPanics(t, func() { l.Signal("never-registered") })
}

func TestLocalUnregisterStopsFutureSignals(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	h := l.Register("t1")
	l.Unregister("t1")
	l.Signal("t1")

	select {
	case <-h.Done():
		t.Fatal("handle should not fire after Unregister")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalRegisterTwiceYieldsIndependentHandles(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	h1 := l.Register("t1")
	h2 := l.Register("t1")
	l.Signal("t1")

	select {
	case <-h2.Done():
	case <-time.After(time.Second):
		t.Fatal("second handle did not fire")
	}
	// h1 was overwritten in the map by h2's registration; only the latest
	// handle for a given threadId is reachable via Signal.
	_ = h1
}

func TestDistributedSignalReachesOtherInstanceOverBus(t *testing.T) {
	b := bus.New(nil)
	d1 := NewDistributed(b)
	d2 := NewDistributed(b)
	defer d1.Close()
	defer d2.Close()

	h := d2.Register("t1")
	d1.Signal("t1")

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("signal from d1 did not reach d2's handle")
	}
}

func TestDistributedUnregisterRemovesBusSubscription(t *testing.T) {
	b := bus.New(nil)
	d := NewDistributed(b)
	defer d.Close()

	d.Register("t1")
	require.Equal(t, 1, b.SubscriberCount())

	d.Unregister("t1")
	assert.Equal(t, 0, b.SubscriberCount())
}
