package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	var a, b atomic.Int64

	bus.Subscribe("order.submitted", func(ctx context.Context, p Payload) error {
		a.Add(1)
		return nil
	})
	bus.Subscribe("order.submitted", func(ctx context.Context, p Payload) error {
		b.Add(1)
		return nil
	})

	err := bus.Publish(context.Background(), "order.submitted", Payload{"symbol": "DEMO"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.Load())
	assert.EqualValues(t, 1, b.Load())
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus(nil)
	require.NoError(t, bus.Publish(context.Background(), "nobody.listens", Payload{}))
}

func TestPublishRunsEveryHandlerDespiteFailures(t *testing.T) {
	bus := NewBus(nil)
	boom := errors.New("boom")
	var called atomic.Int64

	bus.Subscribe("signal.generated", func(ctx context.Context, p Payload) error {
		called.Add(1)
		return boom
	})
	bus.Subscribe("signal.generated", func(ctx context.Context, p Payload) error {
		called.Add(1)
		return nil
	})
	bus.Subscribe("signal.generated", func(ctx context.Context, p Payload) error {
		called.Add(1)
		return errors.New("second failure")
	})

	err := bus.Publish(context.Background(), "signal.generated", Payload{})
	require.Error(t, err)

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "signal.generated", derr.EventType)
	assert.Len(t, derr.Errs, 2)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 3, called.Load(), "all handlers must run even when some fail")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	var calls atomic.Int64

	sub := bus.Subscribe("order.cancel", func(ctx context.Context, p Payload) error {
		calls.Add(1)
		return nil
	})
	require.Equal(t, 1, bus.SubscriberCount("order.cancel"))

	require.NoError(t, bus.Publish(context.Background(), "order.cancel", Payload{}))
	bus.Unsubscribe(sub)
	require.Equal(t, 0, bus.SubscriberCount("order.cancel"))

	require.NoError(t, bus.Publish(context.Background(), "order.cancel", Payload{}))
	assert.EqualValues(t, 1, calls.Load())
}

func TestUnsubscribeRemovesOnlyTargetHandler(t *testing.T) {
	bus := NewBus(nil)
	var kept atomic.Int64

	handler := func(ctx context.Context, p Payload) error {
		kept.Add(1)
		return nil
	}
	first := bus.Subscribe("x", handler)
	bus.Subscribe("x", handler)

	bus.Unsubscribe(first)
	require.Equal(t, 1, bus.SubscriberCount("x"))

	require.NoError(t, bus.Publish(context.Background(), "x", Payload{}))
	assert.EqualValues(t, 1, kept.Load())

	// Unknown or repeated unsubscribes are ignored.
	bus.Unsubscribe(first)
	bus.Unsubscribe(nil)
	require.Equal(t, 1, bus.SubscriberCount("x"))
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := NewBus(nil)
	done := make(chan struct{})

	bus.Subscribe("a", func(ctx context.Context, p Payload) error {
		bus.Subscribe("b", func(ctx context.Context, p Payload) error { return nil })
		close(done)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "a", Payload{}))
	<-done
	assert.Equal(t, 1, bus.SubscriberCount("b"))
}

func TestSubscriberSnapshotExcludesLateSubscribers(t *testing.T) {
	bus := NewBus(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var late atomic.Int64

	bus.Subscribe("slow", func(ctx context.Context, p Payload) error {
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = bus.Publish(context.Background(), "slow", Payload{})
	}()

	<-started
	// Registered while the publish is in flight; must not see this event.
	bus.Subscribe("slow", func(ctx context.Context, p Payload) error {
		late.Add(1)
		return nil
	})
	close(release)
	wg.Wait()

	assert.EqualValues(t, 0, late.Load())
}

func TestConcurrentPublishIsSafe(t *testing.T) {
	bus := NewBus(nil)
	var total atomic.Int64
	bus.Subscribe("tick", func(ctx context.Context, p Payload) error {
		total.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), "tick", Payload{})
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, total.Load())
}
