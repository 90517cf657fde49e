// internal/handler/event_bus_test.go
package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event arrived")
		return Event{}
	}
}

func TestEventBus_DeliversToTypeSubscriber(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	sub := bus.Subscribe("payment_update")
	bus.Publish(Event{
		Type:      "payment_update",
		Source:    "vending",
		Data:      map[string]interface{}{"total": 15},
		Timestamp: time.Now(),
	})

	ev := waitEvent(t, sub)
	assert.Equal(t, "payment_update", ev.Type)
	assert.Equal(t, 15, ev.Data["total"])
}

func TestEventBus_WildcardReceivesEverything(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	all := bus.Subscribe("*")
	bus.Publish(Event{Type: "payment_update", Timestamp: time.Now()})
	bus.Publish(Event{Type: "dispense_confirmed", Timestamp: time.Now()})

	first := waitEvent(t, all)
	second := waitEvent(t, all)
	assert.Equal(t, "payment_update", first.Type)
	assert.Equal(t, "dispense_confirmed", second.Type)
}

func TestEventBus_UnrelatedTypeNotDelivered(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	sub := bus.Subscribe("payment_update")
	bus.Publish(Event{Type: "hardware_status", Timestamp: time.Now()})

	select {
	case ev := <-sub:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	// No Start: the queue fills up and publishes must still return.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			bus.Publish(Event{Type: "flood", Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestClient_WantsEvent(t *testing.T) {
	c := &Client{}
	assert.True(t, c.wantsEvent("anything"), "no subscriptions means everything")

	c.Subscriptions = map[string]bool{"payment_update": true}
	assert.True(t, c.wantsEvent("payment_update"))
	assert.False(t, c.wantsEvent("hardware_status"))
}

func TestConnectionManager_RegisterUnregister(t *testing.T) {
	cm := NewConnectionManager()

	client := &Client{ID: "c1", Send: make(chan []byte, 1)}
	cm.Register(client)

	require.Eventually(t, func() bool {
		return len(cm.GetClients()) == 1
	}, time.Second, 10*time.Millisecond)

	cm.Unregister(client)
	require.Eventually(t, func() bool {
		return len(cm.GetClients()) == 0
	}, time.Second, 10*time.Millisecond)
}
