package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInOrderPerDataSource(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("ds-1", 8)
	other := bus.Subscribe("ds-2", 8)
	defer bus.Unsubscribe(sub)
	defer bus.Unsubscribe(other)

	bus.Publish(
		Event{Type: ChildAdded, DataSource: "ds-1", Name: "idx_a"},
		Event{Type: AttributesChanged, DataSource: "ds-1", Name: "idx_a"},
		Event{Type: ContainerRefreshed, DataSource: "ds-1"},
	)

	var got []Type
	for i := 0; i < 3; i++ {
		select {
		case evt := <-sub.Events():
			got = append(got, evt.Type)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("event not delivered")
		}
	}
	assert.Equal(t, []Type{ChildAdded, AttributesChanged, ContainerRefreshed}, got)

	select {
	case evt := <-other.Events():
		t.Fatalf("unexpected event for other data source: %v", evt.Type)
	default:
	}
}

func TestBus_PublishDoesNotBlockOnFullQueue(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("ds", 1)
	defer bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		bus.Publish(
			Event{Type: ChildAdded, DataSource: "ds"},
			Event{Type: ChildRemoved, DataSource: "ds"},
		)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Equal(t, int64(1), sub.Dropped())
}

func TestBus_UnsubscribeClosesQueue(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe("ds", 4)
	require.Equal(t, 1, bus.Subscribers("ds"))

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers("ds"))

	bus.Publish(Event{Type: ChildAdded, DataSource: "ds"})
}
