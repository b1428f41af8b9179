package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(nil)

	var (
		mu  sync.Mutex
		got []Event
	)
	bus.Subscribe(UserOnline, func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	bus.Publish(Event{Type: UserOnline, UserID: "u1", At: time.Now()})
	bus.Publish(Event{Type: UserOffline, UserID: "u1", At: time.Now()}) // no subscriber

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "u1", got[0].UserID)
	mu.Unlock()
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus(nil)

	done := make(chan struct{})
	bus.Subscribe(UserOnline, func(Event) { panic("boom") })
	bus.Subscribe(UserOnline, func(Event) { close(done) })

	bus.Publish(Event{Type: UserOnline, UserID: "u1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran")
	}
}

func TestBusDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus(nil)

	release := make(chan struct{})
	bus.Subscribe(UserOnline, func(Event) { <-release })

	start := time.Now()
	bus.Publish(Event{Type: UserOnline, UserID: "u1"})
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	close(release)
}
