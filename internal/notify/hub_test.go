package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Close()
	defer b.Close()
	require.Equal(t, 2, h.Len())

	ev := SchemaEvent(ActionCreateTable)
	ev.Table = "Contact"
	h.Publish(ev)

	for _, sub := range []*Subscription{a, b} {
		select {
		case got := <-sub.Events():
			assert.Equal(t, ev, got)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(2, nil)
	slow := h.Subscribe()
	fast := h.Subscribe()
	defer fast.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	received := 0
	go func() {
		defer wg.Done()
		for range fast.Events() {
			received++
			if received == 5 {
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		h.Publish(DataEvent(ActionCreate))
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	// slow never read: its queue overflowed on the third publish and it was closed
	n := 0
	for range slow.Events() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 5, received)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe()
	s.Close()
	s.Close()
	_, open := <-s.Events()
	assert.False(t, open)
	assert.Zero(t, h.Len())

	// publishing with no subscribers must not block
	h.Publish(SchemaEvent(ActionDeleteEnum))
}
