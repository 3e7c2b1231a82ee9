package ws

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/claude/rehabai/internal/session"
)

type idleFeed struct{}

func (idleFeed) Subscribe() (<-chan session.Snapshot, func()) { return nil, func() {} }
func (idleFeed) Active() []session.Snapshot { return nil }

func newIdleHub() *Hub {
	return New(idleFeed{}, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Disconnects racing a broadcast must not send on a closed channel.
func TestBroadcastConcurrentUnregister(t *testing.T) {
	h := newIdleHub()
	clients := make([]*client, 2000)
	for i := range clients {
		clients[i] = &client{send: make(chan []byte, 1), all: true}
		h.register(clients[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			h.broadcast(session.Snapshot{UserID: 1})
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients {
			h.unregister(c)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, h.Count())
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	h := newIdleHub()
	fast := &client{send: make(chan []byte, 4), userID: 1}
	slow := &client{send: make(chan []byte), userID: 1}
	other := &client{send: make(chan []byte), userID: 2}
	h.register(fast)
	h.register(slow)
	h.register(other)

	h.broadcast(session.Snapshot{UserID: 1})

	assert.Len(t, fast.send, 1)
	assert.Equal(t, 2, h.Count())
	_, open := <-slow.send
	assert.False(t, open, "slow client channel should be closed")
}
