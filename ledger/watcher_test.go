package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	Client

	mu       sync.Mutex
	channels map[string]Channel
}

func (c *stubClient) Channel(ctx context.Context, id string) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok {
		return Channel{}, errors.New("channel not found")
	}
	return ch, nil
}

func (c *stubClient) set(id string, ch Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = ch
}

func TestWatcher_ReportsExpiringChannel(t *testing.T) {
	client := &stubClient{channels: map[string]Channel{
		"A": {ID: "A"},
		"B": {ID: "B"},
	}}
	w := NewWatcher(client, 10*time.Millisecond)
	defer w.Stop()

	w.Watch("A")
	w.Watch("B")

	select {
	case id := <-w.Closes():
		t.Fatalf("unexpected close for %s", id)
	case <-time.After(50 * time.Millisecond):
	}

	exp := time.Now().Add(time.Hour)
	client.set("A", Channel{ID: "A", Expiration: &exp})

	select {
	case id := <-w.Closes():
		assert.Equal(t, "A", id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestWatcher_ReportsMissingChannel(t *testing.T) {
	client := &stubClient{channels: map[string]Channel{}}
	w := NewWatcher(client, 10*time.Millisecond)
	defer w.Stop()

	w.Watch("GONE")

	select {
	case id := <-w.Closes():
		require.Equal(t, "GONE", id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close event")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	client := &stubClient{channels: map[string]Channel{}}
	w := NewWatcher(client, time.Minute)
	w.Stop()
	w.Stop()
}
