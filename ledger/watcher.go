package ledger

import (
	"context"
	"sync"
	"time"
)

// DefaultWatchInterval is how often the watcher polls watched channels.
const DefaultWatchInterval = time.Minute

// Watcher polls the on-ledger state of watched channels and reports the ones
// that begin closing, either because an expiration has been requested or
// because the channel no longer exists.
type Watcher struct {
	client   Client
	interval time.Duration

	closes chan string
	stop   chan struct{}
	once   sync.Once

	// mu guards watched.
	mu      sync.Mutex
	watched map[string]struct{}
}

// NewWatcher returns a watcher polling via client at the given interval, or
// DefaultWatchInterval if zero.
func NewWatcher(client Client, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	w := &Watcher{
		client:   client,
		interval: interval,
		closes:   make(chan string, 1),
		stop:     make(chan struct{}),
		watched:  map[string]struct{}{},
	}
	go w.loop()
	return w
}

// Watch adds a channel to the watch set.
func (w *Watcher) Watch(channelID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[channelID] = struct{}{}
}

// Closes returns the channel on which closing channel ids are delivered. A
// channel id is delivered at most once.
func (w *Watcher) Closes() <-chan string {
	return w.closes
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.watched))
	for id := range w.watched {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), w.interval)
		ch, err := w.client.Channel(ctx, id)
		cancel()
		closing := err != nil || ch.Expiration != nil
		if !closing {
			continue
		}
		w.mu.Lock()
		delete(w.watched, id)
		w.mu.Unlock()
		select {
		case w.closes <- id:
		case <-w.stop:
			return
		}
	}
}
