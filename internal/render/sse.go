package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/emperorhan/signal-controller/internal/metrics"
)

type sseMessage struct {
	id      string
	event   EventType
	payload []byte
}

// SSEBroker fans envelopes out to connected browser clients.
type SSEBroker struct {
	buffer int

	mu      sync.Mutex
	clients map[chan sseMessage]struct{}
}

func NewSSEBroker(buffer int) *SSEBroker {
	if buffer <= 0 {
		buffer = 16
	}
	return &SSEBroker{buffer: buffer, clients: make(map[chan sseMessage]struct{})}
}

func (b *SSEBroker) Name() string { return "sse" }

func (b *SSEBroker) Write(_ context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Type, err)
	}
	b.broadcast(sseMessage{id: env.ID, event: env.Type, payload: payload})
	return nil
}

func (b *SSEBroker) Subscribe() chan sseMessage {
	ch := make(chan sseMessage, b.buffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	metrics.SSESubscribers.Set(float64(n))
	return ch
}

func (b *SSEBroker) Unsubscribe(ch chan sseMessage) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, ch)
	n := len(b.clients)
	b.mu.Unlock()
	close(ch)
	metrics.SSESubscribers.Set(float64(n))
}

// Subscribers returns the number of connected clients.
func (b *SSEBroker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) broadcast(msg sseMessage) {
	b.mu.Lock()
	clients := make([]chan sseMessage, 0, len(b.clients))
	for ch := range b.clients {
		clients = append(clients, ch)
	}
	b.mu.Unlock()
	for _, ch := range clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// ServeHTTP streams events to one client until it disconnects.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.id, msg.event, msg.payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
