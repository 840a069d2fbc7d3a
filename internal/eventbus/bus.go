// Package eventbus is the append-only SSE broadcast channel to connected
// dashboard/observer clients. It holds writer handles, heartbeats every
// 15s, and drops broken peers, grounded on
// original_source/daemon/sse.py's SSERegistry.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const keepaliveInterval = 15 * time.Second

// Bus is a mutex-protected registry of SSE clients.
type Bus struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type client struct {
	w http.ResponseWriter
	f http.Flusher
}

// New creates an empty Bus. Call Start to begin the keepalive loop.
func New() *Bus {
	return &Bus{
		clients: make(map[*client]struct{}),
		stop:    make(chan struct{}),
	}
}

// Start begins the 15s keepalive loop. Safe to call once.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.keepaliveLoop()
}

// Stop halts the keepalive loop and closes every connected client by
// unregistering them; the actual HTTP connections close when their
// handler goroutines return (signaled via each client's request context,
// which callers are expected to watch — see Register).
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
}

// ClientCount returns the number of currently connected SSE clients.
func (b *Bus) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Register writes SSE headers then blocks until the request context is
// canceled (client disconnect) or the bus is stopped, broadcasting frames
// to this writer in the meantime. It never returns a value for the caller
// to write further — in net/http terms, this handler call IS the sentinel
// the original server.py needed a return-value trick for.
func (b *Bus) Register(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("eventbus: response writer does not support flushing")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &client{w: w, f: flusher}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
	case <-r.Context().Done():
	case <-b.stop:
	}
	return nil
}

// Broadcast serializes payload as JSON and sends one
// "event: notification\ndata: <json>\n\n" frame to every connected client.
// Clients whose write fails are dropped silently.
func (b *Bus) Broadcast(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload: %w", err)
	}
	frame := []byte(fmt.Sprintf("event: notification\ndata: %s\n\n", data))
	b.writeToAll(frame)
	return nil
}

func (b *Bus) writeToAll(frame []byte) {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	var dead []*client
	for _, c := range targets {
		if _, err := c.w.Write(frame); err != nil {
			dead = append(dead, c)
			continue
		}
		c.f.Flush()
	}
	if len(dead) == 0 {
		return
	}
	b.mu.Lock()
	for _, c := range dead {
		delete(b.clients, c)
	}
	b.mu.Unlock()
}

func (b *Bus) keepaliveLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.writeToAll([]byte(": keepalive\n\n"))
		case <-b.stop:
			return
		}
	}
}
