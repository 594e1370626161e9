package api

import (
	"context"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/message"
	"github.com/abcfe/abcfe-wallet/transport"
)

// a client that cannot take a broadcast within this window is dropped
const broadcastWait = time.Second

// Hub tracks connected UI channels and fans broadcasts out to all of them
// in emission order.
type Hub struct {
	clients    map[transport.Channel]bool
	broadcast  chan *message.Envelope
	register   chan transport.Channel
	unregister chan transport.Channel
	mu         sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[transport.Channel]bool),
		broadcast:  make(chan *message.Envelope, 64),
		register:   make(chan transport.Channel),
		unregister: make(chan transport.Channel),
		stopCh:     make(chan struct{}),
	}
}

// Run runs the Hub
func (h *Hub) Run() {
	for {
		select {
		case ch := <-h.register:
			h.mu.Lock()
			h.clients[ch] = true
			n := len(h.clients)
			h.mu.Unlock()
			logger.Debug("UI channel connected. Total: ", n)

		case ch := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, ch)
			n := len(h.clients)
			h.mu.Unlock()
			logger.Debug("UI channel disconnected. Total: ", n)

		case env := <-h.broadcast:
			h.mu.RLock()
			clients := make([]transport.Channel, 0, len(h.clients))
			for ch := range h.clients {
				clients = append(clients, ch)
			}
			h.mu.RUnlock()

			for _, ch := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), broadcastWait)
				err := ch.Send(ctx, env)
				cancel()
				if err != nil {
					logger.Warn("dropping slow UI channel: ", err)
					h.mu.Lock()
					delete(h.clients, ch)
					h.mu.Unlock()
					ch.Close()
				}
			}

		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Hub) Register(ch transport.Channel) {
	select {
	case h.register <- ch:
	case <-h.stopCh:
	}
}

func (h *Hub) Unregister(ch transport.Channel) {
	select {
	case h.unregister <- ch:
	case <-h.stopCh:
	}
}

// Broadcast queues env for every connected channel.
func (h *Hub) Broadcast(env *message.Envelope) {
	select {
	case h.broadcast <- env:
	case <-h.stopCh:
	}
}

// BroadcastPayload builds and queues a background broadcast.
func (h *Hub) BroadcastPayload(t message.Type, payload interface{}) {
	env, err := message.NewBroadcast(t, message.OriginBackground, payload)
	if err != nil {
		logger.Error("Failed to build ", t, " broadcast: ", err)
		return
	}
	h.Broadcast(env)
}

// GetClientCount returns connected client count
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
