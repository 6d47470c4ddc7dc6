package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/infrastructure/logging"
)

// Hub fans robot events out to WebSocket peers.
//
// A peer subscribes to a whole channel ("device.sample"), to one topic in
// a channel ("device.sample/spark_max/4"), or to every channel ("*").
// Events for a peer whose outbound buffer is full are dropped and counted.
type Hub struct {
	logger *logging.Logger

	mu       sync.RWMutex
	peers    map[*wsPeer]struct{}
	snapshot func() any

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		peers:  make(map[*wsPeer]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every peer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*wsPeer]struct{})
	h.mu.Unlock()

	for p := range peers {
		p.close()
	}
}

func (h *Hub) add(p *wsPeer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Debug("websocket peer connected", "peers", n)
}

func (h *Hub) remove(p *wsPeer) {
	h.mu.Lock()
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	p.close()
	h.logger.Debug("websocket peer disconnected", "peers", n)
}

// SetSnapshot sets the function answering snapshot requests.
func (h *Hub) SetSnapshot(fn func() any) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

func (h *Hub) snapshotFunc() func() any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Dropped returns how many events were discarded for slow peers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Broadcast delivers payload as an event on channel to every interested
// peer. topic narrows the event within the channel; it may be empty.
// Event sequence numbers increase across all channels, so a peer watching
// several channels can spot drops.
func (h *Hub) Broadcast(channel, topic string, payload any) {
	h.mu.RLock()
	targets := make([]*wsPeer, 0, len(h.peers))
	for p := range h.peers {
		if p.wants(channel, topic) {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:    WSTypeEvent,
		Channel: channel,
		Seq:     h.seq.Add(1),
		Time:    time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		h.logger.Error("websocket event encode failed", "channel", channel, "error", err)
		return
	}

	for _, p := range targets {
		if !p.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}
