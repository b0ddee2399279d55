// Package gateway serves the risk dashboard: REST endpoints over the risk
// service and a websocket push of every report and spot quote.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/metrics"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// Channel names pushed to websocket clients.
const (
	ChannelRisk   = "risk"
	ChannelSpot   = "spot"
	ChannelStatus = "status"
)

// Hub manages websocket clients and fans every published message out to them.
// It keeps the latest payload per channel for replay on connect, and a
// per-channel replay buffer for gap backfill.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer
	replayCap  int

	// PushLatency tracks report timestamp to websocket fan-out.
	PushLatency *LatencyWindow

	metrics     *metrics.Metrics
	broadcaster *Broadcaster
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq
}

// NewHub creates a Hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replayCap:   200,
		PushLatency: NewLatencyWindow(2000),
		metrics:     m,
	}
	h.broadcaster = NewBroadcaster(h)
	return h
}

// PublishReport pushes a risk report on ChannelRisk.
func (h *Hub) PublishReport(r model.RiskReport) {
	h.broadcaster.Broadcast(ChannelRisk, r.JSON())
	if !r.At.IsZero() {
		h.PushLatency.Observe(time.Since(r.At))
	}
}

// PublishQuote pushes a spot quote on ChannelSpot.
func (h *Hub) PublishQuote(q model.SpotQuote) {
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	h.broadcaster.Broadcast(ChannelSpot, data)
}

// RunQuotes pushes every quote from ch until ctx is cancelled or ch closes.
func (h *Hub) RunQuotes(ctx context.Context, ch <-chan model.SpotQuote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-ch:
			if !ok {
				return
			}
			h.PublishQuote(q)
		}
	}
}

// HandleWSRequest registers an upgraded connection. Clients that pass lastTS
// only get the latest payloads newer than it.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := newClient(h, conn)

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.setClientGauge(count)

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS, nil)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.setClientGauge(count)
}

func (h *Hub) setClientGauge(n int) {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// GetReplayOldest returns the lowest seq still buffered for a channel, or 0
// when nothing is buffered.
func (h *Hub) GetReplayOldest(channel string) int64 {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return 0
	}
	return rb.Oldest()
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartStatusBroadcast pushes process stats on ChannelStatus every interval.
// Blocks until ctx is cancelled.
func (h *Hub) StartStatusBroadcast(ctx context.Context, start time.Time, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := CollectStatus(start)
			st.WSClients = h.ClientCount()
			st.PushLatency = h.PushLatency.Summary()
			data, err := json.Marshal(st)
			if err != nil {
				continue
			}
			h.broadcaster.Broadcast(ChannelStatus, data)
		}
	}
}
