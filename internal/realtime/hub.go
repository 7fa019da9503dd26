// Package realtime fans pipeline progress out to connected browsers over
// Server-Sent Events. Events are addressed to channels ("user:<id>",
// "batch:<id>"); a Hub delivers them to local subscribers and a RedisBus
// carries them between the worker and API processes.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType names what changed.
type EventType string

const (
	EventJobUpdated   EventType = "job.updated"
	EventOrderUpdated EventType = "order.updated"
	EventClipUpdated  EventType = "clip.updated"
	EventVideoUpdated EventType = "video.updated"
	EventBatchUpdated EventType = "batch.updated"
)

// Event is one message on a channel.
type Event struct {
	Channel string    `json:"channel"`
	Type    EventType `json:"type"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

// UserChannel is the channel every request of a user is published on.
func UserChannel(userID string) string { return "user:" + userID }

// BatchChannel carries clip progress for one batch.
func BatchChannel(batchID string) string { return "batch:" + batchID }

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Client is one SSE connection.
type Client struct {
	ID       string
	UserID   string
	channels map[string]bool
	outbound chan Event
	done     chan struct{}
	once     sync.Once
}

// Hub keeps channel subscriptions for the connections of this process.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*Client]bool
	heartbeat     time.Duration
	log           zerolog.Logger
}

// NewHub returns an empty hub with a 15s heartbeat.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     15 * time.Second,
		log:           log.With().Str("component", "realtime.hub").Logger(),
	}
}

// NewClient registers nothing; call Subscribe to attach channels.
func (h *Hub) NewClient(userID string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		channels: make(map[string]bool),
		outbound: make(chan Event, 32),
		done:     make(chan struct{}),
	}
}

// Subscribe attaches c to channels. Blank names are ignored.
func (h *Hub) Subscribe(c *Client, channels ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		c.channels[ch] = true
		subs, ok := h.subscriptions[ch]
		if !ok {
			subs = make(map[*Client]bool)
			h.subscriptions[ch] = subs
		}
		subs[c] = true
		h.log.Debug().Str("client", c.ID).Str("channel", ch).Msg("sse subscribed")
	}
}

// Unsubscribe detaches c from one channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(c, strings.TrimSpace(channel))
}

func (h *Hub) detach(c *Client, ch string) {
	delete(c.channels, ch)
	if subs, ok := h.subscriptions[ch]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, ch)
		}
	}
}

// Subscribers reports how many clients listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[channel])
}

// Broadcast delivers ev to every subscriber of its channel. Slow clients
// whose buffer is full miss the event.
func (h *Hub) Broadcast(ev Event) {
	if ev.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[ev.Channel] {
		select {
		case c.outbound <- ev:
		default:
			h.log.Warn().Str("client", c.ID).Str("channel", ev.Channel).Msg("sse buffer full; dropping event")
		}
	}
}

// Publish implements Publisher for in-process delivery.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.Broadcast(ev)
	return nil
}

// Close detaches c from all channels and stops its stream.
func (h *Hub) Close(c *Client) {
	c.once.Do(func() {
		h.mu.Lock()
		for ch := range c.channels {
			h.detach(c, ch)
		}
		h.mu.Unlock()
		close(c.done)
	})
}

// ServeHTTP streams c's events until the request ends or c is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, c *Client) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, ": connected %s\n\n", c.ID)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-c.outbound:
			raw, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn().Err(err).Msg("sse marshal failed")
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, raw)
			flusher.Flush()
		}
	}
}
