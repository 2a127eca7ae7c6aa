// Package stream fans exercise session events out to websocket clients. When a
// Redis client is configured, events are relayed through Redis pub/sub so that
// every replica serving the same session sees them.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "squat:"
	channelSuffix = ":events"
	sendBuffer    = 64

	relayBuffer    = 256
	publishTimeout = 2 * time.Second
)

// Client is one subscriber of a session's events.
type Client struct {
	SessionID string
	Send      chan []byte
}

// Hub tracks subscribers per session.
type Hub struct {
	redis  *redis.Client
	origin string
	log    *slog.Logger
	relay  chan relayMessage

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

type relayMessage struct {
	sessionID string
	msg       []byte
}

// envelope wraps relayed payloads so a replica can skip its own messages.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// NewHub creates a hub. redisClient may be nil for a single-process setup.
func NewHub(redisClient *redis.Client, log *slog.Logger) *Hub {
	return &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		log:     log,
		relay:   make(chan relayMessage, relayBuffer),
		clients: map[string]map[*Client]struct{}{},
	}
}

// Run relays events between this replica and the others until ctx is done:
// it publishes queued local broadcasts and delivers events published
// elsewhere. It returns immediately when no Redis client is configured.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.publishLoop(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to session events: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warn("dropping malformed relay message", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			h.deliver(sessionIDFromChannel(msg.Channel), env.Payload)
		}
	}
}

// publishLoop sends queued broadcasts to Redis. Each publish is bounded by
// publishTimeout so a stalled Redis only delays the relay, never the caller.
func (h *Hub) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.relay:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := h.redis.Publish(pctx, redisChannel(m.sessionID), m.msg).Err()
			cancel()
			if err != nil {
				h.log.Warn("redis publish failed", "session", m.sessionID, "error", err)
			}
		}
	}
}

// Register subscribes a new client to a session.
func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sessionClients[client]; !ok {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
}

// Subscribers returns the number of local clients watching a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Broadcast delivers payload to local clients of the session and queues it
// for relay to other replicas. It never waits on the network: slow clients
// miss messages and a full relay queue drops the relay copy.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.deliver(sessionID, payload)

	if h.redis == nil {
		return
	}
	msg, err := json.Marshal(envelope{Origin: h.origin, Payload: payload})
	if err != nil {
		h.log.Error("encoding relay message", "session", sessionID, "error", err)
		return
	}
	select {
	case h.relay <- relayMessage{sessionID: sessionID, msg: msg}:
	default:
		h.log.Warn("relay queue full, dropping event", "session", sessionID)
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(sessionID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	h.Broadcast(sessionID, payload)
	return nil
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
