package hub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Hub fans change events out to websocket clients. Subscriptions are tracked
// per change channel (changes.<table>.<key>) and each channel is subscribed
// upstream once, however many clients watch it.
type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	store    repository.ChangeStore
	logger   *zap.Logger
	mu       sync.RWMutex
	refCount map[string]int
}

func NewHub(store repository.ChangeStore, logger *zap.Logger) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		store:       store,
		logger:      logger,
		refCount:    make(map[string]int),
	}

	go h.store.RunPubSub(context.Background(), h.Broadcast)

	return h
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req, validTickers)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

// channels maps the request keys to change channels. Price keys missing from
// validTickers are dropped; a nil whitelist accepts every key.
func channels(p protocol.RequestPayload, validTickers map[string]bool) (map[string]string, error) {
	table := p.Table
	if table == "" {
		table = models.TablePrices
	}
	if !protocol.Tables[table] {
		return nil, fmt.Errorf("Unknown table: %s", table)
	}

	out := make(map[string]string, len(p.Keys))
	for _, k := range p.Keys {
		if k == "" {
			continue
		}
		if table == models.TablePrices && validTickers != nil && !validTickers[k] {
			continue
		}
		out[k] = models.ChangeChannel(table, k)
	}
	return out, nil
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	wanted, err := channels(req.Payload, validTickers)
	if err != nil {
		h.sendError(client, req.ID, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var valid []string
	for _, key := range req.Payload.Keys {
		ch, ok := wanted[key]
		if !ok {
			continue
		}
		// Idempotency: Ignore if already subscribed
		if h.clientSubs[client] != nil && h.clientSubs[client][ch] {
			continue
		}
		delete(wanted, key)
		valid = append(valid, key)

		if h.clientSubs[client] == nil {
			h.clientSubs[client] = make(map[string]bool)
		}
		h.clientSubs[client][ch] = true
		if h.subscribers[ch] == nil {
			h.subscribers[ch] = make(map[ClientInterface]bool)
		}
		h.subscribers[ch][client] = true

		// Manage upstream subscription (Ref counting)
		h.refCount[ch]++
		if h.refCount[ch] == 1 {
			if err := h.store.SubscribeToFeed(context.Background(), ch); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("channel", ch), zap.Error(err))
			}
		}
	}

	if len(valid) == 0 {
		h.sendError(client, req.ID, "No valid/new keys provided")
		return
	}

	h.sendAck(client, req.ID, "success", fmt.Sprintf("Subscribed to %v", valid))
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	wanted, err := channels(req.Payload, nil)
	if err != nil {
		h.sendError(client, req.ID, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, key := range req.Payload.Keys {
			ch, ok := wanted[key]
			if ok && subs[ch] {
				delete(subs, ch)
				delete(h.subscribers[ch], client)
				removed = append(removed, key)
				h.decreaseRefCount(ch)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Keys))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for ch := range subs {
			delete(h.subscribers[ch], client)
			h.decreaseRefCount(ch)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all keys")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for ch := range subs {
			delete(h.subscribers[ch], client)
			h.decreaseRefCount(ch)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

// Broadcast delivers a raw change payload received on channel to its subscribers.
func (h *Hub) Broadcast(channel string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.subscribers[channel]; ok && len(clients) > 0 {
		msgBytes := protocol.ChangeFrame(payload)
		for client := range clients {
			client.SendBytes(msgBytes)
		}
	}
}

// Subscriptions reports how many clients are subscribed to channel.
func (h *Hub) Subscriptions(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}

func (h *Hub) decreaseRefCount(channel string) {
	h.refCount[channel]--
	if h.refCount[channel] <= 0 {
		if err := h.store.UnsubscribeFromFeed(context.Background(), channel); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("channel", channel), zap.Error(err))
		}
		delete(h.refCount, channel)
		delete(h.subscribers, channel)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Message: msg})
}
