package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/auth"
	"github.com/mahaj/livechat/pkg/docstore"
	"github.com/mahaj/livechat/pkg/metrics"
	"github.com/mahaj/livechat/pkg/model"
	"github.com/mahaj/livechat/pkg/snowflake"
	"github.com/mahaj/livechat/pkg/wire"
)

// Publisher durably accepts a message. Once Publish returns nil the message
// will eventually reach the collection and the persistent store.
type Publisher interface {
	Publish(ctx context.Context, m model.Message) error
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

type outbound struct {
	client  *Client
	payload []byte
}

// Hub owns the set of connected clients. Every write into a client's send
// queue happens on the Run goroutine, which is also the only place a send
// queue gets closed.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	changed    chan []model.Message
	replies    chan outbound
	done       chan struct{}

	collection     *docstore.Collection
	publisher      Publisher
	tokens         TokenVerifier
	ids            *snowflake.Node
	publishTimeout time.Duration
	logger         *zap.Logger
}

func NewHub(collection *docstore.Collection, publisher Publisher, tokens TokenVerifier, ids *snowflake.Node, publishTimeout time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		changed:        make(chan []model.Message),
		replies:        make(chan outbound),
		done:           make(chan struct{}),
		collection:     collection,
		publisher:      publisher,
		tokens:         tokens,
		ids:            ids,
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	unwatch := h.collection.Watch(func(snapshot []model.Message) {
		select {
		case h.changed <- snapshot:
		case <-h.done:
		}
	})
	defer unwatch()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.logger.Info("hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.WebSocketConnections.Inc()
			h.logger.Info("client registered", zap.String("conn_id", client.ID), zap.String("remote", client.Remote))

			payload, err := wire.Encode(wire.Snapshot(h.collection.Name(), h.collection.Snapshot()))
			if err != nil {
				h.logger.Error("failed to encode snapshot", zap.Error(err))
				continue
			}
			h.trySend(client, payload)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("client unregistered", zap.String("conn_id", client.ID))
			}

		case snapshot := <-h.changed:
			payload, err := wire.Encode(wire.Snapshot(h.collection.Name(), snapshot))
			if err != nil {
				h.logger.Error("failed to encode snapshot", zap.Error(err))
				continue
			}
			for client := range h.clients {
				h.trySend(client, payload)
			}
			metrics.SnapshotsBroadcast.Inc()
			h.logger.Debug("snapshot broadcast", zap.Int("documents", len(snapshot)), zap.Int("clients", len(h.clients)))

		case out := <-h.replies:
			if _, ok := h.clients[out.client]; ok {
				h.trySend(out.client, out.payload)
			}
		}
	}
}

func (h *Hub) trySend(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.drop(client)
		metrics.SlowClientsDropped.Inc()
		h.logger.Warn("send queue full, dropping client", zap.String("conn_id", client.ID))
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	metrics.WebSocketConnections.Dec()
}

// Register hands client to the hub. It returns false when the hub is gone.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// HandleFrame processes one inbound frame from client and queues the reply.
func (h *Hub) HandleFrame(client *Client, data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		h.reply(client, wire.Error("", wire.CodeInvalid, "malformed frame"))
		return
	}

	switch f.Type {
	case wire.TypeAppend:
		h.reply(client, h.append(f))
	default:
		h.reply(client, wire.Error(f.RequestID, wire.CodeInvalid, fmt.Sprintf("unsupported frame type %q", f.Type)))
	}
}

func (h *Hub) append(f wire.Frame) wire.Frame {
	ctx, cancel := context.WithTimeout(context.Background(), h.publishTimeout)
	defer cancel()

	if f.Append == nil {
		metrics.AppendsTotal.WithLabelValues("invalid").Inc()
		return wire.Error(f.RequestID, wire.CodeInvalid, "append frame carries no message")
	}
	if f.Collection != "" && f.Collection != h.collection.Name() {
		metrics.AppendsTotal.WithLabelValues("invalid").Inc()
		return wire.Error(f.RequestID, wire.CodeInvalid, fmt.Sprintf("unknown collection %q", f.Collection))
	}

	claims, err := h.tokens.Verify(ctx, f.Token)
	if err != nil {
		metrics.AppendsTotal.WithLabelValues("unauthenticated").Inc()
		if auth.IsRejected(err) {
			return wire.Error(f.RequestID, wire.CodeUnauthenticated, err.Error())
		}
		h.logger.Error("token verification failed", zap.Error(err))
		return wire.Error(f.RequestID, wire.CodeUnavailable, "cannot verify token")
	}

	if f.Append.UID != claims.UserID {
		metrics.AppendsTotal.WithLabelValues("denied").Inc()
		return wire.Error(f.RequestID, wire.CodePermissionDenied, "uid does not match the signed-in user")
	}

	id := h.ids.Generate()
	msg := model.Message{
		ID:        id,
		Text:      f.Append.Text,
		UID:       f.Append.UID,
		URI:       f.Append.URI,
		CreatedAt: snowflake.Time(id),
	}

	if err := h.publisher.Publish(ctx, msg); err != nil {
		metrics.AppendsTotal.WithLabelValues("unavailable").Inc()
		h.logger.Error("failed to publish message", zap.Int64("id", id), zap.Error(err))
		return wire.Error(f.RequestID, wire.CodeUnavailable, "message store unavailable")
	}

	metrics.AppendsTotal.WithLabelValues("ok").Inc()
	h.logger.Debug("message accepted", zap.Int64("id", id), zap.String("uid", msg.UID))
	return wire.Ack(f.RequestID, id)
}

func (h *Hub) reply(client *Client, f wire.Frame) {
	payload, err := wire.Encode(f)
	if err != nil {
		h.logger.Error("failed to encode reply", zap.Error(err))
		return
	}
	select {
	case h.replies <- outbound{client: client, payload: payload}:
	case <-h.done:
	}
}
