// Package messages is the client side of the live-query websocket: an ordered
// snapshot subscription plus authenticated appends.
package messages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/model"
	"github.com/mahaj/livechat/pkg/wire"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

var (
	ErrClosed = errors.New("message store closed")
	newline   = []byte{'\n'}
)

// AppendError is a rejection reported by the gateway.
type AppendError struct {
	Code    string
	Message string
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append rejected (%s): %s", e.Code, e.Message)
}

// TokenSource supplies the bearer token attached to every append.
type TokenSource interface {
	Token() string
}

type Option func(*Store)

func WithCollection(name string) Option {
	return func(s *Store) { s.collection = name }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is a live connection to one collection.
type Store struct {
	conn       *websocket.Conn
	collection string
	tokens     TokenSource
	logger     *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	deliverMu sync.Mutex // one snapshot delivery at a time

	mu       sync.Mutex
	snapshot []model.Message
	cached   bool
	subs     []*Subscription
	pending  map[string]chan wire.Frame
}

// Dial connects to the gateway websocket at url.
func Dial(ctx context.Context, url string, tokens TokenSource, opts ...Option) (*Store, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := newStore(conn, tokens, opts...)
	s.logger.Info("connected to gateway", zap.String("url", url), zap.String("collection", s.collection))
	return s, nil
}

func newStore(conn *websocket.Conn, tokens TokenSource, opts ...Option) *Store {
	s := &Store{
		conn:       conn,
		collection: model.DefaultCollection,
		tokens:     tokens,
		logger:     zap.NewNop(),
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		pending:    make(map[string]chan wire.Frame),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.readLoop()
	go s.writeLoop()
	return s
}

// Append writes m to the collection. It returns once the gateway has accepted
// the message, or with the gateway's rejection as an *AppendError.
func (s *Store) Append(ctx context.Context, m model.NewMessage) error {
	requestID := uuid.NewString()
	payload, err := wire.Encode(wire.Frame{
		Type:       wire.TypeAppend,
		Collection: s.collection,
		RequestID:  requestID,
		Token:      s.tokens.Token(),
		Append:     &m,
	})
	if err != nil {
		return err
	}

	reply := make(chan wire.Frame, 1)
	s.mu.Lock()
	s.pending[requestID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
	}()

	select {
	case s.send <- payload:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case f := <-reply:
		if f.Type == wire.TypeError {
			return &AppendError{Code: f.Code, Message: f.Error}
		}
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeOrdered registers fn for ordered snapshots of the collection and
// returns the func that stops it.
func (s *Store) SubscribeOrdered(fn func([]model.Message)) func() {
	return s.Subscribe(fn).Unsubscribe
}

// Subscribe is SubscribeOrdered returning the subscription itself. If a
// snapshot has already arrived fn receives it before Subscribe returns.
func (s *Store) Subscribe(fn func([]model.Message)) *Subscription {
	sub := &Subscription{store: s, fn: fn, state: StatePending}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	snapshot, cached := slices.Clone(s.snapshot), s.cached
	s.mu.Unlock()

	if cached {
		sub.deliver(snapshot)
	}
	return sub
}

// Close drops the connection. Appends still waiting fail with ErrClosed.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

func (s *Store) readLoop() {
	defer s.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error("live query connection lost", zap.Error(err))
			}
			return
		}

		for _, chunk := range bytes.Split(data, newline) {
			if len(bytes.TrimSpace(chunk)) == 0 {
				continue
			}
			f, err := wire.Decode(chunk)
			if err != nil {
				s.logger.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			s.dispatch(f)
		}
	}
}

func (s *Store) dispatch(f wire.Frame) {
	switch f.Type {
	case wire.TypeSnapshot:
		if f.Collection != "" && f.Collection != s.collection {
			return
		}
		s.publish(f.Messages)
	case wire.TypeAck, wire.TypeError:
		s.mu.Lock()
		reply, ok := s.pending[f.RequestID]
		s.mu.Unlock()
		if !ok {
			if f.Type == wire.TypeError {
				s.logger.Warn("gateway error", zap.String("code", f.Code), zap.String("error", f.Error))
			}
			return
		}
		select {
		case reply <- f:
		default:
		}
	default:
		s.logger.Warn("unknown frame type", zap.String("type", string(f.Type)))
	}
}

func (s *Store) publish(snapshot []model.Message) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.snapshot = snapshot
	s.cached = true
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(slices.Clone(snapshot))
	}
}

func (s *Store) writeLoop() {
	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Error("write failed", zap.Error(err))
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Store) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.subs {
		if other == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}
