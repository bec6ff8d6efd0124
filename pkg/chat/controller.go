// Package chat holds the view-state controller: it joins the auth-state stream
// and the ordered message stream into one state and renders it.
package chat

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/model"
	"github.com/mahaj/livechat/pkg/view"
)

const (
	defaultAppendTimeout = 10 * time.Second
	eventQueueSize       = 64
)

type AuthState interface {
	Subscribe(fn func(*model.Principal)) func()
	SignIn(ctx context.Context)
	SignOut(ctx context.Context)
}

type MessageFeed interface {
	SubscribeOrdered(fn func([]model.Message)) func()
	Append(ctx context.Context, m model.NewMessage) error
}

// Renderer draws screens. All calls come from the controller's loop
// goroutine, one at a time. A renderer must not wait on a goroutine that calls
// the controller's actions, or both stall once the event queue fills.
type Renderer interface {
	Render(s view.Screen)
	ScrollToEnd()
	Alert(err error)
}

type State struct {
	Principal *model.Principal
	Draft     string
	Messages  []model.Message
}

type Option func(*Controller)

// WithDraftRestoreOnFailure puts the text of a failed append back into the
// composer, unless something new has been typed since.
func WithDraftRestoreOnFailure() Option {
	return func(c *Controller) { c.restoreDraft = true }
}

func WithAppendTimeout(d time.Duration) Option {
	return func(c *Controller) { c.appendTimeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller serializes every state change on one goroutine. Adapter
// callbacks and user actions only enqueue work for it.
type Controller struct {
	auth     AuthState
	feed     MessageFeed
	renderer Renderer
	logger   *zap.Logger

	restoreDraft  bool
	appendTimeout time.Duration

	events chan func()
	done   chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	started bool
	stopped bool
	unsubs  []func()

	// owned by the loop goroutine while it runs
	state State
}

func New(auth AuthState, feed MessageFeed, renderer Renderer, opts ...Option) *Controller {
	c := &Controller{
		auth:          auth,
		feed:          feed,
		renderer:      renderer,
		logger:        zap.NewNop(),
		appendTimeout: defaultAppendTimeout,
		events:        make(chan func(), eventQueueSize),
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate renders the initial screen and subscribes to both streams. A
// controller is activated at most once.
func (c *Controller) Activate(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	go c.loop()

	c.enqueue(c.render)

	unsubAuth := c.auth.Subscribe(func(p *model.Principal) {
		c.enqueue(func() {
			c.state.Principal = p
			c.render()
		})
	})
	unsubFeed := c.feed.SubscribeOrdered(func(msgs []model.Message) {
		c.enqueue(func() {
			c.state.Messages = msgs
			c.render()
			c.renderer.ScrollToEnd()
		})
	})

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubAuth, unsubFeed)
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		unsubAuth()
		unsubFeed()
	}
	c.logger.Debug("controller activated")
}

// Deactivate unsubscribes from both streams and stops the loop. Once it
// returns the renderer is not called again and the state no longer changes.
// Appends already in flight still complete but their results are dropped.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}

	close(c.done)
	if started {
		<-c.exited
	}
	c.logger.Debug("controller deactivated")
}

func (c *Controller) SetDraft(text string) {
	c.enqueue(func() {
		if c.state.Draft == text {
			return
		}
		c.state.Draft = text
		c.render()
	})
}

// SubmitDraft sends the draft as the signed-in principal. The draft is cleared
// before the append is issued. A failed append raises an alert.
func (c *Controller) SubmitDraft() {
	c.enqueue(func() {
		p := c.state.Principal
		if p == nil {
			c.logger.Debug("submit ignored: no principal")
			return
		}

		text := c.state.Draft
		c.state.Draft = ""
		c.render()

		m := model.NewMessage{Text: text, UID: p.UID, URI: p.PhotoURL}
		go c.append(m)
	})
}

func (c *Controller) append(m model.NewMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.appendTimeout)
	defer cancel()

	err := c.feed.Append(ctx, m)
	if err != nil {
		c.logger.Warn("append failed", zap.String("uid", m.UID), zap.Error(err))
	}

	c.enqueue(func() {
		if err != nil {
			c.renderer.Alert(err)
			if c.restoreDraft && c.state.Draft == "" {
				c.state.Draft = m.Text
				c.render()
			}
			return
		}
		c.renderer.ScrollToEnd()
	})
}

func (c *Controller) SignIn() {
	if ctx, ok := c.activeContext(); ok {
		go c.auth.SignIn(ctx)
	}
}

func (c *Controller) SignOut() {
	if ctx, ok := c.activeContext(); ok {
		go c.auth.SignOut(ctx)
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started {
		reply := make(chan State, 1)
		if c.enqueue(func() { reply <- c.snapshot() }) {
			select {
			case s := <-reply:
				return s
			case <-c.exited:
			}
		}
		<-c.exited
	}
	return c.snapshot()
}

func (c *Controller) snapshot() State {
	s := c.state
	if s.Principal != nil {
		p := *s.Principal
		s.Principal = &p
	}
	s.Messages = slices.Clone(s.Messages)
	return s
}

func (c *Controller) render() {
	c.renderer.Render(view.Render(c.state.Principal, c.state.Draft, c.state.Messages))
}

func (c *Controller) activeContext() (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx, c.started && !c.stopped
}

func (c *Controller) enqueue(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) loop() {
	defer close(c.exited)
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.events:
			select {
			case <-c.done:
				return
			default:
			}
			fn()
		}
	}
}
