// Package identity adapts the identity service into an auth-state stream.
package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/model"
)

// ErrCancelled is returned by a Prompter when the user dismisses the prompt.
var ErrCancelled = errors.New("sign-in cancelled")

// Prompter asks the user for credentials, typically in a modal form.
type Prompter interface {
	PromptCredentials(ctx context.Context) (Credentials, error)
}

type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (LoginResponse, error)
	Logout(ctx context.Context, token string) error
}

type Option func(*Provider)

// WithSignInErrorHandler installs fn as the sink for sign-in failures,
// cancellation included. By default failures are only logged.
func WithSignInErrorHandler(fn func(error)) Option {
	return func(p *Provider) { p.onSignInError = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

type listener struct {
	fn     func(*model.Principal)
	active atomic.Bool
}

// Provider holds the signed-in principal and its bearer token. Listeners are
// called with a nil principal when nobody is signed in.
//
// Listeners run on the goroutine that caused the change and must not call
// SignIn or SignOut themselves.
type Provider struct {
	auth     Authenticator
	prompter Prompter

	emitMu sync.Mutex // serializes deliveries

	mu        sync.Mutex
	principal *model.Principal
	token     string
	listeners []*listener

	onSignInError func(error)
	logger        *zap.Logger
}

func NewProvider(auth Authenticator, prompter Prompter, opts ...Option) *Provider {
	p := &Provider{auth: auth, prompter: prompter, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.onSignInError == nil {
		p.onSignInError = func(err error) {
			p.logger.Debug("sign-in failed", zap.Error(err))
		}
	}
	return p
}

// SignIn prompts for credentials and exchanges them for a token. Failures
// leave the current state untouched and go to the sign-in error handler.
func (p *Provider) SignIn(ctx context.Context) {
	creds, err := p.prompter.PromptCredentials(ctx)
	if err != nil {
		p.onSignInError(err)
		return
	}

	resp, err := p.auth.Login(ctx, creds)
	if err != nil {
		p.onSignInError(err)
		return
	}

	principal := resp.Principal
	p.logger.Info("signed in", zap.String("uid", principal.UID))
	p.set(&principal, resp.Token)
}

// SignOut revokes the current token on a best-effort basis and clears the
// principal.
func (p *Provider) SignOut(ctx context.Context) {
	p.mu.Lock()
	token, signedIn := p.token, p.principal != nil
	p.mu.Unlock()

	if !signedIn {
		return
	}

	if err := p.auth.Logout(ctx, token); err != nil {
		p.logger.Warn("token revocation failed", zap.Error(err))
	}
	p.set(nil, "")
	p.logger.Info("signed out")
}

// Subscribe calls fn with the current principal right away and again on every
// change. The returned func stops delivery and may be called more than once.
func (p *Provider) Subscribe(fn func(*model.Principal)) func() {
	l := &listener{fn: fn}
	l.active.Store(true)

	p.emitMu.Lock()
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	current := clonePrincipal(p.principal)
	p.mu.Unlock()
	fn(current)
	p.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, other := range p.listeners {
				if other == l {
					p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// Token returns the bearer token of the signed-in principal, or "".
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *Provider) Current() *model.Principal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clonePrincipal(p.principal)
}

func (p *Provider) set(principal *model.Principal, token string) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.principal = principal
	p.token = token
	listeners := make([]*listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, l := range listeners {
		if l.active.Load() {
			l.fn(clonePrincipal(principal))
		}
	}
}

func clonePrincipal(p *model.Principal) *model.Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
