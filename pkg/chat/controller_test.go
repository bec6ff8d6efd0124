package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/livechat/pkg/model"
	"github.com/mahaj/livechat/pkg/view"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fakeAuth struct {
	mu        sync.Mutex
	listeners map[int]func(*model.Principal)
	next      int
	current   *model.Principal
	signIns   int
	signOuts  int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]func(*model.Principal))}
}

func (a *fakeAuth) Subscribe(fn func(*model.Principal)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.listeners[id] = fn
	current := a.current
	a.mu.Unlock()

	fn(current)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *fakeAuth) emit(p *model.Principal) {
	a.mu.Lock()
	a.current = p
	listeners := lo.Values(a.listeners)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(p)
	}
}

func (a *fakeAuth) subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *fakeAuth) SignIn(context.Context) {
	a.mu.Lock()
	a.signIns++
	a.mu.Unlock()
	a.emit(&model.Principal{UID: "u1", PhotoURL: "a1"})
}

func (a *fakeAuth) SignOut(context.Context) {
	a.mu.Lock()
	a.signOuts++
	a.mu.Unlock()
	a.emit(nil)
}

type appendCall struct {
	msg    model.NewMessage
	result chan error
}

type fakeFeed struct {
	mu         sync.Mutex
	listener   func([]model.Message)
	subscribes int
	calls      []appendCall
}

func (f *fakeFeed) SubscribeOrdered(fn func([]model.Message)) func() {
	f.mu.Lock()
	f.listener = fn
	f.subscribes++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listener = nil
	}
}

func (f *fakeFeed) Append(ctx context.Context, m model.NewMessage) error {
	call := appendCall{msg: m, result: make(chan error, 1)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	select {
	case err := <-call.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeFeed) emit(msgs []model.Message) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	if fn != nil {
		fn(msgs)
	}
}

func (f *fakeFeed) appendCalls() []appendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appendCall(nil), f.calls...)
}

func (f *fakeFeed) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener != nil
}

type recordingRenderer struct {
	mu      sync.Mutex
	screens []view.Screen
	scrolls int
	alerts  []error
}

func (r *recordingRenderer) Render(s view.Screen) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens = append(r.screens, s)
}

func (r *recordingRenderer) ScrollToEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrolls++
}

func (r *recordingRenderer) Alert(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, err)
}

func (r *recordingRenderer) last() view.Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.screens) == 0 {
		return view.Screen{}
	}
	return r.screens[len(r.screens)-1]
}

func (r *recordingRenderer) counts() (renders, scrolls, alerts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.screens), r.scrolls, len(r.alerts)
}

func (r *recordingRenderer) alertList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.alerts...)
}

type fixture struct {
	auth     *fakeAuth
	feed     *fakeFeed
	renderer *recordingRenderer
	ctrl     *Controller
}

func bootstrap(t *testing.T, opts ...Option) *fixture {
	f := &fixture{auth: newFakeAuth(), feed: &fakeFeed{}, renderer: &recordingRenderer{}}
	f.ctrl = New(f.auth, f.feed, f.renderer, opts...)
	f.ctrl.Activate(context.Background())
	t.Cleanup(f.ctrl.Deactivate)
	return f
}

func (f *fixture) signIn(t *testing.T, p model.Principal) {
	f.auth.emit(&p)
	require.Eventually(t, func() bool {
		s := f.ctrl.State()
		return s.Principal != nil && *s.Principal == p
	}, waitFor, tick)
}

func bubbleTexts(s view.Screen) []string {
	if s.Chat == nil {
		return nil
	}
	return lo.Map(s.Chat.Bubbles, func(b view.Bubble, _ int) string { return b.Text })
}

func TestStartsSignedOutOnLoginScreen(t *testing.T) {
	f := bootstrap(t)

	require.Eventually(t, func() bool { return f.renderer.last().Login != nil }, waitFor, tick)
	s := f.ctrl.State()
	require.Nil(t, s.Principal)
	require.Empty(t, s.Messages)
	require.Empty(t, s.Draft)
}

func TestRenderedListIsLatestSnapshot(t *testing.T) {
	f := bootstrap(t)
	f.signIn(t, model.Principal{UID: "u1", PhotoURL: "a1"})

	snapshots := [][]model.Message{
		{{ID: 1, Text: "a", UID: "u1"}},
		{{ID: 2, Text: "b", UID: "u2"}, {ID: 1, Text: "a", UID: "u1"}},
		{{ID: 1, Text: "a", UID: "u1"}, {ID: 1, Text: "a", UID: "u1"}, {ID: 3, Text: "c", UID: "u2"}},
	}
	for _, snap := range snapshots {
		f.feed.emit(snap)
	}

	latest := snapshots[len(snapshots)-1]
	require.Eventually(t, func() bool {
		return len(bubbleTexts(f.renderer.last())) == len(latest)
	}, waitFor, tick)
	require.Equal(t, []string{"a", "a", "c"}, bubbleTexts(f.renderer.last()))
	require.Equal(t, latest, f.ctrl.State().Messages)

	_, scrolls, _ := f.renderer.counts()
	require.GreaterOrEqual(t, scrolls, len(snapshots))
}

func TestClassificationFollowsPrincipal(t *testing.T) {
	f := bootstrap(t)
	f.signIn(t, model.Principal{UID: "u1", PhotoURL: "a1"})

	f.feed.emit([]model.Message{{ID: 1, Text: "a", UID: "u1"}, {ID: 2, Text: "b", UID: "u2"}})
	require.Eventually(t, func() bool { return len(bubbleTexts(f.renderer.last())) == 2 }, waitFor, tick)

	sides := func() []view.Side {
		return lo.Map(f.renderer.last().Chat.Bubbles, func(b view.Bubble, _ int) view.Side { return b.Side })
	}
	require.Equal(t, []view.Side{view.SideMine, view.SideOther}, sides())

	f.signIn(t, model.Principal{UID: "u2", PhotoURL: "a2"})
	require.Eventually(t, func() bool {
		return f.renderer.last().Chat != nil && f.renderer.last().Chat.Bubbles[0].Side == view.SideOther
	}, waitFor, tick)
	require.Equal(t, []view.Side{view.SideOther, view.SideMine}, sides())
	f.feed.mu.Lock()
	defer f.feed.mu.Unlock()
	require.Equal(t, 1, f.feed.subscribes)
}

func TestSubmitClearsDraftBeforeAppendResolves(t *testing.T) {
	f := bootstrap(t)
	f.signIn(t, model.Principal{UID: "u1", PhotoURL: "a1"})

	f.ctrl.SetDraft("hello")
	require.Eventually(t, func() bool { return f.ctrl.State().Draft == "hello" }, waitFor, tick)

	f.ctrl.SubmitDraft()
	require.Eventually(t, func() bool { return len(f.feed.appendCalls()) == 1 }, waitFor, tick)

	// The append is still pending.
	require.Empty(t, f.ctrl.State().Draft)
	require.Empty(t, f.renderer.last().Chat.Draft)

	calls := f.feed.appendCalls()
	require.Len(t, calls, 1)
	require.Equal(t, model.NewMessage{Text: "hello", UID: "u1", URI: "a1"}, calls[0].msg)

	_, scrollsBefore, _ := f.renderer.counts()
	calls[0].result <- nil
	require.Eventually(t, func() bool {
		_, scrolls, _ := f.renderer.counts()
		return scrolls == scrollsBefore+1
	}, waitFor, tick)
	require.Len(t, f.feed.appendCalls(), 1)
}

func TestAppendFailureAlertsAndKeepsDraftCleared(t *testing.T) {
	f := bootstrap(t)
	f.signIn(t, model.Principal{UID: "u1", PhotoURL: "a1"})
	existing := []model.Message{{ID: 1, Text: "a", UID: "u2"}}
	f.feed.emit(existing)

	f.ctrl.SetDraft("hello")
	f.ctrl.SubmitDraft()
	require.Eventually(t, func() bool { return len(f.feed.appendCalls()) == 1 }, waitFor, tick)

	rejected := errors.New("permission denied")
	f.feed.appendCalls()[0].result <- rejected

	require.Eventually(t, func() bool { return len(f.renderer.alertList()) == 1 }, waitFor, tick)
	require.ErrorIs(t, f.renderer.alertList()[0], rejected)

	s := f.ctrl.State()
	require.Empty(t, s.Draft)
	require.Equal(t, existing, s.Messages)
	require.Equal(t, []string{"a"}, bubbleTexts(f.renderer.last()))
}

func TestAppendFailureRestoresDraftWhenEnabled(t *testing.T) {
	f := bootstrap(t, WithDraftRestoreOnFailure())
	f.signIn(t, model.Principal{UID: "u1", PhotoURL: "a1"})

	f.ctrl.SetDraft("hello")
	f.ctrl.SubmitDraft()
	require.Eventually(t, func() bool { return len(f.feed.appendCalls()) == 1 }, waitFor, tick)
	require.Empty(t, f.ctrl.State().Draft)

	f.feed.appendCalls()[0].result <- errors.New("unavailable")
	require.Eventually(t, func() bool { return f.ctrl.State().Draft == "hello" }, waitFor, tick)
	require.Len(t, f.renderer.alertList(), 1)
}

func TestAppendTimeout(t *testing.T) {
	f := bootstrap(t, WithAppendTimeout(20*time.Millisecond))
	f.signIn(t, model.Principal{UID: "u1"})

	f.ctrl.SetDraft("slow")
	f.ctrl.SubmitDraft()

	require.Eventually(t, func() bool { return len(f.renderer.alertList()) == 1 }, waitFor, tick)
	require.ErrorIs(t, f.renderer.alertList()[0], context.DeadlineExceeded)
}

func TestSubmitWithoutPrincipalIsIgnored(t *testing.T) {
	f := bootstrap(t)

	f.ctrl.SetDraft("hello")
	f.ctrl.SubmitDraft()

	require.Eventually(t, func() bool { return f.ctrl.State().Draft == "hello" }, waitFor, tick)
	require.Empty(t, f.feed.appendCalls())
	require.Nil(t, f.renderer.last().Chat)
}

func TestNoUpdatesAfterDeactivate(t *testing.T) {
	f := bootstrap(t)
	f.signIn(t, model.Principal{UID: "u1", PhotoURL: "a1"})
	for i := 0; i < 5; i++ {
		f.feed.emit([]model.Message{{ID: int64(i), Text: "x", UID: "u2"}})
	}
	f.ctrl.SetDraft("pending")
	f.ctrl.SubmitDraft()
	require.Eventually(t, func() bool { return len(f.feed.appendCalls()) == 1 }, waitFor, tick)

	f.ctrl.Deactivate()
	before := f.ctrl.State()
	renders, scrolls, alerts := f.renderer.counts()

	require.Zero(t, f.auth.subscribers())
	require.False(t, f.feed.subscribed())

	// Late emissions from both streams and a late append result.
	f.auth.emit(&model.Principal{UID: "u9"})
	f.feed.emit([]model.Message{{ID: 99, Text: "late", UID: "u9"}})
	f.feed.appendCalls()[0].result <- errors.New("late failure")
	f.ctrl.SetDraft("ignored")
	f.ctrl.SubmitDraft()
	f.ctrl.SignOut()

	time.Sleep(50 * time.Millisecond)

	r2, s2, a2 := f.renderer.counts()
	require.Equal(t, renders, r2)
	require.Equal(t, scrolls, s2)
	require.Equal(t, alerts, a2)
	require.Equal(t, before, f.ctrl.State())
	require.Len(t, f.feed.appendCalls(), 1)
	require.Zero(t, f.auth.signOuts)

	f.ctrl.Deactivate()
}

func TestSignInAndSignOutDelegate(t *testing.T) {
	f := bootstrap(t)

	f.ctrl.SignIn()
	require.Eventually(t, func() bool { return f.renderer.last().Chat != nil }, waitFor, tick)
	require.Equal(t, "u1", f.ctrl.State().Principal.UID)

	f.ctrl.SignOut()
	require.Eventually(t, func() bool { return f.renderer.last().Login != nil }, waitFor, tick)
	require.Nil(t, f.ctrl.State().Principal)

	f.auth.mu.Lock()
	defer f.auth.mu.Unlock()
	require.Equal(t, 1, f.auth.signIns)
	require.Equal(t, 1, f.auth.signOuts)
}

func TestScreensExclusiveAcrossAuthChanges(t *testing.T) {
	f := bootstrap(t)
	f.signIn(t, model.Principal{UID: "u1"})
	f.auth.emit(nil)
	require.Eventually(t, func() bool { return f.ctrl.State().Principal == nil }, waitFor, tick)
	f.signIn(t, model.Principal{UID: "u2"})

	f.renderer.mu.Lock()
	defer f.renderer.mu.Unlock()
	for _, s := range f.renderer.screens {
		require.True(t, (s.Login == nil) != (s.Chat == nil))
	}
}
