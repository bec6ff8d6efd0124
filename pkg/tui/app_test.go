package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/livechat/pkg/chat"
	"github.com/mahaj/livechat/pkg/identity"
	"github.com/mahaj/livechat/pkg/model"
	"github.com/mahaj/livechat/pkg/view"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type recordedActions struct {
	mu       sync.Mutex
	drafts   []string
	submits  int
	signIns  int
	signOuts int
}

func (r *recordedActions) SignIn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signIns++
}

func (r *recordedActions) SignOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signOuts++
}

func (r *recordedActions) SetDraft(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, text)
}

func (r *recordedActions) SubmitDraft() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submits++
}

func (r *recordedActions) lastDraft() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.drafts) == 0 {
		return ""
	}
	return r.drafts[len(r.drafts)-1]
}

func (r *recordedActions) counts() (submits, signIns, signOuts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submits, r.signIns, r.signOuts
}

func newTestApp() (*App, tcell.SimulationScreen) {
	screen := tcell.NewSimulationScreen("UTF-8")
	a := New(nil)
	a.app.SetScreen(screen)
	screen.SetSize(100, 30)
	return a, screen
}

func run(t *testing.T, a *App) {
	errc := make(chan error, 1)
	go func() { errc <- a.Run() }()
	t.Cleanup(func() {
		a.Stop()
		require.NoError(t, <-errc)
	})
}

func startApp(t *testing.T, actions Actions) (*App, tcell.SimulationScreen) {
	a, screen := newTestApp()
	a.Bind(actions)
	run(t, a)
	return a, screen
}

// onUI evaluates fn on the UI goroutine.
func onUI[T any](a *App, fn func() T) T {
	var out T
	a.app.QueueUpdate(func() { out = fn() })
	return out
}

func frontPage(a *App) string {
	return onUI(a, func() string {
		name, _ := a.pages.GetFrontPage()
		return name
	})
}

func typeText(screen tcell.SimulationScreen, text string) {
	for _, r := range text {
		screen.InjectKey(tcell.KeyRune, r, tcell.ModNone)
	}
}

func press(screen tcell.SimulationScreen, key tcell.Key) {
	screen.InjectKey(key, 0, tcell.ModNone)
}

func TestRenderSwitchesBetweenLoginAndChat(t *testing.T) {
	actions := &recordedActions{}
	a, _ := startApp(t, actions)
	require.Equal(t, pageLogin, frontPage(a))

	me := &model.Principal{UID: "u1", PhotoURL: "https://cdn.example/u1.png"}
	msgs := []model.Message{{ID: 1, Text: "hello there", UID: "u2"}}
	a.Render(view.Render(me, "", msgs))

	require.Eventually(t, func() bool { return frontPage(a) == pageChat }, waitFor, tick)
	require.True(t, onUI(a, a.input.HasFocus))
	require.Contains(t, onUI(a, func() string { return a.chatView.GetText(true) }), "hello there")
	require.Contains(t, onUI(a, a.chatView.GetTitle), view.SignOutLabel)

	a.Render(view.Render(nil, "", msgs))
	require.Eventually(t, func() bool { return frontPage(a) == pageLogin }, waitFor, tick)
	require.True(t, onUI(a, a.signIn.HasFocus))
	require.Equal(t, []string{pageLogin}, onUI(a, func() []string { return a.pages.GetPageNames(true) }))
}

func TestSubmitClearsComposerAndBlursIt(t *testing.T) {
	actions := &recordedActions{}
	a, screen := startApp(t, actions)

	a.Render(view.Render(&model.Principal{UID: "u1"}, "", nil))
	require.Eventually(t, func() bool { return onUI(a, a.input.HasFocus) }, waitFor, tick)

	typeText(screen, "hi")
	require.Eventually(t, func() bool { return actions.lastDraft() == "hi" }, waitFor, tick)

	press(screen, tcell.KeyEnter)
	require.Eventually(t, func() bool {
		submits, _, _ := actions.counts()
		return submits == 1
	}, waitFor, tick)
	require.Empty(t, onUI(a, a.input.GetText))
	require.True(t, onUI(a, a.chatView.HasFocus))

	// A late render of the typed text must not bring it back.
	late := []model.Message{{ID: 1, Text: "late", UID: "u2"}}
	a.Render(view.Render(&model.Principal{UID: "u1"}, "hi", late))
	a.Render(view.Render(&model.Principal{UID: "u1"}, "", late))
	a.ScrollToEnd()
	require.Eventually(t, func() bool {
		return strings.Contains(onUI(a, func() string { return a.chatView.GetText(true) }), "late")
	}, waitFor, tick)
	require.Empty(t, onUI(a, a.input.GetText))
}

func TestRenderedDraftFillsComposerWithoutEcho(t *testing.T) {
	actions := &recordedActions{}
	a, _ := startApp(t, actions)

	a.Render(view.Render(&model.Principal{UID: "u1"}, "restored text", nil))
	require.Eventually(t, func() bool { return onUI(a, a.input.GetText) == "restored text" }, waitFor, tick)

	actions.mu.Lock()
	defer actions.mu.Unlock()
	require.Empty(t, actions.drafts)
}

func TestSignInButtonAndSignOutKey(t *testing.T) {
	actions := &recordedActions{}
	a, screen := startApp(t, actions)
	require.Eventually(t, func() bool { return onUI(a, a.signIn.HasFocus) }, waitFor, tick)

	press(screen, tcell.KeyEnter)
	require.Eventually(t, func() bool {
		_, signIns, _ := actions.counts()
		return signIns == 1
	}, waitFor, tick)

	a.Render(view.Render(&model.Principal{UID: "u1"}, "", nil))
	require.Eventually(t, func() bool { return frontPage(a) == pageChat }, waitFor, tick)

	press(screen, tcell.KeyF2)
	require.Eventually(t, func() bool {
		_, _, signOuts := actions.counts()
		return signOuts == 1
	}, waitFor, tick)
}

func TestAlertShowsModalUntilDismissed(t *testing.T) {
	a, screen := startApp(t, &recordedActions{})

	a.Render(view.Render(&model.Principal{UID: "u1"}, "", nil))
	require.Eventually(t, func() bool { return frontPage(a) == pageChat }, waitFor, tick)

	a.Alert(errors.New("permission denied"))
	require.Eventually(t, func() bool { return frontPage(a) == pageAlert }, waitFor, tick)

	// A render underneath the alert leaves it in front.
	a.Render(view.Render(&model.Principal{UID: "u1"}, "", []model.Message{{ID: 1, Text: "new", UID: "u2"}}))
	require.Eventually(t, func() bool {
		return strings.Contains(onUI(a, func() string { return a.chatView.GetText(true) }), "new")
	}, waitFor, tick)
	require.Equal(t, pageAlert, frontPage(a))

	press(screen, tcell.KeyEnter)
	require.Eventually(t, func() bool { return frontPage(a) == pageChat }, waitFor, tick)
	require.True(t, onUI(a, a.input.HasFocus))
}

func promptAsync(ctx context.Context, a *App) <-chan promptResult {
	out := make(chan promptResult, 1)
	go func() {
		creds, err := a.PromptCredentials(ctx)
		out <- promptResult{creds: creds, err: err}
	}()
	return out
}

func awaitPrompt(t *testing.T, results <-chan promptResult) promptResult {
	select {
	case r := <-results:
		return r
	case <-time.After(waitFor):
		t.Fatal("prompt did not return")
		return promptResult{}
	}
}

func TestPromptSubmitsCredentials(t *testing.T) {
	a, screen := startApp(t, &recordedActions{})

	results := promptAsync(context.Background(), a)
	require.Eventually(t, func() bool { return frontPage(a) == pagePrompt }, waitFor, tick)

	typeText(screen, "u1")
	press(screen, tcell.KeyTab)
	typeText(screen, "pw")
	press(screen, tcell.KeyTab)
	typeText(screen, "https://cdn.example/u1.png")
	press(screen, tcell.KeyTab)
	press(screen, tcell.KeyEnter)

	r := awaitPrompt(t, results)
	require.NoError(t, r.err)
	require.Equal(t, identity.Credentials{UserID: "u1", Password: "pw", AvatarURI: "https://cdn.example/u1.png"}, r.creds)
	require.Eventually(t, func() bool { return frontPage(a) == pageLogin }, waitFor, tick)
}

func TestPromptCancel(t *testing.T) {
	a, screen := startApp(t, &recordedActions{})

	results := promptAsync(context.Background(), a)
	require.Eventually(t, func() bool { return frontPage(a) == pagePrompt }, waitFor, tick)

	press(screen, tcell.KeyEscape)
	r := awaitPrompt(t, results)
	require.ErrorIs(t, r.err, identity.ErrCancelled)
	require.Eventually(t, func() bool { return frontPage(a) == pageLogin }, waitFor, tick)
}

func TestPromptContextCancel(t *testing.T) {
	a, _ := startApp(t, &recordedActions{})

	ctx, cancel := context.WithCancel(context.Background())
	results := promptAsync(ctx, a)
	require.Eventually(t, func() bool { return frontPage(a) == pagePrompt }, waitFor, tick)

	cancel()
	r := awaitPrompt(t, results)
	require.ErrorIs(t, r.err, context.Canceled)
	require.Eventually(t, func() bool { return frontPage(a) == pageLogin }, waitFor, tick)
}

func TestSignedOutRendersKeepPromptOpen(t *testing.T) {
	a, screen := startApp(t, &recordedActions{})

	results := promptAsync(context.Background(), a)
	require.Eventually(t, func() bool { return frontPage(a) == pagePrompt }, waitFor, tick)
	typeText(screen, "u1")

	msgs := []model.Message{{ID: 1, Text: "someone else", UID: "u2"}}
	a.Render(view.Render(nil, "", msgs))
	a.Render(view.Screen{Login: &view.LoginScreen{CallToAction: "Sign in again"}})
	require.Eventually(t, func() bool { return onUI(a, a.signIn.GetLabel) == "Sign in again" }, waitFor, tick)
	require.Equal(t, pagePrompt, frontPage(a))

	// Entry continues where it left off.
	press(screen, tcell.KeyTab)
	typeText(screen, "pw")
	press(screen, tcell.KeyTab)
	press(screen, tcell.KeyTab)
	press(screen, tcell.KeyEnter)

	r := awaitPrompt(t, results)
	require.NoError(t, r.err)
	require.Equal(t, identity.Credentials{UserID: "u1", Password: "pw"}, r.creds)
}

type signedIn struct {
	principal model.Principal
}

func (s signedIn) Subscribe(fn func(*model.Principal)) func() {
	p := s.principal
	fn(&p)
	return func() {}
}

func (signedIn) SignIn(context.Context)  {}
func (signedIn) SignOut(context.Context) {}

type liveFeed struct {
	mu sync.Mutex
	fn func([]model.Message)
}

func (f *liveFeed) SubscribeOrdered(fn func([]model.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fn = nil
	}
}

func (f *liveFeed) Append(context.Context, model.NewMessage) error {
	return nil
}

func (f *liveFeed) emit(msgs []model.Message) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(msgs)
	}
}

func TestTypingBurstWithLiveSnapshotsStaysResponsive(t *testing.T) {
	a, screen := newTestApp()
	feed := &liveFeed{}
	ctrl := chat.New(signedIn{principal: model.Principal{UID: "u1"}}, feed, a)
	a.Bind(ctrl)
	run(t, a)

	ctrl.Activate(context.Background())
	t.Cleanup(ctrl.Deactivate)
	require.Eventually(t, func() bool { return onUI(a, a.input.HasFocus) }, waitFor, tick)

	const keys = 2000
	snapshotsDone := make(chan struct{})
	go func() {
		defer close(snapshotsDone)
		for i := 0; i < 200; i++ {
			feed.emit([]model.Message{{ID: int64(i), Text: "busy room", UID: "u2"}})
		}
	}()

	typed := make(chan struct{})
	go func() {
		defer close(typed)
		typeText(screen, strings.Repeat("x", keys))
	}()

	select {
	case <-typed:
	case <-time.After(waitFor):
		t.Fatal("key events were not drained")
	}
	select {
	case <-snapshotsDone:
	case <-time.After(waitFor):
		t.Fatal("snapshots were not drained")
	}

	want := strings.Repeat("x", keys)
	require.Eventually(t, func() bool { return ctrl.State().Draft == want }, waitFor, tick)
	require.Eventually(t, func() bool { return onUI(a, a.input.GetText) == want }, waitFor, tick)
}
