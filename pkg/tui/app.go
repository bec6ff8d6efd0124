// Package tui is the terminal presentation of the chat built on tview.
package tui

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/identity"
	"github.com/mahaj/livechat/pkg/view"
)

const (
	pageLogin  = "login"
	pageChat   = "chat"
	pageAlert  = "alert"
	pagePrompt = "prompt"

	chatHelp = " Enter:Send | Tab:Focus | F2:Sign out | Ctrl-C:Quit "
)

// Actions are the user intents the screen forwards.
type Actions interface {
	SignIn()
	SignOut()
	SetDraft(text string)
	SubmitDraft()
}

// App renders screens, shows alerts and prompts for credentials.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	chatView *tview.TextView
	input    *tview.InputField
	signIn   *tview.Button
	actions  Actions
	logger   *zap.Logger

	// owned by the UI goroutine
	syncing bool // set while a rendered draft is written into the input
	drafts  draftSync
	bubbles []view.Bubble

	mu             sync.Mutex
	screens        []view.Screen
	scroll         bool
	alerts         []error
	flushScheduled bool
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		app:    tview.NewApplication(),
		pages:  tview.NewPages(),
		logger: logger,
	}
	a.pages.AddPage(pageLogin, a.createLoginPage(), true, true)
	a.pages.AddPage(pageChat, a.createChatPage(), true, false)
	a.app.SetRoot(a.pages, true).EnableMouse(false)
	return a
}

// Bind sets the receiver of user actions. It must be called before Run.
func (a *App) Bind(actions Actions) {
	a.actions = actions
}

func (a *App) Run() error {
	return a.app.Run()
}

func (a *App) Stop() {
	a.app.Stop()
}

func (a *App) createLoginPage() tview.Primitive {
	title := tview.NewTextView()
	title.SetBackgroundColor(ColorBg)
	title.SetTextColor(ColorTitle)
	title.SetTextAlign(tview.AlignCenter)
	title.SetText("livechat")

	a.signIn = tview.NewButton(view.SignInLabel)
	a.signIn.SetBackgroundColor(ColorButton)
	a.signIn.SetLabelColor(ColorTitle)
	a.signIn.SetSelectedFunc(func() {
		if a.actions != nil && !a.pages.HasPage(pagePrompt) {
			a.actions.SignIn()
		}
	})

	box := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(title, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(a.signIn, 1, 0, true)
	box.SetBorder(true)
	box.SetBorderColor(ColorBorder)
	box.SetBackgroundColor(ColorBg)

	return centered(box, 30, 5)
}

func (a *App) createChatPage() tview.Primitive {
	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(" Messages ")
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)

	a.input = tview.NewInputField()
	a.input.SetLabel("> ")
	a.input.SetFieldWidth(0)
	a.input.SetBackgroundColor(ColorBg)
	a.input.SetFieldBackgroundColor(ColorField)
	a.input.SetFieldTextColor(ColorFg)
	a.input.SetLabelColor(ColorHighlight)
	a.input.SetBorder(true)
	a.input.SetBorderColor(ColorBorder)
	a.input.SetTitle(" Message ")
	a.input.SetTitleColor(ColorTitle)

	a.input.SetChangedFunc(func(text string) {
		if a.syncing || a.actions == nil {
			return
		}
		a.drafts.sent(text)
		a.actions.SetDraft(text)
	})
	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || a.actions == nil {
			return
		}
		a.actions.SubmitDraft()

		// The submit clears the draft; show that now rather than on its render.
		a.syncing = true
		a.input.SetText("")
		a.syncing = false
		a.drafts.sent("")
		a.app.SetFocus(a.chatView)
	})

	status := tview.NewTextView()
	status.SetBackgroundColor(ColorButton)
	status.SetTextColor(ColorTitle)
	status.SetTextAlign(tview.AlignCenter)
	status.SetText(chatHelp)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.input, 3, 0, true).
		AddItem(status, 1, 0, false)
	layout.SetBackgroundColor(ColorBg)

	layout.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab:
			if a.input.HasFocus() {
				a.app.SetFocus(a.chatView)
			} else {
				a.app.SetFocus(a.input)
			}
			return nil
		case tcell.KeyF2:
			if a.actions != nil {
				a.actions.SignOut()
			}
			return nil
		}
		return event
	})

	return layout
}

// Render implements the controller's renderer. Screens are handed to the UI
// goroutine without waiting for it, so the caller never blocks on drawing.
func (a *App) Render(s view.Screen) {
	a.post(func() { a.screens = append(a.screens, s) })
}

func (a *App) ScrollToEnd() {
	a.post(func() { a.scroll = true })
}

// Alert shows err in a modal until dismissed.
func (a *App) Alert(err error) {
	a.logger.Info("showing alert", zap.Error(err))
	a.post(func() { a.alerts = append(a.alerts, err) })
}

// post records an update and schedules at most one flush on the UI goroutine.
func (a *App) post(record func()) {
	a.mu.Lock()
	record()
	scheduled := a.flushScheduled
	a.flushScheduled = true
	a.mu.Unlock()

	if !scheduled {
		go a.app.QueueUpdateDraw(a.flush)
	}
}

func (a *App) flush() {
	a.mu.Lock()
	screens, scroll, alerts := a.screens, a.scroll, a.alerts
	a.screens, a.scroll, a.alerts = nil, false, nil
	a.flushScheduled = false
	a.mu.Unlock()

	// Every draft is reconciled in order; only the newest screen is drawn.
	for _, s := range screens {
		if s.Chat != nil {
			a.syncDraft(s.Chat.Draft)
		}
	}
	if len(screens) > 0 {
		a.apply(screens[len(screens)-1])
	}
	if scroll {
		a.chatView.ScrollToEnd()
	}
	for _, err := range alerts {
		a.showAlert(err)
	}
}

func (a *App) apply(s view.Screen) {
	if s.Login != nil {
		a.signIn.SetLabel(s.Login.CallToAction)
		a.showBase(pageLogin, a.signIn)
		return
	}

	a.chatView.SetTitle(fmt.Sprintf(" Messages ─ %s: F2 ", s.Chat.SignOutLabel))
	a.bubbles = s.Chat.Bubbles
	a.redrawBubbles()
	a.showBase(pageChat, a.input)
}

func (a *App) syncDraft(draft string) {
	text, changed := a.drafts.observe(draft)
	if !changed || a.input.GetText() == text {
		return
	}
	a.syncing = true
	a.input.SetText(text)
	a.syncing = false
}

// showBase makes name the screen under any open prompt or alert. Focus moves
// only when the screen changes and nothing covers it.
func (a *App) showBase(name string, focus tview.Primitive) {
	other := pageLogin
	if name == pageLogin {
		other = pageChat
	}
	visible := a.pages.GetPageNames(true)
	if lo.Contains(visible, name) && !lo.Contains(visible, other) {
		return
	}

	a.pages.HidePage(other)
	a.pages.ShowPage(name)
	if front, _ := a.pages.GetFrontPage(); front == name {
		a.app.SetFocus(focus)
	}
}

func (a *App) redrawBubbles() {
	_, _, width, _ := a.chatView.GetInnerRect()
	if width < 10 {
		width = 80
	}
	a.chatView.SetText(formatBubbles(a.bubbles, width))
}

func (a *App) showAlert(err error) {
	modal := tview.NewModal()
	modal.SetText(err.Error())
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(ColorButton)
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"OK"})
	modal.SetDoneFunc(func(int, string) {
		a.pages.RemovePage(pageAlert)
	})
	a.pages.AddPage(pageAlert, modal, true, true)
}

type promptResult struct {
	creds identity.Credentials
	err   error
}

// PromptCredentials shows the sign-in form and waits for the user.
func (a *App) PromptCredentials(ctx context.Context) (identity.Credentials, error) {
	result := make(chan promptResult, 1)
	finish := func(r promptResult) {
		select {
		case result <- r:
		default:
		}
		a.pages.RemovePage(pagePrompt)
	}

	a.app.QueueUpdateDraw(func() {
		a.pages.AddPage(pagePrompt, a.createPromptForm(finish), true, true)
	})

	select {
	case r := <-result:
		return r.creds, r.err
	case <-ctx.Done():
		go a.app.QueueUpdateDraw(func() { a.pages.RemovePage(pagePrompt) })
		return identity.Credentials{}, ctx.Err()
	}
}

func (a *App) createPromptForm(finish func(promptResult)) tview.Primitive {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorField)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorButton)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" Sign in ")
	form.SetTitleColor(ColorTitle)

	statusText := tview.NewTextView()
	statusText.SetBackgroundColor(ColorBg)
	statusText.SetTextAlign(tview.AlignCenter)
	statusText.SetDynamicColors(true)

	accountField := tview.NewInputField().SetLabel("Account: ").SetFieldWidth(30)
	passwordField := tview.NewInputField().SetLabel("Password: ").SetFieldWidth(30).SetMaskCharacter('*')
	avatarField := tview.NewInputField().SetLabel("Avatar URI: ").SetFieldWidth(30)

	form.AddFormItem(accountField)
	form.AddFormItem(passwordField)
	form.AddFormItem(avatarField)

	form.AddButton("Sign in", func() {
		creds := identity.Credentials{
			UserID:    accountField.GetText(),
			Password:  passwordField.GetText(),
			AvatarURI: avatarField.GetText(),
		}
		if creds.UserID == "" || creds.Password == "" {
			statusText.SetText("[red]Please enter account and password[-]")
			return
		}
		finish(promptResult{creds: creds})
	})
	form.AddButton("Cancel", func() {
		finish(promptResult{err: identity.ErrCancelled})
	})
	form.SetCancelFunc(func() {
		finish(promptResult{err: identity.ErrCancelled})
	})

	content := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusText, 1, 0, false)

	return centered(content, 56, 14)
}

func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(p, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
}
