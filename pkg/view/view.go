// Package view maps controller state to a screen description. Nothing here
// touches a terminal.
package view

import (
	"github.com/samber/lo"

	"github.com/mahaj/livechat/pkg/model"
)

type Side int

const (
	SideOther Side = iota
	SideMine
)

func (s Side) String() string {
	if s == SideMine {
		return "mine"
	}
	return "other"
}

type Bubble struct {
	ID     int64
	Text   string
	Avatar string
	Side   Side
}

type LoginScreen struct {
	CallToAction string
}

type ChatScreen struct {
	SignOutLabel string
	Bubbles      []Bubble
	// ScrollAnchor is the index of the bubble to keep in view, -1 when empty.
	ScrollAnchor int
	Draft        string
}

// Screen is exactly one of Login or Chat.
type Screen struct {
	Login *LoginScreen
	Chat  *ChatScreen
}

const (
	SignInLabel  = "Sign in"
	SignOutLabel = "Sign out"
)

// Classify reports which side of the conversation m belongs to for p.
func Classify(m model.Message, p *model.Principal) Side {
	if p.Owns(m) {
		return SideMine
	}
	return SideOther
}

// Render builds the screen for the given state. Messages keep their order.
func Render(p *model.Principal, draft string, messages []model.Message) Screen {
	if p == nil {
		return Screen{Login: &LoginScreen{CallToAction: SignInLabel}}
	}

	bubbles := lo.Map(messages, func(m model.Message, _ int) Bubble {
		return Bubble{ID: m.ID, Text: m.Text, Avatar: m.URI, Side: Classify(m, p)}
	})

	return Screen{Chat: &ChatScreen{
		SignOutLabel: SignOutLabel,
		Bubbles:      bubbles,
		ScrollAnchor: len(bubbles) - 1,
		Draft:        draft,
	}}
}
