package tui

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/rivo/tview"

	"github.com/mahaj/livechat/pkg/view"
)

// formatBubbles lays bubbles out one per line: other people's on the left,
// our own pushed to the right edge of a view width columns wide.
func formatBubbles(bubbles []view.Bubble, width int) string {
	var sb strings.Builder
	for _, b := range bubbles {
		avatar := avatarLabel(b.Avatar)
		text := tview.Escape(b.Text)

		if b.Side == view.SideMine {
			plain := fmt.Sprintf("%s → [%s]", b.Text, avatar)
			if pad := width - utf8.RuneCountInString(plain); pad > 0 {
				sb.WriteString(strings.Repeat(" ", pad))
			}
			sb.WriteString(fmt.Sprintf("[white]%s →[-] [gray]%s[-]\n", text, tview.Escape("["+avatar+"]")))
			continue
		}
		sb.WriteString(fmt.Sprintf("[gray]%s[-] [yellow]← %s[-]\n", tview.Escape("["+avatar+"]"), text))
	}
	return sb.String()
}

// avatarLabel shortens an avatar URI to its last path element.
func avatarLabel(uri string) string {
	if uri == "" {
		return "?"
	}
	u, err := url.Parse(uri)
	if err != nil || u.Path == "" || u.Path == "/" {
		return uri
	}
	return path.Base(u.Path)
}
