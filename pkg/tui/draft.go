package tui

// draftSync decides when a rendered draft may overwrite the composer. Screens
// lag behind typing, so a draft the composer sent itself is an echo and must
// not replace newer keystrokes. Any other draft was set by the controller.
type draftSync struct {
	typed    string
	inflight map[string]struct{}
}

func (d *draftSync) sent(text string) {
	if d.inflight == nil {
		d.inflight = make(map[string]struct{})
	}
	d.inflight[text] = struct{}{}
	d.typed = text
}

// observe takes rendered drafts in order and reports the text the composer
// should hold when the draft did not come from it.
func (d *draftSync) observe(draft string) (string, bool) {
	if draft == d.typed {
		clear(d.inflight)
		return "", false
	}
	if _, echo := d.inflight[draft]; echo {
		return "", false
	}
	clear(d.inflight)
	d.typed = draft
	return draft, true
}
