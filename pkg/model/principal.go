package model

// Principal is the signed-in user as reported by the identity service.
type Principal struct {
	UID      string `json:"uid"`
	PhotoURL string `json:"photo_url"`
}

// Owns reports whether m was authored by p. A nil principal owns nothing.
func (p *Principal) Owns(m Message) bool {
	return p != nil && m.UID == p.UID
}
