package messages

import (
	"sync"

	"github.com/mahaj/livechat/pkg/model"
)

// State of a subscription. There is no failed state: a lost connection leaves
// the subscription where it was.
type State int

const (
	StateUnsubscribed State = iota
	StatePending
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

type Subscription struct {
	store *Store
	fn    func([]model.Message)

	mu    sync.Mutex
	state State
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Unsubscribe stops delivery. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.state == StateUnsubscribed {
		s.mu.Unlock()
		return
	}
	s.state = StateUnsubscribed
	s.mu.Unlock()

	s.store.remove(s)
}

func (s *Subscription) deliver(snapshot []model.Message) {
	s.mu.Lock()
	if s.state == StateUnsubscribed {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	s.mu.Unlock()

	s.fn(snapshot)
}
