// Package docstore holds the live, ordered view of a message collection that
// the gateway serves to its clients.
package docstore

import (
	"sort"
	"sync"

	"github.com/mahaj/livechat/pkg/model"
)

// Collection is an in-memory ordered set of messages keyed by id. Order is
// creation time ascending, ties broken by id.
type Collection struct {
	name string

	mu   sync.RWMutex
	docs []model.Message
	ids  map[int64]struct{}

	// notifyMu serializes apply+notify so watchers see snapshots in the
	// order the changes happened.
	notifyMu sync.Mutex
	watchMu  sync.Mutex
	watchers map[uint64]func([]model.Message)
	nextID   uint64
}

func NewCollection(name string, seed []model.Message) *Collection {
	c := &Collection{
		name:     name,
		ids:      make(map[int64]struct{}, len(seed)),
		watchers: make(map[uint64]func([]model.Message)),
	}
	for _, m := range seed {
		c.insert(m)
	}
	return c
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Apply inserts m at its ordered position and notifies watchers with the new
// snapshot. It returns false, without notifying, when m.ID is already present.
func (c *Collection) Apply(m model.Message) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	inserted := c.insert(m)
	c.mu.Unlock()

	if !inserted {
		return false
	}

	snapshot := c.Snapshot()

	c.watchMu.Lock()
	fns := make([]func([]model.Message), 0, len(c.watchers))
	ids := make([]uint64, 0, len(c.watchers))
	for id := range c.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, c.watchers[id])
	}
	c.watchMu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
	return true
}

func (c *Collection) insert(m model.Message) bool {
	if _, ok := c.ids[m.ID]; ok {
		return false
	}
	i := sort.Search(len(c.docs), func(i int) bool {
		return less(m, c.docs[i])
	})
	c.docs = append(c.docs, model.Message{})
	copy(c.docs[i+1:], c.docs[i:])
	c.docs[i] = m
	c.ids[m.ID] = struct{}{}
	return true
}

func less(a, b model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Snapshot returns a copy of the current ordered documents.
func (c *Collection) Snapshot() []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Message, len(c.docs))
	copy(out, c.docs)
	return out
}

// Watch registers fn for every future change. fn is called synchronously from
// Apply and must not call back into the collection's Apply.
func (c *Collection) Watch(fn func([]model.Message)) (cancel func()) {
	c.watchMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
		})
	}
}
