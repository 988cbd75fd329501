package topicspec

import (
	"sort"
	"sync"

	"github.com/bitechdev/TopicSpec/pkg/logger"
	"github.com/bitechdev/TopicSpec/pkg/transport"
)

// Registry maps subscription ids to subscriptions. Its size decides when the
// shared connection is torn down.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Subscription
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Subscription)}
}

// Add registers sub under its id
func (r *Registry) Add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sub.ID()] = sub
}

// Remove drops id. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get returns the subscription for id, or nil
func (r *Registry) Get(id string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Len returns the number of entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IsEmpty reports whether no entries remain
func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}

// snapshot returns the entries ordered by topic then id
func (r *Registry) snapshot() []*Subscription {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.entries))
	for _, sub := range r.entries {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].topicID != subs[j].topicID {
			return subs[i].topicID < subs[j].topicID
		}
		return subs[i].id < subs[j].id
	})
	return subs
}

// ForEach calls fn for every entry present when it was called. fn may add or
// remove entries.
func (r *Registry) ForEach(fn func(sub *Subscription)) {
	for _, sub := range r.snapshot() {
		fn(sub)
	}
}

// RebindAll binds every entry to client, subscribing when it is connected
func (r *Registry) RebindAll(client transport.Client) {
	if !isConnected(client) {
		return
	}
	r.ForEach(func(sub *Subscription) {
		if err := sub.BindAndSubscribe(client); err != nil {
			logger.Error("[TopicSpec] Rebind of subscription %s failed: %v", sub.ID(), err)
		}
	})
}

// ResubscribeAllAfterBreak re-issues the subscribe for every entry on the
// client it is already bound to, leaving the binding itself unchanged
func (r *Registry) ResubscribeAllAfterBreak() {
	r.ForEach(func(sub *Subscription) {
		if err := sub.resubscribe(); err != nil {
			logger.Error("[TopicSpec] Resubscribe of subscription %s failed: %v", sub.ID(), err)
		}
	})
}

// StartPollingAll starts the primary poll loop of every entry
func (r *Registry) StartPollingAll() {
	r.ForEach(func(sub *Subscription) {
		sub.StartPolling()
	})
}

// UnsubscribeAllAndClear releases every entry's live handle, stops its
// loops and empties the registry. It returns the topic of the only entry
// when exactly one existed, else "".
func (r *Registry) UnsubscribeAllAndClear() string {
	subs, lastTopic := r.clear()
	closeAll(subs)
	return lastTopic
}

// clear empties the registry and returns what it held, leaving the entries
// open so the caller can release them outside its own lock
func (r *Registry) clear() ([]*Subscription, string) {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Subscription)
	r.mu.Unlock()

	subs := make([]*Subscription, 0, len(entries))
	for _, sub := range entries {
		subs = append(subs, sub)
	}
	lastTopic := ""
	if len(subs) == 1 {
		lastTopic = subs[0].TopicID()
	}
	return subs, lastTopic
}

func closeAll(subs []*Subscription) {
	for _, sub := range subs {
		sub.close()
	}
}
