package playback

import "sync"

// Store owns State. Writers go through Update; readers get clones.
// The epoch increments on every Reset so that work started before a
// teardown can tell its result is stale.
type Store struct {
	mu    sync.RWMutex
	state State
	epoch uint64

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
}

// NewStore creates a Store holding DefaultState.
func NewStore() *Store {
	return &Store{
		state: DefaultState(),
		subs:  make(map[*Subscription]struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Epoch returns the current session epoch.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Update applies fn and notifies subscribers.
func (s *Store) Update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.state.Clone()
	s.mu.Unlock()
	s.publish(snap)
}

// UpdateAt applies fn only if the epoch is still epoch.
func (s *Store) UpdateAt(epoch uint64, fn func(*State)) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	fn(&s.state)
	snap := s.state.Clone()
	s.mu.Unlock()
	s.publish(snap)
	return true
}

// Reset restores DefaultState and starts a new epoch.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = DefaultState()
	s.epoch++
	snap := s.state.Clone()
	s.mu.Unlock()
	s.publish(snap)
}

// Subscribe registers a new subscriber.
func (s *Store) Subscribe() *Subscription {
	sub := newSubscription()
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its Done channel.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		sub.close()
	}
}

// Notify sends n to every subscriber.
func (s *Store) Notify(n Notice) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		sub.sendNotice(n)
	}
}

func (s *Store) publish(st State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		sub.sendState(st)
	}
}
