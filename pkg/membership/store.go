// Package membership tracks the distinct datagram senders a relay has seen.
//
// Membership is inferred: an endpoint joins by sending at least one packet and
// there is no leave message. Store is append-only and never shrinks; Bounded
// layers a capacity cap with least-recently-observed eviction on top of the
// same contract.
package membership

import (
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrrelay/pkg/endpoint"
)

// Member wraps one endpoint. It is never mutated after creation.
type Member struct {
	Endpoint endpoint.Endpoint
	Joined   time.Time

	seq uint64
}

// Set is the membership contract the relay loop and admin surface consume.
type Set interface {
	// Contains reports whether an equal endpoint is already a member.
	Contains(ep endpoint.Endpoint) bool
	// Add appends ep without checking for duplicates.
	Add(ep endpoint.Endpoint) *Member
	// Observe adds ep unless it is already present and reports whether it joined.
	Observe(ep endpoint.Endpoint) (*Member, bool)
	// ForEach visits the members present when it is called, in join order,
	// until fn returns false.
	ForEach(fn func(*Member) bool)
	Len() int
	Members() []Member
}

// New returns an unbounded Store when capacity <= 0, otherwise a Bounded set.
func New(capacity int) Set {
	if capacity <= 0 {
		return NewStore()
	}
	return NewBounded(capacity)
}

// Store is the append-only, insertion-ordered membership set. Lookups go
// through a hash index keyed by endpoint.Key.
type Store struct {
	mu      sync.RWMutex
	members []*Member
	index   map[string]*Member
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		index: make(map[string]*Member),
		now:   time.Now,
	}
}

func (s *Store) Contains(ep endpoint.Endpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[ep.Key()]
	return ok
}

func (s *Store) Add(ep endpoint.Endpoint) *Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ep)
}

func (s *Store) Observe(ep endpoint.Endpoint) (*Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.index[ep.Key()]; ok {
		return m, false
	}
	return s.appendLocked(ep), true
}

func (s *Store) appendLocked(ep endpoint.Endpoint) *Member {
	m := &Member{Endpoint: ep, Joined: s.now(), seq: uint64(len(s.members))}
	s.members = append(s.members, m)
	// first insert wins the index slot; duplicates from Add stay in order only
	key := ep.Key()
	if _, ok := s.index[key]; !ok {
		s.index[key] = m
	}
	return m
}

// ForEach snapshots the member slice header, so members appended by fn (or by
// another goroutine) during the walk are not visited.
func (s *Store) ForEach(fn func(*Member) bool) {
	s.mu.RLock()
	snap := s.members[:len(s.members):len(s.members)]
	s.mu.RUnlock()

	for _, m := range snap {
		if !fn(m) {
			return
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Members returns a copy in join order.
func (s *Store) Members() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, len(s.members))
	for i, m := range s.members {
		out[i] = *m
	}
	return out
}
