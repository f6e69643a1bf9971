package membership

import (
	"container/list"
	"slices"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrrelay/pkg/endpoint"
)

// Bounded caps membership at a fixed number of endpoints. Observing a known
// endpoint refreshes it; once the cap is exceeded the least recently observed
// member is evicted.
type Bounded struct {
	mu   sync.RWMutex
	data map[string]*list.Element
	ll   *list.List // front = most recently observed
	seq  uint64
	cap  int
	now  func() time.Time

	// OnEvict, if set, is called with the lock held for every evicted member.
	OnEvict func(Member)
}

func NewBounded(capacity int) *Bounded {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded{
		data: make(map[string]*list.Element),
		ll:   list.New(),
		cap:  capacity,
		now:  time.Now,
	}
}

func (b *Bounded) Cap() int { return b.cap }

func (b *Bounded) Contains(ep endpoint.Endpoint) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[ep.Key()]
	return ok
}

func (b *Bounded) Add(ep endpoint.Endpoint) *Member {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.pushLocked(ep)
	b.evictIfNeeded()
	return m
}

func (b *Bounded) Observe(ep endpoint.Endpoint) (*Member, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.data[ep.Key()]; ok {
		b.ll.MoveToFront(el)
		return el.Value.(*Member), false
	}
	m := b.pushLocked(ep)
	b.evictIfNeeded()
	return m, true
}

func (b *Bounded) pushLocked(ep endpoint.Endpoint) *Member {
	m := &Member{Endpoint: ep, Joined: b.now(), seq: b.seq}
	b.seq++
	el := b.ll.PushFront(m)
	key := ep.Key()
	if _, ok := b.data[key]; !ok {
		b.data[key] = el
	}
	return m
}

func (b *Bounded) evictIfNeeded() {
	for b.ll.Len() > b.cap && b.ll.Back() != nil {
		b.removeElement(b.ll.Back())
	}
}

func (b *Bounded) removeElement(el *list.Element) {
	m := el.Value.(*Member)
	key := m.Endpoint.Key()
	b.ll.Remove(el)
	if b.data[key] == el {
		delete(b.data, key)
		// Add may have pushed the same endpoint more than once; keep it
		// indexed while any copy is still listed
		for other := b.ll.Front(); other != nil; other = other.Next() {
			if other.Value.(*Member).Endpoint.Key() == key {
				b.data[key] = other
				break
			}
		}
	}
	if b.OnEvict != nil {
		b.OnEvict(*m)
	}
}

// ForEach walks a snapshot in join order, not recency order.
func (b *Bounded) ForEach(fn func(*Member) bool) {
	for _, m := range b.snapshot() {
		if !fn(m) {
			return
		}
	}
}

func (b *Bounded) snapshot() []*Member {
	b.mu.RLock()
	out := make([]*Member, 0, b.ll.Len())
	for el := b.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Member))
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(x, y *Member) int {
		switch {
		case x.seq < y.seq:
			return -1
		case x.seq > y.seq:
			return 1
		}
		return 0
	})
	return out
}

func (b *Bounded) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ll.Len()
}

func (b *Bounded) Members() []Member {
	snap := b.snapshot()
	out := make([]Member, len(snap))
	for i, m := range snap {
		out[i] = *m
	}
	return out
}
