package membership

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/ryandielhenn/zephyrrelay/pkg/endpoint"
)

func mustEP(t *testing.T, s string) endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return ep
}

func TestObserveDedup(t *testing.T) {
	s := NewStore()
	a := mustEP(t, "127.0.0.1:4000")

	for i := 0; i < 10; i++ {
		_, added := s.Observe(a)
		if added != (i == 0) {
			t.Fatalf("Observe #%d added=%v", i, added)
		}
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
}

func TestGrowthIsMonotonic(t *testing.T) {
	s := NewStore()
	const K = 5
	prev := 0
	// each distinct sender shows up several times, interleaved
	for round := 0; round < 3; round++ {
		for k := 0; k < K; k++ {
			s.Observe(mustEP(t, fmt.Sprintf("10.0.0.%d:9000", k+1)))
			if n := s.Len(); n < prev {
				t.Fatalf("Len decreased from %d to %d", prev, n)
			} else {
				prev = n
			}
		}
	}
	if got := s.Len(); got != K {
		t.Fatalf("Len = %d, want %d", got, K)
	}
}

func TestContainsFamilyDiscrimination(t *testing.T) {
	s := NewStore()
	v4, _ := endpoint.New(netip.AddrPortFrom(netip.AddrFrom4([4]byte{192, 0, 2, 1}), 3490))
	v6, _ := endpoint.New(netip.AddrPortFrom(netip.AddrFrom16(netip.AddrFrom4([4]byte{192, 0, 2, 1}).As16()), 3490))

	s.Add(v4)
	if !s.Contains(v4) {
		t.Fatal("Contains(v4) = false after Add")
	}
	if s.Contains(v6) {
		t.Fatal("Contains(v4-mapped v6) = true, families must not match")
	}
	if _, added := s.Observe(v6); !added {
		t.Fatal("Observe(v6) did not add")
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestAddDoesNotDedup(t *testing.T) {
	s := NewStore()
	a := mustEP(t, "127.0.0.1:1")
	s.Add(a)
	s.Add(a)
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (Add must not deduplicate)", s.Len())
	}
	if !s.Contains(a) {
		t.Fatal("Contains = false")
	}
}

func TestForEachInsertionOrder(t *testing.T) {
	s := NewStore()
	want := []string{"[::1]:1", "[127.0.0.1]:2", "[::1]:3"}
	for _, w := range []string{"[::1]:1", "127.0.0.1:2", "[::1]:3"} {
		s.Add(mustEP(t, w))
	}
	var got []string
	s.ForEach(func(m *Member) bool {
		got = append(got, m.Endpoint.String())
		return true
	})
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("ForEach order = %v, want %v", got, want)
	}

	n := 0
	s.ForEach(func(*Member) bool { n++; return false })
	if n != 1 {
		t.Fatalf("ForEach visited %d after stop, want 1", n)
	}
}

func TestForEachSnapshotsStart(t *testing.T) {
	s := NewStore()
	s.Add(mustEP(t, "127.0.0.1:1"))
	s.Add(mustEP(t, "127.0.0.1:2"))

	visited := 0
	s.ForEach(func(m *Member) bool {
		visited++
		s.Add(mustEP(t, fmt.Sprintf("127.0.0.2:%d", visited)))
		return true
	})
	if visited != 2 {
		t.Fatalf("visited %d, want the 2 members present at start", visited)
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}
}

func TestMembersIsCopy(t *testing.T) {
	s := NewStore()
	s.Add(mustEP(t, "127.0.0.1:1"))
	ms := s.Members()
	ms[0].Endpoint = mustEP(t, "127.0.0.1:2")
	if s.Contains(mustEP(t, "127.0.0.1:2")) {
		t.Fatal("Members() returned a reference, not a copy")
	}
}

func TestConcurrentObserve(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ep, _ := endpoint.Parse(fmt.Sprintf("127.0.0.1:%d", 1000+i))
				s.Observe(ep)
			}
		}()
	}
	wg.Wait()
	if s.Len() != 100 {
		t.Fatalf("Len = %d, want 100", s.Len())
	}
}

func TestNewPicksImplementation(t *testing.T) {
	if _, ok := New(0).(*Store); !ok {
		t.Fatal("New(0) is not a *Store")
	}
	if b, ok := New(3).(*Bounded); !ok || b.Cap() != 3 {
		t.Fatal("New(3) is not a *Bounded with cap 3")
	}
}
