package ttlstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	var evicted []string
	s := New(
		WithClock[string](clock.Now),
		WithEvictionCallback(func(id string, _ string, reason Reason) {
			evicted = append(evicted, id+":"+reason.String())
		}),
	)

	s.Put("a", "value", 10*time.Second)

	clock.Advance(10 * time.Second)
	v, ok := s.Get("a")
	assert.True(t, ok, "an entry exactly at its TTL is still live")
	assert.Equal(t, "value", v)

	clock.Advance(time.Second)
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []string{"a:expired"}, evicted)
}

func TestStore_Delete(t *testing.T) {
	var reasons []Reason
	s := New(WithEvictionCallback(func(_ string, _ int, r Reason) { reasons = append(reasons, r) }))

	s.Put("a", 1, time.Minute)
	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Equal(t, []Reason{Deleted}, reasons)
}

func TestStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock[int](clock.Now))

	s.Put("short-1", 1, time.Second)
	s.Put("short-2", 2, time.Second)
	s.Put("long", 3, time.Hour)

	assert.Equal(t, 0, s.Sweep())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())

	_, ok := s.Get("long")
	assert.True(t, ok)
}

func TestStore_PutIfAbsent(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock[string](clock.Now))

	assert.True(t, s.PutIfAbsent("a", "first", time.Second))
	assert.False(t, s.PutIfAbsent("a", "second", time.Second))

	clock.Advance(2 * time.Second)
	assert.True(t, s.PutIfAbsent("a", "third", time.Second))

	v, _ := s.Get("a")
	assert.Equal(t, "third", v)
}

func TestStore_UpsertKeepsExpiry(t *testing.T) {
	clock := newFakeClock()
	var evicted []int
	s := New(
		WithClock[int](clock.Now),
		WithEvictionCallback(func(_ string, v int, _ Reason) { evicted = append(evicted, v) }),
	)
	add := func(n int) func(int, bool) int {
		return func(old int, _ bool) int { return old + n }
	}

	assert.Equal(t, 1, s.Upsert("c", time.Minute, add(1)))
	clock.Advance(40 * time.Second)
	assert.Equal(t, 3, s.Upsert("c", time.Minute, add(2)))

	// The second call must not have restarted the window.
	clock.Advance(21 * time.Second)
	_, ok := s.Get("c")
	assert.False(t, ok)
	assert.Equal(t, []int{3}, evicted)

	assert.Equal(t, 5, s.Upsert("c", time.Minute, add(5)))
}

func TestStore_UpsertConcurrent(t *testing.T) {
	s := New[int]()
	const goroutines, perGoroutine = 16, 200

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				s.Upsert("n", time.Hour, func(old int, _ bool) int { return old + 1 })
			}
		}()
	}
	wg.Wait()

	v, _ := s.Get("n")
	assert.Equal(t, goroutines*perGoroutine, v)
}

func TestStore_RangeAndClear(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock[int](clock.Now))
	s.Put("a", 1, time.Second)
	s.Put("b", 2, time.Hour)
	clock.Advance(2 * time.Second)

	expired := map[string]bool{}
	s.Range(func(id string, _ int, exp bool) bool {
		expired[id] = exp
		return true
	})
	assert.Equal(t, map[string]bool{"a": true, "b": false}, expired)

	assert.Equal(t, 2, s.Clear())
	assert.Equal(t, 0, s.Len())
}

func TestStore_Concurrent(t *testing.T) {
	s := New[int]()
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 100 {
				id := fmt.Sprintf("%d-%d", g, i)
				s.Put(id, i, time.Minute)
				s.Get(id)
				if i%2 == 0 {
					s.Delete(id)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 8*50, s.Len())
}
