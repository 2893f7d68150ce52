package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestLRUCache_GetSetDelete(t *testing.T) {
	c := NewLRUCache[string](4, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("sponsor-1", "Ana Cruz")
	c.Set("sponsor-1", "Ana M. Cruz")
	if got, ok := c.Get("sponsor-1"); !ok || got != "Ana M. Cruz" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if c.Size() != 1 {
		t.Errorf("Size = %d, want 1", c.Size())
	}
	c.Delete("sponsor-1")
	if _, ok := c.Get("sponsor-1"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRUCache_TTL(t *testing.T) {
	clock := &fakeNow{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](10, time.Minute).WithClock(clock.now)

	c.Set("old", "x")
	clock.advance(45 * time.Second)
	c.Set("new", "y")
	clock.advance(30 * time.Second)

	if _, ok := c.Get("old"); ok {
		t.Error("old entry should have expired")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("new entry should be live")
	}

	clock.advance(time.Minute)
	m := NewManager()
	m.Register(c)
	if n := m.CleanNow(); n != 1 {
		t.Errorf("CleanNow removed %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size = %d after cleanup", c.Size())
	}
}

func TestLRUCache_GetOrLoad(t *testing.T) {
	clock := &fakeNow{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](4, time.Minute).WithClock(clock.now)
	loads := 0
	load := func() (string, error) {
		loads++
		return "Ana Cruz", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.GetOrLoad("sponsor-1", load)
		if err != nil || got != "Ana Cruz" {
			t.Fatalf("GetOrLoad = %q, %v", got, err)
		}
	}
	if loads != 1 {
		t.Errorf("loads = %d, want 1", loads)
	}

	clock.advance(2 * time.Minute)
	if _, err := c.GetOrLoad("sponsor-1", load); err != nil || loads != 2 {
		t.Errorf("expired entry not reloaded: loads = %d, err = %v", loads, err)
	}

	boom := errors.New("sponsor not found")
	if _, err := c.GetOrLoad("sponsor-2", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrLoad error = %v, want %v", err, boom)
	}
	if _, ok := c.Get("sponsor-2"); ok {
		t.Error("failed load was cached")
	}
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager()
	m.Register(NewLRUCache[string](1, time.Millisecond))
	m.StartCleanup(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager()
	m.Register(NewLRUCache[string](1, time.Minute))

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		m.StartCleanup(time.Millisecond)
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked without a running cleanup goroutine")
	}
}
