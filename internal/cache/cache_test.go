package cache

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

func TestGetSet(t *testing.T) {
	c := New[string, int](10)
	c.Set("a", 1)
	c.Set("a", 2)

	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v; want 2, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) reported a hit")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.HitRate() != 0.5 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, int](2)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Get(1) // 2 is now the oldest
	c.Set(3, 3)

	if _, ok := c.Get(2); ok {
		t.Error("entry 2 survived eviction")
	}
	for _, k := range []int{1, 3} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %d was evicted", k)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestGetOrLoad(t *testing.T) {
	c := New[string, string](0)
	calls := 0
	load := func() (string, error) {
		calls++
		return "v", nil
	}
	for range 3 {
		v, err := c.GetOrLoad("k", load)
		if err != nil || v != "v" {
			t.Fatalf("GetOrLoad = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("bad", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrLoad error = %v, want boom", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed load was cached")
	}
}

func TestGetOrLoadConcurrent(t *testing.T) {
	c := New[int, int](0)
	var mu sync.Mutex
	loads := map[int]int{}

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := i % 4
			_, _ = c.GetOrLoad(key, func() (int, error) {
				mu.Lock()
				loads[key]++
				mu.Unlock()
				return key, nil
			})
		}()
	}
	wg.Wait()
	for k, n := range loads {
		if n != 1 {
			t.Errorf("key %d loaded %d times", k, n)
		}
	}
}

func TestDeleteFunc(t *testing.T) {
	c := New[string, int](0)
	for i := range 5 {
		c.Set("k"+strconv.Itoa(i), i)
	}
	n := c.DeleteFunc(func(k string) bool { return k == "k1" || k == "k3" })
	if n != 2 || c.Len() != 3 {
		t.Errorf("DeleteFunc removed %d, Len = %d", n, c.Len())
	}
	if !c.Delete("k0") || c.Delete("k0") {
		t.Error("Delete did not report presence correctly")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}
