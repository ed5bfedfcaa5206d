// ABOUTME: Tests for the render cache covering hits, TTL expiry, pruning, uncached errors and concurrent access.
// ABOUTME: Uses a counting fake renderer and an injected clock.
package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRenderer struct {
	calls  atomic.Int64
	output []byte
	err    error
}

func (f *fakeRenderer) render(_ context.Context, _ string, _ string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func TestCacheHitAndKeying(t *testing.T) {
	fake := &fakeRenderer{output: []byte("<svg/>")}
	c := NewCache(fake.render, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		data, err := c.Render(ctx, "digraph a {}", "svg")
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "<svg/>" {
			t.Errorf("data = %q", data)
		}
	}
	if fake.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", fake.calls.Load())
	}

	if _, err := c.Render(ctx, "digraph a {}", "png"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Render(ctx, "digraph b {}", "svg"); err != nil {
		t.Fatal(err)
	}
	if fake.calls.Load() != 3 || c.Len() != 3 {
		t.Errorf("calls = %d, len = %d, want 3 and 3", fake.calls.Load(), c.Len())
	}
}

func TestCacheExpiryAndPruning(t *testing.T) {
	fake := &fakeRenderer{output: []byte("x")}
	c := NewCache(fake.render, time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	if _, err := c.Render(ctx, "digraph old {}", "svg"); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Minute)

	if _, err := c.Render(ctx, "digraph new {}", "svg"); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Errorf("expired entry not pruned: len = %d", c.Len())
	}

	if _, err := c.Render(ctx, "digraph old {}", "svg"); err != nil {
		t.Fatal(err)
	}
	if fake.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", fake.calls.Load())
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	fake := &fakeRenderer{err: errors.New("graphviz missing")}
	c := NewCache(fake.render, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := c.Render(context.Background(), "digraph a {}", "svg"); err == nil {
			t.Fatal("expected error")
		}
	}
	if fake.calls.Load() != 2 || c.Len() != 0 {
		t.Errorf("calls = %d, len = %d", fake.calls.Load(), c.Len())
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	fake := &fakeRenderer{output: []byte("x")}
	c := NewCache(fake.render, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dot := "digraph a {}"
			if i%2 == 0 {
				dot = "digraph b {}"
			}
			if _, err := c.Render(context.Background(), dot, "svg"); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
}

func TestNewCacheDefaultsToRender(t *testing.T) {
	c := NewCache(nil, time.Minute)
	data, err := c.Render(context.Background(), "digraph a {}", "dot")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "digraph a {}" {
		t.Errorf("data = %q", data)
	}
}
