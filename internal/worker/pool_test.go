package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestPool_BoundAndExactlyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 60).Draw(rt, "units")
		k := rapid.IntRange(1, 12).Draw(rt, "limit")

		p := NewPool("test", k)
		var current, maxSeen atomic.Int64

		units := make([]Unit[int], n)
		for i := range units {
			i := i
			units[i] = Unit[int]{
				Key: fmt.Sprint(i),
				Run: func(ctx context.Context) (int, error) {
					c := current.Add(1)
					for {
						m := maxSeen.Load()
						if c <= m || maxSeen.CompareAndSwap(m, c) {
							break
						}
					}
					time.Sleep(time.Duration(i%3) * 100 * time.Microsecond)
					current.Add(-1)
					return i * 2, nil
				},
			}
		}

		seen := make(map[string]int)
		for res := range Run(context.Background(), p, units) {
			if res.Err != nil {
				rt.Fatalf("unit %s failed: %v", res.Key, res.Err)
			}
			seen[res.Key]++
		}

		if len(seen) != n {
			rt.Fatalf("got %d distinct results, want %d", len(seen), n)
		}
		for key, count := range seen {
			if count != 1 {
				rt.Fatalf("unit %s produced %d results, want 1", key, count)
			}
		}
		if got := maxSeen.Load(); got > int64(k) {
			rt.Fatalf("observed %d concurrent units, limit %d", got, k)
		}
		if p.Peak() > k {
			rt.Fatalf("Peak() = %d, limit %d", p.Peak(), k)
		}
	})
}

func TestPool_FailureIsolation(t *testing.T) {
	p := NewPool("test", 3)

	units := []Unit[string]{
		{Key: "a", Run: func(context.Context) (string, error) { return "A", nil }},
		{Key: "bad", Run: func(context.Context) (string, error) { return "", errors.New("boom") }},
		{Key: "panic", Run: func(context.Context) (string, error) { panic("driver bug") }},
		{Key: "b", Run: func(context.Context) (string, error) { return "B", nil }},
	}

	got := make(map[string]Result[string])
	for _, res := range Collect(Run(context.Background(), p, units)) {
		got[res.Key] = res
	}

	if len(got) != 4 {
		t.Fatalf("got %d results, want 4", len(got))
	}
	if got["a"].Value != "A" || got["a"].Err != nil {
		t.Errorf("a = %+v, want A", got["a"])
	}
	if got["b"].Value != "B" || got["b"].Err != nil {
		t.Errorf("b = %+v, want B", got["b"])
	}
	if got["bad"].Err == nil {
		t.Error("bad unit should fail")
	}
	if !errors.Is(got["panic"].Err, ErrPanic) {
		t.Errorf("panic unit error = %v, want ErrPanic", got["panic"].Err)
	}
}

func TestPool_ContinuousRefill(t *testing.T) {
	// One slow unit must not hold back the others.
	p := NewPool("test", 2)
	release := make(chan struct{})

	units := []Unit[int]{{Key: "slow", Run: func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	}}}
	for i := 0; i < 5; i++ {
		units = append(units, Unit[int]{Key: fmt.Sprint(i), Run: func(context.Context) (int, error) { return 1, nil }})
	}

	results := Run(context.Background(), p, units)
	fast := 0
	for fast < 5 {
		select {
		case res := <-results:
			if res.Key == "slow" {
				t.Fatal("slow unit finished before release")
			}
			fast++
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d fast units finished while one slot was held", fast)
		}
	}
	close(release)
	for range results {
	}
}

func TestPool_CancelStopsIssuing(t *testing.T) {
	p := NewPool("test", 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int64
	var once sync.Once
	units := make([]Unit[int], 20)
	for i := range units {
		units[i] = Unit[int]{Key: fmt.Sprint(i), Run: func(context.Context) (int, error) {
			if started.Add(1) == 3 {
				once.Do(cancel)
			}
			return 0, nil
		}}
	}

	n := len(Collect(Run(ctx, p, units)))
	if n >= 20 {
		t.Errorf("got %d results after cancel, want fewer than 20", n)
	}
	if int64(n) != started.Load() {
		t.Errorf("results = %d, started = %d; every started unit must report", n, started.Load())
	}
}

func TestNewPool_MinimumLimit(t *testing.T) {
	if got := NewPool("x", 0).Limit(); got != 1 {
		t.Errorf("Limit() = %d, want 1", got)
	}
}
