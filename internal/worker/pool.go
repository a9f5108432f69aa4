package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/martinsuchenak/asicfleet/internal/log"
)

// ErrPanic wraps a panic recovered from a unit.
var ErrPanic = errors.New("unit panicked")

// Unit is one independent piece of work, usually one device call.
type Unit[T any] struct {
	Key string
	Run func(ctx context.Context) (T, error)
}

// Result is the outcome of a unit. Err is set when the unit failed; it never
// affects any other unit.
type Result[T any] struct {
	Key   string
	Value T
	Err   error
}

// Pool bounds the number of units in flight. A new unit starts as soon as a
// slot frees, so slow devices never hold back a whole batch.
type Pool struct {
	name  string
	limit int
	sem   *semaphore.Weighted

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewPool creates a pool that allows at most limit concurrent units.
func NewPool(name string, limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		name:  name,
		limit: limit,
		sem:   semaphore.NewWeighted(int64(limit)),
	}
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Limit() int   { return p.limit }

// Peak returns the highest number of concurrently running units observed.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Run executes units and streams their results in completion order. The
// channel closes once every started unit has finished. When ctx is cancelled
// no further units start and the skipped units produce no result. The caller
// must drain the channel.
func Run[T any](ctx context.Context, p *Pool, units []Unit[T]) <-chan Result[T] {
	in := make(chan Unit[T])
	go func() {
		defer close(in)
		for _, u := range units {
			select {
			case in <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return Stream(ctx, p, in)
}

// Stream is Run over units that arrive over time. It stops reading in when
// ctx is cancelled and discards whatever the producer still sends.
func Stream[T any](ctx context.Context, p *Pool, in <-chan Unit[T]) <-chan Result[T] {
	out := make(chan Result[T])

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()

		started := 0
		for u := range in {
			if ctx.Err() != nil {
				go drain(in)
				break
			}
			if err := p.sem.Acquire(ctx, 1); err != nil {
				go drain(in)
				break
			}
			started++
			wg.Add(1)
			go func(u Unit[T]) {
				defer wg.Done()
				// The slot is held until the caller takes the result.
				out <- execute(ctx, p, u)
				p.sem.Release(1)
			}(u)
		}
		log.Debug("Worker pool input closed", "pool", p.name, "started", started, "limit", p.limit)
	}()

	return out
}

// Collect drains results into a slice.
func Collect[T any](results <-chan Result[T]) []Result[T] {
	var all []Result[T]
	for r := range results {
		all = append(all, r)
	}
	return all
}

func execute[T any](ctx context.Context, p *Pool, u Unit[T]) (res Result[T]) {
	res.Key = u.Key

	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker unit panicked", "pool", p.name, "key", u.Key, "panic", r)
			res.Err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	res.Value, res.Err = u.Run(ctx)
	return res
}

func drain[T any](in <-chan T) {
	for range in {
	}
}
